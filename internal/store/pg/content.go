package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"astroclub.org/internal/gallery"
)

// contentRow mirrors the content table; tags are stored as a jsonb array.
type contentRow struct {
	ID          string          `db:"id"`
	Title       string          `db:"title"`
	Description string          `db:"description"`
	ImageURL    string          `db:"image_url"`
	ObjectKey   string          `db:"object_key"`
	Section     gallery.Section `db:"section"`
	Tags        []byte          `db:"tags"`
	AuthorID    string          `db:"author_id"`
	CreatedAt   time.Time       `db:"created_at"`
}

func (r contentRow) item() (gallery.Item, error) {
	it := gallery.Item{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		ImageURL:    r.ImageURL,
		ObjectKey:   r.ObjectKey,
		Section:     r.Section,
		AuthorID:    r.AuthorID,
		CreatedAt:   r.CreatedAt,
		Tags:        []string{},
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &it.Tags); err != nil {
			return gallery.Item{}, fmt.Errorf("decode tags of %s: %w", r.ID, err)
		}
	}
	return it, nil
}

const contentColumns = `id, title, description, image_url, object_key, section, tags::text as tags, author_id, created_at`

func (s *Store) ListContent(ctx context.Context, section gallery.Section) ([]gallery.Item, error) {
	var rows []contentRow
	err := s.db.SelectContext(ctx, &rows, `
		select `+contentColumns+` from content
		where section = $1
		order by created_at desc`, section)
	if err != nil {
		return nil, fail(err, gallery.ErrNotFound)
	}
	out := make([]gallery.Item, 0, len(rows))
	for _, r := range rows {
		it, err := r.item()
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (s *Store) GetContent(ctx context.Context, id string) (gallery.Item, error) {
	var r contentRow
	if err := s.db.GetContext(ctx, &r, `select `+contentColumns+` from content where id = $1`, id); err != nil {
		return gallery.Item{}, fail(err, fmt.Errorf("%w: content %s", gallery.ErrNotFound, id))
	}
	return r.item()
}

func (s *Store) CreateContent(ctx context.Context, it gallery.Item) (gallery.Item, error) {
	tags := it.Tags
	if tags == nil {
		tags = []string{}
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return gallery.Item{}, err
	}
	var r contentRow
	err = s.db.GetContext(ctx, &r, `
		insert into content (id, title, description, image_url, object_key, section, tags, author_id, created_at)
		values ($1, $2, $3, $4, $5, $6, $7::jsonb, $8, $9)
		returning `+contentColumns,
		it.ID, it.Title, it.Description, it.ImageURL, it.ObjectKey, it.Section, string(raw), it.AuthorID, it.CreatedAt)
	if err != nil {
		return gallery.Item{}, fail(err, gallery.ErrNotFound)
	}
	return r.item()
}

func (s *Store) DeleteContent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from content where id = $1`, id)
	if err != nil {
		return fail(err, gallery.ErrNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: content %s", gallery.ErrNotFound, id)
	}
	return nil
}

package gallery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"astroclub.org/internal/audit"
	"astroclub.org/internal/club"
	"astroclub.org/internal/ids"
	"astroclub.org/internal/obs"
	"astroclub.org/internal/storage"
)

// Service stores uploads in a bucket and their rows in a Store.
type Service struct {
	store  Store
	bucket storage.Bucket
	now    func() time.Time
	notify func(collection, action, rowID string)
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithChangeNotifier registers the callback invoked after each write.
func WithChangeNotifier(fn func(collection, action, rowID string)) Option {
	return func(s *Service) { s.notify = fn }
}

// NewService constructs the gallery service.
func NewService(store Store, bucket storage.Bucket, opts ...Option) *Service {
	s := &Service{store: store, bucket: bucket, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the items of a section, newest first. The studio is visible to
// astro-privileged members only.
func (s *Service) List(ctx context.Context, actor club.Standing, section Section, legendaryOnly bool) ([]Item, error) {
	if section == SectionAstroStudio && !actor.IsAstroPrivileged {
		obs.RecordDenial("studio")
		return nil, fmt.Errorf("%w: astro studio is restricted", ErrAccessDenied)
	}
	items, err := s.store.ListContent(ctx, section)
	if err != nil {
		return nil, err
	}
	out := items[:0]
	for _, it := range items {
		if legendaryOnly && !it.HasTag(TagLegendary) {
			continue
		}
		out = append(out, it)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Upload stores the blob and inserts its row. The blob is removed again when
// the row cannot be written.
func (s *Service) Upload(ctx context.Context, actor club.Standing, up Upload) (Item, error) {
	if !actor.IsAstroPrivileged {
		obs.RecordDenial("studio")
		return Item{}, fmt.Errorf("%w: uploading requires astro privileges", ErrAccessDenied)
	}
	up.Title = strings.TrimSpace(up.Title)
	up.Description = strings.TrimSpace(up.Description)
	if up.Title == "" {
		return Item{}, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if len(up.Data) == 0 {
		return Item{}, fmt.Errorf("%w: empty file", ErrInvalidInput)
	}
	if len(up.Data) > MaxUploadBytes {
		return Item{}, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidInput, MaxUploadBytes)
	}
	if !strings.HasPrefix(up.ContentType, "image/") {
		return Item{}, fmt.Errorf("%w: only images are accepted", ErrInvalidInput)
	}
	if up.Section == "" {
		up.Section = SectionAstrophotography
	}
	if _, err := ParseSection(string(up.Section)); err != nil {
		return Item{}, fmt.Errorf("%w: section %q", ErrInvalidInput, up.Section)
	}

	key := ids.ObjectKey(up.Filename)
	if err := s.bucket.Upload(ctx, key, up.ContentType, up.Data); err != nil {
		return Item{}, fmt.Errorf("upload object: %w", err)
	}
	tags := []string{}
	if up.Legendary {
		tags = append(tags, TagLegendary)
	}
	it, err := s.store.CreateContent(ctx, Item{
		ID:          ids.New(),
		Title:       up.Title,
		Description: up.Description,
		ImageURL:    s.bucket.PublicURL(key),
		ObjectKey:   key,
		Section:     up.Section,
		Tags:        tags,
		AuthorID:    actor.UserID,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		if rmErr := s.bucket.Remove(ctx, key); rmErr != nil {
			obs.Warn("gallery_orphan_object", map[string]any{"key": key, "error": rmErr.Error()})
		}
		return Item{}, err
	}
	s.changed("insert", it.ID)
	_ = audit.LogEvent(ctx, "gallery.uploaded", map[string]any{"item_id": it.ID, "section": string(it.Section)})
	return it, nil
}

// Delete removes the row and its object.
func (s *Service) Delete(ctx context.Context, actor club.Standing, id string, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if !actor.IsAstroPrivileged {
		obs.RecordDenial("studio")
		return fmt.Errorf("%w: deleting requires astro privileges", ErrAccessDenied)
	}
	it, err := s.store.GetContent(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteContent(ctx, id); err != nil {
		return err
	}
	if it.ObjectKey != "" {
		if err := s.bucket.Remove(ctx, it.ObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			obs.Warn("gallery_object_removal_failed", map[string]any{"key": it.ObjectKey, "error": err.Error()})
		}
	}
	s.changed("delete", id)
	_ = audit.LogEvent(ctx, "gallery.deleted", map[string]any{"item_id": id})
	return nil
}

func (s *Service) changed(action, id string) {
	if s.notify != nil {
		s.notify(Collection, action, id)
	}
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"astroclub.org/internal/club"
	"astroclub.org/internal/store"
)

const profileColumns = `id, email, full_name, avatar_url, rank, sub_rank, department, role_title, bio, created_at, updated_at`

func (s *Store) GetProfile(ctx context.Context, id string) (club.Profile, error) {
	var p club.Profile
	err := s.db.GetContext(ctx, &p, `select `+profileColumns+` from profiles where id = $1`, id)
	if err != nil {
		return club.Profile{}, fail(err, fmt.Errorf("%w: profile %s", club.ErrNotFound, id))
	}
	return p, nil
}

func (s *Store) FindProfileByEmail(ctx context.Context, email string) (club.Profile, error) {
	var p club.Profile
	err := s.db.GetContext(ctx, &p, `select `+profileColumns+` from profiles where lower(email) = lower($1)`, strings.TrimSpace(email))
	if err != nil {
		return club.Profile{}, fail(err, fmt.Errorf("%w: profile %s", club.ErrNotFound, email))
	}
	return p, nil
}

func (s *Store) ListProfiles(ctx context.Context) ([]club.Profile, error) {
	var out []club.Profile
	if err := s.db.SelectContext(ctx, &out, `select `+profileColumns+` from profiles order by created_at, id`); err != nil {
		return nil, fail(err, club.ErrNotFound)
	}
	return out, nil
}

// EnsureProfile is an upsert-if-absent: an existing row is returned untouched.
func (s *Store) EnsureProfile(ctx context.Context, p club.Profile) (club.Profile, bool, error) {
	var out club.Profile
	err := s.db.GetContext(ctx, &out, `
		insert into profiles (id, email, full_name, avatar_url, rank, sub_rank, department, role_title, bio)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		on conflict (id) do nothing
		returning `+profileColumns,
		p.ID, p.Email, p.FullName, p.AvatarURL, p.Rank, p.SubRank, p.Department, p.RoleTitle, p.Bio)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return club.Profile{}, false, store.Classify(err)
	}
	existing, err := s.GetProfile(ctx, p.ID)
	if err != nil {
		return club.Profile{}, false, err
	}
	return existing, false, nil
}

func (s *Store) SaveProfile(ctx context.Context, p club.Profile) (club.Profile, error) {
	return saveProfile(ctx, s.db, p)
}

func saveProfile(ctx context.Context, q sqlx.QueryerContext, p club.Profile) (club.Profile, error) {
	var out club.Profile
	err := sqlx.GetContext(ctx, q, &out, `
		update profiles
		set email = $2, full_name = $3, avatar_url = $4, rank = $5, sub_rank = $6,
		    department = $7, role_title = $8, bio = $9, updated_at = now()
		where id = $1
		returning `+profileColumns,
		p.ID, p.Email, p.FullName, p.AvatarURL, p.Rank, p.SubRank, p.Department, p.RoleTitle, p.Bio)
	if err != nil {
		return club.Profile{}, fail(err, fmt.Errorf("%w: profile %s", club.ErrNotFound, p.ID))
	}
	return out, nil
}

func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from profiles where id = $1`, id)
	if err != nil {
		return fail(err, club.ErrNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: profile %s", club.ErrNotFound, id)
	}
	return nil
}

func (s *Store) CountRank(ctx context.Context, rank club.Rank) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `select count(*) from profiles where rank = $1`, rank); err != nil {
		return 0, fail(err, club.ErrNotFound)
	}
	return n, nil
}

const requestColumns = `id, requester_id, type, status, department, role_title, approved_by, created_at, decided_at`

func (s *Store) CreateRequest(ctx context.Context, r club.AdminRequest) (club.AdminRequest, error) {
	var out club.AdminRequest
	err := s.db.GetContext(ctx, &out, `
		insert into admin_requests (id, requester_id, type, status, department, role_title)
		values ($1, $2, $3, $4, $5, $6)
		returning `+requestColumns,
		r.ID, r.RequesterID, r.Type, r.Status, r.Department, r.RoleTitle)
	if err != nil {
		return club.AdminRequest{}, fail(err, club.ErrNotFound)
	}
	return out, nil
}

func (s *Store) GetRequest(ctx context.Context, id string) (club.AdminRequest, error) {
	var r club.AdminRequest
	err := s.db.GetContext(ctx, &r, `select `+requestColumns+` from admin_requests where id = $1`, id)
	if err != nil {
		return club.AdminRequest{}, fail(err, fmt.Errorf("%w: request %s", club.ErrNotFound, id))
	}
	return r, nil
}

func (s *Store) ListRequests(ctx context.Context, f club.RequestFilter) ([]club.AdminRequest, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.Department != "" {
		add("lower(department) = lower($%d)", f.Department)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	query := `select ` + requestColumns + ` from admin_requests`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by created_at desc, id desc`

	var out []club.AdminRequest
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fail(err, club.ErrNotFound)
	}
	return out, nil
}

// ApplyDecision writes the request status, the profile change and the
// notification in one transaction. The status update only matches a Pending
// row, so a concurrent decision loses with ErrConflict.
func (s *Store) ApplyDecision(ctx context.Context, d club.Decision) (res club.DecisionResult, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return club.DecisionResult{}, store.Classify(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &res.Request, `
		update admin_requests
		set status = $2, approved_by = $3, decided_at = $4
		where id = $1 and status = 'Pending'
		returning `+requestColumns,
		d.RequestID, d.Status, d.ApprovedBy, d.At.UTC())
	if errors.Is(err, sql.ErrNoRows) {
		var current club.RequestStatus
		if lookupErr := tx.GetContext(ctx, &current, `select status from admin_requests where id = $1`, d.RequestID); lookupErr != nil {
			err = fail(lookupErr, fmt.Errorf("%w: request %s", club.ErrNotFound, d.RequestID))
			return club.DecisionResult{}, err
		}
		err = fmt.Errorf("%w: request %s is %s", club.ErrConflict, d.RequestID, current)
		return club.DecisionResult{}, err
	}
	if err != nil {
		err = store.Classify(err)
		return club.DecisionResult{}, err
	}

	if d.Profile != nil {
		saved, saveErr := saveProfile(ctx, tx, *d.Profile)
		if saveErr != nil {
			err = saveErr
			return club.DecisionResult{}, err
		}
		res.Profile = &saved
	}

	res.Notification, err = createNotification(ctx, tx, d.Notification)
	if err != nil {
		return club.DecisionResult{}, err
	}
	if err = tx.Commit(); err != nil {
		err = store.Classify(err)
		return club.DecisionResult{}, err
	}
	return res, nil
}

const notificationColumns = `id, user_id, message, is_read, created_at`

func (s *Store) CreateNotification(ctx context.Context, n club.Notification) (club.Notification, error) {
	return createNotification(ctx, s.db, n)
}

func createNotification(ctx context.Context, q sqlx.QueryerContext, n club.Notification) (club.Notification, error) {
	var out club.Notification
	err := sqlx.GetContext(ctx, q, &out, `
		insert into notifications (id, user_id, message, is_read)
		values ($1, $2, $3, $4)
		returning `+notificationColumns,
		n.ID, n.UserID, n.Message, n.IsRead)
	if err != nil {
		return club.Notification{}, fail(err, club.ErrNotFound)
	}
	return out, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]club.Notification, error) {
	var out []club.Notification
	err := s.db.SelectContext(ctx, &out, `
		select `+notificationColumns+` from notifications
		where user_id = $1
		order by created_at desc, id desc`, userID)
	if err != nil {
		return nil, fail(err, club.ErrNotFound)
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `update notifications set is_read = true where id = $1 and user_id = $2`, id, userID)
	if err != nil {
		return fail(err, club.ErrNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: notification %s", club.ErrNotFound, id)
	}
	return nil
}

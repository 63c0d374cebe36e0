package pg

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astroclub.org/internal/club"
	"astroclub.org/internal/events"
	"astroclub.org/internal/gallery"
	"astroclub.org/internal/store"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return New(sqlx.NewDb(db, "pgx")), mock
}

var (
	profileCols = []string{"id", "email", "full_name", "avatar_url", "rank", "sub_rank", "department", "role_title", "bio", "created_at", "updated_at"}
	requestCols = []string{"id", "requester_id", "type", "status", "department", "role_title", "approved_by", "created_at", "decided_at"}
	eventCols   = []string{"id", "title", "description", "registration_link", "rewards", "requirements", "status", "registration_open", "created_by", "created_at", "updated_at"}
	contentCols = []string{"id", "title", "description", "image_url", "object_key", "section", "tags", "author_id", "created_at"}
	ts          = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
)

func TestGetProfile(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`select ` + profileColumns + ` from profiles where id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("u1", "u1@club.test", "Uno", "", "elite", "", "Tech", "Head", "", ts, ts))

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, club.RankElite, p.Rank)
	assert.Equal(t, "Tech", p.Department)

	mock.ExpectQuery(regexp.QuoteMeta(`from profiles where id = $1`)).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)
	_, err = s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, club.ErrNotFound)
}

func TestMissingTableIsBootstrapFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`from profiles order by created_at, id`)).
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: `relation "profiles" does not exist`})

	_, err := s.ListProfiles(context.Background())
	assert.ErrorIs(t, err, store.ErrBootstrap)
}

func TestEnsureProfile(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()
	p := club.Profile{ID: "u1", Email: "u1@club.test", Rank: club.RankCommon}

	mock.ExpectQuery(regexp.QuoteMeta(`insert into profiles`)).
		WithArgs("u1", "u1@club.test", "", "", "common", "", "", "", "").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("u1", "u1@club.test", "", "", "common", "", "", "", "", ts, ts))
	got, created, err := s.EnsureProfile(ctx, p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ts, got.CreatedAt)

	// on conflict do nothing returns no row; the stored profile wins.
	mock.ExpectQuery(regexp.QuoteMeta(`insert into profiles`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`from profiles where id = $1`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("u1", "u1@club.test", "", "", "rare", "", "Tech", "Member", "", ts, ts))
	got, created, err = s.EnsureProfile(ctx, p)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, club.RankRare, got.Rank)

	mock.ExpectQuery(regexp.QuoteMeta(`insert into profiles`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "profiles_email_key"})
	_, _, err = s.EnsureProfile(ctx, p)
	assert.ErrorIs(t, err, store.ErrConstraint)
}

var notificationCols = []string{"id", "user_id", "message", "is_read", "created_at"}

func approval(withProfile bool) club.Decision {
	d := club.Decision{
		RequestID:    "r1",
		Status:       club.StatusApproved,
		ApprovedBy:   "head",
		At:           ts,
		Notification: club.Notification{ID: "n1", UserID: "x", Message: "approved"},
	}
	if withProfile {
		d.Profile = &club.Profile{ID: "x", Email: "x@club.test", Rank: club.RankRare, Department: "Tech", RoleTitle: "Member"}
	}
	return d
}

func TestApplyDecisionCommitsAllWrites(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`where id = $1 and status = 'Pending'`)).
		WithArgs("r1", "Approved", "head", ts).
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r1", "x", "RoleVerification", "Approved", "Tech", "Member", "head", ts, ts))
	mock.ExpectQuery(regexp.QuoteMeta(`update profiles`)).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("x", "x@club.test", "", "", "rare", "", "Tech", "Member", "", ts, ts))
	mock.ExpectQuery(regexp.QuoteMeta(`insert into notifications`)).
		WithArgs("n1", "x", "approved", false).
		WillReturnRows(sqlmock.NewRows(notificationCols).AddRow("n1", "x", "approved", false, ts))
	mock.ExpectCommit()

	res, err := s.ApplyDecision(context.Background(), approval(true))
	require.NoError(t, err)
	assert.Equal(t, club.StatusApproved, res.Request.Status)
	require.NotNil(t, res.Profile)
	assert.Equal(t, club.RankRare, res.Profile.Rank)
	assert.Equal(t, "n1", res.Notification.ID)
}

func TestApplyDecisionRollsBackOnFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`where id = $1 and status = 'Pending'`)).
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r1", "x", "RoleVerification", "Approved", "Tech", "Member", "head", ts, ts))
	mock.ExpectQuery(regexp.QuoteMeta(`update profiles`)).
		WillReturnRows(sqlmock.NewRows(profileCols).
			AddRow("x", "x@club.test", "", "", "rare", "", "Tech", "Member", "", ts, ts))
	mock.ExpectQuery(regexp.QuoteMeta(`insert into notifications`)).
		WillReturnError(&pgconn.PgError{Code: "08006", Message: "connection failure"})
	mock.ExpectRollback()

	_, err := s.ApplyDecision(context.Background(), approval(true))
	require.Error(t, err)
}

func TestApplyDecisionOnlyFromPending(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`where id = $1 and status = 'Pending'`)).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta(`select status from admin_requests where id = $1`)).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("Rejected"))
	mock.ExpectRollback()

	_, err := s.ApplyDecision(context.Background(), approval(false))
	assert.ErrorIs(t, err, club.ErrConflict)
}

func TestListRequestsBuildsFilter(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`from admin_requests where lower(department) = lower($1) and status = $2 order by created_at desc, id desc`)).
		WithArgs("Tech", "Pending").
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r1", "x", "JobApplication", "Pending", "Tech", "Member", "", ts, nil))

	list, err := s.ListRequests(context.Background(), club.RequestFilter{Department: "Tech", Status: club.StatusPending})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].DecidedAt)
}

func TestMarkNotificationReadScopedToOwner(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`update notifications set is_read = true where id = $1 and user_id = $2`)).
		WithArgs("n1", "someone-else").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.MarkNotificationRead(context.Background(), "someone-else", "n1")
	assert.ErrorIs(t, err, club.ErrNotFound)
}

func TestCreateEventActiveRace(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`insert into events`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: singleActiveIndex})
	_, err := s.CreateEvent(context.Background(), events.Event{ID: "e1", Title: "x", Status: events.StatusActive, CreatedAt: ts, UpdatedAt: ts})
	assert.ErrorIs(t, err, events.ErrActiveConflict)
	assert.ErrorIs(t, err, store.ErrConstraint)
}

func TestActiveEventNone(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`where status = 'active' limit 1`)).
		WillReturnRows(sqlmock.NewRows(eventCols))
	_, err := s.ActiveEvent(context.Background())
	assert.ErrorIs(t, err, events.ErrNotFound)
}

func TestContentTagsRoundTrip(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`insert into content`)).
		WithArgs("c1", "M42", "", "https://cdn/x.png", "x.png", "astrophotography", `["legendary"]`, "a1", ts).
		WillReturnRows(sqlmock.NewRows(contentCols).
			AddRow("c1", "M42", "", "https://cdn/x.png", "x.png", "astrophotography", `["legendary"]`, "a1", ts))
	it, err := s.CreateContent(ctx, gallery.Item{
		ID: "c1", Title: "M42", ImageURL: "https://cdn/x.png", ObjectKey: "x.png",
		Section: gallery.SectionAstrophotography, Tags: []string{"legendary"}, AuthorID: "a1", CreatedAt: ts,
	})
	require.NoError(t, err)
	assert.True(t, it.HasTag(gallery.TagLegendary))

	mock.ExpectQuery(regexp.QuoteMeta(`where section = $1`)).
		WithArgs("astro_studio").
		WillReturnRows(sqlmock.NewRows(contentCols).
			AddRow("c2", "Lab", "", "u", "k", "astro_studio", `[]`, "a1", ts))
	list, err := s.ListContent(ctx, gallery.SectionAstroStudio)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Tags)

	mock.ExpectExec(regexp.QuoteMeta(`delete from content where id = $1`)).
		WithArgs("gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, s.DeleteContent(ctx, "gone"), gallery.ErrNotFound)
}

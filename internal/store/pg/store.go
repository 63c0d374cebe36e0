// Package pg implements the club, events and gallery stores on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"astroclub.org/internal/club"
	"astroclub.org/internal/events"
	"astroclub.org/internal/gallery"
	"astroclub.org/internal/store"
)

// Store is the PostgreSQL store.
type Store struct {
	db *sqlx.DB
}

var (
	_ club.Store    = (*Store)(nil)
	_ events.Store  = (*Store)(nil)
	_ gallery.Store = (*Store)(nil)
)

// Open connects to dsn through the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sqlx.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db.DB }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// fail classifies err, mapping missing rows to notFound.
func fail(err, notFound error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	return store.Classify(err)
}

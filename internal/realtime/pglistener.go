package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"astroclub.org/internal/obs"
)

// Channel is the PostgreSQL notification channel written by the change trigger.
const Channel = "club_changes"

// NotificationConn is the subset of *pgx.Conn the listener needs.
type NotificationConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Close(ctx context.Context) error
}

// Dialer opens a dedicated listening connection.
type Dialer func(ctx context.Context) (NotificationConn, error)

// DialPG returns a Dialer for dsn.
func DialPG(dsn string) Dialer {
	return func(ctx context.Context) (NotificationConn, error) {
		return pgx.Connect(ctx, dsn)
	}
}

// triggerPayload is the JSON body emitted by the club_notify_change trigger.
type triggerPayload struct {
	Table  string    `json:"table"`
	Action string    `json:"action"`
	RowID  string    `json:"row_id"`
	At     time.Time `json:"at"`
}

// PGListener relays LISTEN club_changes notifications into a Feed. Every
// instance listens itself, so the changes are delivered locally and never
// relayed.
type PGListener struct {
	dial       Dialer
	feed       *Feed
	minBackoff time.Duration
	maxBackoff time.Duration
	after      func(time.Duration) <-chan time.Time
}

// NewPGListener creates a listener.
func NewPGListener(dial Dialer, feed *Feed) *PGListener {
	return &PGListener{dial: dial, feed: feed, minBackoff: time.Second, maxBackoff: 30 * time.Second, after: time.After}
}

// Run listens until ctx ends, reconnecting with backoff on failure. The
// backoff starts over after every connection that got as far as LISTEN.
func (l *PGListener) Run(ctx context.Context) error {
	backoff := l.minBackoff
	for {
		listened, err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if listened {
			backoff = l.minBackoff
		}
		obs.Warn("pg_listener_disconnected", map[string]any{"error": errString(err), "retry_in": backoff.String()})
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.after(backoff):
		}
		backoff *= 2
		if backoff > l.maxBackoff {
			backoff = l.maxBackoff
		}
	}
}

// listen reports whether LISTEN succeeded before the connection failed.
func (l *PGListener) listen(ctx context.Context) (bool, error) {
	conn, err := l.dial(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return false, err
	}
	obs.Info("pg_listener_ready", map[string]any{"channel": Channel})
	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return true, err
		}
		if n == nil || n.Channel != Channel {
			continue
		}
		var p triggerPayload
		if err := json.Unmarshal([]byte(n.Payload), &p); err != nil || p.Table == "" {
			obs.Warn("pg_listener_bad_payload", map[string]any{"payload": n.Payload})
			continue
		}
		l.feed.Deliver(Change{Collection: p.Table, Action: p.Action, RowID: p.RowID, At: p.At, Origin: "pg"})
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return err.Error()
}

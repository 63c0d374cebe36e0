// Package kv holds short-lived string values keyed by name: browser session
// markers and revoked token ids.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get for missing or expired keys.
var ErrNotFound = errors.New("kv: not found")

// Store is a string key/value store with per-key expiry. A zero ttl means the
// value never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

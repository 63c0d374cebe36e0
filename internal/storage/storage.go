// Package storage holds the object storage buckets used for uploads.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Bucket stores uploaded blobs and resolves their public URLs.
type Bucket interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	PublicURL(key string) string
	Remove(ctx context.Context, key string) error
}

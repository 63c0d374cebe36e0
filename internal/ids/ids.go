package ids

import (
	mathrand "math/rand"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// New returns a lexicographically sortable identifier used for row keys.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ObjectKey returns a unique storage key for an uploaded file. The extension of
// the original file name is preserved (lower-cased) so public URLs keep a
// usable suffix.
func ObjectKey(filename string) string {
	key := strings.ToLower(New())
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(strings.TrimSpace(filename)), "."))
	if ext == "" {
		return key
	}
	return key + "." + ext
}

// Session returns a random browser session identifier.
func Session() string {
	return uuid.NewString()
}

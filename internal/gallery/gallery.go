// Package gallery serves the astrophotography wall and the privileged
// astro studio uploads.
package gallery

import (
	"context"
	"errors"
	"time"

	"astroclub.org/internal/club"
)

// Collection is the change feed name of the content table.
const Collection = "content"

// TagLegendary marks featured photographs.
const TagLegendary = "legendary"

// MaxUploadBytes bounds a single upload.
const MaxUploadBytes = 10 << 20

var (
	ErrNotFound             = errors.New("gallery: not found")
	ErrInvalidInput         = errors.New("gallery: invalid input")
	ErrAccessDenied         = club.ErrAccessDenied
	ErrConfirmationRequired = club.ErrConfirmationRequired
)

// Section is the wall a content item belongs to.
type Section string

const (
	SectionAstrophotography Section = "astrophotography"
	SectionAstroStudio      Section = "astro_studio"
)

// ParseSection returns the section for s.
func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case SectionAstrophotography, SectionAstroStudio:
		return Section(s), nil
	case "":
		return SectionAstrophotography, nil
	}
	return "", ErrInvalidInput
}

// Item is one uploaded photograph.
type Item struct {
	ID          string    `json:"id" db:"id"`
	Title       string    `json:"title" db:"title"`
	Description string    `json:"description" db:"description"`
	ImageURL    string    `json:"image_url" db:"image_url"`
	ObjectKey   string    `json:"-" db:"object_key"`
	Section     Section   `json:"section" db:"section"`
	Tags        []string  `json:"tags" db:"-"`
	AuthorID    string    `json:"author_id" db:"author_id"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// HasTag reports whether the item carries tag.
func (it Item) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Upload is a new photograph.
type Upload struct {
	Title       string
	Description string
	Section     Section
	Legendary   bool
	Filename    string
	ContentType string
	Data        []byte
}

// Store persists content rows.
type Store interface {
	ListContent(ctx context.Context, section Section) ([]Item, error)
	GetContent(ctx context.Context, id string) (Item, error)
	CreateContent(ctx context.Context, it Item) (Item, error)
	DeleteContent(ctx context.Context, id string) error
}

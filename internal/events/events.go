// Package events manages club events. At most one event is active at a time;
// the active event is shown in the welcome popup.
package events

import (
	"context"
	"errors"
	"time"

	"astroclub.org/internal/club"
)

// Collection is the change feed name of the events table.
const Collection = "events"

var (
	ErrNotFound       = errors.New("events: not found")
	ErrInvalidInput   = errors.New("events: invalid input")
	ErrActiveConflict = errors.New("events: another event is active")
	// Permission and confirmation failures share the club sentinels so
	// callers map them uniformly.
	ErrAccessDenied         = club.ErrAccessDenied
	ErrConfirmationRequired = club.ErrConfirmationRequired
)

// Status is the lifecycle state of an event.
type Status string

const (
	StatusActive   Status = "active"
	StatusUpcoming Status = "upcoming"
	StatusClosed   Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusUpcoming || s == StatusClosed
}

func (s Status) order() int {
	switch s {
	case StatusActive:
		return 0
	case StatusUpcoming:
		return 1
	}
	return 2
}

// Event is one club event.
type Event struct {
	ID               string    `json:"id" db:"id"`
	Title            string    `json:"title" db:"title"`
	Description      string    `json:"description" db:"description"`
	RegistrationLink string    `json:"registration_link,omitempty" db:"registration_link"`
	Rewards          string    `json:"rewards,omitempty" db:"rewards"`
	Requirements     string    `json:"requirements,omitempty" db:"requirements"`
	Status           Status    `json:"status" db:"status"`
	RegistrationOpen bool      `json:"registration_open" db:"registration_open"`
	CreatedBy        string    `json:"created_by" db:"created_by"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time `json:"updated_at" db:"updated_at"`
}

// Draft is the editable part of an event.
type Draft struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	RegistrationLink string `json:"registration_link"`
	Rewards          string `json:"rewards"`
	Requirements     string `json:"requirements"`
	Status           Status `json:"status"`
	RegistrationOpen bool   `json:"registration_open"`
	// ReplaceActive demotes the current active event to upcoming instead of
	// failing with ErrActiveConflict.
	ReplaceActive bool `json:"replace_active"`
}

// Store persists events.
type Store interface {
	ListEvents(ctx context.Context) ([]Event, error)
	GetEvent(ctx context.Context, id string) (Event, error)
	ActiveEvent(ctx context.Context) (Event, error)
	CreateEvent(ctx context.Context, e Event) (Event, error)
	UpdateEvent(ctx context.Context, e Event) (Event, error)
	DeleteEvent(ctx context.Context, id string) error
}

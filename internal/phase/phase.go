// Package phase drives the per-browser-session cinematic state machine:
// idle, falling, blackout, welcome, dashboard.
package phase

import (
	"errors"
	"time"

	"astroclub.org/internal/auth"
)

// Phase is the current stage of the entry cinematic.
type Phase string

const (
	Idle      Phase = "idle"
	Falling   Phase = "falling"
	Blackout  Phase = "blackout"
	Welcome   Phase = "welcome"
	Dashboard Phase = "dashboard"
)

// DefaultSection is shown when the dashboard opens without a stored section.
const DefaultSection = "profile"

var (
	ErrInvalidTransition = errors.New("phase: invalid transition")
	ErrSkipNotAllowed    = errors.New("phase: skip not allowed")
	ErrNotAuthenticated  = errors.New("phase: not authenticated")
	ErrClosed            = errors.New("phase: controller closed")
	ErrUnknownSession    = errors.New("phase: unknown session")
)

// Config holds the timings of the cinematic and of auth resolution.
type Config struct {
	FallDuration       time.Duration
	BlackoutDuration   time.Duration
	AuthResolveTimeout time.Duration
	CredentialGrace    time.Duration
	MarkerTTL          time.Duration
}

// DefaultConfig matches the renderer's animation lengths.
func DefaultConfig() Config {
	return Config{
		FallDuration:       30 * time.Second,
		BlackoutDuration:   2 * time.Second,
		AuthResolveTimeout: 5 * time.Second,
		CredentialGrace:    15 * time.Second,
		MarkerTTL:          12 * time.Hour,
	}
}

// Snapshot is the externally visible state of one controller.
type Snapshot struct {
	SessionID          string         `json:"session_id"`
	Phase              Phase          `json:"phase"`
	User               *auth.Identity `json:"user,omitempty"`
	IsReturningUser    bool           `json:"is_returning_user"`
	ResumedFromStorage bool           `json:"resumed_from_storage"`
	Section            string         `json:"section,omitempty"`
}

// Transition records one phase change.
type Transition struct {
	SessionID string    `json:"session_id"`
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	At        time.Time `json:"at"`
}

func phaseKey(sessionID string) string   { return "session:" + sessionID + ":sessionPhase" }
func sectionKey(sessionID string) string { return "session:" + sessionID + ":dashboardSection" }

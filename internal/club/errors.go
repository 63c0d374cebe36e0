package club

import "errors"

var (
	ErrNotFound             = errors.New("club: not found")
	ErrInvalidInput         = errors.New("club: invalid input")
	ErrAccessDenied         = errors.New("club: access denied")
	ErrConflict             = errors.New("club: conflict")
	ErrInProgress           = errors.New("club: decision already in progress")
	ErrConfirmationRequired = errors.New("club: confirmation required")
	ErrPositionsFilled      = errors.New("club: god positions are filled")
	ErrUnauthenticated      = errors.New("club: not signed in")
)

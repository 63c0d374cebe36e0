package httpapi

import (
	"context"
	"errors"
	"net/http"

	"astroclub.org/internal/auth"
	"astroclub.org/internal/club"
	"astroclub.org/internal/events"
	"astroclub.org/internal/gallery"
	"astroclub.org/internal/obs"
	"astroclub.org/internal/phase"
	"astroclub.org/internal/store"
)

// Response kinds let the frontend choose between a remedy, a retry and a
// plain message.
const (
	kindBootstrap       = "bootstrap"
	kindConstraint      = "constraint"
	kindDenied          = "denied"
	kindUnauthenticated = "unauthenticated"
	kindNotFound        = "not_found"
	kindInvalid         = "invalid"
	kindConfirm         = "confirmation_required"
	kindConflict        = "conflict"
	kindTransition      = "invalid_transition"
	kindTransient       = "transient"
)

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrBootstrap):
		writeErrorKind(w, r, http.StatusServiceUnavailable, kindBootstrap, err.Error())
	case errors.Is(err, events.ErrActiveConflict),
		errors.Is(err, club.ErrConflict),
		errors.Is(err, club.ErrInProgress),
		errors.Is(err, club.ErrPositionsFilled):
		writeErrorKind(w, r, http.StatusConflict, kindConflict, err.Error())
	case errors.Is(err, store.ErrConstraint):
		code := http.StatusUnprocessableEntity
		if pgErr, ok := store.PgError(err); ok && pgErr.Code == store.CodeUniqueViolation {
			code = http.StatusConflict
		}
		writeErrorKind(w, r, code, kindConstraint, err.Error())
	case errors.Is(err, club.ErrAccessDenied):
		writeErrorKind(w, r, http.StatusForbidden, kindDenied, err.Error())
	case errors.Is(err, club.ErrUnauthenticated),
		errors.Is(err, phase.ErrNotAuthenticated),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUnauthorized):
		writeErrorKind(w, r, http.StatusUnauthorized, kindUnauthenticated, err.Error())
	case errors.Is(err, club.ErrConfirmationRequired):
		writeErrorKind(w, r, http.StatusPreconditionRequired, kindConfirm, err.Error())
	case errors.Is(err, club.ErrNotFound),
		errors.Is(err, events.ErrNotFound),
		errors.Is(err, gallery.ErrNotFound),
		errors.Is(err, phase.ErrUnknownSession),
		errors.Is(err, auth.ErrUnknownProvider):
		writeErrorKind(w, r, http.StatusNotFound, kindNotFound, err.Error())
	case errors.Is(err, club.ErrInvalidInput),
		errors.Is(err, events.ErrInvalidInput),
		errors.Is(err, gallery.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidState):
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
	case errors.Is(err, phase.ErrInvalidTransition),
		errors.Is(err, phase.ErrSkipNotAllowed):
		writeErrorKind(w, r, http.StatusConflict, kindTransition, err.Error())
	case errors.Is(err, phase.ErrClosed):
		writeErrorKind(w, r, http.StatusGone, kindTransition, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		writeErrorKind(w, r, http.StatusGatewayTimeout, kindTransient, "upstream timed out, retry")
	default:
		obs.Error("request_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"path":       r.URL.Path,
			"error":      err,
		})
		writeErrorKind(w, r, http.StatusInternalServerError, kindTransient, "operation failed, retry")
	}
}

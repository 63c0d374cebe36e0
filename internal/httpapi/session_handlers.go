package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"astroclub.org/internal/audit"
	"astroclub.org/internal/auth"
	"astroclub.org/internal/club"
	"astroclub.org/internal/events"
	"astroclub.org/internal/obs"
	"astroclub.org/internal/phase"
)

const sessionHeader = "X-Session-ID"

type startRequest struct {
	PendingCredentials bool `json:"pending_credentials"`
}

type sectionRequest struct {
	Section string `json:"section"`
}

// sessionView is the phase snapshot plus what the renderer needs for the
// current phase.
type sessionView struct {
	phase.Snapshot
	ActiveEvent *events.Event  `json:"active_event,omitempty"`
	Sections    []club.Section `json:"sections,omitempty"`
}

func sessionID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(sessionHeader))
}

func (a *API) controller(w http.ResponseWriter, r *http.Request) (*phase.Controller, context.Context, bool) {
	id := sessionID(r)
	if id == "" {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, sessionHeader+" header is required")
		return nil, nil, false
	}
	c, ok := a.phases.Get(id)
	if !ok {
		handleError(w, r, phase.ErrUnknownSession)
		return nil, nil, false
	}
	return c, audit.WithSessionID(r.Context(), id), true
}

// handleSessionStart opens the controller for the browser session and
// resolves the bearer token, if any, under the controller's timeout.
func (a *API) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	id := sessionID(r)
	if id == "" {
		id = uuid.NewString()
	}
	w.Header().Set(sessionHeader, id)
	c := a.phases.Open(id)

	token, hasToken := auth.TokenFromContext(r.Context())
	resolve := func(ctx context.Context) (auth.Identity, bool, error) {
		if !hasToken {
			return auth.Identity{}, false, nil
		}
		sess, err := a.auth.CurrentSession(ctx, token)
		if errors.Is(err, auth.ErrInvalidToken) {
			return auth.Identity{}, false, nil
		}
		if err != nil {
			return auth.Identity{}, false, err
		}
		return sess.Identity, true, nil
	}

	ctx := audit.WithSessionID(r.Context(), id)
	snap, err := c.Start(ctx, resolve, phase.StartHint{PendingCredentials: req.PendingCredentials})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(ctx, snap))
}

func (a *API) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	c, ctx, ok := a.controller(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.view(ctx, c.Snapshot()))
}

// handleSessionLogin bootstraps the profile and starts the cinematic. A
// profile that already existed marks a returning user who may skip.
func (a *API) handleSessionLogin(w http.ResponseWriter, r *http.Request) {
	ident, ok := a.identity(w, r)
	if !ok {
		return
	}
	c, ctx, ok := a.controller(w, r)
	if !ok {
		return
	}
	prof, created, err := a.club.Bootstrap(ctx, ident)
	if err != nil {
		handleError(w, r, err)
		return
	}
	// Other endpoints bootstrap the profile too, so only a profile older
	// than the token makes this a returning user.
	returning := !created
	if sess, ok := auth.SessionFromContext(r.Context()); ok && !sess.IssuedAt.IsZero() {
		returning = returning && prof.ExistedBefore(sess.IssuedAt)
	}
	snap, err := c.Login(ident, returning)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(ctx, snap))
}

func (a *API) handleSessionSkip(w http.ResponseWriter, r *http.Request) {
	c, ctx, ok := a.controller(w, r)
	if !ok {
		return
	}
	if !a.ownsSession(w, r, c) {
		return
	}
	snap, err := c.Skip()
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(ctx, snap))
}

func (a *API) handleSessionContinue(w http.ResponseWriter, r *http.Request) {
	c, ctx, ok := a.controller(w, r)
	if !ok {
		return
	}
	if !a.ownsSession(w, r, c) {
		return
	}
	snap, err := c.Continue(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.view(ctx, snap))
}

// handleSessionSignOut resets the browser session and revokes the token.
func (a *API) handleSessionSignOut(w http.ResponseWriter, r *http.Request) {
	c, ctx, ok := a.controller(w, r)
	if !ok {
		return
	}
	if !a.ownsSession(w, r, c) {
		return
	}
	snap, err := c.SignOut(ctx)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if token, ok := auth.TokenFromContext(r.Context()); ok {
		if err := a.auth.SignOut(ctx, token); err != nil {
			obs.Warn("session_token_revoke_failed", map[string]any{"session_id": c.ID(), "error": err})
		}
	}
	writeJSON(w, http.StatusOK, a.view(ctx, snap))
}

// handleSessionSection opens a dashboard section if the caller's standing
// allows it. A denial leaves the current section active.
func (a *API) handleSessionSection(w http.ResponseWriter, r *http.Request) {
	_, st, ok := a.actor(w, r)
	if !ok {
		return
	}
	c, ctx, ok := a.controller(w, r)
	if !ok {
		return
	}
	if !a.ownsSession(w, r, c) {
		return
	}
	var req sectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErrorKind(w, r, http.StatusBadRequest, kindInvalid, err.Error())
		return
	}
	current := c.Snapshot().Section
	next, err := club.Navigate(st, current, req.Section)
	if err != nil {
		if errors.Is(err, club.ErrAccessDenied) {
			obs.RecordDenial(strings.ToLower(strings.TrimSpace(req.Section)))
		}
		handleError(w, r, err)
		return
	}
	snap, err := c.SetSection(ctx, next)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.viewFor(ctx, snap, &st))
}

// ownsSession rejects callers acting on a session bound to someone else.
func (a *API) ownsSession(w http.ResponseWriter, r *http.Request, c *phase.Controller) bool {
	ident, ok := a.identity(w, r)
	if !ok {
		return false
	}
	snap := c.Snapshot()
	if snap.User != nil && snap.User.ID != ident.ID {
		writeErrorKind(w, r, http.StatusForbidden, kindDenied, "session belongs to another user")
		return false
	}
	return true
}

func (a *API) view(ctx context.Context, snap phase.Snapshot) sessionView {
	return a.viewFor(ctx, snap, nil)
}

func (a *API) viewFor(ctx context.Context, snap phase.Snapshot, st *club.Standing) sessionView {
	v := sessionView{Snapshot: snap}
	switch snap.Phase {
	case phase.Welcome:
		if a.events == nil {
			break
		}
		active, err := a.events.Active(ctx)
		if err != nil {
			obs.Warn("session_active_event_failed", map[string]any{"session_id": snap.SessionID, "error": err})
			break
		}
		v.ActiveEvent = active
	case phase.Dashboard:
		if st == nil && snap.User != nil && a.club != nil {
			derived, err := a.club.Standing(ctx, *snap.User)
			if err != nil {
				obs.Warn("session_standing_failed", map[string]any{"session_id": snap.SessionID, "error": err})
				break
			}
			st = &derived
		}
		if st != nil {
			v.Sections = club.VisibleSections(*st)
		}
	}
	return v
}

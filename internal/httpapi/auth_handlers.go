package httpapi

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"astroclub.org/internal/audit"
	"astroclub.org/internal/auth"
	"astroclub.org/internal/obs"
)

type loginURLResponse struct {
	URL string `json:"url"`
}

// handleProviderLogin sends the browser to the provider consent page. API
// clients asking for JSON get the URL instead of a redirect.
func (a *API) handleProviderLogin(w http.ResponseWriter, r *http.Request) {
	target, err := a.auth.SignInWithProvider(r.PathValue("provider"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJSON(w, http.StatusOK, loginURLResponse{URL: target})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleProviderCallback completes sign-in and hands the session to the
// frontend in the URL fragment, where the browser's start hint picks it up.
func (a *API) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	provider := r.PathValue("provider")
	if e := q.Get("error"); e != "" {
		a.redirectFrontend(w, r, url.Values{"error": {e}})
		return
	}

	sess, err := a.auth.CompleteSignIn(r.Context(), provider, q.Get("code"), q.Get("state"))
	if err != nil {
		obs.Warn("auth_callback_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"provider":   provider,
			"error":      err,
		})
		a.redirectFrontend(w, r, url.Values{"error": {"sign_in_failed"}})
		return
	}

	ctx := auth.ContextWithIdentity(r.Context(), sess.Identity)
	if a.club != nil {
		// Session login bootstraps again; a failure here only delays it.
		if _, _, err := a.club.Bootstrap(ctx, sess.Identity); err != nil {
			obs.Warn("auth_callback_bootstrap_failed", map[string]any{"user_id": sess.Identity.ID, "error": err})
		}
	}
	_ = audit.LogEvent(ctx, "auth.signed_in", map[string]any{"provider": provider})

	a.redirectFrontend(w, r, url.Values{
		"access_token": {sess.Token},
		"token_type":   {"bearer"},
		"expires_at":   {strconv.FormatInt(sess.ExpiresAt.Unix(), 10)},
	})
}

func (a *API) redirectFrontend(w http.ResponseWriter, r *http.Request, fragment url.Values) {
	target := strings.TrimRight(a.frontendURL, "/") + "/#" + fragment.Encode()
	http.Redirect(w, r, target, http.StatusFound)
}

// handleAuthSignOut revokes the bearer token. Every browser session bound to
// the user is reset through the auth state listener.
func (a *API) handleAuthSignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := auth.TokenFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "sign in required")
		return
	}
	if err := a.auth.SignOut(r.Context(), token); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.signed_out", nil)
	w.WriteHeader(http.StatusNoContent)
}

package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"astroclub.org/internal/auth"
	"astroclub.org/internal/club"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/metrics",
	"/healthz",
	"/readyz",
	"/v1/info",
	"/v1/session",
	"/v1/feed",
}

// withAuth verifies the bearer token on protected paths. Public paths only
// carry the raw token forward so handlers can resolve it on their own terms.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.auth == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			if token, err := extractBearerToken(r.Header.Get(authHeader)); err == nil {
				r = r.WithContext(auth.ContextWithToken(r.Context(), token))
			}
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			unauthorized(w, r, err.Error())
			return
		}

		sess, err := a.auth.CurrentSession(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidToken):
				unauthorized(w, r, "invalid token")
			default:
				handleError(w, r, err)
			}
			return
		}

		ctx := auth.ContextWithIdentity(r.Context(), sess.Identity)
		ctx = auth.ContextWithToken(ctx, token)
		ctx = auth.ContextWithSession(ctx, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="astroclub"`)
	writeErrorKind(w, r, http.StatusUnauthorized, kindUnauthenticated, msg)
}

// identity returns the caller verified by withAuth.
func (a *API) identity(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	ident, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		unauthorized(w, r, "sign in required")
		return auth.Identity{}, false
	}
	return ident, true
}

// actor returns the caller together with its derived standing.
func (a *API) actor(w http.ResponseWriter, r *http.Request) (auth.Identity, club.Standing, bool) {
	ident, ok := a.identity(w, r)
	if !ok {
		return auth.Identity{}, club.Standing{}, false
	}
	st, err := a.club.Standing(r.Context(), ident)
	if err != nil {
		handleError(w, r, err)
		return auth.Identity{}, club.Standing{}, false
	}
	return ident, st, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	// Provider redirects carry no bearer token.
	if rest, ok := strings.CutPrefix(path, "/v1/auth/"); ok {
		return strings.HasSuffix(rest, "/login") || strings.HasSuffix(rest, "/callback")
	}
	return false
}

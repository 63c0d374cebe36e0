package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"astroclub.org/internal/auth"
	"astroclub.org/internal/club"
	"astroclub.org/internal/events"
	"astroclub.org/internal/gallery"
	"astroclub.org/internal/obs"
	"astroclub.org/internal/phase"
	"astroclub.org/internal/realtime"
	"astroclub.org/internal/store"
)

const (
	serviceName  = "astroclub-api"
	maxJSONBytes = 1 << 20
	maxBodyBytes = gallery.MaxUploadBytes + 1<<20
)

// SchemaVerifier reports missing tables.
type SchemaVerifier interface {
	Verify(ctx context.Context, tables ...string) error
}

// ReadyProbe checks the database connection and, when a verifier is set,
// that the schema has been migrated.
type ReadyProbe struct {
	DB     *sql.DB
	Schema SchemaVerifier
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Schema != nil {
		return rp.Schema.Verify(ctx)
	}
	return nil
}

// Deps are the services the HTTP layer dispatches to.
type Deps struct {
	Ready   ReadyProbe
	Version string

	Auth    *auth.Service
	Club    *club.Service
	Phases  *phase.Registry
	Events  *events.Service
	Gallery *gallery.Service
	Feed    *realtime.Feed

	// FrontendURL receives the browser after provider sign-in.
	FrontendURL string
	CORSOrigins []string
	RateBurst   int
	RatePerSec  int
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	auth    *auth.Service
	club    *club.Service
	phases  *phase.Registry
	events  *events.Service
	gallery *gallery.Service
	feed    *realtime.Feed

	frontendURL string
	corsOrigins []string
	rateBurst   int
	ratePerSec  int
}

func New(d Deps) *API {
	a := &API{
		mux:         http.NewServeMux(),
		readyProbe:  d.Ready,
		version:     d.Version,
		auth:        d.Auth,
		club:        d.Club,
		phases:      d.Phases,
		events:      d.Events,
		gallery:     d.Gallery,
		feed:        d.Feed,
		frontendURL: d.FrontendURL,
		corsOrigins: d.CORSOrigins,
		rateBurst:   d.RateBurst,
		ratePerSec:  d.RatePerSec,
	}
	if a.rateBurst <= 0 {
		a.rateBurst = 40
	}
	if a.ratePerSec <= 0 {
		a.ratePerSec = 20
	}

	// health/ready/info
	a.mux.HandleFunc("GET /healthz", a.Healthz)
	a.mux.HandleFunc("GET /readyz", a.Ready)
	a.mux.HandleFunc("GET /v1/info", a.Info)
	a.mux.Handle("GET /metrics", obs.Handler())

	a.mux.HandleFunc("GET /v1/auth/{provider}/login", a.handleProviderLogin)
	a.mux.HandleFunc("GET /v1/auth/{provider}/callback", a.handleProviderCallback)
	a.mux.HandleFunc("POST /v1/auth/signout", a.handleAuthSignOut)

	a.mux.HandleFunc("POST /v1/session", a.handleSessionStart)
	a.mux.HandleFunc("GET /v1/session", a.handleSessionGet)
	a.mux.HandleFunc("POST /v1/session/login", a.handleSessionLogin)
	a.mux.HandleFunc("POST /v1/session/skip", a.handleSessionSkip)
	a.mux.HandleFunc("POST /v1/session/continue", a.handleSessionContinue)
	a.mux.HandleFunc("POST /v1/session/signout", a.handleSessionSignOut)
	a.mux.HandleFunc("POST /v1/session/section", a.handleSessionSection)

	a.mux.HandleFunc("GET /v1/me", a.handleMe)
	a.mux.HandleFunc("PUT /v1/me/bio", a.handleUpdateBio)
	a.mux.HandleFunc("GET /v1/ranks", a.handleRanks)
	a.mux.HandleFunc("GET /v1/profiles", a.handleDirectory)
	a.mux.HandleFunc("POST /v1/profiles/{id}/rank", a.handleAssignRank)
	a.mux.HandleFunc("DELETE /v1/profiles/{id}", a.handleExile)
	a.mux.HandleFunc("GET /v1/requests", a.handleListRequests)
	a.mux.HandleFunc("POST /v1/requests", a.handleSubmitApplication)
	a.mux.HandleFunc("POST /v1/requests/admin", a.handleRegisterAdmin)
	a.mux.HandleFunc("POST /v1/requests/{id}/approve", a.handleApprove)
	a.mux.HandleFunc("POST /v1/requests/{id}/reject", a.handleReject)
	a.mux.HandleFunc("GET /v1/notifications", a.handleNotifications)
	a.mux.HandleFunc("POST /v1/notifications/{id}/read", a.handleMarkRead)

	a.mux.HandleFunc("GET /v1/events", a.handleListEvents)
	a.mux.HandleFunc("POST /v1/events", a.handleHostEvent)
	a.mux.HandleFunc("PUT /v1/events/{id}", a.handleUpdateEvent)
	a.mux.HandleFunc("DELETE /v1/events/{id}", a.handleDeleteEvent)
	a.mux.HandleFunc("POST /v1/events/{id}/close", a.handleCloseEvent)
	a.mux.HandleFunc("POST /v1/events/{id}/toggle", a.handleToggleRegistration)

	a.mux.HandleFunc("GET /v1/gallery", a.handleListGallery)
	a.mux.HandleFunc("POST /v1/gallery", a.handleUploadGallery)
	a.mux.HandleFunc("DELETE /v1/gallery/{id}", a.handleDeleteGallery)

	a.mux.HandleFunc("GET /v1/feed", a.Stream)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not found")
	})

	return a
}

// Handler returns the mux wrapped in the middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h, a.corsOrigins)
	h = SecurityHeaders(h)
	h = Recover(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		kind := kindTransient
		if errors.Is(err, store.ErrBootstrap) {
			kind = kindBootstrap
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"kind":   kind,
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	var providers []string
	if a.auth != nil {
		providers = a.auth.Providers()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":      serviceName,
		"time":      time.Now().UTC().Format(time.RFC3339),
		"version":   a.version,
		"providers": providers,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorKind(w, r, code, "", msg)
}

func writeErrorKind(w http.ResponseWriter, r *http.Request, code int, kind, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if kind != "" {
		payload["kind"] = kind
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBytes)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body and leaves dst untouched.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	return decodeJSON(w, r, dst)
}

func confirmed(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	return ok
}

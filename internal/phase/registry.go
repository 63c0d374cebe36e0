package phase

import (
	"sync"
	"time"

	"astroclub.org/internal/auth"
	"astroclub.org/internal/kv"
	"astroclub.org/internal/obs"
)

// Registry keeps one controller per browser session id.
type Registry struct {
	cfg          Config
	markers      kv.Store
	newScheduler func() Scheduler
	hook         func(Transition)
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Controller
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithSchedulerFactory overrides how each controller gets its scheduler.
func WithSchedulerFactory(fn func() Scheduler) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.newScheduler = fn
		}
	}
}

// WithTransitionHook is invoked after every phase change of every session.
func WithTransitionHook(fn func(Transition)) RegistryOption {
	return func(r *Registry) { r.hook = fn }
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(cfg Config, markers kv.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		cfg:          cfg,
		markers:      markers,
		newScheduler: func() Scheduler { return NewWallClock() },
		now:          time.Now,
		sessions:     make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Open returns the controller for sessionID, creating it on first use.
func (r *Registry) Open(sessionID string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[sessionID]; ok {
		return c
	}
	c := NewController(sessionID, r.cfg, r.newScheduler(), r.markers, r.hook)
	c.now = r.now
	c.touched = r.now()
	r.sessions[sessionID] = c
	obs.SetActiveSessions(len(r.sessions))
	return c
}

// Get returns an existing controller.
func (r *Registry) Get(sessionID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.sessions[sessionID]
	return c, ok
}

// Len reports the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// HandleAuthChange forwards signed_out to every session bound to that user.
// Register it with auth.Service.OnAuthStateChange.
func (r *Registry) HandleAuthChange(change auth.StateChange) {
	if change.Event != auth.SignedOut || change.Identity.ID == "" {
		return
	}
	for _, c := range r.list() {
		if c.ExternalSignOut(change.Identity.ID) {
			obs.Info("phase_external_signout", map[string]any{"session_id": c.ID(), "user_id": change.Identity.ID})
		}
	}
}

// EvictIdle tears down sessions not touched for longer than maxIdle and
// returns how many were removed.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	var stale []*Controller
	r.mu.Lock()
	for id, c := range r.sessions {
		if c.LastActive().Before(cutoff) {
			stale = append(stale, c)
			delete(r.sessions, id)
		}
	}
	obs.SetActiveSessions(len(r.sessions))
	r.mu.Unlock()
	for _, c := range stale {
		c.Close()
	}
	return len(stale)
}

// Close tears down every controller.
func (r *Registry) Close() {
	r.mu.Lock()
	all := make([]*Controller, 0, len(r.sessions))
	for id, c := range r.sessions {
		all = append(all, c)
		delete(r.sessions, id)
	}
	obs.SetActiveSessions(0)
	r.mu.Unlock()
	for _, c := range all {
		c.Close()
	}
}

func (r *Registry) list() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.sessions))
	for _, c := range r.sessions {
		out = append(out, c)
	}
	return out
}

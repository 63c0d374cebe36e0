package phase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"astroclub.org/internal/auth"
	"astroclub.org/internal/kv"
	"astroclub.org/internal/obs"
)

// Resolver reports the authenticated identity of the browser session, if any.
type Resolver func(ctx context.Context) (auth.Identity, bool, error)

// StartHint carries what the browser knows before auth is resolved.
type StartHint struct {
	// PendingCredentials is set when the page URL carries access_token or
	// refresh_token fragments that the auth provider is still consuming.
	PendingCredentials bool
}

// Controller owns the phase of one browser session.
type Controller struct {
	id      string
	cfg     Config
	sched   Scheduler
	markers kv.Store
	hook    func(Transition)
	now     func() time.Time

	// markerMu orders marker writes with the state change behind them, so a
	// sign-out cannot be overtaken by an earlier dashboard write. Taken
	// before mu.
	markerMu sync.Mutex

	mu        sync.Mutex
	phase     Phase
	user      *auth.Identity
	returning bool
	resumed   bool
	section   string
	started   bool
	gen       uint64
	closed    bool
	touched   time.Time
}

// NewController returns a controller in the idle phase.
func NewController(sessionID string, cfg Config, sched Scheduler, markers kv.Store, hook func(Transition)) *Controller {
	if sched == nil {
		sched = NewWallClock()
	}
	if markers == nil {
		markers = kv.NewMemory()
	}
	c := &Controller{
		id:      sessionID,
		cfg:     cfg,
		sched:   sched,
		markers: markers,
		hook:    hook,
		now:     time.Now,
		phase:   Idle,
	}
	c.touched = c.now()
	return c
}

// ID returns the browser session id.
func (c *Controller) ID() string { return c.id }

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastActive reports the last time the session was touched by a caller or a
// timer.
func (c *Controller) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched
}

// Start resolves the browser's auth session once and decides the entry
// phase. A confirmed session with a dashboard marker resumes straight into
// the dashboard; anything else, including a resolver error or timeout,
// leaves the session idle.
func (c *Controller) Start(ctx context.Context, resolve Resolver, hint StartHint) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.started || c.phase != Idle {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.mu.Unlock()

	bound := c.cfg.AuthResolveTimeout
	if hint.PendingCredentials && c.cfg.CredentialGrace > bound {
		bound = c.cfg.CredentialGrace
	}
	rctx := ctx
	if bound > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, bound)
		defer cancel()
	}

	ident, ok, err := resolve(rctx)
	if err != nil {
		obs.Warn("phase_auth_resolve_failed", map[string]any{"session_id": c.id, "error": err})
		return c.Snapshot(), nil
	}
	if !ok {
		return c.Snapshot(), nil
	}

	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	marker, err := c.markers.Get(ctx, phaseKey(c.id))
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		obs.Warn("phase_marker_read_failed", map[string]any{"session_id": c.id, "error": err})
	}
	section, serr := c.markers.Get(ctx, sectionKey(c.id))
	if serr != nil {
		section = DefaultSection
	}

	c.mu.Lock()
	if c.closed || c.started || c.phase != Idle {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	c.user = &ident
	c.touched = c.now()
	var trs []Transition
	if Phase(marker) == Dashboard {
		c.started = true
		c.resumed = true
		c.returning = true
		c.section = section
		trs = append(trs, c.setLocked(Dashboard))
	}
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify(trs)
	return snap, nil
}

// Login starts the cinematic. Calls made while a sequence is already running
// are no-ops.
func (c *Controller) Login(ident auth.Identity, returning bool) (Snapshot, error) {
	if ident.ID == "" {
		return Snapshot{}, ErrNotAuthenticated
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.started {
		snap := c.snapshotLocked()
		c.mu.Unlock()
		return snap, nil
	}
	if c.phase != Idle {
		from := c.phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: login from %s", ErrInvalidTransition, from)
	}
	c.cancelTimersLocked()
	c.started = true
	c.user = &ident
	c.returning = returning
	c.resumed = false
	c.touched = c.now()
	tr := c.setLocked(Falling)
	gen := c.gen
	c.sched.Arm(c.cfg.FallDuration, func() { c.afterFall(gen) })
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify([]Transition{tr})
	return snap, nil
}

func (c *Controller) afterFall(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.phase != Falling {
		c.mu.Unlock()
		return
	}
	tr := c.setLocked(Blackout)
	c.sched.Arm(c.cfg.BlackoutDuration, func() { c.afterBlackout(gen) })
	c.mu.Unlock()
	c.notify([]Transition{tr})
}

func (c *Controller) afterBlackout(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.gen || c.phase != Blackout {
		c.mu.Unlock()
		return
	}
	tr := c.setLocked(Welcome)
	c.mu.Unlock()
	c.notify([]Transition{tr})
}

// Skip jumps a returning user from falling straight to welcome and cancels
// the remaining cinematic timers.
func (c *Controller) Skip() (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.phase != Falling {
		from := c.phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: skip from %s", ErrInvalidTransition, from)
	}
	if !c.returning {
		c.mu.Unlock()
		return Snapshot{}, ErrSkipNotAllowed
	}
	c.cancelTimersLocked()
	c.touched = c.now()
	tr := c.setLocked(Welcome)
	snap := c.snapshotLocked()
	c.mu.Unlock()
	c.notify([]Transition{tr})
	return snap, nil
}

// Continue opens the dashboard from the welcome screen and persists the
// dashboard marker.
func (c *Controller) Continue(ctx context.Context) (Snapshot, error) {
	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.phase != Welcome {
		from := c.phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: continue from %s", ErrInvalidTransition, from)
	}
	if c.section == "" {
		c.section = DefaultSection
	}
	c.touched = c.now()
	tr := c.setLocked(Dashboard)
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.markers.Set(ctx, phaseKey(c.id), string(Dashboard), c.cfg.MarkerTTL); err != nil {
		obs.Warn("phase_marker_write_failed", map[string]any{"session_id": c.id, "error": err})
	}
	c.notify([]Transition{tr})
	return snap, nil
}

// SetSection records an already authorized dashboard navigation.
func (c *Controller) SetSection(ctx context.Context, section string) (Snapshot, error) {
	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	if c.phase != Dashboard {
		from := c.phase
		c.mu.Unlock()
		return Snapshot{}, fmt.Errorf("%w: navigate from %s", ErrInvalidTransition, from)
	}
	c.section = section
	c.touched = c.now()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.markers.Set(ctx, sectionKey(c.id), section, c.cfg.MarkerTTL); err != nil {
		obs.Warn("phase_marker_write_failed", map[string]any{"session_id": c.id, "error": err})
	}
	return snap, nil
}

// SignOut resets the session to idle from any phase and clears the markers.
// The next login replays the full cinematic.
func (c *Controller) SignOut(ctx context.Context) (Snapshot, error) {
	c.markerMu.Lock()
	defer c.markerMu.Unlock()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	trs := c.resetLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	if err := c.markers.Delete(ctx, phaseKey(c.id), sectionKey(c.id)); err != nil {
		obs.Warn("phase_marker_clear_failed", map[string]any{"session_id": c.id, "error": err})
	}
	c.notify(trs)
	return snap, nil
}

// ExternalSignOut applies a sign-out observed on the auth side. It only acts
// when the session belongs to userID and reports whether it did.
func (c *Controller) ExternalSignOut(userID string) bool {
	c.mu.Lock()
	bound := !c.closed && c.user != nil && c.user.ID == userID
	c.mu.Unlock()
	if !bound {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.SignOut(ctx)
	return err == nil
}

// Close cancels pending timers. Callbacks that are already running become
// no-ops.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cancelTimersLocked()
}

func (c *Controller) resetLocked() []Transition {
	c.cancelTimersLocked()
	c.started = false
	c.user = nil
	c.returning = false
	c.resumed = false
	c.section = ""
	c.touched = c.now()
	if c.phase == Idle {
		return nil
	}
	return []Transition{c.setLocked(Idle)}
}

func (c *Controller) cancelTimersLocked() {
	c.gen++
	c.sched.CancelAll()
}

func (c *Controller) setLocked(to Phase) Transition {
	tr := Transition{SessionID: c.id, From: c.phase, To: to, At: c.now().UTC()}
	c.phase = to
	c.touched = c.now()
	return tr
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		SessionID:          c.id,
		Phase:              c.phase,
		IsReturningUser:    c.returning,
		ResumedFromStorage: c.resumed,
	}
	if c.user != nil {
		u := *c.user
		snap.User = &u
	}
	if c.phase == Dashboard {
		snap.Section = c.section
	}
	return snap
}

func (c *Controller) notify(trs []Transition) {
	for _, tr := range trs {
		obs.RecordPhaseTransition(string(tr.From), string(tr.To))
		if c.hook != nil {
			c.hook(tr)
		}
	}
}

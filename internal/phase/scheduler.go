package phase

import (
	"sort"
	"sync"
	"time"
)

// Timer is a pending scheduled callback.
type Timer interface {
	Stop() bool
}

// Scheduler arms delayed callbacks. CancelAll stops every timer armed through
// it that has not fired yet.
type Scheduler interface {
	Arm(d time.Duration, fn func()) Timer
	CancelAll()
}

// WallClock schedules callbacks with time.AfterFunc.
type WallClock struct {
	mu     sync.Mutex
	timers map[*wallTimer]struct{}
}

type wallTimer struct {
	t *time.Timer
}

func (w *wallTimer) Stop() bool { return w.t.Stop() }

// NewWallClock returns a scheduler backed by real timers.
func NewWallClock() *WallClock {
	return &WallClock{timers: make(map[*wallTimer]struct{})}
}

func (w *WallClock) Arm(d time.Duration, fn func()) Timer {
	w.mu.Lock()
	defer w.mu.Unlock()
	wt := &wallTimer{}
	// The callback blocks on w.mu until wt is registered.
	wt.t = time.AfterFunc(d, func() {
		w.mu.Lock()
		delete(w.timers, wt)
		w.mu.Unlock()
		fn()
	})
	w.timers[wt] = struct{}{}
	return wt
}

func (w *WallClock) CancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for wt := range w.timers {
		wt.t.Stop()
		delete(w.timers, wt)
	}
}

// Manual is a virtual-time scheduler. Nothing fires until Advance is called.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	m       *Manual
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// NewManual returns a scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) Arm(d time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d < 0 {
		d = 0
	}
	m.seq++
	t := &manualTimer{m: m, at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

func (m *Manual) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.timers {
		t.stopped = true
	}
	m.timers = nil
}

// Advance moves virtual time forward by d and runs every timer that comes due,
// in due order, including timers armed by callbacks during the advance.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		next := m.nextDueLocked(target)
		if next == nil {
			break
		}
		m.now = next.at
		next.fired = true
		m.mu.Unlock()
		next.fn()
		m.mu.Lock()
	}
	m.now = target
	m.compactLocked()
	m.mu.Unlock()
}

// Pending reports how many timers are armed and not yet fired or stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// Now reports the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) nextDueLocked(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.at <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at != due[j].at {
			return due[i].at < due[j].at
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

func (m *Manual) compactLocked() {
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.stopped && !t.fired {
			live = append(live, t)
		}
	}
	m.timers = live
}

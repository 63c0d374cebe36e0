// Package realtime pushes "something changed, refetch" notifications to
// subscribers. Changes come from the services of this process, from the
// PostgreSQL trigger channel and from other instances over NATS.
package realtime

import (
	"context"
	"sync"
	"time"

	"astroclub.org/internal/obs"
)

// Change describes a row write. Subscribers refetch; the payload carries no
// row data.
type Change struct {
	Collection string    `json:"collection"`
	Action     string    `json:"action"`
	RowID      string    `json:"row_id,omitempty"`
	At         time.Time `json:"at"`
	Origin     string    `json:"origin,omitempty"`
}

type subscriber struct {
	ch     chan Change
	filter map[string]struct{}
}

func (s *subscriber) wants(collection string) bool {
	if len(s.filter) == 0 {
		return true
	}
	_, ok := s.filter[collection]
	return ok
}

// Feed fans changes out to every active subscriber (SSE clients, caches).
type Feed struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	next   int
	relays []func(Change)
	now    func() time.Time
}

// NewFeed initialises an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]*subscriber), now: time.Now}
}

// Subscribe registers a subscriber for the given collections (all when none
// are named). The channel is closed when ctx ends.
func (f *Feed) Subscribe(ctx context.Context, collections ...string) <-chan Change {
	sub := &subscriber{ch: make(chan Change, 32)}
	if len(collections) > 0 {
		sub.filter = make(map[string]struct{}, len(collections))
		for _, c := range collections {
			sub.filter[c] = struct{}{}
		}
	}

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = sub
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(sub.ch)
		f.mu.Unlock()
	}()

	return sub.ch
}

// Subscribers reports the number of active subscribers.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Relay registers fn to receive every locally originated change, typically
// to forward it to other instances.
func (f *Feed) Relay(fn func(Change)) {
	f.mu.Lock()
	f.relays = append(f.relays, fn)
	f.mu.Unlock()
}

// Publish delivers a locally originated change and hands it to the relays.
func (f *Feed) Publish(c Change) {
	if c.At.IsZero() {
		c.At = f.now().UTC()
	}
	f.Deliver(c)
	f.mu.RLock()
	relays := append([]func(Change){}, f.relays...)
	f.mu.RUnlock()
	for _, fn := range relays {
		fn(c)
	}
}

// Notify publishes a change; its signature matches the change notifiers of
// the domain services.
func (f *Feed) Notify(collection, action, rowID string) {
	f.Publish(Change{Collection: collection, Action: action, RowID: rowID})
}

// Deliver fans c out to local subscribers only.
func (f *Feed) Deliver(c Change) {
	if c.At.IsZero() {
		c.At = f.now().UTC()
	}
	obs.RecordChange(c.Collection)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, sub := range f.subs {
		if !sub.wants(c.Collection) {
			continue
		}
		select {
		case sub.ch <- c:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

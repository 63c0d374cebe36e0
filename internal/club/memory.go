package club

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and local runs without a
// database.
type MemoryStore struct {
	mu            sync.RWMutex
	profiles      map[string]Profile
	requests      map[string]AdminRequest
	notifications map[string]Notification
	now           func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:      make(map[string]Profile),
		requests:      make(map[string]AdminRequest),
		notifications: make(map[string]Notification),
		now:           time.Now,
	}
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	return p, nil
}

func (m *MemoryStore) FindProfileByEmail(_ context.Context, email string) (Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.profiles {
		if strings.EqualFold(p.Email, email) {
			return p, nil
		}
	}
	return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, email)
}

func (m *MemoryStore) ListProfiles(context.Context) ([]Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID < out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) EnsureProfile(_ context.Context, p Profile) (Profile, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.profiles[p.ID]; ok {
		return existing, false, nil
	}
	now := m.now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	m.profiles[p.ID] = p
	return p, true, nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p Profile) (Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.profiles[p.ID]
	if !ok {
		return Profile{}, fmt.Errorf("%w: profile %s", ErrNotFound, p.ID)
	}
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = m.now().UTC()
	m.profiles[p.ID] = p
	return p, nil
}

func (m *MemoryStore) DeleteProfile(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.profiles[id]; !ok {
		return fmt.Errorf("%w: profile %s", ErrNotFound, id)
	}
	delete(m.profiles, id)
	return nil
}

func (m *MemoryStore) CountRank(_ context.Context, rank Rank) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, p := range m.profiles {
		if p.Rank == rank {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) CreateRequest(_ context.Context, r AdminRequest) (AdminRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[r.ID]; ok {
		return AdminRequest{}, fmt.Errorf("%w: request %s exists", ErrConflict, r.ID)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = m.now().UTC()
	}
	m.requests[r.ID] = r
	return r, nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (AdminRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return AdminRequest{}, fmt.Errorf("%w: request %s", ErrNotFound, id)
	}
	return r, nil
}

func (m *MemoryStore) ListRequests(_ context.Context, f RequestFilter) ([]AdminRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []AdminRequest
	for _, r := range m.requests {
		if f.RequesterID != "" && r.RequesterID != f.RequesterID {
			continue
		}
		if f.Department != "" && !strings.EqualFold(r.Department, f.Department) {
			continue
		}
		if f.Type != "" && r.Type != f.Type {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID > out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) ApplyDecision(_ context.Context, d Decision) (DecisionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[d.RequestID]
	if !ok {
		return DecisionResult{}, fmt.Errorf("%w: request %s", ErrNotFound, d.RequestID)
	}
	if r.Status != StatusPending {
		return DecisionResult{}, fmt.Errorf("%w: request %s is %s", ErrConflict, d.RequestID, r.Status)
	}
	var res DecisionResult
	if d.Profile != nil {
		existing, ok := m.profiles[d.Profile.ID]
		if !ok {
			return DecisionResult{}, fmt.Errorf("%w: profile %s", ErrNotFound, d.Profile.ID)
		}
		p := *d.Profile
		p.CreatedAt = existing.CreatedAt
		p.UpdatedAt = m.now().UTC()
		m.profiles[p.ID] = p
		res.Profile = &p
	}

	r.Status = d.Status
	r.ApprovedBy = d.ApprovedBy
	decided := d.At.UTC()
	r.DecidedAt = &decided
	m.requests[r.ID] = r
	res.Request = r

	n := d.Notification
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now().UTC()
	}
	m.notifications[n.ID] = n
	res.Notification = n
	return res, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n Notification) (Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = m.now().UTC()
	}
	m.notifications[n.ID] = n
	return n, nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string) ([]Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt) || (out[i].CreatedAt.Equal(out[j].CreatedAt) && out[i].ID > out[j].ID)
	})
	return out, nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("%w: notification %s", ErrNotFound, id)
	}
	n.IsRead = true
	m.notifications[id] = n
	return nil
}

package events

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"astroclub.org/internal/audit"
	"astroclub.org/internal/club"
	"astroclub.org/internal/ids"
	"astroclub.org/internal/obs"
)

// Service applies hosting permissions and the single-active rule.
type Service struct {
	store  Store
	now    func() time.Time
	notify func(collection, action, rowID string)

	// mu serialises writes so the active check and the write are not
	// interleaved within one process.
	mu sync.Mutex
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithChangeNotifier registers the callback invoked after each write.
func WithChangeNotifier(fn func(collection, action, rowID string)) Option {
	return func(s *Service) { s.notify = fn }
}

// NewService constructs the events service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanHost reports whether the standing may create and manage events.
func CanHost(st club.Standing) bool {
	return st.IsGod || st.IsPresident
}

// List returns active, then upcoming, then closed events, newest first
// within each status.
func (s *Service) List(ctx context.Context) ([]Event, error) {
	list, err := s.store.ListEvents(ctx)
	if err != nil {
		return nil, err
	}
	Sort(list)
	return list, nil
}

// Sort orders events for display.
func Sort(list []Event) {
	sort.SliceStable(list, func(i, j int) bool {
		oi, oj := list[i].Status.order(), list[j].Status.order()
		if oi != oj {
			return oi < oj
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
}

// Active returns the active event, or nil when there is none.
func (s *Service) Active(ctx context.Context) (*Event, error) {
	e, err := s.store.ActiveEvent(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Host creates an event.
func (s *Service) Host(ctx context.Context, actor club.Standing, d Draft) (Event, error) {
	if err := requireHost(actor); err != nil {
		return Event{}, err
	}
	d, err := normalize(d)
	if err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Status == StatusActive {
		if err := s.makeRoomLocked(ctx, "", d.ReplaceActive); err != nil {
			return Event{}, err
		}
	}
	now := s.now().UTC()
	e, err := s.store.CreateEvent(ctx, Event{
		ID:               ids.New(),
		Title:            d.Title,
		Description:      d.Description,
		RegistrationLink: d.RegistrationLink,
		Rewards:          d.Rewards,
		Requirements:     d.Requirements,
		Status:           d.Status,
		RegistrationOpen: d.RegistrationOpen && d.Status != StatusClosed,
		CreatedBy:        actor.UserID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		return Event{}, err
	}
	s.changed("insert", e.ID)
	_ = audit.LogEvent(ctx, "events.hosted", map[string]any{"event_id": e.ID, "status": string(e.Status)})
	return e, nil
}

// Update replaces the editable fields of an event.
func (s *Service) Update(ctx context.Context, actor club.Standing, id string, d Draft) (Event, error) {
	if err := requireHost(actor); err != nil {
		return Event{}, err
	}
	d, err := normalize(d)
	if err != nil {
		return Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if d.Status == StatusActive && e.Status != StatusActive {
		if err := s.makeRoomLocked(ctx, e.ID, d.ReplaceActive); err != nil {
			return Event{}, err
		}
	}
	e.Title = d.Title
	e.Description = d.Description
	e.RegistrationLink = d.RegistrationLink
	e.Rewards = d.Rewards
	e.Requirements = d.Requirements
	e.Status = d.Status
	e.RegistrationOpen = d.RegistrationOpen && d.Status != StatusClosed
	e.UpdatedAt = s.now().UTC()
	saved, err := s.store.UpdateEvent(ctx, e)
	if err != nil {
		return Event{}, err
	}
	s.changed("update", saved.ID)
	return saved, nil
}

// Close ends an event and closes its registration.
func (s *Service) Close(ctx context.Context, actor club.Standing, id string, confirm bool) (Event, error) {
	if !confirm {
		return Event{}, ErrConfirmationRequired
	}
	if err := requireHost(actor); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	e.Status = StatusClosed
	e.RegistrationOpen = false
	e.UpdatedAt = s.now().UTC()
	saved, err := s.store.UpdateEvent(ctx, e)
	if err != nil {
		return Event{}, err
	}
	s.changed("update", saved.ID)
	_ = audit.LogEvent(ctx, "events.closed", map[string]any{"event_id": saved.ID})
	return saved, nil
}

// ToggleRegistration opens or closes registration of a non-closed event.
func (s *Service) ToggleRegistration(ctx context.Context, actor club.Standing, id string) (Event, error) {
	if err := requireHost(actor); err != nil {
		return Event{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return Event{}, err
	}
	if e.Status == StatusClosed && !e.RegistrationOpen {
		return Event{}, fmt.Errorf("%w: event is closed", ErrInvalidInput)
	}
	e.RegistrationOpen = !e.RegistrationOpen
	e.UpdatedAt = s.now().UTC()
	saved, err := s.store.UpdateEvent(ctx, e)
	if err != nil {
		return Event{}, err
	}
	s.changed("update", saved.ID)
	return saved, nil
}

// Delete removes an event permanently.
func (s *Service) Delete(ctx context.Context, actor club.Standing, id string, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	if err := requireHost(actor); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.DeleteEvent(ctx, id); err != nil {
		return err
	}
	s.changed("delete", id)
	_ = audit.LogEvent(ctx, "events.deleted", map[string]any{"event_id": id})
	return nil
}

// makeRoomLocked enforces the single active event. selfID is excluded from
// the check when an existing event is being activated.
func (s *Service) makeRoomLocked(ctx context.Context, selfID string, replace bool) error {
	current, err := s.store.ActiveEvent(ctx)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.ID == selfID {
		return nil
	}
	if !replace {
		return fmt.Errorf("%w: %q is active", ErrActiveConflict, current.Title)
	}
	current.Status = StatusUpcoming
	current.UpdatedAt = s.now().UTC()
	if _, err := s.store.UpdateEvent(ctx, current); err != nil {
		return fmt.Errorf("demote active event: %w", err)
	}
	s.changed("update", current.ID)
	return nil
}

func (s *Service) changed(action, id string) {
	if s.notify != nil {
		s.notify(Collection, action, id)
	}
}

func requireHost(st club.Standing) error {
	if !CanHost(st) {
		obs.RecordDenial("events")
		return fmt.Errorf("%w: hosting events requires god or president", ErrAccessDenied)
	}
	return nil
}

func normalize(d Draft) (Draft, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.RegistrationLink = strings.TrimSpace(d.RegistrationLink)
	d.Rewards = strings.TrimSpace(d.Rewards)
	d.Requirements = strings.TrimSpace(d.Requirements)
	if d.Title == "" {
		return d, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if d.Status == "" {
		d.Status = StatusUpcoming
	}
	if !d.Status.Valid() {
		return d, fmt.Errorf("%w: status %q", ErrInvalidInput, d.Status)
	}
	if d.RegistrationLink != "" {
		u, err := url.Parse(d.RegistrationLink)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return d, fmt.Errorf("%w: registration link must be an http(s) URL", ErrInvalidInput)
		}
	}
	return d, nil
}

package pg

import (
	"context"
	"fmt"

	"astroclub.org/internal/events"
	"astroclub.org/internal/store"
)

const eventColumns = `id, title, description, registration_link, rewards, requirements, status, registration_open, created_by, created_at, updated_at`

// singleActiveIndex backs the one-active-event rule in the schema.
const singleActiveIndex = "events_single_active"

func (s *Store) ListEvents(ctx context.Context) ([]events.Event, error) {
	var out []events.Event
	if err := s.db.SelectContext(ctx, &out, `select `+eventColumns+` from events order by created_at desc`); err != nil {
		return nil, fail(err, events.ErrNotFound)
	}
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (events.Event, error) {
	var e events.Event
	if err := s.db.GetContext(ctx, &e, `select `+eventColumns+` from events where id = $1`, id); err != nil {
		return events.Event{}, fail(err, fmt.Errorf("%w: event %s", events.ErrNotFound, id))
	}
	return e, nil
}

func (s *Store) ActiveEvent(ctx context.Context) (events.Event, error) {
	var e events.Event
	if err := s.db.GetContext(ctx, &e, `select `+eventColumns+` from events where status = 'active' limit 1`); err != nil {
		return events.Event{}, fail(err, events.ErrNotFound)
	}
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e events.Event) (events.Event, error) {
	var out events.Event
	err := s.db.GetContext(ctx, &out, `
		insert into events (id, title, description, registration_link, rewards, requirements, status, registration_open, created_by, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		returning `+eventColumns,
		e.ID, e.Title, e.Description, e.RegistrationLink, e.Rewards, e.Requirements, e.Status, e.RegistrationOpen, e.CreatedBy, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return events.Event{}, fail(eventWriteErr(err), events.ErrNotFound)
	}
	return out, nil
}

func (s *Store) UpdateEvent(ctx context.Context, e events.Event) (events.Event, error) {
	var out events.Event
	err := s.db.GetContext(ctx, &out, `
		update events
		set title = $2, description = $3, registration_link = $4, rewards = $5, requirements = $6,
		    status = $7, registration_open = $8, updated_at = $9
		where id = $1
		returning `+eventColumns,
		e.ID, e.Title, e.Description, e.RegistrationLink, e.Rewards, e.Requirements, e.Status, e.RegistrationOpen, e.UpdatedAt)
	if err != nil {
		return events.Event{}, fail(eventWriteErr(err), fmt.Errorf("%w: event %s", events.ErrNotFound, e.ID))
	}
	return out, nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from events where id = $1`, id)
	if err != nil {
		return fail(err, events.ErrNotFound)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: event %s", events.ErrNotFound, id)
	}
	return nil
}

// eventWriteErr reports a race on the single active event as
// ErrActiveConflict while keeping the constraint classification.
func eventWriteErr(err error) error {
	if pgErr, ok := store.PgError(err); ok && pgErr.Code == store.CodeUniqueViolation && pgErr.ConstraintName == singleActiveIndex {
		return fmt.Errorf("%w: %w", events.ErrActiveConflict, store.Classify(err))
	}
	return err
}

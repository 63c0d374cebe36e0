package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astroclub.org/internal/club"
)

var (
	god       = club.Standing{UserID: "g1", Rank: club.RankGod, IsGod: true}
	president = club.Standing{UserID: "p1", Rank: club.RankElite, Department: "President", IsPresident: true}
	member    = club.Standing{UserID: "m1", Rank: club.RankRare}
)

type stepClock struct{ t time.Time }

func (c *stepClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestService() (*Service, *MemoryStore, *[]string) {
	store := NewMemoryStore()
	clock := &stepClock{t: time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)}
	var changes []string
	svc := NewService(store, WithClock(clock.now), WithChangeNotifier(func(collection, action, _ string) {
		changes = append(changes, collection+":"+action)
	}))
	return svc, store, &changes
}

func TestHostRequiresGodOrPresident(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Host(ctx, member, Draft{Title: "Star party"})
	require.ErrorIs(t, err, ErrAccessDenied)

	e, err := svc.Host(ctx, president, Draft{Title: " Star party ", RegistrationOpen: true})
	require.NoError(t, err)
	assert.Equal(t, "Star party", e.Title)
	assert.Equal(t, StatusUpcoming, e.Status)
	assert.Equal(t, "p1", e.CreatedBy)
	assert.True(t, e.RegistrationOpen)

	_, err = svc.Host(ctx, god, Draft{Title: "Eclipse", Status: StatusActive})
	require.NoError(t, err)
}

func TestHostValidatesDraft(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.Host(ctx, god, Draft{Title: "  "})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Host(ctx, god, Draft{Title: "x", Status: "cancelled"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Host(ctx, god, Draft{Title: "x", RegistrationLink: "javascript:alert(1)"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Host(ctx, god, Draft{Title: "x", RegistrationLink: "https://forms.test/abc"})
	assert.NoError(t, err)
}

func TestSingleActiveEvent(t *testing.T) {
	svc, store, _ := newTestService()
	ctx := context.Background()

	first, err := svc.Host(ctx, god, Draft{Title: "Meteor watch", Status: StatusActive})
	require.NoError(t, err)

	_, err = svc.Host(ctx, god, Draft{Title: "Lunar talk", Status: StatusActive})
	require.ErrorIs(t, err, ErrActiveConflict)

	second, err := svc.Host(ctx, god, Draft{Title: "Lunar talk", Status: StatusActive, ReplaceActive: true})
	require.NoError(t, err)

	demoted, err := store.GetEvent(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusUpcoming, demoted.Status)

	active, err := svc.Active(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	_, err = svc.Update(ctx, god, first.ID, Draft{Title: "Meteor watch", Status: StatusActive})
	require.ErrorIs(t, err, ErrActiveConflict)

	// Re-saving the active event itself is not a conflict.
	_, err = svc.Update(ctx, god, second.ID, Draft{Title: "Lunar talk II", Status: StatusActive})
	require.NoError(t, err)
}

func TestActiveIsNilWithoutActiveEvent(t *testing.T) {
	svc, _, _ := newTestService()
	active, err := svc.Active(context.Background())
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestListOrder(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	closedOld, _ := svc.Host(ctx, god, Draft{Title: "a", Status: StatusClosed})
	upOld, _ := svc.Host(ctx, god, Draft{Title: "b"})
	active, _ := svc.Host(ctx, god, Draft{Title: "c", Status: StatusActive})
	upNew, _ := svc.Host(ctx, god, Draft{Title: "d"})
	closedNew, _ := svc.Host(ctx, god, Draft{Title: "e", Status: StatusClosed})

	list, err := svc.List(ctx)
	require.NoError(t, err)
	var got []string
	for _, e := range list {
		got = append(got, e.ID)
	}
	assert.Equal(t, []string{active.ID, upNew.ID, upOld.ID, closedNew.ID, closedOld.ID}, got)
}

func TestCloseToggleDelete(t *testing.T) {
	svc, store, changes := newTestService()
	ctx := context.Background()

	e, err := svc.Host(ctx, god, Draft{Title: "Observatory visit", Status: StatusActive, RegistrationOpen: true})
	require.NoError(t, err)

	toggled, err := svc.ToggleRegistration(ctx, president, e.ID)
	require.NoError(t, err)
	assert.False(t, toggled.RegistrationOpen)

	_, err = svc.Close(ctx, god, e.ID, false)
	require.ErrorIs(t, err, ErrConfirmationRequired)

	closed, err := svc.Close(ctx, god, e.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusClosed, closed.Status)
	assert.False(t, closed.RegistrationOpen)

	_, err = svc.ToggleRegistration(ctx, god, e.ID)
	require.ErrorIs(t, err, ErrInvalidInput)

	require.ErrorIs(t, svc.Delete(ctx, god, e.ID, false), ErrConfirmationRequired)
	require.ErrorIs(t, svc.Delete(ctx, member, e.ID, true), ErrAccessDenied)
	require.NoError(t, svc.Delete(ctx, god, e.ID, true))

	_, err = store.GetEvent(ctx, e.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, []string{"events:insert", "events:update", "events:update", "events:delete"}, *changes)
}

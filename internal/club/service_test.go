package club

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astroclub.org/internal/auth"
)

type changeLog struct {
	mu      sync.Mutex
	entries []string
}

func (c *changeLog) record(collection, action, _ string) {
	c.mu.Lock()
	c.entries = append(c.entries, collection+":"+action)
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts ...ServiceOption) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, testRules(), opts...), store
}

func seed(t *testing.T, store *MemoryStore, p Profile) auth.Identity {
	t.Helper()
	if p.Rank == "" {
		p.Rank = RankCommon
	}
	_, _, err := store.EnsureProfile(context.Background(), p)
	require.NoError(t, err)
	return auth.Identity{ID: p.ID, Email: p.Email}
}

var rootIdent = auth.Identity{ID: "root-1", Email: "creator@club.test"}

func TestBootstrapCreatesOnceAndReconcilesRoot(t *testing.T) {
	changes := &changeLog{}
	svc, store := newTestService(t, WithChangeNotifier(changes.record))
	ctx := context.Background()

	p, created, err := svc.Bootstrap(ctx, auth.Identity{ID: "u1", Email: "One@Club.test", Name: "One"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, RankCommon, p.Rank)
	assert.Equal(t, "one@club.test", p.Email)

	_, created, err = svc.Bootstrap(ctx, auth.Identity{ID: "u1", Email: "one@club.test"})
	require.NoError(t, err)
	assert.False(t, created)

	// A corrupted root row is healed on the next read.
	_, _, err = store.EnsureProfile(ctx, Profile{ID: "root-1", Email: "creator@club.test", Rank: RankCommon})
	require.NoError(t, err)
	p, created, err = svc.Bootstrap(ctx, rootIdent)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, RankGod, p.Rank)
	assert.Equal(t, SubRankPoseidon, p.SubRank)

	stored, err := store.GetProfile(ctx, "root-1")
	require.NoError(t, err)
	assert.Equal(t, SubRankPoseidon, stored.SubRank)
	assert.Contains(t, changes.entries, "profiles:update")
}

func TestProfileStripsForeignPoseidon(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "u1", Rank: RankGod, SubRank: SubRankPoseidon})

	p, err := svc.Profile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, SubRankNone, p.SubRank)
	stored, _ := store.GetProfile(ctx, "u1")
	assert.Equal(t, SubRankNone, stored.SubRank)
}

func TestTechMemberApprovedByTechHead(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	x := seed(t, store, Profile{ID: "x", Email: "x@club.test"})
	head := seed(t, store, Profile{ID: "h", Email: "h@club.test", Rank: RankLegendary, Department: "Tech", RoleTitle: "Head"})

	req, err := svc.SubmitApplication(ctx, x, RequestRoleVerification, "Tech", "Member")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, req.Status)

	decided, err := svc.Approve(ctx, head, req.ID, SubRankNone)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	assert.Equal(t, "h", decided.ApprovedBy)
	require.NotNil(t, decided.DecidedAt)

	p, err := store.GetProfile(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, RankRare, p.Rank)
	assert.Equal(t, "Tech", p.Department)
	assert.Equal(t, "Member", p.RoleTitle)

	notes, err := svc.Notifications(ctx, x)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "approved")
}

func TestApprovalDeniedForOutsider(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	x := seed(t, store, Profile{ID: "x"})
	y := seed(t, store, Profile{ID: "y", Rank: RankLegendary, Department: "Design", RoleTitle: "Head"})

	req, err := svc.SubmitApplication(ctx, x, RequestRoleVerification, "Tech", "Member")
	require.NoError(t, err)

	_, err = svc.Approve(ctx, y, req.ID, SubRankNone)
	assert.ErrorIs(t, err, ErrAccessDenied)
	_, err = svc.Reject(ctx, y, req.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	stored, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	notes, _ := svc.Notifications(ctx, x)
	assert.Empty(t, notes)
}

func TestDecisionsAreTerminal(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test", Rank: RankGod, SubRank: SubRankPoseidon})
	x := seed(t, store, Profile{ID: "x"})

	req, err := svc.SubmitApplication(ctx, x, RequestJobApplication, "Tech", "Member")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, rootIdent, req.ID)
	require.NoError(t, err)

	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankNone)
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.Reject(ctx, rootIdent, req.ID)
	assert.ErrorIs(t, err, ErrConflict)

	stored, _ := store.GetRequest(ctx, req.ID)
	assert.Equal(t, StatusRejected, stored.Status)
	notes, _ := svc.Notifications(ctx, x)
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "rejected")
	p, _ := store.GetProfile(ctx, "x")
	assert.Equal(t, RankCommon, p.Rank)
}

func TestHeadTierRequestNeedsGod(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test"})
	x := seed(t, store, Profile{ID: "x"})
	head := seed(t, store, Profile{ID: "h", Rank: RankLegendary, Department: "Tech", RoleTitle: "Head"})

	req, err := svc.SubmitApplication(ctx, x, RequestJobApplication, "Tech", "Head")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, head, req.ID, SubRankNone)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankNone)
	require.NoError(t, err)
	p, _ := store.GetProfile(ctx, "x")
	assert.Equal(t, RankLegendary, p.Rank)
}

func TestAdminAccessFlow(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test"})
	x := seed(t, store, Profile{ID: "x"})

	req, err := svc.RegisterAdmin(ctx, x)
	require.NoError(t, err)
	assert.Equal(t, RequestAdminAccess, req.Type)

	_, err = svc.RegisterAdmin(ctx, x)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankPoseidon)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankNone)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankApollo)
	require.NoError(t, err)
	p, _ := store.GetProfile(ctx, "x")
	assert.Equal(t, RankGod, p.Rank)
	assert.Equal(t, SubRankApollo, p.SubRank)

	_, err = svc.RegisterAdmin(ctx, x)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGodPositionsAreCapped(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test", Rank: RankGod, SubRank: SubRankPoseidon})
	seed(t, store, Profile{ID: "g2", Rank: RankGod, SubRank: SubRankZeus})
	seed(t, store, Profile{ID: "g3", Rank: RankGod, SubRank: SubRankApollo})
	x := seed(t, store, Profile{ID: "x"})

	filled, err := svc.GodPositionsFilled(ctx)
	require.NoError(t, err)
	assert.True(t, filled)

	_, err = svc.RegisterAdmin(ctx, x)
	assert.ErrorIs(t, err, ErrPositionsFilled)
	_, err = svc.AssignRank(ctx, rootIdent, "x", RankGod, SubRankZeus)
	assert.ErrorIs(t, err, ErrPositionsFilled)
}

func TestRootCannotBeTargeted(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test", Rank: RankGod, SubRank: SubRankPoseidon})
	zeus := seed(t, store, Profile{ID: "g2", Rank: RankGod, SubRank: SubRankZeus})

	_, err := svc.AssignRank(ctx, zeus, "root-1", RankDegradation, SubRankNone)
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, svc.Exile(ctx, zeus, "root-1", true), ErrAccessDenied)

	req, err := svc.SubmitApplication(ctx, rootIdent, RequestRoleVerification, "Tech", "Member")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, zeus, req.ID)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// The creator acting on itself is allowed but reconciliation keeps Poseidon.
	p, err := svc.AssignRank(ctx, rootIdent, "root-1", RankCommon, SubRankNone)
	require.NoError(t, err)
	assert.Equal(t, RankGod, p.Rank)
	assert.Equal(t, SubRankPoseidon, p.SubRank)
}

func TestAssignRankRules(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test"})
	zeus := seed(t, store, Profile{ID: "g2", Rank: RankGod, SubRank: SubRankZeus})
	member := seed(t, store, Profile{ID: "m", Rank: RankRare})
	seed(t, store, Profile{ID: "x"})

	_, err := svc.AssignRank(ctx, member, "x", RankEpic, SubRankNone)
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = svc.AssignRank(ctx, zeus, "x", RankGod, SubRankPoseidon)
	assert.ErrorIs(t, err, ErrAccessDenied)

	// Even the creator cannot hand Poseidon to anyone else.
	p, err := svc.AssignRank(ctx, rootIdent, "x", RankGod, SubRankPoseidon)
	require.NoError(t, err)
	assert.Equal(t, RankGod, p.Rank)
	assert.Equal(t, SubRankNone, p.SubRank)

	p, err = svc.AssignRank(ctx, zeus, "x", RankEpic, SubRankZeus)
	require.NoError(t, err)
	assert.Equal(t, RankEpic, p.Rank)
	assert.Equal(t, SubRankNone, p.SubRank)

	_, err = svc.AssignRank(ctx, zeus, "x", Rank("overlord"), SubRankNone)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestExileRequiresConfirmation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test"})
	seed(t, store, Profile{ID: "x"})

	assert.ErrorIs(t, svc.Exile(ctx, rootIdent, "x", false), ErrConfirmationRequired)
	require.NoError(t, svc.Exile(ctx, rootIdent, "x", true))
	_, err := store.GetProfile(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Exile(ctx, rootIdent, "root-1", true), ErrInvalidInput)
}

// flakyStore fails the next n decision writes before touching any row.
type flakyStore struct {
	*MemoryStore
	failures int
}

func (f *flakyStore) ApplyDecision(ctx context.Context, d Decision) (DecisionResult, error) {
	if f.failures > 0 {
		f.failures--
		return DecisionResult{}, errors.New("transient: connection reset")
	}
	return f.MemoryStore.ApplyDecision(ctx, d)
}

func TestFailedDecisionCanBeRetried(t *testing.T) {
	mem := NewMemoryStore()
	flaky := &flakyStore{MemoryStore: mem}
	svc := NewService(flaky, testRules())
	ctx := context.Background()
	x := seed(t, mem, Profile{ID: "x", Email: "x@club.test"})
	head := seed(t, mem, Profile{ID: "h", Rank: RankLegendary, Department: "Tech", RoleTitle: "Head"})

	req, err := svc.SubmitApplication(ctx, x, RequestRoleVerification, "Tech", "Member")
	require.NoError(t, err)

	flaky.failures = 1
	_, err = svc.Approve(ctx, head, req.ID, SubRankNone)
	require.Error(t, err)

	stored, err := mem.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	p, _ := mem.GetProfile(ctx, "x")
	assert.Equal(t, RankCommon, p.Rank)
	notes, _ := svc.Notifications(ctx, x)
	assert.Empty(t, notes)

	decided, err := svc.Approve(ctx, head, req.ID, SubRankNone)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, decided.Status)
	p, _ = mem.GetProfile(ctx, "x")
	assert.Equal(t, RankRare, p.Rank)
	assert.Equal(t, "Tech", p.Department)
	notes, _ = svc.Notifications(ctx, x)
	assert.Len(t, notes, 1)
}

func TestApplyDecisionIsAllOrNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, err := store.CreateRequest(ctx, AdminRequest{ID: "r1", RequesterID: "ghost", Type: RequestJobApplication, Status: StatusPending})
	require.NoError(t, err)

	_, err = store.ApplyDecision(ctx, Decision{
		RequestID:    "r1",
		Status:       StatusApproved,
		ApprovedBy:   "root-1",
		At:           time.Now(),
		Profile:      &Profile{ID: "ghost", Rank: RankRare},
		Notification: Notification{ID: "n1", UserID: "ghost", Message: "approved"},
	})
	assert.ErrorIs(t, err, ErrNotFound)

	r, _ := store.GetRequest(ctx, "r1")
	assert.Equal(t, StatusPending, r.Status)
	assert.Nil(t, r.DecidedAt)
	notes, _ := store.ListNotifications(ctx, "ghost")
	assert.Empty(t, notes)
}

func TestConcurrentDecisionReturnsInProgress(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test"})
	x := seed(t, store, Profile{ID: "x"})
	req, err := svc.SubmitApplication(ctx, x, RequestRoleVerification, "Tech", "Member")
	require.NoError(t, err)

	require.True(t, svc.acquire(req.ID))
	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankNone)
	assert.ErrorIs(t, err, ErrInProgress)
	svc.release(req.ID)

	_, err = svc.Approve(ctx, rootIdent, req.ID, SubRankNone)
	assert.NoError(t, err)
}

func TestSubmitApplicationValidation(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	x := seed(t, store, Profile{ID: "x"})

	_, err := svc.SubmitApplication(ctx, x, RequestAdminAccess, "Tech", "Member")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.SubmitApplication(ctx, x, RequestJobApplication, " ", "Member")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.SubmitApplication(ctx, x, RequestJobApplication, "Tech", "Member")
	require.NoError(t, err)
	_, err = svc.SubmitApplication(ctx, x, RequestJobApplication, "Design", "Member")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = svc.SubmitApplication(ctx, auth.Identity{ID: "ghost"}, RequestJobApplication, "Tech", "Member")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRequestsVisibility(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "root-1", Email: "creator@club.test"})
	x := seed(t, store, Profile{ID: "x"})
	z := seed(t, store, Profile{ID: "z"})
	head := seed(t, store, Profile{ID: "h", Rank: RankLegendary, Department: "Tech", RoleTitle: "Head"})

	_, err := svc.SubmitApplication(ctx, x, RequestRoleVerification, "Tech", "Member")
	require.NoError(t, err)
	_, err = svc.SubmitApplication(ctx, z, RequestRoleVerification, "Design", "Member")
	require.NoError(t, err)
	_, err = svc.SubmitApplication(ctx, z, RequestJobApplication, "Tech", "Head")
	require.NoError(t, err)

	all, err := svc.ListRequests(ctx, rootIdent, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	mine, err := svc.ListRequests(ctx, z, "")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	dept, err := svc.ListRequests(ctx, head, StatusPending)
	require.NoError(t, err)
	require.Len(t, dept, 1)
	assert.Equal(t, "x", dept[0].RequesterID)
}

func TestDirectorySearchAndMembership(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	seed(t, store, Profile{ID: "a", Email: "aditi@club.test", FullName: "Aditi", Rank: RankElite, Department: "President"})
	seed(t, store, Profile{ID: "y", Email: "yash@club.test", FullName: "Yash Shakya", Rank: RankEpic, Department: "PR & Branding"})
	seed(t, store, Profile{ID: "n", Email: "new@club.test", FullName: "New Member"})

	entries, err := svc.Directory(ctx, "")
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = svc.Directory(ctx, "YASH")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].CurrentMember)

	entries, err = svc.Directory(ctx, "new@")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].CurrentMember)
}

func TestDirectoryUsesProfileSource(t *testing.T) {
	calls := 0
	source := func(context.Context) ([]Profile, error) {
		calls++
		return []Profile{{ID: "c", FullName: "Cached", Rank: RankRare}}, nil
	}
	svc, _ := newTestService(t, WithProfileSource(source))
	entries, err := svc.Directory(context.Background(), "cach")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, calls)
}

type flakyProfileStore struct {
	*MemoryStore
	fail bool
}

func (f *flakyProfileStore) GetProfile(ctx context.Context, id string) (Profile, error) {
	if f.fail {
		return Profile{}, errors.New("connection reset")
	}
	return f.MemoryStore.GetProfile(ctx, id)
}

func TestStandingFallsBackToLastKnown(t *testing.T) {
	store := &flakyProfileStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, testRules())
	ctx := context.Background()
	head := seed(t, store.MemoryStore, Profile{ID: "h", Rank: RankLegendary, Department: "Tech", RoleTitle: "Head"})

	st, err := svc.Standing(ctx, head)
	require.NoError(t, err)
	assert.True(t, st.IsDepartmentHead)

	store.fail = true
	st, err = svc.Standing(ctx, head)
	require.NoError(t, err)
	assert.Equal(t, RankLegendary, st.Rank)

	_, err = svc.Standing(ctx, auth.Identity{ID: "never-seen"})
	assert.Error(t, err)
}

func TestUpdateBioAndNotifications(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	svc, store := newTestService(t, WithClock(func() time.Time { return now }))
	ctx := context.Background()
	x := seed(t, store, Profile{ID: "x"})

	p, err := svc.UpdateBio(ctx, x, "  Loves Saturn  ")
	require.NoError(t, err)
	assert.Equal(t, "Loves Saturn", p.Bio)

	_, err = svc.UpdateBio(ctx, x, strings.Repeat("a", maxBioLength+1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	n, err := store.CreateNotification(ctx, Notification{ID: "n1", UserID: "x", Message: "hello"})
	require.NoError(t, err)
	require.NoError(t, svc.MarkRead(ctx, x, n.ID))
	assert.ErrorIs(t, svc.MarkRead(ctx, auth.Identity{ID: "other"}, n.ID), ErrNotFound)

	notes, err := svc.Notifications(ctx, x)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.True(t, notes[0].IsRead)
}

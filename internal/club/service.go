package club

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"astroclub.org/internal/audit"
	"astroclub.org/internal/auth"
	"astroclub.org/internal/ids"
	"astroclub.org/internal/obs"
)

// Collections published to the change feed.
const (
	CollectionProfiles      = "profiles"
	CollectionRequests      = "admin_requests"
	CollectionNotifications = "notifications"
)

const (
	defaultGodCap = 3
	maxBioLength  = 1000
)

// ChangeNotifier is told about every row the service writes.
type ChangeNotifier func(collection, action, rowID string)

// Service runs rank derivation and the approval workflow over a Store.
type Service struct {
	store    Store
	rules    Rules
	now      func() time.Time
	notify   ChangeNotifier
	profiles func(context.Context) ([]Profile, error)
	godCap   int

	mu        sync.Mutex
	inflight  map[string]struct{}
	lastKnown map[string]Profile
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithChangeNotifier registers the callback invoked after each write.
func WithChangeNotifier(fn ChangeNotifier) ServiceOption {
	return func(s *Service) { s.notify = fn }
}

// WithProfileSource replaces the store as the source of the profile list
// used by the directory, typically with a refetch-on-change cache.
func WithProfileSource(fn func(context.Context) ([]Profile, error)) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.profiles = fn
		}
	}
}

// WithGodCap overrides how many gods may exist at once.
func WithGodCap(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.godCap = n
		}
	}
}

// NewService constructs the service. The root identity is part of rules and
// must be supplied by configuration.
func NewService(store Store, rules Rules, opts ...ServiceOption) *Service {
	s := &Service{
		store:     store,
		rules:     rules,
		now:       time.Now,
		godCap:    defaultGodCap,
		inflight:  make(map[string]struct{}),
		lastKnown: make(map[string]Profile),
	}
	s.profiles = store.ListProfiles
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Rules exposes the derivation rules in use.
func (s *Service) Rules() Rules { return s.rules }

// Bootstrap creates the profile of a newly signed-in identity if it does not
// exist yet and applies reconciliation. created reports a first sign-in.
func (s *Service) Bootstrap(ctx context.Context, ident auth.Identity) (Profile, bool, error) {
	if strings.TrimSpace(ident.ID) == "" {
		return Profile{}, false, ErrUnauthenticated
	}
	fresh := Profile{
		ID:        ident.ID,
		Email:     strings.ToLower(strings.TrimSpace(ident.Email)),
		FullName:  strings.TrimSpace(ident.Name),
		AvatarURL: ident.AvatarURL,
		Rank:      RankCommon,
	}
	fresh, _ = s.rules.Reconcile(fresh)
	stored, created, err := s.store.EnsureProfile(ctx, fresh)
	if err != nil {
		return Profile{}, false, err
	}
	if created {
		s.changed(CollectionProfiles, "insert", stored.ID)
		_ = audit.LogEvent(ctx, "club.profile.created", map[string]any{"profile_id": stored.ID})
	}
	stored, err = s.writeBack(ctx, stored)
	if err != nil {
		return Profile{}, false, err
	}
	return stored, created, nil
}

// Profile loads a profile and writes back any reconciliation correction.
func (s *Service) Profile(ctx context.Context, id string) (Profile, error) {
	p, err := s.store.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return s.writeBack(ctx, p)
}

func (s *Service) writeBack(ctx context.Context, p Profile) (Profile, error) {
	fixed, changed := s.rules.Reconcile(p)
	if changed {
		saved, err := s.store.SaveProfile(ctx, fixed)
		if err != nil {
			return Profile{}, fmt.Errorf("reconcile profile %s: %w", p.ID, err)
		}
		obs.Warn("club_profile_reconciled", map[string]any{
			"profile_id": p.ID, "from_rank": string(p.Rank), "from_sub_rank": string(p.SubRank),
			"to_rank": string(saved.Rank), "to_sub_rank": string(saved.SubRank),
		})
		s.changed(CollectionProfiles, "update", saved.ID)
		fixed = saved
	}
	s.remember(fixed)
	return fixed, nil
}

// Standing derives the authority of ident from its stored profile. When the
// store is unreachable the last profile seen for ident is used instead.
func (s *Service) Standing(ctx context.Context, ident auth.Identity) (Standing, error) {
	if strings.TrimSpace(ident.ID) == "" {
		return Standing{}, ErrUnauthenticated
	}
	var snap Snapshot
	p, err := s.Profile(ctx, ident.ID)
	switch {
	case err == nil:
		snap = Snapshot{p}
	case errors.Is(err, ErrNotFound):
	default:
		last, ok := s.recall(ident.ID)
		if !ok {
			return Standing{}, err
		}
		obs.Warn("club_standing_from_last_known", map[string]any{"user_id": ident.ID, "error": err})
		return s.rules.Derive(ident.ID, ident.Email, nil, &last), nil
	}
	last, ok := s.recall(ident.ID)
	var lastPtr *Profile
	if ok {
		lastPtr = &last
	}
	return s.rules.Derive(ident.ID, ident.Email, snap, lastPtr), nil
}

// DirectoryEntry is one row of the member directory.
type DirectoryEntry struct {
	Profile       Profile  `json:"profile"`
	Standing      Standing `json:"standing"`
	CurrentMember bool     `json:"current_member"`
}

// Directory searches the profile list by name or email, case-insensitively.
func (s *Service) Directory(ctx context.Context, search string) ([]DirectoryEntry, error) {
	all, err := s.profiles(ctx)
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]DirectoryEntry, 0, len(all))
	for _, p := range all {
		if search != "" &&
			!strings.Contains(strings.ToLower(p.FullName), search) &&
			!strings.Contains(strings.ToLower(p.Email), search) {
			continue
		}
		p, _ = s.rules.Reconcile(p)
		out = append(out, DirectoryEntry{
			Profile:       p,
			Standing:      s.rules.StandingOf(p),
			CurrentMember: s.rules.Policy.CurrentMember(p),
		})
	}
	return out, nil
}

// UpdateBio replaces the caller's own bio.
func (s *Service) UpdateBio(ctx context.Context, actor auth.Identity, bio string) (Profile, error) {
	bio = strings.TrimSpace(bio)
	if len(bio) > maxBioLength {
		return Profile{}, fmt.Errorf("%w: bio longer than %d characters", ErrInvalidInput, maxBioLength)
	}
	p, err := s.Profile(ctx, actor.ID)
	if err != nil {
		return Profile{}, err
	}
	p.Bio = bio
	saved, err := s.store.SaveProfile(ctx, p)
	if err != nil {
		return Profile{}, err
	}
	s.remember(saved)
	s.changed(CollectionProfiles, "update", saved.ID)
	return saved, nil
}

// SubmitApplication files a role verification or job application.
func (s *Service) SubmitApplication(ctx context.Context, actor auth.Identity, typ RequestType, department, roleTitle string) (AdminRequest, error) {
	if typ != RequestRoleVerification && typ != RequestJobApplication {
		return AdminRequest{}, fmt.Errorf("%w: request type %q", ErrInvalidInput, typ)
	}
	department = strings.TrimSpace(department)
	roleTitle = strings.TrimSpace(roleTitle)
	if department == "" || roleTitle == "" {
		return AdminRequest{}, fmt.Errorf("%w: department and role title are required", ErrInvalidInput)
	}
	if _, err := s.Profile(ctx, actor.ID); err != nil {
		return AdminRequest{}, err
	}
	pending, err := s.store.ListRequests(ctx, RequestFilter{RequesterID: actor.ID, Type: typ, Status: StatusPending})
	if err != nil {
		return AdminRequest{}, err
	}
	if len(pending) > 0 {
		return AdminRequest{}, fmt.Errorf("%w: a %s request is already pending", ErrConflict, typ)
	}
	return s.createRequest(ctx, AdminRequest{
		RequesterID: actor.ID,
		Type:        typ,
		Department:  department,
		RoleTitle:   roleTitle,
	})
}

// RegisterAdmin files an AdminAccess request for the caller.
func (s *Service) RegisterAdmin(ctx context.Context, actor auth.Identity) (AdminRequest, error) {
	st, err := s.Standing(ctx, actor)
	if err != nil {
		return AdminRequest{}, err
	}
	if st.IsGod {
		return AdminRequest{}, fmt.Errorf("%w: already a god", ErrConflict)
	}
	if err := s.checkGodCapacity(ctx); err != nil {
		return AdminRequest{}, err
	}
	pending, err := s.store.ListRequests(ctx, RequestFilter{RequesterID: actor.ID, Type: RequestAdminAccess, Status: StatusPending})
	if err != nil {
		return AdminRequest{}, err
	}
	if len(pending) > 0 {
		return AdminRequest{}, fmt.Errorf("%w: admin access request already pending", ErrConflict)
	}
	return s.createRequest(ctx, AdminRequest{RequesterID: actor.ID, Type: RequestAdminAccess})
}

func (s *Service) createRequest(ctx context.Context, r AdminRequest) (AdminRequest, error) {
	r.ID = ids.New()
	r.Status = StatusPending
	r.CreatedAt = s.now().UTC()
	created, err := s.store.CreateRequest(ctx, r)
	if err != nil {
		return AdminRequest{}, err
	}
	s.changed(CollectionRequests, "insert", created.ID)
	_ = audit.LogEvent(ctx, "club.request.submitted", map[string]any{
		"request_id": created.ID, "type": string(created.Type), "department": created.Department,
	})
	return created, nil
}

// ListRequests returns what the caller may see: gods see every request,
// department heads see their department, everyone sees their own.
func (s *Service) ListRequests(ctx context.Context, actor auth.Identity, status RequestStatus) ([]AdminRequest, error) {
	st, err := s.Standing(ctx, actor)
	if err != nil {
		return nil, err
	}
	if st.IsGod {
		return s.store.ListRequests(ctx, RequestFilter{Status: status})
	}
	own, err := s.store.ListRequests(ctx, RequestFilter{RequesterID: actor.ID, Status: status})
	if err != nil {
		return nil, err
	}
	if !st.IsDepartmentHead || st.Department == "" {
		return own, nil
	}
	dept, err := s.store.ListRequests(ctx, RequestFilter{Department: st.Department, Status: status})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(own))
	for _, r := range own {
		seen[r.ID] = true
	}
	for _, r := range dept {
		if !seen[r.ID] && s.rules.CanDecide(st, r) {
			own = append(own, r)
		}
	}
	return own, nil
}

// Approve decides a pending request in favour of the requester. subRank is
// required for AdminAccess and must be Zeus or Apollo.
func (s *Service) Approve(ctx context.Context, actor auth.Identity, requestID string, subRank SubRank) (AdminRequest, error) {
	return s.decide(ctx, actor, requestID, StatusApproved, subRank)
}

// Reject decides a pending request against the requester.
func (s *Service) Reject(ctx context.Context, actor auth.Identity, requestID string) (AdminRequest, error) {
	return s.decide(ctx, actor, requestID, StatusRejected, SubRankNone)
}

func (s *Service) decide(ctx context.Context, actor auth.Identity, requestID string, outcome RequestStatus, subRank SubRank) (res AdminRequest, err error) {
	ctx, span := obs.Tracer().Start(ctx, "club.decide")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	span.SetAttributes(attribute.String("request.id", requestID), attribute.String("outcome", string(outcome)))

	if !s.acquire(requestID) {
		return AdminRequest{}, ErrInProgress
	}
	defer s.release(requestID)

	approver, err := s.Standing(ctx, actor)
	if err != nil {
		return AdminRequest{}, err
	}
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return AdminRequest{}, err
	}
	span.SetAttributes(attribute.String("request.type", string(req.Type)))
	if req.Status.Terminal() {
		return AdminRequest{}, fmt.Errorf("%w: request already %s", ErrConflict, req.Status)
	}
	target, err := s.Profile(ctx, req.RequesterID)
	if err != nil {
		return AdminRequest{}, err
	}
	if s.rules.Root.Matches(target.ID, target.Email) && !approver.IsRoot {
		obs.RecordDenial("decide_root")
		return AdminRequest{}, fmt.Errorf("%w: the creator account cannot be targeted", ErrAccessDenied)
	}
	if !s.rules.CanDecide(approver, req) {
		obs.RecordDenial("decide")
		_ = audit.LogEvent(ctx, "club.request.denied", map[string]any{"request_id": req.ID, "approver": actor.ID})
		return AdminRequest{}, fmt.Errorf("%w: cannot decide %s request for %s", ErrAccessDenied, req.Type, req.Department)
	}

	updated := target
	if outcome == StatusApproved {
		switch req.Type {
		case RequestAdminAccess:
			if subRank != SubRankZeus && subRank != SubRankApollo {
				return AdminRequest{}, fmt.Errorf("%w: admin access needs sub-rank Zeus or Apollo", ErrInvalidInput)
			}
			if target.Rank != RankGod {
				if err := s.checkGodCapacity(ctx); err != nil {
					return AdminRequest{}, err
				}
			}
			updated.Rank = RankGod
			updated.SubRank = subRank
		default:
			updated.Department = req.Department
			updated.RoleTitle = req.RoleTitle
			updated.Rank = s.rules.PromotedRank(target.Rank, req.Department, req.RoleTitle)
		}
		updated, _ = s.rules.Reconcile(updated)
	}

	d := Decision{
		RequestID:  req.ID,
		Status:     outcome,
		ApprovedBy: actor.ID,
		At:         s.now(),
	}
	if outcome == StatusApproved && updated != target {
		d.Profile = &updated
	}
	outcomeReq := req
	outcomeReq.Status = outcome
	d.Notification = Notification{
		ID:        ids.New(),
		UserID:    req.RequesterID,
		Message:   decisionMessage(outcomeReq, updated),
		CreatedAt: s.now().UTC(),
	}

	applied, err := s.store.ApplyDecision(ctx, d)
	if err != nil {
		return AdminRequest{}, fmt.Errorf("apply decision: %w", err)
	}
	decided := applied.Request
	s.changed(CollectionRequests, "update", decided.ID)
	if applied.Profile != nil {
		updated = *applied.Profile
		s.remember(updated)
		s.changed(CollectionProfiles, "update", updated.ID)
	}
	s.changed(CollectionNotifications, "insert", applied.Notification.ID)

	obs.RecordDecision(string(req.Type), strings.ToLower(string(outcome)))
	_ = audit.LogEvent(ctx, "club.request.decided", map[string]any{
		"request_id": decided.ID, "type": string(decided.Type), "status": string(decided.Status),
		"requester_id": decided.RequesterID, "rank": string(updated.Rank),
	})
	return decided, nil
}

func decisionMessage(req AdminRequest, p Profile) string {
	if req.Status == StatusRejected {
		if req.Type == RequestAdminAccess {
			return "Your admin access request was rejected."
		}
		return fmt.Sprintf("Your %s request for %s %s was rejected.", req.Type, req.Department, req.RoleTitle)
	}
	if req.Type == RequestAdminAccess {
		return fmt.Sprintf("Your admin access request was approved. You are now god (%s).", p.SubRank)
	}
	return fmt.Sprintf("Your %s request for %s %s was approved. Your rank is now %s.", req.Type, req.Department, req.RoleTitle, p.Rank)
}

// AssignRank sets rank and sub-rank directly. Only gods may do this.
func (s *Service) AssignRank(ctx context.Context, actor auth.Identity, targetID string, rank Rank, subRank SubRank) (Profile, error) {
	if !rank.Valid() {
		return Profile{}, fmt.Errorf("%w: unknown rank %q", ErrInvalidInput, rank)
	}
	approver, err := s.Standing(ctx, actor)
	if err != nil {
		return Profile{}, err
	}
	if !approver.IsGod {
		obs.RecordDenial("assign_rank")
		return Profile{}, fmt.Errorf("%w: only gods assign ranks", ErrAccessDenied)
	}
	target, err := s.Profile(ctx, targetID)
	if err != nil {
		return Profile{}, err
	}
	targetIsRoot := s.rules.Root.Matches(target.ID, target.Email)
	if targetIsRoot && !(approver.IsRoot && target.ID == actor.ID) {
		obs.RecordDenial("assign_rank_root")
		return Profile{}, fmt.Errorf("%w: the creator account cannot be targeted", ErrAccessDenied)
	}
	if subRank == SubRankPoseidon && !approver.IsRoot {
		obs.RecordDenial("assign_poseidon")
		return Profile{}, fmt.Errorf("%w: Poseidon is not assignable", ErrAccessDenied)
	}
	if rank == RankGod && target.Rank != RankGod {
		if err := s.checkGodCapacity(ctx); err != nil {
			return Profile{}, err
		}
	}
	updated := target
	updated.Rank = rank
	updated.SubRank = subRank
	updated, _ = s.rules.Reconcile(updated)
	if updated == target {
		return target, nil
	}
	saved, err := s.store.SaveProfile(ctx, updated)
	if err != nil {
		return Profile{}, err
	}
	s.remember(saved)
	s.changed(CollectionProfiles, "update", saved.ID)
	_ = audit.LogEvent(ctx, "club.rank.assigned", map[string]any{
		"profile_id": saved.ID, "rank": string(saved.Rank), "sub_rank": string(saved.SubRank),
	})
	return saved, nil
}

// Exile permanently deletes a member profile. Only gods may do this and the
// caller must confirm.
func (s *Service) Exile(ctx context.Context, actor auth.Identity, targetID string, confirm bool) error {
	if !confirm {
		return ErrConfirmationRequired
	}
	approver, err := s.Standing(ctx, actor)
	if err != nil {
		return err
	}
	if !approver.IsGod {
		obs.RecordDenial("exile")
		return fmt.Errorf("%w: only gods exile members", ErrAccessDenied)
	}
	if targetID == actor.ID {
		return fmt.Errorf("%w: cannot exile yourself", ErrInvalidInput)
	}
	target, err := s.store.GetProfile(ctx, targetID)
	if err != nil {
		return err
	}
	if s.rules.Root.Matches(target.ID, target.Email) {
		obs.RecordDenial("exile_root")
		return fmt.Errorf("%w: the creator account cannot be targeted", ErrAccessDenied)
	}
	if err := s.store.DeleteProfile(ctx, targetID); err != nil {
		return err
	}
	s.forget(targetID)
	s.changed(CollectionProfiles, "delete", targetID)
	_ = audit.LogEvent(ctx, "club.profile.exiled", map[string]any{"profile_id": targetID})
	return nil
}

// Notifications lists the caller's notifications, newest first.
func (s *Service) Notifications(ctx context.Context, actor auth.Identity) ([]Notification, error) {
	if actor.ID == "" {
		return nil, ErrUnauthenticated
	}
	return s.store.ListNotifications(ctx, actor.ID)
}

// MarkRead marks one of the caller's notifications as read.
func (s *Service) MarkRead(ctx context.Context, actor auth.Identity, notificationID string) error {
	if actor.ID == "" {
		return ErrUnauthenticated
	}
	if err := s.store.MarkNotificationRead(ctx, actor.ID, notificationID); err != nil {
		return err
	}
	s.changed(CollectionNotifications, "update", notificationID)
	return nil
}

// GodPositionsFilled reports whether no more gods can be appointed.
func (s *Service) GodPositionsFilled(ctx context.Context) (bool, error) {
	n, err := s.store.CountRank(ctx, RankGod)
	if err != nil {
		return false, err
	}
	return n >= s.godCap, nil
}

func (s *Service) checkGodCapacity(ctx context.Context) error {
	filled, err := s.GodPositionsFilled(ctx)
	if err != nil {
		return err
	}
	if filled {
		return ErrPositionsFilled
	}
	return nil
}

func (s *Service) changed(collection, action, rowID string) {
	if s.notify != nil {
		s.notify(collection, action, rowID)
	}
}

func (s *Service) acquire(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[requestID]; busy {
		return false
	}
	s.inflight[requestID] = struct{}{}
	return true
}

func (s *Service) release(requestID string) {
	s.mu.Lock()
	delete(s.inflight, requestID)
	s.mu.Unlock()
}

func (s *Service) remember(p Profile) {
	s.mu.Lock()
	s.lastKnown[p.ID] = p
	s.mu.Unlock()
}

func (s *Service) recall(id string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lastKnown[id]
	return p, ok
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	delete(s.lastKnown, id)
	s.mu.Unlock()
}

package club

import "strings"

// Rules derives standings and corrects profiles for one club configuration.
// Every method is a pure function of its arguments.
type Rules struct {
	Root   RootIdentity
	Policy Policy
}

// Snapshot is the set of profiles currently known to the caller.
type Snapshot []Profile

func (s Snapshot) lookup(id, email string) (Profile, bool) {
	if id != "" {
		for _, p := range s {
			if p.ID == id {
				return p, true
			}
		}
	}
	if email != "" {
		for _, p := range s {
			if strings.EqualFold(p.Email, email) {
				return p, true
			}
		}
	}
	return Profile{}, false
}

// Derive computes the standing of the identity (id, email). The profile is
// taken from the snapshot, then from lastKnown, and otherwise defaults to
// common. The root identity always derives as god/Poseidon.
func (r Rules) Derive(id, email string, snapshot Snapshot, lastKnown *Profile) Standing {
	prof, ok := snapshot.lookup(id, email)
	if !ok && lastKnown != nil && (lastKnown.ID == id || (email != "" && strings.EqualFold(lastKnown.Email, email))) {
		prof, ok = *lastKnown, true
	}
	if !ok {
		prof = Profile{ID: id, Email: email, Rank: RankCommon}
	}
	prof, _ = r.Reconcile(prof)
	if prof.ID == "" {
		prof.ID = id
	}
	if prof.Email == "" {
		prof.Email = email
	}
	return r.standing(prof)
}

// StandingOf derives the standing of a stored profile.
func (r Rules) StandingOf(p Profile) Standing {
	p, _ = r.Reconcile(p)
	return r.standing(p)
}

func (r Rules) standing(p Profile) Standing {
	st := Standing{
		UserID:     p.ID,
		Email:      p.Email,
		Rank:       p.Rank,
		SubRank:    p.SubRank,
		Department: p.Department,
		RoleTitle:  p.RoleTitle,
		IsRoot:     r.Root.Matches(p.ID, p.Email),
	}
	st.IsGod = st.Rank == RankGod
	st.IsDepartmentHead = strings.Contains(st.RoleTitle, "Head") || st.Rank == RankElite || st.Rank == RankLegendary
	st.IsAstroPrivileged = st.IsGod || (r.Policy.isAstroDepartment(st.Department) &&
		(st.RoleTitle == "Head" || st.Rank == RankElite || st.Rank == RankLegendary))
	st.IsPresident = r.Policy.isPresidentOffice(st.Department)
	return st
}

// Reconcile corrects a stored profile and reports whether anything changed:
// the root identity is forced to god/Poseidon, Poseidon is stripped from any
// other identity, unknown ranks become common and non-god profiles lose their
// sub-rank.
func (r Rules) Reconcile(p Profile) (Profile, bool) {
	orig := p
	p.Rank = ParseRank(string(p.Rank))
	if sr, ok := ParseSubRank(string(p.SubRank)); ok {
		p.SubRank = sr
	} else {
		p.SubRank = SubRankNone
	}
	if r.Root.Matches(p.ID, p.Email) {
		p.Rank = RankGod
		p.SubRank = SubRankPoseidon
	} else {
		if p.SubRank == SubRankPoseidon {
			p.SubRank = SubRankNone
		}
		if p.Rank != RankGod {
			p.SubRank = SubRankNone
		}
	}
	return p, p.Rank != orig.Rank || p.SubRank != orig.SubRank
}

// RequiresGod reports whether only a god may decide the request.
func (r Rules) RequiresGod(req AdminRequest) bool {
	if req.Type == RequestAdminAccess {
		return true
	}
	return strings.Contains(req.RoleTitle, "Head") || r.Policy.isHeadTitle(req.RoleTitle) || r.Policy.isTopOffice(req.Department)
}

// CanDecide reports whether approver may approve or reject req.
func (r Rules) CanDecide(approver Standing, req AdminRequest) bool {
	if approver.IsGod {
		return true
	}
	if r.RequiresGod(req) {
		return false
	}
	return approver.IsDepartmentHead && approver.Department != "" &&
		strings.EqualFold(strings.TrimSpace(approver.Department), strings.TrimSpace(req.Department))
}

// PromotedRank applies the rank precedence for an approved role or job
// request: president offices rank elite, head titles and other top offices
// rank legendary, members rank rare, anything else keeps current. Gods keep
// their rank.
func (r Rules) PromotedRank(current Rank, department, roleTitle string) Rank {
	switch {
	case current == RankGod:
		return current
	case r.Policy.isPresidentOffice(department):
		return RankElite
	case strings.Contains(roleTitle, "Head") || r.Policy.isHeadTitle(roleTitle) || r.Policy.isTopOffice(department):
		return RankLegendary
	case strings.EqualFold(strings.TrimSpace(roleTitle), "Member"):
		return RankRare
	}
	return current
}

package club

import (
	"fmt"
	"strings"
)

// Predicate is the capability a dashboard section requires.
type Predicate string

const (
	RequiresNone            Predicate = "none"
	RequiresGod             Predicate = "isGod"
	RequiresDepartmentHead  Predicate = "isDepartmentHead"
	RequiresAstroPrivileged Predicate = "isAstroPrivileged"
)

// Allows evaluates the predicate against a standing.
func (p Predicate) Allows(st Standing) bool {
	switch p {
	case RequiresNone:
		return true
	case RequiresGod:
		return st.IsGod
	case RequiresDepartmentHead:
		return st.IsDepartmentHead
	case RequiresAstroPrivileged:
		return st.IsAstroPrivileged
	}
	return false
}

// Section is one navigable dashboard area.
type Section struct {
	ID       string    `json:"id"`
	Label    string    `json:"label"`
	Requires Predicate `json:"requires"`
}

// Sections is the dashboard capability table.
var Sections = []Section{
	{ID: "profile", Label: "My Profile", Requires: RequiresNone},
	{ID: "admin", Label: "Command Center", Requires: RequiresGod},
	{ID: "ranks", Label: "Rank Library", Requires: RequiresNone},
	{ID: "users", Label: "Crew Directory", Requires: RequiresNone},
	{ID: "photography", Label: "Astrophotography", Requires: RequiresNone},
	{ID: "studio", Label: "Astro Studio", Requires: RequiresAstroPrivileged},
	{ID: "events", Label: "Events & Activities", Requires: RequiresNone},
	{ID: "about", Label: "About Club", Requires: RequiresNone},
	{ID: "register", Label: "Registration", Requires: RequiresNone},
	{ID: "requests", Label: "Department Requests", Requires: RequiresDepartmentHead},
}

// LookupSection finds a section by id.
func LookupSection(id string) (Section, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, s := range Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

// VisibleSections lists the sections the standing may open.
func VisibleSections(st Standing) []Section {
	out := make([]Section, 0, len(Sections))
	for _, s := range Sections {
		if s.Requires.Allows(st) {
			out = append(out, s)
		}
	}
	return out
}

// Navigate returns the section that is active after trying to open target.
// A denied or unknown target leaves current active and returns an error.
func Navigate(st Standing, current, target string) (string, error) {
	sec, ok := LookupSection(target)
	if !ok {
		return current, fmt.Errorf("%w: unknown section %q", ErrInvalidInput, target)
	}
	if !sec.Requires.Allows(st) {
		return current, fmt.Errorf("%w: %s requires %s", ErrAccessDenied, sec.ID, sec.Requires)
	}
	return sec.ID, nil
}

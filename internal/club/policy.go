package club

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy is the organisational data the rank rules depend on. It is loaded
// from YAML so office names and the directory membership rule can change
// without a release.
type Policy struct {
	// TopOffices are departments whose requests only a god may approve and
	// whose holders rank legendary.
	TopOffices []string `yaml:"top_offices"`
	// PresidentOffices are top offices that rank elite and may host events.
	PresidentOffices []string `yaml:"president_offices"`
	// HeadTitles mark a role title as head tier when it contains one of them.
	HeadTitles []string `yaml:"head_titles"`
	// AstroDepartments identify the astrophotography unit.
	AstroDepartments []string `yaml:"astro_departments"`
	// Membership decides who counts as a current member in the directory.
	Membership []MembershipRule `yaml:"membership"`
}

// MembershipRule matches when the rank is listed and, if Departments is not
// empty, the department is listed too.
type MembershipRule struct {
	Ranks       []Rank   `yaml:"ranks"`
	Departments []string `yaml:"departments,omitempty"`
}

// DefaultPolicy mirrors the club's current organisation.
func DefaultPolicy() Policy {
	return Policy{
		TopOffices:       []string{"President", "Vice President", "General Secretary"},
		PresidentOffices: []string{"President"},
		HeadTitles:       []string{"Head", "Telescope Handler"},
		AstroDepartments: []string{"Astrophotography"},
		Membership: []MembershipRule{
			{Ranks: []Rank{RankGod, RankElite, RankLegendary, RankRare}},
			{Ranks: []Rank{RankEpic}, Departments: []string{"PR & Branding"}},
		},
	}
}

// LoadPolicy reads a YAML policy file. Sections missing from the file keep
// their defaults. An empty path returns DefaultPolicy.
func LoadPolicy(path string) (Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes YAML policy data on top of DefaultPolicy.
func ParsePolicy(data []byte) (Policy, error) {
	var raw Policy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Policy{}, fmt.Errorf("%w: policy: %v", ErrInvalidInput, err)
	}
	p := DefaultPolicy()
	if raw.TopOffices != nil {
		p.TopOffices = raw.TopOffices
	}
	if raw.PresidentOffices != nil {
		p.PresidentOffices = raw.PresidentOffices
	}
	if raw.HeadTitles != nil {
		p.HeadTitles = raw.HeadTitles
	}
	if raw.AstroDepartments != nil {
		p.AstroDepartments = raw.AstroDepartments
	}
	if raw.Membership != nil {
		p.Membership = raw.Membership
	}
	for i, rule := range p.Membership {
		for _, r := range rule.Ranks {
			if !r.Valid() {
				return Policy{}, fmt.Errorf("%w: membership rule %d: unknown rank %q", ErrInvalidInput, i, r)
			}
		}
	}
	return p, nil
}

// CurrentMember applies the membership rules to a profile.
func (p Policy) CurrentMember(prof Profile) bool {
	for _, rule := range p.Membership {
		if !containsRank(rule.Ranks, prof.Rank) {
			continue
		}
		if len(rule.Departments) == 0 || containsFold(rule.Departments, prof.Department) {
			return true
		}
	}
	return false
}

func (p Policy) isTopOffice(department string) bool {
	return containsFold(p.TopOffices, department)
}

func (p Policy) isPresidentOffice(department string) bool {
	return containsFold(p.PresidentOffices, department)
}

func (p Policy) isAstroDepartment(department string) bool {
	return containsFold(p.AstroDepartments, department)
}

func (p Policy) isHeadTitle(title string) bool {
	title = strings.ToLower(title)
	for _, h := range p.HeadTitles {
		if h != "" && strings.Contains(title, strings.ToLower(h)) {
			return true
		}
	}
	return false
}

func containsRank(list []Rank, r Rank) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, x := range list {
		if strings.EqualFold(strings.TrimSpace(x), s) {
			return true
		}
	}
	return false
}

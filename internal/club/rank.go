package club

import "strings"

// Rank is the coarse privilege tier of a member.
type Rank string

const (
	RankGod         Rank = "god"
	RankElite       Rank = "elite"
	RankLegendary   Rank = "legendary"
	RankEpic        Rank = "epic"
	RankRare        Rank = "rare"
	RankCommon      Rank = "common"
	RankDegradation Rank = "degradation"
)

// Ranks lists every rank from highest to lowest.
var Ranks = []Rank{RankGod, RankElite, RankLegendary, RankEpic, RankRare, RankCommon, RankDegradation}

// ParseRank maps a stored value onto the closed set. Unknown values are common.
func ParseRank(s string) Rank {
	r := Rank(strings.ToLower(strings.TrimSpace(s)))
	if r.Valid() {
		return r
	}
	return RankCommon
}

// Valid reports whether r is one of the known ranks.
func (r Rank) Valid() bool {
	for _, k := range Ranks {
		if r == k {
			return true
		}
	}
	return false
}

// Level orders ranks; higher is more privileged. Unknown ranks sit at common.
func (r Rank) Level() int {
	for i, k := range Ranks {
		if r == k {
			return len(Ranks) - i
		}
	}
	return RankCommon.Level()
}

// SubRank specialises the god rank.
type SubRank string

const (
	SubRankNone     SubRank = ""
	SubRankZeus     SubRank = "Zeus"
	SubRankApollo   SubRank = "Apollo"
	SubRankPoseidon SubRank = "Poseidon"
)

// ParseSubRank accepts any casing of the three sub-ranks.
func ParseSubRank(s string) (SubRank, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return SubRankNone, true
	case "zeus":
		return SubRankZeus, true
	case "apollo":
		return SubRankApollo, true
	case "poseidon":
		return SubRankPoseidon, true
	}
	return SubRankNone, false
}

// RankInfo is one entry of the rank library shown to members.
type RankInfo struct {
	Rank          Rank          `json:"id"`
	Label         string        `json:"label"`
	Description   string        `json:"description"`
	Requirement   string        `json:"requirement"`
	SubCategories []SubRankInfo `json:"sub_categories,omitempty"`
}

// SubRankInfo describes a god sub-rank.
type SubRankInfo struct {
	Name        SubRank `json:"name"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
}

// RankLibrary returns the catalogue of ranks, highest first.
func RankLibrary() []RankInfo {
	return []RankInfo{
		{
			Rank: RankGod, Label: "GOD",
			Description: "The Creator of the Cosmos.",
			Requirement: "Achieve total mastery and contribute to the code of the universe. No one can achieve this level except 3.",
			SubCategories: []SubRankInfo{
				{Name: SubRankZeus, Title: "The Ruler", Description: "Commander of the cosmic heavens"},
				{Name: SubRankApollo, Title: "The Visionary", Description: "Bringer of light and truth"},
				{Name: SubRankPoseidon, Title: "The Shaper", Description: "Master of the deep void"},
			},
		},
		{Rank: RankElite, Label: "ELITE", Description: "The Vanguard of the Fleet.",
			Requirement: "Reserved for the President, Distinguished Alumni, and Authors of Research Papers."},
		{Rank: RankLegendary, Label: "LEGENDARY", Description: "A Myth Among Stars.",
			Requirement: "Held a leading post: Vice President, General Secretary, Tech/Finance/Content/Design/Web Head, or Telescope Handler."},
		{Rank: RankEpic, Label: "EPIC", Description: "Hero of the Void.",
			Requirement: "Awarded to Event Winners and the PR & Branding Team."},
		{Rank: RankRare, Label: "RARE", Description: "Distinguished Explorer.",
			Requirement: "Participate actively in events or work under a leadership post."},
		{Rank: RankCommon, Label: "COMMON", Description: "The Journey Begins.",
			Requirement: "Join the Astro Club."},
		{Rank: RankDegradation, Label: "DEGRADATION", Description: "Fallen Star.",
			Requirement: "Violate the intergalactic treaty, violence, inactivity, or misconduct."},
	}
}

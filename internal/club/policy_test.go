package club

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultMembershipRule(t *testing.T) {
	p := DefaultPolicy()
	assert.True(t, p.CurrentMember(Profile{Rank: RankRare}))
	assert.True(t, p.CurrentMember(Profile{Rank: RankEpic, Department: "PR & Branding"}))
	assert.False(t, p.CurrentMember(Profile{Rank: RankEpic, Department: "Tech"}))
	assert.False(t, p.CurrentMember(Profile{Rank: RankCommon}))
	assert.False(t, p.CurrentMember(Profile{Rank: RankDegradation}))
}

func TestLoadPolicyOverridesSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
astro_departments: ["Astro Imaging"]
membership:
  - ranks: [god, elite, legendary, epic, rare]
`), 0o600))

	p, err := LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"Astro Imaging"}, p.AstroDepartments)
	assert.Equal(t, DefaultPolicy().TopOffices, p.TopOffices)
	assert.True(t, p.CurrentMember(Profile{Rank: RankEpic, Department: "Tech"}))

	r := Rules{Policy: p}
	st := r.StandingOf(Profile{ID: "x", Rank: RankRare, Department: "astro imaging", RoleTitle: "Head"})
	assert.True(t, st.IsAstroPrivileged)
}

func TestParsePolicyRejectsUnknownFieldsAndRanks(t *testing.T) {
	_, err := ParsePolicy([]byte("offices: [x]\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ParsePolicy([]byte("membership:\n  - ranks: [wizard]\n"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLoadPolicyEmptyPath(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy(), p)
}

package club

import (
	"context"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"astroclub.org/internal/auth"
)

var (
	genRank    = gen.OneConstOf(RankGod, RankElite, RankLegendary, RankEpic, RankRare, RankCommon, RankDegradation, Rank("bogus"))
	genSubRank = gen.OneConstOf(SubRankNone, SubRankZeus, SubRankApollo, SubRankPoseidon)
	genDept    = gen.OneConstOf("", "Tech", "Design", "Astrophotography", "President", "Vice President")
	genTitle   = gen.OneConstOf("", "Member", "Head", "Co-Head", "Telescope Handler")
)

func genProfile(id string) gopter.Gen {
	return gopter.CombineGens(genRank, genSubRank, genDept, genTitle).Map(func(v []interface{}) Profile {
		return Profile{
			ID:         id,
			Email:      id + "@club.test",
			Rank:       v[0].(Rank),
			SubRank:    v[1].(SubRank),
			Department: v[2].(string),
			RoleTitle:  v[3].(string),
		}
	})
}

func genSnapshot() gopter.Gen {
	return gopter.CombineGens(genProfile("root-1"), genProfile("u1"), genProfile("u2"), genProfile("u3")).
		Map(func(v []interface{}) Snapshot {
			out := make(Snapshot, len(v))
			for i := range v {
				out[i] = v[i].(Profile)
			}
			return out
		})
}

func TestDerivationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)
	r := testRules()
	idents := []string{"root-1", "u1", "u2", "u3", "unknown"}

	properties.Property("derive is a pure function of the snapshot", prop.ForAll(
		func(snap Snapshot) bool {
			forward := make([]Standing, len(idents))
			for i, id := range idents {
				forward[i] = r.Derive(id, "", snap, nil)
			}
			for i := len(idents) - 1; i >= 0; i-- {
				if !reflect.DeepEqual(forward[i], r.Derive(idents[i], "", snap, nil)) {
					return false
				}
			}
			return true
		},
		genSnapshot(),
	))

	properties.Property("root derives god/Poseidon and nobody else holds Poseidon", prop.ForAll(
		func(snap Snapshot) bool {
			for _, id := range idents {
				st := r.Derive(id, "", snap, nil)
				if id == "root-1" {
					if st.Rank != RankGod || st.SubRank != SubRankPoseidon {
						return false
					}
				} else if st.SubRank == SubRankPoseidon {
					return false
				}
			}
			return true
		},
		genSnapshot(),
	))

	properties.Property("reconcile is idempotent", prop.ForAll(
		func(p Profile) bool {
			once, _ := r.Reconcile(p)
			twice, changed := r.Reconcile(once)
			return !changed && once == twice
		},
		genProfile("u1"),
	))

	properties.TestingRun(t)
}

// Applies random approvals and assignments and checks that Poseidon never
// lands on anyone but the creator and that decided requests never reopen.
func TestWorkflowNeverLeaksPoseidon(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	type step struct {
		Actor   int
		Target  int
		Approve bool
		Assign  bool
		Rank    Rank
		SubRank SubRank
		Dept    string
		Title   string
	}
	genStep := gopter.CombineGens(
		gen.IntRange(0, 3), gen.IntRange(0, 3), gen.Bool(), gen.Bool(), genRank, genSubRank, genDept, genTitle,
	).Map(func(v []interface{}) step {
		return step{
			Actor: v[0].(int), Target: v[1].(int), Approve: v[2].(bool), Assign: v[3].(bool),
			Rank: v[4].(Rank), SubRank: v[5].(SubRank), Dept: v[6].(string), Title: v[7].(string),
		}
	})

	properties.Property("poseidon stays with the creator", prop.ForAll(
		func(steps []step) bool {
			ctx := context.Background()
			store := NewMemoryStore()
			svc := NewService(store, testRules())
			people := []auth.Identity{rootIdent, {ID: "u1"}, {ID: "u2"}, {ID: "u3"}}
			for _, p := range people {
				if _, _, err := svc.Bootstrap(ctx, p); err != nil {
					return false
				}
			}
			_, _ = svc.AssignRank(ctx, rootIdent, "u1", RankGod, SubRankZeus)

			decided := map[string]RequestStatus{}
			for _, s := range steps {
				actor, target := people[s.Actor], people[s.Target]
				if s.Assign {
					_, _ = svc.AssignRank(ctx, actor, target.ID, s.Rank, s.SubRank)
					continue
				}
				var req AdminRequest
				var err error
				if s.Dept == "" {
					req, err = svc.RegisterAdmin(ctx, target)
				} else {
					req, err = svc.SubmitApplication(ctx, target, RequestJobApplication, s.Dept, s.Title)
				}
				if err != nil {
					continue
				}
				if s.Approve {
					_, _ = svc.Approve(ctx, actor, req.ID, s.SubRank)
				} else {
					_, _ = svc.Reject(ctx, actor, req.ID)
				}
				if got, err := store.GetRequest(ctx, req.ID); err == nil && got.Status.Terminal() {
					decided[got.ID] = got.Status
				}
			}

			for id, status := range decided {
				got, err := store.GetRequest(ctx, id)
				if err != nil || got.Status != status {
					return false
				}
			}
			profiles, _ := store.ListProfiles(ctx)
			for _, p := range profiles {
				if p.SubRank == SubRankPoseidon && p.ID != rootIdent.ID {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genStep),
	))

	properties.TestingRun(t)
}

package grouping

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemplumb/pkg/domain"
)

func TestGroupByPartitionLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	items := make([]int, 200)
	for i := range items {
		items[i] = rng.Intn(1000)
	}
	keys := map[string]func(int) int{
		"mod7":     func(v int) int { return v % 7 },
		"identity": func(v int) int { return v },
		"constant": func(int) int { return 0 },
	}
	for name, key := range keys {
		t.Run(name, func(t *testing.T) {
			buckets := GroupBy(items, key)
			var union []int
			for i, b := range buckets {
				require.NotEmpty(t, b.Members)
				if i > 0 {
					assert.Less(t, buckets[i-1].Key, b.Key)
				}
				for _, m := range b.Members {
					assert.Equal(t, b.Key, key(m))
				}
				union = append(union, b.Members...)
			}
			want := append([]int(nil), items...)
			sort.Ints(want)
			sort.Ints(union)
			assert.Equal(t, want, union)
		})
	}
	assert.Empty(t, GroupBy([]int(nil), func(v int) int { return v }))
}

func TestGroupByStable(t *testing.T) {
	type item struct {
		key string
		pos int
	}
	in := []item{{"b", 0}, {"a", 1}, {"b", 2}, {"a", 3}, {"c", 4}, {"b", 5}}
	buckets := GroupBy(in, func(i item) string { return i.key })
	require.Len(t, buckets, 3)
	assert.Equal(t, []item{{"a", 1}, {"a", 3}}, buckets[0].Members)
	assert.Equal(t, []item{{"b", 0}, {"b", 2}, {"b", 5}}, buckets[1].Members)
	assert.Equal(t, "b", in[0].key, "input untouched")

	idx := Index(buckets)
	assert.Len(t, idx["c"], 1)
}

var (
	anti = domain.Material{InChIKey: "ANTI-KEY-N", Name: "dcm", MolecularWeight: 84.93, Density: 1.3266, Category: domain.CategorySolvent}
	gbl  = domain.Material{InChIKey: "GBL-KEY-N", Name: "gbl", MolecularWeight: 86.09, Density: 1.12, Category: domain.CategorySolvent}
	org  = domain.Material{InChIKey: "ORG-KEY-N", Name: "organic", MolecularWeight: 200, Density: 1.1, Category: domain.CategoryOrganic}
	lead = domain.Material{InChIKey: "LEAD-KEY-N", Name: "lead iodide", MolecularWeight: 461.01, Density: 6.16, Category: domain.CategoryInorganic}
)

func ptr(v float64) *float64 { return &v }

func mustReagent(t *testing.T, added float64, prepare *float64, parts ...domain.ReagentMaterial) domain.Reagent {
	t.Helper()
	c := make(map[int]domain.ReagentMaterial)
	for i, p := range parts {
		c[i] = p
	}
	r, err := domain.NewReagent(c, added, prepare)
	require.NoError(t, err)
	return r
}

// experiment builds a reaction with an antisolvent, one organic stock and,
// when withLead is set, an inorganic stock.
func experiment(t *testing.T, id, version string, orgGrams float64, withLead bool) domain.Reaction {
	t.Helper()
	reagents := map[int]domain.Reagent{
		0: mustReagent(t, 600e-6, ptr(10e-3), domain.ReagentMaterial{Material: anti, Amount: 10, Unit: domain.UnitMilliliter}),
		1: mustReagent(t, 200e-6, ptr(1e-3),
			domain.ReagentMaterial{Material: org, Amount: orgGrams, Unit: domain.UnitGram},
			domain.ReagentMaterial{Material: gbl, Amount: 1, Unit: domain.UnitMilliliter}),
	}
	categories := map[string]string{"organic_0": org.InChIKey, "solvent_0": gbl.InChIKey}
	if withLead {
		reagents[2] = mustReagent(t, 100e-6, ptr(1e-3),
			domain.ReagentMaterial{Material: lead, Amount: 0.4, Unit: domain.UnitGram},
			domain.ReagentMaterial{Material: gbl, Amount: 1, Unit: domain.UnitMilliliter})
		categories["inorganic_0"] = lead.InChIKey
	}
	moles := make(map[string]float64)
	for _, r := range reagents {
		table, _ := r.MolarityTable()
		for k, v := range table {
			moles[k] += v * r.VolumeAdded
		}
	}
	r, err := domain.NewReaction(domain.Reaction{
		Identifier:          id,
		ReactionTime:        600,
		ReactionTemperature: 90,
		ExperimentVersion:   version,
		Reagents:            reagents,
		Properties:          domain.ReactionProperties{CategoryIdentifiers: categories, Moles: moles},
	})
	require.NoError(t, err)
	return r
}

func TestRepresentativeAndDominance(t *testing.T) {
	small := experiment(t, "2020-01-01_a", "3.0", 0.1, false)
	big := experiment(t, "2020-01-01_b", "3.0", 0.1, true)
	big2 := experiment(t, "2020-01-01_c", "3.0", 0.2, true)

	assert.Equal(t, "2020-01-01_b", Representative([]domain.Reaction{small, big, big2}).Identifier)
	assert.Equal(t, "2020-01-01_a", Representative([]domain.Reaction{small}).Identifier)
	assert.NoError(t, CheckDominance(big, []domain.Reaction{small, big2}))
	assert.True(t, errors.Is(CheckDominance(small, []domain.Reaction{big}), domain.ErrNonSubsetGroup))
}

func TestPartition(t *testing.T) {
	rs := []domain.Reaction{
		experiment(t, "2020-01-02_a", "3.0", 0.1, false),
		experiment(t, "2020-01-01_b", "3.0", 0.1, false),
		experiment(t, "2020-01-01_c", "2.9", 0.1, false),
		experiment(t, "2020-01-02_d", "3.0", 0.1, false),
	}
	groups := Partition(rs)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"2020-01-01_c"}, identifiers(groups[0]))
	assert.Equal(t, []string{"2020-01-01_b"}, identifiers(groups[1]))
	assert.Equal(t, []string{"2020-01-02_a", "2020-01-02_d"}, identifiers(groups[2]))
}

func TestEngineRun(t *testing.T) {
	rs := []domain.Reaction{
		experiment(t, "2020-01-01_a", "3.0", 0.1, false),
		experiment(t, "2020-01-01_b", "3.0", 0.2, true),
		experiment(t, "2020-01-02_c", "3.0", 0.1, false),
		experiment(t, "2020-01-02_d", "3.0", 0.3, false),
	}

	var first Result
	for i, workers := range []int{1, 3} {
		res, err := New(WithWorkers(workers)).Run(context.Background(), rs)
		require.NoError(t, err)
		require.Empty(t, res.Failed)
		require.Len(t, res.Groups, 2)

		assert.Equal(t, []string{"3.0_1%0%1%0", "3.0_1%1%1%0"}, res.SortedKeys())
		assert.Equal(t, []string{"2020-01-01_a", "2020-01-01_b"}, res.Buckets["3.0_1%1%1%0"])
		assert.Equal(t, []string{"2020-01-02_c", "2020-01-02_d"}, res.Buckets["3.0_1%0%1%0"])
		assert.Equal(t, "2020-01-01_b", res.Groups[0].Representative)

		// organic stocks at 0.1, 0.2 and 0.3 g plus one lead stock
		assert.Equal(t, 4, res.Hull.Len())
		assert.Equal(t, []string{"GBL-KEY-N", "LEAD-KEY-N", "ORG-KEY-N"}, res.Hull.Identifiers())

		if i == 0 {
			first = res
			continue
		}
		assert.True(t, first.Hull.Equal(res.Hull))
		assert.Equal(t, first.Buckets, res.Buckets)
	}
}

func TestEngineIsolatesFailedGroups(t *testing.T) {
	ok := experiment(t, "2020-01-01_a", "3.0", 0.1, false)
	mixed := experiment(t, "2020-01-02_b", "3.0", 0.1, false)
	bigger := experiment(t, "2020-01-02_c", "3.0", 0.1, true)
	bigger.Properties.CategoryIdentifiers = map[string]string{"acid_0": "FAH-KEY-N"}
	ambiguous := experiment(t, "2020-01-03_d", "3.0", 0.1, false)
	ambiguous.Reagents[3] = mustReagent(t, 700e-6, nil, domain.ReagentMaterial{Material: gbl, Amount: 1, Unit: domain.UnitMilliliter})

	res, err := New(WithWorkers(2)).Run(context.Background(), []domain.Reaction{ok, mixed, bigger, ambiguous})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	require.Len(t, res.Failed, 2)

	assert.True(t, errors.Is(res.Failed[0].Err, domain.ErrNonSubsetGroup))
	assert.Equal(t, "2020-01-02", res.Failed[0].Err.Header)
	assert.True(t, errors.Is(res.Failed[1].Err, domain.ErrAmbiguousAntisolvent))
	assert.Equal(t, []string{"2020-01-03_d"}, res.Failed[1].Members)
	assert.Equal(t, []string{"2020-01-01_a"}, res.Buckets["3.0_1%0%1%0"])
}

func TestEngineFlagsMissingPreparation(t *testing.T) {
	r := experiment(t, "2020-01-01_a", "3.0", 0.1, true)
	noPrep := r.Reagents[2]
	noPrep.VolumePrepare = nil
	r.Reagents[2] = noPrep

	res, err := New().Run(context.Background(), []domain.Reaction{r})
	require.NoError(t, err)
	require.Len(t, res.Groups, 1)
	assert.Equal(t, 1, res.Findings.Count(RuleMissingPreparation))
	assert.Equal(t, 1, res.Hull.Len())
}

func TestEngineCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().Run(ctx, []domain.Reaction{experiment(t, "2020-01-01_a", "3.0", 0.1, false)})
	assert.ErrorIs(t, err, context.Canceled)
}

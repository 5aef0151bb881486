package pipeline

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"chemplumb/internal/columns"
	"chemplumb/pkg/domain"
)

const (
	antiKey = "ANTI-KEY-N"
	orgKey  = "ORG-KEY-N"
)

const inventoryCSV = `InChI Key (ID),InChI=,Chemical Name,Molecular Weight (g/mol),Density            (g/mL),Chemical Category
ANTI-KEY-N,InChI=1S/CH2Cl2,Dichloromethane,84.93,1.3266,solvent
ORG-KEY-N,InChI=1S/x,Organic,200,1.1,organic
LEAD-KEY-N,InChI=1S/PbI2,Lead iodide,461.01,6.16,inorganic
`

// record is an antisolvent plus one organic stock of orgGrams in 2 mL.
func record(id, outcome, version, orgGrams string) map[string]string {
	return map[string]string{
		"name":                                           id,
		"_out_crystalscore":                              outcome,
		"_raw_expver":                                    version,
		"_rxn_reactiontime_s":                            "600",
		"_rxn_temperature_c":                             "90",
		"_raw_reagent_0_volume":                          "600",
		"_raw_reagent_0_chemicals_0_inchikey":            antiKey,
		"_raw_reagent_0_chemicals_0_actual_amount":       "10",
		"_raw_reagent_0_chemicals_0_actual_amount_units": "milliliter",
		"_raw_reagent_0_instructions_2_volume":           "10",
		"_raw_reagent_0_instructions_2_volume_units":     "milliliter",
		"_raw_reagent_1_volume":                          "400",
		"_raw_reagent_1_chemicals_0_inchikey":            orgKey,
		"_raw_reagent_1_chemicals_0_actual_amount":       orgGrams,
		"_raw_reagent_1_chemicals_0_actual_amount_units": "gram",
		"_raw_reagent_1_instructions_2_volume":           "2",
		"_raw_reagent_1_instructions_2_volume_units":     "milliliter",
		"_raw_organic_0_inchikey":                        orgKey,
		"_raw_solvent_0_inchikey":                        antiKey,
		"_raw_mmol_" + orgKey:                            "0.02",
		"_raw_mmol_" + antiKey:                           "9.37",
		"_feat_organic_0_weight":                         "200",
	}
}

func writeCSV(t *testing.T, dir, name string, rows ...map[string]string) string {
	t.Helper()
	set := map[string]struct{}{}
	for _, r := range rows {
		for k := range r {
			set[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(set))
	for k := range set {
		header = append(header, k)
	}
	sort.Strings(header)

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	for _, r := range rows {
		line := make([]string, len(header))
		for i, h := range header {
			line[i] = r[h]
		}
		require.NoError(t, w.Write(line))
	}
	w.Flush()
	require.NoError(t, w.Error())
	require.NoError(t, f.Close())
	return path
}

func manifest(t *testing.T) Manifest {
	t.Helper()
	dir := t.TempDir()
	inv := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(inv, []byte(inventoryCSV), 0o644))
	iodides := writeCSV(t, dir, "iodides.csv",
		record("2020-05-01T10_30_R1", "4", "3.0", "0.02"),
		record("2020-05-01T10_30_R2", "1", "3.0", "0.04"),
		record("2018-11-02_R3", "2", "3.0", "0.02"),
		record("2020-05-02_R4", "3", "2.0", "0.02"),
		record("2020-05-01_R5", "", "3.0", "0.02"),
	)
	alloys := writeCSV(t, dir, "alloys.csv",
		record("2020-05-01T10_30_R1", "0", "3.0", "0.02"),
		record("2020-06-01_R6", "", "3.0", "0.02"),
	)
	return Manifest{
		Inventory: inv,
		Tables: []TableSource{
			{Name: "iodides", Path: iodides},
			{Name: "alloys", Path: alloys, TolerateMissingOutcome: true},
		},
	}
}

func TestRun(t *testing.T) {
	m := manifest(t)
	a, err := New(WithWorkers(2), WithLogger(zaptest.NewLogger(t))).Run(context.Background(), m)
	require.NoError(t, err)
	require.NoError(t, a.Validate())

	require.Len(t, a.Reactions, 2)
	assert.Equal(t, "2020-05-01T10_30_R1", a.Reactions[0].Identifier)
	assert.Equal(t, "2020-05-01T10_30_R2", a.Reactions[1].Identifier)
	require.NotNil(t, a.Reactions[0].Outcome)
	assert.Equal(t, 0, *a.Reactions[0].Outcome, "the later table's copy replaces the first")

	assert.Equal(t, map[string][]string{"3.0_1%0%0%0": {"2020-05-01T10_30_R1", "2020-05-01T10_30_R2"}}, a.Buckets)
	require.Len(t, a.Groups, 1)
	assert.Equal(t, "2020-05-01T10_30", a.Groups[0].Header)

	assert.Equal(t, []string{orgKey}, a.SamplingSpace.Identifiers())
	assert.Equal(t, 2, a.SamplingSpace.Len())

	require.Len(t, a.Summaries, 2)
	assert.InDelta(t, 0.05, a.Summaries["2020-05-01T10_30_R1"].Organic[orgKey], 1e-12)
	assert.Equal(t, antiKey, a.Summaries["2020-05-01T10_30_R2"].AntisolventIdentity)

	assert.Equal(t, map[string]map[string]float64{orgKey: {"_feat__weight": 200}}, a.Features)
	assert.Len(t, a.Inventory, 3)

	rep := a.Metadata.Report
	assert.Equal(t, 6, rep.Parsed)
	assert.Equal(t, 1, rep.Rejected)
	assert.Equal(t, map[string]int{columns.TargetColumn: 1}, rep.Reasons)
	assert.Equal(t, 4, rep.Reactions)
	assert.Equal(t, 2, rep.Valid)
	assert.Empty(t, rep.FailedGroups)
	assert.False(t, rep.Findings.HasBlocking())
	require.Len(t, rep.Tables, 2)
	assert.Equal(t, 5, rep.Tables[0].Rows)
	assert.Equal(t, 3, rep.Tables[0].Workflow3)
	assert.Equal(t, 3, rep.Tables[0].Added)
	assert.Equal(t, 2, rep.Tables[1].Workflow3)
	assert.Equal(t, 1, rep.Tables[1].Added)
	assert.Equal(t, 1, rep.Tables[1].Replaced)
	assert.Equal(t, "3", a.Metadata.ProtocolMarker)
}

func TestLaterTableReplacesEarlierCopy(t *testing.T) {
	dir := t.TempDir()
	inv := filepath.Join(dir, "inventory.csv")
	require.NoError(t, os.WriteFile(inv, []byte(inventoryCSV), 0o644))
	first := writeCSV(t, dir, "first.csv",
		record("2020-05-01T10_30_R1", "4", "3.0", "0.02"),
		record("2020-05-01T10_30_R2", "1", "3.0", "0.02"),
	)
	// R1 is re-exported without an outcome; R2 is re-exported under protocol 2.
	second := writeCSV(t, dir, "second.csv",
		record("2020-05-01T10_30_R1", "", "3.0", "0.02"),
		record("2020-05-01T10_30_R2", "2", "2.0", "0.02"),
	)
	m := Manifest{Inventory: inv, Tables: []TableSource{
		{Name: "first", Path: first},
		{Name: "second", Path: second, TolerateMissingOutcome: true},
	}}

	b, err := New().Collect(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, b.Reactions, 2)
	assert.Equal(t, "2020-05-01T10_30_R1", b.Reactions[0].Identifier)
	assert.False(t, b.Reactions[0].HasOutcome())
	require.NotNil(t, b.Reactions[1].Outcome)
	assert.Equal(t, 1, *b.Reactions[1].Outcome, "a non-workflow-3 copy never replaces")

	require.Len(t, b.Valid, 1)
	assert.Equal(t, "2020-05-01T10_30_R2", b.Valid[0].Identifier)
	assert.Equal(t, 1, b.Report.Tables[1].Replaced)
	assert.Equal(t, 0, b.Report.Tables[1].Added)
}

func TestRunDeterministicAcrossWorkers(t *testing.T) {
	m := manifest(t)
	one, err := New(WithWorkers(1)).Run(context.Background(), m)
	require.NoError(t, err)
	many, err := New(WithWorkers(8)).Run(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, one.Reactions, many.Reactions)
	assert.Equal(t, one.Buckets, many.Buckets)
	assert.Equal(t, one.Summaries, many.Summaries)
	assert.True(t, one.SamplingSpace.Equal(many.SamplingSpace))
	assert.Equal(t, one.Metadata.Report, many.Metadata.Report)
}

func TestExcludedHeaders(t *testing.T) {
	m := manifest(t)
	a, err := New(WithExcludedHeaders(nil)).Run(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Metadata.Report.Valid)
	assert.Contains(t, a.Summaries, "2018-11-02_R3")

	p := New(WithExcludedHeaders([]string{"2020-05-01"}))
	assert.True(t, p.isExcluded("2020-05-01T10_30"))
	assert.True(t, p.isExcluded("2020-05-01"))
	assert.False(t, p.isExcluded("2020-05-011"))
}

func TestRunSchemaDrift(t *testing.T) {
	m := manifest(t)
	drift := record("2020-05-01_R7", "1", "3.0", "0.02")
	drift["_raw_new_thing"] = "x"
	m.Tables = append(m.Tables, TableSource{Path: writeCSV(t, t.TempDir(), "drift.csv", drift)})

	_, err := New().Run(context.Background(), m)
	assert.ErrorIs(t, err, domain.ErrSchemaMismatch)
}

func TestManifestValidate(t *testing.T) {
	assert.Error(t, Manifest{}.Validate())
	assert.Error(t, Manifest{Inventory: "inv.csv"}.Validate())
	assert.Error(t, Manifest{Inventory: "inv.csv", Tables: []TableSource{{Name: "a"}}}.Validate())
	assert.Error(t, Manifest{Inventory: "inv.csv", Tables: []TableSource{{Path: "a.csv"}, {Path: "a.csv"}}}.Validate())
	assert.NoError(t, Manifest{Inventory: "inv.csv", Tables: []TableSource{{Path: "a.csv"}, {Name: "b", Path: "a.csv"}}}.Validate())

	_, err := New().Collect(context.Background(), Manifest{Inventory: "missing.csv", Tables: []TableSource{{Path: "a.csv"}}})
	assert.ErrorContains(t, err, "open inventory")
}

func TestFeatureSets(t *testing.T) {
	r1 := domain.Reaction{Properties: domain.ReactionProperties{Features: map[string]map[string]float64{
		"A": {"w": 1, "r": 2},
		"L": {"w": 3},
	}}}
	r2 := domain.Reaction{Properties: domain.ReactionProperties{Features: map[string]map[string]float64{
		"A": {"w": 5},
		"B": {"w": 1},
		"X": {"w": 1},
	}}}
	merged := MergeFeatures([]domain.Reaction{r1, r2})
	assert.Equal(t, map[string]float64{"w": 5, "r": 2}, merged["A"])

	cats := map[string]domain.Category{"A": domain.CategoryOrganic, "B": domain.CategoryOrganic, "L": domain.CategoryInorganic}
	lookup := func(id string) (domain.Category, bool) { c, ok := cats[id]; return c, ok }

	res := CheckFeatureSets(merged, lookup)
	require.Len(t, res.Violations, 2)
	for _, v := range res.Violations {
		assert.Equal(t, RuleFeatureSet, v.Rule)
		assert.Equal(t, string(domain.CategoryOrganic), v.SubjectID)
	}

	consistent := CheckFeatureSets(MergeFeatures([]domain.Reaction{r2}), lookup)
	assert.Empty(t, consistent.Violations)
}

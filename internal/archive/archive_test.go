package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemplumb/internal/blob"
	"chemplumb/internal/derive"
	"chemplumb/internal/grouping"
	"chemplumb/internal/hull"
	"chemplumb/pkg/domain"
)

var (
	anti = domain.Material{InChIKey: "ANTI-KEY-N", Name: "dcm", MolecularWeight: 84.93, Density: 1.3266, Category: domain.CategorySolvent}
	gbl  = domain.Material{InChIKey: "GBL-KEY-N", Name: "gbl", MolecularWeight: 86.09, Density: 1.12, Category: domain.CategorySolvent}
	org  = domain.Material{InChIKey: "ORG-KEY-N", Name: "organic", MolecularWeight: 200, Density: 1.1, Category: domain.CategoryOrganic}
)

func ptr(v float64) *float64 { return &v }

func fixture(t *testing.T) *Archive {
	t.Helper()
	antisolvent, err := domain.NewReagent(map[int]domain.ReagentMaterial{
		0: {Material: anti, Amount: 10, Unit: domain.UnitMilliliter},
	}, 600e-6, ptr(10e-3))
	require.NoError(t, err)
	stock, err := domain.NewReagent(map[int]domain.ReagentMaterial{
		0: {Material: org, Amount: 0.02, Unit: domain.UnitGram},
	}, 400e-6, ptr(2e-3))
	require.NoError(t, err)

	outcome := 4
	moles := map[string]float64{anti.InChIKey: 0.0938, org.InChIKey: 2e-5}
	r, err := domain.NewReaction(domain.Reaction{
		Identifier:          "2020-05-01T10_30_R1",
		Outcome:             &outcome,
		ReactionTime:        600,
		ReactionTemperature: 25,
		ExperimentVersion:   "3.0",
		Reagents:            map[int]domain.Reagent{0: antisolvent, 1: stock},
		Properties: domain.ReactionProperties{
			Features:            map[string]map[string]float64{org.InChIKey: {"feat_rings": 1}},
			CategoryIdentifiers: map[string]string{"organic_0": org.InChIKey},
			Moles:               moles,
		},
	})
	require.NoError(t, err)
	summary, _, err := derive.New().FromReaction(r)
	require.NoError(t, err)
	h, err := hull.FromReagentSet([]domain.Reagent{stock})
	require.NoError(t, err)

	key := grouping.BucketKey(r.ExperimentVersion, summary.Fingerprint)
	return &Archive{
		Metadata:  NewMetadata("3", Report{Parsed: 1, Reactions: 1, Valid: 1, Reasons: map[string]int{"target": 2}}),
		Reactions: []domain.Reaction{r},
		Buckets:   map[string][]string{key: {r.Identifier}},
		Groups: []grouping.Group{{
			Version: r.ExperimentVersion, Header: r.Header, Representative: r.Identifier,
			Fingerprint: summary.Fingerprint, Key: key, Members: []string{r.Identifier},
		}},
		Features:      r.Properties.Features,
		Summaries:     map[string]domain.WF3Data{r.Identifier: summary},
		Inventory:     []domain.Material{anti, gbl, org},
		SamplingSpace: h,
	}
}

func assertSameArchive(t *testing.T, want, got *Archive) {
	t.Helper()
	assert.Equal(t, want.Metadata.RunID, got.Metadata.RunID)
	assert.True(t, want.Metadata.Created.Equal(got.Metadata.Created))
	assert.Equal(t, want.Metadata.Report, got.Metadata.Report)
	assert.Equal(t, want.Reactions, got.Reactions)
	assert.Equal(t, want.Buckets, got.Buckets)
	assert.Equal(t, want.Groups, got.Groups)
	assert.Equal(t, want.Features, got.Features)
	assert.Equal(t, want.Summaries, got.Summaries)
	assert.Equal(t, want.Inventory, got.Inventory)
	assert.True(t, want.SamplingSpace.Equal(got.SamplingSpace), "sampling space %s != %s", want.SamplingSpace, got.SamplingSpace)
}

func TestCodecRoundTrip(t *testing.T) {
	a := fixture(t)
	require.NoError(t, a.Validate())

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, a))
	got, err := Decode(&buf)
	require.NoError(t, err)
	assertSameArchive(t, a, got)

	r, ok := got.Reaction("2020-05-01T10_30_R1")
	require.True(t, ok)
	require.NotNil(t, r.Outcome)
	assert.Equal(t, 4, *r.Outcome)
	assert.Equal(t, []string{"3.0_1%0%0%0"}, got.BucketKeys())
}

func TestDecodeRejectsOtherSchema(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`{"schema":99,"archive":{}}`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Decode(&buf)
	assert.ErrorIs(t, err, ErrSchemaVersion)

	_, err = Decode(bytes.NewReader([]byte("not gzip")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	a := fixture(t)
	a.Summaries["2020-05-01T10_30_R9"] = domain.WF3Data{Identifier: "2020-05-01T10_30_R9"}
	assert.ErrorContains(t, a.Validate(), "has no reaction")

	a = fixture(t)
	a.Reactions = append(a.Reactions, a.Reactions[0])
	assert.ErrorContains(t, a.Validate(), "duplicate reaction")

	a = fixture(t)
	a.Metadata.Schema = 0
	assert.ErrorIs(t, a.Validate(), ErrSchemaVersion)
}

func TestBlobStoreReplaces(t *testing.T) {
	ctx := context.Background()
	blobs, err := blob.Open(ctx, blob.Config{Driver: "memory"})
	require.NoError(t, err)
	s := NewBlobStore(blobs, "")
	assert.Equal(t, DefaultKey, s.Key())

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	first := fixture(t)
	require.NoError(t, s.Save(ctx, first))
	second := fixture(t)
	require.NoError(t, s.Save(ctx, second))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameArchive(t, second, got)

	info, err := blobs.Head(ctx, DefaultKey)
	require.NoError(t, err)
	assert.Equal(t, ContentType, info.ContentType)
	assert.Equal(t, second.Metadata.RunID.String(), info.Metadata["run_id"])
	require.NoError(t, s.Close())
}

func TestSaveRejectsInvalidArchive(t *testing.T) {
	ctx := context.Background()
	blobs, err := blob.Open(ctx, blob.Config{Driver: "memory"})
	require.NoError(t, err)
	sqlStore, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "plumbing.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlStore.Close() })

	for name, s := range map[string]Store{"blob": NewBlobStore(blobs, ""), "sqlite": sqlStore} {
		t.Run(name, func(t *testing.T) {
			good := fixture(t)
			require.NoError(t, s.Save(ctx, good))

			bad := fixture(t)
			bad.Summaries["2020-05-01T10_30_R9"] = domain.WF3Data{Identifier: "2020-05-01T10_30_R9"}
			assert.ErrorContains(t, s.Save(ctx, bad), "has no reaction")

			got, err := s.Load(ctx)
			require.NoError(t, err)
			assertSameArchive(t, good, got)
		})
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "plumbing.db")
	s, err := OpenSQLite(ctx, path)
	require.NoError(t, err)

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	a := fixture(t)
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, a))
	var n int
	require.NoError(t, s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM state`).Scan(&n))
	assert.Equal(t, len(buckets), n)
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })
	got, err := reopened.Load(ctx)
	require.NoError(t, err)
	assertSameArchive(t, a, got)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CHEMPLUMB_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHEMPLUMB_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.DB().ExecContext(ctx, `DELETE FROM state`)
	require.NoError(t, err)

	a := fixture(t)
	require.NoError(t, s.Save(ctx, a))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assertSameArchive(t, a, got)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Key: "k.json.gz"}, blob.Config{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &BlobStore{}, s)

	s, err = Open(ctx, Config{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "a.db")}, blob.Config{})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Config{Driver: "mongo"}, blob.Config{})
	assert.ErrorContains(t, err, "unsupported archive driver")
}

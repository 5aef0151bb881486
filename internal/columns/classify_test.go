package columns

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chemplumb/pkg/domain"
)

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		"_out_crystalscore": KindTarget,
		"name":              KindIdentifier,
		"dataset":           KindUseless,
		"_raw_operator":     KindUseless,
		"_raw_reagent_0_chemicals_0_nominal_amount":  KindUseless,
		"_raw_reagent_0_date":                        KindUseless,
		"_feat_organic_0_molecularweight":            KindFeature,
		"_calc_a1_v":                                 KindCalculated,
		"_raw_reagent_0_volume":                      KindReagent,
		"_raw_reagent_1_chemicals_0_inchikey":        KindReagent,
		"_rxn_reactiontime_s":                        KindReaction,
		"_rxn_temperature_c":                         KindReaction,
		"_raw_mmol_UPHCENSIMPJEIS-UHFFFAOYSA-N":      KindMoleByIdentifier,
		"_raw_molarity_UPHCENSIMPJEIS-UHFFFAOYSA-N":  KindMolarityByIdentifier,
		"_raw_organic_0_inchikey":                    KindIdentifierCategory,
		"_raw_inorganic_0_InChIKey":                  KindIdentifierCategory,
		"_rxn_organic-inchikey":                      KindIdentifierCategory,
		"_raw_expver":                                KindOtherRaw,
		"_raw_model_predicted":                       KindOtherRaw,
		"_raw_mmol_total":                            KindOtherRaw,
		"_raw_reagent_0_instructions_2_volume_units": KindReagent,
	}
	for name, want := range cases {
		got, err := Classify(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestClassifySchemaDrift(t *testing.T) {
	for _, name := range []string{"_raw_brand_new_field", "_raw", "surprise", "_rxn_solvent-inchikey"} {
		kind, err := Classify(name)
		require.Error(t, err, name)
		assert.Empty(t, kind)
		assert.True(t, errors.Is(err, domain.ErrSchemaMismatch), name)
		var se *SchemaError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, name, se.Column)
	}
}

func TestClassifyHeader(t *testing.T) {
	cols, err := ClassifyHeader([]string{"name", "_raw_expver", "_out_crystalscore"})
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, 2, cols[2].Index)
	assert.Equal(t, KindTarget, cols[2].Kind)

	_, err = ClassifyHeader([]string{"name", "_raw_unheard_of"})
	assert.True(t, errors.Is(err, domain.ErrSchemaMismatch))
}

// Package columns classifies raw experiment table columns. The pattern set is
// a contract with the upstream exporter: a raw column outside it is a schema
// mismatch, never silently ignored.
package columns

import (
	"fmt"
	"strings"

	"chemplumb/pkg/domain"
)

// Kind is the classification of a raw column.
type Kind string

// Column kinds.
const (
	KindTarget               Kind = "target"
	KindIdentifier           Kind = "name"
	KindUseless              Kind = "useless"
	KindFeature              Kind = "feature"
	KindCalculated           Kind = "calculate"
	KindReagent              Kind = "reagent"
	KindReaction             Kind = "reaction"
	KindMoleByIdentifier     Kind = "raw_mmol_inchi_key"
	KindMolarityByIdentifier Kind = "raw_molarity_inchi_key"
	KindIdentifierCategory   Kind = "raw_inchikey_type"
	KindOtherRaw             Kind = "raw_other"
)

// Well known column names.
const (
	TargetColumn     = "_out_crystalscore"
	IdentifierColumn = "name"
	VersionColumn    = "_raw_expver"
	TimeColumn       = "_rxn_reactiontime_s"
	TempColumn       = "_rxn_temperature_c"
	OrganicAlias     = "_rxn_organic-inchikey"
)

// Family prefixes.
const (
	RawPrefix      = "_raw"
	FeaturePrefix  = "_feat"
	CalcPrefix     = "_calc"
	ReagentPrefix  = "_raw_reagent"
	ReactionPrefix = "_rxn"
	MolePrefix     = "_raw_mmol"
	MolarityPrefix = "_raw_molarity"
)

var uselessColumns = map[string]struct{}{
	"_raw_challengeproblem":              {},
	"_raw_genver":                        {},
	"_raw_user_generated_experimentname": {},
	"_raw_batch_count":                   {},
	"_raw_datecreated":                   {},
	"_raw_jobserial":                     {},
	"dataset":                            {},
	"_raw_lab":                           {},
	"_raw_labwareid":                     {},
	"_raw_operator":                      {},
	"_raw_modelname":                     {},
	"_raw_notes":                         {},
	"_raw_vialsite":                      {},
	"_raw_timecreated_utc":               {},
	"_raw_participantname":               {},
}

// Raw columns that are known but carry nothing the parser consumes.
var otherRawColumns = map[string]struct{}{
	VersionColumn: {},
}

// Raw column families that are known but carry nothing the parser consumes.
var otherRawPrefixes = []string{
	"_raw_organic_",
	"_raw_inorganic_",
	"_raw_solvent_",
	"_raw_acid_",
	"_raw_model_",
	"_raw_mmol_",
	"_raw_molarity_",
}

// SchemaError reports a column outside the known naming convention.
type SchemaError struct {
	Column string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("unknown column name: %s", e.Column)
}

func (e *SchemaError) Unwrap() error { return domain.ErrSchemaMismatch }

// Classify maps a column name to its kind. Literal names win over patterns
// and patterns are tried in a fixed priority order.
func Classify(name string) (Kind, error) {
	switch {
	case name == TargetColumn:
		return KindTarget, nil
	case name == IdentifierColumn:
		return KindIdentifier, nil
	case IsUseless(name):
		return KindUseless, nil
	case strings.HasPrefix(name, FeaturePrefix):
		return KindFeature, nil
	case strings.HasPrefix(name, CalcPrefix):
		return KindCalculated, nil
	case strings.HasPrefix(name, ReagentPrefix):
		return KindReagent, nil
	case strings.HasPrefix(name, ReactionPrefix) && !strings.HasSuffix(name, "-inchikey"):
		return KindReaction, nil
	case strings.HasPrefix(name, MolePrefix) && strings.Count(name, "-") == 2:
		return KindMoleByIdentifier, nil
	case strings.HasPrefix(name, MolarityPrefix) && strings.Count(name, "-") == 2:
		return KindMolarityByIdentifier, nil
	case strings.HasPrefix(name, RawPrefix) && strings.HasSuffix(strings.ToLower(name), "inchikey"),
		name == OrganicAlias:
		return KindIdentifierCategory, nil
	case isOtherRaw(name):
		return KindOtherRaw, nil
	}
	return "", &SchemaError{Column: name}
}

// IsUseless reports columns dropped before parsing.
func IsUseless(name string) bool {
	if _, ok := uselessColumns[name]; ok {
		return true
	}
	return strings.Contains(name, "nominal_amount") || strings.HasSuffix(name, "_date")
}

func isOtherRaw(name string) bool {
	if _, ok := otherRawColumns[name]; ok {
		return true
	}
	for _, p := range otherRawPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// Column is a classified header column.
type Column struct {
	Name  string
	Index int
	Kind  Kind
}

// ClassifyHeader classifies every column, failing on the first schema mismatch.
func ClassifyHeader(header []string) ([]Column, error) {
	out := make([]Column, 0, len(header))
	for i, name := range header {
		kind, err := Classify(name)
		if err != nil {
			return nil, err
		}
		out = append(out, Column{Name: name, Index: i, Kind: kind})
	}
	return out, nil
}

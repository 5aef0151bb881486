package parser

import (
	"fmt"
	"regexp"
	"strings"

	"chemplumb/internal/columns"
)

// Slot bounds of the raw table layout.
const (
	MaxReagents     = 10
	MaxConstituents = 10
)

const moleNoiseFloor = 1e-5 // raw millimole values below this are dropped

var chemTypeToken = regexp.MustCompile(`^[a-z]*_\d`)

// row is the typed view of one record, produced once per row so that the
// reaction builder never inspects raw column names.
type row struct {
	id         cell
	outcome    cell
	version    cell
	time       cell
	temp       cell
	reagents   [MaxReagents]reagentCells
	categories map[string]string             // category token -> identifier
	moles      map[string]float64            // identifier -> mol
	features   map[string]map[string]float64 // category token -> feature -> value
}

type reagentCells struct {
	volume      cell
	prepVolume  cell
	prepUnit    cell
	constituent [MaxConstituents]constituentCells
}

type constituentCells struct {
	identifier cell
	amount     cell
	unit       cell
}

func reagentColumn(i int, suffix string) string {
	return fmt.Sprintf("%s_%d_%s", columns.ReagentPrefix, i, suffix)
}

func constituentColumn(i, j int, suffix string) string {
	return reagentColumn(i, fmt.Sprintf("chemicals_%d_%s", j, suffix))
}

// decode buckets the record by column kind.
func decode(rec Record, cols []columns.Column) (row, error) {
	r := row{
		id:         rec.cell(columns.IdentifierColumn),
		outcome:    rec.cell(columns.TargetColumn),
		version:    rec.cell(columns.VersionColumn),
		time:       rec.cell(columns.TimeColumn),
		temp:       rec.cell(columns.TempColumn),
		categories: make(map[string]string),
		moles:      make(map[string]float64),
		features:   make(map[string]map[string]float64),
	}
	for i := 0; i < MaxReagents; i++ {
		rc := &r.reagents[i]
		rc.volume = rec.cell(reagentColumn(i, "volume"))
		rc.prepVolume = rec.cell(reagentColumn(i, "instructions_2_volume"))
		rc.prepUnit = rec.cell(reagentColumn(i, "instructions_2_volume_units"))
		for j := 0; j < MaxConstituents; j++ {
			rc.constituent[j] = constituentCells{
				identifier: rec.cell(constituentColumn(i, j, "inchikey")),
				amount:     rec.cell(constituentColumn(i, j, "actual_amount")),
				unit:       rec.cell(constituentColumn(i, j, "actual_amount_units")),
			}
		}
	}

	identifiers := make(map[string]string)
	for _, c := range cols {
		v := rec.cell(c.Name)
		switch c.Kind {
		case columns.KindIdentifierCategory:
			id, ok := v.str()
			if !ok {
				continue
			}
			token := categoryToken(c.Name)
			id = strings.ToUpper(id)
			if prev, dup := identifiers[id]; dup && prev != token {
				return row{}, fmt.Errorf("identifier %s mapped by both %s and %s", id, prev, token)
			}
			identifiers[id] = token
			r.categories[token] = id
		case columns.KindMoleByIdentifier:
			mmol, ok := v.float()
			if !ok || mmol < moleNoiseFloor {
				continue
			}
			id, err := moleIdentifier(c.Name)
			if err != nil {
				return row{}, err
			}
			r.moles[id] += mmol * 1e-3
		case columns.KindFeature:
			val, ok := v.float()
			if !ok {
				continue
			}
			token, feature, ok := splitFeature(c.Name)
			if !ok {
				continue
			}
			if r.features[token] == nil {
				r.features[token] = make(map[string]float64)
			}
			r.features[token][feature] = val
		}
	}
	return r, nil
}

// categoryToken maps "_raw_organic_0_inchikey" to "organic_0".
func categoryToken(name string) string {
	key := strings.ToLower(name)
	if name == columns.OrganicAlias {
		key = "_raw_organic_0_inchikey"
	}
	key = strings.TrimPrefix(key, columns.RawPrefix+"_")
	return strings.TrimSuffix(key, "_inchikey")
}

func moleIdentifier(name string) (string, error) {
	var found []string
	for _, word := range strings.Split(name, "_") {
		if strings.Count(word, "-") == 2 {
			found = append(found, word)
		}
	}
	if len(found) != 1 {
		return "", fmt.Errorf("mole column %s does not name exactly one identifier", name)
	}
	return strings.ToUpper(found[0]), nil
}

// splitFeature maps "_feat_organic_0_weight" to ("organic_0", "_feat__weight").
func splitFeature(name string) (string, string, bool) {
	prefix := columns.FeaturePrefix + "_"
	if !strings.HasPrefix(name, prefix) {
		return "", "", false
	}
	token := chemTypeToken.FindString(name[len(prefix):])
	if token == "" {
		return "", "", false
	}
	return token, strings.Replace(name, token, "", 1), true
}

package domain

import (
	"sort"
	"strconv"
	"strings"
)

// FingerprintSeparator joins the per-category counts of a fingerprint.
const FingerprintSeparator = "%"

// MolarityMap maps identifier to mol/L.
type MolarityMap map[string]float64

// Keys returns the sorted identifiers.
func (m MolarityMap) Keys() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CategoryMolarities buckets molarities by material category.
type CategoryMolarities map[Category]MolarityMap

// NewCategoryMolarities returns an empty bucket for every category.
func NewCategoryMolarities() CategoryMolarities {
	out := make(CategoryMolarities, len(Categories))
	for _, c := range Categories {
		out[c] = MolarityMap{}
	}
	return out
}

// Add accumulates value into the bucket of category.
func (c CategoryMolarities) Add(category Category, identifier string, value float64) {
	bucket, ok := c[category]
	if !ok {
		bucket = MolarityMap{}
		c[category] = bucket
	}
	bucket[identifier] += value
}

// Lookup finds an identifier in any bucket.
func (c CategoryMolarities) Lookup(identifier string) (float64, bool) {
	for _, bucket := range c {
		if v, ok := bucket[identifier]; ok {
			return v, true
		}
	}
	return 0, false
}

// Fingerprint joins the bucket cardinalities in Categories order.
func Fingerprint(c CategoryMolarities) string {
	parts := make([]string, len(Categories))
	for i, cat := range Categories {
		parts[i] = strconv.Itoa(len(c[cat]))
	}
	return strings.Join(parts, FingerprintSeparator)
}

// WF3Data is the derived summary of one workflow-3 reaction. Volumes are in liters.
type WF3Data struct {
	Identifier          string      `json:"identifier"`
	Fingerprint         string      `json:"fingerprint"`
	Outcome             *int        `json:"outcome,omitempty"`
	Organic             MolarityMap `json:"organic"`
	Inorganic           MolarityMap `json:"inorganic"`
	Solvent             MolarityMap `json:"solvent"`
	Acid                MolarityMap `json:"acid"`
	AlphaVialVolume     float64     `json:"alpha_vial_volume"`
	BetaVialVolume      float64     `json:"beta_vial_volume"`
	ReactionTime        float64     `json:"reaction_time"`
	ReactionTemperature float64     `json:"reaction_temperature"`
	AntisolventIdentity string      `json:"antisolvent_identity"`
}

// Molarities returns the category buckets of the summary.
func (w WF3Data) Molarities() CategoryMolarities {
	return CategoryMolarities{
		CategoryOrganic:   w.Organic,
		CategoryInorganic: w.Inorganic,
		CategorySolvent:   w.Solvent,
		CategoryAcid:      w.Acid,
	}
}

// Flatten merges every category bucket into one identifier map.
func (w WF3Data) Flatten() MolarityMap {
	out := MolarityMap{}
	for _, bucket := range w.Molarities() {
		for k, v := range bucket {
			out[k] = v
		}
	}
	return out
}

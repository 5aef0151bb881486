// Package domain defines the chemistry entities, derived summaries, and
// finding primitives shared by the chemplumb pipeline.
package domain

import (
	"fmt"
	"math"
	"strings"
)

// Category classifies a reference material.
type Category string

// Material categories. Categories is the canonical order used by fingerprints.
const (
	CategoryOrganic   Category = "organic"
	CategoryInorganic Category = "inorganic"
	CategorySolvent   Category = "solvent"
	CategoryAcid      Category = "acid"
)

// Categories lists every category in fingerprint order.
var Categories = []Category{CategoryOrganic, CategoryInorganic, CategorySolvent, CategoryAcid}

// ParseCategory normalizes a category string. A comma separated list is only
// tolerated when it contains "acid", in which case the material is an acid.
func ParseCategory(raw string) (Category, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if strings.Contains(s, ",") {
		for _, part := range strings.Split(s, ",") {
			if strings.TrimSpace(part) == string(CategoryAcid) {
				return CategoryAcid, nil
			}
		}
		return "", fmt.Errorf("more than one category: %q", raw)
	}
	for _, c := range Categories {
		if s == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category: %q", raw)
}

// Material is a reference chemical loaded from the inventory. Materials are
// compared and ordered by InChIKey only.
type Material struct {
	InChIKey        string            `json:"inchikey"`
	MolecularWeight float64           `json:"mw"`      // g/mol
	Density         float64           `json:"density"` // g/mL
	Category        Category          `json:"category"`
	Name            string            `json:"name"`
	InChI           string            `json:"inchi,omitempty"`
	Properties      map[string]string `json:"properties,omitempty"`
}

// NormalizeKey canonicalizes an InChIKey for lookups.
func NormalizeKey(key string) string {
	return strings.ToUpper(strings.TrimSpace(key))
}

// PureMolarity is the molarity of the neat material in mol/L.
func (m Material) PureMolarity() float64 {
	return 1e3 * m.Density / m.MolecularWeight
}

// Less orders materials by identifier.
func (m Material) Less(other Material) bool { return m.InChIKey < other.InChIKey }

// Same reports identifier equality.
func (m Material) Same(other Material) bool { return m.InChIKey == other.InChIKey }

func (m Material) String() string { return m.Name }

// Validate checks the physical fields needed for unit conversion.
func (m Material) Validate() error {
	if strings.TrimSpace(m.InChIKey) == "" {
		return fmt.Errorf("material: empty inchikey")
	}
	if !positiveFinite(m.MolecularWeight) {
		return fmt.Errorf("material %s: molecular weight must be positive", m.InChIKey)
	}
	if !positiveFinite(m.Density) {
		return fmt.Errorf("material %s: density must be positive", m.InChIKey)
	}
	return nil
}

func positiveFinite(v float64) bool { return v > 0 && !math.IsInf(v, 1) }

package domain

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// AmountUnit is the unit of a constituent amount.
type AmountUnit string

// Supported amount units.
const (
	UnitGram       AmountUnit = "gram"
	UnitMilliliter AmountUnit = "milliliter"
)

// ParseAmountUnit accepts gram or milliliter in any case.
func ParseAmountUnit(raw string) (AmountUnit, error) {
	switch AmountUnit(strings.ToLower(strings.TrimSpace(raw))) {
	case UnitGram:
		return UnitGram, nil
	case UnitMilliliter:
		return UnitMilliliter, nil
	}
	return "", fmt.Errorf("unconventional amount unit: %q", raw)
}

// MolarityTolerance is the absolute tolerance used when comparing reagent molarity tables.
const MolarityTolerance = 1e-5

// ReagentMaterial is one constituent of a dispensed reagent.
type ReagentMaterial struct {
	Material Material   `json:"material"`
	Amount   float64    `json:"amount"`
	Unit     AmountUnit `json:"amount_unit"`
}

// Mass in grams.
func (rm ReagentMaterial) Mass() float64 {
	if rm.Unit == UnitMilliliter {
		return rm.Material.Density * rm.Amount
	}
	return rm.Amount
}

// Mol returns the mole count of the constituent.
func (rm ReagentMaterial) Mol() float64 {
	return rm.Mass() / rm.Material.MolecularWeight
}

// Volume returns the constituent volume in liters.
func (rm ReagentMaterial) Volume() float64 {
	if rm.Unit == UnitMilliliter {
		return 1e-3 * rm.Amount
	}
	return 1e-3 * rm.Amount / rm.Material.Density
}

func (rm ReagentMaterial) String() string {
	return fmt.Sprintf("ReagentMaterial %s: %g %s", rm.Material, rm.Amount, rm.Unit)
}

// Reagent is one liquid dispensed into a reaction, possibly a mixture.
// VolumeAdded and VolumePrepare are in liters.
type Reagent struct {
	Constituents  map[int]ReagentMaterial `json:"constituents"`
	VolumeAdded   float64                 `json:"volume_added"`
	VolumePrepare *float64                `json:"volume_prepare,omitempty"`
}

// NewReagent validates constituents and returns the reagent.
func NewReagent(constituents map[int]ReagentMaterial, volumeAdded float64, volumePrepare *float64) (Reagent, error) {
	r := Reagent{Constituents: constituents, VolumeAdded: volumeAdded, VolumePrepare: volumePrepare}
	if err := r.Validate(); err != nil {
		return Reagent{}, err
	}
	return r, nil
}

// Validate enforces that no two constituents reference the same material.
func (r Reagent) Validate() error {
	if len(r.Constituents) == 0 {
		return fmt.Errorf("reagent has no constituents")
	}
	seen := make(map[string]struct{}, len(r.Constituents))
	for _, slot := range r.Slots() {
		key := r.Constituents[slot].Material.InChIKey
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate materials in the reagent: %s", key)
		}
		seen[key] = struct{}{}
	}
	return nil
}

// Slots returns constituent slot indices in ascending order.
func (r Reagent) Slots() []int {
	out := make([]int, 0, len(r.Constituents))
	for i := range r.Constituents {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// Ordered returns the constituents in slot order.
func (r Reagent) Ordered() []ReagentMaterial {
	out := make([]ReagentMaterial, 0, len(r.Constituents))
	for _, i := range r.Slots() {
		out = append(out, r.Constituents[i])
	}
	return out
}

// Identifiers returns the sorted constituent identifiers.
func (r Reagent) Identifiers() []string {
	out := make([]string, 0, len(r.Constituents))
	for _, rm := range r.Constituents {
		out = append(out, rm.Material.InChIKey)
	}
	sort.Strings(out)
	return out
}

// SingleIdentity returns the identifier of a single-constituent reagent.
func (r Reagent) SingleIdentity() (string, bool) {
	if len(r.Constituents) != 1 {
		return "", false
	}
	for _, rm := range r.Constituents {
		return rm.Material.InChIKey, true
	}
	return "", false
}

// HasPreparation reports whether the stock preparation volume is known.
func (r Reagent) HasPreparation() bool {
	return r.VolumePrepare != nil && *r.VolumePrepare > 0
}

// MolarityTable maps identifier to mol/L within the prepared stock. The second
// return is false when the preparation volume is unknown.
func (r Reagent) MolarityTable() (map[string]float64, bool) {
	if !r.HasPreparation() {
		return nil, false
	}
	vol := *r.VolumePrepare
	table := make(map[string]float64, len(r.Constituents))
	for _, rm := range r.Constituents {
		table[rm.Material.InChIKey] = rm.Mol() / vol
	}
	return table, true
}

// Equal compares molarity tables over identical identifier sets within
// MolarityTolerance. Reagents without a molarity table only equal each other
// when their constituents carry the same identifiers and mole counts.
func (r Reagent) Equal(other Reagent) bool {
	a, okA := r.MolarityTable()
	b, okB := other.MolarityTable()
	if okA != okB {
		return false
	}
	if !okA {
		a, b = r.moleTable(), other.moleTable()
	}
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok {
			return false
		}
		if math.Abs(va-vb) > MolarityTolerance {
			return false
		}
	}
	return true
}

func (r Reagent) moleTable() map[string]float64 {
	out := make(map[string]float64, len(r.Constituents))
	for _, rm := range r.Constituents {
		out[rm.Material.InChIKey] = rm.Mol()
	}
	return out
}

func (r Reagent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reagent\n\t\tadded volume %g Liter", r.VolumeAdded)
	if r.HasPreparation() {
		fmt.Fprintf(&b, "\n\t\tstock solution volume %g Liter", *r.VolumePrepare)
	}
	for _, i := range r.Slots() {
		fmt.Fprintf(&b, "\n\t\t i==%d: %s", i, r.Constituents[i])
	}
	return b.String()
}

// DistinctReagents drops reagents equal to an earlier one, keeping input order.
func DistinctReagents(reagents []Reagent) []Reagent {
	out := make([]Reagent, 0, len(reagents))
	for _, r := range reagents {
		dup := false
		for _, kept := range out {
			if kept.Equal(r) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, r)
		}
	}
	return out
}

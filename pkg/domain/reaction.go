package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MinTotalVolume is the smallest total dispensed volume (L) a reaction may have.
const MinTotalVolume = 1e-5

// AbsoluteZero in degrees Celsius.
const AbsoluteZero = -273.15

var (
	headerMinute = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}_\d{2}`)
	headerDay    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

// ExperimentHeader extracts the date token from a reaction identifier,
// preferring minute precision over day precision.
func ExperimentHeader(identifier string) (string, bool) {
	if h := headerMinute.FindString(identifier); h != "" {
		return h, true
	}
	if h := headerDay.FindString(identifier); h != "" {
		return h, true
	}
	return "", false
}

// ReactionProperties holds values aggregated from the raw record.
type ReactionProperties struct {
	// Features maps identifier -> feature name -> value.
	Features map[string]map[string]float64 `json:"inchikey_to_features"`
	// CategoryIdentifiers maps a category token (e.g. "organic_0") to an identifier.
	CategoryIdentifiers map[string]string `json:"category_x_to_inchikey"`
	// Moles maps identifier -> mole amount added to the reaction.
	Moles map[string]float64 `json:"mol_data"`
}

// Reaction is one experiment. Values are read-only after NewReaction.
type Reaction struct {
	Identifier          string             `json:"identifier"`
	Outcome             *int               `json:"outcome,omitempty"`
	ReactionTime        float64            `json:"reaction_time"`        // s
	ReactionTemperature float64            `json:"reaction_temperature"` // degC
	ExperimentVersion   string             `json:"experiment_version"`
	Header              string             `json:"experiment_header"`
	Reagents            map[int]Reagent    `json:"reagent_table"`
	Properties          ReactionProperties `json:"properties"`
	Raw                 map[string]string  `json:"raw,omitempty"`
}

// NewReaction derives the experiment header and validates the reaction.
func NewReaction(r Reaction) (Reaction, error) {
	header, ok := ExperimentHeader(r.Identifier)
	if !ok {
		return Reaction{}, fmt.Errorf("%w: no date header in identifier %q", ErrInvalidReaction, r.Identifier)
	}
	r.Header = header
	if err := r.Validate(); err != nil {
		return Reaction{}, err
	}
	return r, nil
}

// Validate checks the reaction invariants.
func (r Reaction) Validate() error {
	if r.ReactionTime <= 0 {
		return fmt.Errorf("%w: %s reaction time %g", ErrInvalidReaction, r.Identifier, r.ReactionTime)
	}
	if r.ReactionTemperature <= AbsoluteZero {
		return fmt.Errorf("%w: %s reaction temperature %g", ErrInvalidReaction, r.Identifier, r.ReactionTemperature)
	}
	for i, reagent := range r.Reagents {
		if err := reagent.Validate(); err != nil {
			return fmt.Errorf("%w: %s reagent %d: %v", ErrInvalidReaction, r.Identifier, i, err)
		}
	}
	if total := r.TotalVolume(); total <= MinTotalVolume {
		return fmt.Errorf("%w: %s invalid total volume: %g", ErrInvalidReaction, r.Identifier, total)
	}
	return nil
}

// HasOutcome reports whether an outcome was collected.
func (r Reaction) HasOutcome() bool { return r.Outcome != nil }

// Slots returns reagent slot indices in ascending order.
func (r Reaction) Slots() []int {
	out := make([]int, 0, len(r.Reagents))
	for i := range r.Reagents {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// TotalVolume is the sum of dispensed volumes in liters.
func (r Reaction) TotalVolume() float64 {
	total := 0.0
	for _, i := range r.Slots() {
		total += r.Reagents[i].VolumeAdded
	}
	return total
}

// ReagentSet returns the distinct reagents in slot order.
func (r Reaction) ReagentSet() []Reagent {
	all := make([]Reagent, 0, len(r.Reagents))
	for _, i := range r.Slots() {
		all = append(all, r.Reagents[i])
	}
	return DistinctReagents(all)
}

// MaterialsByIdentifier indexes every constituent material of the reaction.
func (r Reaction) MaterialsByIdentifier() map[string]Material {
	out := make(map[string]Material)
	for _, reagent := range r.Reagents {
		for _, rm := range reagent.Constituents {
			out[rm.Material.InChIKey] = rm.Material
		}
	}
	return out
}

// Identifiers returns the sorted identifiers of all constituents.
func (r Reaction) Identifiers() []string {
	mats := r.MaterialsByIdentifier()
	out := make([]string, 0, len(mats))
	for k := range mats {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// IsWorkflow3 reports whether the protocol version starts with marker.
func (r Reaction) IsWorkflow3(marker string) bool {
	return strings.HasPrefix(r.ExperimentVersion, marker)
}

func (r Reaction) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Reaction: %s", r.Identifier)
	for _, i := range r.Slots() {
		fmt.Fprintf(&b, "\n\ti==%d: %s", i, r.Reagents[i])
	}
	return b.String()
}

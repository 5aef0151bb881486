// Package hull accumulates the sampling space: the deduplicated set of stock
// solution molarity vectors observed across experiments.
package hull

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"chemplumb/pkg/domain"
)

// SupportThreshold is the molarity (mol/L) a row needs on at least one axis.
const SupportThreshold = 1e-7

// Row lookup tolerances.
const (
	MatchTolerance = 1e-7
	ZeroTolerance  = 1e-9
)

// Hull is an immutable sampling space. Axes are sorted by identifier and rows
// are deduplicated and sorted lexicographically, so two hulls holding the
// same stock solutions compare equal regardless of construction order.
type Hull struct {
	space []domain.Material
	rows  [][]float64
}

// Empty returns the hull with no axes and no rows.
func Empty() Hull { return Hull{} }

// FromReagentSet builds a hull with one row per reagent molarity table.
func FromReagentSet(reagents []domain.Reagent) (Hull, error) {
	axes := make(map[string]domain.Material)
	tables := make([]map[string]float64, 0, len(reagents))
	for _, r := range reagents {
		table, ok := r.MolarityTable()
		if !ok {
			return Hull{}, fmt.Errorf("reagent %v has no molarity table", r.Identifiers())
		}
		for _, rm := range r.Constituents {
			axes[rm.Material.InChIKey] = rm.Material
		}
		tables = append(tables, table)
	}
	space := sortedSpace(axes)
	rows := make([][]float64, 0, len(tables))
	for _, table := range tables {
		row := project(space, table)
		if !hasSupport(row) {
			return Hull{}, fmt.Errorf("reagent with molarities %v: %w", table, domain.ErrEmptyStockSolution)
		}
		rows = append(rows, row)
	}
	return canonical(space, rows), nil
}

// New builds a hull from explicit axes and rows, each row aligned with space.
func New(space []domain.Material, rows [][]float64) (Hull, error) {
	axes := make(map[string]domain.Material, len(space))
	for _, m := range space {
		if _, dup := axes[m.InChIKey]; dup {
			return Hull{}, fmt.Errorf("duplicate axis %s", m.InChIKey)
		}
		axes[m.InChIKey] = m
	}
	tables := make([]map[string]float64, 0, len(rows))
	for i, row := range rows {
		if len(row) != len(space) {
			return Hull{}, fmt.Errorf("row %d has %d values for %d axes", i, len(row), len(space))
		}
		table := make(map[string]float64, len(row))
		for j, v := range row {
			table[space[j].InChIKey] = v
		}
		tables = append(tables, table)
	}
	sorted := sortedSpace(axes)
	projected := make([][]float64, 0, len(tables))
	for _, t := range tables {
		projected = append(projected, project(sorted, t))
	}
	return canonical(sorted, projected), nil
}

// Combine merges two hulls over the union of their axes.
func Combine(a, b Hull) Hull {
	axes := make(map[string]domain.Material, len(a.space)+len(b.space))
	for _, m := range a.space {
		axes[m.InChIKey] = m
	}
	for _, m := range b.space {
		axes[m.InChIKey] = m
	}
	space := sortedSpace(axes)
	rows := make([][]float64, 0, len(a.rows)+len(b.rows))
	for _, h := range []Hull{a, b} {
		for _, row := range h.rows {
			rows = append(rows, project(space, h.table(row)))
		}
	}
	return canonical(space, rows)
}

// Fold combines hulls left to right.
func Fold(hulls ...Hull) Hull {
	acc := Empty()
	for _, h := range hulls {
		acc = Combine(acc, h)
	}
	return acc
}

// Space returns a copy of the axis materials.
func (h Hull) Space() []domain.Material {
	return append([]domain.Material(nil), h.space...)
}

// Identifiers returns the axis identifiers in order.
func (h Hull) Identifiers() []string {
	out := make([]string, len(h.space))
	for i, m := range h.space {
		out[i] = m.InChIKey
	}
	return out
}

// Rows returns a copy of the molarity table.
func (h Hull) Rows() [][]float64 {
	out := make([][]float64, len(h.rows))
	for i, row := range h.rows {
		out[i] = append([]float64(nil), row...)
	}
	return out
}

// Len is the number of stock solutions.
func (h Hull) Len() int { return len(h.rows) }

// Dim is the number of axes.
func (h Hull) Dim() int { return len(h.space) }

// Project aligns a molarity table with the hull axes. Identifiers outside
// the space are returned separately.
func (h Hull) Project(table map[string]float64) ([]float64, []string) {
	var outside []string
	index := h.axisIndex()
	for id := range table {
		if _, ok := index[id]; !ok {
			outside = append(outside, id)
		}
	}
	sort.Strings(outside)
	return project(h.space, table), outside
}

// RowIndex finds the row equal to a stock solution molarity table. Values at
// or below ZeroTolerance are treated as absent and the remaining support must
// lie inside the space.
func (h Hull) RowIndex(table map[string]float64) (int, error) {
	support := make(map[string]float64, len(table))
	for id, v := range table {
		if math.Abs(v) > ZeroTolerance {
			support[id] = v
		}
	}
	want, outside := h.Project(support)
	if len(outside) > 0 {
		return -1, fmt.Errorf("axes %v outside the sampling space: %w", outside, domain.ErrStockSolutionNotFound)
	}
	for i, row := range h.rows {
		if rowMatches(row, want) {
			return i, nil
		}
	}
	return -1, fmt.Errorf("molarities %v: %w", support, domain.ErrStockSolutionNotFound)
}

func rowMatches(row, want []float64) bool {
	for j := range row {
		if math.Abs(row[j]-want[j]) > MatchTolerance {
			return false
		}
	}
	return true
}

// Equal compares axes exactly and rows with relative tolerance 1e-5 and
// absolute tolerance 1e-8.
func (h Hull) Equal(other Hull) bool {
	if len(h.space) != len(other.space) || len(h.rows) != len(other.rows) {
		return false
	}
	for i := range h.space {
		if h.space[i].InChIKey != other.space[i].InChIKey {
			return false
		}
	}
	for i := range h.rows {
		for j := range h.rows[i] {
			a, b := h.rows[i][j], other.rows[i][j]
			if math.Abs(a-b) > 1e-8+1e-5*math.Abs(b) {
				return false
			}
		}
	}
	return true
}

func (h Hull) String() string {
	return fmt.Sprintf("Hull(%d axes, %d rows)", len(h.space), len(h.rows))
}

func (h Hull) table(row []float64) map[string]float64 {
	out := make(map[string]float64, len(row))
	for j, v := range row {
		out[h.space[j].InChIKey] = v
	}
	return out
}

func (h Hull) axisIndex() map[string]int {
	out := make(map[string]int, len(h.space))
	for i, m := range h.space {
		out[m.InChIKey] = i
	}
	return out
}

type hullJSON struct {
	Space []domain.Material `json:"space"`
	Rows  [][]float64       `json:"rows"`
}

// MarshalJSON encodes the canonical space and rows.
func (h Hull) MarshalJSON() ([]byte, error) {
	rows := h.rows
	if rows == nil {
		rows = [][]float64{}
	}
	space := h.space
	if space == nil {
		space = []domain.Material{}
	}
	return json.Marshal(hullJSON{Space: space, Rows: rows})
}

// UnmarshalJSON decodes and re-canonicalizes a hull.
func (h *Hull) UnmarshalJSON(data []byte) error {
	var raw hullJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := New(raw.Space, raw.Rows)
	if err != nil {
		return fmt.Errorf("decode hull: %w", err)
	}
	*h = decoded
	return nil
}

func sortedSpace(axes map[string]domain.Material) []domain.Material {
	out := make([]domain.Material, 0, len(axes))
	for _, m := range axes {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func project(space []domain.Material, table map[string]float64) []float64 {
	row := make([]float64, len(space))
	for j, m := range space {
		row[j] = table[m.InChIKey]
	}
	return row
}

func hasSupport(row []float64) bool {
	for _, v := range row {
		if v > SupportThreshold {
			return true
		}
	}
	return false
}

// canonical sorts rows lexicographically and drops exact duplicates.
func canonical(space []domain.Material, rows [][]float64) Hull {
	sort.SliceStable(rows, func(i, j int) bool { return lexLess(rows[i], rows[j]) })
	out := rows[:0]
	for _, row := range rows {
		if len(out) > 0 && equalRows(row, out[len(out)-1]) {
			continue
		}
		out = append(out, row)
	}
	if len(space) == 0 && len(out) == 0 {
		return Hull{}
	}
	return Hull{space: space, rows: out}
}

func lexLess(a, b []float64) bool {
	for k := range a {
		if a[k] != b[k] {
			return a[k] < b[k]
		}
	}
	return false
}

func equalRows(a, b []float64) bool {
	for k := range a {
		if a[k] != b[k] {
			return false
		}
	}
	return true
}

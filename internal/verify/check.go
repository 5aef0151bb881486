// Package verify cross-checks derived summaries against the sampling space:
// the forward check recomputes alpha-vial molarities from the reaction's own
// stock solutions, and the backward check asks a solver whether the target is
// reachable by mixing known stock solutions.
package verify

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"chemplumb/internal/derive"
	"chemplumb/internal/hull"
	"chemplumb/pkg/domain"
)

// DefaultTolerance is the relative tolerance of the forward check.
const DefaultTolerance = 1e-5

// Status is the outcome of one check.
type Status string

// Check statuses.
const (
	StatusOK         Status = "ok"
	StatusMismatch   Status = "mismatch"
	StatusSkipped    Status = "skipped"
	StatusInfeasible Status = "infeasible"
	StatusUnresolved Status = "unresolved"
	StatusError      Status = "error"
)

// Feasibility is a solver answer. Volumes are in liters, one per hull row,
// and only set when Feasible.
type Feasibility struct {
	Feasible bool
	Volumes  []float64
}

// Solver decides whether target is a non-negative volume mix of rows:
// volumes sum to total and, per axis, the volume-weighted row molarities sum
// to total times the target molarity.
type Solver interface {
	SolveFeasibility(ctx context.Context, rows [][]float64, target []float64, total float64) (Feasibility, error)
}

// Mismatch is one identifier failing the forward check.
type Mismatch struct {
	Identifier    string  `json:"identifier"`
	Published     float64 `json:"published"`
	Reconstructed float64 `json:"reconstructed"`
}

// ForwardResult reports the forward check of one reaction.
type ForwardResult struct {
	Status        Status             `json:"status"`
	Reason        string             `json:"reason,omitempty"`
	Alpha         float64            `json:"alpha_vial_volume"`
	Reconstructed domain.MolarityMap `json:"reconstructed,omitempty"`
	Mismatches    []Mismatch         `json:"mismatches,omitempty"`
}

// alphaReagents returns every reagent except the antisolvent.
func alphaReagents(r domain.Reaction, antisolvent string) []domain.Reagent {
	var out []domain.Reagent
	for _, i := range r.Slots() {
		reagent := r.Reagents[i]
		if id, single := reagent.SingleIdentity(); single && id == antisolvent {
			continue
		}
		out = append(out, reagent)
	}
	return out
}

// Forward reconstructs the alpha-vial molarities as the volume-weighted
// average of the non-antisolvent stock solutions and compares them with the
// published summary within a relative tolerance.
func Forward(r domain.Reaction, summary domain.WF3Data, tolerance float64) ForwardResult {
	reagents := alphaReagents(r, summary.AntisolventIdentity)
	alpha := 0.0
	dispensed := make(map[string]float64)
	for _, reagent := range reagents {
		table, ok := reagent.MolarityTable()
		if !ok {
			return ForwardResult{Status: StatusSkipped, Reason: "incomplete preparation volumes"}
		}
		alpha += reagent.VolumeAdded
		for id, m := range table {
			dispensed[id] += m * reagent.VolumeAdded
		}
	}
	if alpha <= 0 {
		return ForwardResult{Status: StatusSkipped, Reason: "empty alpha vial"}
	}

	res := ForwardResult{Status: StatusOK, Alpha: alpha, Reconstructed: domain.MolarityMap{}}
	for id, moles := range dispensed {
		res.Reconstructed[id] = moles / alpha
	}
	published := summary.Flatten()
	delete(published, summary.AntisolventIdentity)

	ids := make(map[string]struct{}, len(published)+len(res.Reconstructed))
	for id := range published {
		ids[id] = struct{}{}
	}
	for id := range res.Reconstructed {
		ids[id] = struct{}{}
	}
	for _, id := range sortedSet(ids) {
		p, q := published[id], res.Reconstructed[id]
		if derive.RelativeDifference(p, q) > tolerance {
			res.Mismatches = append(res.Mismatches, Mismatch{Identifier: id, Published: p, Reconstructed: q})
		}
	}
	if len(res.Mismatches) > 0 {
		res.Status = StatusMismatch
	}
	return res
}

// LocateStockSolutions maps every non-antisolvent reagent with a molarity
// table to its sampling-space row.
func LocateStockSolutions(r domain.Reaction, antisolvent string, h hull.Hull) ([]int, error) {
	var out []int
	for _, reagent := range alphaReagents(r, antisolvent) {
		table, ok := reagent.MolarityTable()
		if !ok {
			continue
		}
		i, err := h.RowIndex(table)
		if err != nil {
			return nil, fmt.Errorf("reaction %s reagent %v: %w", r.Identifier, reagent.Identifiers(), err)
		}
		out = append(out, i)
	}
	return out, nil
}

// BackwardResult reports the backward check of one reaction.
type BackwardResult struct {
	Status  Status    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	Volumes []float64 `json:"volumes,omitempty"`
}

// Backward asks the solver whether target, at alpha-vial volume total, is a
// mix of the hull rows. Target axes outside the space make the target
// unreachable without a solve. A solver error or deadline leaves the check
// unresolved.
func Backward(ctx context.Context, s Solver, h hull.Hull, target map[string]float64, total float64) BackwardResult {
	nonZero := make(map[string]float64, len(target))
	for id, v := range target {
		if v > hull.ZeroTolerance {
			nonZero[id] = v
		}
	}
	vector, outside := h.Project(nonZero)
	if len(outside) > 0 {
		return BackwardResult{Status: StatusInfeasible, Reason: fmt.Sprintf("axes %v outside the sampling space", outside)}
	}
	if h.Len() == 0 {
		return BackwardResult{Status: StatusInfeasible, Reason: "empty sampling space"}
	}
	f, err := s.SolveFeasibility(ctx, h.Rows(), vector, total)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return BackwardResult{Status: StatusUnresolved, Reason: "solver timed out"}
	case err != nil:
		return BackwardResult{Status: StatusUnresolved, Reason: err.Error()}
	case !f.Feasible:
		return BackwardResult{Status: StatusInfeasible, Reason: "no non-negative mix of stock solutions"}
	}
	return BackwardResult{Status: StatusOK, Volumes: f.Volumes}
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

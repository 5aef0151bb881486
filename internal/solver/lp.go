// Package solver implements the backward-check feasibility solve with the
// gonum simplex method.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"chemplumb/internal/verify"
)

// DefaultTolerance is the simplex pivot tolerance and the residual accepted
// on the mixing equations.
const DefaultTolerance = 1e-9

// rankCondition is the relative singular value cutoff used for rank decisions.
const rankCondition = 1e-10

// LP solves the mixing problem in volume fractions: x >= 0, sum(x) = 1 and
// rows^T x = target, then scales x by the total volume.
type LP struct {
	Tolerance float64
}

var _ verify.Solver = (*LP)(nil)

// New returns an LP solver with the default tolerance.
func New() *LP { return &LP{Tolerance: DefaultTolerance} }

type answer struct {
	f   verify.Feasibility
	err error
}

// SolveFeasibility runs the solve on its own goroutine so a context deadline
// can abandon it.
func (s *LP) SolveFeasibility(ctx context.Context, rows [][]float64, target []float64, total float64) (verify.Feasibility, error) {
	if err := ctx.Err(); err != nil {
		return verify.Feasibility{}, err
	}
	done := make(chan answer, 1)
	go func() {
		f, err := s.solve(rows, target, total)
		done <- answer{f: f, err: err}
	}()
	select {
	case <-ctx.Done():
		return verify.Feasibility{}, ctx.Err()
	case a := <-done:
		return a.f, a.err
	}
}

func (s *LP) tolerance() float64 {
	if s.Tolerance > 0 {
		return s.Tolerance
	}
	return DefaultTolerance
}

func (s *LP) solve(rows [][]float64, target []float64, total float64) (verify.Feasibility, error) {
	n := len(rows)
	if n == 0 {
		return verify.Feasibility{}, errors.New("no stock solutions")
	}
	if total <= 0 {
		return verify.Feasibility{}, fmt.Errorf("non-positive total volume %g", total)
	}
	for i, row := range rows {
		if len(row) != len(target) {
			return verify.Feasibility{}, fmt.Errorf("row %d has %d axes, target has %d", i, len(row), len(target))
		}
	}

	// Equality system: one row for sum(x) = 1, one per axis.
	m := len(target) + 1
	a := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	for i := 0; i < n; i++ {
		a.Set(0, i, 1)
		for j, v := range rows[i] {
			a.Set(j+1, i, v)
		}
	}
	b[0] = 1
	copy(b[1:], target)

	keep, consistent := independentRows(a, b)
	if !consistent {
		return verify.Feasibility{}, nil
	}
	ar := mat.NewDense(len(keep), n, nil)
	br := make([]float64, len(keep))
	for k, i := range keep {
		ar.SetRow(k, mat.Row(nil, i, a))
		br[k] = b[i]
	}

	tol := s.tolerance()
	var x []float64
	if len(keep) == n {
		var sol mat.VecDense
		if err := sol.SolveVec(ar, mat.NewVecDense(len(br), br)); err != nil {
			return verify.Feasibility{}, fmt.Errorf("square solve: %w", err)
		}
		x = sol.RawVector().Data
	} else {
		_, opt, err := lp.Simplex(make([]float64, n), ar, br, tol, nil)
		if errors.Is(err, lp.ErrInfeasible) {
			return verify.Feasibility{}, nil
		}
		if err != nil {
			return verify.Feasibility{}, fmt.Errorf("simplex: %w", err)
		}
		x = opt
	}

	volumes := make([]float64, n)
	for i, v := range x {
		if v < -math.Sqrt(tol) {
			return verify.Feasibility{}, nil
		}
		volumes[i] = math.Max(v, 0) * total
	}
	if !satisfies(a, b, x, math.Sqrt(tol)) {
		return verify.Feasibility{}, nil
	}
	return verify.Feasibility{Feasible: true, Volumes: volumes}, nil
}

// independentRows greedily keeps rows of a that raise its rank. A dropped
// row whose right-hand side raises the rank of [a|b] makes the system
// inconsistent.
func independentRows(a *mat.Dense, b []float64) ([]int, bool) {
	m, n := a.Dims()
	var keep []int
	rank := 0
	for i := 0; i < m; i++ {
		candidate := append(append([]int(nil), keep...), i)
		if r := rowRank(a, nil, candidate, n); r > rank {
			keep, rank = candidate, r
			continue
		}
		if rowRank(a, b, candidate, n) > rank {
			return nil, false
		}
	}
	return keep, true
}

// rowRank returns the rank of the selected rows of a, augmented with b when
// b is not nil.
func rowRank(a *mat.Dense, b []float64, rows []int, n int) int {
	cols := n
	if b != nil {
		cols++
	}
	sub := mat.NewDense(len(rows), cols, nil)
	for k, i := range rows {
		for j := 0; j < n; j++ {
			sub.Set(k, j, a.At(i, j))
		}
		if b != nil {
			sub.Set(k, n, b[i])
		}
	}
	var svd mat.SVD
	if !svd.Factorize(sub, mat.SVDNone) {
		return 0
	}
	values := svd.Values(nil)
	if len(values) == 0 || values[0] == 0 {
		return 0
	}
	rank := 0
	for _, v := range values {
		if v > rankCondition*values[0] {
			rank++
		}
	}
	return rank
}

func satisfies(a *mat.Dense, b, x []float64, tol float64) bool {
	m, n := a.Dims()
	for i := 0; i < m; i++ {
		sum := 0.0
		for j := 0; j < n; j++ {
			sum += a.At(i, j) * x[j]
		}
		if math.Abs(sum-b[i]) > tol*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}

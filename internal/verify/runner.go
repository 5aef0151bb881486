package verify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chemplumb/internal/hull"
	"chemplumb/pkg/domain"
)

// Finding rules emitted by the verifier.
const (
	RuleForwardMismatch    = "verify.forward_mismatch"
	RuleBackwardInfeasible = "verify.backward_infeasible"
	RuleBackwardUnresolved = "verify.backward_unresolved"
	RuleStockSolution      = "verify.stock_solution_missing"
)

// DefaultTimeout bounds one solver call.
const DefaultTimeout = 10 * time.Second

// Observer receives the duration and status of every backward solve.
type Observer interface {
	ObserveSolve(status Status, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveSolve(Status, time.Duration) {}

// ReactionReport is the verification of one reaction.
type ReactionReport struct {
	Reaction string         `json:"reaction"`
	Forward  ForwardResult  `json:"forward"`
	Backward BackwardResult `json:"backward"`
	Error    string         `json:"error,omitempty"`
}

// Report aggregates a verification run.
type Report struct {
	Reactions []ReactionReport `json:"reactions"`
	Forward   map[Status]int   `json:"forward"`
	Backward  map[Status]int   `json:"backward"`
	Findings  domain.Result    `json:"findings"`
}

// ForwardMismatches is the number of reactions failing the forward check.
func (r Report) ForwardMismatches() int { return r.Forward[StatusMismatch] }

// Checker runs both checks over a set of reactions.
type Checker struct {
	solver    Solver
	timeout   time.Duration
	tolerance float64
	workers   int
	logger    *zap.Logger
	observer  Observer
}

// Option configures a Checker.
type Option func(*Checker)

// WithTimeout bounds each solver call.
func WithTimeout(d time.Duration) Option {
	return func(c *Checker) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTolerance sets the forward-check relative tolerance.
func WithTolerance(tol float64) Option {
	return func(c *Checker) {
		if tol > 0 {
			c.tolerance = tol
		}
	}
}

// WithWorkers bounds concurrent reactions.
func WithWorkers(n int) Option {
	return func(c *Checker) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithLogger sets the checker logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver records solve outcomes, typically into metrics.
func WithObserver(o Observer) Option {
	return func(c *Checker) {
		if o != nil {
			c.observer = o
		}
	}
}

// NewChecker constructs a Checker around solver.
func NewChecker(s Solver, opts ...Option) *Checker {
	c := &Checker{
		solver:    s,
		timeout:   DefaultTimeout,
		tolerance: DefaultTolerance,
		workers:   1,
		logger:    zap.NewNop(),
		observer:  nopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check verifies one reaction against its summary and the sampling space.
func (c *Checker) Check(ctx context.Context, r domain.Reaction, summary domain.WF3Data, h hull.Hull) ReactionReport {
	rep := ReactionReport{Reaction: r.Identifier}
	rep.Forward = Forward(r, summary, c.tolerance)

	if _, err := LocateStockSolutions(r, summary.AntisolventIdentity, h); err != nil {
		rep.Error = err.Error()
		rep.Backward = BackwardResult{Status: StatusError, Reason: err.Error()}
		return rep
	}

	target, total := map[string]float64(rep.Forward.Reconstructed), rep.Forward.Alpha
	if rep.Forward.Status == StatusSkipped {
		published := summary.Flatten()
		delete(published, summary.AntisolventIdentity)
		target, total = published, summary.AlphaVialVolume
	}

	solveCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	start := time.Now()
	rep.Backward = Backward(solveCtx, c.solver, h, target, total)
	c.observer.ObserveSolve(rep.Backward.Status, time.Since(start))
	return rep
}

// Run checks every reaction that has a summary. Reports are in input order.
func (c *Checker) Run(ctx context.Context, reactions []domain.Reaction, summaries map[string]domain.WF3Data, h hull.Hull) (Report, error) {
	var todo []domain.Reaction
	for _, r := range reactions {
		if _, ok := summaries[r.Identifier]; ok {
			todo = append(todo, r)
		}
	}
	reports := make([]ReactionReport, len(todo))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, r := range todo {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			reports[i] = c.Check(gctx, r, summaries[r.Identifier], h)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	out := Report{Reactions: reports, Forward: map[Status]int{}, Backward: map[Status]int{}}
	for _, rr := range reports {
		out.Forward[rr.Forward.Status]++
		out.Backward[rr.Backward.Status]++
		c.record(&out.Findings, rr)
	}
	c.logger.Info("verification complete",
		zap.Int("reactions", len(reports)),
		zap.Strings("forward", sortedCounts(out.Forward)),
		zap.Strings("backward", sortedCounts(out.Backward)))
	return out, nil
}

func (c *Checker) record(res *domain.Result, rr ReactionReport) {
	log := c.logger.With(zap.String("reaction", rr.Reaction))
	add := func(rule string, sev domain.Severity, msg string) {
		res.Add(domain.Violation{Rule: rule, Severity: sev, Message: msg, Subject: domain.SubjectReaction, SubjectID: rr.Reaction})
	}
	if rr.Forward.Status == StatusMismatch {
		msg := fmt.Sprintf("%d identifiers differ from the published molarities", len(rr.Forward.Mismatches))
		log.Warn("forward check mismatch", zap.Any("mismatches", rr.Forward.Mismatches))
		add(RuleForwardMismatch, domain.SeverityWarn, msg)
	}
	switch rr.Backward.Status {
	case StatusError:
		log.Error("stock solution lookup failed", zap.String("error", rr.Error))
		add(RuleStockSolution, domain.SeverityBlock, rr.Error)
	case StatusInfeasible:
		log.Error("backward check infeasible", zap.String("reason", rr.Backward.Reason))
		add(RuleBackwardInfeasible, domain.SeverityWarn, rr.Backward.Reason)
	case StatusUnresolved:
		log.Warn("backward check unresolved", zap.String("reason", rr.Backward.Reason))
		add(RuleBackwardUnresolved, domain.SeverityWarn, rr.Backward.Reason)
	}
}

func sortedCounts(m map[Status]int) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, fmt.Sprintf("%s=%d", k, v))
	}
	sort.Strings(out)
	return out
}

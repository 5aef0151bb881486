package grouping

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chemplumb/internal/derive"
	"chemplumb/internal/hull"
	"chemplumb/pkg/domain"
)

// RuleMissingPreparation flags a stock solution left out of the sampling space.
const RuleMissingPreparation = "hull.missing_preparation"

// Group is one successfully derived version/header group.
type Group struct {
	Version        string    `json:"version"`
	Header         string    `json:"header"`
	Representative string    `json:"representative"`
	Fingerprint    string    `json:"fingerprint"`
	Key            string    `json:"key"`
	Members        []string  `json:"members"`
	Hull           hull.Hull `json:"-"`
}

// Failure is a group whose derivation was aborted.
type Failure struct {
	Members []string
	Err     *domain.GroupError
}

// Result is the reduction of every header group.
type Result struct {
	Groups   []Group
	Failed   []Failure
	Buckets  map[string][]string
	Hull     hull.Hull
	Findings domain.Result
}

// Engine runs header groups concurrently and folds them in key order.
type Engine struct {
	deriver *derive.Deriver
	workers int
	logger  *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithDeriver sets the summary deriver used for representatives.
func WithDeriver(d *derive.Deriver) Option {
	return func(e *Engine) {
		if d != nil {
			e.deriver = d
		}
	}
}

// WithWorkers bounds the number of groups processed at once.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New constructs an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{deriver: derive.New(), workers: 1, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// BucketKey names the fingerprint bucket of a version.
func BucketKey(version, fingerprint string) string {
	return version + "_" + fingerprint
}

// Partition splits reactions by exact version, then by experiment header.
// Groups are returned in (version, header) order.
func Partition(reactions []domain.Reaction) [][]domain.Reaction {
	var out [][]domain.Reaction
	for _, byVersion := range GroupBy(reactions, func(r domain.Reaction) string { return r.ExperimentVersion }) {
		for _, byHeader := range GroupBy(byVersion.Members, func(r domain.Reaction) string { return r.Header }) {
			out = append(out, byHeader.Members)
		}
	}
	return out
}

// Representative returns the member with the most category mappings, the
// earliest one on ties.
func Representative(members []domain.Reaction) domain.Reaction {
	best := 0
	for i := 1; i < len(members); i++ {
		if len(members[i].Properties.CategoryIdentifiers) > len(members[best].Properties.CategoryIdentifiers) {
			best = i
		}
	}
	return members[best]
}

// CheckDominance verifies every member's category keys are a subset of the
// representative's.
func CheckDominance(rep domain.Reaction, members []domain.Reaction) error {
	for _, m := range members {
		for token := range m.Properties.CategoryIdentifiers {
			if _, ok := rep.Properties.CategoryIdentifiers[token]; !ok {
				return fmt.Errorf("reaction %s maps %s which representative %s lacks: %w",
					m.Identifier, token, rep.Identifier, domain.ErrNonSubsetGroup)
			}
		}
	}
	return nil
}

type partial struct {
	group    Group
	findings domain.Result
	err      *domain.GroupError
	members  []string
}

// Run derives every header group and reduces them deterministically.
func (e *Engine) Run(ctx context.Context, reactions []domain.Reaction) (Result, error) {
	groups := Partition(reactions)
	partials := make([]partial, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, members := range groups {
		i, members := i, members
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = e.process(members)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	res := Result{Buckets: make(map[string][]string), Hull: hull.Empty()}
	for _, p := range partials {
		res.Findings.Merge(p.findings)
		if p.err != nil {
			e.logger.Error("group derivation aborted",
				zap.String("version", p.err.Version),
				zap.String("header", p.err.Header),
				zap.Int("members", len(p.members)),
				zap.Error(p.err.Err))
			res.Failed = append(res.Failed, Failure{Members: p.members, Err: p.err})
			continue
		}
		res.Buckets[p.group.Key] = append(res.Buckets[p.group.Key], p.group.Members...)
		res.Hull = hull.Combine(res.Hull, p.group.Hull)
		res.Groups = append(res.Groups, p.group)
	}
	e.logger.Info("grouping complete",
		zap.Int("groups", len(groups)),
		zap.Int("failed", len(res.Failed)),
		zap.Int("buckets", len(res.Buckets)),
		zap.Int("stock_solutions", res.Hull.Len()),
		zap.Int("axes", res.Hull.Dim()))
	return res, nil
}

func (e *Engine) process(members []domain.Reaction) partial {
	rep := Representative(members)
	p := partial{members: identifiers(members)}
	fail := func(err error) partial {
		p.err = &domain.GroupError{Version: rep.ExperimentVersion, Header: rep.Header, Err: err}
		return p
	}

	if err := CheckDominance(rep, members); err != nil {
		return fail(err)
	}
	summary, _, err := e.deriver.FromReaction(rep)
	if err != nil {
		return fail(fmt.Errorf("representative %s: %w", rep.Identifier, err))
	}

	var stock []domain.Reagent
	for _, m := range members {
		for _, r := range m.ReagentSet() {
			if id, single := r.SingleIdentity(); single && id == summary.AntisolventIdentity {
				continue
			}
			if !r.HasPreparation() {
				p.findings.Add(domain.Violation{
					Rule:      RuleMissingPreparation,
					Severity:  domain.SeverityWarn,
					Message:   fmt.Sprintf("stock solution of %v has no preparation volume", r.Identifiers()),
					Subject:   domain.SubjectReaction,
					SubjectID: m.Identifier,
				})
				continue
			}
			stock = append(stock, r)
		}
	}
	h, err := hull.FromReagentSet(domain.DistinctReagents(stock))
	if err != nil {
		return fail(fmt.Errorf("sampling space: %w", err))
	}

	p.group = Group{
		Version:        rep.ExperimentVersion,
		Header:         rep.Header,
		Representative: rep.Identifier,
		Fingerprint:    summary.Fingerprint,
		Key:            BucketKey(rep.ExperimentVersion, summary.Fingerprint),
		Members:        p.members,
		Hull:           h,
	}
	return p
}

func identifiers(rs []domain.Reaction) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Identifier
	}
	return out
}

// SortedKeys returns the bucket keys in order.
func (r Result) SortedKeys() []string {
	out := make([]string, 0, len(r.Buckets))
	for k := range r.Buckets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

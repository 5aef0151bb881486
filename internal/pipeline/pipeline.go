// Package pipeline drives a plumbing run: it loads the inventory, collects
// the raw tables, derives groups, summaries and the sampling space, and
// assembles the archive.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"chemplumb/internal/archive"
	"chemplumb/internal/derive"
	"chemplumb/internal/grouping"
	"chemplumb/internal/inventory"
	"chemplumb/internal/parser"
	"chemplumb/pkg/domain"
)

// RuleSummaryFailed flags a valid reaction whose summary could not be derived.
const RuleSummaryFailed = "summary.derivation_failed"

// DefaultExcludedHeaders are experiment days with known data-entry errors.
var DefaultExcludedHeaders = []string{"2018-11-02"}

// Pipeline runs batches. It is safe to reuse across runs.
type Pipeline struct {
	marker     string
	excluded   []string
	workers    int
	logger     *zap.Logger
	deriveOpts []derive.Option
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger handed to every stage.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithWorkers bounds record parsing, group derivation and summary derivation.
func WithWorkers(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithProtocolMarker sets the version prefix of workflow-3 reactions.
func WithProtocolMarker(marker string) Option {
	return func(p *Pipeline) {
		if marker != "" {
			p.marker = marker
		}
	}
}

// WithExcludedHeaders replaces the excluded experiment days.
func WithExcludedHeaders(headers []string) Option {
	return func(p *Pipeline) { p.excluded = append([]string(nil), headers...) }
}

// WithDeriveOptions passes extra options to the summary deriver.
func WithDeriveOptions(opts ...derive.Option) Option {
	return func(p *Pipeline) { p.deriveOpts = append(p.deriveOpts, opts...) }
}

// New constructs a Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		marker:   derive.DefaultProtocolMarker,
		excluded: DefaultExcludedHeaders,
		workers:  runtime.NumCPU(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) deriver() *derive.Deriver {
	opts := []derive.Option{derive.WithProtocolMarker(p.marker), derive.WithLogger(p.logger.Named("derive"))}
	return derive.New(append(opts, p.deriveOpts...)...)
}

// Batch is the collected input of a run.
type Batch struct {
	Inventory *inventory.Inventory
	// Reactions are the deduplicated workflow-3 reactions in first-seen order.
	Reactions []domain.Reaction
	// Valid is the subset with an outcome outside the excluded days.
	Valid  []domain.Reaction
	Report archive.Report
}

// Run collects the manifest and builds the archive.
func (p *Pipeline) Run(ctx context.Context, m Manifest) (*archive.Archive, error) {
	b, err := p.Collect(ctx, m)
	if err != nil {
		return nil, err
	}
	return p.Build(ctx, b)
}

// Collect loads the inventory and parses every table. Schema drift in any
// table aborts the run; rejected records are only counted.
func (p *Pipeline) Collect(ctx context.Context, m Manifest) (Batch, error) {
	if err := m.Validate(); err != nil {
		return Batch{}, err
	}
	inv, err := loadInventory(m.Inventory, p.logger.Named("inventory"))
	if err != nil {
		return Batch{}, err
	}
	p.logger.Info("inventory loaded", zap.Int("materials", inv.Len()))

	b := Batch{Inventory: inv, Report: archive.Report{Reasons: map[string]int{}}}
	seen := make(map[string]int)
	for _, src := range m.Tables {
		col, rows, err := p.collectTable(ctx, inv, src)
		if err != nil {
			return Batch{}, err
		}
		stats := archive.TableStats{
			Name:     col.Table,
			Rows:     rows,
			Parsed:   len(col.Reactions),
			Rejected: len(col.Rejected),
			Reasons:  col.ReasonCounts(),
		}
		for _, r := range col.Reactions {
			if !r.IsWorkflow3(p.marker) {
				continue
			}
			stats.Workflow3++
			if i, dup := seen[r.Identifier]; dup {
				b.Reactions[i] = r
				stats.Replaced++
				continue
			}
			seen[r.Identifier] = len(b.Reactions)
			b.Reactions = append(b.Reactions, r)
			stats.Added++
		}
		for field, n := range stats.Reasons {
			b.Report.Reasons[field] += n
		}
		b.Report.Parsed += stats.Parsed
		b.Report.Rejected += stats.Rejected
		b.Report.Tables = append(b.Report.Tables, stats)
		p.logger.Info("table collected",
			zap.String("table", stats.Name),
			zap.Int("rows", rows),
			zap.Int("parsed", stats.Parsed),
			zap.Int("rejected", stats.Rejected),
			zap.Int("workflow3", stats.Workflow3),
			zap.Int("replaced", stats.Replaced),
			zap.Int("added", stats.Added))
	}

	for _, r := range b.Reactions {
		if r.HasOutcome() && !p.isExcluded(r.Header) {
			b.Valid = append(b.Valid, r)
		}
	}
	b.Report.Reactions = len(b.Reactions)
	b.Report.Valid = len(b.Valid)
	p.logger.Info("reactions collected",
		zap.Int("workflow3", len(b.Reactions)),
		zap.Int("valid", len(b.Valid)))
	return b, nil
}

func loadInventory(path string, logger *zap.Logger) (*inventory.Inventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open inventory: %w", err)
	}
	defer func() { _ = f.Close() }()
	inv, err := inventory.Load(f, logger)
	if err != nil {
		return nil, fmt.Errorf("load inventory %s: %w", path, err)
	}
	return inv, nil
}

func (p *Pipeline) collectTable(ctx context.Context, inv *inventory.Inventory, src TableSource) (parser.Collection, int, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return parser.Collection{}, 0, fmt.Errorf("open table: %w", err)
	}
	defer func() { _ = f.Close() }()
	t, err := parser.ReadTable(src.DisplayName(), f)
	if err != nil {
		return parser.Collection{}, 0, err
	}
	ps := parser.New(inv,
		parser.WithLogger(p.logger.Named("parser")),
		parser.WithMissingOutcome(src.TolerateMissingOutcome))
	col, err := ps.Collect(ctx, t, p.workers)
	if err != nil {
		return parser.Collection{}, 0, err
	}
	return col, len(t.Rows), nil
}

// isExcluded matches a header against the excluded days; a minute-level
// header belongs to its day.
func (p *Pipeline) isExcluded(header string) bool {
	for _, day := range p.excluded {
		if header == day || strings.HasPrefix(header, day+"T") {
			return true
		}
	}
	return false
}

// Build derives groups, the sampling space, features and summaries of the
// valid reactions.
func (p *Pipeline) Build(ctx context.Context, b Batch) (*archive.Archive, error) {
	report := b.Report
	d := p.deriver()

	features := MergeFeatures(b.Valid)
	report.Findings.Merge(CheckFeatureSets(features, func(id string) (domain.Category, bool) {
		m, err := b.Inventory.Lookup(id)
		return m.Category, err == nil
	}))

	engine := grouping.New(
		grouping.WithDeriver(d),
		grouping.WithWorkers(p.workers),
		grouping.WithLogger(p.logger.Named("grouping")))
	grouped, err := engine.Run(ctx, b.Valid)
	if err != nil {
		return nil, fmt.Errorf("grouping: %w", err)
	}
	report.Findings.Merge(grouped.Findings)
	for _, f := range grouped.Failed {
		report.FailedGroups = append(report.FailedGroups, archive.FailedGroup{
			Version: f.Err.Version,
			Header:  f.Err.Header,
			Members: f.Members,
			Reason:  f.Err.Err.Error(),
		})
	}

	summaries, findings, err := p.summarize(ctx, d, b.Valid)
	if err != nil {
		return nil, err
	}
	report.Findings.Merge(findings)

	a := &archive.Archive{
		Metadata:      archive.NewMetadata(p.marker, report),
		Reactions:     b.Valid,
		Buckets:       grouped.Buckets,
		Groups:        grouped.Groups,
		Features:      features,
		Summaries:     summaries,
		Inventory:     b.Inventory.Materials(),
		SamplingSpace: grouped.Hull,
	}
	p.logger.Info("archive built",
		zap.String("run_id", a.Metadata.RunID.String()),
		zap.Int("reactions", len(a.Reactions)),
		zap.Int("summaries", len(a.Summaries)),
		zap.Int("buckets", len(a.Buckets)),
		zap.Int("failed_groups", len(report.FailedGroups)),
		zap.Int("findings", len(report.Findings.Violations)))
	return a, nil
}

type derived struct {
	summary  domain.WF3Data
	findings domain.Result
	err      error
}

// summarize derives every valid reaction in parallel and reduces in input
// order. A reaction that cannot be derived is reported and left out.
func (p *Pipeline) summarize(ctx context.Context, d *derive.Deriver, reactions []domain.Reaction) (map[string]domain.WF3Data, domain.Result, error) {
	results := make([]derived, len(reactions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, r := range reactions {
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			s, f, err := d.FromReaction(r)
			results[i] = derived{summary: s, findings: f, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, domain.Result{}, err
	}

	out := make(map[string]domain.WF3Data, len(reactions))
	var findings domain.Result
	for i, res := range results {
		findings.Merge(res.findings)
		id := reactions[i].Identifier
		if res.err != nil {
			p.logger.Error("summary derivation failed", zap.String("reaction", id), zap.Error(res.err))
			findings.Add(domain.Violation{
				Rule:      RuleSummaryFailed,
				Severity:  domain.SeverityBlock,
				Message:   res.err.Error(),
				Subject:   domain.SubjectReaction,
				SubjectID: id,
			})
			continue
		}
		out[id] = res.summary
	}
	return out, findings, nil
}

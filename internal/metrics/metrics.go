// Package metrics exposes run counters and solver timings through a
// Prometheus registry, exported as a node-exporter textfile.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chemplumb/internal/archive"
	"chemplumb/internal/verify"
)

const namespace = "chemplumb"

// Recorder owns a private registry so several runs in one process do not
// collide on the default registerer.
type Recorder struct {
	registry      *prometheus.Registry
	records       *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	findings      *prometheus.CounterVec
	groupFailures prometheus.Counter
	reactions     *prometheus.GaugeVec
	checks        *prometheus.CounterVec
	solve         *prometheus.HistogramVec
	lastRun       prometheus.Gauge
}

var _ verify.Observer = (*Recorder)(nil)

// New registers every collector on a fresh registry.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Raw records read, by table and parse status.",
		}, []string{"table", "status"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected records by offending field.",
		}, []string{"field"}),
		findings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "findings_total",
			Help:      "Data-quality findings by rule and severity.",
		}, []string{"rule", "severity"}),
		groupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "group_failures_total",
			Help:      "Header groups whose derivation aborted.",
		}),
		reactions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reactions",
			Help:      "Workflow-3 reactions of the last run, by set.",
		}, []string{"set"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checks_total",
			Help:      "Verification outcomes by check and status.",
		}, []string{"check", "status"}),
		solve: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Backward-check solver call duration.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		}, []string{"status"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Creation time of the last archive.",
		}),
	}
	r.registry.MustRegister(r.records, r.rejections, r.findings, r.groupFailures,
		r.reactions, r.checks, r.solve, r.lastRun)
	return r
}

// Registry returns the recorder's registry.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

// ObserveRun records the collection and derivation summary of a run.
func (r *Recorder) ObserveRun(md archive.Metadata) {
	rep := md.Report
	for _, t := range rep.Tables {
		r.records.WithLabelValues(t.Name, "parsed").Add(float64(t.Parsed))
		r.records.WithLabelValues(t.Name, "rejected").Add(float64(t.Rejected))
	}
	for field, n := range rep.Reasons {
		r.rejections.WithLabelValues(field).Add(float64(n))
	}
	for _, v := range rep.Findings.Violations {
		r.findings.WithLabelValues(v.Rule, string(v.Severity)).Inc()
	}
	r.groupFailures.Add(float64(len(rep.FailedGroups)))
	r.reactions.WithLabelValues("workflow3").Set(float64(rep.Reactions))
	r.reactions.WithLabelValues("valid").Set(float64(rep.Valid))
	r.lastRun.Set(float64(md.Created.Unix()))
}

// ObserveSolve records one backward-check solve.
func (r *Recorder) ObserveSolve(status verify.Status, d time.Duration) {
	r.solve.WithLabelValues(string(status)).Observe(d.Seconds())
}

// ObserveVerification records the outcome counts and findings of a verification.
func (r *Recorder) ObserveVerification(rep verify.Report) {
	for status, n := range rep.Forward {
		r.checks.WithLabelValues("forward", string(status)).Add(float64(n))
	}
	for status, n := range rep.Backward {
		r.checks.WithLabelValues("backward", string(status)).Add(float64(n))
	}
	for _, v := range rep.Findings.Violations {
		r.findings.WithLabelValues(v.Rule, string(v.Severity)).Inc()
	}
}

// WriteTextfile atomically writes the registry in the text exposition format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

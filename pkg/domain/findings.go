package domain

import "fmt"

// Severity captures how a finding affects the batch.
type Severity string

// Finding severities.
const (
	// SeverityBlock aborts the unit of work that produced it.
	SeverityBlock Severity = "block"
	// SeverityWarn is a data-quality anomaly for manual review.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Subject identifies what a finding is about.
type Subject string

// Finding subjects.
const (
	SubjectRecord   Subject = "record"
	SubjectReaction Subject = "reaction"
	SubjectGroup    Subject = "group"
	SubjectMaterial Subject = "material"
)

// Violation is a single finding.
type Violation struct {
	Rule      string   `json:"rule"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
	Subject   Subject  `json:"subject"`
	SubjectID string   `json:"subject_id"`
}

func (v Violation) String() string {
	return fmt.Sprintf("[%s] %s %s %s: %s", v.Severity, v.Rule, v.Subject, v.SubjectID, v.Message)
}

// Result aggregates findings.
type Result struct {
	Violations []Violation `json:"violations,omitempty"`
}

// Add appends one finding.
func (r *Result) Add(v Violation) {
	r.Violations = append(r.Violations, v)
}

// Merge appends findings from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking findings.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Count returns the number of findings for a rule.
func (r Result) Count(rule string) int {
	n := 0
	for _, v := range r.Violations {
		if v.Rule == rule {
			n++
		}
	}
	return n
}

// BySeverity returns the findings with the given severity.
func (r Result) BySeverity(s Severity) []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == s {
			out = append(out, v)
		}
	}
	return out
}

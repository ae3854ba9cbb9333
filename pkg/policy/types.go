package policy

import (
	"time"

	"github.com/openfroyo/pdreach/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that fail the run.
	SeverityError Severity = "error"

	// SeverityCritical is for findings that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity fails the run.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// Policy is a named Rego module. The module's package must define a deny
// set; each element is a string message or an object with message,
// severity and query keys.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`

	Tags []string `json:"tags,omitempty"`
}

// Violation is one element of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy" yaml:"policy"`
	Query    string   `json:"query,omitempty" yaml:"query,omitempty"`
	Message  string   `json:"message" yaml:"message"`
	Severity Severity `json:"severity" yaml:"severity"`

	Details map[string]interface{} `json:"details,omitempty" yaml:"details,omitempty"`
}

// Result is the outcome of evaluating every enabled policy against a report.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed" yaml:"allowed"`

	Violations []Violation `json:"violations,omitempty" yaml:"violations,omitempty"`

	// Warnings lists policies that failed to evaluate.
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies" yaml:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at" yaml:"evaluated_at"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
}

// BySeverity counts violations per severity.
func (r *Result) BySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, v := range r.Violations {
		counts[v.Severity]++
	}
	return counts
}

// Input is the document policies see as input.
type Input struct {
	RunID   string           `json:"run_id"`
	Model   string           `json:"model"`
	Results []*engine.Result `json:"results"`
	Summary engine.Summary   `json:"summary"`
	Limits  Limits           `json:"limits"`
}

// Limits are user thresholds exposed to policies as input.limits.
type Limits struct {
	// MaxWitness is the longest acceptable witness; zero disables the check.
	MaxWitness int `json:"max_witness"`
}

// NewInput builds the policy input for report.
func NewInput(report *engine.Report, limits Limits) *Input {
	results := report.Results
	if results == nil {
		results = []*engine.Result{}
	}
	return &Input{
		RunID:   report.RunID,
		Model:   report.Model,
		Results: results,
		Summary: report.Summary,
		Limits:  limits,
	}
}

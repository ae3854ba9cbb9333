package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/pdreach/pkg/automaton"
	"github.com/openfroyo/pdreach/pkg/pds"
)

// Direction selects the saturation used to answer a query.
type Direction string

const (
	// Forward seeds the automaton at the source and runs post*.
	Forward Direction = "forward"

	// Backward seeds the automaton at the target and runs pre*.
	Backward Direction = "backward"
)

// ParseDirection accepts forward/post/post* and backward/pre/pre*.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "forward", "post", "post*":
		return Forward, nil
	case "backward", "pre", "pre*":
		return Backward, nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}

// Saturation returns the automaton direction used for d.
func (d Direction) Saturation() automaton.Direction {
	if d == Backward {
		return automaton.Pre
	}
	return automaton.Post
}

// Verdict is the answer to a reachability query.
type Verdict string

const (
	VerdictReachable   Verdict = "reachable"
	VerdictUnreachable Verdict = "unreachable"
)

// ParseVerdict parses "reachable" or "unreachable". The empty string yields
// the empty verdict, meaning no expectation.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "reachable":
		return VerdictReachable, nil
	case "unreachable":
		return VerdictUnreachable, nil
	default:
		return "", fmt.Errorf("unknown verdict %q", s)
	}
}

// Config is a pushdown configuration by ids, stack top first.
type Config struct {
	State int         `json:"state"`
	Stack []pds.Label `json:"stack"`
}

// Format renders c with model names.
func (c Config) Format(pda *pds.PDA) string {
	return automaton.Configuration{State: c.State, Stack: c.Stack}.Format(pda)
}

// Query asks whether Target is reachable from Source.
type Query struct {
	Name      string
	Direction Direction
	Source    Config
	Target    Config

	// Expect is the verdict the model author expects, if any.
	Expect Verdict

	// Witness requests an execution from Source to Target when reachable.
	Witness bool
}

// WitnessStep is one configuration of a witness rendered with model names.
// Rule is the rule that produced this configuration from the previous one.
type WitnessStep struct {
	State string   `json:"state" yaml:"state"`
	Stack []string `json:"stack" yaml:"stack"`
	Rule  string   `json:"rule,omitempty" yaml:"rule,omitempty"`
}

// Outcome labels used in metrics, events and summaries.
const (
	OutcomeReachable   = "reachable"
	OutcomeUnreachable = "unreachable"
	OutcomeMismatch    = "mismatch"
	OutcomeError       = "error"
)

// Result is the answer to one query.
type Result struct {
	Query     string    `json:"query" yaml:"query"`
	Direction Direction `json:"direction" yaml:"direction"`
	Source    string    `json:"source" yaml:"source"`
	Target    string    `json:"target" yaml:"target"`

	// TargetState is the target's control state name.
	TargetState string `json:"target_state" yaml:"target_state"`

	Expect    Verdict `json:"expect,omitempty" yaml:"expect,omitempty"`
	Verdict   Verdict `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Reachable bool    `json:"reachable" yaml:"reachable"`

	// Path is the accepting automaton run for the queried configuration.
	Path    []int         `json:"path,omitempty" yaml:"path,omitempty"`
	Witness []WitnessStep `json:"witness,omitempty" yaml:"witness,omitempty"`

	Stats automaton.Stats `json:"stats" yaml:"stats"`

	// Skipped explains why saturation was not needed, if it was not.
	Skipped string `json:"skipped,omitempty" yaml:"skipped,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    *Error        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Mismatch reports whether the verdict disagrees with the expectation.
func (r *Result) Mismatch() bool {
	return r.Error == nil && r.Expect != "" && r.Expect != r.Verdict
}

// Outcome summarizes the result as one of the Outcome constants.
func (r *Result) Outcome() string {
	switch {
	case r.Error != nil:
		return OutcomeError
	case r.Mismatch():
		return OutcomeMismatch
	case r.Reachable:
		return OutcomeReachable
	default:
		return OutcomeUnreachable
	}
}

// Summary counts results by outcome.
type Summary struct {
	Total       int `json:"total" yaml:"total"`
	Reachable   int `json:"reachable" yaml:"reachable"`
	Unreachable int `json:"unreachable" yaml:"unreachable"`
	Mismatched  int `json:"mismatched" yaml:"mismatched"`
	Failed      int `json:"failed" yaml:"failed"`

	// Prefiltered counts queries answered without saturation.
	Prefiltered int `json:"prefiltered" yaml:"prefiltered"`
}

// OK reports whether every query succeeded and met its expectation.
func (s Summary) OK() bool {
	return s.Mismatched == 0 && s.Failed == 0
}

// Counts returns the summary as a map, for events.
func (s Summary) Counts() map[string]int {
	return map[string]int{
		"total":       s.Total,
		"reachable":   s.Reachable,
		"unreachable": s.Unreachable,
		"mismatched":  s.Mismatched,
		"failed":      s.Failed,
		"prefiltered": s.Prefiltered,
	}
}

// Summarize counts results.
func Summarize(results []*Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.Skipped != "" {
			s.Prefiltered++
		}
		switch r.Outcome() {
		case OutcomeError:
			s.Failed++
			continue
		case OutcomeMismatch:
			s.Mismatched++
		}
		if r.Reachable {
			s.Reachable++
		} else {
			s.Unreachable++
		}
	}
	return s
}

// Report is the outcome of a batch run.
type Report struct {
	RunID     string        `json:"run_id" yaml:"run_id"`
	Model     string        `json:"model" yaml:"model"`
	StartedAt time.Time     `json:"started_at" yaml:"started_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
	Results   []*Result     `json:"results" yaml:"results"`
	Summary   Summary       `json:"summary" yaml:"summary"`
}

// Failed returns the results that errored or missed their expectation.
func (r *Report) Failed() []*Result {
	var out []*Result
	for _, res := range r.Results {
		if o := res.Outcome(); o == OutcomeError || o == OutcomeMismatch {
			out = append(out, res)
		}
	}
	return out
}

package engine

import (
	"fmt"
	"time"
)

// RunStatus is the lifecycle status of a batch run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is solving queries.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every query was answered as expected.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates at least one query errored or missed its
	// expectation.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was interrupted.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusCancelled
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// StatusFor derives the final status of a run from its summary and the
// error returned by Batch.Run.
func StatusFor(summary Summary, runErr error) RunStatus {
	switch {
	case runErr != nil:
		return RunStatusCancelled
	case summary.OK():
		return RunStatusSucceeded
	default:
		return RunStatusFailed
	}
}

// Run is the persisted record of a batch run.
type Run struct {
	ID          string     `json:"id"`
	Model       string     `json:"model"`
	Source      string     `json:"source,omitempty"`
	Status      RunStatus  `json:"status"`
	Queries     int        `json:"queries"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Summary     Summary    `json:"summary"`
}

// Duration returns the run's wall time, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

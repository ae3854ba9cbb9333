package engine

import "context"

// Recorder persists runs and their results as a batch progresses.
// pkg/stores.SQLiteStore implements it.
type Recorder interface {
	// CreateRun records a run in the running state.
	CreateRun(ctx context.Context, run *Run) error

	// SaveResult records one query result of a run.
	SaveResult(ctx context.Context, runID string, res *Result) error

	// CompleteRun records the final status and summary of a run.
	CompleteRun(ctx context.Context, run *Run) error
}

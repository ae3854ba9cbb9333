package engine

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// Batch runs many queries against one solver on a bounded worker pool.
type Batch struct {
	solver       *Solver
	maxParallel  int
	queryTimeout time.Duration
	runID        string
	source       string
	recorder     Recorder
	onResult     func(*Result)
}

// BatchOption configures a Batch.
type BatchOption func(*Batch)

// WithMaxParallel bounds the number of queries solved at once. Values
// below one mean GOMAXPROCS.
func WithMaxParallel(n int) BatchOption {
	return func(b *Batch) {
		if n > 0 {
			b.maxParallel = n
		}
	}
}

// WithQueryTimeout bounds each query. Zero means no limit.
func WithQueryTimeout(d time.Duration) BatchOption {
	return func(b *Batch) { b.queryTimeout = d }
}

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) BatchOption {
	return func(b *Batch) { b.runID = id }
}

// WithRecorder persists the run and every result through r.
func WithRecorder(r Recorder) BatchOption {
	return func(b *Batch) { b.recorder = r }
}

// WithSource records the model file the queries came from.
func WithSource(path string) BatchOption {
	return func(b *Batch) { b.source = path }
}

// WithResultHook calls fn for every finished result, from the worker that
// produced it.
func WithResultHook(fn func(*Result)) BatchOption {
	return func(b *Batch) { b.onResult = fn }
}

// NewBatch creates a batch runner.
func NewBatch(solver *Solver, opts ...BatchOption) *Batch {
	b := &Batch{
		solver:      solver,
		maxParallel: runtime.GOMAXPROCS(0),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Run solves queries and returns a report with results in query order.
// Query failures are recorded in their results. Run itself fails when ctx
// is cancelled or the recorder fails, and still returns the report then.
func (b *Batch) Run(ctx context.Context, queries []Query) (*Report, error) {
	runID := b.runID
	if runID == "" {
		runID = uuid.New().String()
	}
	tel := b.solver.tel
	model := b.solver.pda.Name()

	logger := telemetry.FromContext(ctx).WithRunID(runID).WithModel(model)
	ctx = logger.WithContext(ctx)

	ctx, span := tel.Tracer.StartBatchSpan(ctx, runID, model)
	defer span.End()

	report := &Report{
		RunID:     runID,
		Model:     model,
		StartedAt: time.Now().UTC(),
		Results:   make([]*Result, len(queries)),
	}
	run := &Run{
		ID:        runID,
		Model:     model,
		Source:    b.source,
		Status:    RunStatusRunning,
		Queries:   len(queries),
		StartedAt: report.StartedAt,
	}
	if b.recorder != nil {
		if err := b.recorder.CreateRun(ctx, run); err != nil {
			return nil, NewStorageError("failed to record run", err).WithOperation("create_run")
		}
	}

	if err := tel.Events.PublishBatchStarted(runID, model, len(queries)); err != nil {
		logger.WithError(err).Debug("Dropped batch event")
	}
	logger.Infof("Running %d queries with %d workers", len(queries), b.maxParallel)

	g := new(errgroup.Group)
	g.SetLimit(b.maxParallel)
	for i, q := range queries {
		g.Go(func() error {
			res := b.runOne(ctx, runID, q)
			report.Results[i] = res
			if b.onResult != nil {
				b.onResult(res)
			}
			if b.recorder != nil {
				if err := b.recorder.SaveResult(context.WithoutCancel(ctx), runID, res); err != nil {
					return NewStorageError("failed to record result", err).
						WithQuery(q.Name).
						WithOperation("save_result")
				}
			}
			return nil
		})
	}
	recordErr := g.Wait()

	report.Duration = time.Since(report.StartedAt)
	report.Summary = Summarize(report.Results)

	tel.Metrics.RecordBatch()
	if err := tel.Events.PublishBatchCompleted(runID, report.Summary.Counts(), report.Duration); err != nil {
		logger.WithError(err).Debug("Dropped batch event")
	}
	logger.WithField("summary", report.Summary.Counts()).Info("Run complete")

	var runErr error
	if err := ctx.Err(); err != nil {
		runErr = NewTimeoutError(fmt.Sprintf("run %s cancelled", runID), err)
	}

	if b.recorder != nil {
		completed := report.StartedAt.Add(report.Duration)
		run.Status = StatusFor(report.Summary, runErr)
		run.CompletedAt = &completed
		run.Summary = report.Summary
		if err := b.recorder.CompleteRun(context.WithoutCancel(ctx), run); err != nil && recordErr == nil {
			recordErr = NewStorageError("failed to complete run", err).WithOperation("complete_run")
		}
	}
	if recordErr != nil {
		tel.Metrics.RecordError(string(ErrorClassStorage))
		logger.WithError(recordErr).Error("Failed to record run")
		if runErr == nil {
			runErr = recordErr
		}
	}

	telemetry.Finish(span, runErr)
	return report, runErr
}

func (b *Batch) runOne(ctx context.Context, runID string, q Query) *Result {
	tel := b.solver.tel
	start := time.Now()

	if err := ctx.Err(); err != nil {
		res := b.solver.failedResult(q, NewTimeoutError("cancelled before start", err), 0)
		_ = tel.Events.PublishQueryFailed(runID, q.Name, res.Error.Error())
		return res
	}

	qctx := ctx
	if b.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, b.queryTimeout)
		defer cancel()
	}

	res, err := b.solver.Solve(qctx, q)
	if err == nil && expired(qctx) {
		err = NewTimeoutError(fmt.Sprintf("query exceeded %s", b.queryTimeout), context.DeadlineExceeded)
	}
	if err != nil {
		res = b.solver.failedResult(q, err, time.Since(start))
		_ = tel.Events.PublishQueryFailed(runID, q.Name, res.Error.Error())
		return res
	}

	_ = tel.Events.PublishQueryCompleted(runID, q.Name, res.Outcome(), res.Duration)
	return res
}

// expired reports whether ctx is done or its deadline has passed, without
// waiting for the deadline timer to fire.
func expired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	dl, ok := ctx.Deadline()
	return ok && !time.Now().Before(dl)
}

package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/pdreach/pkg/telemetry"
)

type fakeRecorder struct {
	mu        sync.Mutex
	created   []*Run
	results   map[string][]*Result
	completed []*Run
	failSave  bool
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{results: make(map[string][]*Result)}
}

func (f *fakeRecorder) CreateRun(_ context.Context, run *Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.created = append(f.created, &cp)
	return nil
}

func (f *fakeRecorder) SaveResult(_ context.Context, runID string, res *Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSave {
		return errors.New("disk full")
	}
	f.results[runID] = append(f.results[runID], res)
	return nil
}

func (f *fakeRecorder) CompleteRun(_ context.Context, run *Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.completed = append(f.completed, &cp)
	return nil
}

func batchQueries() []Query {
	return []Query{
		{Name: "call", Direction: Forward, Source: cfg(sp, la), Target: cfg(sq, lb, la), Witness: true},
		{Name: "call-back", Direction: Backward, Source: cfg(sp, la), Target: cfg(sq, lb, la)},
		{Name: "err", Direction: Forward, Source: cfg(sp, la), Target: cfg(sr, la), Expect: VerdictUnreachable},
		{Name: "empty", Direction: Backward, Source: cfg(sp, la), Target: cfg(sp), Expect: VerdictReachable},
		{Name: "bad", Direction: Forward, Source: cfg(sp, la), Target: cfg(11)},
	}
}

func TestBatch_Run(t *testing.T) {
	tel := telemetry.Noop()
	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Failed to create event publisher: %v", err)
	}
	tel.Events = events

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
	)
	events.Subscribe(func(e telemetry.Event) {
		mu.Lock()
		defer mu.Unlock()
		seen[e.Type]++
	}, nil)

	recorder := newFakeRecorder()
	solver := NewSolver(callModel(t), WithTelemetry(tel))
	batch := NewBatch(solver,
		WithMaxParallel(2),
		WithRunID("run-1"),
		WithRecorder(recorder),
		WithSource("calls.yaml"),
	)

	report, err := batch.Run(context.Background(), batchQueries())
	if err != nil {
		t.Fatalf("Failed to run batch: %v", err)
	}

	if report.RunID != "run-1" || report.Model != "calls" {
		t.Errorf("Unexpected report header: %s %s", report.RunID, report.Model)
	}
	for i, q := range batchQueries() {
		if report.Results[i].Query != q.Name {
			t.Errorf("Result %d is %s, want %s", i, report.Results[i].Query, q.Name)
		}
	}

	want := Summary{Total: 5, Reachable: 2, Unreachable: 2, Mismatched: 1, Failed: 1, Prefiltered: 1}
	if report.Summary != want {
		t.Errorf("Expected summary %+v, got %+v", want, report.Summary)
	}
	if report.Summary.OK() {
		t.Error("Summary with failures should not be OK")
	}
	if got := len(report.Failed()); got != 2 {
		t.Errorf("Expected 2 failed results, got %d", got)
	}
	if len(report.Results[0].Witness) != 2 {
		t.Errorf("Expected witness on first result, got %v", report.Results[0].Witness)
	}

	mu.Lock()
	if seen[telemetry.EventTypeBatchStarted] != 1 || seen[telemetry.EventTypeBatchCompleted] != 1 {
		t.Errorf("Expected one batch start and completion event, got %v", seen)
	}
	if seen[telemetry.EventTypeQueryCompleted] != 4 || seen[telemetry.EventTypeQueryFailed] != 1 {
		t.Errorf("Expected 4 completed and 1 failed query event, got %v", seen)
	}
	mu.Unlock()

	if len(recorder.created) != 1 || recorder.created[0].Status != RunStatusRunning {
		t.Fatalf("Expected one running run recorded, got %+v", recorder.created)
	}
	if recorder.created[0].Source != "calls.yaml" || recorder.created[0].Queries != 5 {
		t.Errorf("Unexpected run record %+v", recorder.created[0])
	}
	if got := len(recorder.results["run-1"]); got != 5 {
		t.Errorf("Expected 5 recorded results, got %d", got)
	}
	if len(recorder.completed) != 1 {
		t.Fatalf("Expected run completion, got %d", len(recorder.completed))
	}
	done := recorder.completed[0]
	if done.Status != RunStatusFailed || done.CompletedAt == nil || done.Summary != want {
		t.Errorf("Unexpected completed run %+v", done)
	}
}

func TestBatch_Cancelled(t *testing.T) {
	solver := NewSolver(callModel(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewBatch(solver).Run(ctx, batchQueries())
	if !IsTimeout(err) {
		t.Fatalf("Expected timeout error, got %v", err)
	}
	if report == nil {
		t.Fatal("Expected a partial report")
	}
	for _, res := range report.Results {
		if res.Error == nil || res.Error.Class != ErrorClassTimeout {
			t.Errorf("Expected %s to time out, got %+v", res.Query, res.Error)
		}
	}
	if report.Summary.Failed != 5 {
		t.Errorf("Expected 5 failures, got %d", report.Summary.Failed)
	}
}

func TestBatch_QueryTimeout(t *testing.T) {
	solver := NewSolver(callModel(t))
	report, err := NewBatch(solver, WithQueryTimeout(time.Nanosecond)).Run(context.Background(), batchQueries()[:1])
	if err != nil {
		t.Fatalf("Batch should not fail for query timeouts: %v", err)
	}
	res := report.Results[0]
	if res.Error == nil || res.Error.Class != ErrorClassTimeout {
		t.Errorf("Expected query timeout, got %+v", res)
	}
}

func TestBatch_RecorderFailure(t *testing.T) {
	recorder := newFakeRecorder()
	recorder.failSave = true

	report, err := NewBatch(NewSolver(callModel(t)), WithRecorder(recorder)).
		Run(context.Background(), batchQueries()[:2])
	if !IsStorage(err) {
		t.Fatalf("Expected storage error, got %v", err)
	}
	if report == nil || report.Summary.Total != 2 {
		t.Errorf("Expected the report despite recording failure, got %+v", report)
	}
	if len(recorder.completed) != 1 {
		t.Errorf("Expected run to be completed anyway, got %d", len(recorder.completed))
	}
}

func TestBatch_ResultHook(t *testing.T) {
	var (
		mu    sync.Mutex
		names []string
	)
	hook := func(r *Result) {
		mu.Lock()
		defer mu.Unlock()
		names = append(names, r.Query)
	}

	_, err := NewBatch(NewSolver(callModel(t)), WithMaxParallel(1), WithResultHook(hook)).
		Run(context.Background(), batchQueries())
	if err != nil {
		t.Fatalf("Failed to run batch: %v", err)
	}
	if len(names) != 5 || names[0] != "call" || names[4] != "bad" {
		t.Errorf("Expected results in order with one worker, got %v", names)
	}
}

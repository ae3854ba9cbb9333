package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/pdreach/pkg/automaton"
	"github.com/openfroyo/pdreach/pkg/pds"
	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// Solver answers reachability queries against one pushdown system. Each
// query saturates its own automaton, so a Solver may be used concurrently.
type Solver struct {
	pda       *pds.PDA
	graph     *StateGraph
	tel       *telemetry.Telemetry
	prefilter bool
}

// SolverOption configures a Solver.
type SolverOption func(*Solver)

// WithTelemetry routes logs, spans, metrics and events through tel.
func WithTelemetry(tel *telemetry.Telemetry) SolverOption {
	return func(s *Solver) {
		if tel != nil {
			s.tel = tel
		}
	}
}

// WithoutPrefilter always saturates, even when the state graph already
// rules the target out.
func WithoutPrefilter() SolverOption {
	return func(s *Solver) { s.prefilter = false }
}

// NewSolver creates a solver for pda.
func NewSolver(pda *pds.PDA, opts ...SolverOption) *Solver {
	s := &Solver{
		pda:       pda,
		graph:     NewStateGraph(pda),
		tel:       telemetry.Noop(),
		prefilter: true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PDA returns the model the solver answers queries for.
func (s *Solver) PDA() *pds.PDA { return s.pda }

// Graph returns the control-state graph used for prefiltering.
func (s *Solver) Graph() *StateGraph { return s.graph }

// Telemetry returns the solver's telemetry bundle.
func (s *Solver) Telemetry() *telemetry.Telemetry { return s.tel }

// ValidateConfig checks that c names existing states and labels.
func (s *Solver) ValidateConfig(c Config) error {
	if c.State < 0 || c.State >= s.pda.NumStates() {
		return NewValidationError(fmt.Sprintf("state %d out of range", c.State), pds.ErrUnknownState).
			WithCode(ErrCodeUnknownState)
	}
	for _, l := range c.Stack {
		if int(l) >= s.pda.NumLabels() {
			return NewValidationError(fmt.Sprintf("label %d out of range", l), pds.ErrUnknownLabel).
				WithCode(ErrCodeUnknownLabel)
		}
	}
	return nil
}

// Saturate builds the automaton for seed and saturates it in direction dir.
func (s *Solver) Saturate(ctx context.Context, dir Direction, seed Config, opts ...automaton.Option) (*automaton.Automaton, error) {
	if err := s.ValidateConfig(seed); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewTimeoutError("saturation cancelled before start", err).WithOperation("saturate")
	}

	logger := telemetry.FromContext(ctx)
	opts = append([]automaton.Option{automaton.WithLogger(logger.Zerolog())}, opts...)
	a, err := automaton.New(s.pda, seed.State, seed.Stack, opts...)
	if err != nil {
		return nil, NewSaturationError("failed to build seed automaton", err).WithOperation("saturate")
	}

	sat := dir.Saturation()
	_, span := s.tel.Tracer.StartSaturationSpan(ctx, string(sat), a.NumStates(), a.NumEdges())
	defer span.End()

	timer := telemetry.NewTimer()
	if dir == Backward {
		a.PreStar()
	} else {
		a.PostStar()
	}
	stats := a.Stats()
	s.tel.Metrics.RecordSaturation(string(sat), timer.Duration(), stats.EdgesAdded, stats.StatesAdded)

	telemetry.EndSaturation(span, a.NumStates(), a.NumEdges())

	return a, nil
}

// Solve answers one query. Failures are returned as *Error; a query that
// is answered, reachable or not, returns a nil error.
func (s *Solver) Solve(ctx context.Context, q Query) (*Result, error) {
	if q.Direction != Forward && q.Direction != Backward {
		return nil, NewValidationError(fmt.Sprintf("unknown direction %q", q.Direction), nil).WithQuery(q.Name)
	}
	for _, c := range []Config{q.Source, q.Target} {
		if err := s.ValidateConfig(c); err != nil {
			var e *Error
			if errors.As(err, &e) {
				e.WithQuery(q.Name)
			}
			return nil, err
		}
	}

	s.tel.Metrics.QueryStarted()
	ctx, span := s.tel.Tracer.StartQuerySpan(ctx, q.Name, string(q.Direction))
	defer span.End()

	logger := telemetry.FromContext(ctx).WithQuery(q.Name, string(q.Direction))
	ctx = logger.WithContext(ctx)
	timer := telemetry.NewTimer()

	res, err := s.solve(ctx, q)
	duration := timer.Duration()

	outcome := OutcomeError
	if err != nil {
		var class string
		var e *Error
		if errors.As(err, &e) {
			e.WithQuery(q.Name)
			class = string(e.Class)
			s.tel.Metrics.RecordError(class)
		}
		telemetry.FinishClassified(span, class, err)
		logger.WithError(err).Warn("Query failed")
	} else {
		res.Duration = duration
		outcome = res.Outcome()
		span.SetAttributes(telemetry.AttrReachable.Bool(res.Reachable))
		telemetry.Finish(span, nil)
		logger.WithField("verdict", string(res.Verdict)).Debug("Query answered")
	}
	s.tel.Metrics.RecordQuery(string(q.Direction), outcome, duration)

	return res, err
}

func (s *Solver) solve(ctx context.Context, q Query) (*Result, error) {
	res := &Result{
		Query:       q.Name,
		Direction:   q.Direction,
		Source:      q.Source.Format(s.pda),
		Target:      q.Target.Format(s.pda),
		TargetState: s.pda.StateName(q.Target.State),
		Expect:      q.Expect,
	}

	if s.prefilter && !s.graph.CanReach(q.Source.State, q.Target.State) {
		res.Verdict = VerdictUnreachable
		res.Skipped = fmt.Sprintf("state %s is not reachable from %s in the state graph",
			s.pda.StateName(q.Target.State), s.pda.StateName(q.Source.State))
		return res, nil
	}

	seed, probe := q.Source, q.Target
	if q.Direction == Backward {
		seed, probe = q.Target, q.Source
	}

	a, err := s.Saturate(ctx, q.Direction, seed)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, NewTimeoutError("query deadline exceeded during saturation", err).WithOperation("saturate")
	}
	res.Stats = a.Stats()

	path, ok := a.AcceptPath(probe.State, probe.Stack)
	res.Reachable = ok
	res.Verdict = VerdictUnreachable
	if !ok {
		return res, nil
	}
	res.Verdict = VerdictReachable
	res.Path = path

	if q.Witness {
		w, err := a.Witness(probe.State, probe.Stack)
		if err != nil {
			return nil, NewQueryError("failed to replay witness", err).
				WithOperation("witness").
				WithCode(ErrCodeBrokenTrace)
		}
		res.Witness = s.renderWitness(w)
	}
	return res, nil
}

func (s *Solver) renderWitness(w *automaton.Witness) []WitnessStep {
	steps := make([]WitnessStep, len(w.Steps))
	for i, st := range w.Steps {
		steps[i] = WitnessStep{
			State: s.pda.StateName(st.Config.State),
			Stack: s.pda.StackNames(st.Config.Stack),
		}
		if st.HasRule {
			steps[i].Rule = s.pda.FormatRule(s.pda.Rule(st.Rule))
		}
	}
	return steps
}

// SolveAll answers queries one after another, stopping at the first
// cancellation. It is the sequential counterpart of Batch.
func (s *Solver) SolveAll(ctx context.Context, queries []Query) ([]*Result, error) {
	results := make([]*Result, 0, len(queries))
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return results, NewTimeoutError("cancelled between queries", err)
		}
		start := time.Now()
		res, err := s.Solve(ctx, q)
		if err != nil {
			res = s.failedResult(q, err, time.Since(start))
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Solver) failedResult(q Query, err error, duration time.Duration) *Result {
	var e *Error
	if !errors.As(err, &e) {
		e = NewInternalError("query failed", err)
	}
	e.WithQuery(q.Name)
	res := &Result{
		Query:     q.Name,
		Direction: q.Direction,
		Expect:    q.Expect,
		Duration:  duration,
		Error:     e,
	}
	if s.ValidateConfig(q.Source) == nil {
		res.Source = q.Source.Format(s.pda)
	}
	if s.ValidateConfig(q.Target) == nil {
		res.Target = q.Target.Format(s.pda)
		res.TargetState = s.pda.StateName(q.Target.State)
	}
	return res
}

// Package engine answers reachability queries over pushdown systems.
//
// # Overview
//
// A Query names a source and a target configuration and a direction:
//
//   - Forward seeds a P-automaton with the source, saturates it with post*
//     and checks whether the target is accepted.
//   - Backward seeds the automaton with the target, saturates it with pre*
//     and checks whether the source is accepted.
//
// Both directions give the same verdict; they differ in cost and in which
// configurations the saturated automaton describes.
//
// # Solver
//
// A Solver owns one read-only pushdown system and its control-state graph.
// Before saturating it consults the graph: if the target control state is
// not reachable from the source control state along any rule, the query is
// unreachable and no automaton is built. Results answered this way carry a
// Skipped reason.
//
//	solver := engine.NewSolver(pda, engine.WithTelemetry(tel))
//	res, err := solver.Solve(ctx, engine.Query{
//	    Name:      "fwd",
//	    Direction: engine.Forward,
//	    Source:    engine.Config{State: p, Stack: []pds.Label{a}},
//	    Target:    engine.Config{State: q, Stack: []pds.Label{b, a}},
//	    Witness:   true,
//	})
//
// # Batches
//
// Batch solves many queries on a bounded worker pool. Each query gets its
// own automaton, so workers share nothing but the model. A run id ties the
// results, events and stored history of one batch together.
//
// Saturation is not interruptible. A query whose deadline passes while it
// saturates is reported with ErrorClassTimeout once its worker returns, and
// queries not yet started when the batch is cancelled are reported the
// same way.
//
// # Errors
//
// Failures are *Error values classified by ErrorClass. The CLI maps
// validation and model errors to exit status 2 and everything else to 1.
package engine

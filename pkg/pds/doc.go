// Package pds defines the pushdown system model consumed by the reachability
// engine.
//
// A pushdown system has a finite ordered set of control states, a finite
// stack alphabet and rules of the form (p, a) -> (q, op) where op pops the
// top label, swaps it for another label, or pushes a label on top of it.
// Control state ids and label ids are dense integers assigned in declaration
// order, so they can be used directly as indices by the automaton package.
//
// Models are assembled with a Builder and are immutable once built:
//
//	b := pds.NewBuilder("example").States("p", "q").Labels("a", "b")
//	b.Rule("p", "a", "q", pds.Push, "b")
//	model, err := b.Build()
//
// A *PDA may be shared by any number of goroutines and automata.
package pds

// Package automaton implements P-automata and the pre* and post* saturation
// procedures for pushdown reachability.
//
// # Overview
//
// A P-automaton over a pushdown model recognises a regular set of
// configurations: the configuration (p, w) is accepted when the automaton
// can read w starting in state p and stop in an accepting state. The first
// NumStates() automaton states are the model's control states, so a control
// state id is also an automaton state id.
//
//	pda := pds.NewBuilder("calls").States("p", "q").Labels("a", "b").
//		Rule("p", "a", "q", pds.Push, "b").
//		MustBuild()
//	aut, err := automaton.New(pda, 0, []pds.Label{0})
//	aut.PostStar()
//	ok := aut.Accepts(1, []pds.Label{1, 0}) // (q, b a) is reachable
//
// # Saturation
//
// PreStar adds transitions until the language is closed under the inverse of
// the rule relation; PostStar adds transitions and intermediate states until
// it is closed under the rule relation. Both are worklist fixpoints over
// (from, label, to) transitions, and each transition is added once. Neither
// removes anything, so the language before saturation is contained in the
// language after it.
//
// # Provenance
//
// Every transition added by saturation carries a handle into the
// automaton's provenance arena naming the rule (and intermediate state)
// that produced it. TraceLabel looks a handle up, Trace resolves it, and
// Witness replays the records into a concrete execution of the model.
//
// # Thread Safety
//
// An Automaton must be confined to one goroutine. The *pds.PDA it refers to
// is read-only and may be shared by many automata.
package automaton

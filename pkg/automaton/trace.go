package automaton

import (
	"fmt"

	"github.com/openfroyo/pdreach/pkg/pds"
)

// TraceID is a stable handle into an automaton's provenance arena.
type TraceID int

// Trace records why an edge exists. It is one of PreTrace, PostTrace or
// EpsilonTrace.
type Trace interface {
	isTrace()
	fmt.Stringer
}

// PreTrace is recorded by pre*. Temp is set when a push rule was collapsed
// through the intermediate state Temp.
type PreTrace struct {
	Rule    pds.RuleID
	Temp    StateID
	HasTemp bool
}

// PostTrace is recorded by post* when rule Rule fired on the transition
// (From, Label, ...).
type PostTrace struct {
	From  StateID
	Rule  pds.RuleID
	Label pds.Label
}

// EpsilonTrace is recorded when an edge was obtained by composing an epsilon
// transition into State with a labeled transition out of State.
type EpsilonTrace struct {
	State StateID
}

func (PreTrace) isTrace()     {}
func (PostTrace) isTrace()    {}
func (EpsilonTrace) isTrace() {}

func (t PreTrace) String() string {
	if t.HasTemp {
		return fmt.Sprintf("pre(rule=%d, temp=%d)", t.Rule, t.Temp)
	}
	return fmt.Sprintf("pre(rule=%d)", t.Rule)
}

func (t PostTrace) String() string {
	return fmt.Sprintf("post(from=%d, rule=%d, label=%d)", t.From, t.Rule, t.Label)
}

func (t EpsilonTrace) String() string {
	return fmt.Sprintf("epsilon(state=%d)", t.State)
}

// arena is append-only; handles are indices and never change.
type arena struct {
	records []Trace
}

func (a *arena) add(t Trace) TraceID {
	a.records = append(a.records, t)
	return TraceID(len(a.records) - 1)
}

func (a *arena) get(id TraceID) Trace {
	if id < 0 || int(id) >= len(a.records) {
		panic(fmt.Sprintf("automaton: trace handle %d outside arena of %d records", id, len(a.records)))
	}
	return a.records[id]
}

func (a *arena) clone() arena {
	return arena{records: append([]Trace(nil), a.records...)}
}

// Trace resolves a provenance handle issued by this automaton.
// Handles from another automaton are a programming error.
func (a *Automaton) Trace(id TraceID) Trace {
	return a.traces.get(id)
}

// NumTraces returns the number of provenance records.
func (a *Automaton) NumTraces() int {
	return len(a.traces.records)
}

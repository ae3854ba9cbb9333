package automaton

import (
	"sort"

	"github.com/openfroyo/pdreach/pkg/pds"
)

// StateID identifies an automaton state. Ids below the model's NumStates are
// the pushdown control states; larger ids are synthetic.
type StateID = int

// LabelTrace is one entry on an edge: a stack label or epsilon, optionally
// paired with the provenance record that introduced it.
type LabelTrace struct {
	Label   pds.Label
	Epsilon bool

	trace    TraceID
	hasTrace bool
}

// Trace returns the provenance handle of the entry, if it has one.
func (l LabelTrace) Trace() (TraceID, bool) {
	return l.trace, l.hasTrace
}

// Edge is the set of transitions from one state to To.
// Labeled entries are sorted and unique; an epsilon entry, if present, is last.
type Edge struct {
	To     StateID
	Labels []LabelTrace
}

// HasEpsilon reports whether the edge carries an epsilon entry.
func (e *Edge) HasEpsilon() bool {
	return len(e.Labels) > 0 && e.Labels[len(e.Labels)-1].Epsilon
}

// HasNonEpsilon reports whether the edge carries at least one stack label.
func (e *Edge) HasNonEpsilon() bool {
	return len(e.Labels) > 0 && !e.Labels[0].Epsilon
}

// NumLabels returns the number of labeled (non-epsilon) entries.
func (e *Edge) NumLabels() int {
	if e.HasEpsilon() {
		return len(e.Labels) - 1
	}
	return len(e.Labels)
}

// find returns the index of label among the labeled entries.
func (e *Edge) find(label pds.Label) (int, bool) {
	n := e.NumLabels()
	i := sort.Search(n, func(i int) bool { return e.Labels[i].Label >= label })
	return i, i < n && e.Labels[i].Label == label
}

// Contains reports whether the edge carries label.
func (e *Edge) Contains(label pds.Label) bool {
	_, ok := e.find(label)
	return ok
}

// addLabel inserts label keeping order. It reports false if already present.
func (e *Edge) addLabel(entry LabelTrace) bool {
	i, ok := e.find(entry.Label)
	if ok {
		return false
	}
	e.Labels = append(e.Labels, LabelTrace{})
	copy(e.Labels[i+1:], e.Labels[i:])
	e.Labels[i] = entry
	return true
}

// addEpsilon appends the epsilon entry. It reports false if already present.
func (e *Edge) addEpsilon(entry LabelTrace) bool {
	if e.HasEpsilon() {
		return false
	}
	e.Labels = append(e.Labels, entry)
	return true
}

// State is an automaton state and its outgoing edges, in insertion order.
type State struct {
	ID        StateID
	Initial   bool
	Accepting bool
	Edges     []Edge
}

// edge returns the edge from s to to, if any.
func (s *State) edge(to StateID) *Edge {
	for i := range s.Edges {
		if s.Edges[i].To == to {
			return &s.Edges[i]
		}
	}
	return nil
}

// EdgeKey names a single transition. Epsilon transitions set Epsilon and
// ignore Label.
type EdgeKey struct {
	From    StateID
	Label   pds.Label
	Epsilon bool
	To      StateID
}

// Stats summarizes a saturation run.
type Stats struct {
	Direction   string `json:"direction"`
	Iterations  int    `json:"iterations"`
	EdgesAdded  int    `json:"edges_added"`
	StatesAdded int    `json:"states_added"`
	TracesAdded int    `json:"traces_added"`
}

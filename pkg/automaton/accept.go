package automaton

import (
	"github.com/openfroyo/pdreach/pkg/pds"
)

// Accepts reports whether the configuration (state, stack) is in the
// automaton's language.
func (a *Automaton) Accepts(state StateID, stack []pds.Label) bool {
	_, ok := a.acceptEdges(state, stack)
	return ok
}

// AcceptPath returns the states visited by the first accepting run on
// (state, stack), starting with state itself. Epsilon moves contribute a
// state without consuming a label.
func (a *Automaton) AcceptPath(state StateID, stack []pds.Label) ([]StateID, bool) {
	edges, ok := a.acceptEdges(state, stack)
	if !ok {
		return nil, false
	}
	path := make([]StateID, 0, len(edges)+1)
	path = append(path, state)
	for _, e := range edges {
		path = append(path, e.To)
	}
	return path, true
}

// TraceLabel returns the provenance handle of the transition
// (from, label, to). It reports false when the transition does not exist or
// carries no provenance, as seed transitions do.
func (a *Automaton) TraceLabel(from StateID, label pds.Label, to StateID) (TraceID, bool) {
	return a.TraceLabelEdge(EdgeKey{From: from, Label: label, To: to})
}

// TraceEpsilon returns the provenance handle of the epsilon transition from -> to.
func (a *Automaton) TraceEpsilon(from, to StateID) (TraceID, bool) {
	return a.TraceLabelEdge(EdgeKey{From: from, Epsilon: true, To: to})
}

// TraceLabelEdge is TraceLabel keyed by an EdgeKey.
func (a *Automaton) TraceLabelEdge(k EdgeKey) (TraceID, bool) {
	if k.From < 0 || k.From >= len(a.states) {
		return 0, false
	}
	e := a.states[k.From].edge(k.To)
	if e == nil {
		return 0, false
	}
	if k.Epsilon {
		if !e.HasEpsilon() {
			return 0, false
		}
		return e.Labels[len(e.Labels)-1].Trace()
	}
	i, ok := e.find(k.Label)
	if !ok {
		return 0, false
	}
	return e.Labels[i].Trace()
}

type position struct {
	state StateID
	pos   int
}

type pathSearch struct {
	a      *Automaton
	stack  []pds.Label
	onPath map[position]bool
	dead   map[position]bool
	edges  []EdgeKey
}

// acceptEdges runs a backtracking search for an accepting run and returns
// the transitions it took.
func (a *Automaton) acceptEdges(state StateID, stack []pds.Label) ([]EdgeKey, bool) {
	if state < 0 || state >= len(a.states) {
		return nil, false
	}
	ps := &pathSearch{
		a:      a,
		stack:  stack,
		onPath: make(map[position]bool),
		dead:   make(map[position]bool),
	}
	if !ps.visit(state, 0) {
		return nil, false
	}
	return ps.edges, true
}

func (ps *pathSearch) visit(s StateID, pos int) bool {
	if pos == len(ps.stack) && ps.a.states[s].Accepting {
		return true
	}
	here := position{s, pos}
	if ps.onPath[here] || ps.dead[here] {
		return false
	}
	ps.onPath[here] = true
	defer delete(ps.onPath, here)

	for i := range ps.a.states[s].Edges {
		e := &ps.a.states[s].Edges[i]
		if pos < len(ps.stack) && e.Contains(ps.stack[pos]) {
			if ps.follow(EdgeKey{From: s, Label: ps.stack[pos], To: e.To}, pos+1) {
				return true
			}
		}
		if e.HasEpsilon() {
			if ps.follow(EdgeKey{From: s, Epsilon: true, To: e.To}, pos) {
				return true
			}
		}
	}

	ps.dead[here] = true
	return false
}

func (ps *pathSearch) follow(k EdgeKey, pos int) bool {
	ps.edges = append(ps.edges, k)
	if ps.visit(k.To, pos) {
		return true
	}
	ps.edges = ps.edges[:len(ps.edges)-1]
	return false
}

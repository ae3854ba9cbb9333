package automaton

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pdreach/pkg/pds"
)

var (
	// ErrInvalidState is returned when a seed state is not a control state of the model.
	ErrInvalidState = errors.New("invalid control state")
	// ErrInvalidLabel is returned when a seed stack uses a label outside the alphabet.
	ErrInvalidLabel = errors.New("invalid stack label")
)

// Direction records which saturation an automaton has undergone.
type Direction string

const (
	// Unsaturated is the state of a freshly seeded automaton.
	Unsaturated Direction = ""
	// Pre marks an automaton saturated by PreStar.
	Pre Direction = "pre*"
	// Post marks an automaton saturated by PostStar.
	Post Direction = "post*"
)

// Automaton is a P-automaton over a pushdown model. Its accepted language,
// read from a control state, is a set of stack configurations.
//
// An Automaton is not safe for concurrent use. The model is shared and never
// modified.
type Automaton struct {
	pda *pds.PDA

	states    []*State
	initial   []StateID
	accepting []StateID
	traces    arena

	// post* intermediate state per push target (control state, pushed label)
	mid map[ruleKey]StateID

	saturated Direction
	stats     Stats
	logger    zerolog.Logger
	observer  Observer
}

// Option configures an Automaton at construction.
type Option func(*options)

type options struct {
	logger    zerolog.Logger
	observer  Observer
	anySuffix bool
}

// Observer is told about every state and transition added after
// construction. It runs synchronously inside saturation and must not call
// back into the automaton.
type Observer interface {
	StateAdded(id StateID)
	EdgeAdded(edge EdgeKey, trace Trace)
}

// WithLogger sets the logger used for saturation progress.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithObserver registers o for the saturation of the automaton.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		opts.observer = o
	}
}

// WithAnySuffix widens the seed to every stack that starts with the seed
// stack, by closing the last seed state under a wildcard loop.
func WithAnySuffix() Option {
	return func(o *options) {
		o.anySuffix = true
	}
}

// New creates an automaton accepting exactly the configuration
// (initial, stack), or every (initial, stack·w) with WithAnySuffix.
func New(pda *pds.PDA, initial StateID, stack []pds.Label, opts ...Option) (*Automaton, error) {
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	if initial < 0 || initial >= pda.NumStates() {
		return nil, fmt.Errorf("%w: %d (model has %d states)", ErrInvalidState, initial, pda.NumStates())
	}
	for i, l := range stack {
		if int(l) >= pda.NumLabels() {
			return nil, fmt.Errorf("%w: %d at stack position %d", ErrInvalidLabel, l, i)
		}
	}

	a := &Automaton{
		pda:    pda,
		logger: o.logger,
	}

	accepting := pda.NumStates()
	if len(stack) == 0 {
		accepting = initial
	}
	for i := 0; i < pda.NumStates(); i++ {
		a.addState(true, i == accepting)
	}

	last := initial
	for i, l := range stack {
		s := a.addState(false, i == len(stack)-1)
		a.addEdge(last, s, l, nil)
		last = s
	}

	if o.anySuffix {
		if last == initial {
			// Keep the control state free of incoming edges.
			s := a.addState(false, true)
			a.addWildcard(initial, s)
			last = s
		}
		a.addWildcard(last, last)
	}

	a.observer = o.observer
	return a, nil
}

// Clone returns a deep copy built by remapping state ids. Provenance handles
// stay valid in the copy; the model is shared. The copy has no observer.
func (a *Automaton) Clone() *Automaton {
	remap := make([]StateID, len(a.states))
	c := &Automaton{
		pda:       a.pda,
		states:    make([]*State, 0, len(a.states)),
		traces:    a.traces.clone(),
		saturated: a.saturated,
		stats:     a.stats,
		logger:    a.logger,
	}

	for _, s := range a.states {
		remap[s.ID] = len(c.states)
		c.states = append(c.states, &State{
			ID:        len(c.states),
			Initial:   s.Initial,
			Accepting: s.Accepting,
		})
	}
	for _, s := range a.states {
		ns := c.states[remap[s.ID]]
		ns.Edges = make([]Edge, len(s.Edges))
		for i, e := range s.Edges {
			ns.Edges[i] = Edge{
				To:     remap[e.To],
				Labels: append([]LabelTrace(nil), e.Labels...),
			}
		}
	}
	for _, id := range a.initial {
		c.initial = append(c.initial, remap[id])
	}
	for _, id := range a.accepting {
		c.accepting = append(c.accepting, remap[id])
	}
	if a.mid != nil {
		c.mid = make(map[ruleKey]StateID, len(a.mid))
		for k, id := range a.mid {
			c.mid[k] = remap[id]
		}
	}
	return c
}

// PDA returns the model the automaton was built over.
func (a *Automaton) PDA() *pds.PDA { return a.pda }

// NumStates returns the number of states, control and synthetic.
func (a *Automaton) NumStates() int { return len(a.states) }

// State returns a read-only view of state id.
func (a *Automaton) State(id StateID) *State { return a.states[id] }

// States returns read-only views of all states ordered by id.
func (a *Automaton) States() []*State {
	return append([]*State(nil), a.states...)
}

// Initial returns the ids of the initial states.
func (a *Automaton) Initial() []StateID { return append([]StateID(nil), a.initial...) }

// Accepting returns the ids of the accepting states.
func (a *Automaton) Accepting() []StateID { return append([]StateID(nil), a.accepting...) }

// Saturated reports which saturation, if any, has run.
func (a *Automaton) Saturated() Direction { return a.saturated }

// Stats returns the counters of the last saturation.
func (a *Automaton) Stats() Stats { return a.stats }

// Edges lists every transition as an EdgeKey, in state and insertion order.
func (a *Automaton) Edges() []EdgeKey {
	var out []EdgeKey
	for _, s := range a.states {
		for _, e := range s.Edges {
			for _, l := range e.Labels {
				out = append(out, EdgeKey{From: s.ID, Label: l.Label, Epsilon: l.Epsilon, To: e.To})
			}
		}
	}
	return out
}

// NumEdges counts transitions, one per label or epsilon entry.
func (a *Automaton) NumEdges() int {
	n := 0
	for _, s := range a.states {
		for _, e := range s.Edges {
			n += len(e.Labels)
		}
	}
	return n
}

func (a *Automaton) nextStateID() StateID {
	return len(a.states)
}

func (a *Automaton) addState(initial, accepting bool) StateID {
	id := a.nextStateID()
	a.states = append(a.states, &State{ID: id, Initial: initial, Accepting: accepting})
	if initial {
		a.initial = append(a.initial, id)
	}
	if accepting {
		a.accepting = append(a.accepting, id)
	}
	if a.observer != nil {
		a.observer.StateAdded(id)
	}
	return id
}

func (a *Automaton) edgeTo(from, to StateID) *Edge {
	s := a.states[from]
	if e := s.edge(to); e != nil {
		return e
	}
	s.Edges = append(s.Edges, Edge{To: to})
	return &s.Edges[len(s.Edges)-1]
}

// addEdge inserts (from, label, to). The trace is stored only when the
// transition is new; it reports whether the transition was added.
func (a *Automaton) addEdge(from, to StateID, label pds.Label, trace Trace) bool {
	e := a.edgeTo(from, to)
	if e.Contains(label) {
		return false
	}
	entry := LabelTrace{Label: label}
	if trace != nil {
		entry.trace = a.traces.add(trace)
		entry.hasTrace = true
	}
	e.addLabel(entry)
	if a.observer != nil {
		a.observer.EdgeAdded(EdgeKey{From: from, Label: label, To: to}, trace)
	}
	return true
}

func (a *Automaton) addEpsilonEdge(from, to StateID, trace Trace) bool {
	e := a.edgeTo(from, to)
	if e.HasEpsilon() {
		return false
	}
	entry := LabelTrace{Epsilon: true}
	if trace != nil {
		entry.trace = a.traces.add(trace)
		entry.hasTrace = true
	}
	e.addEpsilon(entry)
	if a.observer != nil {
		a.observer.EdgeAdded(EdgeKey{From: from, Epsilon: true, To: to}, trace)
	}
	return true
}

// addWildcard adds every label of the alphabet on from -> to, without
// provenance.
func (a *Automaton) addWildcard(from, to StateID) {
	for l := 0; l < a.pda.NumLabels(); l++ {
		a.addEdge(from, to, pds.Label(l), nil)
	}
}

// hasTransition reports whether the transition named by k exists.
func (a *Automaton) hasTransition(k EdgeKey) bool {
	e := a.states[k.From].edge(k.To)
	if e == nil {
		return false
	}
	if k.Epsilon {
		return e.HasEpsilon()
	}
	return e.Contains(k.Label)
}

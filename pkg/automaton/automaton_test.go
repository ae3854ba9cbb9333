package automaton

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pdreach/pkg/pds"
)

// Control state and label ids shared by the fixtures below.
const (
	p = 0
	q = 1

	la pds.Label = 0
	lb pds.Label = 1
)

func twoStateModel(t *testing.T, rules ...pds.Rule) *pds.PDA {
	t.Helper()
	b := pds.NewBuilder("fixture").States("p", "q").Labels("a", "b")
	for _, r := range rules {
		b.AddRule(r.From, r.Label, r.To, r.Op, r.OpLabel)
	}
	model, err := b.Build()
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}
	return model
}

func mustNew(t *testing.T, model *pds.PDA, state StateID, stack []pds.Label, opts ...Option) *Automaton {
	t.Helper()
	a, err := New(model, state, stack, opts...)
	if err != nil {
		t.Fatalf("Failed to create automaton: %v", err)
	}
	return a
}

// allStacks enumerates every stack over n labels up to length max.
func allStacks(n, max int) [][]pds.Label {
	out := [][]pds.Label{{}}
	frontier := [][]pds.Label{{}}
	for l := 0; l < max; l++ {
		var next [][]pds.Label
		for _, s := range frontier {
			for x := 0; x < n; x++ {
				ext := append(append([]pds.Label(nil), s...), pds.Label(x))
				next = append(next, ext)
			}
		}
		out = append(out, next...)
		frontier = next
	}
	return out
}

func TestNew_SeedAcceptsOnlyTheSeed(t *testing.T) {
	model := twoStateModel(t)

	tests := []struct {
		name  string
		state StateID
		stack []pds.Label
	}{
		{"empty stack", p, nil},
		{"single label", q, []pds.Label{lb}},
		{"two labels", p, []pds.Label{la, lb}},
		{"repeated labels", q, []pds.Label{la, la, la}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustNew(t, model, tt.state, tt.stack)

			for _, s := range []StateID{p, q} {
				for _, stack := range allStacks(2, 4) {
					want := s == tt.state && cmp.Equal(stack, tt.stack, cmpEmpty)
					if got := a.Accepts(s, stack); got != want {
						t.Errorf("Accepts(%d, %v) = %v, want %v", s, stack, got, want)
					}
				}
			}
		})
	}
}

// cmpEmpty treats nil and empty stacks as equal.
var cmpEmpty = cmp.Comparer(func(x, y []pds.Label) bool {
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
})

func TestNew_Layout(t *testing.T) {
	model := twoStateModel(t)
	a := mustNew(t, model, q, []pds.Label{la, lb})

	if a.NumStates() != 4 {
		t.Fatalf("Expected 4 states, got %d", a.NumStates())
	}
	if diff := cmp.Diff([]StateID{0, 1}, a.Initial()); diff != "" {
		t.Errorf("Initial mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]StateID{3}, a.Accepting()); diff != "" {
		t.Errorf("Accepting mismatch (-want +got):\n%s", diff)
	}

	want := []EdgeKey{
		{From: q, Label: la, To: 2},
		{From: 2, Label: lb, To: 3},
	}
	if diff := cmp.Diff(want, a.Edges()); diff != "" {
		t.Errorf("Edges mismatch (-want +got):\n%s", diff)
	}
	if _, ok := a.TraceLabel(q, la, 2); ok {
		t.Error("Seed transition should carry no provenance")
	}
}

func TestNew_InvalidInput(t *testing.T) {
	model := twoStateModel(t)

	if _, err := New(model, 5, nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState, got %v", err)
	}
	if _, err := New(model, p, []pds.Label{9}); !errors.Is(err, ErrInvalidLabel) {
		t.Errorf("Expected ErrInvalidLabel, got %v", err)
	}
}

func TestNew_AnySuffix(t *testing.T) {
	model := twoStateModel(t)

	a := mustNew(t, model, p, []pds.Label{lb}, WithAnySuffix())
	for _, stack := range allStacks(2, 3) {
		want := len(stack) > 0 && stack[0] == lb
		if got := a.Accepts(p, stack); got != want {
			t.Errorf("Accepts(p, %v) = %v, want %v", stack, got, want)
		}
	}

	empty := mustNew(t, model, q, nil, WithAnySuffix())
	for _, stack := range allStacks(2, 3) {
		if !empty.Accepts(q, stack) {
			t.Errorf("Expected (q, %v) to be accepted", stack)
		}
		if empty.Accepts(p, stack) {
			t.Errorf("Expected (p, %v) to be rejected", stack)
		}
	}
	for _, s := range empty.States() {
		for _, e := range s.Edges {
			if e.To < model.NumStates() {
				t.Errorf("Transition %d -> %d enters a control state", s.ID, e.To)
			}
		}
	}
}

func TestEdge_LabelOrdering(t *testing.T) {
	var e Edge
	for _, l := range []pds.Label{3, 1, 2, 1} {
		e.addLabel(LabelTrace{Label: l})
	}
	if !e.addEpsilon(LabelTrace{Epsilon: true}) {
		t.Fatal("Expected epsilon to be added")
	}
	if e.addEpsilon(LabelTrace{Epsilon: true}) {
		t.Error("Expected second epsilon to be rejected")
	}
	e.addLabel(LabelTrace{Label: 0})

	var got []pds.Label
	for _, l := range e.Labels[:e.NumLabels()] {
		got = append(got, l.Label)
	}
	if diff := cmp.Diff([]pds.Label{0, 1, 2, 3}, got); diff != "" {
		t.Errorf("Label order mismatch (-want +got):\n%s", diff)
	}
	if !e.HasEpsilon() || !e.HasNonEpsilon() {
		t.Error("Expected both epsilon and labeled entries")
	}
	if !e.Labels[len(e.Labels)-1].Epsilon {
		t.Error("Epsilon entry must be last")
	}
	if !e.Contains(2) || e.Contains(7) {
		t.Error("Contains returned wrong result")
	}
}

func TestClone_Independent(t *testing.T) {
	model := twoStateModel(t, pds.Rule{From: p, Label: la, To: q, Op: pds.Push, OpLabel: lb})
	a := mustNew(t, model, p, []pds.Label{la})
	a.PostStar()

	c := a.Clone()
	if diff := cmp.Diff(a.Edges(), c.Edges()); diff != "" {
		t.Fatalf("Clone edges mismatch (-orig +clone):\n%s", diff)
	}
	if c.PDA() != a.PDA() {
		t.Error("Clone should share the model")
	}

	// Provenance handles resolve to the same records in the copy.
	for _, k := range a.Edges() {
		id, ok := a.TraceLabelEdge(k)
		cid, cok := c.TraceLabelEdge(k)
		if ok != cok || id != cid {
			t.Fatalf("Trace handle mismatch on %v", k)
		}
		if ok && a.Trace(id) != c.Trace(cid) {
			t.Errorf("Trace record mismatch on %v", k)
		}
	}

	// A second post* on the copy reuses its intermediate states.
	before := c.NumStates()
	c.PostStar()
	if c.NumStates() != before {
		t.Errorf("Expected no new states on re-saturation, got %d -> %d", before, c.NumStates())
	}

	c.addEdge(q, p, la, nil)
	if a.hasTransition(EdgeKey{From: q, Label: la, To: p}) {
		t.Error("Mutating the clone changed the original")
	}
}

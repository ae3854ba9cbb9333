package automaton

import (
	"github.com/openfroyo/pdreach/pkg/pds"
)

// PostStar saturates the automaton forwards. Afterwards it accepts every
// configuration reachable from some configuration of the seeded language.
//
// Each push target (q, b) gets one intermediate state, created on first use;
// the seeded automaton must not have transitions into control states, which
// New guarantees. PostStar must run at most once, and not after PreStar.
func (a *Automaton) PostStar() {
	pda := a.pda
	startStates, startEdges, startTraces := len(a.states), a.NumEdges(), a.NumTraces()
	a.logger.Debug().
		Str("direction", string(Post)).
		Int("states", startStates).
		Int("edges", startEdges).
		Int("rules", pda.NumRules()).
		Msg("Starting saturation")

	if a.mid == nil {
		a.mid = make(map[ruleKey]StateID)
	}
	epsPred := make(map[StateID][]StateID)

	var work worklist
	work.seed(a, epsPred, true)

	add := func(from StateID, label pds.Label, to StateID, t Trace) {
		if a.addEdge(from, to, label, t) {
			work.push(EdgeKey{From: from, Label: label, To: to})
		}
	}
	addEpsilon := func(from, to StateID, t Trace) {
		if a.addEpsilonEdge(from, to, t) {
			epsPred[to] = append(epsPred[to], from)
			work.push(EdgeKey{From: from, Epsilon: true, To: to})
		}
	}

	iterations := 0
	for {
		t, ok := work.pop()
		if !ok {
			break
		}
		iterations++

		if t.Epsilon {
			// p --ε--> s --a--> u gives p --a--> u.
			for _, l := range a.labelsFrom(t.To) {
				add(t.From, l.label, l.to, EpsilonTrace{State: t.To})
			}
			continue
		}

		if t.From < pda.NumStates() {
			for _, id := range pda.RulesFrom(t.From) {
				r := pda.Rule(id)
				if r.Label != t.Label {
					continue
				}
				trace := PostTrace{From: t.From, Rule: id, Label: t.Label}
				switch r.Op {
				case pds.Pop:
					addEpsilon(r.To, t.To, trace)
				case pds.Swap:
					add(r.To, r.OpLabel, t.To, trace)
				case pds.Push:
					m := a.midState(r.To, r.OpLabel)
					add(r.To, r.OpLabel, m, trace)
					add(m, t.Label, t.To, trace)
				}
			}
		}

		for _, x := range append([]StateID(nil), epsPred[t.From]...) {
			add(x, t.Label, t.To, EpsilonTrace{State: t.From})
		}
	}

	a.saturated = Post
	a.stats = Stats{
		Direction:   string(Post),
		Iterations:  iterations,
		EdgesAdded:  a.NumEdges() - startEdges,
		StatesAdded: len(a.states) - startStates,
		TracesAdded: a.NumTraces() - startTraces,
	}
	a.logger.Debug().
		Str("direction", string(Post)).
		Int("iterations", iterations).
		Int("edges_added", a.stats.EdgesAdded).
		Int("states_added", a.stats.StatesAdded).
		Msg("Saturation complete")
}

// midState returns the intermediate state for push target (q, label).
func (a *Automaton) midState(q StateID, label pds.Label) StateID {
	k := ruleKey{q, label}
	if id, ok := a.mid[k]; ok {
		return id
	}
	id := a.addState(false, false)
	a.mid[k] = id
	return id
}

type labeledTarget struct {
	label pds.Label
	to    StateID
}

// labelsFrom snapshots the labeled transitions leaving s.
func (a *Automaton) labelsFrom(s StateID) []labeledTarget {
	var out []labeledTarget
	for _, e := range a.states[s].Edges {
		for _, l := range e.Labels {
			if !l.Epsilon {
				out = append(out, labeledTarget{label: l.Label, to: e.To})
			}
		}
	}
	return out
}

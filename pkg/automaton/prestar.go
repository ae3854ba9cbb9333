package automaton

import (
	"github.com/openfroyo/pdreach/pkg/pds"
)

type ruleKey struct {
	state StateID
	label pds.Label
}

// derivedRule is (from, label) -> (via, label) produced by a push rule whose
// first step has been matched; via is the push rule's intermediate state.
type derivedRule struct {
	from  StateID
	label pds.Label
	rule  pds.RuleID
	via   StateID
}

// worklist is a FIFO of transitions whose consequences are still pending.
// A transition enters it exactly once, when it is first added to the automaton.
type worklist struct {
	items []EdgeKey
	head  int
}

func (w *worklist) push(k EdgeKey) { w.items = append(w.items, k) }

func (w *worklist) pop() (EdgeKey, bool) {
	if w.head == len(w.items) {
		return EdgeKey{}, false
	}
	k := w.items[w.head]
	w.head++
	return k, true
}

// seed queues every existing transition and indexes epsilon predecessors.
func (w *worklist) seed(a *Automaton, epsPred map[StateID][]StateID, withEpsilon bool) {
	for _, s := range a.states {
		for _, e := range s.Edges {
			for _, l := range e.Labels {
				if l.Epsilon {
					epsPred[e.To] = append(epsPred[e.To], s.ID)
					if !withEpsilon {
						continue
					}
				}
				w.push(EdgeKey{From: s.ID, Label: l.Label, Epsilon: l.Epsilon, To: e.To})
			}
		}
	}
}

// PreStar saturates the automaton backwards. Afterwards it accepts every
// configuration from which some configuration of the seeded language is
// reachable.
//
// PreStar must run at most once, and not after PostStar.
func (a *Automaton) PreStar() {
	pda := a.pda
	startEdges, startTraces := a.NumEdges(), a.NumTraces()
	a.logger.Debug().
		Str("direction", string(Pre)).
		Int("states", len(a.states)).
		Int("edges", startEdges).
		Int("rules", pda.NumRules()).
		Msg("Starting saturation")

	swaps := make(map[ruleKey][]pds.RuleID)
	pushes := make(map[ruleKey][]pds.RuleID)
	for _, r := range pda.Rules() {
		switch r.Op {
		case pds.Swap:
			k := ruleKey{r.To, r.OpLabel}
			swaps[k] = append(swaps[k], r.ID)
		case pds.Push:
			k := ruleKey{r.To, r.OpLabel}
			pushes[k] = append(pushes[k], r.ID)
		}
	}
	derived := make(map[ruleKey][]derivedRule)
	epsPred := make(map[StateID][]StateID)

	var work worklist
	work.seed(a, epsPred, false)

	add := func(from StateID, label pds.Label, to StateID, t Trace) {
		if a.addEdge(from, to, label, t) {
			work.push(EdgeKey{From: from, Label: label, To: to})
		}
	}

	// (p, a) -> (q, pop) gives p --a--> q directly.
	for _, r := range pda.Rules() {
		if r.Op == pds.Pop {
			add(r.From, r.Label, r.To, PreTrace{Rule: r.ID})
		}
	}

	iterations := 0
	for {
		t, ok := work.pop()
		if !ok {
			break
		}
		iterations++
		k := ruleKey{t.From, t.Label}

		for _, id := range swaps[k] {
			r := pda.Rule(id)
			add(r.From, r.Label, t.To, PreTrace{Rule: id})
		}

		for _, d := range derived[k] {
			add(d.from, d.label, t.To, PreTrace{Rule: d.rule, Temp: d.via, HasTemp: true})
		}

		for _, id := range pushes[k] {
			r := pda.Rule(id)
			dk := ruleKey{t.To, r.Label}
			derived[dk] = append(derived[dk], derivedRule{from: r.From, label: r.Label, rule: id, via: t.To})
			for _, to := range a.targets(t.To, r.Label) {
				add(r.From, r.Label, to, PreTrace{Rule: id, Temp: t.To, HasTemp: true})
			}
		}

		for _, x := range epsPred[t.From] {
			add(x, t.Label, t.To, EpsilonTrace{State: t.From})
		}
	}

	a.saturated = Pre
	a.stats = Stats{
		Direction:   string(Pre),
		Iterations:  iterations,
		EdgesAdded:  a.NumEdges() - startEdges,
		TracesAdded: a.NumTraces() - startTraces,
	}
	a.logger.Debug().
		Str("direction", string(Pre)).
		Int("iterations", iterations).
		Int("edges_added", a.stats.EdgesAdded).
		Msg("Saturation complete")
}

// targets returns the states reachable from s over label, in edge order.
func (a *Automaton) targets(s StateID, label pds.Label) []StateID {
	var out []StateID
	for i := range a.states[s].Edges {
		e := &a.states[s].Edges[i]
		if e.Contains(label) {
			out = append(out, e.To)
		}
	}
	return out
}

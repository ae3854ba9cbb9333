package automaton

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfroyo/pdreach/pkg/pds"
)

var (
	// ErrNotSaturated is returned when a witness is requested before saturation.
	ErrNotSaturated = errors.New("automaton has not been saturated")
	// ErrNotAccepted is returned when the configuration is not in the language.
	ErrNotAccepted = errors.New("configuration not accepted")
	// ErrBrokenTrace is returned when provenance cannot be replayed.
	ErrBrokenTrace = errors.New("provenance does not replay")
)

// maxWitnessSteps bounds replay; witnesses can be exponential in the model size.
const maxWitnessSteps = 1 << 20

// Configuration is a control state together with a stack, top first.
type Configuration struct {
	State StateID     `json:"state"`
	Stack []pds.Label `json:"stack"`
}

// Format renders the configuration with model names.
func (c Configuration) Format(pda *pds.PDA) string {
	return fmt.Sprintf("<%s, [%s]>", pda.StateName(c.State), strings.Join(pda.StackNames(c.Stack), " "))
}

// Step is one configuration of a witness and the rule that produced it from
// the previous step. The first step has no rule.
type Step struct {
	Config  Configuration `json:"config"`
	Rule    pds.RuleID    `json:"rule"`
	HasRule bool          `json:"has_rule"`
}

// Witness is an execution of the pushdown system, in forward time order.
// After pre* it starts at the queried configuration and ends in the seed
// language; after post* it starts in the seed and ends at the queried
// configuration.
type Witness struct {
	Direction Direction `json:"direction"`
	Steps     []Step    `json:"steps"`
}

// Rules returns the rule ids fired along the witness.
func (w *Witness) Rules() []pds.RuleID {
	var out []pds.RuleID
	for _, s := range w.Steps {
		if s.HasRule {
			out = append(out, s.Rule)
		}
	}
	return out
}

// Witness reconstructs an execution justifying that (state, stack) is
// accepted, by replaying the provenance along an accepting run.
func (a *Automaton) Witness(state StateID, stack []pds.Label) (*Witness, error) {
	if a.saturated == Unsaturated {
		return nil, ErrNotSaturated
	}
	edges, ok := a.acceptEdges(state, stack)
	if !ok {
		return nil, ErrNotAccepted
	}
	start := Configuration{State: state, Stack: append([]pds.Label(nil), stack...)}

	if a.saturated == Pre {
		return a.preWitness(start, edges)
	}
	return a.postWitness(start, edges)
}

// seedPath reports whether every transition of path is a seed transition.
func (a *Automaton) seedPath(path []EdgeKey) bool {
	for _, k := range path {
		if _, ok := a.TraceLabelEdge(k); ok {
			return false
		}
	}
	return true
}

func brokenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBrokenTrace, fmt.Sprintf(format, args...))
}

func (a *Automaton) preWitness(cur Configuration, path []EdgeKey) (*Witness, error) {
	w := &Witness{Direction: Pre, Steps: []Step{{Config: cur}}}

	for len(path) > 0 {
		if len(w.Steps) > maxWitnessSteps {
			return nil, brokenf("witness exceeds %d steps", maxWitnessSteps)
		}
		first := path[0]
		id, ok := a.TraceLabelEdge(first)
		if !ok {
			if !a.seedPath(path) {
				return nil, brokenf("seed transition %v followed by derived transitions", first)
			}
			break
		}

		tr, ok := a.Trace(id).(PreTrace)
		if !ok {
			return nil, brokenf("transition %v has %s after pre*", first, a.Trace(id))
		}
		r := a.pda.Rule(tr.Rule)
		if first.Epsilon || first.From != r.From || first.Label != r.Label {
			return nil, brokenf("rule %d does not match transition %v", r.ID, first)
		}

		var next []EdgeKey
		switch r.Op {
		case pds.Swap:
			next = append(next, EdgeKey{From: r.To, Label: r.OpLabel, To: first.To})
		case pds.Push:
			if !tr.HasTemp {
				return nil, brokenf("push rule %d recorded without intermediate state", r.ID)
			}
			next = append(next,
				EdgeKey{From: r.To, Label: r.OpLabel, To: tr.Temp},
				EdgeKey{From: tr.Temp, Label: r.Label, To: first.To},
			)
		}
		path = append(next, path[1:]...)

		cur = Configuration{State: r.To, Stack: r.Apply(cur.Stack)}
		w.Steps = append(w.Steps, Step{Config: cur, Rule: r.ID, HasRule: true})
	}

	return w, nil
}

func (a *Automaton) postWitness(cur Configuration, path []EdgeKey) (*Witness, error) {
	configs := []Configuration{cur}
	var rules []pds.RuleID

	for len(path) > 0 {
		if len(configs) > maxWitnessSteps {
			return nil, brokenf("witness exceeds %d steps", maxWitnessSteps)
		}
		first := path[0]
		id, ok := a.TraceLabelEdge(first)
		if !ok {
			if !a.seedPath(path) {
				return nil, brokenf("seed transition %v followed by derived transitions", first)
			}
			break
		}

		switch tr := a.Trace(id).(type) {
		case EpsilonTrace:
			// x --a--> u was composed from x --ε--> m --a--> u.
			if first.Epsilon {
				return nil, brokenf("epsilon transition %v composed through epsilon", first)
			}
			path = append([]EdgeKey{
				{From: first.From, Epsilon: true, To: tr.State},
				{From: tr.State, Label: first.Label, To: first.To},
			}, path[1:]...)

		case PostTrace:
			r := a.pda.Rule(tr.Rule)
			applied := r
			var prev Configuration
			switch r.Op {
			case pds.Pop:
				if !first.Epsilon {
					return nil, brokenf("pop rule %d on labeled transition %v", r.ID, first)
				}
				prev = Configuration{State: tr.From, Stack: prepend(tr.Label, cur.Stack)}
				path = append([]EdgeKey{{From: tr.From, Label: tr.Label, To: first.To}}, path[1:]...)

			case pds.Swap:
				if first.Epsilon || len(cur.Stack) == 0 {
					return nil, brokenf("swap rule %d on transition %v", r.ID, first)
				}
				prev = Configuration{State: tr.From, Stack: prepend(tr.Label, cur.Stack[1:])}
				path = append([]EdgeKey{{From: tr.From, Label: tr.Label, To: first.To}}, path[1:]...)

			case pds.Push:
				// The second transition out of the intermediate state names
				// the push that put its label there.
				if len(path) < 2 || len(cur.Stack) < 2 {
					return nil, brokenf("push rule %d without intermediate transition", r.ID)
				}
				second := path[1]
				id2, ok := a.TraceLabelEdge(second)
				if !ok {
					return nil, brokenf("intermediate transition %v has no provenance", second)
				}
				tr2, ok := a.Trace(id2).(PostTrace)
				if !ok {
					return nil, brokenf("intermediate transition %v has %s", second, a.Trace(id2))
				}
				applied = a.pda.Rule(tr2.Rule)
				if applied.Op != pds.Push || applied.To != r.To || applied.OpLabel != r.OpLabel {
					return nil, brokenf("rule %d does not enter intermediate state %d", applied.ID, first.To)
				}
				prev = Configuration{State: tr2.From, Stack: prepend(tr2.Label, cur.Stack[2:])}
				path = append([]EdgeKey{{From: tr2.From, Label: tr2.Label, To: second.To}}, path[2:]...)
			}

			rules = append(rules, applied.ID)
			configs = append(configs, prev)
			cur = prev

		default:
			return nil, brokenf("transition %v has %s after post*", first, tr)
		}
	}

	w := &Witness{Direction: Post, Steps: make([]Step, 0, len(configs))}
	for i := len(configs) - 1; i >= 0; i-- {
		step := Step{Config: configs[i]}
		if i < len(rules) {
			step.Rule = rules[i]
			step.HasRule = true
		}
		w.Steps = append(w.Steps, step)
	}
	return w, nil
}

func prepend(l pds.Label, stack []pds.Label) []pds.Label {
	out := make([]pds.Label, 0, len(stack)+1)
	out = append(out, l)
	return append(out, stack...)
}

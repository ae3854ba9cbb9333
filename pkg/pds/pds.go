package pds

import (
	"errors"
	"fmt"
)

// Label is a stack symbol, dense in [0, NumLabels).
type Label uint32

// RuleID identifies a rule by its position in the model's rule list.
type RuleID int

// Op is the stack operation applied by a rule.
type Op int

const (
	// Pop removes the top label.
	Pop Op = iota
	// Swap replaces the top label with the rule's OpLabel.
	Swap
	// Push places the rule's OpLabel above the (kept) top label.
	Push
)

// String returns the lowercase operation name.
func (o Op) String() string {
	switch o {
	case Pop:
		return "pop"
	case Swap:
		return "swap"
	case Push:
		return "push"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ParseOp converts an operation name into an Op.
func ParseOp(s string) (Op, error) {
	switch s {
	case "pop":
		return Pop, nil
	case "swap":
		return Swap, nil
	case "push":
		return Push, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOp, s)
	}
}

var (
	// ErrUnknownState is returned when a state name or id is not part of the model.
	ErrUnknownState = errors.New("unknown control state")
	// ErrUnknownLabel is returned when a label name or id is not part of the alphabet.
	ErrUnknownLabel = errors.New("unknown stack label")
	// ErrUnknownOp is returned for unrecognized operation names.
	ErrUnknownOp = errors.New("unknown stack operation")
	// ErrDuplicate is returned when a state or label name is declared twice.
	ErrDuplicate = errors.New("duplicate declaration")
)

// Rule is a transition (From, Label) -> (To, Op).
// OpLabel is ignored for Pop.
type Rule struct {
	ID      RuleID
	From    int
	Label   Label
	To      int
	Op      Op
	OpLabel Label
}

// Apply returns the stack obtained by firing the rule on stack.
// The caller must ensure stack[0] == r.Label.
func (r Rule) Apply(stack []Label) []Label {
	rest := stack[1:]
	switch r.Op {
	case Pop:
		out := make([]Label, len(rest))
		copy(out, rest)
		return out
	case Swap:
		out := make([]Label, 0, len(stack))
		out = append(out, r.OpLabel)
		return append(out, rest...)
	default:
		out := make([]Label, 0, len(stack)+1)
		out = append(out, r.OpLabel, r.Label)
		return append(out, rest...)
	}
}

// PDA is an immutable pushdown system. It is safe for concurrent readers.
type PDA struct {
	name   string
	states []string
	labels []string
	rules  []Rule

	// outgoing rule ids per control state
	byState [][]RuleID

	stateIndex map[string]int
	labelIndex map[string]Label
}

// Name returns the model name, possibly empty.
func (p *PDA) Name() string { return p.name }

// NumStates returns the number of control states.
func (p *PDA) NumStates() int { return len(p.states) }

// NumLabels returns the size of the stack alphabet.
func (p *PDA) NumLabels() int { return len(p.labels) }

// NumRules returns the number of rules.
func (p *PDA) NumRules() int { return len(p.rules) }

// Rule returns the rule with the given id.
func (p *PDA) Rule(id RuleID) Rule { return p.rules[id] }

// Rules returns all rules ordered by id. The slice must not be modified.
func (p *PDA) Rules() []Rule { return p.rules }

// RulesFrom returns the ids of the rules leaving control state s.
func (p *PDA) RulesFrom(s int) []RuleID { return p.byState[s] }

// StateName returns the name of control state s.
func (p *PDA) StateName(s int) string {
	if s < 0 || s >= len(p.states) {
		return fmt.Sprintf("#%d", s)
	}
	return p.states[s]
}

// LabelName returns the name of label l.
func (p *PDA) LabelName(l Label) string {
	if int(l) >= len(p.labels) {
		return fmt.Sprintf("#%d", l)
	}
	return p.labels[l]
}

// StateNames returns the ordered control state names.
func (p *PDA) StateNames() []string { return append([]string(nil), p.states...) }

// LabelNames returns the ordered label names.
func (p *PDA) LabelNames() []string { return append([]string(nil), p.labels...) }

// StateID resolves a control state name.
func (p *PDA) StateID(name string) (int, error) {
	id, ok := p.stateIndex[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownState, name)
	}
	return id, nil
}

// LabelID resolves a label name.
func (p *PDA) LabelID(name string) (Label, error) {
	id, ok := p.labelIndex[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownLabel, name)
	}
	return id, nil
}

// Stack resolves a sequence of label names, top first.
func (p *PDA) Stack(names []string) ([]Label, error) {
	out := make([]Label, 0, len(names))
	for _, n := range names {
		l, err := p.LabelID(n)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// StackNames renders a stack with label names, top first.
func (p *PDA) StackNames(stack []Label) []string {
	out := make([]string, len(stack))
	for i, l := range stack {
		out[i] = p.LabelName(l)
	}
	return out
}

// FormatRule renders a rule as "(p, a) -> (q, push b)".
func (p *PDA) FormatRule(r Rule) string {
	lhs := fmt.Sprintf("(%s, %s)", p.StateName(r.From), p.LabelName(r.Label))
	if r.Op == Pop {
		return fmt.Sprintf("%s -> (%s, pop)", lhs, p.StateName(r.To))
	}
	return fmt.Sprintf("%s -> (%s, %s %s)", lhs, p.StateName(r.To), r.Op, p.LabelName(r.OpLabel))
}

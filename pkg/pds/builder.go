package pds

import (
	"fmt"
)

// Builder assembles a PDA. Declarations are checked eagerly; the first
// failure is kept and returned by Build.
type Builder struct {
	pda *PDA
	err error
}

// NewBuilder creates a builder for a model with the given name.
func NewBuilder(name string) *Builder {
	return &Builder{
		pda: &PDA{
			name:       name,
			stateIndex: make(map[string]int),
			labelIndex: make(map[string]Label),
		},
	}
}

// State declares a control state and returns its id.
func (b *Builder) State(name string) int {
	if id, ok := b.pda.stateIndex[name]; ok {
		b.fail(fmt.Errorf("%w: state %q", ErrDuplicate, name))
		return id
	}
	id := len(b.pda.states)
	b.pda.states = append(b.pda.states, name)
	b.pda.byState = append(b.pda.byState, nil)
	b.pda.stateIndex[name] = id
	return id
}

// States declares several control states in order.
func (b *Builder) States(names ...string) *Builder {
	for _, n := range names {
		b.State(n)
	}
	return b
}

// Label declares a stack label and returns its id.
func (b *Builder) Label(name string) Label {
	if id, ok := b.pda.labelIndex[name]; ok {
		b.fail(fmt.Errorf("%w: label %q", ErrDuplicate, name))
		return id
	}
	id := Label(len(b.pda.labels))
	b.pda.labels = append(b.pda.labels, name)
	b.pda.labelIndex[name] = id
	return id
}

// Labels declares several labels in order.
func (b *Builder) Labels(names ...string) *Builder {
	for _, n := range names {
		b.Label(n)
	}
	return b
}

// AddRule appends a rule by ids and returns its id.
func (b *Builder) AddRule(from int, label Label, to int, op Op, opLabel Label) RuleID {
	n := len(b.pda.states)
	switch {
	case from < 0 || from >= n:
		b.fail(fmt.Errorf("%w: %d", ErrUnknownState, from))
		return -1
	case to < 0 || to >= n:
		b.fail(fmt.Errorf("%w: %d", ErrUnknownState, to))
		return -1
	case int(label) >= len(b.pda.labels):
		b.fail(fmt.Errorf("%w: %d", ErrUnknownLabel, label))
		return -1
	case op != Pop && int(opLabel) >= len(b.pda.labels):
		b.fail(fmt.Errorf("%w: %d", ErrUnknownLabel, opLabel))
		return -1
	case op < Pop || op > Push:
		b.fail(fmt.Errorf("%w: %d", ErrUnknownOp, int(op)))
		return -1
	}
	if op == Pop {
		opLabel = 0
	}

	id := RuleID(len(b.pda.rules))
	b.pda.rules = append(b.pda.rules, Rule{
		ID:      id,
		From:    from,
		Label:   label,
		To:      to,
		Op:      op,
		OpLabel: opLabel,
	})
	b.pda.byState[from] = append(b.pda.byState[from], id)
	return id
}

// Rule appends a rule by names. opLabel is ignored for Pop.
func (b *Builder) Rule(from, label, to string, op Op, opLabel string) *Builder {
	f, err := b.pda.StateID(from)
	if err != nil {
		b.fail(err)
		return b
	}
	t, err := b.pda.StateID(to)
	if err != nil {
		b.fail(err)
		return b
	}
	l, err := b.pda.LabelID(label)
	if err != nil {
		b.fail(err)
		return b
	}
	var ol Label
	if op != Pop {
		if ol, err = b.pda.LabelID(opLabel); err != nil {
			b.fail(err)
			return b
		}
	}
	b.AddRule(f, l, t, op, ol)
	return b
}

// Err returns the first declaration error, if any.
func (b *Builder) Err() error { return b.err }

// Build returns the finished model. The builder must not be used afterwards.
func (b *Builder) Build() (*PDA, error) {
	if b.err != nil {
		return nil, fmt.Errorf("failed to build pushdown model %q: %w", b.pda.name, b.err)
	}
	p := b.pda
	b.pda = nil
	return p, nil
}

// MustBuild is Build that panics on error. Intended for tests and fixtures.
func (b *Builder) MustBuild() *PDA {
	p, err := b.Build()
	if err != nil {
		panic(err)
	}
	return p
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

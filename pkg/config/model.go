package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/pds"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross references: rules and queries
// may only name declared states and labels, and query names are unique.
// Every problem is reported, not just the first.
func (m *ModelSpec) Validate() error {
	var errs ValidationErrors

	if err := validate.Struct(m); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate model: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Path:     fieldPath(fe.Namespace()),
				Message:  describeField(fe),
				Severity: "error",
			})
		}
	}

	states := toSet(m.States)
	labels := toSet(m.Labels)
	checkState := func(path, name string) {
		if name != "" && !states[name] {
			errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("unknown state %q", name), Severity: "error"})
		}
	}
	checkLabel := func(path, name string, wildcard bool) {
		if name == "" || labels[name] || (wildcard && name == WildcardLabel) {
			return
		}
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf("unknown label %q", name), Severity: "error"})
	}

	for i, r := range m.Rules {
		at := fmt.Sprintf("rules[%d]", i)
		checkState(at+".from", r.From)
		checkState(at+".to", r.To)
		checkLabel(at+".label", r.Label, true)
		if r.Op != "pop" {
			checkLabel(at+".op_label", r.OpLabel, false)
		}
	}

	names := make(map[string]bool, len(m.Queries))
	for i, q := range m.Queries {
		at := fmt.Sprintf("queries[%d]", i)
		if names[q.Name] {
			errs = append(errs, ValidationError{Path: at + ".name", Message: fmt.Sprintf("duplicate query %q", q.Name), Severity: "error"})
		}
		names[q.Name] = true
		checkState(at+".from", q.From)
		checkState(at+".to", q.To)
		for j, l := range q.FromStack {
			checkLabel(fmt.Sprintf("%s.from_stack[%d]", at, j), l, false)
		}
		for j, l := range q.ToStack {
			checkLabel(fmt.Sprintf("%s.to_stack[%d]", at, j), l, false)
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// ExpandedRules returns the rules with wildcard labels replaced by one rule
// per declared label.
func (m *ModelSpec) ExpandedRules() []RuleSpec {
	out := make([]RuleSpec, 0, len(m.Rules))
	for _, r := range m.Rules {
		if r.Label != WildcardLabel {
			out = append(out, r)
			continue
		}
		for _, l := range m.Labels {
			cp := r
			cp.Label = l
			out = append(out, cp)
		}
	}
	return out
}

// Build validates the model and compiles it into a pushdown system and its
// queries. Invalid specs yield an engine validation error wrapping
// ValidationErrors.
func (m *ModelSpec) Build() (*pds.PDA, []engine.Query, error) {
	if err := m.Validate(); err != nil {
		return nil, nil, engine.NewValidationError(fmt.Sprintf("invalid model %q", m.Name), err)
	}

	b := pds.NewBuilder(m.Name).States(m.States...).Labels(m.Labels...)
	for _, r := range m.ExpandedRules() {
		op, err := pds.ParseOp(r.Op)
		if err != nil {
			return nil, nil, engine.NewModelError(r.String(), err)
		}
		b.Rule(r.From, r.Label, r.To, op, r.OpLabel)
	}
	pda, err := b.Build()
	if err != nil {
		return nil, nil, engine.NewModelError("failed to build model", err)
	}

	queries := make([]engine.Query, 0, len(m.Queries))
	for _, qs := range m.Queries {
		q, err := qs.Compile(pda)
		if err != nil {
			return nil, nil, err
		}
		queries = append(queries, q)
	}
	return pda, queries, nil
}

// Compile resolves the query's names against pda.
func (qs QuerySpec) Compile(pda *pds.PDA) (engine.Query, error) {
	fail := func(err error) (engine.Query, error) {
		return engine.Query{}, engine.NewValidationError("invalid query", err).WithQuery(qs.Name)
	}

	dir := engine.Forward
	if qs.Direction != "" {
		d, err := engine.ParseDirection(qs.Direction)
		if err != nil {
			return fail(err)
		}
		dir = d
	}
	expect, err := engine.ParseVerdict(qs.Expect)
	if err != nil {
		return fail(err)
	}

	src, err := resolveConfig(pda, qs.From, qs.FromStack)
	if err != nil {
		return fail(err)
	}
	dst, err := resolveConfig(pda, qs.To, qs.ToStack)
	if err != nil {
		return fail(err)
	}

	return engine.Query{
		Name:      qs.Name,
		Direction: dir,
		Source:    src,
		Target:    dst,
		Expect:    expect,
		Witness:   qs.Witness,
	}, nil
}

// ParseConfig resolves a state name and stack names, top first, into a
// configuration of pda.
func ParseConfig(pda *pds.PDA, state string, stack []string) (engine.Config, error) {
	return resolveConfig(pda, state, stack)
}

func resolveConfig(pda *pds.PDA, state string, stack []string) (engine.Config, error) {
	s, err := pda.StateID(state)
	if err != nil {
		return engine.Config{}, err
	}
	labels, err := pda.Stack(stack)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{State: s, Stack: labels}, nil
}

func toSet(xs []string) map[string]bool {
	set := make(map[string]bool, len(xs))
	for _, x := range xs {
		set[x] = true
	}
	return set
}

// fieldPath turns a validator namespace such as "ModelSpec.Rules[2].Op" into
// "rules[2].op".
func fieldPath(ns string) string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = toSnake(p)
	}
	return strings.Join(parts, ".")
}

func toSnake(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && s[i-1] != '[' {
				sb.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func describeField(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_unless":
		return "is required unless op is pop"
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "unique":
		return "has duplicate entries"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "ne":
		return fmt.Sprintf("must not be %q", fe.Param())
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

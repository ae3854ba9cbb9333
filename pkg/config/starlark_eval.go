package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// DefaultStarlarkTimeout bounds a model script when no timeout is given.
const DefaultStarlarkTimeout = 30 * time.Second

// StarlarkEvaluator runs model generator scripts. A script declares its
// model through builtins:
//
//	model("calls")
//	state("p", "q")
//	label("a", "b")
//	rule("p", "a", "q", "push", "b")
//	query("fwd", "p", "q", from_stack=["a"], to_stack=["b", "a"], expect="reachable")
//
// Loops and functions make it practical to generate large families of rules.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = DefaultStarlarkTimeout
	}
	return &StarlarkEvaluator{timeout: timeout}
}

// Evaluate runs script and returns the model it declared. vars are
// predeclared as globals, so one script can describe a parameterized family.
func (se *StarlarkEvaluator) Evaluate(ctx context.Context, filename, script string, vars map[string]interface{}) (*ModelSpec, error) {
	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name:  "pdreach",
		Print: func(_ *starlark.Thread, _ string) {},
	}

	type outcome struct {
		spec *ModelSpec
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		spec, err := se.evaluateSync(thread, filename, script, vars)
		done <- outcome{spec, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("timeout")
		<-done
		return nil, fmt.Errorf("starlark execution timeout after %v", se.timeout)
	case out := <-done:
		return out.spec, out.err
	}
}

// evaluateSync performs the Starlark evaluation on the calling goroutine.
func (se *StarlarkEvaluator) evaluateSync(thread *starlark.Thread, filename, script string, vars map[string]interface{}) (*ModelSpec, error) {
	b := &modelBuilder{spec: &ModelSpec{Name: modelNameFromPath(filename)}}

	predeclared := starlark.StringDict{
		"struct": starlarkstruct.Default,
		"model":  starlark.NewBuiltin("model", b.model),
		"state":  starlark.NewBuiltin("state", b.state),
		"label":  starlark.NewBuiltin("label", b.label),
		"rule":   starlark.NewBuiltin("rule", b.rule),
		"query":  starlark.NewBuiltin("query", b.query),
	}

	for key, val := range vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert input %s: %w", key, err)
		}
		predeclared[key] = sv
	}

	if _, err := starlark.ExecFile(thread, filename, script, predeclared); err != nil {
		return nil, fmt.Errorf("starlark execution failed: %w", err)
	}
	return b.spec, nil
}

// modelBuilder accumulates the builtin calls of one script run.
type modelBuilder struct {
	spec *ModelSpec
}

func (b *modelBuilder) model(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackPositionalArgs(fn.Name(), args, kwargs, 1, &name); err != nil {
		return nil, err
	}
	b.spec.Name = name
	return starlark.None, nil
}

func (b *modelBuilder) state(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	names, err := stringArgs(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	b.spec.States = append(b.spec.States, names...)
	return starlark.None, nil
}

func (b *modelBuilder) label(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	names, err := stringArgs(fn.Name(), args, kwargs)
	if err != nil {
		return nil, err
	}
	b.spec.Labels = append(b.spec.Labels, names...)
	return starlark.None, nil
}

func (b *modelBuilder) rule(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var r RuleSpec
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"from", &r.From, "label", &r.Label, "to", &r.To, "op", &r.Op, "op_label?", &r.OpLabel,
	); err != nil {
		return nil, err
	}
	b.spec.Rules = append(b.spec.Rules, r)
	return starlark.None, nil
}

func (b *modelBuilder) query(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		q                  QuerySpec
		fromStack, toStack *starlark.List
	)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs,
		"name", &q.Name, "from", &q.From, "to", &q.To,
		"from_stack?", &fromStack, "to_stack?", &toStack,
		"direction?", &q.Direction, "expect?", &q.Expect, "witness?", &q.Witness,
	); err != nil {
		return nil, err
	}

	var err error
	if q.FromStack, err = listStrings(fn.Name(), "from_stack", fromStack); err != nil {
		return nil, err
	}
	if q.ToStack, err = listStrings(fn.Name(), "to_stack", toStack); err != nil {
		return nil, err
	}
	b.spec.Queries = append(b.spec.Queries, q)
	return starlark.None, nil
}

// stringArgs accepts positional strings or a single list of strings.
func stringArgs(fn string, args starlark.Tuple, kwargs []starlark.Tuple) ([]string, error) {
	if len(kwargs) > 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", fn)
	}
	if len(args) == 1 {
		if list, ok := args[0].(*starlark.List); ok {
			return listStrings(fn, "names", list)
		}
	}
	out := make([]string, 0, len(args))
	for i, a := range args {
		s, ok := starlark.AsString(a)
		if !ok {
			return nil, fmt.Errorf("%s: argument %d is %s, want string", fn, i+1, a.Type())
		}
		out = append(out, s)
	}
	return out, nil
}

func listStrings(fn, param string, list *starlark.List) ([]string, error) {
	if list == nil {
		return nil, nil
	}
	out := make([]string, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		s, ok := starlark.AsString(list.Index(i))
		if !ok {
			return nil, fmt.Errorf("%s: %s[%d] is %s, want string", fn, param, i, list.Index(i).Type())
		}
		out = append(out, s)
	}
	return out, nil
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v interface{}) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}

	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []string:
		list := make([]starlark.Value, len(val))
		for i, s := range val {
			list[i] = starlark.String(s)
		}
		return starlark.NewList(list), nil
	case []interface{}:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = sv
		}
		return starlark.NewList(list), nil
	case map[string]interface{}:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			sv, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), sv); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

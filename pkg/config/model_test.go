package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/pds"
)

func callsSpec() *ModelSpec {
	return &ModelSpec{
		Name:   "calls",
		States: []string{"p", "q", "err_r"},
		Labels: []string{"a", "b"},
		Rules: []RuleSpec{
			{From: "p", Label: "a", To: "q", Op: "push", OpLabel: "b"},
			{From: "q", Label: "b", To: "p", Op: "pop"},
			{From: "err_r", Label: "*", To: "p", Op: "swap", OpLabel: "a"},
		},
		Queries: []QuerySpec{
			{Name: "fwd", Direction: "forward", From: "p", FromStack: []string{"a"}, To: "q", ToStack: []string{"b", "a"}, Expect: "reachable", Witness: true},
			{Name: "err", Direction: "backward", From: "p", FromStack: []string{"a"}, To: "err_r", ToStack: []string{"a"}, Expect: "unreachable"},
		},
	}
}

func TestModelSpec_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ModelSpec)
		paths  []string
	}{
		{
			name:   "valid",
			mutate: func(*ModelSpec) {},
		},
		{
			name:   "missing name",
			mutate: func(m *ModelSpec) { m.Name = "" },
			paths:  []string{"name"},
		},
		{
			name:   "no states",
			mutate: func(m *ModelSpec) { m.States = nil; m.Rules = nil; m.Queries = nil },
			paths:  []string{"states"},
		},
		{
			name:   "duplicate label",
			mutate: func(m *ModelSpec) { m.Labels = []string{"a", "b", "a"} },
			paths:  []string{"labels"},
		},
		{
			name:   "wildcard declared as label",
			mutate: func(m *ModelSpec) { m.Labels = append(m.Labels, "*") },
			paths:  []string{"labels[2]"},
		},
		{
			name:   "bad op",
			mutate: func(m *ModelSpec) { m.Rules[0].Op = "jump" },
			paths:  []string{"rules[0].op"},
		},
		{
			name:   "push without label",
			mutate: func(m *ModelSpec) { m.Rules[0].OpLabel = "" },
			paths:  []string{"rules[0].op_label"},
		},
		{
			name:   "unknown state in rule",
			mutate: func(m *ModelSpec) { m.Rules[1].To = "nowhere" },
			paths:  []string{"rules[1].to"},
		},
		{
			name:   "unknown label in query stack",
			mutate: func(m *ModelSpec) { m.Queries[0].ToStack = []string{"c"} },
			paths:  []string{"queries[0].to_stack[0]"},
		},
		{
			name:   "duplicate query",
			mutate: func(m *ModelSpec) { m.Queries[1].Name = "fwd" },
			paths:  []string{"queries[1].name"},
		},
		{
			name:   "bad direction",
			mutate: func(m *ModelSpec) { m.Queries[0].Direction = "sideways" },
			paths:  []string{"queries[0].direction"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := callsSpec()
			tt.mutate(spec)

			err := spec.Validate()
			if len(tt.paths) == 0 {
				if err != nil {
					t.Fatalf("Expected valid model, got %v", err)
				}
				return
			}

			var ve ValidationErrors
			if !errors.As(err, &ve) {
				t.Fatalf("Expected ValidationErrors, got %v", err)
			}
			var got []string
			for _, e := range ve {
				got = append(got, e.Path)
			}
			if diff := cmp.Diff(tt.paths, got); diff != "" {
				t.Errorf("Error paths mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestModelSpec_ExpandedRules(t *testing.T) {
	rules := callsSpec().ExpandedRules()
	if len(rules) != 4 {
		t.Fatalf("Expected 4 rules after wildcard expansion, got %d", len(rules))
	}
	var got []string
	for _, r := range rules {
		got = append(got, r.String())
	}
	want := []string{
		"rule p a -> q push b",
		"rule q b -> p pop",
		"rule err_r a -> p swap a",
		"rule err_r b -> p swap a",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Expanded rules mismatch (-want +got):\n%s", diff)
	}
}

func TestModelSpec_Build(t *testing.T) {
	pda, queries, err := callsSpec().Build()
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}

	if pda.Name() != "calls" || pda.NumStates() != 3 || pda.NumLabels() != 2 || pda.NumRules() != 4 {
		t.Errorf("Unexpected PDA shape: %s states=%d labels=%d rules=%d",
			pda.Name(), pda.NumStates(), pda.NumLabels(), pda.NumRules())
	}

	want := []engine.Query{
		{
			Name:      "fwd",
			Direction: engine.Forward,
			Source:    engine.Config{State: 0, Stack: []pds.Label{0}},
			Target:    engine.Config{State: 1, Stack: []pds.Label{1, 0}},
			Expect:    engine.VerdictReachable,
			Witness:   true,
		},
		{
			Name:      "err",
			Direction: engine.Backward,
			Source:    engine.Config{State: 0, Stack: []pds.Label{0}},
			Target:    engine.Config{State: 2, Stack: []pds.Label{0}},
			Expect:    engine.VerdictUnreachable,
		},
	}
	if diff := cmp.Diff(want, queries); diff != "" {
		t.Errorf("Queries mismatch (-want +got):\n%s", diff)
	}
}

func TestModelSpec_BuildInvalid(t *testing.T) {
	spec := callsSpec()
	spec.Rules[0].From = "nowhere"

	_, _, err := spec.Build()
	if !engine.IsValidation(err) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), `unknown state "nowhere"`) {
		t.Errorf("Expected unknown state in %q", err.Error())
	}
}

func TestParseConfig(t *testing.T) {
	pda, _, err := callsSpec().Build()
	if err != nil {
		t.Fatalf("Failed to build model: %v", err)
	}

	cfg, err := ParseConfig(pda, "q", []string{"b", "a"})
	if err != nil {
		t.Fatalf("Failed to parse config: %v", err)
	}
	if cfg.Format(pda) != "<q, [b a]>" {
		t.Errorf("Unexpected config %s", cfg.Format(pda))
	}

	if _, err := ParseConfig(pda, "q", []string{"z"}); !errors.Is(err, pds.ErrUnknownLabel) {
		t.Errorf("Expected unknown label error, got %v", err)
	}
}

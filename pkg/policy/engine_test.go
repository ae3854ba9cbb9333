package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pdreach/pkg/engine"
)

func testReport() *engine.Report {
	results := []*engine.Result{
		{
			Query: "ret", Direction: engine.Forward, Source: "<p, [a]>", Target: "<q, [b a]>", TargetState: "q",
			Expect: engine.VerdictReachable, Verdict: engine.VerdictReachable, Reachable: true,
			Witness: []engine.WitnessStep{
				{State: "p", Stack: []string{"a"}},
				{State: "q", Stack: []string{"b", "a"}},
				{State: "q", Stack: []string{"b", "a"}},
			},
		},
		{
			Query: "esc", Direction: engine.Backward, Source: "<p, [a]>", Target: "<err_r, [a]>", TargetState: "err_r",
			Expect: engine.VerdictUnreachable, Verdict: engine.VerdictReachable, Reachable: true,
		},
		{
			Query: "safe", Direction: engine.Forward, Source: "<p, [a]>", Target: "<err_x, []>", TargetState: "err_x",
			Verdict: engine.VerdictUnreachable,
		},
		{
			Query: "slow", Direction: engine.Forward,
			Error: engine.NewTimeoutError("query exceeded 1s", nil).WithQuery("slow"),
		},
	}
	return &engine.Report{
		RunID:   "run-1",
		Model:   "calls",
		Results: results,
		Summary: engine.Summarize(results),
	}
}

type finding struct {
	Policy   string
	Query    string
	Severity Severity
}

func findings(res *Result) []finding {
	var out []finding
	for _, v := range res.Violations {
		out = append(out, finding{v.Policy, v.Query, v.Severity})
	}
	return out
}

func TestNewEngine(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	var names []string
	for _, p := range eng.ListPolicies() {
		if !p.Builtin || !p.Enabled {
			t.Errorf("Expected enabled built-in policy, got %+v", p)
		}
		names = append(names, p.Name)
	}
	want := []string{"error_state_reachable", "expectation_mismatch", "query_failed", "witness_length"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("Built-in policies mismatch (-want +got):\n%s", diff)
	}

	empty, err := NewEngine(WithoutBuiltins())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if n := len(empty.ListPolicies()); n != 0 {
		t.Errorf("Expected no policies, got %d", n)
	}
}

func TestEvaluate_Builtins(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		report  func() *engine.Report
		want    []finding
		allowed bool
	}{
		{
			name:   "full report",
			report: testReport,
			want: []finding{
				{"error_state_reachable", "esc", SeverityWarning},
				{"expectation_mismatch", "esc", SeverityError},
				{"query_failed", "slow", SeverityError},
			},
		},
		{
			name:   "witness limit",
			limits: Limits{MaxWitness: 2},
			report: testReport,
			want: []finding{
				{"error_state_reachable", "esc", SeverityWarning},
				{"expectation_mismatch", "esc", SeverityError},
				{"query_failed", "slow", SeverityError},
				{"witness_length", "ret", SeverityWarning},
			},
		},
		{
			name:   "witness within limit",
			limits: Limits{MaxWitness: 3},
			report: func() *engine.Report {
				r := testReport()
				r.Results = r.Results[:1]
				return r
			},
			allowed: true,
		},
		{
			name: "warnings only",
			report: func() *engine.Report {
				r := testReport()
				r.Results[1].Expect = ""
				r.Results = r.Results[:3]
				return r
			},
			want:    []finding{{"error_state_reachable", "esc", SeverityWarning}},
			allowed: true,
		},
		{
			name:    "empty report",
			report:  func() *engine.Report { return &engine.Report{RunID: "run-2", Model: "calls"} },
			allowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng, err := NewEngine(WithLimits(tt.limits))
			if err != nil {
				t.Fatalf("Failed to create engine: %v", err)
			}

			res, err := eng.Evaluate(context.Background(), tt.report())
			if err != nil {
				t.Fatalf("Failed to evaluate: %v", err)
			}
			if diff := cmp.Diff(tt.want, findings(res)); diff != "" {
				t.Errorf("Violations mismatch (-want +got):\n%s", diff)
			}
			if res.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", res.Allowed, tt.allowed)
			}
			if len(res.Warnings) != 0 {
				t.Errorf("Unexpected evaluation warnings: %v", res.Warnings)
			}
			if len(res.EvaluatedPolicies) != 4 {
				t.Errorf("Expected 4 evaluated policies, got %v", res.EvaluatedPolicies)
			}
		})
	}
}

func TestEvaluate_Messages(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	res, err := eng.Evaluate(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}

	want := map[string]string{
		"error_state_reachable": "error state err_r is reachable: <err_r, [a]> from <p, [a]>",
		"expectation_mismatch":  "query esc expected unreachable but target <err_r, [a]> is reachable",
		"query_failed":          "query slow failed: query exceeded 1s",
	}
	for _, v := range res.Violations {
		if v.Message != want[v.Policy] {
			t.Errorf("%s message = %q, want %q", v.Policy, v.Message, want[v.Policy])
		}
	}
}

func TestLoadPolicy_Custom(t *testing.T) {
	eng, err := NewEngine(WithoutBuiltins())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	custom := Policy{
		Name:     "no_deep_stacks",
		Severity: SeverityInfo,
		Enabled:  true,
		Rego: `package pdreach.custom.stacks

import rego.v1

deny contains violation if {
	some r in input.results
	some step in r.witness
	count(step.stack) > 1
	violation := {"query": r.query, "message": "deep stack", "severity": "critical", "depth": count(step.stack)}
}

deny contains msg if {
	input.summary.failed > 0
	msg := sprintf("%d queries failed", [input.summary.failed])
}
`,
	}
	if err := eng.LoadPolicy(context.Background(), custom); err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	res, err := eng.Evaluate(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}

	want := []finding{
		{"no_deep_stacks", "", SeverityInfo},
		{"no_deep_stacks", "ret", SeverityCritical},
	}
	if diff := cmp.Diff(want, findings(res)); diff != "" {
		t.Errorf("Violations mismatch (-want +got):\n%s", diff)
	}
	if res.Violations[0].Message != "1 queries failed" {
		t.Errorf("Unexpected string violation %q", res.Violations[0].Message)
	}
	if depth, ok := res.Violations[1].Details["depth"]; !ok || depth == nil {
		t.Errorf("Expected depth detail, got %v", res.Violations[1].Details)
	}
	if res.Allowed {
		t.Error("Expected critical violation to block")
	}
}

func TestLoadPolicy_Invalid(t *testing.T) {
	eng, err := NewEngine(WithoutBuiltins())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	tests := []struct {
		name   string
		policy Policy
		check  func(error) bool
	}{
		{"no name", Policy{Rego: "package x"}, engine.IsValidation},
		{"bad severity", Policy{Name: "x", Severity: "fatal", Rego: "package x"}, engine.IsValidation},
		{"syntax", Policy{Name: "x", Rego: "package x\n\ndeny contains if {"}, engine.IsPolicy},
		{"v0 syntax", Policy{Name: "x", Rego: "package x\n\ndeny[msg] { msg := \"old\" }"}, engine.IsPolicy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eng.LoadPolicy(context.Background(), tt.policy)
			if !tt.check(err) {
				t.Errorf("Unexpected error class %s: %v", engine.ClassOf(err), err)
			}
		})
	}
	if n := len(eng.ListPolicies()); n != 0 {
		t.Errorf("Expected no policies after failed loads, got %d", n)
	}
}

func TestEvaluate_NonSetDeny(t *testing.T) {
	eng, err := NewEngine(WithoutBuiltins())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	err = eng.LoadPolicy(context.Background(), Policy{
		Name:    "scalar",
		Enabled: true,
		Rego:    "package pdreach.custom.scalar\n\nimport rego.v1\n\ndeny := 1\n",
	})
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	res, err := eng.Evaluate(context.Background(), testReport())
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "scalar") {
		t.Errorf("Expected one warning for scalar, got %v", res.Warnings)
	}
	if !res.Allowed {
		t.Error("A failed policy should not block")
	}
}

func TestPolicyManagement(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctx := context.Background()

	if err := eng.DisablePolicy("expectation_mismatch"); err != nil {
		t.Fatalf("Failed to disable policy: %v", err)
	}
	p, err := eng.GetPolicy("expectation_mismatch")
	if err != nil || p.Enabled {
		t.Fatalf("Expected disabled policy, got %+v, %v", p, err)
	}
	res, err := eng.Evaluate(ctx, testReport())
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}
	for _, v := range res.Violations {
		if v.Policy == "expectation_mismatch" {
			t.Error("Disabled policy was evaluated")
		}
	}

	if err := eng.EnablePolicy("expectation_mismatch"); err != nil {
		t.Fatalf("Failed to enable policy: %v", err)
	}
	if err := eng.RemovePolicy("witness_length"); err != nil {
		t.Fatalf("Failed to remove policy: %v", err)
	}
	if len(eng.ListPolicies()) != 3 {
		t.Errorf("Expected 3 policies after removal, got %d", len(eng.ListPolicies()))
	}

	for name, fn := range map[string]func() error{
		"remove":  func() error { return eng.RemovePolicy("missing") },
		"enable":  func() error { return eng.EnablePolicy("missing") },
		"disable": func() error { return eng.DisablePolicy("missing") },
		"get":     func() error { _, err := eng.GetPolicy("missing"); return err },
	} {
		if err := fn(); !engine.IsPolicy(err) {
			t.Errorf("%s: expected policy error, got %v", name, err)
		}
	}
}

func TestReplacePolicies(t *testing.T) {
	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	ctx := context.Background()

	first := Policy{Name: "first", Enabled: true, Rego: "package first\n\nimport rego.v1\n\ndeny contains \"one\" if { true }\n"}
	if err := eng.ReplacePolicies(ctx, []Policy{first}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if _, err := eng.GetPolicy("first"); err != nil {
		t.Fatalf("Expected first to be loaded: %v", err)
	}

	broken := Policy{Name: "broken", Rego: "package broken\n\ndeny contains"}
	if err := eng.ReplacePolicies(ctx, []Policy{broken}); !engine.IsPolicy(err) {
		t.Fatalf("Expected policy error, got %v", err)
	}
	if _, err := eng.GetPolicy("first"); err != nil {
		t.Error("A failed replace must keep the previous policies")
	}

	second := Policy{Name: "second", Enabled: true, Rego: "package second\n\nimport rego.v1\n\ndeny contains \"two\" if { false }\n"}
	if err := eng.ReplacePolicies(ctx, []Policy{second}); err != nil {
		t.Fatalf("Failed to replace policies: %v", err)
	}
	if _, err := eng.GetPolicy("first"); err == nil {
		t.Error("Expected first to be replaced")
	}
	if len(eng.ListPolicies()) != 5 {
		t.Errorf("Expected 4 built-ins plus second, got %d policies", len(eng.ListPolicies()))
	}
}

func TestResult_BySeverity(t *testing.T) {
	res := &Result{Violations: []Violation{
		{Severity: SeverityError}, {Severity: SeverityWarning}, {Severity: SeverityError},
	}}
	want := map[Severity]int{SeverityError: 2, SeverityWarning: 1}
	if diff := cmp.Diff(want, res.BySeverity()); diff != "" {
		t.Errorf("Counts mismatch (-want +got):\n%s", diff)
	}
}

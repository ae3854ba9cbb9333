package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

const noPanicRego = `# Calls from main must never reach the panic handler.
# Checked on every run.
# severity: error
package pdreach.custom.no_panic

import rego.v1

deny contains violation if {
	some r in input.results
	r.reachable
	r.target_state == "panic"
	violation := {"query": r.query, "message": "panic handler is reachable"}
}
`

func writePolicy(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(nil)
	path := writePolicy(t, t.TempDir(), "no_panic.rego", noPanicRego)

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	want := &Policy{
		Name:        "no_panic",
		Description: "Calls from main must never reach the panic handler. Checked on every run.",
		Rego:        noPanicRego,
		Severity:    SeverityError,
		Enabled:     true,
		Source:      path,
	}
	if diff := cmp.Diff(want, policy); diff != "" {
		t.Errorf("Policy mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadFromFile_JSON(t *testing.T) {
	loader := NewLoader(nil)
	path := writePolicy(t, t.TempDir(), "limits.json", `{
  "description": "Keep witnesses short",
  "rego": "package limits\n\nimport rego.v1\n\ndeny contains \"long\" if { false }\n",
  "tags": ["limits"]
}`)

	policy, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}
	if policy.Name != "limits" || policy.Severity != SeverityWarning || !policy.Enabled {
		t.Errorf("Expected defaults to be applied, got %+v", policy)
	}
	if diff := cmp.Diff([]string{"limits"}, policy.Tags); diff != "" {
		t.Errorf("Tags mismatch (-want +got):\n%s", diff)
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		desc     string
		severity Severity
	}{
		{"no comments", "package x\n", "", ""},
		{"description only", "# One.\n#\n# Two.\npackage x\n# not this\n", "One. Two.", ""},
		{"severity", "# severity: Critical\npackage x\n", "", SeverityCritical},
		{"leading blank lines", "\n\n# Hello\npackage x\n", "Hello", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, severity := parseHeader(tt.content)
			if desc != tt.desc || severity != tt.severity {
				t.Errorf("parseHeader() = %q, %q; want %q, %q", desc, severity, tt.desc, tt.severity)
			}
		})
	}
}

func TestLoadFromPaths(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "no_panic.rego", noPanicRego)
	writePolicy(t, dir, "nested/other.rego", "package other\n")
	writePolicy(t, dir, "broken.json", "{not json")
	writePolicy(t, dir, "README.md", "# policies\n")
	single := writePolicy(t, t.TempDir(), "single.rego", "package single\n")

	loader := NewLoader(nil)
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir, single})
	if err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	var names []string
	for _, p := range policies {
		names = append(names, p.Name)
	}
	if diff := cmp.Diff([]string{"other", "no_panic", "single"}, names); diff != "" {
		t.Errorf("Loaded policies mismatch (-want +got):\n%s", diff)
	}

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing")}); err == nil {
		t.Error("Expected error for missing path")
	}

	bad := writePolicy(t, t.TempDir(), "bad.rego", "# severity: fatal\npackage bad\n")
	if _, err := loader.LoadFromPaths(context.Background(), []string{bad}); err == nil {
		t.Error("Expected error for unknown severity")
	}
}

func TestEngine_LoadPolicies(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "no_panic.rego", noPanicRego)

	eng, err := NewEngine()
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Failed to load policies: %v", err)
	}

	report := testReport()
	report.Results[0].TargetState = "panic"
	res, err := eng.Evaluate(context.Background(), report)
	if err != nil {
		t.Fatalf("Failed to evaluate: %v", err)
	}

	found := false
	for _, v := range res.Violations {
		if v.Policy == "no_panic" && v.Query == "ret" && v.Severity == SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected no_panic violation, got %+v", res.Violations)
	}
}

func TestEngine_Watch(t *testing.T) {
	dir := t.TempDir()
	writePolicy(t, dir, "first.rego", "package first\n")

	eng, err := NewEngine(WithoutBuiltins())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	loader, err := eng.Watch(ctx, []string{dir})
	if err != nil {
		t.Fatalf("Failed to watch policies: %v", err)
	}
	defer loader.StopWatching()

	writePolicy(t, dir, "second.rego", "package second\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(eng.ListPolicies()) == 2 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Expected reload to pick up both policies, have %d", len(eng.ListPolicies()))
}

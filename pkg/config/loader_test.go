package config

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/openfroyo/pdreach/pkg/engine"
)

const callsYAML = `name: calls
states: [p, q, err_r]
labels: [a, b]
rules:
  - {from: p, label: a, to: q, op: push, op_label: b}
  - {from: q, label: b, to: p, op: pop}
  - {from: err_r, label: "*", to: p, op: swap, op_label: a}
queries:
  - name: fwd
    direction: forward
    from: p
    from_stack: [a]
    to: q
    to_stack: [b, a]
    expect: reachable
    witness: true
  - name: err
    direction: backward
    from: p
    from_stack: [a]
    to: err_r
    to_stack: [a]
    expect: unreachable
`

const callsCUE = `
name: "calls"
states: ["p", "q", "err_r"]
labels: ["a", "b"]
rules: [
	{from: "p", label: "a", to: "q", op: "push", op_label: "b"},
	{from: "q", label: "b", to: "p", op: "pop"},
	{from: "err_r", label: "*", to: "p", op: "swap", op_label: "a"},
]
queries: [
	{name: "fwd", direction: "forward", from: "p", from_stack: ["a"], to: "q", to_stack: ["b", "a"], expect: "reachable", witness: true},
	{name: "err", direction: "backward", from: "p", from_stack: ["a"], to: "err_r", to_stack: ["a"], expect: "unreachable"},
]
`

const callsStar = `
model("calls")
state("p", "q", "err_r")
label(["a", "b"])
rule("p", "a", "q", "push", "b")
rule("q", "b", "p", op="pop")
rule("err_r", "*", "p", "swap", "a")
query("fwd", "p", "q", from_stack=["a"], to_stack=["b", "a"], direction="forward", expect="reachable", witness=True)
query("err", "p", "err_r", from_stack=["a"], to_stack=["a"], direction="backward", expect="unreachable")
`

const callsPDS = `# call and return
model calls
states p q err_r
labels a b
rule p a -> q push b
rule q b -> p pop
rule err_r * -> p swap a
query fwd forward p [a] -> q [b a] expect reachable witness
query err backward p [a] -> err_r [a] expect unreachable
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	return path
}

func TestLoader_AllFormats(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"calls.yaml": callsYAML,
		"calls.cue":  callsCUE,
		"calls.star": callsStar,
		"calls.pds":  callsPDS,
	}

	loader, err := NewLoader()
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}

	want := callsSpec()
	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, dir, name, content)

			model, err := loader.Load(context.Background(), path)
			if err != nil {
				t.Fatalf("Failed to load %s: %v", name, err)
			}
			if diff := cmp.Diff(want, model.Spec); diff != "" {
				t.Errorf("Spec mismatch (-want +got):\n%s", diff)
			}
			if model.PDA.NumRules() != 4 || len(model.Queries) != 2 {
				t.Errorf("Unexpected model: %d rules, %d queries", model.PDA.NumRules(), len(model.Queries))
			}
			if _, ok := model.Query("err"); !ok {
				t.Error("Expected to find query err")
			}
			if model.Source != path {
				t.Errorf("Source = %s, want %s", model.Source, path)
			}
		})
	}
}

func TestLoader_CUEDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "states.cue", "package calls\n\nname: \"calls\"\nstates: [\"p\", \"q\"]\nlabels: [\"a\"]\n")
	writeFile(t, dir, "rules.cue", "package calls\n\nrules: [{from: \"p\", label: \"a\", to: \"q\", op: \"pop\"}]\n")

	model, err := Load(context.Background(), dir)
	if err != nil {
		t.Fatalf("Failed to load CUE package: %v", err)
	}
	if model.PDA.NumStates() != 2 || model.PDA.NumRules() != 1 {
		t.Errorf("Unexpected model from package: %d states, %d rules", model.PDA.NumStates(), model.PDA.NumRules())
	}
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		line    int
	}{
		{name: "yaml unknown field", file: "bad.yaml", content: "name: x\nstates: [p]\nlabels: [a]\ncolour: red\n"},
		{name: "yaml empty", file: "empty.yaml", content: ""},
		{name: "cue schema violation", file: "bad.cue", content: "name: \"x\"\nstates: [\"p\"]\nlabels: [\"a\"]\nrules: [{from: \"p\", label: \"a\", to: \"p\", op: \"jump\"}]\n"},
		{name: "cue syntax", file: "syntax.cue", content: "name: {\n"},
		{name: "starlark error", file: "bad.star", content: "state(1)\n"},
		{name: "pds syntax", file: "bad.pds", content: "states p q\nlabels a\nrule p a q pop\n", line: 3},
		{name: "pds unknown state", file: "unknown.pds", content: "states p\nlabels a\nrule p a -> q pop\n"},
		{name: "unsupported", file: "model.json", content: "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)

			_, err := Load(context.Background(), path)
			if err == nil {
				t.Fatal("Expected load error")
			}
			if !engine.IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}

			if tt.line > 0 {
				var ve ValidationErrors
				if !errors.As(err, &ve) {
					t.Fatalf("Expected positioned errors, got %v", err)
				}
				if ve[0].Line != tt.line || ve[0].File != path {
					t.Errorf("Expected %s:%d, got %s:%d", path, tt.line, ve[0].File, ve[0].Line)
				}
			}
		})
	}
}

func TestLoader_StarlarkVars(t *testing.T) {
	script := `
model("chain")
state(["s%d" % i for i in range(depth + 1)])
label("a")

def chain():
    for i in range(depth):
        rule("s%d" % i, "a", "s%d" % (i + 1), "push", "a")

chain()
query("deep", "s0", "s%d" % depth, from_stack=["a"], to_stack=["a"] * (depth + 1), expect="reachable")
`
	loader, err := NewLoader(WithVars(map[string]interface{}{"depth": 3}))
	if err != nil {
		t.Fatalf("Failed to create loader: %v", err)
	}

	spec, err := loader.ParseSpec(context.Background(), FormatStarlark, "chain.star", []byte(script))
	if err != nil {
		t.Fatalf("Failed to evaluate script: %v", err)
	}
	if spec.Name != "chain" || len(spec.States) != 4 || len(spec.Rules) != 3 {
		t.Errorf("Unexpected spec %+v", spec)
	}
	if got := spec.Queries[0].ToStack; len(got) != 4 {
		t.Errorf("Expected 4 labels on target stack, got %v", got)
	}
}

func TestStarlarkEvaluator_Timeout(t *testing.T) {
	evaluator := NewStarlarkEvaluator(50 * time.Millisecond)

	script := `
def spin():
    x = 0
    for i in range(100000000):
        x = x + i
    return x

spin()
`
	_, err := evaluator.Evaluate(context.Background(), "spin.star", script, nil)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
}

func TestFormatFor(t *testing.T) {
	for path, want := range map[string]Format{
		"m.yaml": FormatYAML, "m.YML": FormatYAML, "m.cue": FormatCUE,
		"m.star": FormatStarlark, "m.pds": FormatPDS,
	} {
		got, err := FormatFor(path)
		if err != nil || got != want {
			t.Errorf("FormatFor(%s) = %s, %v; want %s", path, got, err, want)
		}
	}
	if _, err := FormatFor("m.txt"); err == nil {
		t.Error("Expected error for unknown extension")
	}
}

func TestWriteYAML_Reload(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteYAML(&buf, callsSpec()); err != nil {
		t.Fatalf("Failed to write YAML: %v", err)
	}

	spec, err := parseYAML("calls.yaml", buf.Bytes())
	if err != nil {
		t.Fatalf("Failed to parse written YAML: %v", err)
	}
	if diff := cmp.Diff(callsSpec(), spec); diff != "" {
		t.Errorf("Spec changed after YAML round trip (-want +got):\n%s", diff)
	}
}

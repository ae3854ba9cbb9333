package automaton

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/openfroyo/pdreach/pkg/pds"
)

func TestWriteDot_Seed(t *testing.T) {
	model := twoStateModel(t)
	a := mustNew(t, model, p, []pds.Label{la, lb})

	var buf bytes.Buffer
	if err := a.WriteDot(&buf, nil); err != nil {
		t.Fatalf("Failed to write DOT: %v", err)
	}

	want := `digraph NFA {
"0" [shape=circle];
"0" -> "2" [ label="\[0\]"];
"1" [shape=circle];
"2" [shape=circle];
"2" -> "3" [ label="\[1\]"];
"3" [shape=doublecircle];
"I0" -> "0";
"I0" [style=invisible];
"I1" -> "1";
"I1" [style=invisible];
}
`
	if got := buf.String(); got != want {
		t.Errorf("DOT mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
}

func TestWriteDot_WildcardAndEpsilon(t *testing.T) {
	model := twoStateModel(t, pds.Rule{From: p, Label: la, To: q, Op: pds.Pop})
	a := mustNew(t, model, p, []pds.Label{la}, WithAnySuffix())
	a.PostStar()

	var buf bytes.Buffer
	if err := a.WriteDot(&buf, NamedLabelPrinter(model)); err != nil {
		t.Fatalf("Failed to write DOT: %v", err)
	}
	out := buf.String()

	for _, want := range []string{
		`"2" -> "2" [ label="*"];`,
		`"1" -> "2" [ label="* ε"];`,
		`"0" -> "2" [ label="\[a\]"];`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output:\n%s", want, out)
		}
	}
}

func TestWriteDot_PrinterError(t *testing.T) {
	model := twoStateModel(t)
	a := mustNew(t, model, p, []pds.Label{la})

	failing := func(io.Writer, LabelTrace) error { return fmt.Errorf("boom") }
	if err := a.WriteDot(io.Discard, failing); err == nil {
		t.Error("Expected printer error to propagate")
	}
}

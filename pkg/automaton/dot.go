package automaton

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/openfroyo/pdreach/pkg/pds"
)

// LabelPrinter writes one edge label entry in DOT label text.
type LabelPrinter func(w io.Writer, entry LabelTrace) error

// DefaultLabelPrinter prints the numeric label.
func DefaultLabelPrinter(w io.Writer, entry LabelTrace) error {
	_, err := io.WriteString(w, strconv.FormatUint(uint64(entry.Label), 10))
	return err
}

// NamedLabelPrinter prints label names from the model.
func NamedLabelPrinter(pda *pds.PDA) LabelPrinter {
	return func(w io.Writer, entry LabelTrace) error {
		_, err := io.WriteString(w, pda.LabelName(entry.Label))
		return err
	}
}

// WriteDot renders the automaton in Graphviz DOT format. Accepting states
// are double circles; an edge holding the whole alphabet is drawn as "*".
// A nil printer selects DefaultLabelPrinter.
func (a *Automaton) WriteDot(w io.Writer, printer LabelPrinter) error {
	if printer == nil {
		printer = DefaultLabelPrinter
	}
	bw := bufio.NewWriter(w)

	fmt.Fprintln(bw, "digraph NFA {")
	for _, s := range a.states {
		shape := "circle"
		if s.Accepting {
			shape = "doublecircle"
		}
		fmt.Fprintf(bw, "\"%d\" [shape=%s];\n", s.ID, shape)

		for i := range s.Edges {
			e := &s.Edges[i]
			fmt.Fprintf(bw, "\"%d\" -> \"%d\" [ label=\"", s.ID, e.To)
			if e.HasNonEpsilon() {
				if n := a.pda.NumLabels(); n > 1 && e.NumLabels() == n {
					bw.WriteString("*")
				} else {
					bw.WriteString("\\[")
					for j := 0; j < e.NumLabels(); j++ {
						if j > 0 {
							bw.WriteString(", ")
						}
						if err := printer(bw, e.Labels[j]); err != nil {
							return fmt.Errorf("failed to print label: %w", err)
						}
					}
					bw.WriteString("\\]")
				}
			}
			if e.HasEpsilon() {
				if e.HasNonEpsilon() {
					bw.WriteString(" ")
				}
				bw.WriteString("ε")
			}
			bw.WriteString("\"];\n")
		}
	}
	for _, id := range a.initial {
		fmt.Fprintf(bw, "\"I%d\" -> \"%d\";\n", id, id)
		fmt.Fprintf(bw, "\"I%d\" [style=invisible];\n", id)
	}
	fmt.Fprintln(bw, "}")

	return bw.Flush()
}

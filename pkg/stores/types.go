package stores

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/openfroyo/pdreach/pkg/automaton"
	"github.com/openfroyo/pdreach/pkg/engine"
)

// RunFilter selects runs for ListRuns. Zero fields match everything.
type RunFilter struct {
	Model  string
	Status engine.RunStatus
	Limit  int
	Offset int
}

// ResultRecord is a stored query result.
type ResultRecord struct {
	ID        string         `json:"id"`
	RunID     string         `json:"run_id"`
	Result    *engine.Result `json:"result"`
	CreatedAt time.Time      `json:"created_at"`
}

// Snapshot is a saturated automaton in a storable form, with label names
// resolved so it can be rendered without the model.
type Snapshot struct {
	ID        string          `json:"id"`
	RunID     string          `json:"run_id,omitempty"`
	Model     string          `json:"model"`
	Query     string          `json:"query,omitempty"`
	Direction string          `json:"direction"`
	Alphabet  int             `json:"alphabet"`
	States    []SnapshotState `json:"states"`
	Edges     []SnapshotEdge  `json:"edges"`
	Initial   []int           `json:"initial"`
	Stats     automaton.Stats `json:"stats"`
	CreatedAt time.Time       `json:"created_at"`
}

// SnapshotState is one automaton state. Name is the control state name for
// control states and empty for synthetic ones.
type SnapshotState struct {
	ID        int    `json:"id"`
	Name      string `json:"name,omitempty"`
	Accepting bool   `json:"accepting,omitempty"`
}

// SnapshotEdge is one transition; epsilon transitions have an empty Label.
type SnapshotEdge struct {
	From    int    `json:"from"`
	To      int    `json:"to"`
	Label   string `json:"label,omitempty"`
	Epsilon bool   `json:"epsilon,omitempty"`
	Trace   string `json:"trace,omitempty"`
}

// NewSnapshot captures a.
func NewSnapshot(a *automaton.Automaton) *Snapshot {
	pda := a.PDA()
	snap := &Snapshot{
		Model:     pda.Name(),
		Direction: string(a.Saturated()),
		Alphabet:  pda.NumLabels(),
		Initial:   a.Initial(),
		Stats:     a.Stats(),
	}

	for _, s := range a.States() {
		st := SnapshotState{ID: s.ID, Accepting: s.Accepting}
		if s.ID < pda.NumStates() {
			st.Name = pda.StateName(s.ID)
		}
		snap.States = append(snap.States, st)
	}

	for _, k := range a.Edges() {
		e := SnapshotEdge{From: k.From, To: k.To, Epsilon: k.Epsilon}
		var (
			id automaton.TraceID
			ok bool
		)
		if k.Epsilon {
			id, ok = a.TraceEpsilon(k.From, k.To)
		} else {
			e.Label = pda.LabelName(k.Label)
			id, ok = a.TraceLabel(k.From, k.Label, k.To)
		}
		if ok {
			e.Trace = a.Trace(id).String()
		}
		snap.Edges = append(snap.Edges, e)
	}
	return snap
}

// WriteDot renders the snapshot in the same DOT layout as
// automaton.WriteDot with named labels.
func (s *Snapshot) WriteDot(w io.Writer) error {
	type key struct{ from, to int }
	var (
		order   []key
		seen    = make(map[key]bool)
		labels  = make(map[key][]string)
		epsilon = make(map[key]bool)
	)
	for _, e := range s.Edges {
		k := key{e.From, e.To}
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
		if e.Epsilon {
			epsilon[k] = true
		} else {
			labels[k] = append(labels[k], e.Label)
		}
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph NFA {")
	for _, st := range s.States {
		shape := "circle"
		if st.Accepting {
			shape = "doublecircle"
		}
		fmt.Fprintf(bw, "\"%d\" [shape=%s];\n", st.ID, shape)

		for _, k := range order {
			if k.from != st.ID {
				continue
			}
			ls := labels[k]
			fmt.Fprintf(bw, "\"%d\" -> \"%d\" [ label=\"", k.from, k.to)
			if len(ls) > 0 {
				if s.Alphabet > 1 && len(ls) == s.Alphabet {
					bw.WriteString("*")
				} else {
					bw.WriteString("\\[")
					for i, l := range ls {
						if i > 0 {
							bw.WriteString(", ")
						}
						bw.WriteString(l)
					}
					bw.WriteString("\\]")
				}
			}
			if epsilon[k] {
				if len(ls) > 0 {
					bw.WriteString(" ")
				}
				bw.WriteString("ε")
			}
			bw.WriteString("\"];\n")
		}
	}
	for _, id := range s.Initial {
		fmt.Fprintf(bw, "\"I%d\" -> \"%d\";\n", id, id)
		fmt.Fprintf(bw, "\"I%d\" [style=invisible];\n", id)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

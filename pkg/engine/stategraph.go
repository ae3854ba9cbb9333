package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/pdreach/pkg/pds"
)

// StateGraph is the control-state graph of a pushdown system: one node per
// control state and an edge p -> q for every rule from p to q, ignoring the
// stack. Reachability in the pushdown system implies reachability here, so
// the graph answers "unreachable" for free when it disconnects two states.
type StateGraph struct {
	pda *pds.PDA

	// adjacency maps a state to its distinct successors in first-rule order
	adjacency [][]int

	// reverse maps a state to its distinct predecessors
	reverse [][]int

	// rules maps an edge to the rule ids that induce it
	rules map[[2]int][]pds.RuleID
}

// NewStateGraph builds the control-state graph of pda.
func NewStateGraph(pda *pds.PDA) *StateGraph {
	n := pda.NumStates()
	g := &StateGraph{
		pda:       pda,
		adjacency: make([][]int, n),
		reverse:   make([][]int, n),
		rules:     make(map[[2]int][]pds.RuleID),
	}
	for _, r := range pda.Rules() {
		key := [2]int{r.From, r.To}
		if _, seen := g.rules[key]; !seen {
			g.adjacency[r.From] = append(g.adjacency[r.From], r.To)
			g.reverse[r.To] = append(g.reverse[r.To], r.From)
		}
		g.rules[key] = append(g.rules[key], r.ID)
	}
	return g
}

// Successors returns the states reachable from s by one rule.
func (g *StateGraph) Successors(s int) []int {
	return append([]int(nil), g.adjacency[s]...)
}

// Predecessors returns the states that reach s by one rule.
func (g *StateGraph) Predecessors(s int) []int {
	return append([]int(nil), g.reverse[s]...)
}

// RulesBetween returns the rules from state from to state to.
func (g *StateGraph) RulesBetween(from, to int) []pds.RuleID {
	return append([]pds.RuleID(nil), g.rules[[2]int{from, to}]...)
}

// Reachable returns the states reachable from from, including from itself.
func (g *StateGraph) Reachable(from int) []bool {
	seen := make([]bool, len(g.adjacency))
	if from < 0 || from >= len(seen) {
		return seen
	}
	seen[from] = true
	queue := []int{from}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, t := range g.adjacency[s] {
			if !seen[t] {
				seen[t] = true
				queue = append(queue, t)
			}
		}
	}
	return seen
}

// CanReach reports whether to is graph-reachable from from.
func (g *StateGraph) CanReach(from, to int) bool {
	if to < 0 || to >= len(g.adjacency) {
		return false
	}
	return g.Reachable(from)[to]
}

// Unreachable returns the states not reachable from from, in id order.
func (g *StateGraph) Unreachable(from int) []int {
	var out []int
	for s, ok := range g.Reachable(from) {
		if !ok {
			out = append(out, s)
		}
	}
	return out
}

// Cycles returns the strongly connected components that contain a cycle,
// each sorted by id and the list sorted by first member. These are the
// recursive parts of the model.
func (g *StateGraph) Cycles() [][]int {
	t := &tarjan{
		g:       g,
		index:   make([]int, len(g.adjacency)),
		low:     make([]int, len(g.adjacency)),
		onStack: make([]bool, len(g.adjacency)),
	}
	for i := range t.index {
		t.index[i] = -1
	}
	for s := range g.adjacency {
		if t.index[s] < 0 {
			t.strongConnect(s)
		}
	}

	var cycles [][]int
	for _, comp := range t.components {
		if len(comp) == 1 && !g.hasSelfLoop(comp[0]) {
			continue
		}
		sort.Ints(comp)
		cycles = append(cycles, comp)
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

func (g *StateGraph) hasSelfLoop(s int) bool {
	_, ok := g.rules[[2]int{s, s}]
	return ok
}

type tarjan struct {
	g          *StateGraph
	counter    int
	index      []int
	low        []int
	onStack    []bool
	stack      []int
	components [][]int
}

func (t *tarjan) strongConnect(v int) {
	t.index[v] = t.counter
	t.low[v] = t.counter
	t.counter++
	t.stack = append(t.stack, v)
	t.onStack[v] = true

	for _, w := range t.g.adjacency[v] {
		if t.index[w] < 0 {
			t.strongConnect(w)
			t.low[v] = min(t.low[v], t.low[w])
		} else if t.onStack[w] {
			t.low[v] = min(t.low[v], t.index[w])
		}
	}

	if t.low[v] != t.index[v] {
		return
	}
	var comp []int
	for {
		w := t.stack[len(t.stack)-1]
		t.stack = t.stack[:len(t.stack)-1]
		t.onStack[w] = false
		comp = append(comp, w)
		if w == v {
			break
		}
	}
	t.components = append(t.components, comp)
}

// FormatCycle renders a component with state names.
func (g *StateGraph) FormatCycle(comp []int) string {
	names := make([]string, len(comp))
	for i, s := range comp {
		names[i] = g.pda.StateName(s)
	}
	return strings.Join(names, " <-> ")
}

// ToDOT renders the control-state graph for Graphviz, with one edge per
// state pair labeled by the operations of its rules.
func (g *StateGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph StateGraph {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=circle];\n\n")

	for s := range g.adjacency {
		fmt.Fprintf(&sb, "  %q;\n", g.pda.StateName(s))
	}
	sb.WriteString("\n")

	for from, succ := range g.adjacency {
		for _, to := range succ {
			ids := g.rules[[2]int{from, to}]
			ops := make([]string, len(ids))
			for i, id := range ids {
				r := g.pda.Rule(id)
				ops[i] = fmt.Sprintf("%s/%s", g.pda.LabelName(r.Label), r.Op)
			}
			fmt.Fprintf(&sb, "  %q -> %q [label=%q, %s];\n",
				g.pda.StateName(from), g.pda.StateName(to),
				strings.Join(ops, ","), edgeStyle(g.pda, ids))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// edgeStyle draws call edges solid, returns dashed and the rest dotted.
func edgeStyle(pda *pds.PDA, ids []pds.RuleID) string {
	var push, pop bool
	for _, id := range ids {
		switch pda.Rule(id).Op {
		case pds.Push:
			push = true
		case pds.Pop:
			pop = true
		}
	}
	switch {
	case push:
		return "style=solid, color=black"
	case pop:
		return "style=dashed, color=blue"
	default:
		return "style=dotted, color=gray"
	}
}

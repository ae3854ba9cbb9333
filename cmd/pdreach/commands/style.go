package commands

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/policy"
)

var (
	colorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	colorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	colorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	colorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}

	styleSuccess = lipgloss.NewStyle().Foreground(colorPass).Bold(true)
	styleWarning = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorFail).Bold(true)
	styleInfo    = lipgloss.NewStyle().Foreground(colorAccent)
	styleDim     = lipgloss.NewStyle().Foreground(colorMuted)
	styleBold    = lipgloss.NewStyle().Bold(true)
)

// outcomeStyle colors a result outcome.
func outcomeStyle(outcome string) lipgloss.Style {
	switch outcome {
	case engine.OutcomeReachable, engine.OutcomeUnreachable:
		return styleSuccess
	case engine.OutcomeMismatch:
		return styleWarning
	default:
		return styleError
	}
}

func severityStyle(s policy.Severity) lipgloss.Style {
	switch s {
	case policy.SeverityCritical, policy.SeverityError:
		return styleError
	case policy.SeverityWarning:
		return styleWarning
	default:
		return styleInfo
	}
}

func statusStyle(s engine.RunStatus) lipgloss.Style {
	switch s {
	case engine.RunStatusSucceeded:
		return styleSuccess
	case engine.RunStatusFailed:
		return styleError
	case engine.RunStatusCancelled:
		return styleWarning
	default:
		return styleInfo
	}
}

// column is a table column. Width zero sizes the column to its content.
type column struct {
	Name  string
	Width int
	Right bool
}

// table renders aligned rows of pre-styled cells.
type table struct {
	columns []column
	rows    [][]string
	indent  string
}

func newTable(columns ...column) *table {
	return &table{columns: columns, indent: "  "}
}

func (t *table) addRow(values ...string) {
	for len(values) < len(t.columns) {
		values = append(values, "")
	}
	t.rows = append(t.rows, values)
}

func (t *table) render() string {
	widths := make([]int, len(t.columns))
	for i, col := range t.columns {
		widths[i] = col.Width
		if col.Width > 0 {
			continue
		}
		widths[i] = lipgloss.Width(col.Name)
		for _, row := range t.rows {
			if w := lipgloss.Width(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var sb strings.Builder
	header := make([]string, len(t.columns))
	for i, col := range t.columns {
		header[i] = styleBold.Render(col.Name)
	}
	t.writeRow(&sb, header, widths)

	total := 0
	for _, w := range widths {
		total += w
	}
	total += len(widths) - 1
	sb.WriteString(t.indent)
	sb.WriteString(styleDim.Render(strings.Repeat("─", total)))
	sb.WriteString("\n")

	for _, row := range t.rows {
		t.writeRow(&sb, row, widths)
	}
	return sb.String()
}

func (t *table) writeRow(sb *strings.Builder, cells []string, widths []int) {
	sb.WriteString(t.indent)
	for i, cell := range cells {
		pad := widths[i] - lipgloss.Width(cell)
		if pad < 0 {
			pad = 0
		}
		last := i == len(cells)-1
		switch {
		case t.columns[i].Right:
			sb.WriteString(strings.Repeat(" ", pad))
			sb.WriteString(cell)
		case last:
			sb.WriteString(cell)
		default:
			sb.WriteString(cell)
			sb.WriteString(strings.Repeat(" ", pad))
		}
		if !last {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("\n")
}

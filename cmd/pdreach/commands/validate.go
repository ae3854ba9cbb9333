package commands

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pdreach/pkg/config"
	"github.com/openfroyo/pdreach/pkg/engine"
)

// validateOutput is the --json document of validate.
type validateOutput struct {
	Model       string              `json:"model"`
	Valid       bool                `json:"valid"`
	States      int                 `json:"states"`
	Labels      int                 `json:"labels"`
	Rules       int                 `json:"rules"`
	Queries     int                 `json:"queries"`
	Recursive   []string            `json:"recursive,omitempty"`
	Unreachable map[string][]string `json:"unreachable,omitempty"`
}

func newValidateCommand(a *app) *cobra.Command {
	var (
		graph  bool
		export string
		vars   map[string]string
	)

	cmd := &cobra.Command{
		Use:   "validate <model>",
		Short: "Validate a model and report its structure",
		Long: `Load and validate a model without running its queries.

Besides schema and reference checks, validate reports the recursive parts
of the control-state graph and the states that no query source can reach
by any rule sequence. Use --graph for the state graph in DOT format, or
--export to convert the model to another format.`,
		Example: `  pdreach validate calls.cue
  pdreach validate calls.yaml --graph | dot -Tpng > states.png
  pdreach validate gen.star --var depth=4 --export pds`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			loader, err := config.NewLoader(config.WithVars(starlarkVars(vars)))
			if err != nil {
				return engine.NewInternalError("failed to create model loader", err)
			}
			model, err := loader.Load(ctx, args[0])
			if err != nil {
				return err
			}

			switch export {
			case "":
			case "yaml":
				return config.WriteYAML(out, model.Spec)
			case "pds":
				_, err := io.WriteString(out, config.MarshalPDS(model.Spec))
				return err
			case "json", "cue":
				data, err := config.ExportJSON(model.Spec)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(out, string(data))
				return err
			default:
				return engine.NewValidationError(fmt.Sprintf("unknown export format %q (want yaml, pds or json)", export), nil)
			}

			g := engine.NewStateGraph(model.PDA)
			if graph {
				_, err := io.WriteString(out, g.ToDOT())
				return err
			}

			result := structureReport(model, g)
			if a.jsonOutput {
				return writeJSON(out, result)
			}
			printStructure(out, result)
			return nil
		},
	}

	cmd.Flags().BoolVar(&graph, "graph", false, "write the control-state graph in DOT format")
	cmd.Flags().StringVar(&export, "export", "", "convert the model: yaml, pds or json")
	cmd.Flags().StringToStringVar(&vars, "var", nil, "variables for Starlark models (key=value)")

	return cmd
}

// structureReport summarizes the model's state graph. Unreachable states
// are computed from each distinct query source, or from the first state
// when the model has no queries.
func structureReport(model *config.Model, g *engine.StateGraph) *validateOutput {
	pda := model.PDA
	result := &validateOutput{
		Model:   pda.Name(),
		Valid:   true,
		States:  pda.NumStates(),
		Labels:  pda.NumLabels(),
		Rules:   pda.NumRules(),
		Queries: len(model.Queries),
	}

	for _, comp := range g.Cycles() {
		result.Recursive = append(result.Recursive, g.FormatCycle(comp))
	}

	sources := map[int]bool{}
	for _, q := range model.Queries {
		sources[q.Source.State] = true
	}
	if len(sources) == 0 {
		sources[0] = true
	}
	for s := range sources {
		dead := g.Unreachable(s)
		if len(dead) == 0 {
			continue
		}
		names := make([]string, len(dead))
		for i, d := range dead {
			names[i] = pda.StateName(d)
		}
		if result.Unreachable == nil {
			result.Unreachable = make(map[string][]string)
		}
		result.Unreachable[pda.StateName(s)] = names
	}
	return result
}

func printStructure(out io.Writer, r *validateOutput) {
	fmt.Fprintf(out, "%s %s is valid\n\n", styleSuccess.Render("✓"), r.Model)
	fmt.Fprintf(out, "  states   %d\n", r.States)
	fmt.Fprintf(out, "  labels   %d\n", r.Labels)
	fmt.Fprintf(out, "  rules    %d\n", r.Rules)
	fmt.Fprintf(out, "  queries  %d\n", r.Queries)

	if len(r.Recursive) > 0 {
		fmt.Fprintf(out, "\n%s\n", styleBold.Render("Recursive states"))
		for _, c := range r.Recursive {
			fmt.Fprintf(out, "  %s\n", c)
		}
	}

	if len(r.Unreachable) > 0 {
		fmt.Fprintf(out, "\n%s\n", styleBold.Render("Unreachable states"))
		from := make([]string, 0, len(r.Unreachable))
		for s := range r.Unreachable {
			from = append(from, s)
		}
		sort.Strings(from)
		for _, s := range from {
			fmt.Fprintf(out, "  %s %s: %v\n", styleWarning.Render("!"), styleDim.Render("from "+s), r.Unreachable[s])
		}
	}
}

package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pdreach/pkg/automaton"
	"github.com/openfroyo/pdreach/pkg/config"
	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/stores"
)

type dotOptions struct {
	direction string
	state     string
	stack     []string
	query     string
	anySuffix bool
	output    string
	save      bool
	snapshot  string
	storePath string
	vars      map[string]string
}

func newDotCommand(a *app) *cobra.Command {
	var opts dotOptions

	cmd := &cobra.Command{
		Use:   "dot [model]",
		Short: "Write a saturated automaton as Graphviz DOT",
		Long: `Saturate the automaton for one configuration and write it in DOT format.

The seed is either --state/--stack, or the seed of a model query: its
source for forward queries, its target for backward ones. Edge labels show
the stack label and, in brackets, the provenance of the edge.

With --snapshot, a previously saved automaton is rendered from the run
history instead and no model is needed.`,
		Example: `  # post* from <main, [entry]>
  pdreach dot calls.pds --state main --stack entry | dot -Tsvg > post.svg

  # pre* for the target of query esc
  pdreach dot calls.yaml --query esc -o pre.dot

  # Save the automaton, then render it later
  pdreach dot calls.pds --state main --stack entry --save --store history.db
  pdreach dot --snapshot 3f2a --store history.db`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			out := cmd.OutOrStdout()
			if opts.output != "" && opts.output != "-" {
				f, err := os.Create(opts.output)
				if err != nil {
					return engine.NewValidationError(fmt.Sprintf("failed to create %s", opts.output), err)
				}
				defer f.Close()
				out = f
			}

			if opts.snapshot != "" {
				return a.renderSnapshot(ctx, out, opts)
			}
			if len(args) == 0 {
				return engine.NewValidationError("a model is required unless --snapshot is given", nil)
			}
			return a.runDot(ctx, cmd.ErrOrStderr(), out, args[0], opts)
		},
	}

	cmd.Flags().StringVarP(&opts.direction, "direction", "d", "forward", "saturation: forward (post*) or backward (pre*)")
	cmd.Flags().StringVar(&opts.state, "state", "", "control state of the seed configuration")
	cmd.Flags().StringSliceVar(&opts.stack, "stack", nil, "stack of the seed configuration, top first")
	cmd.Flags().StringVar(&opts.query, "query", "", "seed with this query's configuration and direction")
	cmd.Flags().BoolVar(&opts.anySuffix, "any-suffix", false, "accept the seed stack followed by any suffix")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "write to this file instead of stdout")
	cmd.Flags().BoolVar(&opts.save, "save", false, "save the saturated automaton to the run history")
	cmd.Flags().StringVar(&opts.snapshot, "snapshot", "", "render a saved automaton by id")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "run history database")
	cmd.Flags().StringToStringVar(&opts.vars, "var", nil, "variables for Starlark models (key=value)")

	return cmd
}

func (a *app) runDot(ctx context.Context, status, out io.Writer, path string, opts dotOptions) error {
	loader, err := config.NewLoader(config.WithVars(starlarkVars(opts.vars)))
	if err != nil {
		return engine.NewInternalError("failed to create model loader", err)
	}
	model, err := loader.Load(ctx, path)
	if err != nil {
		return err
	}

	dir, seed, err := dotSeed(model, opts)
	if err != nil {
		return err
	}

	var satOpts []automaton.Option
	if opts.anySuffix {
		satOpts = append(satOpts, automaton.WithAnySuffix())
	}

	solver := engine.NewSolver(model.PDA, engine.WithTelemetry(a.tel))
	aut, err := solver.Saturate(ctx, dir, seed, satOpts...)
	if err != nil {
		return err
	}

	if opts.save {
		store, err := a.requireStore(ctx, opts.storePath)
		if err != nil {
			return err
		}
		defer store.Close()

		snap := stores.NewSnapshot(aut)
		snap.Query = opts.query
		if err := store.SaveSnapshot(ctx, snap); err != nil {
			return err
		}
		fmt.Fprintf(status, "%s snapshot %s\n", styleSuccess.Render("✓"), snap.ID)
	}

	return aut.WriteDot(out, automaton.NamedLabelPrinter(model.PDA))
}

// dotSeed resolves the direction and seed configuration from the flags.
func dotSeed(model *config.Model, opts dotOptions) (engine.Direction, engine.Config, error) {
	if opts.query != "" {
		q, ok := model.Query(opts.query)
		if !ok {
			return "", engine.Config{}, engine.NewValidationError(fmt.Sprintf("unknown query %q", opts.query), nil).
				WithCode(engine.ErrCodeNotFound)
		}
		if q.Direction == engine.Backward {
			return q.Direction, q.Target, nil
		}
		return q.Direction, q.Source, nil
	}

	dir, err := engine.ParseDirection(opts.direction)
	if err != nil {
		return "", engine.Config{}, engine.NewValidationError("invalid --direction", err)
	}
	if opts.state == "" {
		return "", engine.Config{}, engine.NewValidationError("--state or --query is required", nil)
	}
	seed, err := config.ParseConfig(model.PDA, opts.state, opts.stack)
	if err != nil {
		return "", engine.Config{}, engine.NewValidationError("invalid seed configuration", err)
	}
	return dir, seed, nil
}

func (a *app) renderSnapshot(ctx context.Context, out io.Writer, opts dotOptions) error {
	store, err := a.requireStore(ctx, opts.storePath)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.GetSnapshot(ctx, opts.snapshot)
	if err != nil {
		return err
	}
	return snap.WriteDot(out)
}

package commands

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/stores"
)

type historyOptions struct {
	storePath string
	model     string
	status    string
	limit     int
	outcome   string
	delete    bool
}

// runDetail is the --json document for a single run.
type runDetail struct {
	Run     *engine.Run            `json:"run"`
	Results []*stores.ResultRecord `json:"results"`
}

func newHistoryCommand(a *app) *cobra.Command {
	var opts historyOptions

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List the runs recorded by check --store, newest first, or show the
results of one run. A run can be named by any unique prefix of its id.`,
		Example: `  pdreach history --store history.db
  pdreach history --store history.db --model calls --status failed
  pdreach history 3f2a9c --outcome mismatch
  pdreach history 3f2a9c --delete`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := a.requireStore(ctx, opts.storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			if len(args) == 0 {
				if opts.delete {
					return engine.NewValidationError("--delete needs a run id", nil)
				}
				return a.listRuns(ctx, cmd.OutOrStdout(), store, opts)
			}
			return a.showRun(ctx, cmd.OutOrStdout(), store, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.storePath, "store", "", "run history database")
	cmd.Flags().StringVar(&opts.model, "model", "", "only runs of this model")
	cmd.Flags().StringVar(&opts.status, "status", "", "only runs with this status (running, succeeded, failed, cancelled)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().StringVar(&opts.outcome, "outcome", "", "only results with this outcome (reachable, unreachable, mismatch, error)")
	cmd.Flags().BoolVar(&opts.delete, "delete", false, "delete the run and its results")

	return cmd
}

func (a *app) listRuns(ctx context.Context, out io.Writer, store *stores.SQLiteStore, opts historyOptions) error {
	filter := stores.RunFilter{Model: opts.model, Limit: opts.limit}
	if opts.status != "" {
		status := engine.RunStatus(opts.status)
		if err := status.Validate(); err != nil {
			return engine.NewValidationError("invalid --status", err)
		}
		filter.Status = status
	}

	runs, err := store.ListRuns(ctx, filter)
	if err != nil {
		return err
	}
	if a.jsonOutput {
		if runs == nil {
			runs = []*engine.Run{}
		}
		return writeJSON(out, runs)
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, styleDim.Render("No runs recorded"))
		return nil
	}

	t := newTable(
		column{Name: "RUN"},
		column{Name: "MODEL"},
		column{Name: "STATUS"},
		column{Name: "QUERIES", Right: true},
		column{Name: "FAILED", Right: true},
		column{Name: "STARTED"},
		column{Name: "DURATION", Right: true},
	)
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = r.Duration().Round(time.Millisecond).String()
		}
		t.addRow(
			shortID(r.ID),
			r.Model,
			statusStyle(r.Status).Render(string(r.Status)),
			fmt.Sprint(r.Queries),
			fmt.Sprint(r.Summary.Mismatched+r.Summary.Failed),
			r.StartedAt.Local().Format(time.DateTime),
			duration,
		)
	}
	fmt.Fprint(out, t.render())
	return nil
}

func (a *app) showRun(ctx context.Context, out io.Writer, store *stores.SQLiteStore, id string, opts historyOptions) error {
	run, err := store.FindRun(ctx, id)
	if err != nil {
		return err
	}

	if opts.delete {
		if err := store.DeleteRun(ctx, run.ID); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s deleted run %s\n", styleSuccess.Render("✓"), run.ID)
		return nil
	}

	records, err := store.ListResults(ctx, run.ID, opts.outcome)
	if err != nil {
		return err
	}
	if a.jsonOutput {
		if records == nil {
			records = []*stores.ResultRecord{}
		}
		return writeJSON(out, runDetail{Run: run, Results: records})
	}

	fmt.Fprintf(out, "%s %s\n", styleBold.Render("Run"), run.ID)
	fmt.Fprintf(out, "  model    %s\n", run.Model)
	if run.Source != "" {
		fmt.Fprintf(out, "  source   %s\n", run.Source)
	}
	fmt.Fprintf(out, "  status   %s\n", statusStyle(run.Status).Render(string(run.Status)))
	fmt.Fprintf(out, "  started  %s\n", run.StartedAt.Local().Format(time.DateTime))
	if run.CompletedAt != nil {
		fmt.Fprintf(out, "  duration %s\n", run.Duration().Round(time.Millisecond))
	}
	fmt.Fprintln(out)

	if len(records) == 0 {
		fmt.Fprintln(out, styleDim.Render("No results"))
		return nil
	}

	t := newTable(
		column{Name: "QUERY"},
		column{Name: "DIR"},
		column{Name: "OUTCOME"},
		column{Name: "TARGET"},
		column{Name: "WITNESS", Right: true},
	)
	for _, rec := range records {
		r := rec.Result
		outcome := r.Outcome()
		witness := "-"
		if len(r.Witness) > 0 {
			witness = fmt.Sprint(len(r.Witness) - 1)
		}
		t.addRow(r.Query, string(r.Direction), outcomeStyle(outcome).Render(outcome), r.Target, witness)
	}
	fmt.Fprint(out, t.render())

	for _, rec := range records {
		if rec.Result.Error != nil {
			fmt.Fprintf(out, "\n%s %s: %s\n", styleError.Render("✗"), rec.Result.Query, rec.Result.Error.Error())
		}
	}
	return nil
}

// shortID abbreviates a uuid for tables; FindRun accepts the prefix.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pdreach/pkg/config"
	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/policy"
	"github.com/openfroyo/pdreach/pkg/telemetry"
)

type checkOptions struct {
	queries    []string
	witness    bool
	storePath  string
	policyDirs []string
	watch      bool
	yamlOutput bool
	parallel   int
	timeout    time.Duration
	maxWitness int
	vars       map[string]string
}

// checkOutput is the --json / --yaml document: the report plus the policy
// result, if policies ran.
type checkOutput struct {
	engine.Report `yaml:",inline"`
	Policy        *policy.Result `json:"policy,omitempty" yaml:"policy,omitempty"`
}

func newCheckCommand(a *app) *cobra.Command {
	var opts checkOptions

	cmd := &cobra.Command{
		Use:   "check <model>",
		Short: "Answer the queries of a model",
		Long: `Load a model and answer its reachability queries.

Each query is solved independently, in parallel. A query whose verdict
differs from its expectation, or that fails, makes the command exit 1.
When policy directories are given, their Rego policies and the built-in
policies are evaluated against the report; a blocking violation also
exits 1.`,
		Example: `  # Run every query of a model
  pdreach check calls.pds

  # Run two queries with witnesses
  pdreach check calls.yaml --query ret --query esc --witness

  # Record history and apply policies
  pdreach check calls.cue --store history.db --policy-dir ./policies

  # Re-run whenever the model or policies change
  pdreach check gen.star --var depth=8 --watch`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.watch {
				return a.watchCheck(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
			}
			return a.runCheck(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.queries, "query", "q", nil, "run only the named queries")
	cmd.Flags().BoolVarP(&opts.witness, "witness", "w", false, "compute witnesses for every reachable query")
	cmd.Flags().StringVar(&opts.storePath, "store", "", "record the run in this SQLite database")
	cmd.Flags().StringSliceVar(&opts.policyDirs, "policy-dir", nil, "evaluate the Rego policies in this directory")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "re-run when the model or policies change")
	cmd.Flags().BoolVar(&opts.yamlOutput, "yaml", false, "output in YAML format")
	cmd.Flags().IntVarP(&opts.parallel, "parallel", "p", 0, "maximum concurrent queries (default from settings or GOMAXPROCS)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "per-query timeout (default from settings)")
	cmd.Flags().IntVar(&opts.maxWitness, "max-witness", 0, "longest acceptable witness for policies")
	cmd.Flags().StringToStringVar(&opts.vars, "var", nil, "variables for Starlark models (key=value)")

	return cmd
}

// runCheck loads, solves, records and evaluates one model.
func (a *app) runCheck(ctx context.Context, out io.Writer, path string, opts checkOptions) error {
	logger := telemetry.FromContext(ctx)

	loader, err := config.NewLoader(config.WithVars(starlarkVars(opts.vars)))
	if err != nil {
		return engine.NewInternalError("failed to create model loader", err)
	}
	model, err := loader.Load(ctx, path)
	if err != nil {
		return err
	}

	queries, err := selectQueries(model, opts.queries)
	if err != nil {
		return err
	}
	if opts.witness {
		for i := range queries {
			queries[i].Witness = true
		}
	}

	batchOpts := []engine.BatchOption{
		engine.WithMaxParallel(firstPositive(opts.parallel, a.settings.MaxParallel)),
		engine.WithQueryTimeout(firstDuration(opts.timeout, a.settings.Timeout())),
		engine.WithSource(path),
	}

	store, err := a.openStore(ctx, opts.storePath)
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
		batchOpts = append(batchOpts, engine.WithRecorder(store))
	}

	solver := engine.NewSolver(model.PDA, engine.WithTelemetry(a.tel))
	report, err := engine.NewBatch(solver, batchOpts...).Run(ctx, queries)
	if report == nil {
		return err
	}
	if err != nil {
		logger.WithError(err).Warn("Run did not complete cleanly")
	}

	var policyResult *policy.Result
	if dirs := append(append([]string{}, a.settings.PolicyDirs...), opts.policyDirs...); len(dirs) > 0 {
		policyResult, err = a.evaluatePolicies(ctx, dirs, firstPositive(opts.maxWitness, a.settings.MaxWitness), report)
		if err != nil {
			return err
		}
	}

	output := checkOutput{Report: *report, Policy: policyResult}
	switch {
	case a.jsonOutput:
		if err := writeJSON(out, output); err != nil {
			return err
		}
	case opts.yamlOutput:
		if err := writeYAML(out, output); err != nil {
			return err
		}
	default:
		printReport(out, report, policyResult)
	}

	if ctx.Err() != nil {
		return engine.NewTimeoutError("check interrupted", ctx.Err())
	}
	if !report.Summary.OK() || (policyResult != nil && !policyResult.Allowed) {
		return &ExitError{Code: 1, Err: fmt.Errorf("check failed: %d mismatched, %d failed", report.Summary.Mismatched, report.Summary.Failed)}
	}
	return nil
}

func (a *app) evaluatePolicies(ctx context.Context, dirs []string, maxWitness int, report *engine.Report) (*policy.Result, error) {
	eng, err := a.policyEngine(ctx, dirs, maxWitness)
	if err != nil {
		return nil, err
	}
	return eng.Evaluate(ctx, report)
}

// selectQueries returns the model's queries, or the named ones in the
// order given.
func selectQueries(model *config.Model, names []string) ([]engine.Query, error) {
	if len(names) == 0 {
		if len(model.Queries) == 0 {
			return nil, engine.NewValidationError(fmt.Sprintf("model %s has no queries", model.Spec.Name), nil)
		}
		return append([]engine.Query(nil), model.Queries...), nil
	}

	queries := make([]engine.Query, 0, len(names))
	for _, name := range names {
		q, ok := model.Query(name)
		if !ok {
			return nil, engine.NewValidationError(fmt.Sprintf("unknown query %q", name), nil).WithCode(engine.ErrCodeNotFound)
		}
		queries = append(queries, q)
	}
	return queries, nil
}

func printReport(out io.Writer, report *engine.Report, pr *policy.Result) {
	fmt.Fprintf(out, "%s %s  %s\n\n", styleBold.Render("Model"), report.Model, styleDim.Render("run "+report.RunID))

	t := newTable(
		column{Name: "QUERY"},
		column{Name: "DIR"},
		column{Name: "OUTCOME"},
		column{Name: "EXPECT"},
		column{Name: "TARGET"},
		column{Name: "TIME", Right: true},
	)
	for _, r := range report.Results {
		outcome := r.Outcome()
		expect := string(r.Expect)
		if expect == "" {
			expect = "-"
		}
		target := r.Target
		if r.Skipped != "" {
			target += " " + styleDim.Render("(prefiltered)")
		}
		t.addRow(r.Query, string(r.Direction), outcomeStyle(outcome).Render(outcome), expect, target,
			styleDim.Render(r.Duration.Round(time.Microsecond).String()))
	}
	fmt.Fprint(out, t.render())

	for _, r := range report.Results {
		if r.Error != nil {
			fmt.Fprintf(out, "\n%s %s: %s\n", styleError.Render("✗"), r.Query, r.Error.Error())
		}
		if len(r.Witness) > 0 {
			fmt.Fprintf(out, "\n%s %s\n", styleInfo.Render("witness"), r.Query)
			for i, step := range r.Witness {
				line := fmt.Sprintf("<%s, [%s]>", step.State, strings.Join(step.Stack, " "))
				if step.Rule != "" {
					line += "  " + styleDim.Render("via "+step.Rule)
				}
				fmt.Fprintf(out, "  %2d. %s\n", i, line)
			}
		}
	}

	s := report.Summary
	summary := fmt.Sprintf("%d queries: %d reachable, %d unreachable, %d mismatched, %d failed",
		s.Total, s.Reachable, s.Unreachable, s.Mismatched, s.Failed)
	if s.OK() {
		summary = styleSuccess.Render("✓ ") + summary
	} else {
		summary = styleError.Render("✗ ") + summary
	}
	fmt.Fprintf(out, "\n%s %s\n", summary, styleDim.Render("in "+report.Duration.Round(time.Millisecond).String()))

	if pr != nil {
		printPolicyResult(out, pr)
	}
}

func printPolicyResult(out io.Writer, pr *policy.Result) {
	fmt.Fprintf(out, "\n%s %d policies\n", styleBold.Render("Policies"), len(pr.EvaluatedPolicies))
	for _, v := range pr.Violations {
		query := ""
		if v.Query != "" {
			query = v.Query + ": "
		}
		fmt.Fprintf(out, "  %s %s %s%s\n", severityStyle(v.Severity).Render(string(v.Severity)), v.Policy, query, v.Message)
	}
	for _, w := range pr.Warnings {
		fmt.Fprintf(out, "  %s %s\n", styleWarning.Render("warning"), w)
	}
	if len(pr.Violations) == 0 {
		fmt.Fprintf(out, "  %s no violations\n", styleSuccess.Render("✓"))
	}
}

func starlarkVars(vars map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(vars))
	for k, v := range vars {
		out[k] = parseScalar(v)
	}
	return out
}

// parseScalar turns flag values into ints or bools where they look like
// one, so Starlark scripts can do arithmetic on them.
func parseScalar(s string) interface{} {
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

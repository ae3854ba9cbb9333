package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/policy"
)

func newPolicyCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and test report policies",
		Long: `Policies are Rego modules evaluated against check reports. Each policy
defines a deny set; every element is a violation. Policy files (.rego or
.json) are read from directories given with --policy-dir or listed under
policy_dirs in ` + "pdreach.toml" + `.`,
	}

	cmd.AddCommand(newPolicyListCommand(a))
	cmd.AddCommand(newPolicyTestCommand(a))
	return cmd
}

func newPolicyListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list [dir...]",
		Short: "List built-in and loaded policies",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.policyEngine(cmd.Context(), args, 0)
			if err != nil {
				return err
			}
			policies := eng.ListPolicies()

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				return writeJSON(out, policies)
			}

			t := newTable(
				column{Name: "NAME"},
				column{Name: "SEVERITY"},
				column{Name: "SOURCE"},
				column{Name: "DESCRIPTION"},
			)
			for _, p := range policies {
				source := p.Source
				if p.Builtin {
					source = styleDim.Render("built-in")
				}
				name := p.Name
				if !p.Enabled {
					name = styleDim.Render(name + " (disabled)")
				}
				t.addRow(name, severityStyle(p.Severity).Render(string(p.Severity)), source, p.Description)
			}
			fmt.Fprint(out, t.render())
			return nil
		},
	}
}

func newPolicyTestCommand(a *app) *cobra.Command {
	var maxWitness int

	cmd := &cobra.Command{
		Use:   "test <dir> <report.json>",
		Short: "Evaluate policies against a saved report",
		Long: `Evaluate the built-in policies and those in dir against a report
written by check --json. Exits 1 when a blocking violation is found.`,
		Example: `  pdreach check calls.pds --json > report.json
  pdreach policy test ./policies report.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			data, err := os.ReadFile(args[1])
			if err != nil {
				return engine.NewValidationError(fmt.Sprintf("failed to read report %s", args[1]), err)
			}
			var report engine.Report
			if err := json.Unmarshal(data, &report); err != nil {
				return engine.NewValidationError(fmt.Sprintf("failed to parse report %s", args[1]), err)
			}

			eng, err := a.policyEngine(ctx, args[:1], firstPositive(maxWitness, a.settings.MaxWitness))
			if err != nil {
				return err
			}
			res, err := eng.Evaluate(ctx, &report)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOutput {
				if err := writeJSON(out, res); err != nil {
					return err
				}
			} else {
				printPolicyResult(out, res)
			}

			if !res.Allowed {
				blocking := make([]string, 0, len(res.Violations))
				for _, v := range res.Violations {
					if v.Severity.Blocking() {
						blocking = append(blocking, v.Policy)
					}
				}
				return &ExitError{Code: 1, Err: fmt.Errorf("blocked by %s", strings.Join(blocking, ", "))}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxWitness, "max-witness", 0, "longest acceptable witness")
	return cmd
}

// policyEngine builds an engine with the built-ins plus the policies in dirs.
func (a *app) policyEngine(ctx context.Context, dirs []string, maxWitness int) (*policy.Engine, error) {
	eng, err := policy.NewEngine(
		policy.WithTelemetry(a.tel),
		policy.WithLimits(policy.Limits{MaxWitness: maxWitness}),
	)
	if err != nil {
		return nil, err
	}
	if len(dirs) > 0 {
		if err := eng.LoadPolicies(ctx, dirs); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/pdreach/pkg/config"
	"github.com/openfroyo/pdreach/pkg/engine"
	"github.com/openfroyo/pdreach/pkg/stores"
	"github.com/openfroyo/pdreach/pkg/telemetry"
)

// app holds what the persistent pre-run sets up for every command.
type app struct {
	// Global flags
	configPath  string
	verbose     bool
	jsonOutput  bool
	metricsAddr string

	version   string
	commit    string
	buildDate string

	settings *config.Settings
	tel      *telemetry.Telemetry
}

// ExitError carries a process exit code for outcomes that are not
// failures of the tool itself, such as a check with mismatched queries.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit code: 0 on success, 2
// for invalid input, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	if engine.IsUserError(err) {
		return 2
	}
	return 1
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd, a := newRootCommand(version, commit, buildDate)
	err := rootCmd.ExecuteContext(ctx)
	// Post-run hooks are skipped when a command fails.
	if shutdownErr := a.shutdown(); err == nil {
		err = shutdownErr
	}
	return err
}

// NewRootCommand builds the pdreach command tree.
func NewRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd, _ := newRootCommand(version, commit, buildDate)
	return rootCmd
}

func newRootCommand(version, commit, buildDate string) (*cobra.Command, *app) {
	a := &app{version: version, commit: commit, buildDate: buildDate}

	rootCmd := &cobra.Command{
		Use:   "pdreach",
		Short: "pdreach - pushdown system reachability",
		Long: `pdreach answers reachability questions about pushdown systems: finite
control states plus an unbounded stack, the usual model of programs with
recursive calls.

A model declares states, stack labels and rules; queries ask whether one
configuration can reach another. Each query is answered by saturating a
P-automaton with pre* (backward) or post* (forward), and reachable queries
can produce a witness execution.

Features:
  - Models in YAML, CUE, Starlark or the .pds text format
  - Witness executions reconstructed from saturation provenance
  - Graphviz output of saturated automata
  - Run history in SQLite
  - Rego policies over reports`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.shutdown()
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "settings file path (default "+config.SettingsFile+")")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return engine.NewValidationError(err.Error(), err)
	})

	rootCmd.AddCommand(newCheckCommand(a))
	rootCmd.AddCommand(newDotCommand(a))
	rootCmd.AddCommand(newValidateCommand(a))
	rootCmd.AddCommand(newHistoryCommand(a))
	rootCmd.AddCommand(newPolicyCommand(a))
	rootCmd.AddCommand(newVersionCommand(a))

	return rootCmd, a
}

// setup loads settings and starts telemetry.
func (a *app) setup(cmd *cobra.Command) error {
	settings, err := config.LoadSettings(a.configPath)
	if err != nil {
		return engine.NewValidationError("failed to load settings", err)
	}

	tcfg := settings.Telemetry
	if tcfg == nil {
		tcfg = telemetry.DefaultConfig()
	}
	tcfg.ServiceVersion = a.version
	if a.verbose {
		tcfg.Logging.Level = "debug"
	}
	if a.metricsAddr != "" {
		tcfg.Metrics.Enabled = true
		tcfg.Metrics.ListenAddress = a.metricsAddr
	}

	tel, err := telemetry.NewTelemetry(tcfg)
	if err != nil {
		return engine.NewValidationError("invalid telemetry settings", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return engine.NewInternalError("failed to start metrics server", err)
	}

	a.settings = settings
	a.tel = tel
	cmd.SetContext(tel.WithContext(cmd.Context()))
	return nil
}

func (a *app) shutdown() error {
	if a.tel == nil {
		return nil
	}
	tel := a.tel
	a.tel = nil
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return tel.Shutdown(ctx)
}

// openStore opens the run history at path, or the configured database
// when path is empty. It returns nil when neither is set.
func (a *app) openStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	if path == "" {
		path = a.settings.Database
	}
	if path == "" {
		return nil, nil
	}
	return stores.Open(ctx, stores.Config{Path: path, LockTimeout: 5 * time.Second})
}

// requireStore is openStore for commands that cannot work without history.
func (a *app) requireStore(ctx context.Context, path string) (*stores.SQLiteStore, error) {
	store, err := a.openStore(ctx, path)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, engine.NewValidationError("no run history database: pass --store or set database in "+config.SettingsFile, nil)
	}
	return store, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

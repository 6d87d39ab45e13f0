package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/FranciscoCL13/carga-masiva/pkg/config"
	"github.com/FranciscoCL13/carga-masiva/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Exit codes.
const (
	ExitFailure    = 1
	ExitInputError = 2
)

// ExitError ends the process with Code. Err, when set, is logged first.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "carga",
		Short: "carga - bulk process-engine task driver",
		Long: `carga turns workbook rows into KIE process instances and drives each
instance's human tasks through claim, start and complete.

Features:
  - Row, sheet and stage workbook layouts
  - Bounded task discovery with node and owner selectors
  - Per-unit, per-stage batch reports
  - Rego admission policies with hot reload
  - Optional SQLite journal of every batch`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newLoadCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}

// loadConfig reads the configuration file and environment, applying the
// dot-path overrides.
func loadConfig(overrides map[string]string) (*config.Config, error) {
	cfg, err := config.NewLoader().
		WithConfigPath(configPath).
		WithCmdArgs(overrides).
		Load()
	if err != nil {
		return nil, &ExitError{Code: ExitInputError, Err: err}
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	return cfg, nil
}

// newTelemetry builds telemetry for a command. One-shot commands print to
// stdout, so their stdout logging moves to stderr and metrics are off.
func newTelemetry(cfg *config.Config, oneShot bool) (*telemetry.Telemetry, error) {
	tcfg := cfg.Telemetry
	if oneShot {
		if tcfg.Logging.Output == "" || tcfg.Logging.Output == "stdout" {
			tcfg.Logging.Output = "stderr"
		}
		tcfg.Metrics.Enabled = false
	}
	return telemetry.NewTelemetry(&tcfg)
}

// shutdownTelemetry flushes traces and closes the log output.
func shutdownTelemetry(tel *telemetry.Telemetry) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := tel.Shutdown(ctx); err != nil {
		zl := tel.Logger.Zerolog()
		zl.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}

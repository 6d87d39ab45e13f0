package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/FranciscoCL13/carga-masiva/pkg/batch"
)

func newValidateCommand() *cobra.Command {
	var layout string

	cmd := &cobra.Command{
		Use:   "validate <workbook.xlsx>",
		Short: "Check a workbook without calling the engine",
		Long: `Validate a workbook the way an upload is checked before it runs.

This command checks:
  - The workbook is readable and its headers are unique
  - The configured layout builds at least one unit
  - The row transform succeeds on every record
  - No admission policy denies a unit

The process engine is never contacted.`,
		Example: `  # Validate against the configured layout and policies
  carga validate -c carga.yaml carga.xlsx

  # Show the units that would be run
  carga validate -c carga.yaml --json carga.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]string{}
			if layout != "" {
				overrides["batch.layout"] = layout
			}

			cfg, err := loadConfig(overrides)
			if err != nil {
				return err
			}

			tel, err := newTelemetry(cfg, true)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)

			f, err := os.Open(args[0])
			if err != nil {
				return &ExitError{Code: ExitInputError, Err: err}
			}
			defer func() { _ = f.Close() }()

			// Rejections are not journaled from here.
			cfg.Journal.Enabled = false

			ctx := cmd.Context()
			rt, err := batch.Setup(ctx, cfg, tel, batch.SetupOptions{Offline: true})
			if err != nil {
				return &ExitError{Code: ExitInputError, Err: err}
			}
			defer func() { _ = rt.Close() }()

			prepared, err := rt.Service.Prepare(ctx, f, filepath.Base(args[0]))
			if err != nil {
				return &ExitError{Code: ExitInputError, Err: err}
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return printJSON(out, prepared)
			}

			stages := 0
			for _, u := range prepared.Units {
				stages += len(u.Stages)
			}
			fmt.Fprintf(out, "%s: %d units, %d stages\n", prepared.Source, len(prepared.Units), stages)
			for _, v := range prepared.Warnings {
				fmt.Fprintf(out, "warning: %s: %s (%s)\n", v.Label, v.Message, v.Policy)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&layout, "layout", "", "rows, sheets or stages (overrides batch.layout)")

	return cmd
}

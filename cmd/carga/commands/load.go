package commands

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/FranciscoCL13/carga-masiva/pkg/batch"
	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

func newLoadCommand() *cobra.Command {
	var (
		concurrency int
		layout      string
	)

	cmd := &cobra.Command{
		Use:   "load <workbook.xlsx>",
		Short: "Run a workbook against the process engine",
		Long: `Run every unit of a workbook and print the batch report.

Exit status:
  0  every unit and stage completed
  1  some unit or stage failed
  2  the workbook, configuration or policies rejected the batch`,
		Example: `  # Run a workbook with four units in flight
  carga load -c carga.yaml --concurrency 4 carga.xlsx

  # Machine-readable report
  carga load -c carga.yaml --json carga.xlsx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := map[string]string{}
			if concurrency > 0 {
				overrides["batch.concurrency"] = strconv.Itoa(concurrency)
			}
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

			ctx := cmd.Context()
			rt, err := batch.Setup(ctx, cfg, tel, batch.SetupOptions{})
			if err != nil {
				return &ExitError{Code: ExitInputError, Err: err}
			}
			defer func() { _ = rt.Close() }()

			result, err := rt.Service.Run(ctx, f, filepath.Base(args[0]))
			if err != nil {
				if engine.IsInput(err) {
					return &ExitError{Code: ExitInputError, Err: err}
				}
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				err = printJSON(out, result)
			} else {
				err = printReport(out, result.Report, result.Warnings)
			}
			if err != nil {
				return err
			}

			if result.Report.Summary.Status != engine.BatchStatusSucceeded {
				return &ExitError{Code: ExitFailure}
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "units in flight (overrides batch.concurrency)")
	cmd.Flags().StringVar(&layout, "layout", "", "rows, sheets or stages (overrides batch.layout)")

	return cmd
}

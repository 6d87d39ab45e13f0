package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranciscoCL13/carga-masiva/pkg/batch"
	"github.com/FranciscoCL13/carga-masiva/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit  int
		offset int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "Show journaled batches",
		Long: `List the batches recorded in the journal, newest first, or print the
full report of one batch. With --events, list journal events instead, such
as rejected uploads.`,
		Example: `  # Recent batches
  carga history -c carga.yaml

  # One batch report
  carga history -c carga.yaml 7f9c2ba4-e88f-4e2a-9d0e-3c5f0c8b1a2d

  # Rejected uploads
  carga history -c carga.yaml --events`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(nil)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			journal, err := batch.OpenJournal(ctx, cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer func() { _ = journal.Close() }()

			out := cmd.OutOrStdout()

			switch {
			case events:
				var batchID *string
				if len(args) == 1 {
					batchID = &args[0]
				}
				list, err := journal.GetEvents(ctx, batchID, nil, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, list)
				}
				return printEvents(out, list)

			case len(args) == 1:
				report, err := journal.GetReport(ctx, args[0])
				if errors.Is(err, stores.ErrNotFound) {
					return &ExitError{Code: ExitFailure, Err: fmt.Errorf("batch %s not found", args[0])}
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, report)
				}
				return printReport(out, report, nil)

			default:
				list, err := journal.ListBatches(ctx, limit, offset)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(out, list)
				}
				return printBatches(out, list)
			}
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	cmd.Flags().BoolVar(&events, "events", false, "list journal events instead of batches")

	return cmd
}

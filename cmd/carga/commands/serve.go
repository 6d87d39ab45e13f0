package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/FranciscoCL13/carga-masiva/pkg/batch"
	"github.com/FranciscoCL13/carga-masiva/pkg/server"
)

const shutdownGrace = 10 * time.Second

func newServeCommand() *cobra.Command {
	var (
		address string
		watch   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload endpoint",
		Long: `Start the HTTP server. Workbooks posted to /cargar_excel (or
/api/v1/batches) in the multipart "file" field are run and answered with
their batch report.

Also served:
  - /health and /ready
  - /metrics (Prometheus)
  - /api/v1/batches and /api/v1/events when the journal is enabled`,
		Example: `  # Serve with a config file
  carga serve -c carga.yaml

  # Override the listen address and reload policies on change
  carga serve -c carga.yaml --address :8080 --watch-policies`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			overrides := map[string]string{}
			if address != "" {
				overrides["server.address"] = address
			}
			if watch {
				overrides["policy.watch"] = "true"
			}

			cfg, err := loadConfig(overrides)
			if err != nil {
				return err
			}

			tel, err := newTelemetry(cfg, false)
			if err != nil {
				return err
			}
			defer shutdownTelemetry(tel)
			logger := tel.Logger.Zerolog()

			ctx := cmd.Context()
			rt, err := batch.Setup(ctx, cfg, tel, batch.SetupOptions{})
			if err != nil {
				return &ExitError{Code: ExitInputError, Err: err}
			}
			defer func() {
				if err := rt.Close(); err != nil {
					logger.Warn().Err(err).Msg("Failed to release resources")
				}
			}()

			srv := server.New(rt.Service, cfg.Server, tel, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			if cfg.Policy.Enabled && cfg.Policy.Watch {
				g.Go(func() error {
					err := rt.WatchPolicies(gctx, cfg.Policy.Paths)
					if err != nil && gctx.Err() == nil {
						return err
					}
					return nil
				})
			}

			logger.Info().
				Str("address", cfg.Server.Address).
				Str("engine", cfg.Engine.BaseURL).
				Bool("policies", cfg.Policy.Enabled).
				Bool("journal", cfg.Journal.Enabled).
				Msg("Serving uploads")

			if err := g.Wait(); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "listen address (overrides server.address)")
	cmd.Flags().BoolVar(&watch, "watch-policies", false, "reload policy files when they change")

	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"example.com/territory/internal/app"
	"example.com/territory/internal/config"
	"example.com/territory/internal/outbox"
)

func loadPostgresConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	cfg.StoreDriver = config.StorePostgres
	return cfg, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}
			pool, err := app.OpenPostgres(cmd.Context(), cfg.PostgresURL)
			if err != nil {
				return err
			}
			pool.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <run-id>",
		Short: "Recompute and store the captured loop of a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}
			stores, err := app.OpenStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			loop, err := app.NewTerritoryService(cfg, stores).AnalyzeRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if loop == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s closes no loop\n", args[0])
				return nil
			}
			return printJSON(cmd.OutOrStdout(), LoopResult{
				CycleKey:      loop.CycleKey,
				StartIndex:    loop.StartIndex,
				EndIndex:      loop.EndIndex,
				BoundaryCells: loop.Boundary,
				EnclosedCells: loop.Enclosed,
			})
		},
	}
}

func newDLQCmd() *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and redrive dead-lettered outbox events",
	}

	var (
		batch int
		watch bool
	)
	redrive := &cobra.Command{
		Use:   "redrive",
		Short: "Requeue due dead-lettered events into the outbox",
		Long: `Requeues due entries from outbox_dlq. Entries that exhausted DLQ_MAX_RETRIES are
quarantined instead. With --watch the pass repeats every DLQ_POLL_INTERVAL until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadPostgresConfig()
			if err != nil {
				return err
			}
			pool, err := app.OpenPostgres(cmd.Context(), cfg.PostgresURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			manager := outbox.NewDLQManager(pool, cfg.DLQMaxRetries, cfg.DLQBaseDelay)
			if watch {
				err := manager.Run(cmd.Context(), cfg.DLQPollInterval, batch)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			requeued, err := manager.RunOnce(cmd.Context(), batch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d events\n", requeued)
			return nil
		},
	}
	redrive.Flags().IntVar(&batch, "batch", 50, "entries per pass")
	redrive.Flags().BoolVar(&watch, "watch", false, "keep redriving until interrupted")
	dlq.AddCommand(redrive)
	return dlq
}

package main

import (
	"context"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/typelark/fontdex/config"
	"github.com/typelark/fontdex/internal/catalog"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/internal/store"
	"github.com/typelark/fontdex/internal/worker"
)

func seedCMD() *cobra.Command {
	var cfgPath string
	var limit int
	var cmd = &cobra.Command{
		Use:   "seed",
		Short: "Enqueue enrichment jobs for catalog fonts missing locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx := context.Background()
			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}

			logger := log.New(os.Stdout, "[SEED] ", log.LstdFlags)
			if limit <= 0 {
				limit = cfg.Seed.Limit
			}
			backfill := &worker.Backfill{
				Catalog: catalog.NewClient(cfg.Seed.WebfontsAPIKey, cfg.General.DefaultTimeout),
				Store:   st,
				Queue:   queue.New(st.DB, cfg.Queue.BackoffBase),
				Logger:  logger,
				Limit:   limit,
			}

			enqueued, err := backfill.RunOnce(ctx)
			if err != nil {
				return err
			}
			logger.Printf("enqueued %d enrichment jobs", enqueued)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "max catalog families to consider (0 = config default)")
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/typelark/fontdex/config"
	"github.com/typelark/fontdex/internal/catalog"
	"github.com/typelark/fontdex/internal/embedding"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/internal/store"
	"github.com/typelark/fontdex/internal/worker"
	"github.com/typelark/fontdex/provider"
)

func workerCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "worker",
		Short: "Run enrichment worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{
				Addr:     cfg.Storage.Redis.Addr,
				Password: cfg.Storage.Redis.Password,
				DB:       cfg.Storage.Redis.DB,
			})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return err
			}
			defer func() { _ = rdb.Close() }()

			llm, err := provider.NewProvider(provider.Gemini, cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.Model, cfg.Providers.Gemini.Timeout)
			if err != nil {
				return err
			}

			embedder := embedding.NewChain(
				embedding.NewMultimodalClient(cfg.Embedding.MultimodalEndpoint, cfg.Embedding.MultimodalAPIKey, cfg.Embedding.Timeout),
				embedding.NewTextClient(cfg.Embedding.TextBaseURL, cfg.Embedding.TextAPIKey, cfg.Embedding.TextModel, cfg.Embedding.Timeout),
			)

			q := queue.New(st.DB, cfg.Queue.BackoffBase)
			logger := log.New(os.Stdout, "[WORKER] ", log.LstdFlags)

			monitor := &worker.Monitor{
				Queue:      q,
				Logger:     logger,
				Interval:   time.Minute,
				StallAfter: cfg.Queue.StallAfter,
				Stop:       make(chan struct{}),
			}
			monitor.Start()
			defer close(monitor.Stop)

			backfill := &worker.Backfill{
				Catalog:  catalog.NewClient(cfg.Seed.WebfontsAPIKey, cfg.General.DefaultTimeout),
				Store:    st,
				Queue:    q,
				Rdb:      rdb,
				Logger:   logger,
				Schedule: cfg.Seed.Schedule,
				Limit:    cfg.Seed.Limit,
				Stop:     make(chan struct{}),
			}
			if cfg.Seed.WebfontsAPIKey != "" {
				backfill.Start()
				defer close(backfill.Stop)
			}

			w := worker.NewWorker(q, st, llm, embedder, logger, cfg.Queue.WorkerEnabled)
			w.PollInterval = cfg.Queue.PollInterval

			if err := w.Run(ctx); err != nil && err != context.Canceled {
				return err
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/typelark/fontdex/config"
	"github.com/typelark/fontdex/internal/queue"
	"github.com/typelark/fontdex/internal/store"
)

func queueCMD() *cobra.Command {
	var cfgPath string
	var cmd = &cobra.Command{
		Use:   "queue",
		Short: "Show enrichment queue health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx := context.Background()
			st, err := store.New(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			q := queue.New(st.DB, cfg.Queue.BackoffBase)

			counts, err := q.StatusCounts(ctx)
			if err != nil {
				return err
			}
			stalled, err := q.Stalled(ctx, cfg.Queue.StallAfter)
			if err != nil {
				return err
			}
			failures, err := q.RecentFailures(ctx, 5)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "pending\t%d\n", counts[queue.StatusPending])
			fmt.Fprintf(w, "processing\t%d\n", counts[queue.StatusProcessing])
			fmt.Fprintf(w, "completed\t%d\n", counts[queue.StatusCompleted])
			fmt.Fprintf(w, "failed\t%d\n", counts[queue.StatusFailed])
			w.Flush()

			if len(stalled) > 0 {
				fmt.Printf("\nstuck (claimed > %s ago):\n", cfg.Queue.StallAfter)
				for _, job := range stalled {
					fmt.Printf("  %s %s worker=%s claimed=%s\n", job.ID, job.FontName, job.WorkerID, job.ClaimedAt)
				}
			}
			if len(failures) > 0 {
				fmt.Println("\nrecent failures:")
				for _, job := range failures {
					fmt.Printf("  %s %s attempts=%d error=%s\n", job.ID, job.FontName, job.Attempts, job.LastError)
				}
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/toolink/groundchat/lifecycle"
	"github.com/toolink/groundchat/redlock"
	"github.com/toolink/groundchat/reporting"
	"github.com/toolink/groundchat/worker"
)

// pruneLockTTL outlasts any realistic prune of one retention window.
const pruneLockTTL = 10 * time.Minute

var (
	consumeConcurrency int
	statsSession       string
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Consume, prune and summarise recorded interactions",
}

var reportConsumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Move queued interactions into the warehouse and prune on schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		rdb, err := connectRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		wh, err := reporting.OpenWarehouse(ctx, cfg.Reporting.Database)
		if err != nil {
			return err
		}
		defer wh.Close()

		lock := redlock.NewLocker(rdb, cfg.Reporting.Topic+":prune-lock", pruneLockTTL)
		pruner, err := reporting.NewPruner(wh, cfg.Reporting.Retention, cfg.Reporting.PruneSchedule, reporting.WithLock(lock))
		if err != nil {
			return err
		}

		cm := worker.NewConsumerManager(rdb)
		consumer := lifecycle.Hooks{
			ID: "reporting-consumer",
			OnStart: func(context.Context) error {
				sub, err := reporting.Consume(cm, cfg.Reporting.Topic, wh, worker.WithConcurrency(consumeConcurrency))
				if err != nil {
					return err
				}
				log.Info().Str("topic", sub.Topic()).Int("concurrency", consumeConcurrency).Msg("consuming interactions")
				return nil
			},
			OnStop: cm.Shutdown,
		}

		mgr := lifecycle.NewManager()
		for _, c := range []lifecycle.Component{consumer, pruner} {
			if err := mgr.Register(c); err != nil {
				return err
			}
		}
		return runUntilSignal(ctx, mgr, cfg.Server.ShutdownTimeout)
	},
}

var reportPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete interactions older than reporting.retention now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := reporting.OpenWarehouse(cmd.Context(), cfg.Reporting.Database)
		if err != nil {
			return err
		}
		defer wh.Close()

		pruner, err := reporting.NewPruner(wh, cfg.Reporting.Retention, cfg.Reporting.PruneSchedule)
		if err != nil {
			return err
		}
		deleted, err := pruner.PruneNow(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %d interactions\n", deleted)
		return nil
	},
}

var reportReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Requeue interactions that previously failed to store",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rdb, err := connectRedis(cmd.Context(), cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		moved, err := worker.Replay(cmd.Context(), rdb, reporting.FailedTopic(cfg.Reporting.Topic), cfg.Reporting.Topic)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %d interactions\n", moved)
		return nil
	},
}

var reportStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarise the warehouse by month, or list one session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wh, err := reporting.OpenWarehouse(cmd.Context(), cfg.Reporting.Database)
		if err != nil {
			return err
		}
		defer wh.Close()

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)

		if statsSession != "" {
			interactions, err := wh.Session(cmd.Context(), statsSession)
			if err != nil {
				return err
			}
			t.AppendHeader(table.Row{"Time", "Prompt", "Response", "Image"})
			for _, in := range interactions {
				image := "-"
				if in.Image != nil {
					image = in.Image.Src
				}
				t.AppendRow(table.Row{in.Timestamp.UTC().Format(time.RFC3339), truncate(in.Prompt, 40), truncate(in.Response, 60), image})
			}
			t.AppendFooter(table.Row{"", "", fmt.Sprintf("%d interactions", len(interactions)), ""})
			t.Render()
			return nil
		}

		summary, err := wh.Summary(cmd.Context())
		if err != nil {
			return err
		}
		t.AppendHeader(table.Row{"Month", "Interactions", "Sessions"})
		var total int64
		for _, m := range summary {
			t.AppendRow(table.Row{m.Month, m.Interactions, m.Sessions})
			total += m.Interactions
		}
		t.AppendFooter(table.Row{"Total", total, ""})
		t.Render()
		return nil
	},
}

func init() {
	reportConsumeCmd.Flags().IntVar(&consumeConcurrency, "concurrency", 2, "number of concurrent warehouse writers")
	reportStatsCmd.Flags().StringVar(&statsSession, "session", "", "list the interactions of one session")

	reportCmd.AddCommand(reportConsumeCmd)
	reportCmd.AddCommand(reportPruneCmd)
	reportCmd.AddCommand(reportReplayCmd)
	reportCmd.AddCommand(reportStatsCmd)
	rootCmd.AddCommand(reportCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

package cmd

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/toolink/groundchat/limiter"
)

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Inspect and reset rate limit windows",
}

var rateLimitCheckCmd = &cobra.Command{
	Use:   "check [key...]",
	Short: "Show current usage of configured rate limit rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		rl, closeFn, err := openLimiter(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		keys := args
		if len(keys) == 0 {
			for _, rule := range rl.Rules() {
				keys = append(keys, rule.Key)
			}
		}
		if len(keys) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "(no rate limit rules configured)")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(cmd.OutOrStdout())
		t.SetStyle(table.StyleRounded)
		t.AppendHeader(table.Row{"Key", "Max", "Period", "Used", "Remaining"})
		for _, key := range keys {
			usage, err := rl.Usage(cmd.Context(), key)
			if err != nil {
				t.AppendRow(table.Row{key, "-", "-", "-", err.Error()})
				continue
			}
			t.AppendRow(table.Row{
				key,
				usage.Window.MaxRequests,
				usage.Window.Period.String(),
				usage.Count,
				usage.Remaining(),
			})
		}
		t.Render()
		return nil
	},
}

var rateLimitResetCmd = &cobra.Command{
	Use:   "reset <key>...",
	Short: "Clear the recorded attempts for one or more keys",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rl, closeFn, err := openLimiter(cmd)
		if err != nil {
			return err
		}
		defer closeFn()

		for _, key := range args {
			if err := rl.Reset(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", key)
		}
		return nil
	},
}

func init() {
	rateLimitCmd.AddCommand(rateLimitCheckCmd)
	rateLimitCmd.AddCommand(rateLimitResetCmd)
	rootCmd.AddCommand(rateLimitCmd)
}

// openLimiter builds a limiter over the configured store. Against the memory
// store it only ever sees this process's attempts.
func openLimiter(cmd *cobra.Command) (*limiter.RateLimiter, func(), error) {
	var rdb *redis.Client
	if cfg.RateLimit.StorageType == limiter.StorageRedis {
		var err error
		if rdb, err = connectRedis(cmd.Context(), cfg.Redis); err != nil {
			return nil, nil, err
		}
	}
	closeFn := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	rl, err := newLimiter(cfg, rdb, nil)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return rl, closeFn, nil
}

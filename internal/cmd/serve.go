package cmd

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/toolink/groundchat/config"
	"github.com/toolink/groundchat/generate"
	"github.com/toolink/groundchat/lifecycle"
	"github.com/toolink/groundchat/limiter"
	"github.com/toolink/groundchat/reporting"
	"github.com/toolink/groundchat/server"
	"github.com/toolink/groundchat/worker"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API with graceful shutdown on SIGINT or SIGTERM.

Rate limit rules are reloaded when the --config file changes.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		var rdb *redis.Client
		if needsRedis(cfg) {
			var err error
			if rdb, err = connectRedis(ctx, cfg.Redis); err != nil {
				return err
			}
			defer rdb.Close()
		}

		rl, err := newLimiter(cfg, rdb, reg)
		if err != nil {
			return err
		}
		annotator, err := newAnnotator(cfg)
		if err != nil {
			return err
		}

		deps := server.Deps{Limiter: rl, Annotator: annotator, Registry: reg}
		if strategies := newStrategies(cfg); len(strategies) > 0 {
			opts := imageOptions(cfg, rl)
			if cfg.Reporting.Enabled {
				reporter := reporting.NewReporter(worker.NewPublisher(rdb), cfg.Reporting.Topic)
				opts = append(opts, generate.WithRecorder(reporter))
			}
			chain := generate.NewChain(strategies, generate.WithChecker(rl))
			deps.Pipeline = generate.NewPipeline(chain, annotator, opts...)
			log.Info().Strs("strategies", chain.Names()).Msg("chat pipeline enabled")
		} else {
			log.Warn().Msg("no generation endpoints configured, /v1/chat disabled")
		}

		mgr := lifecycle.NewManager()
		if err := mgr.Register(server.New(cfg.Server.Addr, deps)); err != nil {
			return err
		}
		if cfgFile != "" {
			if err := mgr.Register(configWatcher(cfgFile, rl)); err != nil {
				return err
			}
		}

		return runUntilSignal(ctx, mgr, cfg.Server.ShutdownTimeout)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

// configWatcher applies reloaded rate limit rules and log level.
func configWatcher(path string, rl *limiter.RateLimiter) lifecycle.Component {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	return lifecycle.Hooks{
		ID: "config-watcher",
		OnStart: func(context.Context) error {
			var watchCtx context.Context
			watchCtx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := config.Watch(watchCtx, path, func(next *config.Config) {
					if err := rl.UpdateConfig(&next.RateLimit); err != nil {
						log.Error().Err(err).Msg("rejected reloaded rate limit rules")
					}
					if level, err := zerolog.ParseLevel(next.Log.Level); err == nil {
						zerolog.SetGlobalLevel(level)
					}
				})
				if err != nil {
					log.Error().Err(err).Msg("config watcher exited")
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			wg.Wait()
			return nil
		},
	}
}

// runUntilSignal starts mgr, waits for SIGINT or SIGTERM and stops it
// within timeout.
func runUntilSignal(ctx context.Context, mgr *lifecycle.Manager, timeout time.Duration) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Start(sigCtx); err != nil {
		return err
	}
	<-sigCtx.Done()
	log.Info().Msg("shutdown signal received")

	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return mgr.Stop(shutdownCtx)
}

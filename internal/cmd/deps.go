package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/citation"
	"github.com/toolink/groundchat/config"
	"github.com/toolink/groundchat/generate"
	"github.com/toolink/groundchat/imagesearch"
	"github.com/toolink/groundchat/limiter"
)

// connectRedis opens a client and verifies it answers PING.
func connectRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", rc.Addr, err)
	}
	log.Info().Str("addr", rc.Addr).Int("db", rc.DB).Msg("connected to redis")
	return rdb, nil
}

// newStore returns the counter store selected by ratelimit.storage_type.
// rdb may be nil for the memory store.
func newStore(c *config.Config, rdb *redis.Client) (limiter.Store, error) {
	switch c.RateLimit.StorageType {
	case limiter.StorageRedis:
		if rdb == nil {
			return nil, fmt.Errorf("storage_type %q needs a redis connection", limiter.StorageRedis)
		}
		return limiter.NewRedisStore(rdb), nil
	default:
		log.Warn().Msg("using in-memory rate limit store, counts are not shared between processes")
		return limiter.NewMemoryStore(), nil
	}
}

// needsRedis reports whether any configured component talks to redis.
func needsRedis(c *config.Config) bool {
	return c.RateLimit.StorageType == limiter.StorageRedis || c.Reporting.Enabled
}

func newLimiter(c *config.Config, rdb *redis.Client, reg prometheus.Registerer) (*limiter.RateLimiter, error) {
	store, err := newStore(c, rdb)
	if err != nil {
		return nil, err
	}
	var opts []limiter.Option
	if reg != nil {
		opts = append(opts, limiter.WithMetrics(limiter.NewMetrics(reg)))
	}
	return limiter.NewRateLimiter(&c.RateLimit, store, opts...), nil
}

func newAnnotator(c *config.Config) (*citation.Annotator, error) {
	marker, err := citation.MarkerByName(c.Citation.Marker)
	if err != nil {
		return nil, err
	}
	opts := []citation.Option{citation.WithMarker(marker)}
	if c.Citation.StaticHost != "" {
		opts = append(opts, citation.WithResolver(citation.StaticHost(c.Citation.StaticHost)))
	}
	return citation.New(opts...), nil
}

// newStrategies builds a remote generator for every strategy in the
// configured order that has an endpoint.
func newStrategies(c *config.Config) []generate.Strategy {
	var strategies []generate.Strategy
	for _, name := range c.Generation.Order {
		url, ok := c.Generation.Endpoints[name]
		if !ok || url == "" {
			log.Warn().Str("strategy", name).Msg("no endpoint configured, strategy skipped")
			continue
		}
		strategies = append(strategies, generate.Strategy{Name: name, Generator: generate.NewRemote(url)})
	}
	return strategies
}

// imageOptions wires the image step when both a generic endpoint and an
// image search key are configured. Image prompts count against the generic
// strategy's window.
func imageOptions(c *config.Config, rl *limiter.RateLimiter) []generate.PipelineOption {
	url := c.Generation.Endpoints[generate.StrategyGeneric]
	if url == "" || c.ImageSearch.APIKey == "" {
		log.Info().Msg("image search disabled")
		return nil
	}
	gen := generate.Limited(generate.StrategyGeneric, generate.NewRemote(url), rl)
	finder := imagesearch.New(c.ImageSearch.BaseURL, c.ImageSearch.APIKey)
	return []generate.PipelineOption{generate.WithImages(gen, finder)}
}

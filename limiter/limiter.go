package limiter

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// RateLimiter admits or rejects calls per operation key using a sliding log
// kept in a shared counter store.
type RateLimiter struct {
	mu      sync.RWMutex
	config  *Config
	store   Store
	now     func() time.Time
	metrics *Metrics
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithClock replaces the limiter's time source.
func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) {
		if now != nil {
			rl.now = now
		}
	}
}

// WithMetrics records every decision in m.
func WithMetrics(m *Metrics) Option {
	return func(rl *RateLimiter) {
		rl.metrics = m
	}
}

// NewRateLimiter creates a new RateLimiter instance.
// cfg must already have passed ValidateAndPrepare.
func NewRateLimiter(cfg *Config, store Store, opts ...Option) *RateLimiter {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultKeyPrefix
	}
	rl := &RateLimiter{
		config: cfg,
		store:  store,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Admit records an attempt for key and reports whether it fits in window.
// The attempt counts toward later windows whether or not it is admitted.
func (rl *RateLimiter) Admit(ctx context.Context, key string, window Window) (bool, error) {
	if err := window.validate(); err != nil {
		return false, err
	}

	started := time.Now()
	now := rl.now()
	nowScore := now.UnixMicro()
	windowStart := now.Add(-window.Period).UnixMicro()

	count, err := rl.store.Exec(ctx, rl.storeKey(key),
		RemoveRange(math.MinInt64, windowStart-1),
		Add(nowScore, uuid.NewString()),
		// counts [windowStart, +inf) rather than stopping at now: records
		// stamped after now by a caller whose clock read raced ahead of ours
		// still occupy the window
		Count(windowStart, math.MaxInt64),
		Expire(window.Period),
	)
	if err != nil {
		return false, fmt.Errorf("admit %s: %w", key, err)
	}

	// count includes the attempt just recorded
	admitted := count <= int64(window.MaxRequests)
	rl.metrics.observe(key, admitted, time.Since(started).Seconds())
	log.Debug().Str("key", key).Int64("count", count).Int("max_requests", window.MaxRequests).Dur("period", window.Period).Bool("admitted", admitted).Msg("admission checked")
	return admitted, nil
}

// Allow admits key against its configured rule.
// Keys without a rule are not limited and nothing is recorded for them.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window, ok := rl.window(key)
	if !ok {
		log.Debug().Str("key", key).Msg("no rate limit rule for key, allowing")
		return true, nil
	}
	return rl.Admit(ctx, key, window)
}

// Check is Allow with the rejection surfaced as a *RateLimitExceededError.
func (rl *RateLimiter) Check(ctx context.Context, key string) error {
	window, ok := rl.window(key)
	if !ok {
		return nil
	}
	admitted, err := rl.Admit(ctx, key, window)
	if err != nil {
		return err
	}
	if !admitted {
		return &RateLimitExceededError{Key: key, Window: window}
	}
	return nil
}

// Usage is a read-only snapshot of a key's current window.
type Usage struct {
	Key    string
	Count  int64
	Window Window
}

// Remaining is how many more calls the window would admit right now.
func (u Usage) Remaining() int64 {
	left := int64(u.Window.MaxRequests) - u.Count
	if left < 0 {
		return 0
	}
	return left
}

// Usage reports the records currently inside key's configured window without recording an attempt.
func (rl *RateLimiter) Usage(ctx context.Context, key string) (Usage, error) {
	window, ok := rl.window(key)
	if !ok {
		return Usage{}, fmt.Errorf("no rate limit rule for key: %s", key)
	}
	now := rl.now()
	count, err := rl.store.Count(ctx, rl.storeKey(key), now.Add(-window.Period).UnixMicro(), math.MaxInt64)
	if err != nil {
		return Usage{}, fmt.Errorf("usage %s: %w", key, err)
	}
	return Usage{Key: key, Count: count, Window: window}, nil
}

// Reset clears all records for key.
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	if err := rl.store.Reset(ctx, rl.storeKey(key)); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	log.Info().Str("key", key).Msg("rate limit key reset")
	return nil
}

// UpdateConfig validates cfg and swaps it in for subsequent calls.
// The store and its key prefix are kept; a changed prefix is ignored.
func (rl *RateLimiter) UpdateConfig(cfg *Config) error {
	if err := cfg.ValidateAndPrepare(); err != nil {
		return err
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if cfg.KeyPrefix != rl.config.KeyPrefix {
		log.Warn().Str("current", rl.config.KeyPrefix).Str("ignored", cfg.KeyPrefix).Msg("key prefix cannot change at runtime")
		cfg.KeyPrefix = rl.config.KeyPrefix
	}
	rl.config = cfg
	log.Info().Int("rules", len(cfg.Rules)).Msg("rate limit config updated")
	return nil
}

// Rules returns a copy of the configured rules.
func (rl *RateLimiter) Rules() []Rule {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return append([]Rule(nil), rl.config.Rules...)
}

// Window returns the window configured for key.
func (rl *RateLimiter) Window(key string) (Window, bool) {
	return rl.window(key)
}

func (rl *RateLimiter) window(key string) (Window, bool) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.config.Window(key)
}

func (rl *RateLimiter) storeKey(key string) string {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.config.KeyPrefix + key
}

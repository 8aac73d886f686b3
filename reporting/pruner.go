package reporting

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// DefaultPruneSchedule runs the prune daily at 03:00.
const DefaultPruneSchedule = "0 3 * * *"

// Pruner deletes interactions past their retention age on a cron schedule.
type Pruner struct {
	warehouse *Warehouse
	retention time.Duration
	schedule  string
	now       func() time.Time
	lock      Lock

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// Lock keeps replicas sharing a warehouse from pruning at the same time.
// *redlock.Locker satisfies it.
type Lock interface {
	TryLock(ctx context.Context) error
	Unlock(ctx context.Context) error
}

// PrunerOption configures a Pruner.
type PrunerOption func(*Pruner)

// WithLock makes scheduled runs skip when lock is held elsewhere.
func WithLock(lock Lock) PrunerOption {
	return func(p *Pruner) {
		p.lock = lock
	}
}

// NewPruner validates schedule and creates a Pruner. An empty schedule uses
// DefaultPruneSchedule.
func NewPruner(w *Warehouse, retention time.Duration, schedule string, opts ...PrunerOption) (*Pruner, error) {
	if retention <= 0 {
		return nil, errors.New("retention must be positive")
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	p := &Pruner{
		warehouse: w,
		retention: retention,
		schedule:  schedule,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name implements lifecycle.Component.
func (p *Pruner) Name() string { return "reporting-pruner" }

// PruneNow deletes everything older than the retention age.
func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.warehouse.Prune(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	log.Info().Int64("deleted_count", deleted).Time("cutoff", cutoff).Msg("interactions pruned")
	return deleted, nil
}

// Start schedules PruneNow. Jobs run with ctx.
func (p *Pruner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.cron = cron.New()
	if _, err := p.cron.AddFunc(p.schedule, func() { p.scheduledRun(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule prune: %w", err)
	}
	p.cron.Start()
	p.running = true

	log.Info().Str("schedule", p.schedule).Dur("retention", p.retention).Msg("prune scheduler started")
	return nil
}

func (p *Pruner) scheduledRun(ctx context.Context) {
	if p.lock != nil {
		if err := p.lock.TryLock(ctx); err != nil {
			log.Info().Err(err).Msg("prune skipped, another replica holds the lock")
			return
		}
		defer func() {
			if err := p.lock.Unlock(ctx); err != nil {
				log.Warn().Err(err).Msg("failed to release prune lock")
			}
		}()
	}
	if _, err := p.PruneNow(ctx); err != nil {
		log.Error().Err(err).Msg("scheduled prune failed")
	}
}

// Stop stops the schedule and waits for a running prune, or for ctx.
func (p *Pruner) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return nil
	}
	p.running = false

	select {
	case <-p.cron.Stop().Done():
		log.Info().Msg("prune scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("prune scheduler stop: %w", ctx.Err())
	}
}

// NextRun returns when the next prune is due, or the zero time when stopped.
func (p *Pruner) NextRun() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return time.Time{}
	}
	entries := p.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

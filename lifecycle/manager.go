package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager owns the registration and start/stop sequencing of components.
type Manager struct {
	mu         sync.RWMutex
	components map[string]Component
	order      []string        // registration order; stop runs in reverse
	started    map[string]bool // components whose Start succeeded
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{
		components: make(map[string]Component),
		started:    make(map[string]bool),
	}
}

// Register appends c to the start order.
func (m *Manager) Register(c Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if _, exists := m.components[name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	if len(m.started) > 0 {
		return fmt.Errorf("%w: cannot register %s", ErrStarted, name)
	}

	m.components[name] = c
	m.order = append(m.order, name)
	log.Debug().Str("component", name).Msg("component registered")
	return nil
}

// Start starts every component in registration order. If one fails, the
// components already started are stopped in reverse order and the failure
// is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	startedNow := make([]string, 0, len(order))
	for _, name := range order {
		m.mu.RLock()
		c := m.components[name]
		already := m.started[name]
		m.mu.RUnlock()
		if already {
			continue
		}

		startTime := time.Now()
		if err := c.Start(ctx); err != nil {
			log.Error().Str("component", name).Dur("duration", time.Since(startTime)).Err(err).Msg("failed to start component")
			m.rollback(ctx, startedNow)
			return wrapErr("start", name, err)
		}

		m.mu.Lock()
		m.started[name] = true
		m.mu.Unlock()
		startedNow = append(startedNow, name)

		log.Info().Str("component", name).Dur("duration", time.Since(startTime)).Msg("component started")
	}
	return nil
}

// Stop stops every started component in reverse registration order. It keeps
// going past failures and returns them joined.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	var errs []error
	for i := len(order) - 1; i >= 0; i-- {
		if err := m.stopOne(ctx, order[i]); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		log.Warn().Int("error_count", len(errs)).Msg("shutdown completed with errors")
		return errors.Join(errs...)
	}
	return nil
}

func (m *Manager) rollback(ctx context.Context, names []string) {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		log.Warn().Str("component", names[i]).Msg("rolling back component start")
		if err := m.stopOne(ctx, names[i]); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		log.Error().Errs("rollback_errors", errs).Msg("errors occurred during start rollback")
	}
}

// stopOne stops name if it is started and marks it stopped regardless of outcome.
func (m *Manager) stopOne(ctx context.Context, name string) error {
	m.mu.Lock()
	c := m.components[name]
	started := m.started[name]
	delete(m.started, name)
	m.mu.Unlock()

	if !started {
		return nil
	}

	startTime := time.Now()
	if err := c.Stop(ctx); err != nil {
		log.Error().Str("component", name).Dur("duration", time.Since(startTime)).Err(err).Msg("failed to stop component")
		return wrapErr("stop", name, err)
	}
	log.Info().Str("component", name).Dur("duration", time.Since(startTime)).Msg("component stopped")
	return nil
}

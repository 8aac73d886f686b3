// Package worker is a small Redis list backed queue: a Publisher pushes JSON
// messages with LPUSH and a ConsumerManager pops them with BRPOP and hands
// them to handlers.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrManagerStopped is returned by Subscribe after Shutdown.
var ErrManagerStopped = errors.New("consumer manager is not running")

// ConsumerManager manages multiple subscriptions within the application.
type ConsumerManager struct {
	rdb           redis.Cmdable
	mu            sync.Mutex
	subscriptions map[*Subscription]struct{}
	wg            sync.WaitGroup
	running       bool
}

// NewConsumerManager creates a new ConsumerManager.
func NewConsumerManager(rdb redis.Cmdable) *ConsumerManager {
	return &ConsumerManager{
		rdb:           rdb,
		subscriptions: make(map[*Subscription]struct{}),
		running:       true,
	}
}

// Subscribe starts polling topic (a Redis list) and runs handler for every
// message popped from it. Subscriptions on the same topic compete for messages.
func (cm *ConsumerManager) Subscribe(topic string, handler Handler, opts ...SubscriptionOption) (*Subscription, error) {
	if topic == "" {
		return nil, errors.New("topic cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	cfg := defaultSubscriptionOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &Subscription{
		rdb:         cm.rdb,
		topic:       topic,
		handler:     handler,
		opts:        cfg,
		processChan: make(chan []byte, cfg.bufferSize),
		stopChan:    make(chan struct{}),
		managerWg:   &cm.wg,
		ctx:         ctx,
		cancel:      cancel,
	}

	cm.mu.Lock()
	if !cm.running {
		cm.mu.Unlock()
		cancel()
		return nil, ErrManagerStopped
	}
	for existing := range cm.subscriptions {
		if existing.topic == topic {
			log.Warn().Str("topic", topic).Msg("subscribing to a topic with existing subscriber(s), they will compete for messages")
			break
		}
	}
	cm.subscriptions[sub] = struct{}{}
	cm.wg.Add(1)
	cm.mu.Unlock()

	sub.start()

	log.Info().Str("topic", topic).Stringer("mode", cfg.mode).Int("concurrency", cfg.concurrency).Dur("block_time", cfg.blockTime).Msg("subscriber started polling list")

	return sub, nil
}

// Unsubscribe stops and removes a subscription.
func (cm *ConsumerManager) Unsubscribe(sub *Subscription) error {
	if sub == nil {
		return errors.New("cannot unsubscribe nil subscriber")
	}

	cm.mu.Lock()
	if _, ok := cm.subscriptions[sub]; !ok {
		cm.mu.Unlock()
		log.Warn().Str("topic", sub.topic).Msg("unsubscribe called for subscriber not found")
		return nil
	}
	delete(cm.subscriptions, sub)
	cm.mu.Unlock()

	sub.stop()

	log.Info().Str("topic", sub.topic).Msg("subscriber stopped")
	return nil
}

// Shutdown signals all subscriptions to stop and waits for their goroutines,
// or until ctx is done.
func (cm *ConsumerManager) Shutdown(ctx context.Context) error {
	cm.mu.Lock()
	if !cm.running {
		cm.mu.Unlock()
		return errors.New("consumer manager already shut down")
	}
	cm.running = false

	subsToStop := make([]*Subscription, 0, len(cm.subscriptions))
	for sub := range cm.subscriptions {
		subsToStop = append(subsToStop, sub)
	}
	cm.subscriptions = make(map[*Subscription]struct{})
	cm.mu.Unlock()

	log.Info().Int("subscriber_count", len(subsToStop)).Msg("shutting down subscribers...")

	done := make(chan struct{})
	go func() {
		var stopWg sync.WaitGroup
		for _, sub := range subsToStop {
			stopWg.Add(1)
			go func(s *Subscription) {
				defer stopWg.Done()
				s.stop()
			}(sub)
		}
		stopWg.Wait()
		// pollers exit at the latest after their current BRPOP block
		cm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("consumer manager shutdown complete")
		return nil
	case <-ctx.Done():
		log.Error().Err(ctx.Err()).Msg("consumer manager shutdown timed out waiting for pollers")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

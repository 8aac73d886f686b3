package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Subscription is one poller on a topic feeding a pool of handler goroutines.
type Subscription struct {
	rdb         redis.Cmdable
	topic       string
	handler     Handler
	opts        subscriptionOptions
	processChan chan []byte     // raw payloads from the poller to the handlers
	stopChan    chan struct{}   // signals the poller to stop
	managerWg   *sync.WaitGroup // manager's WG, tracks the poller loop
	internalWg  sync.WaitGroup  // tracks this subscription's handler goroutines
	stopOnce    sync.Once

	// handlers run with ctx; it is cancelled once they have all returned
	ctx    context.Context
	cancel context.CancelFunc
}

// Topic returns the list the subscription pops from.
func (s *Subscription) Topic() string {
	return s.topic
}

// start launches the processors and then the poller. The processors are
// counted before start returns so stop never waits on an empty group.
func (s *Subscription) start() {
	s.internalWg.Add(s.opts.concurrency)
	for i := 0; i < s.opts.concurrency; i++ {
		go s.runProcessor(i)
	}
	go s.run()
}

// run is the poller goroutine. It pops messages with BRPOP and hands them to
// the processors, backing off exponentially while Redis is failing.
func (s *Subscription) run() {
	defer s.managerWg.Done()

	log.Debug().Str("topic", s.topic).Msg("redis list poller loop started (brpop)")

	defer close(s.processChan)

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = s.opts.retryInitial
	retry.MaxInterval = s.opts.retryMax
	retry.MaxElapsedTime = 0 // never give up while the subscription is live
	retry.Reset()

	for {
		select {
		case <-s.stopChan:
			log.Debug().Str("topic", s.topic).Msg("redis list poller loop stopping")
			return
		default:
		}

		// BRPOP is bounded by blockTime; stopChan is checked between calls
		result, err := s.rdb.BRPop(context.Background(), s.opts.blockTime, s.topic).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				log.Trace().Str("topic", s.topic).Msg("brpop timeout")
				retry.Reset()
				continue
			}
			wait := retry.NextBackOff()
			log.Error().Err(err).Str("topic", s.topic).Dur("retry_in", wait).Msg("error during brpop")
			select {
			case <-time.After(wait):
			case <-s.stopChan:
				return
			}
			continue
		}
		retry.Reset()

		// result is [topic, payload]
		if len(result) != 2 || result[0] != s.topic {
			log.Error().Str("topic", s.topic).Strs("brpop_result", result).Msg("invalid result format from brpop")
			continue
		}
		payload := []byte(result[1])

		log.Debug().Str("topic", s.topic).Int("payload_size", len(payload)).Msg("received message from list")

		select {
		case s.processChan <- payload:
		case <-s.stopChan:
			// back onto the tail so it is the next message popped
			if err := s.rdb.RPush(context.Background(), s.topic, payload).Err(); err != nil {
				log.Error().Err(err).Str("topic", s.topic).Msg("subscriber stopping, failed to return fetched message to list")
			} else {
				log.Info().Str("topic", s.topic).Msg("subscriber stopping, fetched message returned to list")
			}
			return
		}
	}
}

// runProcessor drains processChan until the poller closes it.
func (s *Subscription) runProcessor(processorID int) {
	defer s.internalWg.Done()
	log.Debug().Str("topic", s.topic).Int("processor_id", processorID).Msg("handler processor started")

	for payload := range s.processChan {
		s.executeHandler(payload, processorID)
	}
	log.Debug().Str("topic", s.topic).Int("processor_id", processorID).Msg("handler processor finished")
}

// executeHandler runs the handler for one payload, recovering panics. A
// failed payload goes to the dead-letter list when one is configured.
func (s *Subscription) executeHandler(payload []byte, processorID int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("topic", s.topic).Int("processor_id", processorID).Interface("panic_value", r).Msg("panic recovered during handler execution")
			s.deadLetter(payload)
		}
	}()

	if err := s.handler(s.ctx, payload); err != nil {
		log.Error().Err(err).Str("topic", s.topic).Int("processor_id", processorID).Msg("handler failed")
		s.deadLetter(payload)
	}
}

func (s *Subscription) deadLetter(payload []byte) {
	if s.opts.deadLetter == "" {
		log.Warn().Str("topic", s.topic).Msg("no dead-letter list, message dropped")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.rdb.LPush(ctx, s.opts.deadLetter, payload).Err(); err != nil {
		log.Error().Err(err).Str("topic", s.topic).Str("dead_letter", s.opts.deadLetter).Msg("failed to dead-letter message, message dropped")
		return
	}
	log.Warn().Str("topic", s.topic).Str("dead_letter", s.opts.deadLetter).Msg("message moved to dead-letter list")
}

// stop signals the poller to stop and waits for the processors to finish the
// messages already handed to them.
func (s *Subscription) stop() {
	s.stopOnce.Do(func() {
		log.Debug().Str("topic", s.topic).Msg("stopping subscriber...")
		close(s.stopChan)

		// the poller closes processChan on exit, which ends the processors
		s.internalWg.Wait()
		s.cancel()
		log.Debug().Str("topic", s.topic).Msg("subscriber processor goroutines finished")
	})
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Publisher sends messages to Redis Lists.
type Publisher struct {
	rdb  redis.Cmdable
	opts publisherOptions
}

// NewPublisher creates a new Publisher instance.
func NewPublisher(rdb redis.Cmdable, opts ...PublisherOption) *Publisher {
	cfg := defaultPublisherOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Publisher{
		rdb:  rdb,
		opts: cfg,
	}
}

// Publish encodes msg as JSON and pushes it onto topic.
// A default timeout is applied when ctx has no deadline.
func (p *Publisher) Publish(ctx context.Context, topic string, msg any) error {
	if _, deadlineSet := ctx.Deadline(); !deadlineSet {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.defaultPubTimeout)
		defer cancel()
	}
	return p.publish(ctx, topic, msg)
}

// publish handles serialization, LPUSH, and optional LTRIM.
func (p *Publisher) publish(ctx context.Context, topic string, msg any) error {
	if topic == "" {
		return errors.New("topic cannot be empty")
	}
	if msg == nil {
		return errors.New("message cannot be nil")
	}

	payload, err := encode(msg)
	if err != nil {
		return fmt.Errorf("serialization failed: %w", err)
	}

	if err := p.rdb.LPush(ctx, topic, payload).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", topic, err)
	}

	if p.opts.listMaxLen > 0 {
		// LPUSH puts the newest element at the head
		if trimErr := p.rdb.LTrim(ctx, topic, 0, p.opts.listMaxLen-1).Err(); trimErr != nil {
			log.Warn().Err(trimErr).Str("topic", topic).Int64("max_len", p.opts.listMaxLen).Msg("failed to trim list after lpush")
		}
	}

	log.Debug().Str("topic", topic).Int("payload_size", len(payload)).Msg("message published to list")
	return nil
}

// Replay moves every message from the from list back onto the to list, oldest
// first, and returns how many were moved. Each move is a single atomic
// RPOPLPUSH, so a message is never in neither list.
func Replay(ctx context.Context, rdb redis.Cmdable, from, to string) (int64, error) {
	if from == "" || to == "" {
		return 0, errors.New("replay needs both list names")
	}
	var moved int64
	for {
		err := rdb.RPopLPush(ctx, from, to).Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("replay %s to %s: %w", from, to, err)
		}
		moved++
	}
	log.Info().Str("from", from).Str("to", to).Int64("moved", moved).Msg("dead-lettered messages replayed")
	return moved, nil
}

package reporting

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/worker"
)

// FailedTopic is the list interactions from topic land on when they cannot
// be stored.
func FailedTopic(topic string) string {
	if topic == "" {
		topic = DefaultTopic
	}
	return topic + ":failed"
}

// Consume subscribes to topic and writes every queued interaction into w.
// Interactions that fail to store are kept on FailedTopic(topic).
func Consume(cm *worker.ConsumerManager, topic string, w *Warehouse, opts ...worker.SubscriptionOption) (*worker.Subscription, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	opts = append([]worker.SubscriptionOption{worker.WithDeadLetter(FailedTopic(topic))}, opts...)
	return cm.Subscribe(topic, worker.JSONHandler(func(ctx context.Context, in Interaction) error {
		if err := w.Insert(ctx, in); err != nil {
			return err
		}
		log.Debug().Str("session_id", in.SessionID).Time("timestamp", in.Timestamp).Msg("interaction stored")
		return nil
	}), opts...)
}

package reporting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/toolink/groundchat/worker"
)

// DefaultTopic is the Redis list interactions are queued on.
const DefaultTopic = "groundchat:interactions"

// Reporter queues interactions for the warehouse consumer.
type Reporter struct {
	pub   *worker.Publisher
	topic string
	now   func() time.Time
}

// NewReporter creates a Reporter publishing onto topic (DefaultTopic when empty).
func NewReporter(pub *worker.Publisher, topic string) *Reporter {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Reporter{pub: pub, topic: topic, now: time.Now}
}

// Report queues in. A zero timestamp is set to the current time.
func (r *Reporter) Report(ctx context.Context, in Interaction) error {
	if in.SessionID == "" {
		return errors.New("interaction has no session id")
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = r.now()
	}
	in.Timestamp = in.Timestamp.UTC()

	if err := r.pub.Publish(ctx, r.topic, in); err != nil {
		return fmt.Errorf("report interaction: %w", err)
	}
	return nil
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrEmptyPayload is returned when a message carries no bytes.
var ErrEmptyPayload = errors.New("empty payload")

// Handler processes one raw message popped from a topic.
// A returned error is logged; the message is not redelivered.
type Handler func(ctx context.Context, payload []byte) error

// encode serializes a message value to JSON.
func encode(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Decode deserializes a JSON payload into T.
func Decode[T any](payload []byte) (T, error) {
	var v T
	if len(payload) == 0 {
		return v, ErrEmptyPayload
	}
	if err := sonic.Unmarshal(payload, &v); err != nil {
		return v, fmt.Errorf("decode %T: %w", v, err)
	}
	return v, nil
}

// JSONHandler adapts a typed function into a Handler that decodes each
// payload into T first. Payloads that fail to decode are reported as errors
// and fn is not called.
func JSONHandler[T any](fn func(ctx context.Context, msg T) error) Handler {
	return func(ctx context.Context, payload []byte) error {
		msg, err := Decode[T](payload)
		if err != nil {
			return err
		}
		return fn(ctx, msg)
	}
}

package worker

import (
	"time"
)

// Define consumption mode (applies to how handlers *within* this Go process run)
type consumptionMode int

const (
	Sequential consumptionMode = iota
	Concurrent
)

func (m consumptionMode) String() string {
	if m == Concurrent {
		return "concurrent"
	}
	return "sequential"
}

// --- Subscription Options ---

type subscriptionOptions struct {
	blockTime time.Duration // how long BRPOP blocks waiting for a message

	mode        consumptionMode
	concurrency int // number of handler goroutines
	bufferSize  int // buffer between the poller and the handlers

	retryInitial time.Duration // first pause after a failed BRPOP
	retryMax     time.Duration // cap on the pause between failed BRPOPs

	deadLetter string // list receiving payloads whose handler failed, "" drops them
}

func defaultSubscriptionOptions() subscriptionOptions {
	return subscriptionOptions{
		blockTime:    5 * time.Second,
		mode:         Sequential,
		concurrency:  1,
		bufferSize:   128,
		retryInitial: 250 * time.Millisecond,
		retryMax:     30 * time.Second,
	}
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*subscriptionOptions)

// WithBlockTime sets the maximum time BRPOP should block waiting for a message.
// Redis does not block for less than a second. Defaults to 5 seconds.
func WithBlockTime(d time.Duration) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if d > 0 {
			o.blockTime = d
		}
	}
}

// WithConcurrency sets the number of handler goroutines processing messages
// popped from Redis for this subscription.
// Setting n > 1 enables Concurrent mode. Defaults to 1 (Sequential).
func WithConcurrency(n int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if n > 0 {
			o.concurrency = n
			if n > 1 {
				o.mode = Concurrent
			} else {
				o.mode = Sequential
			}
		}
	}
}

// WithBufferSize sets the internal buffer size between the Redis poller goroutine
// and the handler goroutine(s). Defaults to 128.
func WithBufferSize(size int) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if size > 0 {
			o.bufferSize = size
		}
	}
}

// WithRetryBackoff bounds the exponential pause taken after a failed BRPOP.
// Defaults to 250ms growing up to 30s.
func WithRetryBackoff(initial, max time.Duration) SubscriptionOption {
	return func(o *subscriptionOptions) {
		if initial > 0 {
			o.retryInitial = initial
		}
		if max >= o.retryInitial {
			o.retryMax = max
		}
	}
}

// WithDeadLetter pushes payloads whose handler returned an error or panicked
// onto list instead of dropping them. Replay moves them back.
func WithDeadLetter(list string) SubscriptionOption {
	return func(o *subscriptionOptions) {
		o.deadLetter = list
	}
}

// --- Publisher Options ---

type publisherOptions struct {
	defaultPubTimeout time.Duration // timeout for Publish when the caller sets none
	listMaxLen        int64         // approximate max list length (LTRIM), 0 disables
}

func defaultPublisherOptions() publisherOptions {
	return publisherOptions{
		defaultPubTimeout: 5 * time.Second,
		listMaxLen:        0,
	}
}

// PublisherOption configures the Publisher.
type PublisherOption func(*publisherOptions)

// WithDefaultPubTimeout sets the context timeout for Publish calls whose
// context carries no deadline.
func WithDefaultPubTimeout(d time.Duration) PublisherOption {
	return func(o *publisherOptions) {
		if d > 0 {
			o.defaultPubTimeout = d
		}
	}
}

// WithListMaxLen sets the approximate maximum length for the list using LTRIM.
// After a successful LPUSH, LTRIM 0 (maxLen-1) keeps the newest maxLen elements.
// 0 disables trimming.
func WithListMaxLen(maxLen int64) PublisherOption {
	return func(o *publisherOptions) {
		if maxLen >= 0 {
			o.listMaxLen = maxLen
		}
	}
}

package generate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/toolink/groundchat/session"
)

// Strategy names, in the order the default chain tries them.
const (
	StrategyMultiturn    = "multiturn"
	StrategySingleturn   = "singleturn"
	StrategyGoogleSearch = "google_search"
	StrategyGeneric      = "generic"
)

// DefaultOrder is the default strategy order.
var DefaultOrder = []string{StrategyMultiturn, StrategySingleturn, StrategyGoogleSearch, StrategyGeneric}

// ErrNoStrategies is returned by a Chain with nothing to try.
var ErrNoStrategies = errors.New("no generation strategies configured")

// Generator produces a response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Response, error)
}

// GeneratorFunc adapts a function into a Generator.
type GeneratorFunc func(ctx context.Context, prompt string) (*Response, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (*Response, error) {
	return f(ctx, prompt)
}

// Checker admits or rejects a call for a key. *limiter.RateLimiter implements it.
type Checker interface {
	Check(ctx context.Context, key string) error
}

// Strategy is a named generator. The name is also its rate limit key.
type Strategy struct {
	Name      string
	Generator Generator
}

// Limited wraps g so every call is first admitted by checker under key.
// A rejection is returned as-is and g is not called.
func Limited(key string, g Generator, checker Checker) Generator {
	if checker == nil {
		return g
	}
	return GeneratorFunc(func(ctx context.Context, prompt string) (*Response, error) {
		if err := checker.Check(ctx, key); err != nil {
			return nil, err
		}
		return g.Generate(ctx, prompt)
	})
}

// Chain tries strategies in order until one returns a grounded response.
type Chain struct {
	strategies []Strategy
	checker    Checker
}

// ChainOption configures a Chain.
type ChainOption func(*Chain)

// WithChecker rate limits each strategy call under the strategy's name.
func WithChecker(c Checker) ChainOption {
	return func(ch *Chain) {
		ch.checker = c
	}
}

// NewChain creates a Chain over strategies.
func NewChain(strategies []Strategy, opts ...ChainOption) *Chain {
	c := &Chain{strategies: append([]Strategy(nil), strategies...)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate returns the first grounded response, or the last response when
// none is grounded. A rate limit rejection or generator error stops the
// chain and is returned. The strategy whose response is returned is
// recorded on the session in ctx, if any.
func (c *Chain) Generate(ctx context.Context, prompt string) (*Response, error) {
	if len(c.strategies) == 0 {
		return nil, ErrNoStrategies
	}

	sess, _ := session.FromContext(ctx)
	var resp *Response
	for _, s := range c.strategies {
		var err error
		resp, err = Limited(s.Name, s.Generator, c.checker).Generate(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		sess.SetStrategy(s.Name)
		if resp.Grounded() {
			log.Debug().Str("strategy", s.Name).Msg("grounded response")
			return resp, nil
		}
		log.Debug().Str("strategy", s.Name).Msg("response not grounded, trying next strategy")
	}
	return resp, nil
}

// Names returns the strategy names in order.
func (c *Chain) Names() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name
	}
	return names
}

package limiter

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Window is the admission ceiling for one protected operation.
// It is a value type; copies never share state.
type Window struct {
	MaxRequests int           // calls admitted per period, 0 rejects everything
	Period      time.Duration // length of the trailing window
}

// NewWindow validates and builds a Window.
func NewWindow(maxRequests int, period time.Duration) (Window, error) {
	w := Window{MaxRequests: maxRequests, Period: period}
	if err := w.validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

func (w Window) validate() error {
	if w.MaxRequests < 0 {
		return fmt.Errorf("%w: max requests %d must not be negative", ErrInvalidWindow, w.MaxRequests)
	}
	if w.Period <= 0 {
		return fmt.Errorf("%w: period %s must be positive", ErrInvalidWindow, w.Period)
	}
	return nil
}

// Rule binds a window to an operation key.
type Rule struct {
	Key         string        `mapstructure:"key" yaml:"key"`
	MaxRequests int           `mapstructure:"max_requests" yaml:"max_requests"`
	Period      time.Duration `mapstructure:"period" yaml:"period"`
}

// Window returns the rule's admission window.
func (r Rule) Window() Window {
	return Window{MaxRequests: r.MaxRequests, Period: r.Period}
}

// Config holds the overall rate limiter configuration.
type Config struct {
	StorageType string `mapstructure:"storage_type" yaml:"storage_type"` // "memory" or "redis"
	KeyPrefix   string `mapstructure:"key_prefix" yaml:"key_prefix"`
	Rules       []Rule `mapstructure:"rules" yaml:"rules"`

	windows map[string]Window // prepared lookup by rule key
}

// ValidateAndPrepare processes the raw config, validates it, and prepares internal fields.
func (c *Config) ValidateAndPrepare() error {
	if c.StorageType == "" {
		c.StorageType = StorageMemory
	}
	if c.StorageType != StorageMemory && c.StorageType != StorageRedis {
		return fmt.Errorf("invalid storage_type: %s, must be '%s' or '%s'", c.StorageType, StorageMemory, StorageRedis)
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}

	if len(c.Rules) == 0 {
		log.Warn().Msg("no rate limit rules defined in config")
	}

	windows := make(map[string]Window, len(c.Rules))
	for _, rule := range c.Rules {
		if rule.Key == "" {
			return fmt.Errorf("rate limit rule has an empty key")
		}
		if _, seen := windows[rule.Key]; seen {
			return fmt.Errorf("duplicate rate limit rule for key: %s", rule.Key)
		}
		w := rule.Window()
		if err := w.validate(); err != nil {
			return fmt.Errorf("rule for key '%s': %w", rule.Key, err)
		}
		windows[rule.Key] = w
	}
	c.windows = windows
	return nil
}

// Window looks up the prepared window for key.
func (c *Config) Window(key string) (Window, bool) {
	if c == nil {
		return Window{}, false
	}
	w, ok := c.windows[key]
	return w, ok
}

// Package config loads the service configuration from a YAML file and
// GROUNDCHAT_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/toolink/groundchat/citation"
	"github.com/toolink/groundchat/limiter"
)

// EnvPrefix prefixes every environment override, e.g. GROUNDCHAT_REDIS_ADDR.
const EnvPrefix = "GROUNDCHAT"

type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	RateLimit   limiter.Config    `mapstructure:"ratelimit" yaml:"ratelimit"`
	Citation    CitationConfig    `mapstructure:"citation" yaml:"citation"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	ImageSearch ImageSearchConfig `mapstructure:"imagesearch" yaml:"imagesearch"`
	Generation  GenerationConfig  `mapstructure:"generation" yaml:"generation"`
	Reporting   ReportingConfig   `mapstructure:"reporting" yaml:"reporting"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

type CitationConfig struct {
	StaticHost string `mapstructure:"static_host" yaml:"static_host"`
	Marker     string `mapstructure:"marker" yaml:"marker"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

type ImageSearchConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
	APIKey  string `mapstructure:"api_key" yaml:"api_key"`
}

// GenerationConfig maps strategy names to gateway URLs. Order lists the
// strategies to chain; strategies without an endpoint are skipped.
type GenerationConfig struct {
	Endpoints map[string]string `mapstructure:"endpoints" yaml:"endpoints"`
	Order     []string          `mapstructure:"order" yaml:"order"`
}

type ReportingConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	Topic         string        `mapstructure:"topic" yaml:"topic"`
	Database      string        `mapstructure:"database" yaml:"database"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	PruneSchedule string        `mapstructure:"prune_schedule" yaml:"prune_schedule"`
}

// SetDefaults registers every key with its default so environment
// overrides apply even when the file omits the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("ratelimit.storage_type", limiter.StorageMemory)
	v.SetDefault("ratelimit.key_prefix", limiter.DefaultKeyPrefix)
	v.SetDefault("ratelimit.rules", []map[string]any{})

	v.SetDefault("citation.static_host", "")
	v.SetDefault("citation.marker", "bracket")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("imagesearch.base_url", "https://api.pexels.com/v1")
	v.SetDefault("imagesearch.api_key", "")

	v.SetDefault("generation.endpoints", map[string]string{})
	v.SetDefault("generation.order", []string{"multiturn", "singleturn", "google_search", "generic"})

	v.SetDefault("reporting.enabled", false)
	v.SetDefault("reporting.topic", "groundchat:interactions")
	v.SetDefault("reporting.database", "groundchat.db")
	v.SetDefault("reporting.retention", "8760h")
	v.SetDefault("reporting.prune_schedule", "0 3 * * *")
}

// New returns a viper instance with defaults, env binding and, when path is
// set, the config file.
func New(path string) *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return v
}

// Load reads path (optional) plus the environment and returns a validated Config.
func Load(path string) (*Config, error) {
	v := New(path)
	if path != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return Decode(v)
}

// Decode unmarshals and validates the configuration held by v.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration and prepares the rate limit rules.
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if err := c.RateLimit.ValidateAndPrepare(); err != nil {
		return fmt.Errorf("invalid ratelimit: %w", err)
	}
	if _, err := citation.MarkerByName(c.Citation.Marker); err != nil {
		return fmt.Errorf("invalid citation.marker: %w", err)
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr cannot be empty")
	}
	if c.Reporting.Enabled && c.Reporting.Retention <= 0 {
		return errors.New("reporting.retention must be positive")
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.Redis.Password != "" {
		out.Redis.Password = "********"
	}
	if out.ImageSearch.APIKey != "" {
		out.ImageSearch.APIKey = "********"
	}
	return out
}

// YAML renders the redacted configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}

package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/toolink/groundchat/limiter"
)

const sample = `
log:
  level: debug
redis:
  addr: redis:6379
  db: 2
ratelimit:
  storage_type: redis
  rules:
    - key: multiturn
      max_requests: 5
      period: 1m
    - key: generic
      max_requests: 30
      period: 30s
citation:
  static_host: https://static.example.com
  marker: superscript
imagesearch:
  api_key: pexels-secret
generation:
  endpoints:
    generic: http://gateway/generic
  order: [generic]
`

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "groundchat.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), sample))
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, limiter.StorageRedis, cfg.RateLimit.StorageType)
	require.Equal(t, limiter.DefaultKeyPrefix, cfg.RateLimit.KeyPrefix)
	require.Equal(t, []limiter.Rule{
		{Key: "multiturn", MaxRequests: 5, Period: time.Minute},
		{Key: "generic", MaxRequests: 30, Period: 30 * time.Second},
	}, cfg.RateLimit.Rules)

	w, ok := cfg.RateLimit.Window("generic")
	require.True(t, ok)
	require.Equal(t, 30*time.Second, w.Period)

	require.Equal(t, "superscript", cfg.Citation.Marker)
	require.Equal(t, map[string]string{"generic": "http://gateway/generic"}, cfg.Generation.Endpoints)
	require.Equal(t, []string{"generic"}, cfg.Generation.Order)

	// defaults
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, 8760*time.Hour, cfg.Reporting.Retention)
}

func TestLoadDefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, limiter.StorageMemory, cfg.RateLimit.StorageType)
	require.Empty(t, cfg.RateLimit.Rules)
	require.Equal(t, []string{"multiturn", "singleturn", "google_search", "generic"}, cfg.Generation.Order)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GROUNDCHAT_REDIS_ADDR", "cache:6380")
	t.Setenv("GROUNDCHAT_SERVER_SHUTDOWN_TIMEOUT", "3s")
	t.Setenv("GROUNDCHAT_GENERATION_ORDER", "singleturn,generic")

	cfg, err := Load(writeConfig(t, t.TempDir(), sample))
	require.NoError(t, err)
	require.Equal(t, "cache:6380", cfg.Redis.Addr)
	require.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	require.Equal(t, []string{"singleturn", "generic"}, cfg.Generation.Order)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "negative ceiling", body: "ratelimit:\n  rules:\n    - {key: a, max_requests: -1, period: 1m}\n"},
		{name: "zero period", body: "ratelimit:\n  rules:\n    - {key: a, max_requests: 1, period: 0s}\n"},
		{name: "duplicate key", body: "ratelimit:\n  rules:\n    - {key: a, max_requests: 1, period: 1m}\n    - {key: a, max_requests: 2, period: 1m}\n"},
		{name: "unknown storage", body: "ratelimit:\n  storage_type: etcd\n"},
		{name: "bad marker", body: "citation:\n  marker: roman\n"},
		{name: "bad log level", body: "log:\n  level: loud\n"},
		{name: "bad duration", body: "server:\n  shutdown_timeout: soon\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), tt.body))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestYAMLRedactsSecrets(t *testing.T) {
	cfg, err := Load(writeConfig(t, t.TempDir(), sample))
	require.NoError(t, err)

	out, err := cfg.YAML()
	require.NoError(t, err)
	require.NotContains(t, string(out), "pexels-secret")

	var back map[string]any
	require.NoError(t, yaml.Unmarshal(out, &back))
	require.Equal(t, "********", back["imagesearch"].(map[string]any)["api_key"])
	require.Equal(t, "pexels-secret", cfg.ImageSearch.APIKey)
}

func TestWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, sample)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		mu   sync.Mutex
		seen []*Config
	)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg *Config) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, cfg)
		})
	}()

	// let the watcher register before editing
	time.Sleep(100 * time.Millisecond)

	// an invalid edit is skipped
	require.NoError(t, os.WriteFile(path, []byte("ratelimit:\n  storage_type: etcd\n"), 0o600))
	time.Sleep(300 * time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("ratelimit:\n  rules:\n    - {key: generic, max_requests: 1, period: 1m}\n"), 0o600))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0
	}, 3*time.Second, 20*time.Millisecond)

	mu.Lock()
	last := seen[len(seen)-1]
	mu.Unlock()
	w, ok := last.RateLimit.Window("generic")
	require.True(t, ok)
	require.Equal(t, 1, w.MaxRequests)

	cancel()
	require.NoError(t, <-done)
}

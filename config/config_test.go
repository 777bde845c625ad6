package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 8765, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Orchestrator.Iterations)
	assert.Equal(t, 5, cfg.Orchestrator.Turns)
	assert.Equal(t, 512, cfg.Orchestrator.MaxTokens)
	assert.Equal(t, 512, cfg.Embedding.Dimensions)
	assert.Equal(t, 1000, cfg.Cache.Capacity)
	require.NoError(t, cfg.Validate())
}

func TestLoader_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9999
orchestrator:
  turns: 2
  call_timeout: 5s
backends:
  - id: gpt
    provider: openai
    model: gpt-4o-mini
cache:
  capacity: 50
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 2, cfg.Orchestrator.Turns)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.CallTimeout)
	assert.Equal(t, 50, cfg.Cache.Capacity)
	// Untouched values keep their defaults.
	assert.Equal(t, 3, cfg.Orchestrator.Iterations)

	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "gpt", cfg.Backends[0].ID)
	assert.Equal(t, "openai", cfg.Backends[0].Provider)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	t.Setenv("HARMONICS_SERVER_PORT", "7070")
	t.Setenv("HARMONICS_ORCHESTRATOR_ITERATIONS", "4")
	t.Setenv("HARMONICS_ORCHESTRATOR_CALL_TIMEOUT", "45s")
	t.Setenv("HARMONICS_CACHE_REDIS_ADDR", "localhost:6379")
	t.Setenv("HARMONICS_STORE_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Orchestrator.Iterations)
	assert.Equal(t, 45*time.Second, cfg.Orchestrator.CallTimeout)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddr)
	assert.True(t, cfg.Store.Enabled)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8765, cfg.Server.Port)
}

func TestValidate_NegativeCacheCapacity(t *testing.T) {
	cfg := Default()
	cfg.Cache.Capacity = -1

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache capacity")
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero turns", func(c *Config) { c.Orchestrator.Turns = 0 }},
		{"zero iterations", func(c *Config) { c.Orchestrator.Iterations = 0 }},
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"zero call timeout", func(c *Config) { c.Orchestrator.CallTimeout = 0 }},
		{"zero dimensions", func(c *Config) { c.Embedding.Dimensions = 0 }},
		{"backend without id", func(c *Config) {
			c.Backends = []BackendConfig{{Provider: "openai"}}
		}},
		{"unknown provider", func(c *Config) {
			c.Backends = []BackendConfig{{ID: "x", Provider: "mystery"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoader_InvalidConfigRejected(t *testing.T) {
	t.Setenv("HARMONICS_CACHE_CAPACITY", "-5")

	_, err := NewLoader().Load()
	require.Error(t, err)
}

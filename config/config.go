// Package config loads the orchestrator configuration from a YAML file
// with environment variable overrides.
//
// Precedence: defaults → YAML file → environment. Environment keys are
// derived from the struct tags, e.g. HARMONICS_ORCHESTRATOR_TURNS.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration tree.
type Config struct {
	Server       ServerConfig       `yaml:"server" env:"SERVER"`
	Backends     []BackendConfig    `yaml:"backends" env:"-"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`
	Embedding    EmbeddingConfig    `yaml:"embedding" env:"EMBEDDING"`
	Cache        CacheConfig        `yaml:"cache" env:"CACHE"`
	Store        StoreConfig        `yaml:"store" env:"STORE"`
	Log          LogConfig          `yaml:"log" env:"LOG"`
}

// ServerConfig configures the WebSocket/HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// ObserverQueue bounds each observer's event queue.
	ObserverQueue int `yaml:"observer_queue" env:"OBSERVER_QUEUE"`
}

// BackendConfig registers one model backend. An empty APIKey leaves the
// backend in permanent fallback mode rather than failing startup.
type BackendConfig struct {
	ID        string  `yaml:"id"`
	Provider  string  `yaml:"provider"` // openai | anthropic | nvidia
	APIKey    string  `yaml:"api_key"`
	BaseURL   string  `yaml:"base_url"`
	Model     string  `yaml:"model"`
	RateLimit float64 `yaml:"rate_limit"` // requests/sec, 0 disables
}

// OrchestratorConfig tunes the convergence loop.
type OrchestratorConfig struct {
	// Iterations is the fixed convergence round count per turn.
	Iterations int `yaml:"iterations" env:"ITERATIONS"`
	// Turns is the fixed turn count per conversation.
	Turns int `yaml:"turns" env:"TURNS"`
	// CallTimeout bounds each individual backend call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// MaxTokens is passed through to each backend request.
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// Temperature is passed through to each backend request.
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
}

// EmbeddingConfig configures the embedding service.
type EmbeddingConfig struct {
	APIKey     string        `yaml:"api_key" env:"API_KEY"`
	BaseURL    string        `yaml:"base_url" env:"BASE_URL"`
	Model      string        `yaml:"model" env:"MODEL"`
	Dimensions int           `yaml:"dimensions" env:"DIMENSIONS"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// CacheConfig configures the shared cache layer.
type CacheConfig struct {
	// Capacity bounds the local LRU; 0 disables caching.
	Capacity int `yaml:"capacity" env:"CAPACITY"`
	// RedisAddr enables the optional second level when set.
	RedisAddr     string        `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string        `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int           `yaml:"redis_db" env:"REDIS_DB"`
	RedisTTL      time.Duration `yaml:"redis_ttl" env:"REDIS_TTL"`
}

// StoreConfig configures transcript persistence.
type StoreConfig struct {
	// Enabled turns on the sqlite transcript store.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// DSN is the sqlite path (":memory:" for ephemeral).
	DSN string `yaml:"dsn" env:"DSN"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"FORMAT"` // json | console
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8765,
			ShutdownTimeout: 10 * time.Second,
			ObserverQueue:   256,
		},
		Orchestrator: OrchestratorConfig{
			Iterations:  3,
			Turns:       5,
			CallTimeout: 30 * time.Second,
			MaxTokens:   512,
			Temperature: 0.7,
		},
		Embedding: EmbeddingConfig{
			Model:      "text-embedding-3-small",
			Dimensions: 512,
			Timeout:    30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 1000,
			RedisTTL: time.Hour,
		},
		Store: StoreConfig{
			DSN: "harmonics.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
}

// NewLoader creates a loader with the HARMONICS env prefix.
func NewLoader() *Loader {
	return &Loader{envPrefix: "HARMONICS"}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// Load resolves the configuration: defaults, then file, then env.
func (l *Loader) Load() (*Config, error) {
	cfg := Default()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects configurations the orchestrator cannot start with.
// A negative cache capacity is fatal here, at startup, and nowhere else.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, "invalid server port")
	}
	if c.Orchestrator.Iterations <= 0 {
		errs = append(errs, "iterations must be positive")
	}
	if c.Orchestrator.Turns <= 0 {
		errs = append(errs, "turns must be positive")
	}
	if c.Orchestrator.CallTimeout <= 0 {
		errs = append(errs, "call_timeout must be positive")
	}
	if c.Cache.Capacity < 0 {
		errs = append(errs, "cache capacity must not be negative")
	}
	if c.Embedding.Dimensions <= 0 {
		errs = append(errs, "embedding dimensions must be positive")
	}
	for i, b := range c.Backends {
		if b.ID == "" {
			errs = append(errs, fmt.Sprintf("backend %d: id is required", i))
		}
		switch b.Provider {
		case "openai", "anthropic", "nvidia":
		default:
			errs = append(errs, fmt.Sprintf("backend %q: unknown provider %q", b.ID, b.Provider))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation: %s", strings.Join(errs, "; "))
	}
	return nil
}

func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	}
	return nil
}

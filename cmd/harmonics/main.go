// Harmonic convergence orchestrator entry point.
//
// Usage:
//
//	harmonics serve                      # start the server
//	harmonics serve --config config.yaml # with a config file
//	harmonics run --prompt "..."         # one conversation, no server
//	harmonics version
//	harmonics health
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/twomile/harmonics/config"
	"github.com/twomile/harmonics/embedding"
	"github.com/twomile/harmonics/internal/cache"
	"github.com/twomile/harmonics/internal/metrics"
	"github.com/twomile/harmonics/llm"
	"github.com/twomile/harmonics/orchestrator"
	"github.com/twomile/harmonics/providers"
	"github.com/twomile/harmonics/providers/anthropic"
	"github.com/twomile/harmonics/providers/nvidia"
	"github.com/twomile/harmonics/providers/openai"
	"github.com/twomile/harmonics/server"
	"github.com/twomile/harmonics/store"
	"github.com/twomile/harmonics/stream"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "run":
		runOnce(os.Args[2:])
	case "version":
		fmt.Printf("harmonics %s (built %s)\n", Version, BuildTime)
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("starting harmonics",
		zap.String("version", Version),
		zap.Int("backends", len(cfg.Backends)),
		zap.Int("iterations", cfg.Orchestrator.Iterations),
		zap.Int("turns", cfg.Orchestrator.Turns),
	)

	registry := prometheus.NewRegistry()
	mgr, broadcaster, st := buildManager(cfg, logger, registry)
	if st != nil {
		defer st.Close()
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := server.New(addr, mgr, broadcaster, registry, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("shutdown incomplete", zap.Error(err))
		}
	}

	logger.Info("harmonics stopped")
}

// runOnce executes a single conversation on the command line, printing
// each turn's converged output. Useful without any WebSocket client.
func runOnce(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	prompt := fs.String("prompt", "Hello", "Opening prompt")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	mgr, broadcaster, st := buildManager(cfg, logger, nil)
	if st != nil {
		defer st.Close()
	}

	sub := broadcaster.Attach()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range sub.C {
			if tc, ok := ev.(*stream.TurnCombinedEvent); ok {
				fmt.Printf("--- turn %d ---\n%s\n", tc.Turn, tc.Combined)
			}
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, err := mgr.Start(ctx, *prompt)
	broadcaster.Detach(sub.ID)
	<-done

	if err != nil {
		logger.Error("conversation failed", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("conversation complete",
		zap.String("session", s.ID),
		zap.Int64("tokens_processed", s.TokensProcessed()),
	)
}

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8765", "Server address")
	fs.Parse(args)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(*addr + "/health")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Health check failed: status %d\n", resp.StatusCode)
		os.Exit(1)
	}
	fmt.Println("OK")
}

func loadConfig(path string) *config.Config {
	loader := config.NewLoader()
	if path != "" {
		loader = loader.WithConfigPath(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// buildManager wires the full pipeline: providers, adapters, cache,
// embedding, broadcaster, store and the conversation manager.
func buildManager(cfg *config.Config, logger *zap.Logger, registry prometheus.Registerer) (*orchestrator.Manager, *stream.Broadcaster, store.Store) {
	var collector *metrics.Collector
	if registry != nil {
		collector = metrics.NewCollector("harmonics", registry)
	}

	local, err := cache.NewLRU(cfg.Cache.Capacity)
	if err != nil {
		logger.Fatal("cache misconfigured", zap.Error(err))
	}

	var remote *cache.Remote
	if cfg.Cache.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		remote = cache.NewRemote(rdb, cfg.Cache.RedisTTL, logger)
		logger.Info("remote cache enabled", zap.String("addr", cfg.Cache.RedisAddr))
	}

	var embedProvider embedding.Provider
	if cfg.Embedding.APIKey != "" {
		embedProvider = embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.APIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Embedding.Dimensions,
			Timeout:    cfg.Embedding.Timeout,
		})
	} else {
		logger.Info("no embedding credential, using deterministic demo vectors")
	}
	embedder := embedding.NewService(embedProvider, local, remote, cfg.Embedding.Dimensions, logger, collector)

	counter := llm.NewTiktokenCounter("")
	adapters := make([]*llm.Adapter, 0, len(cfg.Backends))
	for _, b := range cfg.Backends {
		adapters = append(adapters, llm.NewAdapter(llm.AdapterConfig{
			ID:          b.ID,
			CallTimeout: cfg.Orchestrator.CallTimeout,
			MaxTokens:   cfg.Orchestrator.MaxTokens,
			Temperature: cfg.Orchestrator.Temperature,
			RateLimit:   b.RateLimit,
		}, buildProvider(b, logger), counter, logger, collector))
	}
	if len(adapters) == 0 {
		// No configured backends still demos end to end.
		for _, id := range []string{"alpha", "beta", "gamma"} {
			adapters = append(adapters, llm.NewAdapter(llm.AdapterConfig{
				ID:          id,
				CallTimeout: cfg.Orchestrator.CallTimeout,
				MaxTokens:   cfg.Orchestrator.MaxTokens,
			}, nil, counter, logger, collector))
		}
		logger.Info("no backends configured, registered demo backends")
	}

	broadcaster := stream.NewBroadcaster(cfg.Server.ObserverQueue, logger, collector)

	var st store.Store
	if cfg.Store.Enabled {
		gs, err := store.Open(cfg.Store.DSN, logger)
		if err != nil {
			logger.Warn("transcript store unavailable", zap.Error(err))
		} else {
			st = gs
			logger.Info("transcript store enabled", zap.String("dsn", cfg.Store.DSN))
		}
	}

	mgr := orchestrator.NewManager(orchestrator.Options{
		Iterations: cfg.Orchestrator.Iterations,
		Turns:      cfg.Orchestrator.Turns,
	}, adapters, embedder, local, broadcaster, st, logger, collector)

	return mgr, broadcaster, st
}

// buildProvider resolves a backend config to a provider, or nil when the
// credential is absent so the adapter stays in permanent fallback mode.
func buildProvider(b config.BackendConfig, logger *zap.Logger) llm.Provider {
	if b.APIKey == "" {
		logger.Info("backend has no credential, falling back to demo responses",
			zap.String("backend", b.ID))
		return nil
	}

	pc := providers.Config{
		APIKey:  b.APIKey,
		BaseURL: b.BaseURL,
		Model:   b.Model,
	}
	switch b.Provider {
	case "openai":
		return openai.New(pc, logger)
	case "anthropic":
		return anthropic.New(pc, logger)
	case "nvidia":
		return nvidia.New(pc, logger)
	}
	return nil
}

func printUsage() {
	fmt.Println(`harmonics - multi-backend convergence orchestrator

Usage:
  harmonics <command> [options]

Commands:
  serve     Start the WebSocket server
  run       Run one conversation and print converged turns
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve' and 'run':
  --config <path>   Path to configuration file (YAML)

Options for 'run':
  --prompt <text>   Opening prompt

Examples:
  harmonics serve --config /etc/harmonics/config.yaml
  harmonics run --prompt "Design a rate limiter"
  harmonics health --addr http://localhost:8765`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

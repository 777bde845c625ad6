package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/twomile/harmonics/internal/metrics"
)

// ResponseRecord is one backend's answer within a round. Exactly one
// record exists per registered backend per round, even on failure:
// failure records carry deterministic fallback text.
type ResponseRecord struct {
	Backend   string        `json:"backend"`
	Text      string        `json:"text"`
	Embedding []float64     `json:"-"` // nil when embedding failed or was skipped
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Fallback  bool          `json:"fallback"`
	Tokens    int           `json:"tokens"`
}

// AdapterConfig configures one backend adapter.
type AdapterConfig struct {
	ID          string
	CallTimeout time.Duration
	MaxTokens   int
	Temperature float32
	// RateLimit caps requests per second for this backend; 0 disables.
	RateLimit float64
	Burst     int
}

// Adapter gives every backend the uniform respond capability and
// isolates retry-free timeout and fallback behavior per backend.
// Convergence never stalls because one backend is slow or absent: a
// bounded timeout forces every call to resolve to a record.
type Adapter struct {
	cfg       AdapterConfig
	provider  Provider
	available bool
	demo      atomic.Bool
	limiter   *rate.Limiter
	counter   TokenCounter
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewAdapter wraps a provider. A nil provider (credential absent at
// construction) forces permanent fallback mode; the adapter still
// registers and produces records.
func NewAdapter(cfg AdapterConfig, provider Provider, counter TokenCounter, logger *zap.Logger, collector *metrics.Collector) *Adapter {
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 512
	}
	if counter == nil {
		counter = NewTiktokenCounter("")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Adapter{
		cfg:       cfg,
		provider:  provider,
		available: provider != nil,
		limiter:   limiter,
		counter:   counter,
		logger:    logger.With(zap.String("backend", cfg.ID)),
		collector: collector,
	}
}

// ID returns the backend identifier.
func (a *Adapter) ID() string { return a.cfg.ID }

// Available reports whether a credentialed provider backs this adapter.
func (a *Adapter) Available() bool { return a.available }

// SetDemo forces or releases fallback mode regardless of availability.
func (a *Adapter) SetDemo(on bool) { a.demo.Store(on) }

// Respond queries the backend within the configured timeout and always
// returns a record. Timeouts and transport failures are recovered
// locally by substituting fallback text, never propagated.
func (a *Adapter) Respond(ctx context.Context, prompt string) ResponseRecord {
	start := time.Now()

	if !a.available || a.demo.Load() {
		return a.fallbackRecord(prompt, time.Since(start), "demo")
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return a.fallbackRecord(prompt, time.Since(start), "rate_limit")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.CallTimeout)
	defer cancel()

	resp, err := a.provider.Completion(callCtx, &ChatRequest{
		Messages:    []Message{{Role: RoleUser, Content: prompt}},
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
	})
	latency := time.Since(start)

	if a.collector != nil {
		a.collector.BackendLatency.WithLabelValues(a.cfg.ID).Observe(latency.Seconds())
	}

	if err != nil {
		reason := "transport"
		if callCtx.Err() == context.DeadlineExceeded {
			reason = "timeout"
		}
		a.logger.Warn("backend call failed, substituting fallback",
			zap.String("reason", reason),
			zap.Duration("latency", latency),
			zap.Error(err),
		)
		if a.collector != nil {
			a.collector.BackendRequests.WithLabelValues(a.cfg.ID, "error").Inc()
		}
		return a.fallbackRecord(prompt, latency, reason)
	}

	if a.collector != nil {
		a.collector.BackendRequests.WithLabelValues(a.cfg.ID, "ok").Inc()
	}

	tokens := a.counter.CountTokens(resp.Content)
	if a.collector != nil {
		a.collector.TokensProcessed.Add(float64(tokens))
	}

	return ResponseRecord{
		Backend: a.cfg.ID,
		Text:    resp.Content,
		Latency: latency,
		Success: true,
		Tokens:  tokens,
	}
}

// fallbackRecord builds the deterministic placeholder record used when
// the backend is unavailable, throttled, timed out, or in demo mode.
func (a *Adapter) fallbackRecord(prompt string, latency time.Duration, reason string) ResponseRecord {
	text := FallbackText(a.cfg.ID, prompt)
	tokens := a.counter.CountTokens(text)

	if a.collector != nil {
		a.collector.Fallbacks.WithLabelValues(a.cfg.ID, reason).Inc()
		a.collector.TokensProcessed.Add(float64(tokens))
	}

	return ResponseRecord{
		Backend:  a.cfg.ID,
		Text:     text,
		Latency:  latency,
		Success:  false,
		Fallback: true,
		Tokens:   tokens,
	}
}

// FallbackText is the deterministic demo placeholder for a backend and
// prompt. Long prompts are truncated so the placeholder stays bounded
// while remaining reproducible for identical inputs.
func FallbackText(backend, prompt string) string {
	const maxPrompt = 120
	if len(prompt) > maxPrompt {
		prompt = prompt[:maxPrompt] + "..."
	}
	return fmt.Sprintf("%s reply for: %s", backend, prompt)
}

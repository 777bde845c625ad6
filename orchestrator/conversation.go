package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/twomile/harmonics/embedding"
	"github.com/twomile/harmonics/internal/cache"
	"github.com/twomile/harmonics/internal/metrics"
	"github.com/twomile/harmonics/llm"
	"github.com/twomile/harmonics/store"
	"github.com/twomile/harmonics/stream"
)

// Session is one orchestration run: the ordered turns, the growing
// history text and the running counters. A session exclusively owns its
// turns; turns are immutable once appended.
type Session struct {
	ID        string
	StartedAt time.Time
	Turns     []*Turn
	History   string
	DemoMode  bool

	tokens    atomic.Int64
	completed atomic.Int32
}

// TokensProcessed returns the running token counter.
func (s *Session) TokensProcessed() int64 { return s.tokens.Load() }

// TurnsCompleted returns the number of appended turns.
func (s *Session) TurnsCompleted() int { return int(s.completed.Load()) }

// Options configures the conversation loop.
type Options struct {
	// Iterations is the fixed number of convergence rounds per turn.
	Iterations int
	// Turns is the fixed number of turns per conversation.
	Turns int
}

// Manager runs conversations: a fixed number of turns in sequence, each
// turn's prompt being the accumulated history after the previous one.
// It owns the session counters and the forced-demo flag.
type Manager struct {
	adapters    []*llm.Adapter
	embedder    *embedding.Service
	localCache  *cache.LRU
	broadcaster *stream.Broadcaster
	store       store.Store // optional
	iterations  int
	turns       int
	demo        atomic.Bool
	current     atomic.Pointer[Session]
	logger      *zap.Logger
	collector   *metrics.Collector
}

// NewManager wires the convergence core. store and collector may be nil.
func NewManager(opts Options, adapters []*llm.Adapter, embedder *embedding.Service, localCache *cache.LRU, broadcaster *stream.Broadcaster, st store.Store, logger *zap.Logger, collector *metrics.Collector) *Manager {
	if opts.Iterations <= 0 {
		opts.Iterations = 3
	}
	if opts.Turns <= 0 {
		opts.Turns = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		adapters:    adapters,
		embedder:    embedder,
		localCache:  localCache,
		broadcaster: broadcaster,
		store:       st,
		iterations:  opts.Iterations,
		turns:       opts.Turns,
		logger:      logger.With(zap.String("component", "orchestrator")),
		collector:   collector,
	}
}

// BackendIDs returns every registered backend in registration order.
func (m *Manager) BackendIDs() []string {
	ids := make([]string, len(m.adapters))
	for i, a := range m.adapters {
		ids[i] = a.ID()
	}
	return ids
}

// AvailableBackends returns the backends with a usable credential.
func (m *Manager) AvailableBackends() []string {
	ids := make([]string, 0, len(m.adapters))
	for _, a := range m.adapters {
		if a.Available() {
			ids = append(ids, a.ID())
		}
	}
	return ids
}

// DemoMode reports whether responses are being simulated, either
// because demo mode was forced or because some backend lacks a
// credential.
func (m *Manager) DemoMode() bool {
	if m.demo.Load() {
		return true
	}
	for _, a := range m.adapters {
		if !a.Available() {
			return true
		}
	}
	return false
}

// CacheEnabled reports whether the cache layer has nonzero capacity.
func (m *Manager) CacheEnabled() bool {
	return m.localCache.Stats().Capacity > 0
}

// ToggleDemo flips forced fallback mode for all backends regardless of
// credential availability and announces the new value to observers.
func (m *Manager) ToggleDemo() bool {
	on := !m.demo.Load()
	m.demo.Store(on)
	for _, a := range m.adapters {
		a.SetDemo(on)
	}
	m.broadcaster.Publish(stream.NewDemoToggled(on))
	m.logger.Info("demo mode toggled", zap.Bool("demo_mode", on))
	return on
}

// Stats returns the current cache and session statistics. Pull-based:
// nothing is pushed unless a client explicitly asks.
func (m *Manager) Stats() (stream.CacheStats, stream.SessionStats) {
	cs := m.localCache.Stats()
	cacheStats := stream.CacheStats{
		Hits:           cs.Hits,
		Misses:         cs.Misses,
		Size:           cs.Size,
		Capacity:       cs.Capacity,
		HitRatePercent: cs.HitRatePercent(),
	}

	var sessionStats stream.SessionStats
	if s := m.current.Load(); s != nil {
		sessionStats = stream.SessionStats{
			TokensProcessed: s.TokensProcessed(),
			TurnsCompleted:  s.TurnsCompleted(),
		}
	}
	return cacheStats, sessionStats
}

// Start runs one full conversation and blocks until it completes, the
// context is cancelled, or a turn fails fatally. The session is usable
// for stats reporting in all three cases. Cancellation stops issuing
// new rounds and turns promptly; in-flight cache state stays intact.
func (m *Manager) Start(ctx context.Context, prompt string) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		History:   prompt,
		DemoMode:  m.DemoMode(),
	}
	m.current.Store(s)

	m.logger.Info("conversation started",
		zap.String("session", s.ID),
		zap.Int("turns", m.turns),
		zap.Int("iterations", m.iterations),
		zap.Bool("demo_mode", s.DemoMode),
	)

	if m.store != nil {
		if err := m.store.CreateSession(ctx, s.ID, prompt, s.DemoMode); err != nil {
			m.logger.Warn("session persistence failed", zap.Error(err))
		}
	}

	for k := 1; k <= m.turns; k++ {
		if err := ctx.Err(); err != nil {
			return s, err
		}

		t, err := m.runTurn(ctx, s, k, s.History)
		if err != nil {
			m.logger.Warn("turn aborted",
				zap.String("session", s.ID),
				zap.Int("turn", k),
				zap.Error(err),
			)
			return s, err
		}

		// Appending is the final turn transition: the converged output
		// becomes part of the history exactly once.
		s.History = s.History + "\n" + t.Output
		if err := t.transition(TurnAppended); err != nil {
			return s, err
		}
		s.Turns = append(s.Turns, t)
		s.completed.Add(1)

		if m.collector != nil {
			m.collector.TurnsTotal.Inc()
		}
		if m.store != nil {
			if err := m.store.SaveTurn(ctx, s.ID, k, t.Prompt, t.Output); err != nil {
				m.logger.Warn("turn persistence failed", zap.Error(err))
			}
		}
	}

	m.logger.Info("conversation finished",
		zap.String("session", s.ID),
		zap.Int64("tokens_processed", s.TokensProcessed()),
	)
	return s, nil
}

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math"
	"math/rand"
	"strings"

	"go.uber.org/zap"

	"github.com/twomile/harmonics/internal/cache"
	"github.com/twomile/harmonics/internal/metrics"
)

// Service wraps an embedding backend behind the shared cache. Lookups
// key on a stable hash of the trimmed input. Without a backend (no
// credential) the service produces deterministic demo vectors seeded
// from the same hash, so identical inputs embed identically across runs.
type Service struct {
	provider  Provider // nil forces demo vectors
	local     *cache.LRU
	remote    *cache.Remote // optional second level
	dim       int
	logger    *zap.Logger
	collector *metrics.Collector
}

// NewService creates the embedding service. provider may be nil,
// remote and collector are optional.
func NewService(provider Provider, local *cache.LRU, remote *cache.Remote, dim int, logger *zap.Logger, collector *metrics.Collector) *Service {
	if dim <= 0 {
		dim = 512
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		provider:  provider,
		local:     local,
		remote:    remote,
		dim:       dim,
		logger:    logger.With(zap.String("component", "embedding")),
		collector: collector,
	}
}

// Dimensions returns the system-wide embedding dimension.
func (s *Service) Dimensions() int { return s.dim }

// DemoMode reports whether the service runs without a real backend.
func (s *Service) DemoMode() bool { return s.provider == nil }

// Embed returns the unit-normalized vector for text, or nil on backend
// failure. Callers must treat nil as "exclude from weighting". Empty
// input embeds to nil without touching the cache.
func (s *Service) Embed(ctx context.Context, text string) []float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	key := hashText(text)

	if v, ok := s.local.Get(key); ok {
		if s.collector != nil {
			s.collector.CacheHits.Inc()
		}
		return v.([]float64)
	}
	if s.collector != nil {
		s.collector.CacheMisses.Inc()
	}

	if s.remote != nil {
		if data, ok := s.remote.Get(ctx, key); ok {
			var vec []float64
			if err := json.Unmarshal(data, &vec); err == nil && len(vec) > 0 {
				s.local.Put(key, vec)
				return vec
			}
		}
	}

	vec := s.compute(ctx, text)
	if vec == nil {
		return nil
	}

	s.local.Put(key, vec)
	if s.remote != nil {
		if data, err := json.Marshal(vec); err == nil {
			s.remote.Put(ctx, key, data)
		}
	}
	return vec
}

func (s *Service) compute(ctx context.Context, text string) []float64 {
	if s.provider == nil {
		return demoVector(text, s.dim)
	}

	vec, err := s.provider.Embed(ctx, text)
	if err != nil {
		s.logger.Warn("embedding backend failed",
			zap.String("backend", s.provider.Name()),
			zap.Error(err),
		)
		return nil
	}
	return normalize(vec)
}

// hashText derives the cache key from the input.
func hashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:16])
}

// demoVector produces a reproducible unit vector seeded from the text
// hash, standing in for a real embedding when no backend is configured.
func demoVector(text string, dim int) []float64 {
	sum := sha256.Sum256([]byte(text))
	seed := int64(binary.BigEndian.Uint64(sum[:8]))
	rng := rand.New(rand.NewSource(seed))

	vec := make([]float64, dim)
	for i := range vec {
		vec[i] = rng.NormFloat64()
	}
	return normalize(vec)
}

func normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return vec
	}
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}

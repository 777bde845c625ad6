package orchestrator

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/twomile/harmonics/llm"
	"github.com/twomile/harmonics/stream"
)

// Round is one concurrent query+weight+combine cycle within a turn.
// Records keep backend registration order regardless of arrival order.
type Round struct {
	Index    int
	Records  []llm.ResponseRecord
	Weights  []float64
	Combined string
}

// runRound fans the prompt out to every adapter concurrently, embeds the
// successful responses concurrently, then weights and combines. Round
// latency is bounded by the slowest single per-adapter timeout, not the
// sum: every adapter call resolves to a record on its own deadline.
func (m *Manager) runRound(ctx context.Context, s *Session, turnIdx, roundIdx int, prompt string) (*Round, error) {
	if len(m.adapters) == 0 {
		return nil, llm.NewError(llm.ErrAllBackendsFailed, "no backends registered")
	}

	records := make([]llm.ResponseRecord, len(m.adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range m.adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			rec := adapter.Respond(gctx, prompt)
			records[i] = rec
			s.tokens.Add(int64(rec.Tokens))

			// Response events go out in arrival order, as soon as each
			// backend returns. Combination order stays registration
			// order; the two must not be conflated.
			m.broadcaster.Publish(stream.NewResponse(
				rec.Backend, turnIdx, roundIdx, rec.Text, rec.Latency, rec.Fallback,
			))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	usable := 0
	for _, rec := range records {
		if rec.Text != "" {
			usable++
		}
	}
	if usable == 0 {
		return nil, llm.NewError(llm.ErrAllBackendsFailed, "no usable responses in round")
	}

	// Failed records are excluded from similarity: their embedding stays
	// nil, which drops them to weight 0 in the normalization while the
	// fallback text still appears in the combined output.
	eg, ectx := errgroup.WithContext(ctx)
	for i := range records {
		if !records[i].Success {
			continue
		}
		i := i
		eg.Go(func() error {
			records[i].Embedding = m.embedder.Embed(ectx, records[i].Text)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	weights := ComputeWeights(records)
	combined := Combine(records, weights)

	weightsByBackend := make(map[string]float64, len(records))
	for i, rec := range records {
		weightsByBackend[rec.Backend] = weights[i]
	}
	m.broadcaster.Publish(stream.NewRoundCombined(turnIdx, roundIdx, combined, weightsByBackend))

	if m.collector != nil {
		m.collector.RoundsTotal.Inc()
	}
	m.logger.Debug("round combined",
		zap.Int("turn", turnIdx),
		zap.Int("round", roundIdx),
		zap.Int("usable", usable),
	)

	return &Round{
		Index:    roundIdx,
		Records:  records,
		Weights:  weights,
		Combined: combined,
	}, nil
}

// Package orchestrator implements the harmonic convergence core: the
// per-round fan-out to all backends, pairwise similarity weighting, the
// fixed-round turn controller and the session-level conversation loop.
package orchestrator

import (
	"fmt"
	"math"
	"strings"

	"github.com/twomile/harmonics/llm"
)

// combineSeparator joins the weighted parts of a combined response.
const combineSeparator = " | "

// CosineSimilarity returns dot(a,b)/(|a||b|), and 0 when either norm is
// zero or the lengths differ. It never produces NaN.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// ComputeWeights derives the normalized harmonic weight per source. The
// raw weight of source i is the sum of its cosine similarities to every
// other source with a usable embedding; sources without an embedding get
// raw weight 0. When the raw weights sum to zero (single source, all
// embeddings missing) all sources fall back to uniform 1/N.
//
// The result rewards agreement with the consensus of the other sources.
// It is an agreement signal only, not a correctness signal.
func ComputeWeights(records []llm.ResponseRecord) []float64 {
	n := len(records)
	if n == 0 {
		return nil
	}

	raw := make([]float64, n)
	for i := 0; i < n; i++ {
		if records[i].Embedding == nil {
			continue
		}
		for j := 0; j < n; j++ {
			if i == j || records[j].Embedding == nil {
				continue
			}
			raw[i] += CosineSimilarity(records[i].Embedding, records[j].Embedding)
		}
	}

	var sum float64
	for _, w := range raw {
		sum += w
	}
	if math.Abs(sum) < 1e-12 {
		uniform := make([]float64, n)
		for i := range uniform {
			uniform[i] = 1 / float64(n)
		}
		return uniform
	}

	weights := make([]float64, n)
	for i, w := range raw {
		weights[i] = w / sum
	}
	return weights
}

// Combine renders the weighted response texts as a single string. Parts
// appear in backend registration order, not weight order, so identical
// inputs always produce identical output; each part is tagged with its
// weight as a percentage to one decimal place.
func Combine(records []llm.ResponseRecord, weights []float64) string {
	parts := make([]string, 0, len(records))
	for i, rec := range records {
		parts = append(parts, fmt.Sprintf("[%.1f%%] %s", weights[i]*100, rec.Text))
	}
	return strings.Join(parts, combineSeparator)
}

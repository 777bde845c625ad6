package orchestrator

import (
	"math"
	"testing"

	"pgregory.net/rapid"

	"github.com/twomile/harmonics/llm"
)

func genRecords(t *rapid.T) []llm.ResponseRecord {
	n := rapid.IntRange(1, 8).Draw(t, "n")
	dim := rapid.IntRange(1, 16).Draw(t, "dim")

	records := make([]llm.ResponseRecord, n)
	for i := range records {
		records[i].Backend = "b"
		records[i].Text = "t"
		if rapid.Bool().Draw(t, "hasEmbedding") {
			vec := make([]float64, dim)
			for j := range vec {
				vec[j] = rapid.Float64Range(-10, 10).Draw(t, "component")
			}
			records[i].Embedding = vec
			records[i].Success = true
		}
	}
	return records
}

func TestComputeWeights_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		records := genRecords(t)
		weights := ComputeWeights(records)

		if len(weights) != len(records) {
			t.Fatalf("got %d weights for %d records", len(weights), len(records))
		}

		var sum float64
		for i, w := range weights {
			if math.IsNaN(w) || math.IsInf(w, 0) {
				t.Fatalf("weight %d is not finite: %v", i, w)
			}
			sum += w
		}
		if math.Abs(sum-1) > 1e-6 {
			t.Fatalf("weights sum to %v, want 1", sum)
		}
	})
}

func TestCosineSimilarity_Symmetry(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dim := rapid.IntRange(1, 32).Draw(t, "dim")
		a := make([]float64, dim)
		b := make([]float64, dim)
		for i := 0; i < dim; i++ {
			a[i] = rapid.Float64Range(-100, 100).Draw(t, "a")
			b[i] = rapid.Float64Range(-100, 100).Draw(t, "b")
		}

		ab := CosineSimilarity(a, b)
		ba := CosineSimilarity(b, a)
		if math.Abs(ab-ba) > 1e-9 {
			t.Fatalf("asymmetric: %v vs %v", ab, ba)
		}
		if ab < -1-1e-9 || ab > 1+1e-9 {
			t.Fatalf("similarity out of range: %v", ab)
		}
	})
}

func TestCosineSimilarity_SelfIsOne(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		dim := rapid.IntRange(1, 32).Draw(t, "dim")
		a := make([]float64, dim)
		nonzero := false
		for i := 0; i < dim; i++ {
			a[i] = rapid.Float64Range(-100, 100).Draw(t, "a")
			if a[i] != 0 {
				nonzero = true
			}
		}
		if !nonzero {
			return
		}
		if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-9 {
			t.Fatalf("self-similarity = %v, want 1", got)
		}
	})
}

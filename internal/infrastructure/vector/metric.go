// Package vector holds the distance conventions shared by every dense index
// backend so that scores stay comparable across backends.
package vector

import (
	"fmt"
	"math"
	"sort"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

type Metric string

const (
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is 1 - cosine similarity.
	MetricCosine Metric = "cosine"
)

func ParseMetric(raw string) (Metric, error) {
	switch Metric(raw) {
	case "", MetricL2:
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown vector metric %q", raw)
	}
}

// Distance returns the metric distance between equal-length vectors.
func (m Metric) Distance(a, b []float32) float64 {
	switch m {
	case MetricCosine:
		var dot, na, nb float64
		for i := range a {
			x, y := float64(a[i]), float64(b[i])
			dot += x * y
			na += x * x
			nb += y * y
		}
		if na == 0 || nb == 0 {
			return 1
		}
		return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
	default:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return sum
	}
}

// Similarity maps a distance into (0, 1].
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	return 1 / (1 + distance)
}

// Hit is a dense match before it is turned into a SearchResult.
type Hit struct {
	Chunk    domain.Chunk
	Distance float64
}

// Rank orders hits by ascending distance, ties by chunk id, keeps the first k
// and converts them to dense results.
func Rank(hits []Hit, k int) []domain.SearchResult {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	out := make([]domain.SearchResult, 0, len(hits))
	for _, h := range hits {
		sim := Similarity(h.Distance)
		out = append(out, domain.SearchResult{
			ChunkID:    h.Chunk.ID,
			Text:       h.Chunk.Text,
			Metadata:   h.Chunk.Metadata,
			Score:      sim,
			RawScore:   h.Distance,
			DenseScore: sim,
			Provenance: domain.ProvenanceDense,
		})
	}
	return out
}

// ValidateVectors checks that vectors pair one-to-one with chunks and share a
// single non-zero dimension.
func ValidateVectors(chunks []domain.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("chunks/vectors mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	if len(vectors) == 0 {
		return 0, nil
	}
	dim := len(vectors[0])
	if dim == 0 {
		return 0, fmt.Errorf("empty vector at position 0")
	}
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return dim, nil
}

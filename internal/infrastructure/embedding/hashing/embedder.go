// Package hashing provides a deterministic signed feature-hashing embedder for
// offline runs. Vectors are unnormalised token counts, so unrelated texts land
// far apart under squared Euclidean distance.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

const DefaultDimension = 512

type Embedder struct {
	dimension int
}

func New(dimension int) *Embedder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &Embedder{dimension: dimension}
}

func (e *Embedder) ModelVersion() string {
	return fmt.Sprintf("hashing-fnv1a-d%d", e.dimension)
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "hashing embed", err)
		}
		vec, err := e.vector(text)
		if err != nil {
			return nil, domain.WrapError(domain.ErrEmbedding, "hashing embed", fmt.Errorf("text %d: %w", i, err))
		}
		out = append(out, vec)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) vector(text string) ([]float32, error) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("empty input")
	}
	vec := make([]float32, e.dimension)
	for _, tok := range tokens {
		h := hashToken(tok)
		sign := float32(1)
		if h&(1<<31) != 0 {
			sign = -1
		}
		vec[int(h%uint32(e.dimension))] += sign
	}
	return vec, nil
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	sum := h.Sum32()
	if sum == 0 {
		return 1
	}
	return sum
}

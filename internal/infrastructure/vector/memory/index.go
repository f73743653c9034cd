// Package memory is the in-process dense index: exact brute-force search over
// an immutable snapshot.
package memory

import (
	"context"
	"fmt"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector"
)

type Index struct {
	metric    vector.Metric
	dimension int
	chunks    []domain.Chunk
	vectors   [][]float32
}

func (ix *Index) Query(ctx context.Context, query []float32, k int, filter domain.SearchFilter) ([]domain.SearchResult, error) {
	if !ix.Ready() {
		return nil, domain.WrapError(domain.ErrRetrieval, "memory vector query", fmt.Errorf("index not initialised"))
	}
	if len(ix.chunks) == 0 {
		return nil, nil
	}
	if len(query) != ix.dimension {
		return nil, domain.WrapError(domain.ErrRetrieval, "memory vector query",
			fmt.Errorf("query dimension %d, index dimension %d", len(query), ix.dimension))
	}

	hits := make([]vector.Hit, 0, len(ix.chunks))
	for i, chunk := range ix.chunks {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !filter.Match(chunk.Metadata) {
			continue
		}
		hits = append(hits, vector.Hit{Chunk: chunk, Distance: ix.metric.Distance(query, ix.vectors[i])})
	}
	return vector.Rank(hits, k), nil
}

func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return len(ix.chunks)
}

func (ix *Index) Ready() bool {
	return ix != nil && ix.vectors != nil
}

func (ix *Index) Backend() string {
	return "memory"
}

// Builder creates memory indexes; the snapshot store persists their vectors.
type Builder struct {
	metric vector.Metric
}

func NewBuilder(metric vector.Metric) *Builder {
	return &Builder{metric: metric}
}

func (b *Builder) Build(_ context.Context, _ string, chunks []domain.Chunk, vectors [][]float32) (ports.VectorIndex, error) {
	dim, err := vector.ValidateVectors(chunks, vectors)
	if err != nil {
		return nil, domain.WrapError(domain.ErrFusionAlignment, "build memory index", err)
	}
	return &Index{
		metric:    b.metric,
		dimension: dim,
		chunks:    append([]domain.Chunk(nil), chunks...),
		vectors:   append(make([][]float32, 0, len(vectors)), vectors...),
	}, nil
}

func (b *Builder) Open(ctx context.Context, version string, chunks []domain.Chunk, vectors [][]float32) (ports.VectorIndex, error) {
	return b.Build(ctx, version, chunks, vectors)
}

package memory

import (
	"context"
	"math"
	"testing"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector"
)

func testChunks() []domain.Chunk {
	return []domain.Chunk{
		{ID: "chunk_0", Text: "a", Metadata: domain.BrandMetadata{Name: "A", Category: "간식"}},
		{ID: "chunk_1", Text: "b", Metadata: domain.WikiMetadata{Title: "고양이"}},
		{ID: "chunk_2", Text: "c", Metadata: domain.BrandMetadata{Name: "C", Category: "용품"}},
	}
}

func TestQueryOrdersByAscendingDistanceWithSimilarityTransform(t *testing.T) {
	ix, err := NewBuilder(vector.MetricL2).Build(context.Background(), "v1", testChunks(), [][]float32{
		{0, 0}, {1, 0}, {3, 0},
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	results, err := ix.Query(context.Background(), []float32{0.9, 0}, 3, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	order := []string{results[0].ChunkID, results[1].ChunkID, results[2].ChunkID}
	if order[0] != "chunk_1" || order[1] != "chunk_0" || order[2] != "chunk_2" {
		t.Fatalf("unexpected order %v", order)
	}
	// squared distance 0.01 -> similarity 1/1.01
	if math.Abs(results[0].Score-1/1.01) > 1e-6 {
		t.Fatalf("expected similarity 1/(1+d), got %f", results[0].Score)
	}
	for _, r := range results {
		if r.Score <= 0 || r.Score > 1 {
			t.Fatalf("similarity out of (0,1]: %f", r.Score)
		}
	}
}

func TestQueryBreaksDistanceTiesByChunkID(t *testing.T) {
	chunks := []domain.Chunk{
		{ID: "chunk_9", Text: "x", Metadata: domain.FAQMetadata{}},
		{ID: "chunk_1", Text: "y", Metadata: domain.FAQMetadata{}},
	}
	ix, _ := NewBuilder(vector.MetricL2).Build(context.Background(), "v1", chunks, [][]float32{{1, 0}, {-1, 0}})

	results, err := ix.Query(context.Background(), []float32{0, 0}, 2, domain.SearchFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if results[0].ChunkID != "chunk_1" {
		t.Fatalf("expected chunk id tie-break, got %s first", results[0].ChunkID)
	}
}

func TestQueryAppliesMetadataFilter(t *testing.T) {
	ix, _ := NewBuilder(vector.MetricCosine).Build(context.Background(), "v1", testChunks(), [][]float32{
		{1, 0}, {1, 0}, {0, 1},
	})

	results, err := ix.Query(context.Background(), []float32{1, 0}, 5, domain.SearchFilter{Category: "용품"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(results) != 1 || results[0].ChunkID != "chunk_2" {
		t.Fatalf("expected only chunk_2, got %+v", results)
	}
}

func TestQueryRejectsDimensionMismatch(t *testing.T) {
	ix, _ := NewBuilder(vector.MetricL2).Build(context.Background(), "v1", testChunks(), [][]float32{{0, 0}, {1, 0}, {3, 0}})
	_, err := ix.Query(context.Background(), []float32{1, 2, 3}, 1, domain.SearchFilter{})
	if !domain.IsKind(err, domain.ErrRetrieval) {
		t.Fatalf("expected ErrRetrieval, got %v", err)
	}
}

func TestBuildRejectsMisalignedVectors(t *testing.T) {
	_, err := NewBuilder(vector.MetricL2).Build(context.Background(), "v1", testChunks(), [][]float32{{0, 0}})
	if !domain.IsKind(err, domain.ErrFusionAlignment) {
		t.Fatalf("expected ErrFusionAlignment, got %v", err)
	}
}

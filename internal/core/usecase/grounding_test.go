package usecase

import (
	"testing"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

func scoredResults(scores ...float64) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(scores))
	for i, s := range scores {
		out = append(out, domain.SearchResult{ChunkID: string(rune('a' + i)), Score: s})
	}
	return out
}

func TestGroundingFilterKeepsOnlyScoresAtOrAboveThreshold(t *testing.T) {
	got := applyGroundingFilter(scoredResults(0.6, 0.15, 0.149, 0.01), 0.15)
	if got.Fallback || got.Empty {
		t.Fatalf("unexpected flags %+v", got)
	}
	if len(got.Results) != 2 {
		t.Fatalf("expected 2 survivors, got %d", len(got.Results))
	}
	for _, r := range got.Results {
		if r.Score < 0.15 || r.BelowThreshold {
			t.Fatalf("result %s violates threshold: %+v", r.ChunkID, r)
		}
	}
	if got.State() != "grounded" {
		t.Fatalf("expected grounded state, got %s", got.State())
	}
}

func TestGroundingFilterFallsBackToSingleTopCandidate(t *testing.T) {
	got := applyGroundingFilter(scoredResults(0.1, 0.05), 0.15)
	if !got.Fallback || got.Empty {
		t.Fatalf("expected fallback, got %+v", got)
	}
	if len(got.Results) != 1 || got.Results[0].ChunkID != "a" || !got.Results[0].BelowThreshold {
		t.Fatalf("expected only the top candidate flagged below threshold, got %+v", got.Results)
	}
	if got.State() != "fallback" {
		t.Fatalf("expected fallback state, got %s", got.State())
	}
}

func TestGroundingFilterReportsEmptyWithoutPlaceholder(t *testing.T) {
	got := applyGroundingFilter(nil, 0.15)
	if !got.Empty || len(got.Results) != 0 {
		t.Fatalf("expected explicit empty result, got %+v", got)
	}
	if got.State() != "empty" {
		t.Fatalf("expected empty state, got %s", got.State())
	}
}

package usecase

import "github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"

// GroundingResult is the filtered candidate set handed to the assembler.
type GroundingResult struct {
	Results []domain.SearchResult
	// Fallback is set when nothing cleared the threshold and the single best
	// candidate was kept anyway.
	Fallback bool
	// Empty means retrieval produced no candidates at all.
	Empty bool
}

// State names the context situation for logging and metrics.
func (g GroundingResult) State() string {
	switch {
	case g.Empty:
		return "empty"
	case g.Fallback:
		return "fallback"
	default:
		return "grounded"
	}
}

// applyGroundingFilter drops candidates scoring under threshold. Candidates
// arrive sorted best first.
func applyGroundingFilter(candidates []domain.SearchResult, threshold float64) GroundingResult {
	if len(candidates) == 0 {
		return GroundingResult{Empty: true}
	}

	kept := make([]domain.SearchResult, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= threshold {
			kept = append(kept, c)
		}
	}
	if len(kept) > 0 {
		return GroundingResult{Results: kept}
	}

	top := candidates[0]
	top.BelowThreshold = true
	return GroundingResult{Results: []domain.SearchResult{top}, Fallback: true}
}

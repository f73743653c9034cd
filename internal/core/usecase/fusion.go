package usecase

import (
	"fmt"
	"sort"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

type fusionWeights struct {
	dense  float64
	sparse float64
}

// fuseHybrid merges the dense and sparse legs into one ranking by weighted
// sum of their normalised scores. A chunk missing from a leg gets zero from
// that leg. Every candidate must resolve to the snapshot chunk table.
func fuseHybrid(snap *Snapshot, dense, sparse []domain.SearchResult, w fusionWeights, k int) ([]domain.SearchResult, error) {
	acc := make(map[string]*domain.SearchResult, len(dense)+len(sparse))
	order := make([]string, 0, len(dense)+len(sparse))

	addList := func(results []domain.SearchResult, leg domain.Provenance) error {
		seen := make(map[string]struct{}, len(results))
		for _, r := range results {
			if _, dup := seen[r.ChunkID]; dup {
				return domain.WrapError(domain.ErrFusionAlignment, "fuse candidates",
					fmt.Errorf("%s leg returned %s twice", leg, r.ChunkID))
			}
			seen[r.ChunkID] = struct{}{}

			chunk, ok := snap.Lookup(r.ChunkID)
			if !ok {
				return domain.WrapError(domain.ErrFusionAlignment, "fuse candidates",
					fmt.Errorf("%s leg returned unknown chunk %s", leg, r.ChunkID))
			}
			if chunk.Text != r.Text {
				return domain.WrapError(domain.ErrFusionAlignment, "fuse candidates",
					fmt.Errorf("%s leg text for %s differs from snapshot", leg, r.ChunkID))
			}

			candidate, ok := acc[r.ChunkID]
			if !ok {
				candidate = &domain.SearchResult{
					ChunkID:    chunk.ID,
					Text:       chunk.Text,
					Metadata:   chunk.Metadata,
					Provenance: leg,
				}
				acc[r.ChunkID] = candidate
				order = append(order, r.ChunkID)
			} else {
				candidate.Provenance = domain.ProvenanceHybrid
			}
			if leg == domain.ProvenanceDense {
				candidate.DenseScore = r.Score
			} else {
				candidate.SparseScore = r.Score
			}
		}
		return nil
	}

	if err := addList(dense, domain.ProvenanceDense); err != nil {
		return nil, err
	}
	if err := addList(sparse, domain.ProvenanceSparse); err != nil {
		return nil, err
	}

	out := make([]domain.SearchResult, 0, len(acc))
	for _, id := range order {
		c := acc[id]
		c.Score = w.dense*c.DenseScore + w.sparse*c.SparseScore
		c.RawScore = c.Score
		out = append(out, *c)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		bi, bj := max(out[i].DenseScore, out[i].SparseScore), max(out[j].DenseScore, out[j].SparseScore)
		if bi != bj {
			return bi > bj
		}
		return out[i].ChunkID < out[j].ChunkID
	})

	return trimCandidates(out, k), nil
}

func trimCandidates(results []domain.SearchResult, limit int) []domain.SearchResult {
	if limit <= 0 || len(results) <= limit {
		return results
	}
	return results[:limit]
}

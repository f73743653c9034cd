package usecase

import (
	"context"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
)

type StatusService struct {
	holder    *SnapshotHolder
	generator ports.Generator
}

func NewStatusService(holder *SnapshotHolder, generator ports.Generator) *StatusService {
	return &StatusService{holder: holder, generator: generator}
}

func (s *StatusService) Status(ctx context.Context) domain.SystemStatus {
	status := domain.SystemStatus{
		GenerationReachable: s.generator.HealthCheck(ctx),
		Model:               s.generator.Model(),
		Indexes: map[string]domain.IndexStatus{
			"vector": {},
			"sparse": {},
		},
	}

	snap := s.holder.Load()
	if snap == nil {
		return status
	}
	status.CorpusVersion = snap.Version
	status.EmbeddingModel = snap.EmbeddingModel
	status.ChunkCount = snap.Len()
	status.BuiltAt = snap.BuiltAt
	status.Indexes["vector"] = domain.IndexStatus{
		Ready:   snap.Vector.Ready(),
		Backend: snap.Vector.Backend(),
		Size:    snap.Vector.Len(),
	}
	status.Indexes["sparse"] = domain.IndexStatus{
		Ready:   snap.Sparse.Ready(),
		Backend: "bm25",
		Size:    snap.Sparse.Len(),
	}
	return status
}

func (s *StatusService) ListModels(ctx context.Context) ([]string, error) {
	return s.generator.ListModels(ctx)
}

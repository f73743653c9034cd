package usecase

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
)

// Snapshot pairs a dense and a sparse index built from the same chunk slice.
// It is never mutated after construction.
type Snapshot struct {
	Version        string
	EmbeddingModel string
	BuiltAt        time.Time
	Chunks         []domain.Chunk
	Vector         ports.VectorIndex
	Sparse         ports.SparseIndex

	byID map[string]int
}

// newSnapshot checks that both indexes cover exactly the chunk table.
func newSnapshot(version, model string, builtAt time.Time, chunks []domain.Chunk, vector ports.VectorIndex, sparse ports.SparseIndex) (*Snapshot, error) {
	if vector == nil || sparse == nil {
		return nil, domain.WrapError(domain.ErrRetrieval, "assemble snapshot", fmt.Errorf("missing index"))
	}
	if vector.Len() != len(chunks) || sparse.Len() != len(chunks) {
		return nil, domain.WrapError(domain.ErrFusionAlignment, "assemble snapshot",
			fmt.Errorf("chunks=%d vector=%d sparse=%d", len(chunks), vector.Len(), sparse.Len()))
	}
	byID := make(map[string]int, len(chunks))
	for i, c := range chunks {
		if _, dup := byID[c.ID]; dup {
			return nil, domain.WrapError(domain.ErrFusionAlignment, "assemble snapshot", fmt.Errorf("duplicate chunk id %s", c.ID))
		}
		byID[c.ID] = i
	}
	return &Snapshot{
		Version:        version,
		EmbeddingModel: model,
		BuiltAt:        builtAt,
		Chunks:         chunks,
		Vector:         vector,
		Sparse:         sparse,
		byID:           byID,
	}, nil
}

func (s *Snapshot) Lookup(id string) (domain.Chunk, bool) {
	i, ok := s.byID[id]
	if !ok {
		return domain.Chunk{}, false
	}
	return s.Chunks[i], true
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Chunks)
}

// SnapshotHolder is the single active-snapshot handle. Readers load it once per
// request and keep using that snapshot even if a rebuild swaps in another.
type SnapshotHolder struct {
	current atomic.Pointer[Snapshot]
}

func NewSnapshotHolder() *SnapshotHolder {
	return &SnapshotHolder{}
}

// Load returns the active snapshot or nil before the first build.
func (h *SnapshotHolder) Load() *Snapshot {
	return h.current.Load()
}

func (h *SnapshotHolder) Swap(next *Snapshot) *Snapshot {
	return h.current.Swap(next)
}

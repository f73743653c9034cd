package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
)

const snapshotPrefix = "snapshots/"

// CurrentSnapshotKey names the object holding the active version.
const CurrentSnapshotKey = snapshotPrefix + "CURRENT"

// SparseBuilder indexes a chunk slice for keyword retrieval.
type SparseBuilder func(chunks []domain.Chunk) ports.SparseIndex

// CorpusService owns the lifecycle of corpus snapshots: rebuilding from
// ingestion records, persisting, and reloading persisted versions.
type CorpusService struct {
	holder   *SnapshotHolder
	embedder ports.Embedder
	vectors  ports.VectorIndexBuilder
	sparse   SparseBuilder
	storage  ports.ObjectStorage
	events   ports.CorpusEvents

	rebuildMu sync.Mutex
	now       func() time.Time
}

func NewCorpusService(
	holder *SnapshotHolder,
	embedder ports.Embedder,
	vectors ports.VectorIndexBuilder,
	sparse SparseBuilder,
	storage ports.ObjectStorage,
	events ports.CorpusEvents,
) *CorpusService {
	return &CorpusService{
		holder:   holder,
		embedder: embedder,
		vectors:  vectors,
		sparse:   sparse,
		storage:  storage,
		events:   events,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// snapshotRecord is the persisted form of a snapshot. Indexes are rebuilt
// from it on load.
type snapshotRecord struct {
	Version        string         `json:"version"`
	EmbeddingModel string         `json:"embedding_model"`
	BuiltAt        time.Time      `json:"built_at"`
	Chunks         []domain.Chunk `json:"chunks"`
	Vectors        [][]float32    `json:"vectors"`
}

// Rebuild replaces the whole corpus. The previous snapshot stays active until
// the new one is fully built, verified and persisted.
func (s *CorpusService) Rebuild(ctx context.Context, records []domain.ChunkRecord) (string, error) {
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	chunks, err := s.validate(records)
	if err != nil {
		return "", err
	}

	builtAt := s.now()
	version := builtAt.Format("20060102T150405Z") + "-" + uuid.NewString()[:8]

	vectors, err := s.embed(ctx, chunks)
	if err != nil {
		return "", err
	}

	record := snapshotRecord{
		Version:        version,
		EmbeddingModel: s.embedder.ModelVersion(),
		BuiltAt:        builtAt,
		Chunks:         chunks,
		Vectors:        vectors,
	}
	snap, err := s.assemble(ctx, record, s.vectors.Build)
	if err != nil {
		return "", err
	}
	if err := s.persist(ctx, record); err != nil {
		return "", err
	}

	s.holder.Swap(snap)
	slog.Info("corpus_rebuilt", "version", version, "chunks", len(chunks), "embedding_model", snap.EmbeddingModel)

	if s.events != nil {
		if err := s.events.PublishCorpusRebuilt(ctx, version); err != nil {
			slog.Warn("corpus_event_publish_failed", "version", version, "error", err)
		}
	}
	return version, nil
}

// Reload activates a persisted snapshot. An empty version means the one
// recorded as current. Reloading the active version is a no-op.
func (s *CorpusService) Reload(ctx context.Context, version string) error {
	if s.storage == nil {
		return domain.WrapError(domain.ErrNotFound, "reload corpus", errors.New("snapshot storage is not configured"))
	}
	s.rebuildMu.Lock()
	defer s.rebuildMu.Unlock()

	if version == "" {
		current, err := s.currentVersion(ctx)
		if err != nil {
			return err
		}
		version = current
	}
	if active := s.holder.Load(); active != nil && active.Version == version {
		return nil
	}

	record, err := s.load(ctx, version)
	if err != nil {
		return err
	}
	if record.EmbeddingModel != s.embedder.ModelVersion() {
		slog.Warn("corpus_embedding_model_mismatch",
			"version", version,
			"snapshot_model", record.EmbeddingModel,
			"embedder_model", s.embedder.ModelVersion(),
		)
	}

	snap, err := s.assemble(ctx, record, s.vectors.Open)
	if err != nil {
		return err
	}
	s.holder.Swap(snap)
	slog.Info("corpus_reloaded", "version", version, "chunks", len(record.Chunks))
	return nil
}

func (s *CorpusService) validate(records []domain.ChunkRecord) ([]domain.Chunk, error) {
	if len(records) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "validate corpus", errors.New("corpus batch is empty"))
	}
	chunks := make([]domain.Chunk, 0, len(records))
	for i, rec := range records {
		text := strings.TrimSpace(rec.Text)
		if text == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "validate corpus", fmt.Errorf("record %d has empty text", i))
		}
		meta, err := domain.DecodeMetadata(rec.Metadata)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		chunks = append(chunks, domain.Chunk{
			ID:       fmt.Sprintf("chunk_%d", i),
			Text:     text,
			Metadata: meta,
		})
	}
	return chunks, nil
}

func (s *CorpusService) embed(ctx context.Context, chunks []domain.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		if domain.IsKind(err, domain.ErrEmbedding) {
			return nil, err
		}
		return nil, domain.WrapError(domain.ErrEmbedding, "embed corpus", err)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(domain.ErrFusionAlignment, "embed corpus",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}
	for i, vec := range vectors {
		if len(vec) == 0 || len(vec) != len(vectors[0]) {
			return nil, domain.WrapError(domain.ErrEmbedding, "embed corpus",
				fmt.Errorf("expected dimension %d for chunk %d, got %d", len(vectors[0]), i, len(vec)))
		}
	}
	return vectors, nil
}

type vectorBuildFunc func(ctx context.Context, version string, chunks []domain.Chunk, vectors [][]float32) (ports.VectorIndex, error)

// assemble builds both indexes from one chunk slice and verifies they agree.
func (s *CorpusService) assemble(ctx context.Context, record snapshotRecord, build vectorBuildFunc) (*Snapshot, error) {
	vectorIndex, err := build(ctx, record.Version, record.Chunks, record.Vectors)
	if err != nil {
		return nil, fmt.Errorf("build vector index: %w", err)
	}
	sparseIndex := s.sparse(record.Chunks)
	return newSnapshot(record.Version, record.EmbeddingModel, record.BuiltAt, record.Chunks, vectorIndex, sparseIndex)
}

func (s *CorpusService) persist(ctx context.Context, record snapshotRecord) error {
	if s.storage == nil {
		return nil
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return domain.WrapError(domain.ErrPersistence, "encode snapshot", err)
	}
	if err := s.storage.Save(ctx, snapshotKey(record.Version), bytes.NewReader(payload)); err != nil {
		return domain.WrapError(domain.ErrPersistence, "save snapshot", err)
	}
	if err := s.storage.Save(ctx, CurrentSnapshotKey, strings.NewReader(record.Version)); err != nil {
		return domain.WrapError(domain.ErrPersistence, "save current snapshot pointer", err)
	}
	return nil
}

func (s *CorpusService) currentVersion(ctx context.Context) (string, error) {
	rc, err := s.storage.Open(ctx, CurrentSnapshotKey)
	if err != nil {
		return "", fmt.Errorf("open current snapshot pointer: %w", err)
	}
	defer rc.Close()
	raw, err := io.ReadAll(io.LimitReader(rc, 256))
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "read current snapshot pointer", err)
	}
	version := strings.TrimSpace(string(raw))
	if version == "" {
		return "", domain.WrapError(domain.ErrNotFound, "read current snapshot pointer", errors.New("pointer is empty"))
	}
	return version, nil
}

func (s *CorpusService) load(ctx context.Context, version string) (snapshotRecord, error) {
	rc, err := s.storage.Open(ctx, snapshotKey(version))
	if err != nil {
		return snapshotRecord{}, fmt.Errorf("open snapshot %s: %w", version, err)
	}
	defer rc.Close()

	var record snapshotRecord
	if err := json.NewDecoder(rc).Decode(&record); err != nil {
		return snapshotRecord{}, domain.WrapError(domain.ErrRetrieval, "decode snapshot", err)
	}
	if record.Version != version {
		return snapshotRecord{}, domain.WrapError(domain.ErrFusionAlignment, "decode snapshot",
			fmt.Errorf("file holds version %q, expected %q", record.Version, version))
	}
	return record, nil
}

func snapshotKey(version string) string {
	return snapshotPrefix + version + ".json"
}

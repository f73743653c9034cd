package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/lexical/bm25"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/infrastructure/vector/memory"
)

// constEmbedder maps every text to the same vector.
type constEmbedder struct {
	vec      []float32
	model    string
	err      error
	queryErr error
	calls    int
}

func (f *constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = append([]float32(nil), f.vec...)
	}
	return out, nil
}

func (f *constEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return append([]float32(nil), f.vec...), nil
}

func (f *constEmbedder) ModelVersion() string {
	if f.model == "" {
		return "const"
	}
	return f.model
}

// fixedEmbedder returns its vectors as-is, whatever the input.
type fixedEmbedder struct {
	vectors [][]float32
}

func (f fixedEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return f.vectors, nil
}

func (f fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return f.vectors[0], nil
}

func (fixedEmbedder) ModelVersion() string { return "fixed" }

type stubGenerator struct {
	text      string
	tokens    []string
	err       error
	streamErr error
	healthy   bool
	models    []string
	requests  []domain.GenerationRequest
}

func (f *stubGenerator) Generate(_ context.Context, req domain.GenerationRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *stubGenerator) GenerateStream(_ context.Context, req domain.GenerationRequest, onToken func(string) error) error {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return f.err
	}
	for _, tok := range f.tokens {
		if err := onToken(tok); err != nil {
			return err
		}
	}
	return f.streamErr
}

func (f *stubGenerator) HealthCheck(context.Context) bool { return f.healthy }

func (f *stubGenerator) ListModels(context.Context) ([]string, error) { return f.models, nil }

func (f *stubGenerator) Model() string { return "stub-model" }

type memoryConversationStore struct {
	mu            sync.Mutex
	conversations map[string]domain.Conversation
	messages      []domain.Message
	appendErr     error
}

func newMemoryConversationStore() *memoryConversationStore {
	return &memoryConversationStore{conversations: map[string]domain.Conversation{}}
}

func (s *memoryConversationStore) CreateConversation(_ context.Context, owner, title string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv := domain.Conversation{
		ID:        fmt.Sprintf("conv-%d", len(s.conversations)+1),
		Owner:     owner,
		Title:     title,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	s.conversations[conv.ID] = conv
	return &conv, nil
}

func (s *memoryConversationStore) GetConversation(_ context.Context, id string) (*domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get conversation", errors.New(id))
	}
	return &conv, nil
}

func (s *memoryConversationStore) ListConversations(_ context.Context, owner string, limit int) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, 0)
	for _, c := range s.conversations {
		if c.Owner == owner && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memoryConversationStore) AppendMessage(_ context.Context, msg domain.Message) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return "", s.appendErr
	}
	msg.ID = fmt.Sprintf("msg-%d", len(s.messages)+1)
	s.messages = append(s.messages, msg)
	return msg.ID, nil
}

func (s *memoryConversationStore) ListMessages(_ context.Context, conversationID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, 0)
	for _, m := range s.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out, nil
}

type recordingObserver struct {
	mu              sync.Mutex
	stages          []domain.Stage
	failures        []domain.Stage
	outcomes        []string
	persistFailures int
}

func (o *recordingObserver) ObserveStage(stage domain.Stage, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveOutcome(mode, contextState string, _ int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, mode+":"+contextState)
}

func (o *recordingObserver) ObserveFailure(stage domain.Stage, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = append(o.failures, stage)
}

func (o *recordingObserver) ObservePersistenceFailure() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.persistFailures++
}

type memoryObjectStorage struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemoryObjectStorage() *memoryObjectStorage {
	return &memoryObjectStorage{files: map[string][]byte{}}
}

func (s *memoryObjectStorage) Save(_ context.Context, key string, data io.Reader) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[key] = raw
	return nil
}

func (s *memoryObjectStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.files[key]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "open object", errors.New(key))
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

type recordingEvents struct {
	published []string
	err       error
}

func (e *recordingEvents) PublishCorpusRebuilt(_ context.Context, version string) error {
	e.published = append(e.published, version)
	return e.err
}

func (e *recordingEvents) SubscribeCorpusRebuilt(context.Context, func(context.Context, string) error) error {
	return nil
}

func buildSparse(chunks []domain.Chunk) ports.SparseIndex {
	return bm25.Build(chunks, bm25.DefaultOptions())
}

func newTestCorpusService(holder *SnapshotHolder, embedder ports.Embedder, storage ports.ObjectStorage, events ports.CorpusEvents) *CorpusService {
	return NewCorpusService(holder, embedder, memory.NewBuilder(vector.MetricL2), buildSparse, storage, events)
}

func brandRecord(text, name string) domain.ChunkRecord {
	return domain.ChunkRecord{
		Text:     text,
		Metadata: map[string]any{"source": "brand", "brand_name": name},
	}
}

// loadCorpus rebuilds records into a fresh holder and fails the test on error.
func loadCorpus(t *testing.T, embedder ports.Embedder, records ...domain.ChunkRecord) *SnapshotHolder {
	t.Helper()
	holder := NewSnapshotHolder()
	svc := newTestCorpusService(holder, embedder, nil, nil)
	if _, err := svc.Rebuild(context.Background(), records); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return holder
}

package ports

import (
	"context"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

// Embedder builds vectors for chunks and query text with one fixed model.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelVersion() string
}

// VectorIndex answers nearest-neighbour queries over one corpus snapshot.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, k int, filter domain.SearchFilter) ([]domain.SearchResult, error)
	Len() int
	Ready() bool
	Backend() string
}

// SparseIndex is the keyword leg over one corpus snapshot. Scores are
// normalised into [0, 1).
type SparseIndex interface {
	Tokenize(text string) []string
	Query(tokens []string, k int, filter domain.SearchFilter) []domain.SearchResult
	Len() int
	Ready() bool
}

// VectorIndexBuilder creates a vector index for a corpus version. Open
// reattaches a previously built index, rebuilding it when needed.
type VectorIndexBuilder interface {
	Build(ctx context.Context, version string, chunks []domain.Chunk, vectors [][]float32) (VectorIndex, error)
	Open(ctx context.Context, version string, chunks []domain.Chunk, vectors [][]float32) (VectorIndex, error)
}

// Generator is the stateless language-model service.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
	GenerateStream(ctx context.Context, req domain.GenerationRequest, onToken func(string) error) error
	HealthCheck(ctx context.Context) bool
	ListModels(ctx context.Context) ([]string, error)
	Model() string
}

// ConversationStore persists conversations and their append-only messages.
type ConversationStore interface {
	CreateConversation(ctx context.Context, owner, title string) (*domain.Conversation, error)
	GetConversation(ctx context.Context, id string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, owner string, limit int) ([]domain.Conversation, error)
	AppendMessage(ctx context.Context, message domain.Message) (string, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

package ports

import (
	"context"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

// ChatService is the inbound contract for grounded question answering.
type ChatService interface {
	Answer(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error)
	Stream(ctx context.Context, req domain.QueryRequest, emit func(domain.StreamEvent) error) error
}

// CorpusIngestor is the only way the corpus changes.
type CorpusIngestor interface {
	Rebuild(ctx context.Context, records []domain.ChunkRecord) (string, error)
}

// StatusReporter exposes service introspection.
type StatusReporter interface {
	Status(ctx context.Context) domain.SystemStatus
	ListModels(ctx context.Context) ([]string, error)
}

// ConversationService is the inbound read/write model for conversations.
type ConversationService interface {
	CreateConversation(ctx context.Context, owner, title string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, owner string, limit int) ([]domain.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error)
}

package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/ports"
)

const (
	defaultConversationListLimit = 20
	maxConversationListLimit     = 100
	maxConversationTitleRunes    = 200
)

type ConversationUseCase struct {
	store ports.ConversationStore
}

func NewConversationUseCase(store ports.ConversationStore) *ConversationUseCase {
	return &ConversationUseCase{store: store}
}

func (uc *ConversationUseCase) CreateConversation(ctx context.Context, owner, title string) (*domain.Conversation, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create conversation", errors.New("owner is required"))
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = "새 대화"
	}
	if runes := []rune(title); len(runes) > maxConversationTitleRunes {
		title = string(runes[:maxConversationTitleRunes])
	}
	conv, err := uc.store.CreateConversation(ctx, owner, title)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (uc *ConversationUseCase) ListConversations(ctx context.Context, owner string, limit int) ([]domain.Conversation, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list conversations", errors.New("owner is required"))
	}
	if limit <= 0 {
		limit = defaultConversationListLimit
	}
	limit = min(limit, maxConversationListLimit)
	return uc.store.ListConversations(ctx, owner, limit)
}

func (uc *ConversationUseCase) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	conversationID = strings.TrimSpace(conversationID)
	if conversationID == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "list messages", errors.New("conversation id is required"))
	}
	if _, err := uc.store.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return uc.store.ListMessages(ctx, conversationID)
}

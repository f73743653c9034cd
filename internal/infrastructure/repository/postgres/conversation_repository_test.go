package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*ConversationRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	repo := NewConversationRepository(db)
	return repo, mock, func() { _ = db.Close() }
}

func TestGetConversationReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, owner, title, created_at, updated_at").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetConversation(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateConversationWrapsDriverFailureAsPersistence(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("INSERT INTO conversations").
		WithArgs(sqlmock.AnyArg(), "visitor-1", "부스 문의", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	_, err := repo.CreateConversation(context.Background(), "visitor-1", "부스 문의")
	if !domain.IsKind(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessageTouchesConversationAndInserts(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(sqlmock.AnyArg(), "conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("msg-1", "conv-1", "assistant", "A-1 부스입니다", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	id, err := repo.AppendMessage(context.Background(), domain.Message{
		ID:             "msg-1",
		ConversationID: "conv-1",
		Role:           domain.RoleAssistant,
		Content:        "A-1 부스입니다",
		Citations:      []domain.Citation{{Label: "[1]", Title: "테스트브랜드", Source: domain.SourceBrand, Score: 0.25}},
	})
	if err != nil {
		t.Fatalf("AppendMessage() error = %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("expected msg-1, got %s", id)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendMessageReturnsNotFoundForUnknownConversation(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE conversations").
		WithArgs(sqlmock.AnyArg(), "missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.AppendMessage(context.Background(), domain.Message{
		ConversationID: "missing",
		Role:           domain.RoleUser,
		Content:        "안녕",
	})
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListMessagesDecodesCitations(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	ts := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "conversation_id", "role", "content", "citations", "created_at"}).
		AddRow("m1", "conv-1", "user", "부스 어디?", []byte(`[]`), ts).
		AddRow("m2", "conv-1", "assistant", "A-1", []byte(`[{"label":"[1]","title":"테스트브랜드","source":"brand","score":0.25}]`), ts)
	mock.ExpectQuery("SELECT id, conversation_id, role, content, citations, created_at").
		WithArgs("conv-1").
		WillReturnRows(rows)

	messages, err := repo.ListMessages(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(messages))
	}
	if messages[0].Role != domain.RoleUser || len(messages[0].Citations) != 0 {
		t.Fatalf("unexpected first message %+v", messages[0])
	}
	if len(messages[1].Citations) != 1 || messages[1].Citations[0].Title != "테스트브랜드" || messages[1].Citations[0].Source != domain.SourceBrand {
		t.Fatalf("unexpected citations %+v", messages[1].Citations)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListConversationsOrdersByRecency(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	older := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	rows := sqlmock.NewRows([]string{"id", "owner", "title", "created_at", "updated_at"}).
		AddRow("c2", "visitor-1", "굿즈", older, newer).
		AddRow("c1", "visitor-1", "주차", older, older)
	mock.ExpectQuery(`ORDER BY updated_at DESC, id ASC LIMIT 20`).
		WithArgs("visitor-1").
		WillReturnRows(rows)

	convs, err := repo.ListConversations(context.Background(), "visitor-1", 20)
	if err != nil {
		t.Fatalf("ListConversations() error = %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "c2" {
		t.Fatalf("unexpected conversations %+v", convs)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

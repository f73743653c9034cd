package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/newkimjiwon/GDPP-AI-Docent-LLM/internal/core/domain"
)

var (
	psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

	conversationColumns = []string{"id", "owner", "title", "created_at", "updated_at"}
	messageColumns      = []string{"id", "conversation_id", "role", "content", "citations", "created_at"}
)

type ConversationRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewConversationRepository(db *sql.DB) *ConversationRepository {
	return &ConversationRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ConversationRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/ingest startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101901)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	title TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_owner_updated
	ON conversations (owner, updated_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	seq BIGSERIAL,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	citations JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
	ON messages (conversation_id, created_at, seq);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ConversationRepository) CreateConversation(ctx context.Context, owner, title string) (*domain.Conversation, error) {
	now := r.now()
	conv := domain.Conversation{
		ID:        uuid.NewString(),
		Owner:     owner,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	query, args, err := psql.Insert("conversations").
		Columns(conversationColumns...).
		Values(conv.ID, conv.Owner, conv.Title, conv.CreatedAt, conv.UpdatedAt).
		ToSql()
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "build create conversation", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "create conversation", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	query, args, err := psql.Select(conversationColumns...).
		From("conversations").
		Where(squirrel.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "build get conversation", err)
	}

	var conv domain.Conversation
	row := r.db.QueryRowContext(ctx, query, args...)
	if err := row.Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "get conversation", fmt.Errorf("conversation %s", id))
		}
		return nil, domain.WrapError(domain.ErrPersistence, "get conversation", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) ListConversations(ctx context.Context, owner string, limit int) ([]domain.Conversation, error) {
	query, args, err := psql.Select(conversationColumns...).
		From("conversations").
		Where(squirrel.Eq{"owner": owner}).
		OrderBy("updated_at DESC", "id ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "build list conversations", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "list conversations", err)
	}
	defer rows.Close()

	out := make([]domain.Conversation, 0, limit)
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(&conv.ID, &conv.Owner, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, domain.WrapError(domain.ErrPersistence, "scan conversation", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "iterate conversations", err)
	}
	return out, nil
}

// AppendMessage inserts the message and bumps the conversation's updated_at
// in one transaction.
func (r *ConversationRepository) AppendMessage(ctx context.Context, message domain.Message) (string, error) {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = r.now()
	}
	citations := message.Citations
	if citations == nil {
		citations = []domain.Citation{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "marshal citations", err)
	}

	touch, touchArgs, err := psql.Update("conversations").
		Set("updated_at", message.CreatedAt).
		Where(squirrel.Eq{"id": message.ConversationID}).
		ToSql()
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "build touch conversation", err)
	}
	insert, insertArgs, err := psql.Insert("messages").
		Columns(messageColumns...).
		Values(message.ID, message.ConversationID, string(message.Role), message.Content, citationsJSON, message.CreatedAt).
		ToSql()
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "build insert message", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "begin append tx", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, touch, touchArgs...)
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "touch conversation", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "touch conversation rows affected", err)
	}
	if affected == 0 {
		return "", domain.WrapError(domain.ErrNotFound, "append message", fmt.Errorf("conversation %s", message.ConversationID))
	}

	if _, err := tx.ExecContext(ctx, insert, insertArgs...); err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "insert message", err)
	}
	if err := tx.Commit(); err != nil {
		return "", domain.WrapError(domain.ErrPersistence, "commit append tx", err)
	}
	return message.ID, nil
}

func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	query, args, err := psql.Select(messageColumns...).
		From("messages").
		Where(squirrel.Eq{"conversation_id": conversationID}).
		OrderBy("created_at ASC", "seq ASC").
		ToSql()
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "build list messages", err)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "list messages", err)
	}
	defer rows.Close()

	out := make([]domain.Message, 0)
	for rows.Next() {
		var (
			msg           domain.Message
			role          string
			citationsJSON []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content, &citationsJSON, &msg.CreatedAt); err != nil {
			return nil, domain.WrapError(domain.ErrPersistence, "scan message", err)
		}
		msg.Role = domain.Role(role)
		if len(citationsJSON) > 0 {
			if err := json.Unmarshal(citationsJSON, &msg.Citations); err != nil {
				return nil, domain.WrapError(domain.ErrPersistence, "unmarshal citations", err)
			}
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.WrapError(domain.ErrPersistence, "iterate messages", err)
	}
	return out, nil
}

package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// ConversationStore implements C9's SessionRepository boundary: session
// lifecycle plus append-only message history, pgx-backed like the teacher's
// session.go it replaces (that file modeled a single-tenant "learning
// session"; this one generalizes to spec.md §3's ConversationSession/Message
// pair C9 and C10 actually consume).
type ConversationStore struct {
	pool *pgxpool.Pool
}

// NewConversationStore creates a ConversationStore.
func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{pool: pool}
}

// ErrSessionNotFound is returned when a session ID has no matching row.
var ErrSessionNotFound = fmt.Errorf("repository: conversation session not found")

// ErrMessageLimitReached is returned when a session already holds
// max_messages messages (spec.md §3/§8: "Session at message_count ==
// max_messages rejects appends with validation").
var ErrMessageLimitReached = fmt.Errorf("repository: session message_count has reached max_messages")

// GetSession loads a session by ID. A missing session returns
// ErrSessionNotFound; sessions are created only through CreateSession.
func (r *ConversationStore) GetSession(ctx context.Context, sessionID string) (*model.ConversationSession, error) {
	s := &model.ConversationSession{}
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, collection_id, name, status, context_window_size, max_messages, message_count, created_at, updated_at
		FROM conversation_sessions WHERE id = $1`, sessionID,
	).Scan(&s.ID, &s.UserID, &s.CollectionID, &s.Name, &status, &s.ContextWindowSize, &s.MaxMessages, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.GetSession: %w", err)
	}
	s.Status = model.SessionStatus(status)
	return s, nil
}

// CreateSession inserts a new ACTIVE session.
func (r *ConversationStore) CreateSession(ctx context.Context, s *model.ConversationSession) error {
	now := time.Now().UTC()
	s.Status = model.SessionActive
	err := r.pool.QueryRow(ctx, `
		INSERT INTO conversation_sessions (id, user_id, collection_id, name, status, context_window_size, max_messages, message_count, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 0, $6, $6)
		RETURNING id, created_at, updated_at`,
		s.UserID, s.CollectionID, s.Name, string(s.Status), s.ContextWindowSize, now,
	).Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("repository.ConversationStore.CreateSession: %w", err)
	}
	return nil
}

// LastMessages returns up to limit most-recent messages in the session, in
// chronological order.
func (r *ConversationStore) LastMessages(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, session_id, role, type, content, created_at, metadata
		FROM conversation_messages
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.LastMessages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		var m model.Message
		var role, typ string
		var metaRaw []byte
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &typ, &m.Content, &m.CreatedAt, &metaRaw); err != nil {
			return nil, fmt.Errorf("repository.ConversationStore.LastMessages: scan: %w", err)
		}
		m.Role = model.MessageRole(role)
		m.Type = model.MessageType(typ)
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &m.Metadata); err != nil {
				return nil, fmt.Errorf("repository.ConversationStore.LastMessages: unmarshal metadata: %w", err)
			}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendMessage writes msg and returns the session's updated row. Appends
// within a session are serialized by the SELECT ... FOR UPDATE row lock taken
// at the start of the transaction; EXPIRED sessions reject the write
// (spec.md §3 invariant).
func (r *ConversationStore) AppendMessage(ctx context.Context, sessionID string, msg model.Message) (*model.ConversationSession, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var status string
	var maxMessages, messageCount int
	if err := tx.QueryRow(ctx, `SELECT status, max_messages, message_count FROM conversation_sessions WHERE id = $1 FOR UPDATE`, sessionID).
		Scan(&status, &maxMessages, &messageCount); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: lock session: %w", err)
	}
	if model.SessionStatus(status) == model.SessionExpired {
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: session %s is EXPIRED", sessionID)
	}
	if messageCount >= maxMessages {
		return nil, ErrMessageLimitReached
	}

	metaRaw, err := json.Marshal(msg.Metadata)
	if err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: marshal metadata: %w", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		INSERT INTO conversation_messages (id, session_id, role, type, content, created_at, metadata)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)`,
		sessionID, string(msg.Role), string(msg.Type), msg.Content, now, metaRaw,
	); err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: insert: %w", err)
	}

	s := &model.ConversationSession{}
	var newStatus string
	if err := tx.QueryRow(ctx, `
		UPDATE conversation_sessions SET message_count = message_count + 1, updated_at = $2
		WHERE id = $1
		RETURNING id, user_id, collection_id, name, status, context_window_size, max_messages, message_count, created_at, updated_at`,
		sessionID, now,
	).Scan(&s.ID, &s.UserID, &s.CollectionID, &s.Name, &newStatus, &s.ContextWindowSize, &s.MaxMessages, &s.MessageCount, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: update session: %w", err)
	}
	s.Status = model.SessionStatus(newStatus)

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("repository.ConversationStore.AppendMessage: commit: %w", err)
	}
	return s, nil
}

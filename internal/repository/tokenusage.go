package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// TokenUsageLog is an append-only durable record of every LLMUsage the
// in-memory C6 ring buffer sees, for billing/audit queries that outlive a
// process restart. Grounded on the teacher's usage.go Increment/GetUsage
// counter pattern, generalized from a single rolled-up count per metric to
// one row per call so per-service/per-model breakdowns stay queryable.
type TokenUsageLog struct {
	pool *pgxpool.Pool
}

// NewTokenUsageLog creates a TokenUsageLog.
func NewTokenUsageLog(pool *pgxpool.Pool) *TokenUsageLog {
	return &TokenUsageLog{pool: pool}
}

// Append records one LLMUsage row. Never blocks the caller on failure
// beyond returning the error; callers in the hot path should log-and-continue
// rather than fail a turn over an audit-log write.
func (l *TokenUsageLog) Append(ctx context.Context, u model.LLMUsage) error {
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := l.pool.Exec(ctx, `
		INSERT INTO token_usage (id, user_id, session_id, service, model_id, prompt_tokens, completion_tokens, total_tokens, at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8)`,
		u.UserID, u.SessionID, string(u.Service), u.ModelID, u.PromptTokens, u.CompletionTokens, u.TotalTokens, at)
	if err != nil {
		return fmt.Errorf("repository.TokenUsageLog.Append: %w", err)
	}
	return nil
}

// TotalForUser sums total_tokens across all of a user's calls in [since, now).
func (l *TokenUsageLog) TotalForUser(ctx context.Context, userID string, since time.Time) (int64, error) {
	var total int64
	err := l.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(total_tokens), 0) FROM token_usage WHERE user_id = $1 AND at >= $2`,
		userID, since,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("repository.TokenUsageLog.TotalForUser: %w", err)
	}
	return total, nil
}

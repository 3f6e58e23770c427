package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// ErrConfigNotFound is returned when a user has no stored pipeline config row.
var ErrConfigNotFound = errors.New("repository: pipeline config not found")

// PipelineConfigStore persists per-user PipelineConfig rows. Grounded on the
// teacher's internal/repository/mercury_config.go upsert pattern, retargeted
// at pipeline_configs (spec.md §6).
type PipelineConfigStore struct {
	pool *pgxpool.Pool
}

// NewPipelineConfigStore creates a PipelineConfigStore over an existing pool.
func NewPipelineConfigStore(pool *pgxpool.Pool) *PipelineConfigStore {
	return &PipelineConfigStore{pool: pool}
}

// Get returns the stored config for userID, or ErrConfigNotFound if none exists.
func (s *PipelineConfigStore) Get(ctx context.Context, userID string) (*model.PipelineConfig, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT user_id, provider, model_id, max_tokens, temperature, top_p,
		       top_k_retrieval, top_k_final, rerank_enabled, rerank_model,
		       cot_enabled, cot_max_depth, cot_quality_threshold, cot_max_retries
		FROM pipeline_configs WHERE user_id = $1`, userID)

	var c model.PipelineConfig
	err := row.Scan(
		&c.UserID, &c.Provider, &c.ModelID, &c.MaxTokens, &c.Temperature, &c.TopP,
		&c.TopKRetrieval, &c.TopKFinal, &c.RerankEnabled, &c.RerankModel,
		&c.CoTEnabled, &c.CoTMaxDepth, &c.CoTQualityThreshold, &c.CoTMaxRetries,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Upsert writes cfg, replacing any existing row for cfg.UserID
// (last-writer-wins, spec.md §4.13).
func (s *PipelineConfigStore) Upsert(ctx context.Context, cfg model.PipelineConfig) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_configs (
			user_id, provider, model_id, max_tokens, temperature, top_p,
			top_k_retrieval, top_k_final, rerank_enabled, rerank_model,
			cot_enabled, cot_max_depth, cot_quality_threshold, cot_max_retries
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (user_id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model_id = EXCLUDED.model_id,
			max_tokens = EXCLUDED.max_tokens,
			temperature = EXCLUDED.temperature,
			top_p = EXCLUDED.top_p,
			top_k_retrieval = EXCLUDED.top_k_retrieval,
			top_k_final = EXCLUDED.top_k_final,
			rerank_enabled = EXCLUDED.rerank_enabled,
			rerank_model = EXCLUDED.rerank_model,
			cot_enabled = EXCLUDED.cot_enabled,
			cot_max_depth = EXCLUDED.cot_max_depth,
			cot_quality_threshold = EXCLUDED.cot_quality_threshold,
			cot_max_retries = EXCLUDED.cot_max_retries`,
		cfg.UserID, cfg.Provider, cfg.ModelID, cfg.MaxTokens, cfg.Temperature, cfg.TopP,
		cfg.TopKRetrieval, cfg.TopKFinal, cfg.RerankEnabled, cfg.RerankModel,
		cfg.CoTEnabled, cfg.CoTMaxDepth, cfg.CoTQualityThreshold, cfg.CoTMaxRetries,
	)
	return err
}

// Package configstore implements C13: lazy per-user PipelineConfig creation
// with constant defaults, whitelist-validated per-request overrides, and
// last-writer-wins persistence (spec.md §4.13).
//
// Grounded on the teacher's internal/repository/mercury_config.go upsert
// idiom (kept, generalized from a singleton config row to one row per user)
// and internal/service's config-resolution pattern.
package configstore

import (
	"context"
	"errors"
	"log/slog"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/repository"
)

// Repository is the persistence boundary configstore reads/writes through.
// Satisfied by *repository.PipelineConfigStore; Get must return
// repository.ErrConfigNotFound (wrapped or bare) when no row exists yet.
type Repository interface {
	Get(ctx context.Context, userID string) (*model.PipelineConfig, error)
	Upsert(ctx context.Context, cfg model.PipelineConfig) error
}

// Store resolves and persists per-user PipelineConfig (C13).
type Store struct {
	repo Repository
}

// New creates a Store.
func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// Get returns userID's stored config, lazily creating and persisting the
// constant defaults the first time a user is seen (spec.md §4.13).
func (s *Store) Get(ctx context.Context, userID string) (model.PipelineConfig, error) {
	cfg, err := s.repo.Get(ctx, userID)
	if err == nil {
		return *cfg, nil
	}
	if !errors.Is(err, repository.ErrConfigNotFound) {
		return model.PipelineConfig{}, err
	}

	defaults := model.DefaultPipelineConfig(userID)
	if err := s.repo.Upsert(ctx, defaults); err != nil {
		return model.PipelineConfig{}, err
	}
	slog.Info("[CONFIGSTORE] created default pipeline config", "user_id", userID)
	return defaults, nil
}

// Update applies a last-writer-wins full replacement of userID's config
// (spec.md §4.13).
func (s *Store) Update(ctx context.Context, cfg model.PipelineConfig) error {
	return s.repo.Upsert(ctx, cfg)
}

// ResolveOverride merges a per-request ConfigOverride onto base, field by
// field, per the whitelist spec.md §4.9/§4.13 define. Keys outside the
// whitelist never reach ConfigOverride (validated at the HTTP boundary), so
// this function only applies whitelisted fields that are non-nil.
func ResolveOverride(base model.PipelineConfig, override *model.ConfigOverride) model.PipelineConfig {
	if override == nil {
		return base
	}
	resolved := base
	if override.CoTEnabled != nil {
		resolved.CoTEnabled = *override.CoTEnabled
	}
	return resolved
}

package configstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/repository"
)

type fakeRepo struct {
	rows        map[string]model.PipelineConfig
	upsertCalls int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rows: make(map[string]model.PipelineConfig)}
}

func (f *fakeRepo) Get(ctx context.Context, userID string) (*model.PipelineConfig, error) {
	if cfg, ok := f.rows[userID]; ok {
		return &cfg, nil
	}
	return nil, repository.ErrConfigNotFound
}

func (f *fakeRepo) Upsert(ctx context.Context, cfg model.PipelineConfig) error {
	f.upsertCalls++
	f.rows[cfg.UserID] = cfg
	return nil
}

func TestGet_LazilyCreatesDefaultsOnFirstCall(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo)

	cfg, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", cfg.UserID)
	assert.Equal(t, 1, repo.upsertCalls)
	assert.Equal(t, model.DefaultPipelineConfig("user-1"), cfg)
}

func TestGet_ReturnsExistingRowWithoutReCreating(t *testing.T) {
	repo := newFakeRepo()
	repo.rows["user-1"] = model.PipelineConfig{UserID: "user-1", Temperature: 0.99}
	store := New(repo)

	cfg, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, 0.99, cfg.Temperature)
	assert.Equal(t, 0, repo.upsertCalls)
}

func TestUpdate_LastWriterWins(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo)

	require.NoError(t, store.Update(context.Background(), model.PipelineConfig{UserID: "u", Temperature: 0.1}))
	require.NoError(t, store.Update(context.Background(), model.PipelineConfig{UserID: "u", Temperature: 0.9}))

	cfg, err := store.Get(context.Background(), "u")
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Temperature)
}

func TestResolveOverride_NilOverrideReturnsBaseUnchanged(t *testing.T) {
	base := model.DefaultPipelineConfig("u")
	got := ResolveOverride(base, nil)
	assert.Equal(t, base, got)
}

func TestResolveOverride_OnlySuppliedFieldsChange(t *testing.T) {
	base := model.DefaultPipelineConfig("u")
	base.CoTEnabled = false
	truth := true
	got := ResolveOverride(base, &model.ConfigOverride{CoTEnabled: &truth})
	assert.True(t, got.CoTEnabled)
	assert.Equal(t, base.Temperature, got.Temperature, "unsupplied fields fall back to base")
}

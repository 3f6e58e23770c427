package rerank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/model"
)

type fakeRerank struct {
	results []model.QueryResult
	err     error
	delay   time.Duration
}

func (f *fakeRerank) Rerank(ctx context.Context, query string, candidates []model.QueryResult, topK int) ([]model.QueryResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func candidates(n int) []model.QueryResult {
	out := make([]model.QueryResult, n)
	for i := range out {
		out[i] = model.QueryResult{ChunkRef: model.Chunk{ID: string(rune('a' + i))}, Score: float64(n - i), Source: model.SourceVector}
	}
	return out
}

func TestRerank_NilProviderFallsBackToVectorOrder(t *testing.T) {
	r := New(nil, 0)
	out := r.Rerank(context.Background(), "q", candidates(5), 3)
	assert.False(t, out.Reranked)
	require.Len(t, out.Results, 3)
	assert.Equal(t, "a", out.Results[0].ChunkRef.ID)
}

func TestRerank_ProviderErrorFallsBackGracefully(t *testing.T) {
	r := New(&fakeRerank{err: errors.New("provider down")}, 0)
	out := r.Rerank(context.Background(), "q", candidates(4), 2)
	assert.False(t, out.Reranked)
	assert.Error(t, out.Err)
	require.Len(t, out.Results, 2)
}

func TestRerank_TimeoutFallsBackToVectorOrder(t *testing.T) {
	r := New(&fakeRerank{delay: 50 * time.Millisecond, results: candidates(4)}, 5*time.Millisecond)
	out := r.Rerank(context.Background(), "q", candidates(4), 2)
	assert.False(t, out.Reranked)
	assert.Error(t, out.Err)
}

func TestRerank_SuccessReturnsProviderOrder(t *testing.T) {
	reranked := []model.QueryResult{
		{ChunkRef: model.Chunk{ID: "z"}, Score: 0.9, Source: model.SourceRerank},
	}
	r := New(&fakeRerank{results: reranked}, 0)
	out := r.Rerank(context.Background(), "q", candidates(4), 1)
	assert.True(t, out.Reranked)
	assert.NoError(t, out.Err)
	assert.Equal(t, reranked, out.Results)
}

func TestRerank_EmptyCandidatesNeverCallsProvider(t *testing.T) {
	r := New(&fakeRerank{err: errors.New("should not be called")}, 0)
	out := r.Rerank(context.Background(), "q", nil, 10)
	assert.False(t, out.Reranked)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Results)
}

func TestNoOp_AlwaysFallsBackTruncated(t *testing.T) {
	n := NoOp{}
	results, err := n.Rerank(context.Background(), "q", candidates(5), 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

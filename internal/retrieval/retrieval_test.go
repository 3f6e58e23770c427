package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/repository"
)

type fakeEmbed struct {
	vec []float32
	err error
}

func (f *fakeEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeEmbed) Dimensions() int { return len(f.vec) }

type fakeVectorStore struct {
	results        []model.QueryResult
	err            error
	lastCollection string
	lastTopK       int
}

func (f *fakeVectorStore) Search(ctx context.Context, collectionID string, queryVec []float32, topK int, filters *repository.SearchFilters) ([]model.QueryResult, error) {
	f.lastCollection = collectionID
	f.lastTopK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func qr(n int) []model.QueryResult {
	out := make([]model.QueryResult, n)
	for i := range out {
		out[i] = model.QueryResult{ChunkRef: model.Chunk{ID: string(rune('a' + i))}, Score: float64(n - i)}
	}
	return out
}

func TestRetrieve_PassesCollectionIDPerCall(t *testing.T) {
	vs := &fakeVectorStore{results: qr(5)}
	a := New(vs, &fakeEmbed{vec: []float32{0.1, 0.2}}, nil)

	_, err := a.Retrieve(context.Background(), "collection-A", "q", 3)
	require.NoError(t, err)
	assert.Equal(t, "collection-A", vs.lastCollection)

	_, err = a.Retrieve(context.Background(), "collection-B", "q", 3)
	require.NoError(t, err)
	assert.Equal(t, "collection-B", vs.lastCollection, "same Adapter instance must scope each call to its own collection")
}

func TestRetrieve_TruncatesToTopKWithoutReranker(t *testing.T) {
	vs := &fakeVectorStore{results: qr(10)}
	a := New(vs, &fakeEmbed{vec: []float32{0.1}}, nil)

	got, err := a.Retrieve(context.Background(), "c1", "q", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestRetrieve_EmptyResultsReturnsNilNoError(t *testing.T) {
	vs := &fakeVectorStore{results: nil}
	a := New(vs, &fakeEmbed{vec: []float32{0.1}}, nil)

	got, err := a.Retrieve(context.Background(), "c1", "q", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieve_EmbedErrorPropagates(t *testing.T) {
	vs := &fakeVectorStore{results: qr(5)}
	a := New(vs, &fakeEmbed{err: errors.New("embed down")}, nil)

	_, err := a.Retrieve(context.Background(), "c1", "q", 3)
	assert.Error(t, err)
}

func TestRetrieve_SearchErrorPropagates(t *testing.T) {
	vs := &fakeVectorStore{err: errors.New("search down")}
	a := New(vs, &fakeEmbed{vec: []float32{0.1}}, nil)

	_, err := a.Retrieve(context.Background(), "c1", "q", 3)
	assert.Error(t, err)
}

func TestRetrieve_OverFetchesAtLeastDefaultBeforeTopK(t *testing.T) {
	vs := &fakeVectorStore{results: qr(5)}
	a := New(vs, &fakeEmbed{vec: []float32{0.1}}, nil)

	_, err := a.Retrieve(context.Background(), "c1", "q", 2)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, vs.lastTopK, 100)
}

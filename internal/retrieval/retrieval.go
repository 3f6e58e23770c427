// Package retrieval composes C2 (VectorStore) + C1 (Embed) + C4 (Reranker)
// into the single "embed, search, rerank" unit C8's sub-question iteration
// and C11's podcast script stage both need — the same top-level shape as
// C10's own retrieve stage, pulled out so it isn't duplicated three times.
package retrieval

import (
	"context"
	"fmt"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/provider"
	"github.com/connexus-ai/aegis-query/internal/repository"
	"github.com/connexus-ai/aegis-query/internal/rerank"
)

// VectorStore is C2's read path.
type VectorStore interface {
	Search(ctx context.Context, collectionID string, queryVec []float32, topK int, filters *repository.SearchFilters) ([]model.QueryResult, error)
}

// Adapter implements both cot.Retriever and podcast.Retriever: embed the
// query, over-fetch from the vector store, rerank down to topK. A single
// Adapter is shared across every collection a caller touches; the
// collection to search is passed in on each call, not fixed at
// construction, since one Engine/Runner instance serves every user's
// requests regardless of which collection they target.
type Adapter struct {
	vectors  VectorStore
	embedder provider.Embed
	reranker *rerank.Reranker // nil skips reranking
}

// New creates an Adapter.
func New(vectors VectorStore, embedder provider.Embed, reranker *rerank.Reranker) *Adapter {
	return &Adapter{vectors: vectors, embedder: embedder, reranker: reranker}
}

// Retrieve embeds query, searches collectionID, and reranks to topK.
func (a *Adapter) Retrieve(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error) {
	vecs, err := a.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("retrieval.Adapter.Retrieve: embed: %w", err)
	}

	overFetch := topK * 3
	if overFetch < rerank.DefaultOverFetch {
		overFetch = rerank.DefaultOverFetch
	}
	candidates, err := a.vectors.Search(ctx, collectionID, vecs[0], overFetch, nil)
	if err != nil {
		return nil, fmt.Errorf("retrieval.Adapter.Retrieve: search: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	if a.reranker == nil {
		if len(candidates) > topK {
			candidates = candidates[:topK]
		}
		return candidates, nil
	}
	return a.reranker.Rerank(ctx, query, candidates, topK).Results, nil
}

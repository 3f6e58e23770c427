// Package rerank implements C4: cross-encoder reranking of retrieved
// chunks, dispatched off the request-blocking path with graceful
// degradation to the original vector-score ordering on failure or timeout
// (spec.md §4.4).
//
// Grounded on other_examples/kalambet-tbyd reranker.go's hard-timeout
// fallback to original order and NoOpReranker passthrough. The provider is
// called once per Rerank, in a single goroutine; there is no concurrent
// per-chunk scoring and no early return on top_k. The fallback ordering is
// by score alone, with ties kept in input order.
package rerank

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/provider"
)

// DefaultOverFetch is the number of candidates the caller should retrieve
// before reranking (spec.md §4.4 "default 100").
const DefaultOverFetch = 100

// DefaultTopK is the number of results Rerank returns (spec.md §4.4
// "default 10").
const DefaultTopK = 10

// DefaultTimeout bounds a single Rerank call before it degrades to the
// original ordering.
const DefaultTimeout = 10 * time.Second

// Outcome reports whether reranking actually happened, for the caller to
// attach a degraded-mode warning to response metadata.
type Outcome struct {
	Results  []model.QueryResult
	Reranked bool
	Err      error
}

// Reranker wraps a provider.Rerank with the graceful-degradation contract
// spec.md §4.4 requires: a failing or slow reranker never fails the
// request, it falls back to the original vector-score ordering.
type Reranker struct {
	provider provider.Rerank
	timeout  time.Duration
}

// New creates a Reranker over a concrete provider.Rerank instance. p may be
// nil, in which case Rerank is always a passthrough (NoOp equivalent).
func New(p provider.Rerank, timeout time.Duration) *Reranker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Reranker{provider: p, timeout: timeout}
}

// Rerank scores (query, chunk) pairs for every candidate in a single
// batched call via the underlying provider. The provider call runs in its
// own goroutine bounded by r.timeout; Rerank blocks its caller until the
// provider returns or the timeout fires (spec.md §4.1/§5). On error or
// timeout it returns the original ordering with Reranked=false.
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []model.QueryResult, topK int) Outcome {
	if r.provider == nil || len(candidates) == 0 {
		return Outcome{Results: fallback(candidates, topK), Reranked: false}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type rerankOutcome struct {
		results []model.QueryResult
		err     error
	}
	done := make(chan rerankOutcome, 1)

	go func() {
		results, err := r.provider.Rerank(timeoutCtx, query, candidates, topK)
		done <- rerankOutcome{results: results, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			slog.Warn("[RERANK] provider failed, falling back to vector order", "error", out.err)
			return Outcome{Results: fallback(candidates, topK), Reranked: false, Err: out.err}
		}
		return Outcome{Results: out.results, Reranked: true}
	case <-timeoutCtx.Done():
		slog.Warn("[RERANK] timed out, falling back to vector order", "timeout", r.timeout)
		return Outcome{Results: fallback(candidates, topK), Reranked: false, Err: timeoutCtx.Err()}
	}
}

// fallback returns the top-K of candidates sorted by score descending with
// insertion-order tie-break, keeping each candidate's Source (spec.md §3: "Ordered:
// ... sorted by score descending; ties broken by insertion order").
func fallback(candidates []model.QueryResult, topK int) []model.QueryResult {
	sorted := make([]model.QueryResult, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})
	if topK > 0 && len(sorted) > topK {
		sorted = sorted[:topK]
	}
	return sorted
}

// NoOp is used when rerank_enabled=false; it always falls back.
type NoOp struct{}

// Rerank implements provider.Rerank as a pure passthrough truncated to topK.
func (NoOp) Rerank(_ context.Context, _ string, candidates []model.QueryResult, topK int) ([]model.QueryResult, error) {
	return fallback(candidates, topK), nil
}

package cache

import "context"

// Embedder is the slice of provider.Embed this package depends on — kept
// minimal (rather than importing internal/provider) so internal/provider can
// import internal/cache for other purposes later without a cycle.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// backend is satisfied by both EmbeddingCache (in-process) and
// RedisEmbeddingCache (shared), letting CachedEmbed stay backend-agnostic.
type backend interface {
	Get(ctx context.Context, queryHash string) ([]float32, bool)
	Set(ctx context.Context, queryHash string, vec []float32) error
}

// memoryBackend adapts EmbeddingCache's synchronous Get/Set to backend's
// context-taking shape.
type memoryBackend struct{ c *EmbeddingCache }

func (m memoryBackend) Get(_ context.Context, queryHash string) ([]float32, bool) { return m.c.Get(queryHash) }
func (m memoryBackend) Set(_ context.Context, queryHash string, vec []float32) error {
	m.c.Set(queryHash, vec)
	return nil
}

// CachedEmbed wraps an Embedder with a query-hash-keyed cache, skipping the
// underlying provider entirely on a hit (spec.md §4.1's embedding provider
// contract says nothing about caching; this is the ambient optimization the
// teacher's own EMBEDDING_CACHE_TTL knob implies).
type CachedEmbed struct {
	inner Embedder
	store backend
}

// NewCachedEmbed wraps inner with an in-process EmbeddingCache.
func NewCachedEmbed(inner Embedder, c *EmbeddingCache) *CachedEmbed {
	return &CachedEmbed{inner: inner, store: memoryBackend{c}}
}

// NewCachedEmbedRedis wraps inner with a shared RedisEmbeddingCache.
func NewCachedEmbedRedis(inner Embedder, c *RedisEmbeddingCache) *CachedEmbed {
	return &CachedEmbed{inner: inner, store: c}
}

func (c *CachedEmbed) Dimensions() int { return c.inner.Dimensions() }

// Embed serves single-text requests from cache; batches of more than one
// text always go straight to the provider, since a batch miss on any one
// text still requires the round trip and per-text cache bookkeeping isn't
// worth it for the pipeline's single-query embed calls.
func (c *CachedEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) != 1 {
		return c.inner.Embed(ctx, texts)
	}
	hash := EmbeddingQueryHash(texts[0])
	if vec, ok := c.store.Get(ctx, hash); ok {
		return [][]float32{vec}, nil
	}
	vecs, err := c.inner.Embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	_ = c.store.Set(ctx, hash, vecs[0])
	return vecs, nil
}

package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

// RedisEmbeddingCache is a Redis-backed alternative to EmbeddingCache,
// grounded on the pack's redis_cache.go GenerationCache: a thin
// UniversalClient wrapper with a fixed key prefix and TTL-on-write. Unlike
// the in-process EmbeddingCache, entries here survive a restart and are
// shared across every replica of this service, which matters once more
// than one instance serves the same collection.
type RedisEmbeddingCache struct {
	client redis.UniversalClient
	ttlSec int64
}

// NewRedisEmbeddingCache builds a RedisEmbeddingCache against addr, pinging
// it once to fail fast on a bad connection string.
func NewRedisEmbeddingCache(ctx context.Context, addr string, ttlSec int64) (*RedisEmbeddingCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache.NewRedisEmbeddingCache: ping %s: %w", addr, err)
	}
	return &RedisEmbeddingCache{client: client, ttlSec: ttlSec}, nil
}

func (c *RedisEmbeddingCache) key(queryHash string) string {
	return "embed:" + queryHash
}

// Get returns a cached embedding vector, or false if absent/expired.
func (c *RedisEmbeddingCache) Get(ctx context.Context, queryHash string) ([]float32, bool) {
	raw, err := c.client.Get(ctx, c.key(queryHash)).Bytes()
	if err != nil {
		return nil, false
	}
	return decodeFloat32s(raw), true
}

// Set stores an embedding vector with the cache's configured TTL.
func (c *RedisEmbeddingCache) Set(ctx context.Context, queryHash string, vec []float32) error {
	return c.client.Set(ctx, c.key(queryHash), encodeFloat32s(vec), secondsToDuration(c.ttlSec)).Err()
}

// Close releases the underlying connection pool.
func (c *RedisEmbeddingCache) Close() error {
	return c.client.Close()
}

func encodeFloat32s(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeFloat32s(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

package provider

import (
	"context"
	"fmt"
	"math"
)

// maxEmbedBatchSize bounds how many texts are sent to an underlying Embed
// provider per call, matching the teacher's EmbedderService batching limit.
const maxEmbedBatchSize = 250

// NormalizedEmbed wraps an Embed provider to batch oversized requests and
// L2-normalize every returned vector, adapted from the teacher's
// EmbedderService.Embed/l2Normalize.
type NormalizedEmbed struct {
	inner Embed
}

// NewNormalizedEmbed wraps inner with batching and L2 normalization.
func NewNormalizedEmbed(inner Embed) *NormalizedEmbed {
	return &NormalizedEmbed{inner: inner}
}

func (n *NormalizedEmbed) Dimensions() int { return n.inner.Dimensions() }

// Embed generates embeddings for texts, batching as needed and L2-normalizing
// every result so downstream cosine-distance comparisons are well-formed.
func (n *NormalizedEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("provider.NormalizedEmbed: no texts provided")
	}

	dims := n.inner.Dimensions()
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += maxEmbedBatchSize {
		end := i + maxEmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		vectors, err := n.inner.Embed(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("provider.NormalizedEmbed: batch %d-%d: %w", i, end, err)
		}
		for j, vec := range vectors {
			if dims > 0 && len(vec) != dims {
				return nil, fmt.Errorf("provider.NormalizedEmbed: vector %d has %d dimensions, want %d", i+j, len(vec), dims)
			}
			vectors[j] = l2Normalize(vec)
		}
		all = append(all, vectors...)
	}

	if len(all) != len(texts) {
		return nil, fmt.Errorf("provider.NormalizedEmbed: got %d vectors for %d texts", len(all), len(texts))
	}
	return all, nil
}

// l2Normalize scales vec to unit length, leaving zero vectors untouched.
func l2Normalize(vec []float32) []float32 {
	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return vec
	}

	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

// Package provider implements C1 ProviderRegistry: a factory and per-key
// singleton cache of LLM, embedding, reranker, and TTS providers, grounded on
// the teacher's internal/gcpclient adapters (Vertex AI Gemini, OpenAI-style
// BYOK) and generalized to the capability contracts spec.md §4.1 defines.
package provider

import (
	"context"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// Kind identifies a provider capability.
type Kind string

const (
	KindLLM    Kind = "LLM"
	KindEmbed  Kind = "EMBED"
	KindRerank Kind = "RERANK"
	KindTTS    Kind = "TTS"
)

// GenerateParams are the parameters accepted by every LLM provider's Generate
// and Stream calls (spec.md §4.1).
type GenerateParams struct {
	MaxTokens   int
	Temperature float64
	TopP        float64
}

// LLM is the capability contract for a text-generation provider.
type LLM interface {
	// Generate returns the model's text and the usage the provider reported.
	Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, model.LLMUsage, error)
	// Stream returns a channel of text chunks and a channel that carries at
	// most one terminal error.
	Stream(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (<-chan string, <-chan error)
	ModelID() string
}

// Embed is the capability contract for an embedding provider.
type Embed interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Rerank is the capability contract for a cross-encoder reranker. Rerank is
// CPU/IO bound and must be callable from async contexts without blocking the
// request scheduler (spec.md §4.1) — internal/rerank.Reranker runs each call
// in its own goroutine under a timeout; no worker pool is involved.
type Rerank interface {
	Rerank(ctx context.Context, query string, chunks []model.QueryResult, topK int) ([]model.QueryResult, error)
}

// TTS is the capability contract for a text-to-speech provider.
type TTS interface {
	Clone(ctx context.Context, sampleBytes []byte, name, description string) (string, error)
	SynthesizeTurn(ctx context.Context, voiceID, text string, speed, pitch float64, format string) ([]byte, error)
	DeleteVoice(ctx context.Context, providerVoiceID string) error
	Name() string
}

// Validator is implemented by any provider that needs a first-use credential
// check (spec.md §4.1: "First construction calls validate() on the provider").
type Validator interface {
	Validate(ctx context.Context) error
}

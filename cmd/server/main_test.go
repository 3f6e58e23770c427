package main

import (
	"context"
	"testing"

	"github.com/connexus-ai/aegis-query/internal/config"
	"github.com/connexus-ai/aegis-query/internal/provider"
)

func TestVersion(t *testing.T) {
	if Version == "" {
		t.Error("Version must not be empty")
	}
}

// TestRegisterProviders_OptionalKeysSkipped confirms that omitting optional
// provider credentials doesn't register that provider kind, rather than
// registering one that would fail on first use.
func TestRegisterProviders_OptionalKeysSkipped(t *testing.T) {
	cfg := &config.Config{
		GCPProject:          "test-project",
		VertexAILocation:    "us-central1",
		VertexAIModel:       "gemini-3-pro-preview",
		EmbeddingLocation:   "us-central1",
		EmbeddingModel:      "text-embedding-005",
		EmbeddingDimensions: 768,
		RerankDefaultModel:  "gemini-3-pro-preview",
	}

	reg := provider.New()
	registerProviders(reg, cfg)

	ctx := context.Background()
	if _, err := reg.GetLLM(ctx, "claude-sonnet-4-5"); err == nil {
		t.Error("expected claude-sonnet-4-5 to be unregistered without an Anthropic API key")
	}
	if _, err := reg.GetTTS(ctx, "openai-tts"); err == nil {
		t.Error("expected openai-tts to be unregistered without an OpenAI API key")
	}
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/connexus-ai/aegis-query/internal/model"
)

const anthropicDefaultMaxTokens int64 = 1024

// AnthropicLLM implements the LLM capability contract against the Anthropic
// Messages API. Grounded on the SDK usage pattern shown for the Vertex/OpenAI
// sibling providers in the corpus, trimmed to this system's needs: no tool
// calling, no extended thinking, single text-in/text-out turns.
type AnthropicLLM struct {
	sdk     anthropic.Client
	modelID string
}

// NewAnthropicLLM creates an AnthropicLLM.
func NewAnthropicLLM(apiKey, modelID string) *AnthropicLLM {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	return &AnthropicLLM{
		sdk:     anthropic.NewClient(opts...),
		modelID: modelID,
	}
}

func (c *AnthropicLLM) ModelID() string { return c.modelID }

func (c *AnthropicLLM) buildParams(systemPrompt, userPrompt string, params GenerateParams) anthropic.MessageNewParams {
	maxTokens := anthropicDefaultMaxTokens
	if params.MaxTokens > 0 {
		maxTokens = int64(params.MaxTokens)
	}
	p := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.modelID),
		MaxTokens: maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	}
	if systemPrompt != "" {
		p.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if params.Temperature > 0 {
		p.Temperature = anthropic.Float(params.Temperature)
	}
	if params.TopP > 0 {
		p.TopP = anthropic.Float(params.TopP)
	}
	return p
}

// Generate issues a single Messages API call and extracts the usage
// Anthropic reported, including cache read/creation tokens in the prompt
// total.
func (c *AnthropicLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, model.LLMUsage, error) {
	type result struct {
		text  string
		usage model.LLMUsage
	}
	r, err := withRetry(ctx, "Generate", func() (result, error) {
		resp, err := c.sdk.Messages.New(ctx, c.buildParams(systemPrompt, userPrompt, params))
		if err != nil {
			return result{}, classifyAnthropicErr(ctx, err)
		}
		var sb strings.Builder
		for _, block := range resp.Content {
			if t, ok := block.AsAny().(anthropic.TextBlock); ok {
				sb.WriteString(t.Text)
			}
		}
		if sb.Len() == 0 {
			return result{}, fmt.Errorf("provider.AnthropicLLM: empty response")
		}
		promptTokens := int(resp.Usage.CacheCreationInputTokens + resp.Usage.CacheReadInputTokens + resp.Usage.InputTokens)
		completionTokens := int(resp.Usage.OutputTokens)
		usage := model.LLMUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		}
		return result{sb.String(), usage}, nil
	})
	if err != nil {
		return "", model.LLMUsage{}, err
	}
	r.usage.ModelID = c.modelID
	r.usage.At = time.Now()
	return r.text, r.usage, nil
}

// Stream issues a streaming Messages API call, emitting text deltas.
func (c *AnthropicLLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		stream := c.sdk.Messages.NewStreaming(ctx, c.buildParams(systemPrompt, userPrompt, params))
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if td, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok && td.Text != "" {
					textCh <- td.Text
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classifyAnthropicErr(ctx, err)
		}
	}()

	return textCh, errCh
}

// Validate issues a minimal completion to confirm credentials work.
func (c *AnthropicLLM) Validate(ctx context.Context) error {
	text, _, err := c.Generate(ctx, "", "Reply with only: OK", GenerateParams{MaxTokens: 8})
	if err != nil {
		return fmt.Errorf("provider.AnthropicLLM.Validate: model %s: %w", c.modelID, err)
	}
	if text == "" {
		return fmt.Errorf("provider.AnthropicLLM.Validate: empty response from model %s", c.modelID)
	}
	return nil
}

// classifyAnthropicErr maps an SDK error into the shared taxonomy. The SDK
// surfaces HTTP failures as *anthropic.Error carrying StatusCode.
func classifyAnthropicErr(ctx context.Context, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return ClassifyHTTPStatus(apiErr.StatusCode, apiErr.Message)
	}
	return ClassifyTransportError(ctx, err)
}

package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// OpenAILLM implements the LLM capability contract against the OpenAI chat
// completions API. Generalizes the teacher's hand-rolled BYOLLMClient (which
// spoke the OpenAI-compatible wire format over raw net/http) onto the
// official SDK, and onto any OpenAI-compatible endpoint via baseURL.
type OpenAILLM struct {
	client  openai.Client
	modelID string
}

// NewOpenAILLM creates an OpenAILLM. baseURL lets the same provider serve
// OpenRouter and other OpenAI-compatible endpoints, matching the teacher's
// BYOLLM design intent.
func NewOpenAILLM(apiKey, baseURL, modelID string) *OpenAILLM {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAILLM{
		client:  openai.NewClient(opts...),
		modelID: modelID,
	}
}

func (o *OpenAILLM) ModelID() string { return o.modelID }

// Generate issues a single chat completion and extracts the usage OpenAI
// reported for the call.
func (o *OpenAILLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, model.LLMUsage, error) {
	type result struct {
		text  string
		usage model.LLMUsage
	}
	r, err := withRetry(ctx, "Generate", func() (result, error) {
		resp, err := o.client.Chat.Completions.New(ctx, o.buildParams(systemPrompt, userPrompt, params))
		if err != nil {
			return result{}, classifyOpenAIErr(ctx, err)
		}
		if len(resp.Choices) == 0 {
			return result{}, fmt.Errorf("provider.OpenAILLM: empty response")
		}
		usage := model.LLMUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		}
		return result{resp.Choices[0].Message.Content, usage}, nil
	})
	if err != nil {
		return "", model.LLMUsage{}, err
	}
	r.usage.ModelID = o.modelID
	r.usage.At = time.Now()
	return r.text, r.usage, nil
}

func (o *OpenAILLM) buildParams(systemPrompt, userPrompt string, params GenerateParams) openai.ChatCompletionNewParams {
	messages := []openai.ChatCompletionMessageParamUnion{}
	if systemPrompt != "" {
		messages = append(messages, openai.SystemMessage(systemPrompt))
	}
	messages = append(messages, openai.UserMessage(userPrompt))

	p := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.modelID),
		Messages: messages,
	}
	if params.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(params.MaxTokens))
	}
	if params.Temperature > 0 {
		p.Temperature = openai.Float(params.Temperature)
	}
	if params.TopP > 0 {
		p.TopP = openai.Float(params.TopP)
	}
	return p
}

// Stream issues a streaming chat completion, emitting text deltas as they
// arrive on the returned channel.
func (o *OpenAILLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		reqParams := o.buildParams(systemPrompt, userPrompt, params)
		stream := o.client.Chat.Completions.NewStreaming(ctx, reqParams)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				textCh <- delta
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- classifyOpenAIErr(ctx, err)
		}
	}()

	return textCh, errCh
}

// Validate issues a minimal completion to confirm credentials and model
// availability.
func (o *OpenAILLM) Validate(ctx context.Context) error {
	text, _, err := o.Generate(ctx, "", "Reply with only: OK", GenerateParams{MaxTokens: 8})
	if err != nil {
		return fmt.Errorf("provider.OpenAILLM.Validate: model %s: %w", o.modelID, err)
	}
	if text == "" {
		return fmt.Errorf("provider.OpenAILLM.Validate: empty response from model %s", o.modelID)
	}
	return nil
}

// OpenAIEmbed implements the Embed capability contract against the OpenAI
// embeddings API.
type OpenAIEmbed struct {
	client     openai.Client
	modelID    string
	dimensions int
}

// NewOpenAIEmbed creates an OpenAIEmbed.
func NewOpenAIEmbed(apiKey, modelID string, dimensions int) *OpenAIEmbed {
	return &OpenAIEmbed{
		client:     openai.NewClient(option.WithAPIKey(apiKey)),
		modelID:    modelID,
		dimensions: dimensions,
	}
}

func (e *OpenAIEmbed) Dimensions() int { return e.dimensions }

// Embed generates embeddings for a batch of texts, retrying on transient
// failures with the shared provider backoff schedule.
func (e *OpenAIEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, "Embed", func() ([][]float32, error) {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: shared.EmbeddingModel(e.modelID),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			return nil, classifyOpenAIErr(ctx, err)
		}
		out := make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for j, v := range d.Embedding {
				vec[j] = float32(v)
			}
			out[i] = vec
		}
		return out, nil
	})
}

// Validate issues a minimal embed call.
func (e *OpenAIEmbed) Validate(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"health check"})
	if err != nil {
		return fmt.Errorf("provider.OpenAIEmbed.Validate: %w", err)
	}
	return nil
}

// classifyOpenAIErr maps an openai-go SDK error into the shared taxonomy.
// The SDK surfaces HTTP failures as *openai.Error carrying StatusCode.
func classifyOpenAIErr(ctx context.Context, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return ClassifyHTTPStatus(apiErr.StatusCode, apiErr.Message)
	}
	return ClassifyTransportError(ctx, err)
}

package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"

	"github.com/connexus-ai/aegis-query/internal/model"
)

// VertexLLM wraps Vertex AI Gemini to implement the LLM capability contract.
// Supports both regional endpoints (via the Go SDK) and the global endpoint
// (via REST), mirroring the teacher's GenAIAdapter split. Unlike the
// teacher's adapter, every generate call extracts token usage from the
// provider response rather than leaving LLMUsage unpopulated.
type VertexLLM struct {
	client     *genai.Client // nil when using the global endpoint
	httpClient *http.Client  // used for global endpoint REST calls
	project    string
	location   string
	model      string
	useREST    bool
}

// NewVertexLLM creates a VertexLLM. For location "global" the deprecated
// vertexai/genai SDK has no support, so requests go over REST instead.
func NewVertexLLM(ctx context.Context, project, location, modelID string) (*VertexLLM, error) {
	if location == "global" {
		httpClient, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
		if err != nil {
			return nil, fmt.Errorf("provider.NewVertexLLM: default credentials: %w", err)
		}
		return &VertexLLM{
			httpClient: httpClient,
			project:    project,
			location:   location,
			model:      modelID,
			useREST:    true,
		}, nil
	}

	client, err := genai.NewClient(ctx, project, location)
	if err != nil {
		return nil, fmt.Errorf("provider.NewVertexLLM: %w", err)
	}
	return &VertexLLM{
		client:   client,
		project:  project,
		location: location,
		model:    modelID,
	}, nil
}

func (a *VertexLLM) ModelID() string { return a.model }

// Generate sends a prompt to Gemini and returns the text response along with
// the usage Vertex reported for the call. Retries up to 3 times on
// 429/RESOURCE_EXHAUSTED with 500→1000→2000ms backoff (4s ceiling).
func (a *VertexLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, model.LLMUsage, error) {
	type result struct {
		text  string
		usage model.LLMUsage
	}
	r, err := withRetry(ctx, "Generate", func() (result, error) {
		var (
			text  string
			usage model.LLMUsage
			err   error
		)
		if a.useREST {
			text, usage, err = a.generateREST(ctx, systemPrompt, userPrompt, params)
		} else {
			text, usage, err = a.generateSDK(ctx, systemPrompt, userPrompt, params)
		}
		return result{text, usage}, err
	})
	if err != nil {
		return "", model.LLMUsage{}, err
	}
	r.usage.ModelID = a.model
	r.usage.At = time.Now()
	return r.text, r.usage, nil
}

func (a *VertexLLM) generateSDK(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, model.LLMUsage, error) {
	gm := a.client.GenerativeModel(a.model)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	if params.MaxTokens > 0 {
		gm.MaxOutputTokens = int32Ptr(int32(params.MaxTokens))
	}
	gm.Temperature = float32Ptr(float32(params.Temperature))
	gm.TopP = float32Ptr(float32(params.TopP))

	resp, err := gm.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", model.LLMUsage{}, ClassifyTransportError(ctx, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: empty response from model")
	}

	var parts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			parts = append(parts, string(t))
		}
	}

	usage := model.LLMUsage{}
	if resp.UsageMetadata != nil {
		usage.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		usage.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return strings.Join(parts, ""), usage, nil
}

type restGenerateRequest struct {
	Contents          []restContent         `json:"contents"`
	SystemInstruction *restContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *restGenerationConfig `json:"generationConfig,omitempty"`
}

type restContent struct {
	Role  string     `json:"role"`
	Parts []restPart `json:"parts"`
}

type restPart struct {
	Text string `json:"text"`
}

type restGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
}

type restUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type restGenerateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text             string `json:"text"`
				ThoughtSignature string `json:"thoughtSignature,omitempty"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata *restUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (a *VertexLLM) generateREST(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (string, model.LLMUsage, error) {
	url := fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:generateContent",
		a.project, a.model,
	)

	reqBody := restGenerateRequest{
		Contents: []restContent{
			{Role: "user", Parts: []restPart{{Text: userPrompt}}},
		},
		GenerationConfig: &restGenerationConfig{
			Temperature:     floatPtr(params.Temperature),
			TopP:            floatPtr(params.TopP),
			MaxOutputTokens: intPtrOrNil(params.MaxTokens),
		},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &restContent{
			Role:  "user",
			Parts: []restPart{{Text: systemPrompt}},
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", model.LLMUsage{}, ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", model.LLMUsage{}, ClassifyHTTPStatus(resp.StatusCode, string(respBody))
	}

	var genResp restGenerateResponse
	if err := json.Unmarshal(respBody, &genResp); err != nil {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: decode: %w", err)
	}
	if genResp.Error != nil {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: API error %d: %s", genResp.Error.Code, genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 || len(genResp.Candidates[0].Content.Parts) == 0 {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: empty response from model")
	}

	var parts []string
	for _, p := range genResp.Candidates[0].Content.Parts {
		if p.Text != "" {
			parts = append(parts, p.Text)
		}
	}
	if len(parts) == 0 {
		return "", model.LLMUsage{}, fmt.Errorf("provider.VertexLLM: no text in response")
	}

	usage := model.LLMUsage{}
	if genResp.UsageMetadata != nil {
		usage.PromptTokens = genResp.UsageMetadata.PromptTokenCount
		usage.CompletionTokens = genResp.UsageMetadata.CandidatesTokenCount
		usage.TotalTokens = genResp.UsageMetadata.TotalTokenCount
	}
	return strings.Join(parts, ""), usage, nil
}

// Stream sends a prompt and returns a channel of text chunks. The channel
// closes when generation completes; at most one terminal error is sent on
// the error channel.
func (a *VertexLLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams) (<-chan string, <-chan error) {
	textCh := make(chan string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(textCh)
		defer close(errCh)

		var err error
		if a.useREST {
			err = a.streamREST(ctx, systemPrompt, userPrompt, textCh)
		} else {
			err = a.streamSDK(ctx, systemPrompt, userPrompt, params, textCh)
		}
		if err != nil {
			errCh <- err
		}
	}()

	return textCh, errCh
}

func (a *VertexLLM) streamSDK(ctx context.Context, systemPrompt, userPrompt string, params GenerateParams, textCh chan<- string) error {
	gm := a.client.GenerativeModel(a.model)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	if params.MaxTokens > 0 {
		gm.MaxOutputTokens = int32Ptr(int32(params.MaxTokens))
	}

	iter := gm.GenerateContentStream(ctx, genai.Text(userPrompt))
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return ClassifyTransportError(ctx, err)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					textCh <- string(t)
				}
			}
		}
	}
	return nil
}

func (a *VertexLLM) streamREST(ctx context.Context, systemPrompt, userPrompt string, textCh chan<- string) error {
	url := fmt.Sprintf(
		"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:streamGenerateContent?alt=sse",
		a.project, a.model,
	)

	reqBody := restGenerateRequest{
		Contents: []restContent{
			{Role: "user", Parts: []restPart{{Text: userPrompt}}},
		},
	}
	if systemPrompt != "" {
		reqBody.SystemInstruction = &restContent{
			Role:  "user",
			Parts: []restPart{{Text: systemPrompt}},
		}
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("provider.VertexLLM.Stream: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("provider.VertexLLM.Stream: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ClassifyHTTPStatus(resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk restGenerateResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text != "" {
					textCh <- part.Text
				}
			}
		}
	}
	return scanner.Err()
}

// Validate performs a minimal health-check generation, same idiom as the
// teacher's GenAIAdapter.HealthCheck.
func (a *VertexLLM) Validate(ctx context.Context) error {
	text, _, err := a.Generate(ctx, "", "Reply with only: OK", GenerateParams{MaxTokens: 8})
	if err != nil {
		return fmt.Errorf("provider.VertexLLM.Validate: model %s, location %s: %w", a.model, a.location, err)
	}
	if text == "" {
		return fmt.Errorf("provider.VertexLLM.Validate: empty response from model %s", a.model)
	}
	slog.Info("[PROVIDER] vertex llm validated", "model", a.model, "location", a.location)
	return nil
}

// Close releases the underlying SDK client, if any.
func (a *VertexLLM) Close() {
	if a.client != nil {
		a.client.Close()
	}
}

// VertexEmbed wraps the Vertex AI text embedding REST API to implement the
// Embed capability contract. Adapted from the teacher's EmbeddingAdapter:
// task_type is fixed to RETRIEVAL_QUERY for queries and RETRIEVAL_DOCUMENT
// for indexing, matching text-embedding-004's asymmetric retrieval design.
type VertexEmbed struct {
	project    string
	location   string
	model      string
	dimensions int
	client     *http.Client
	taskType   string
}

// NewVertexEmbed creates a VertexEmbed using application default credentials.
// taskType should be "RETRIEVAL_QUERY" for query-time embedding or
// "RETRIEVAL_DOCUMENT" for indexing-time embedding.
func NewVertexEmbed(ctx context.Context, project, location, modelID, taskType string, dimensions int) (*VertexEmbed, error) {
	client, err := google.DefaultClient(ctx, "https://www.googleapis.com/auth/cloud-platform")
	if err != nil {
		return nil, fmt.Errorf("provider.NewVertexEmbed: %w", err)
	}
	return &VertexEmbed{
		project:    project,
		location:   location,
		model:      modelID,
		dimensions: dimensions,
		client:     client,
		taskType:   taskType,
	}, nil
}

func (e *VertexEmbed) Dimensions() int { return e.dimensions }

type embeddingRequest struct {
	Instances []embeddingInstance `json:"instances"`
}

type embeddingInstance struct {
	Content  string `json:"content"`
	TaskType string `json:"task_type"`
}

type embeddingResponse struct {
	Predictions []struct {
		Embeddings struct {
			Values []float32 `json:"values"`
		} `json:"embeddings"`
	} `json:"predictions"`
}

// Embed generates embeddings for a batch of texts, retrying up to 3 times on
// 429/RESOURCE_EXHAUSTED with 500→1000→2000ms backoff (4s ceiling).
func (e *VertexEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return withRetry(ctx, "Embed", func() ([][]float32, error) {
		return e.doEmbed(ctx, texts)
	})
}

func (e *VertexEmbed) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	instances := make([]embeddingInstance, len(texts))
	for i, t := range texts {
		instances[i] = embeddingInstance{Content: t, TaskType: e.taskType}
	}

	reqBody, err := json.Marshal(embeddingRequest{Instances: instances})
	if err != nil {
		return nil, fmt.Errorf("provider.VertexEmbed: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.endpointURL(), bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("provider.VertexEmbed: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, ClassifyHTTPStatus(resp.StatusCode, string(body))
	}

	var embResp embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("provider.VertexEmbed: decode: %w", err)
	}

	results := make([][]float32, len(embResp.Predictions))
	for i, p := range embResp.Predictions {
		results[i] = p.Embeddings.Values
	}
	return results, nil
}

func (e *VertexEmbed) endpointURL() string {
	if e.location == "global" {
		return fmt.Sprintf(
			"https://aiplatform.googleapis.com/v1/projects/%s/locations/global/publishers/google/models/%s:predict",
			e.project, e.model,
		)
	}
	return fmt.Sprintf(
		"https://%s-aiplatform.googleapis.com/v1/projects/%s/locations/%s/publishers/google/models/%s:predict",
		e.location, e.project, e.location, e.model,
	)
}

// Validate performs a single-text embed call to confirm credentials work.
func (e *VertexEmbed) Validate(ctx context.Context) error {
	_, err := e.Embed(ctx, []string{"health check"})
	if err != nil {
		return fmt.Errorf("provider.VertexEmbed.Validate: %w", err)
	}
	return nil
}

func int32Ptr(v int32) *int32     { return &v }
func float32Ptr(v float32) *float32 { return &v }
func floatPtr(v float64) *float64 { return &v }
func intPtrOrNil(v int) *int {
	if v <= 0 {
		return nil
	}
	return &v
}

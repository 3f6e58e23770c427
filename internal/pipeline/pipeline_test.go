package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/configstore"
	"github.com/connexus-ai/aegis-query/internal/cot"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
	"github.com/connexus-ai/aegis-query/internal/repository"
	"github.com/connexus-ai/aegis-query/internal/rewriter"
	"github.com/connexus-ai/aegis-query/internal/tokens"
)

type fakeConfigRepo struct {
	cfg *model.PipelineConfig
}

func (f *fakeConfigRepo) Get(ctx context.Context, userID string) (*model.PipelineConfig, error) {
	if f.cfg == nil {
		return nil, repository.ErrConfigNotFound
	}
	return f.cfg, nil
}

func (f *fakeConfigRepo) Upsert(ctx context.Context, cfg model.PipelineConfig) error {
	f.cfg = &cfg
	return nil
}

type fakeVectors struct {
	results []model.QueryResult
	err     error
}

func (f *fakeVectors) Search(ctx context.Context, collectionID string, queryVec []float32, topK int, filters *repository.SearchFilters) ([]model.QueryResult, error) {
	return f.results, f.err
}

type fakeEmbed struct{ dims int }

func (f *fakeEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}
func (f *fakeEmbed) Dimensions() int { return f.dims }

type fakeLLM struct {
	response string
	usage    model.LLMUsage
}

func (f *fakeLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (string, model.LLMUsage, error) {
	return f.response, f.usage, nil
}
func (f *fakeLLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (<-chan string, <-chan error) {
	panic("not used in tests")
}
func (f *fakeLLM) ModelID() string { return "test-model" }

func newTestPromptStore(t *testing.T) *prompt.Store {
	t.Helper()
	dir := t.TempDir()
	names := []prompt.Name{
		prompt.NameRAGGeneration, prompt.NameCoTClassify, prompt.NameCoTDecompose,
		prompt.NameCoTSynthesize, prompt.NameQueryRewrite, prompt.NamePodcastScript,
		prompt.NameQuestionSuggestion,
	}
	for _, n := range names {
		body := string(n) + ": {{question}}"
		require.NoError(t, os.WriteFile(filepath.Join(dir, string(n)+".txt"), []byte(body), 0o644))
	}
	store, err := prompt.NewStore(dir)
	require.NoError(t, err)
	return store
}

func candidate(id string, score float64) model.QueryResult {
	return model.QueryResult{ChunkRef: model.Chunk{ID: id, DocumentID: "doc-" + id, Text: "text for " + id}, Score: score}
}

func newPipeline(t *testing.T, cfg model.PipelineConfig, vecs []model.QueryResult, llmResponse string) (*Pipeline, *fakeConfigRepo) {
	t.Helper()
	repo := &fakeConfigRepo{cfg: &cfg}
	store := configstore.New(repo)
	llm := &fakeLLM{response: llmResponse, usage: model.LLMUsage{TotalTokens: 12}}
	p := New(
		store,
		nil,
		rewriter.New(),
		&fakeVectors{results: vecs},
		&fakeEmbed{dims: 4},
		nil,
		nil,
		llm,
		newTestPromptStore(t),
		tokens.NewTracker(100),
		tokens.NewCounter(),
	)
	return p, repo
}

func TestRun_NonCoTGeneratesAnswerAndAttributesCitations(t *testing.T) {
	cfg := model.DefaultPipelineConfig("user-1")
	cfg.CoTEnabled = false
	cfg.RerankEnabled = false
	vecs := []model.QueryResult{candidate("c1", 0.9), candidate("c2", 0.8)}

	p, _ := newPipeline(t, cfg, vecs, "<answer>The answer cites [1] directly.</answer>")

	resp, err := p.Run(context.Background(), Request{UserID: "user-1", CollectionID: "coll-1", Question: "what is it?"})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "cites")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "c1", resp.Citations[0].ChunkID)
	assert.False(t, resp.Reranked)
}

func TestRun_EmptyCandidatesReturnsEmptyResponseWithoutCallingLLM(t *testing.T) {
	cfg := model.DefaultPipelineConfig("user-1")
	cfg.CoTEnabled = false
	p, _ := newPipeline(t, cfg, nil, "should never be returned")

	resp, err := p.Run(context.Background(), Request{UserID: "user-1", CollectionID: "coll-1", Question: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "", resp.Answer)
	assert.Empty(t, resp.Citations)
}

func TestRun_LowQualityAnswerSuppressesCitations(t *testing.T) {
	cfg := model.DefaultPipelineConfig("user-1")
	cfg.CoTEnabled = false
	cfg.RerankEnabled = false
	vecs := []model.QueryResult{candidate("c1", 0.9)}

	// Artifact-vocabulary prefix + short length + question echo stacks three
	// penalties, landing well below the confidenceFloor of 0.30.
	p, _ := newPipeline(t, cfg, vecs, "Furthermore, no.")

	resp, err := p.Run(context.Background(), Request{UserID: "user-1", CollectionID: "coll-1", Question: "no"})
	require.NoError(t, err)
	assert.Empty(t, resp.Citations)
}

func TestRun_CoTEnabledUsesEngineAndAggregateUsage(t *testing.T) {
	cfg := model.DefaultPipelineConfig("user-1")
	cfg.CoTEnabled = true
	cfg.RerankEnabled = false
	vecs := []model.QueryResult{candidate("c1", 0.9)}

	repo := &fakeConfigRepo{cfg: &cfg}
	store := configstore.New(repo)
	prompts := newTestPromptStore(t)
	cotLLM := &cotScriptedLLM{responses: []string{
		"simple",
		"<answer>cited answer [1]</answer>",
	}}
	engine := cot.New(cotLLM, prompts, &cotRetriever{results: vecs})

	p := New(
		store, nil, rewriter.New(),
		&fakeVectors{results: vecs},
		&fakeEmbed{dims: 4},
		nil,
		engine,
		&fakeLLM{response: "unused"},
		prompts,
		tokens.NewTracker(100),
		tokens.NewCounter(),
	)

	resp, err := p.Run(context.Background(), Request{UserID: "user-1", CollectionID: "coll-1", Question: "q"})
	require.NoError(t, err)
	assert.Contains(t, resp.Answer, "cited answer")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, model.ServiceCoT, resp.Usage.Service)
	assert.NotEmpty(t, resp.CoTSteps)
}

func TestRun_StatusCallbackFiresForEachStage(t *testing.T) {
	cfg := model.DefaultPipelineConfig("user-1")
	cfg.CoTEnabled = false
	cfg.RerankEnabled = false
	vecs := []model.QueryResult{candidate("c1", 0.9)}
	p, _ := newPipeline(t, cfg, vecs, "<answer>ok</answer>")

	var stages []string
	_, err := p.Run(context.Background(), Request{
		UserID: "user-1", CollectionID: "coll-1", Question: "q",
		OnStatus: func(stage string) { stages = append(stages, stage) },
	})
	require.NoError(t, err)
	assert.Contains(t, stages, "config")
	assert.Contains(t, stages, "retrieving")
	assert.Contains(t, stages, "generating")
}

// cotScriptedLLM and cotRetriever mirror internal/cot's test fakes, kept
// local since Engine's dependencies are unexported interfaces of that
// package and can't be shared across package boundaries.
type cotScriptedLLM struct {
	responses []string
	calls     int
}

func (s *cotScriptedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (string, model.LLMUsage, error) {
	i := s.calls
	s.calls++
	return s.responses[i], model.LLMUsage{TotalTokens: 10}, nil
}
func (s *cotScriptedLLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (<-chan string, <-chan error) {
	panic("not used in tests")
}
func (s *cotScriptedLLM) ModelID() string { return "test-model" }

type cotRetriever struct{ results []model.QueryResult }

func (r *cotRetriever) Retrieve(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error) {
	return r.results, nil
}

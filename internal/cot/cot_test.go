package cot

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
)

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

// scriptedLLM returns responses from an ordered queue, one per Generate call.
type scriptedLLM struct {
	responses []string
	usages    []model.LLMUsage
	calls     int
}

func (s *scriptedLLM) Generate(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (string, model.LLMUsage, error) {
	i := s.calls
	s.calls++
	resp := s.responses[i]
	var usage model.LLMUsage
	if i < len(s.usages) {
		usage = s.usages[i]
	} else {
		usage = model.LLMUsage{TotalTokens: 10}
	}
	return resp, usage, nil
}

func (s *scriptedLLM) Stream(ctx context.Context, systemPrompt, userPrompt string, params provider.GenerateParams) (<-chan string, <-chan error) {
	panic("not used in tests")
}

func (s *scriptedLLM) ModelID() string { return "test-model" }

type fakeRetriever struct{}

func (fakeRetriever) Retrieve(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error) {
	return []model.QueryResult{
		{ChunkRef: model.Chunk{ID: "c1", Text: "IBM's revenue in 2022 was $73.6 billion."}, Score: 0.9},
	}, nil
}

func defaultCfg() model.PipelineConfig {
	cfg := model.DefaultPipelineConfig("user-1")
	cfg.CoTMaxRetries = 3
	cfg.CoTQualityThreshold = 0.6
	cfg.CoTMaxDepth = 3
	return cfg
}

func TestRun_SimpleClassificationBypassesDecomposition(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"simple",
		"<answer>IBM's 2022 revenue was $73.6 billion.</answer>",
	}}
	e := New(llm, newTestPromptStore(t), fakeRetriever{})

	result, err := e.Run(context.Background(), "user-1", "coll-1", "What was IBM's revenue in 2022?", defaultCfg())
	require.NoError(t, err)
	assert.Len(t, result.ReasoningSteps, 2)
	assert.Equal(t, model.StepClassification, result.ReasoningSteps[0].Type)
	assert.Equal(t, model.StepGeneration, result.ReasoningSteps[1].Type)
	assert.Contains(t, result.FinalAnswer, "73.6 billion")
	assert.GreaterOrEqual(t, result.Confidence, 0.6)
}

func TestRun_ComplexClassificationDecomposesAndSynthesizes(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"complex",
		`["What was IBM's revenue in 2022?", "What was IBM's growth rate in 2022?"]`,
		"<answer>Revenue was $73.6 billion.</answer>",
		"<answer>Growth rate was 6 percent.</answer>",
		"<answer>IBM's 2022 revenue was $73.6 billion with 6 percent growth.</answer>",
	}}
	e := New(llm, newTestPromptStore(t), fakeRetriever{})

	result, err := e.Run(context.Background(), "user-1", "coll-1", "What was IBM's revenue and its growth rate in 2022?", defaultCfg())
	require.NoError(t, err)
	require.Len(t, result.ReasoningSteps, 4)
	assert.Equal(t, model.StepClassification, result.ReasoningSteps[0].Type)
	assert.Equal(t, model.StepDecomposition, result.ReasoningSteps[1].Type)
	assert.Equal(t, model.StepGeneration, result.ReasoningSteps[2].Type)
	assert.Equal(t, model.StepSynthesis, result.ReasoningSteps[3].Type)
	assert.Contains(t, result.FinalAnswer, "revenue")
	assert.GreaterOrEqual(t, result.Confidence, 0.6)
}

func TestRun_QualityGatedRetryRecoversOnSecondAttempt(t *testing.T) {
	llm := &scriptedLLM{
		responses: []string{
			"simple",
			"Furthermore, no.",
			"<answer>$73.6B in 2022</answer>",
		},
		usages: []model.LLMUsage{
			{TotalTokens: 5},
			{TotalTokens: 20},
			{TotalTokens: 30},
		},
	}
	e := New(llm, newTestPromptStore(t), fakeRetriever{})

	result, err := e.Run(context.Background(), "user-1", "coll-1", "What was IBM's revenue in 2022?", defaultCfg())
	require.NoError(t, err)
	assert.Equal(t, "$73.6B in 2022", result.FinalAnswer)
	assert.GreaterOrEqual(t, result.Confidence, 0.6)
	assert.Equal(t, 5+20+30, result.AggregateUsage.TotalTokens)
}

func TestRun_RetriesExhaustedStillReturnsBestAttempt(t *testing.T) {
	cfg := defaultCfg()
	cfg.CoTMaxRetries = 2
	llm := &scriptedLLM{responses: []string{
		"simple",
		"Furthermore, no.",
		"Additionally, no.",
	}}
	e := New(llm, newTestPromptStore(t), fakeRetriever{})

	result, err := e.Run(context.Background(), "user-1", "coll-1", "q", cfg)
	require.NoError(t, err)
	assert.NotEmpty(t, result.FinalAnswer)
	assert.Less(t, result.Confidence, 0.6)
}

func TestRun_DecompositionCapsAtCoTMaxDepth(t *testing.T) {
	cfg := defaultCfg()
	cfg.CoTMaxDepth = 1
	llm := &scriptedLLM{responses: []string{
		"complex",
		`["sub one?", "sub two?", "sub three?"]`,
		"<answer>only one answer needed</answer>",
		"<answer>final synthesis</answer>",
	}}
	e := New(llm, newTestPromptStore(t), fakeRetriever{})

	result, err := e.Run(context.Background(), "user-1", "coll-1", "q", cfg)
	require.NoError(t, err)
	// classify + decompose + 1 iterate + synthesize = 4
	assert.Len(t, result.ReasoningSteps, 4)
}

func TestRun_ConfidenceIsMinimumStepQuality(t *testing.T) {
	llm := &scriptedLLM{responses: []string{
		"simple",
		"<answer>Based on the analysis of revenue: a weak answer that repeats. that repeats.</answer>",
	}}
	e := New(llm, newTestPromptStore(t), fakeRetriever{})
	cfg := defaultCfg()
	cfg.CoTMaxRetries = 1

	result, err := e.Run(context.Background(), "user-1", "coll-1", "q", cfg)
	require.NoError(t, err)

	min := result.ReasoningSteps[0].Quality
	for _, s := range result.ReasoningSteps {
		if s.Quality < min {
			min = s.Quality
		}
	}
	assert.Equal(t, min, result.Confidence)
}

// Package cot implements C8: the Chain-of-Thought engine — a
// CLASSIFY -> DECOMPOSE -> ITERATE -> SYNTHESIZE state machine with a
// quality-gated retry loop at the generation and synthesis steps
// (spec.md §4.8).
//
// The retry loop is grounded on the teacher's internal/service/selfrag.go
// Reflect loop: iterate up to a max, re-generate with the same params on a
// quality miss, stop as soon as the threshold is met or retries are
// exhausted. Concurrent sub-question retrieval is grounded on the teacher's
// internal/service/retriever.go errgroup fan-out.
package cot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/parser"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
)

// Retriever is the retrieval boundary the engine pulls sub-question context
// through (C2+C4 composed, as wired by the caller).
type Retriever interface {
	Retrieve(ctx context.Context, collectionID, query string, topK int) ([]model.QueryResult, error)
}

// Engine runs the CoT state machine for a single query.
type Engine struct {
	llm       provider.LLM
	prompts   *prompt.Store
	retriever Retriever
}

// New creates an Engine.
func New(llm provider.LLM, prompts *prompt.Store, retriever Retriever) *Engine {
	return &Engine{llm: llm, prompts: prompts, retriever: retriever}
}

// maxSubQuestions is the upper bound on decomposition fan-out; decompose
// caps the sub-question count at cfg.CoTMaxDepth when that is set and no
// larger than this bound.
const maxSubQuestions = 5

// Run executes the full state machine for question against cfg's CoT
// settings, returning the CoTResult spec.md §4.8 defines.
func (e *Engine) Run(ctx context.Context, userID, collectionID, question string, cfg model.PipelineConfig) (*model.CoTResult, error) {
	var steps []model.ReasoningStep
	var aggregate model.LLMUsage

	classification, classifyStep, err := e.classify(ctx, userID, question, cfg)
	if err != nil {
		return nil, fmt.Errorf("cot.Run: classify: %w", err)
	}
	steps = append(steps, classifyStep)
	aggregate = aggregate.Add(classifyStep.Usage)

	if classification == model.ClassifySimple {
		answer, citations, genStep, err := e.generateWithRetry(ctx, userID, collectionID, question, question, cfg)
		if err != nil {
			return nil, fmt.Errorf("cot.Run: generate: %w", err)
		}
		steps = append(steps, genStep)
		aggregate = aggregate.Add(genStep.Usage)
		return &model.CoTResult{
			FinalAnswer:    answer,
			ReasoningSteps: steps,
			AggregateUsage: aggregate,
			Confidence:     minQuality(steps),
			Citations:      citations,
		}, nil
	}

	subQuestions, decompStep, err := e.decompose(ctx, userID, question, cfg)
	if err != nil {
		return nil, fmt.Errorf("cot.Run: decompose: %w", err)
	}
	steps = append(steps, decompStep)
	aggregate = aggregate.Add(decompStep.Usage)

	partials, iterSteps, allCitations, err := e.iterate(ctx, userID, collectionID, question, subQuestions, cfg)
	if err != nil {
		return nil, fmt.Errorf("cot.Run: iterate: %w", err)
	}
	steps = append(steps, iterSteps...)
	for _, s := range iterSteps {
		aggregate = aggregate.Add(s.Usage)
	}

	finalAnswer, synthCitations, synthStep, err := e.synthesize(ctx, userID, question, partials, cfg)
	if err != nil {
		return nil, fmt.Errorf("cot.Run: synthesize: %w", err)
	}
	steps = append(steps, synthStep)
	aggregate = aggregate.Add(synthStep.Usage)

	return &model.CoTResult{
		FinalAnswer:    finalAnswer,
		ReasoningSteps: steps,
		AggregateUsage: aggregate,
		Confidence:     minQuality(steps),
		Citations:      append(allCitations, synthCitations...),
	}, nil
}

func (e *Engine) genParams(cfg model.PipelineConfig) provider.GenerateParams {
	return provider.GenerateParams{MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature, TopP: cfg.TopP}
}

// classify runs the CLASSIFY step: a single LLM call, no quality gate
// (classification has no notion of "quality", only a recognized label).
func (e *Engine) classify(ctx context.Context, userID, question string, cfg model.PipelineConfig) (model.Classification, model.ReasoningStep, error) {
	rendered, err := e.prompts.Render(prompt.NameCoTClassify, userID, map[string]string{"question": question})
	if err != nil {
		return "", model.ReasoningStep{}, err
	}
	raw, usage, err := e.llm.Generate(ctx, rendered, question, e.genParams(cfg))
	if err != nil {
		return "", model.ReasoningStep{}, err
	}
	label := parseClassification(raw)
	return label, model.ReasoningStep{
		Type:    model.StepClassification,
		Summary: fmt.Sprintf("classified as %s", label),
		Usage:   usage,
		Quality: 1.0,
	}, nil
}

func parseClassification(raw string) model.Classification {
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "analytical"):
		return model.ClassifyAnalytical
	case strings.Contains(lower, "complex"):
		return model.ClassifyComplex
	default:
		return model.ClassifySimple
	}
}

// decompose runs the DECOMPOSE step: the LLM's sub-questions are read as a
// JSON array when the reply contains one, otherwise one per line (the form
// the cot_decompose template asks for), then capped at maxSubQuestions and
// cfg.CoTMaxDepth.
func (e *Engine) decompose(ctx context.Context, userID, question string, cfg model.PipelineConfig) ([]string, model.ReasoningStep, error) {
	rendered, err := e.prompts.Render(prompt.NameCoTDecompose, userID, map[string]string{"question": question})
	if err != nil {
		return nil, model.ReasoningStep{}, err
	}
	raw, usage, err := e.llm.Generate(ctx, rendered, question, e.genParams(cfg))
	if err != nil {
		return nil, model.ReasoningStep{}, err
	}

	subQuestions := parseSubQuestions(raw)
	limit := cfg.CoTMaxDepth
	if limit <= 0 || limit > maxSubQuestions {
		limit = maxSubQuestions
	}
	if len(subQuestions) > limit {
		subQuestions = subQuestions[:limit]
	}
	if len(subQuestions) == 0 {
		subQuestions = []string{question}
	}

	return subQuestions, model.ReasoningStep{
		Type:    model.StepDecomposition,
		Summary: fmt.Sprintf("decomposed into %d sub-questions", len(subQuestions)),
		Usage:   usage,
		Quality: 1.0,
	}, nil
}

func parseSubQuestions(raw string) []string {
	cleaned := strings.TrimSpace(raw)
	start := strings.Index(cleaned, "[")
	end := strings.LastIndex(cleaned, "]")
	if start < 0 || end < start {
		return splitLines(cleaned)
	}
	var out []string
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &out); err != nil {
		return splitLines(cleaned)
	}
	return out
}

func splitLines(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// iterate retrieves and answers each sub-question concurrently (grounded on
// the teacher's errgroup-based parallel retrieval), producing one generation
// step per sub-question in submission order.
func (e *Engine) iterate(ctx context.Context, userID, collectionID, question string, subQuestions []string, cfg model.PipelineConfig) ([]string, []model.ReasoningStep, []model.CitationRef, error) {
	answers := make([]string, len(subQuestions))
	steps := make([]model.ReasoningStep, len(subQuestions))
	citationSets := make([][]model.CitationRef, len(subQuestions))

	g, gctx := errgroup.WithContext(ctx)
	for i, sq := range subQuestions {
		i, sq := i, sq
		g.Go(func() error {
			answer, citations, step, err := e.generateWithRetry(gctx, userID, collectionID, question, sq, cfg)
			if err != nil {
				return err
			}
			answers[i] = answer
			steps[i] = step
			citationSets[i] = citations
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	var allCitations []model.CitationRef
	for _, c := range citationSets {
		allCitations = append(allCitations, c...)
	}
	return answers, steps, allCitations, nil
}

// generateWithRetry runs the quality-gated retry loop spec.md §4.8 fixes:
// generate, parse, check quality against cfg.CoTQualityThreshold, retry with
// the same params up to cfg.CoTMaxRetries on a miss. The best-scoring
// attempt is kept even if no attempt clears the threshold.
func (e *Engine) generateWithRetry(ctx context.Context, userID, collectionID, question, subQuestion string, cfg model.PipelineConfig) (string, []model.CitationRef, model.ReasoningStep, error) {
	rendered, err := e.prompts.Render(prompt.NameRAGGeneration, userID, map[string]string{"question": subQuestion})
	if err != nil {
		return "", nil, model.ReasoningStep{}, err
	}

	var context string
	if e.retriever != nil {
		results, err := e.retriever.Retrieve(ctx, collectionID, subQuestion, 10)
		if err == nil {
			context = joinContext(results)
		}
	}

	retries := cfg.CoTMaxRetries
	if retries <= 0 {
		retries = 1
	}

	var best parser.Result
	var aggregate model.LLMUsage
	var bestCitations []model.CitationRef

	for attempt := 0; attempt < retries; attempt++ {
		userPrompt := subQuestion
		if context != "" {
			userPrompt = context + "\n\n" + subQuestion
		}
		raw, usage, err := e.llm.Generate(ctx, rendered, userPrompt, e.genParams(cfg))
		if err != nil {
			return "", nil, model.ReasoningStep{}, err
		}
		aggregate = aggregate.Add(usage)
		result := parser.Parse(raw, subQuestion)
		citations := extractCitations(result.Answer)

		if attempt == 0 || result.Quality > best.Quality {
			best = result
			bestCitations = citations
		}
		if best.Quality >= cfg.CoTQualityThreshold {
			break
		}
		slog.Debug("[COT] quality miss, retrying", "attempt", attempt+1, "quality", result.Quality, "threshold", cfg.CoTQualityThreshold)
	}

	step := model.ReasoningStep{
		Type:    model.StepGeneration,
		Summary: fmt.Sprintf("answered %q", truncate(subQuestion, 60)),
		Usage:   aggregate,
		Quality: best.Quality,
	}
	return best.Answer, bestCitations, step, nil
}

// synthesize runs the SYNTHESIZE step, also quality-gated, combining the
// partial answers into one final answer.
func (e *Engine) synthesize(ctx context.Context, userID, question string, partials []string, cfg model.PipelineConfig) (string, []model.CitationRef, model.ReasoningStep, error) {
	rendered, err := e.prompts.Render(prompt.NameCoTSynthesize, userID, map[string]string{"question": question})
	if err != nil {
		return "", nil, model.ReasoningStep{}, err
	}

	combined := strings.Join(partials, "\n\n")
	retries := cfg.CoTMaxRetries
	if retries <= 0 {
		retries = 1
	}

	var best parser.Result
	var aggregate model.LLMUsage
	for attempt := 0; attempt < retries; attempt++ {
		raw, usage, err := e.llm.Generate(ctx, rendered, combined, e.genParams(cfg))
		if err != nil {
			return "", nil, model.ReasoningStep{}, err
		}
		aggregate = aggregate.Add(usage)
		result := parser.Parse(raw, question)
		if attempt == 0 || result.Quality > best.Quality {
			best = result
		}
		if best.Quality >= cfg.CoTQualityThreshold {
			break
		}
	}

	step := model.ReasoningStep{
		Type:    model.StepSynthesis,
		Summary: "synthesized final answer",
		Usage:   aggregate,
		Quality: best.Quality,
	}
	return best.Answer, extractCitations(best.Answer), step, nil
}

func minQuality(steps []model.ReasoningStep) float64 {
	if len(steps) == 0 {
		return 0
	}
	min := steps[0].Quality
	for _, s := range steps[1:] {
		if s.Quality < min {
			min = s.Quality
		}
	}
	return min
}

func joinContext(results []model.QueryResult) string {
	var sb strings.Builder
	for i, r := range results {
		sb.WriteString(fmt.Sprintf("[%d] %s\n", i+1, r.ChunkRef.Text))
	}
	return sb.String()
}

func extractCitations(answer string) []model.CitationRef {
	// Citation extraction against the retrieved chunk set happens one layer
	// up, in the search pipeline, which has the chunk list this function does
	// not. This returns nil; callers that need grounded CitationRef values
	// build them from the pipeline's own chunk list and the marker indices
	// parsed out of answer.
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

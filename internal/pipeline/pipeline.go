// Package pipeline implements C10: the query-time SearchPipeline — the
// single orchestrator stitching together config resolution, conversation
// context, query rewriting, retrieval, reranking, reasoning, and source
// attribution into one response (spec.md §4.10).
//
// Grounded on the teacher's internal/handler/chat.go Chat handler: the
// parallel cache+embed errgroup fan-out, the SSE staging (status events per
// stage), structured per-stage latency logging, and the confidence-floor /
// silence-protocol gating are all kept, generalized from an HTTP handler
// into a transport-agnostic service the handler layer now only translates
// to SSE.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/connexus-ai/aegis-query/internal/configstore"
	"github.com/connexus-ai/aegis-query/internal/conversation"
	"github.com/connexus-ai/aegis-query/internal/cot"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/parser"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
	"github.com/connexus-ai/aegis-query/internal/repository"
	"github.com/connexus-ai/aegis-query/internal/rerank"
	"github.com/connexus-ai/aegis-query/internal/rewriter"
	"github.com/connexus-ai/aegis-query/internal/tokens"
	"github.com/connexus-ai/aegis-query/internal/toolgateway"
)

// UsageLog durably persists every LLMUsage the tracker's in-memory ring
// also sees, so usage queries survive a restart (C6's durable half).
type UsageLog interface {
	Append(ctx context.Context, u model.LLMUsage) error
}

// EnrichTool augments a retrieved batch with external data (e.g. a live
// metadata lookup), returning the enriched set. It runs behind a
// toolgateway.Gateway, so Pipeline never calls it directly.
type EnrichTool func(ctx context.Context, results []model.QueryResult) ([]model.QueryResult, error)

// PersonaProvider resolves a tenant's configured voice/tone overlay for the
// single-shot generation prompt. A nil *model.MercuryPersona return (with a
// nil error) means the tenant has none configured and the base prompt runs
// unmodified.
type PersonaProvider interface {
	GetByTenantID(ctx context.Context, tenantID string) (*model.MercuryPersona, error)
}

// VectorRetriever is C2's read path, as the pipeline consumes it.
type VectorRetriever interface {
	Search(ctx context.Context, collectionID string, queryVec []float32, topK int, filters *repository.SearchFilters) ([]model.QueryResult, error)
}

// Request is a single search/chat turn.
type Request struct {
	UserID       string
	CollectionID string
	SessionID    string // empty means no conversation tracking
	Question     string
	Override     *model.ConfigOverride
	OnStatus     func(stage string) // optional progress callback, mirrors the SSE "status" events
	OnToken      func(text string)  // not invoked by Run; the answer arrives whole in Response.Answer
}

// Response is the pipeline's assembled output, shaped to become an
// ASSISTANT model.Message once a caller persists it.
type Response struct {
	Answer    string
	Citations []model.CitationRef
	Usage     model.LLMUsage
	Warnings  []model.TokenWarning
	CoTSteps  []model.ReasoningStep
	Reranked  bool
	// ToolDegraded is set when C14 enrichment was attempted but skipped or
	// failed (circuit open, timeout, error); the response still carries the
	// original retrieved chunks, never partial enrichment.
	ToolDegraded bool
}

// Pipeline wires C1-C9 and C13 into the staged flow spec.md §4.10 fixes:
// resolve config -> build conversation context -> rewrite query -> retrieve
// -> rerank -> reason -> attribute -> emit.
type Pipeline struct {
	configs     *configstore.Store
	convMgr     *conversation.Manager // nil disables conversation awareness
	rewriter    *rewriter.Rewriter
	vectors     VectorRetriever
	embedder    provider.Embed
	reranker    *rerank.Reranker
	cotEngine   *cot.Engine
	llm         provider.LLM
	prompts     *prompt.Store
	tracker     *tokens.Tracker
	counter     *tokens.Counter
	warnings    *tokens.WarningEvaluator
	tools       *toolgateway.Gateway // nil disables enrichment (C14 is optional)
	enrich      EnrichTool
	enrichHost  string
	usageLog    UsageLog        // nil disables durable usage persistence
	personas    PersonaProvider // nil disables the persona overlay
}

// New creates a Pipeline. convMgr and cotEngine may be nil (conversation
// tracking and CoT reasoning are both optional per-config features).
func New(
	configs *configstore.Store,
	convMgr *conversation.Manager,
	rw *rewriter.Rewriter,
	vectors VectorRetriever,
	embedder provider.Embed,
	rr *rerank.Reranker,
	cotEngine *cot.Engine,
	llm provider.LLM,
	prompts *prompt.Store,
	tracker *tokens.Tracker,
	counter *tokens.Counter,
) *Pipeline {
	return &Pipeline{
		configs:   configs,
		convMgr:   convMgr,
		rewriter:  rw,
		vectors:   vectors,
		embedder:  embedder,
		reranker:  rr,
		cotEngine: cotEngine,
		llm:       llm,
		prompts:   prompts,
		tracker:   tracker,
		counter:   counter,
		warnings:  tokens.NewWarningEvaluator(),
	}
}

// WithEnrichment registers an optional C14 enrichment tool, gated by gw's
// circuit breaker under host. Call before the Pipeline is used concurrently.
func (p *Pipeline) WithEnrichment(gw *toolgateway.Gateway, host string, tool EnrichTool) {
	p.tools = gw
	p.enrichHost = host
	p.enrich = tool
}

// WithUsageLog registers a durable usage sink; every turn's usage is
// appended after the in-memory tracker records it. A failed append never
// fails the turn — it only logs (spec.md §4.6 usage tracking is best effort
// for durability, authoritative for the in-process warning check).
func (p *Pipeline) WithUsageLog(log UsageLog) {
	p.usageLog = log
}

// WithPersonas registers the persona overlay lookup for single-shot
// generation. Without one, every turn uses the bare rag_generation prompt.
func (p *Pipeline) WithPersonas(personas PersonaProvider) {
	p.personas = personas
}

// confidenceFloor mirrors the teacher's STORY-171 gate: when single-shot
// generation's parser quality is below this, citations are suppressed; the
// answer text is returned unchanged (spec.md §4.10 quality gate).
const confidenceFloor = 0.30

func status(req Request, stage string) {
	if req.OnStatus != nil {
		req.OnStatus(stage)
	}
}

// Run executes the full pipeline for one turn.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	// Stage 1: resolve config.
	status(req, "config")
	cfg, err := p.configs.Get(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("pipeline.Run: resolve config: %w", err)
	}
	cfg = configstore.ResolveOverride(cfg, req.Override)

	// Stage 2: conversation context (optional).
	status(req, "context")
	question := req.Question
	var warnings []model.TokenWarning
	if p.convMgr != nil && req.SessionID != "" {
		session := &model.ConversationSession{ID: req.SessionID, ContextWindowSize: tokens.ContextWindowFor(cfg.ModelID), MaxMessages: 50}
		_, rewritten, warn, err := p.convMgr.Build(ctx, session, question)
		if err != nil {
			slog.Warn("[PIPELINE] conversation context build failed, continuing without it", "error", err)
		} else {
			question = rewritten
			if warn != nil {
				warnings = append(warnings, *warn)
			}
		}
	}

	// Stage 3: rewrite query.
	status(req, "rewrite")
	strategy := p.rewriter.Select(question, req.SessionID != "", false)
	question = p.rewriter.Rewrite(ctx, question, strategy, nil)

	// Stage 4: embed the query via errgroup (teacher idiom), then retrieve
	// with the resulting vector.
	status(req, "retrieving")
	tEmbedStart := time.Now()
	var queryVec []float32
	var candidates []model.QueryResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := p.embedder.Embed(gctx, []string{question})
		if err != nil {
			return err
		}
		queryVec = vecs[0]
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("pipeline.Run: embed: %w", err)
	}

	overFetch := cfg.TopKRetrieval
	if overFetch <= 0 {
		overFetch = rerank.DefaultOverFetch
	}
	candidates, err = p.vectors.Search(ctx, req.CollectionID, queryVec, overFetch, nil)
	if err != nil {
		return nil, fmt.Errorf("pipeline.Run: retrieve: %w", err)
	}
	tEmbedEnd := time.Now()

	if len(candidates) == 0 {
		return &Response{Answer: "", Warnings: warnings}, nil
	}

	// Stage 4b: optional enrichment (C14). Strictly non-blocking: any
	// failure keeps the original candidates and only flags degraded mode.
	toolDegraded := false
	if p.tools != nil && p.enrich != nil {
		res, ok := p.tools.Call(ctx, p.enrichHost, func(callCtx context.Context) (interface{}, error) {
			return p.enrich(callCtx, candidates)
		})
		if ok {
			if enriched, ok := res.([]model.QueryResult); ok {
				candidates = enriched
			}
		} else {
			toolDegraded = true
		}
	}

	// Stage 5: rerank (graceful degradation never fails the request).
	status(req, "reranking")
	topK := cfg.TopKFinal
	if topK <= 0 {
		topK = rerank.DefaultTopK
	}
	var rerankOutcome rerank.Outcome
	if cfg.RerankEnabled && p.reranker != nil {
		rerankOutcome = p.reranker.Rerank(ctx, question, candidates, topK)
	} else {
		rerankOutcome = rerank.Outcome{Results: candidates[:min(topK, len(candidates))], Reranked: false}
	}

	// Stage 6: reason.
	status(req, "generating")
	tGenStart := time.Now()
	var answer string
	var usage model.LLMUsage
	var cotSteps []model.ReasoningStep
	var citations []model.CitationRef

	if cfg.CoTEnabled && p.cotEngine != nil {
		result, err := p.cotEngine.Run(ctx, req.UserID, req.CollectionID, question, cfg)
		if err != nil {
			return nil, fmt.Errorf("pipeline.Run: cot: %w", err)
		}
		answer = result.FinalAnswer
		usage = result.AggregateUsage
		cotSteps = result.ReasoningSteps
		citations = attributeCitations(answer, rerankOutcome.Results)
	} else {
		rendered, err := p.prompts.Render(prompt.NameRAGGeneration, req.UserID, map[string]string{"question": question})
		if err != nil {
			return nil, fmt.Errorf("pipeline.Run: render prompt: %w", err)
		}
		rendered = p.applyPersona(ctx, req.UserID, rendered)
		userPrompt := joinContext(rerankOutcome.Results) + "\n\n" + question
		raw, genUsage, err := p.llm.Generate(ctx, rendered, userPrompt, provider.GenerateParams{
			MaxTokens: cfg.MaxTokens, Temperature: cfg.Temperature, TopP: cfg.TopP,
		})
		if err != nil {
			return nil, fmt.Errorf("pipeline.Run: generate: %w", err)
		}
		result := parser.Parse(raw, question)
		answer = result.Answer
		usage = genUsage
		citations = attributeCitations(answer, rerankOutcome.Results)

		if result.Quality < confidenceFloor {
			slog.Warn("[PIPELINE] low quality answer below confidence floor", "quality", result.Quality)
			citations = nil
		}
	}
	tGenEnd := time.Now()

	usage.UserID = req.UserID
	usage.SessionID = req.SessionID
	usage.ModelID = cfg.ModelID
	usage.Service = model.ServiceSearch
	usage.At = time.Now().UTC()
	if cfg.CoTEnabled && p.cotEngine != nil {
		usage.Service = model.ServiceCoT
	}

	if p.tracker != nil {
		p.tracker.Record(cfg.Provider+"/"+cfg.ModelID, req.SessionID, usage)
	}
	if p.usageLog != nil {
		if err := p.usageLog.Append(ctx, usage); err != nil {
			slog.Warn("[PIPELINE] durable usage log append failed", "error", err)
		}
	}
	if warn := p.warnings.Check(usage, tokens.ContextWindowFor(cfg.ModelID)); warn != nil {
		warnings = append(warnings, *warn)
	}
	if p.tracker != nil && req.SessionID != "" {
		agg := p.tracker.SessionUsageHistory(req.SessionID)
		if warn := p.warnings.CheckConversation([]model.LLMUsage{agg}, cfg.ModelID); warn != nil {
			warnings = append(warnings, *warn)
		}
	}

	slog.Info("[PIPELINE] turn complete",
		"user_id", req.UserID,
		"embed_retrieve_ms", tEmbedEnd.Sub(tEmbedStart).Milliseconds(),
		"generate_ms", tGenEnd.Sub(tGenStart).Milliseconds(),
		"total_ms", time.Since(start).Milliseconds(),
		"reranked", rerankOutcome.Reranked,
		"cot_enabled", cfg.CoTEnabled,
	)

	return &Response{
		Answer:       answer,
		Citations:    citations,
		Usage:        usage,
		Warnings:     warnings,
		CoTSteps:     cotSteps,
		Reranked:     rerankOutcome.Reranked,
		ToolDegraded: toolDegraded,
	}, nil
}

func joinContext(results []model.QueryResult) string {
	var out string
	for i, r := range results {
		out += fmt.Sprintf("[%d] %s\n", i+1, r.ChunkRef.Text)
	}
	return out
}

// attributeCitations maps in-text [n] markers in answer back to the
// retrieved chunk at position n-1 (spec.md §4.10 attribution step).
func attributeCitations(answer string, results []model.QueryResult) []model.CitationRef {
	indices := parser.CitationIndices(answer)
	citations := make([]model.CitationRef, 0, len(indices))
	for _, idx := range indices {
		if idx < 1 || idx > len(results) {
			continue
		}
		r := results[idx-1]
		citations = append(citations, model.CitationRef{
			ChunkID:    r.ChunkRef.ID,
			DocumentID: r.ChunkRef.DocumentID,
			Excerpt:    truncate(r.ChunkRef.Text, 200),
			Relevance:  r.Score,
			Index:      idx,
		})
	}
	return citations
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// applyPersona prepends an active tenant's personality_prompt and greeting
// to the base system prompt, using userID as the tenant key — this module
// has no separate tenant concept, so a caller's user account is its tenant
// boundary. Any lookup failure or absent persona is silent: the base prompt
// always runs.
func (p *Pipeline) applyPersona(ctx context.Context, userID, basePrompt string) string {
	if p.personas == nil {
		return basePrompt
	}
	persona, err := p.personas.GetByTenantID(ctx, userID)
	if err != nil {
		slog.Warn("[PIPELINE] persona lookup failed", "error", err)
		return basePrompt
	}
	if persona == nil || !persona.IsActive {
		return basePrompt
	}
	overlay := persona.PersonalityPrompt
	if persona.Greeting != nil && *persona.Greeting != "" {
		overlay = overlay + "\nOpen with: " + *persona.Greeting
	}
	return overlay + "\n\n" + basePrompt
}

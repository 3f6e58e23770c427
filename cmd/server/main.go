// Command server is the composition root: it loads configuration, connects
// to Postgres/Redis/Neo4j/GCS, registers every provider, wires C1-C14 into
// the pipeline and podcast subsystems, and serves the HTTP API until a
// termination signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/aegis-query/internal/cache"
	"github.com/connexus-ai/aegis-query/internal/config"
	"github.com/connexus-ai/aegis-query/internal/configstore"
	"github.com/connexus-ai/aegis-query/internal/conversation"
	"github.com/connexus-ai/aegis-query/internal/cot"
	"github.com/connexus-ai/aegis-query/internal/gcpclient"
	"github.com/connexus-ai/aegis-query/internal/jobqueue"
	"github.com/connexus-ai/aegis-query/internal/middleware"
	"github.com/connexus-ai/aegis-query/internal/model"
	"github.com/connexus-ai/aegis-query/internal/pipeline"
	"github.com/connexus-ai/aegis-query/internal/podcast"
	"github.com/connexus-ai/aegis-query/internal/prompt"
	"github.com/connexus-ai/aegis-query/internal/provider"
	"github.com/connexus-ai/aegis-query/internal/repository"
	"github.com/connexus-ai/aegis-query/internal/rerank"
	"github.com/connexus-ai/aegis-query/internal/retrieval"
	"github.com/connexus-ai/aegis-query/internal/rewriter"
	"github.com/connexus-ai/aegis-query/internal/router"
	"github.com/connexus-ai/aegis-query/internal/tokens"
	"github.com/connexus-ai/aegis-query/migrations"
)

// Version is the running build's version string, surfaced on /healthz.
const Version = "0.1.0"

// registerProviders populates reg with every provider this deployment can
// construct. Optional providers (Anthropic, OpenAI, ElevenLabs) are only
// registered when their credentials are present in cfg, so a missing key
// degrades that provider kind rather than failing startup.
func registerProviders(reg *provider.Registry, cfg *config.Config) {
	reg.Register(provider.KindLLM, cfg.VertexAIModel, func(ctx context.Context, modelID string) (interface{}, error) {
		return provider.NewVertexLLM(ctx, cfg.GCPProject, cfg.VertexAILocation, modelID)
	})
	if cfg.AnthropicAPIKey != "" {
		reg.Register(provider.KindLLM, "claude-sonnet-4-5", func(ctx context.Context, modelID string) (interface{}, error) {
			return provider.NewAnthropicLLM(cfg.AnthropicAPIKey, modelID), nil
		})
	}
	if cfg.OpenAIAPIKey != "" {
		reg.Register(provider.KindLLM, "gpt-4o", func(ctx context.Context, modelID string) (interface{}, error) {
			return provider.NewOpenAILLM(cfg.OpenAIAPIKey, "", modelID), nil
		})
	}

	reg.Register(provider.KindEmbed, cfg.EmbeddingModel, func(ctx context.Context, modelID string) (interface{}, error) {
		inner, err := provider.NewVertexEmbed(ctx, cfg.GCPProject, cfg.EmbeddingLocation, modelID, "RETRIEVAL_QUERY", cfg.EmbeddingDimensions)
		if err != nil {
			return nil, err
		}
		return provider.NewNormalizedEmbed(inner), nil
	})
	if cfg.OpenAIAPIKey != "" {
		reg.Register(provider.KindEmbed, "text-embedding-3-small", func(ctx context.Context, modelID string) (interface{}, error) {
			return provider.NewNormalizedEmbed(provider.NewOpenAIEmbed(cfg.OpenAIAPIKey, modelID, cfg.EmbeddingDimensions)), nil
		})
	}

	reg.Register(provider.KindRerank, cfg.RerankDefaultModel, func(ctx context.Context, modelID string) (interface{}, error) {
		llm, err := reg.GetLLM(ctx, cfg.VertexAIModel)
		if err != nil {
			return nil, fmt.Errorf("rerank factory: resolve backing LLM: %w", err)
		}
		return provider.NewLLMRerank(llm), nil
	})

	if cfg.OpenAIAPIKey != "" {
		reg.Register(provider.KindTTS, "openai-tts", func(ctx context.Context, modelID string) (interface{}, error) {
			return provider.NewOpenAITTS(cfg.OpenAIAPIKey, "tts-1"), nil
		})
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		reg.Register(provider.KindTTS, "elevenlabs", func(ctx context.Context, modelID string) (interface{}, error) {
			return provider.NewElevenLabsTTS(v), nil
		})
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("main: load config: %w", err)
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return fmt.Errorf("main: connect postgres: %w", err)
	}
	defer pool.Close()

	if err := migrations.Apply(ctx, pool); err != nil {
		return fmt.Errorf("main: apply migrations: %w", err)
	}

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("main: connect neo4j: %w", err)
	}
	defer neo4jDriver.Close(ctx)
	if err := neo4jDriver.VerifyConnectivity(ctx); err != nil {
		slog.Warn("[MAIN] neo4j connectivity check failed, entity carry-over will degrade", "error", err)
	}

	registry := provider.New()
	registerProviders(registry, cfg)

	defaultCfg := model.DefaultPipelineConfig("")
	llm, err := registry.GetLLM(ctx, defaultCfg.ModelID)
	if err != nil {
		return fmt.Errorf("main: construct default LLM: %w", err)
	}
	rawEmbed, err := registry.GetEmbed(ctx, cfg.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("main: construct default embedder: %w", err)
	}

	// Embedding cache: Redis when configured for multi-replica sharing,
	// otherwise an in-process cache scoped to this instance.
	var embedder provider.Embed
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisEmbeddingCache(ctx, cfg.RedisAddr, int64(cache.DefaultEmbeddingTTL().Seconds()))
		if err != nil {
			return fmt.Errorf("main: connect redis: %w", err)
		}
		defer redisCache.Close()
		embedder = cache.NewCachedEmbedRedis(rawEmbed.(provider.Embed), redisCache)
	} else {
		embedCache := cache.NewEmbeddingCache(cache.DefaultEmbeddingTTL())
		defer embedCache.Stop()
		embedder = cache.NewCachedEmbed(rawEmbed.(provider.Embed), embedCache)
	}

	var rerankProvider provider.Rerank
	if cfg.RerankEnabled {
		rp, err := registry.GetRerank(ctx, cfg.RerankDefaultModel)
		if err != nil {
			slog.Warn("[MAIN] rerank provider unavailable, running with passthrough ordering", "error", err)
		} else {
			rerankProvider = rp
		}
	}
	reranker := rerank.New(rerankProvider, time.Duration(cfg.RerankTimeoutMS)*time.Millisecond)

	vectors := repository.NewVectorStore(pool)
	sessions := repository.NewConversationStore(pool)
	configs := repository.NewPipelineConfigStore(pool)
	podcasts := repository.NewPodcastStore(pool)
	voices := repository.NewVoiceStore(pool)
	usageLog := repository.NewTokenUsageLog(pool)
	personas := repository.NewPersonaRepo(pool)
	entities := repository.NewEntityGraph(neo4jDriver)

	prompts, err := prompt.NewStore(cfg.PromptsDir)
	if err != nil {
		return fmt.Errorf("main: load prompt templates: %w", err)
	}
	tracker := tokens.NewTracker(256)
	counter := tokens.NewCounter()
	rw := rewriter.New()
	retriever := retrieval.New(vectors, embedder, reranker)
	cotEngine := cot.New(llm, prompts, retriever)

	convMgr := conversation.New(sessions, entities, counter)
	configStore := configstore.New(configs)

	p := pipeline.New(configStore, convMgr, rw, vectors, embedder, reranker, cotEngine, llm, prompts, tracker, counter)
	p.WithUsageLog(usageLog)
	p.WithPersonas(personas)

	storageAdapter, err := gcpclient.NewStorageAdapter(ctx)
	if err != nil {
		return fmt.Errorf("main: init cloud storage: %w", err)
	}
	defer storageAdapter.Close()

	var tts provider.TTS
	if cfg.OpenAIAPIKey != "" {
		tts, err = registry.GetTTS(ctx, "openai-tts")
		if err != nil {
			return fmt.Errorf("main: construct openai tts provider: %w", err)
		}
	}
	if tts == nil && os.Getenv("ELEVENLABS_API_KEY") != "" {
		tts, err = registry.GetTTS(ctx, "elevenlabs")
		if err != nil {
			return fmt.Errorf("main: construct elevenlabs tts provider: %w", err)
		}
	}
	if tts == nil {
		return fmt.Errorf("main: no TTS provider configured (set OPENAI_API_KEY or ELEVENLABS_API_KEY)")
	}

	submitter := podcast.NewSubmitter(vectors, voices, podcasts, 0)

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	runner := podcast.New(podcasts, retriever, voices, storageAdapter, llm, tts, prompts, cfg.PodcastBucketName)
	queue, err := jobqueue.New(cfg.JobQueueCapacity, runner, baseCtx)
	if err != nil {
		return fmt.Errorf("main: init job queue: %w", err)
	}
	jobqueue.Reconcile(ctx, podcasts)

	promRegistry := prometheus.NewRegistry()
	metrics := middleware.NewMetrics(promRegistry)
	metrics.SetProviderRegistrySize(registry.Size())

	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		MaxRequests: 120,
		Window:      time.Minute,
	})

	mux := router.New(router.Deps{
		Version:            Version,
		Pool:               pool,
		Pipeline:           p,
		Conversations:      sessions,
		Configs:            configStore,
		Podcasts:           podcasts,
		Submitter:          submitter,
		Queue:              queue,
		AudioStorage:       storageAdapter,
		PodcastBucket:      cfg.PodcastBucketName,
		Metrics:            metrics,
		MetricsRegistry:    promRegistry,
		RateLimiter:        rateLimiter,
		InternalAuthSecret: cfg.InternalAuthSecret,
		FrontendURL:        cfg.FrontendURL,
		RequestTimeout:     60 * time.Second,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("aegis-query v%s starting on port %d", Version, cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down gracefully", sig)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	cancelBase()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Println("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

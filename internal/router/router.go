// Package router assembles the HTTP route table for the query-time core:
// chat/search, conversation sessions, pipeline config, and podcast
// generation/status/audio, fronted by the same middleware stack the
// teacher wires (request ID/logging, CORS, security headers, rate limit,
// Prometheus, timeout).
package router

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/connexus-ai/aegis-query/internal/configstore"
	"github.com/connexus-ai/aegis-query/internal/handler"
	"github.com/connexus-ai/aegis-query/internal/jobqueue"
	"github.com/connexus-ai/aegis-query/internal/middleware"
	"github.com/connexus-ai/aegis-query/internal/pipeline"
	"github.com/connexus-ai/aegis-query/internal/podcast"
	"github.com/connexus-ai/aegis-query/internal/repository"
)

// Deps is every dependency the router hands off to handlers. Metrics,
// MetricsRegistry and RateLimiter are optional: when nil, the matching
// middleware or /metrics route is not installed. A zero RequestTimeout
// defaults to 60s. C14's optionality lives inside Pipeline, not here.
type Deps struct {
	Version string

	Pool *pgxpool.Pool

	Pipeline      *pipeline.Pipeline
	Conversations *repository.ConversationStore
	Configs       *configstore.Store
	Podcasts      *repository.PodcastStore
	Submitter     *podcast.Submitter
	Queue         *jobqueue.Queue
	AudioStorage  handler.AudioDownloader
	PodcastBucket string

	Metrics            *middleware.Metrics
	MetricsRegistry    *prometheus.Registry
	RateLimiter        *middleware.RateLimiter
	InternalAuthSecret string
	FrontendURL        string
	RequestTimeout     time.Duration
}

// New builds the full route table.
func New(d Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(d.FrontendURL))
	if d.Metrics != nil {
		r.Use(middleware.Monitoring(d.Metrics))
	}
	timeout := d.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	r.Use(middleware.Timeout(timeout))
	if d.RateLimiter != nil {
		r.Use(middleware.RateLimit(d.RateLimiter))
	}

	r.Get("/healthz", handler.Health(d.Pool, d.Version))
	r.Get("/api/health", handler.Health(d.Pool, d.Version))

	r.Group(func(api chi.Router) {
		api.Use(middleware.InternalAuth(d.InternalAuthSecret))

		api.Post("/api/chat", handler.Chat(d.Pipeline))

		api.Post("/api/sessions", handler.CreateSession(d.Conversations))
		api.Get("/api/sessions/{sessionID}", handler.GetSession(d.Conversations))
		api.Post("/api/sessions/{sessionID}/messages", handler.AppendMessage(d.Conversations))

		api.Get("/api/config", handler.GetPipelineConfig(d.Configs))
		api.Put("/api/config", handler.UpdatePipelineConfig(d.Configs))

		api.Post("/api/podcasts", handler.GeneratePodcast(d.Submitter, d.Podcasts, d.Queue))
		api.Get("/api/podcasts/{jobID}", handler.PodcastStatus(d.Podcasts))
		api.Post("/api/podcasts/{jobID}/cancel", handler.CancelPodcast(d.Podcasts, d.Queue))
		api.Get("/api/podcasts/{jobID}/audio", handler.PodcastAudio(d.Podcasts, d.AudioStorage, d.PodcastBucket))
	})

	if d.MetricsRegistry != nil {
		r.Handle("/metrics", middleware.MetricsHandler(d.MetricsRegistry))
	}

	return r
}

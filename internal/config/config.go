package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int
	RedisAddr        string
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string

	GCPProject        string
	GCPRegion         string
	VertexAILocation  string
	VertexAIModel     string
	EmbeddingLocation string
	EmbeddingModel    string
	EmbeddingDimensions int
	GCSBucketName     string
	GCSSignedURLExpiry string

	AnthropicAPIKey string
	OpenAIAPIKey    string

	FrontendURL string

	ConfidenceThreshold float64
	RerankEnabled       bool
	RerankDefaultModel  string
	RerankTimeoutMS     int
	CoTDefaultEnabled   bool
	CoTMaxDepth         int
	CoTQualityThreshold float64
	CoTMaxRetries       int

	JobQueueCapacity int

	PodcastBucketName    string
	PodcastSignedURLDays int

	ToolGatewayFailureThreshold int
	ToolGatewayRecoverySeconds  int
	ToolGatewayCallTimeoutSeconds int
	ToolGatewayMaxConcurrentPerHost int

	PromptsDir     string
	DefaultPersona string

	InternalAuthSecret string
}

// Load reads configuration from environment variables.
// Required variables (DATABASE_URL, GOOGLE_CLOUD_PROJECT) cause an error if missing.
// Optional variables use sensible defaults.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	gcpProject := os.Getenv("GOOGLE_CLOUD_PROJECT")
	if gcpProject == "" {
		return nil, fmt.Errorf("config.Load: GOOGLE_CLOUD_PROJECT is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisAddr:        envStr("REDIS_ADDR", ""),
		Neo4jURI:         envStr("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:        envStr("NEO4J_USER", "neo4j"),
		Neo4jPassword:    envStr("NEO4J_PASSWORD", ""),

		GCPProject:          gcpProject,
		GCPRegion:           envStr("GCP_REGION", "us-east4"),
		VertexAILocation:    envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:       envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
		EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),
		GCSBucketName:       envStr("GCS_BUCKET_NAME", ""),
		GCSSignedURLExpiry:  envStr("GCS_SIGNED_URL_EXPIRY", "15m"),

		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    envStr("OPENAI_API_KEY", ""),

		FrontendURL: envStr("FRONTEND_URL", "http://localhost:3000"),

		ConfidenceThreshold: envFloat("SILENCE_THRESHOLD", 0.60),
		RerankEnabled:       envBool("RERANK_ENABLED", true),
		RerankDefaultModel:  envStr("RERANK_DEFAULT_MODEL", "vertex"),
		RerankTimeoutMS:     envInt("RERANK_TIMEOUT_MS", 2000),
		CoTDefaultEnabled:   envBool("COT_DEFAULT_ENABLED", true),
		CoTMaxDepth:         envInt("COT_MAX_DEPTH", 3),
		CoTQualityThreshold: envFloat("COT_QUALITY_THRESHOLD", 0.6),
		CoTMaxRetries:       envInt("COT_MAX_RETRIES", 3),

		JobQueueCapacity: envInt("JOB_QUEUE_CAPACITY", 10),

		PodcastBucketName:    envStr("PODCAST_BUCKET_NAME", envStr("GCS_BUCKET_NAME", "")),
		PodcastSignedURLDays: envInt("PODCAST_SIGNED_URL_DAYS", 7),

		ToolGatewayFailureThreshold:     envInt("TOOLGATEWAY_FAILURE_THRESHOLD", 5),
		ToolGatewayRecoverySeconds:      envInt("TOOLGATEWAY_RECOVERY_SECONDS", 60),
		ToolGatewayCallTimeoutSeconds:   envInt("TOOLGATEWAY_CALL_TIMEOUT_SECONDS", 30),
		ToolGatewayMaxConcurrentPerHost: envInt("TOOLGATEWAY_MAX_CONCURRENT_PER_HOST", 5),

		PromptsDir:     envStr("PROMPTS_DIR", "./internal/prompt/templates"),
		DefaultPersona: envStr("DEFAULT_PERSONA", "persona_default"),

		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),
	}

	// Internal auth secret is required in non-development environments
	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

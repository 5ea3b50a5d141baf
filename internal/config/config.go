package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int

	// Redis backing the session memory store.
	RedisAddr     string
	RedisPassword string

	// Vertex AI generation and embedding.
	GCPProject          string
	GCPRegion           string
	VertexAILocation    string
	VertexAIModel       string
	EmbeddingLocation   string
	EmbeddingModel      string
	EmbeddingDimensions int

	// Optional OpenAI-compatible secondary provider.
	BYOLLMBaseURL string
	BYOLLMAPIKey  string
	BYOLLMModel   string

	// ConfidenceThreshold gates the optional post-generation grounding
	// caveat; zero disables it.
	ConfidenceThreshold float64

	// Pipeline tuning surface.
	SimilarityThreshold float64       // semantic cache cosine threshold, default 0.96
	SessionTTL          time.Duration // session memory TTL, default 24h
	SessionWindow       int           // max turns retained per session, default 4
	TopKRetrieve        int           // candidates pulled before rerank, default 20
	TopKRerank          int           // blocks kept after rerank, default 10
	SQLRowCap           int           // max rows returned by the SQL executor
	SQLTimeCapMS        int           // max execution time for generated SQL, in milliseconds
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

		RedisAddr:     envStr("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envStr("REDIS_PASSWORD", ""),

		GCPProject:          gcpProject,
		GCPRegion:           envStr("GCP_REGION", "us-east4"),
		VertexAILocation:    envStr("VERTEX_AI_LOCATION", "global"),
		VertexAIModel:       envStr("VERTEX_AI_MODEL", "gemini-3-pro-preview"),
		EmbeddingLocation:   envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("GCP_REGION", "us-east4")),
		EmbeddingModel:      envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", 768),

		BYOLLMBaseURL: envStr("BYOLLM_BASE_URL", ""),
		BYOLLMAPIKey:  envStr("BYOLLM_API_KEY", ""),
		BYOLLMModel:   envStr("BYOLLM_MODEL", ""),

		ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.85),

		SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.96),
		SessionTTL:          envDuration("SESSION_TTL", 24*time.Hour),
		SessionWindow:       envInt("SESSION_WINDOW", 4),
		TopKRetrieve:        envInt("TOP_K_RETRIEVE", 20),
		TopKRerank:          envInt("TOP_K_RERANK", 10),
		SQLRowCap:           envInt("SQL_ROW_CAP", 500),
		SQLTimeCapMS:        envInt("SQL_TIME_CAP_MS", 3000),
	}

	if cfg.SimilarityThreshold < 0.90 || cfg.SimilarityThreshold > 0.99 {
		return nil, fmt.Errorf("config.Load: SIMILARITY_THRESHOLD must be in [0.90, 0.99], got %f", cfg.SimilarityThreshold)
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

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

package profile

import (
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start the main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where mailsense stores its own data
	DSN string
	// Driver is the database driver (postgres, sqlite or memory)
	Driver string
	// Version is the current version of server
	Version string

	// Retrieval configuration
	EmbeddingDim        int     // MAILSENSE_EMBEDDING_DIM (default: 1536)
	VectorWeight        float64 // MAILSENSE_VECTOR_WEIGHT (default: 0.5)
	SimilarityThreshold float64 // MAILSENSE_SIMILARITY_THRESHOLD (default: 0.5)
	SearchLimit         int     // MAILSENSE_SEARCH_LIMIT (default: 10)
	// DegradeOnPathFailure allows hybrid search to serve from the surviving
	// path when the other one fails, instead of surfacing the error.
	DegradeOnPathFailure bool // MAILSENSE_DEGRADE_ON_PATH_FAILURE (default: false)

	// Query embedding cache
	QueryCacheCapacity int           // MAILSENSE_QUERY_CACHE_CAPACITY (default: 1000)
	QueryCacheTTL      time.Duration // MAILSENSE_QUERY_CACHE_TTL (default: 15m)

	// Embedding provider (optional; the engine works without it when callers
	// supply query vectors themselves)
	AIEnabled        bool   // MAILSENSE_AI_ENABLED
	AIAPIKey         string // MAILSENSE_AI_API_KEY
	AIBaseURL        string // MAILSENSE_AI_BASE_URL (default: https://api.openai.com/v1)
	AIEmbeddingModel string // MAILSENSE_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if the embedding provider is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIEnabled && p.AIAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// FromEnv loads configuration from MAILSENSE_* environment variables.
// Empty variables are skipped so defaults take effect.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("MAILSENSE_MODE", p.Mode)
	p.Addr = getEnvOrDefault("MAILSENSE_ADDR", p.Addr)
	p.Port = getEnvInt("MAILSENSE_PORT", p.Port)
	p.Data = getEnvOrDefault("MAILSENSE_DATA", p.Data)
	p.DSN = getEnvOrDefault("MAILSENSE_DSN", p.DSN)
	p.Driver = getEnvOrDefault("MAILSENSE_DRIVER", p.Driver)

	p.EmbeddingDim = getEnvInt("MAILSENSE_EMBEDDING_DIM", p.EmbeddingDim)
	p.VectorWeight = getEnvFloat("MAILSENSE_VECTOR_WEIGHT", p.VectorWeight)
	p.SimilarityThreshold = getEnvFloat("MAILSENSE_SIMILARITY_THRESHOLD", p.SimilarityThreshold)
	p.SearchLimit = getEnvInt("MAILSENSE_SEARCH_LIMIT", p.SearchLimit)
	p.DegradeOnPathFailure = getEnvBool("MAILSENSE_DEGRADE_ON_PATH_FAILURE", p.DegradeOnPathFailure)

	p.QueryCacheCapacity = getEnvInt("MAILSENSE_QUERY_CACHE_CAPACITY", p.QueryCacheCapacity)
	p.QueryCacheTTL = getEnvDuration("MAILSENSE_QUERY_CACHE_TTL", p.QueryCacheTTL)

	p.AIEnabled = getEnvBool("MAILSENSE_AI_ENABLED", p.AIEnabled)
	p.AIAPIKey = getEnvOrDefault("MAILSENSE_AI_API_KEY", p.AIAPIKey)
	p.AIBaseURL = getEnvOrDefault("MAILSENSE_AI_BASE_URL", p.AIBaseURL)
	p.AIEmbeddingModel = getEnvOrDefault("MAILSENSE_AI_EMBEDDING_MODEL", p.AIEmbeddingModel)
}

// Default returns a profile with default values applied.
func Default() *Profile {
	return &Profile{
		Mode:                "dev",
		Port:                8081,
		Driver:              "postgres",
		Version:             "0.1.0",
		EmbeddingDim:        1536,
		VectorWeight:        0.5,
		SimilarityThreshold: 0.5,
		SearchLimit:         10,
		QueryCacheCapacity:  1000,
		QueryCacheTTL:       15 * time.Minute,
		AIBaseURL:           "https://api.openai.com/v1",
		AIEmbeddingModel:    "text-embedding-3-small",
	}
}

// Validate checks the profile for invalid combinations.
func (p *Profile) Validate() error {
	switch p.Driver {
	case "postgres", "sqlite", "memory":
	default:
		return errors.Errorf("unknown db driver %q: only 'postgres', 'sqlite' and 'memory' are supported", p.Driver)
	}
	if p.Driver != "memory" && p.DSN == "" {
		return errors.Errorf("dsn is required for driver %q", p.Driver)
	}
	if p.EmbeddingDim <= 0 {
		return errors.New("embedding dimension must be positive")
	}
	if p.VectorWeight < 0 || p.VectorWeight > 1 {
		return errors.Errorf("vector weight %v outside [0,1]", p.VectorWeight)
	}
	return nil
}

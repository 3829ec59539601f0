package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the redzone server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Embedding EmbeddingConfig
	Ingest    IngestConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type EmbeddingConfig struct {
	Provider string
	Timeout  time.Duration
	OpenAI   OpenAIConfig
	Ollama   OllamaConfig
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

// IngestConfig tunes the ingestion pipeline. The defaults are behavioral
// contracts: chunk size 100, backfill page size 50, minimum content length
// 10 and red-zone threshold 70 are relied on by clients.
type IngestConfig struct {
	ChunkSize        int
	BackfillPageSize int
	PayloadTTL       time.Duration
	RedZoneThreshold int
	RemoteTimeout    time.Duration
}

var validProviders = map[string]bool{
	"openai": true,
	"ollama": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("REDZONE_PORT", 8080),
			Env:  envString("REDZONE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Embedding: EmbeddingConfig{
			Provider: os.Getenv("EMBEDDING_PROVIDER"),
			Timeout:  envDurationSecs("EMBEDDING_TIMEOUT_SECS", 60*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  os.Getenv("OPENAI_API_KEY"),
				BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com"),
				Model:   envString("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
			},
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_EMBEDDING_MODEL", "nomic-embed-text"),
			},
		},
		Ingest: IngestConfig{
			ChunkSize:        envInt("INGEST_CHUNK_SIZE", 100),
			BackfillPageSize: envInt("INGEST_BACKFILL_PAGE_SIZE", 50),
			PayloadTTL:       envDuration("INGEST_PAYLOAD_TTL", time.Hour),
			RedZoneThreshold: envInt("REDZONE_DEFAULT_THRESHOLD", 70),
			RemoteTimeout:    envDuration("INGEST_REMOTE_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Embedding.Provider == "" {
		return fmt.Errorf("EMBEDDING_PROVIDER is required")
	}
	if !validProviders[c.Embedding.Provider] {
		return fmt.Errorf("EMBEDDING_PROVIDER must be one of openai, ollama, mock; got %q", c.Embedding.Provider)
	}
	if c.Embedding.Provider == "openai" && c.Embedding.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when EMBEDDING_PROVIDER is openai")
	}
	if !strings.HasPrefix(c.Embedding.Ollama.BaseURL, "http://") && !strings.HasPrefix(c.Embedding.Ollama.BaseURL, "https://") {
		return fmt.Errorf("OLLAMA_BASE_URL must start with http:// or https://, got %q", c.Embedding.Ollama.BaseURL)
	}

	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("INGEST_CHUNK_SIZE must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.BackfillPageSize <= 0 {
		return fmt.Errorf("INGEST_BACKFILL_PAGE_SIZE must be positive, got %d", c.Ingest.BackfillPageSize)
	}
	if c.Ingest.RedZoneThreshold < 0 || c.Ingest.RedZoneThreshold > 100 {
		return fmt.Errorf("REDZONE_DEFAULT_THRESHOLD must be in [0,100], got %d", c.Ingest.RedZoneThreshold)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"document-qa/internal/models"
)

const apiKeyEnv = "OPENAI_API_KEY"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	LLM         LLMConfig         `yaml:"llm"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
	MaxSessions int    `yaml:"max_sessions"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Key         string  `yaml:"key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

type RAGConfig struct {
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	TopK             int    `yaml:"top_k"`
	EmbedBatchSize   int    `yaml:"embed_batch_size"`
	EmbedConcurrency int    `yaml:"embed_concurrency"`
	CacheSize        int    `yaml:"cache_size"`
	Debug            bool   `yaml:"debug"`
	EncryptionKey    string `yaml:"encryption_key"`
}

type VectorStoreConfig struct {
	Kind     string `yaml:"kind"`
	Path     string `yaml:"path"`
	Compress bool   `yaml:"compress"`
}

type DatabaseConfig struct {
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Driver   string `yaml:"driver"`
	Debug    bool   `yaml:"debug"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":8080",
			MaxUploadMB: 32,
			MaxSessions: 128,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o",
			Temperature: 0.2,
		},
		EmbedLLM: LLMConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		RAG: RAGConfig{
			ChunkSize:        300,
			ChunkOverlap:     0,
			TopK:             5,
			EmbedBatchSize:   32,
			EmbedConcurrency: 4,
			CacheSize:        16,
		},
		VectorStore: VectorStoreConfig{Kind: "chromem"},
		Database:    DatabaseConfig{Driver: "pgdriver"},
	}
}

// LoadConfig reads path (a missing file yields defaults), then fills API keys from the environment / .env.
// Keys present in the file override the defaults even when their value is zero.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, err
		}
	}
	if cfg.RAG.Debug {
		cfg.LLM.Model = "debug"
		cfg.EmbedLLM.Provider = "debug"
		cfg.VectorStore.Kind = "debug"
	}

	if cfg.LLM.Key == "" {
		cfg.LLM.Key = os.Getenv(apiKeyEnv)
	}
	if cfg.EmbedLLM.Key == "" {
		cfg.EmbedLLM.Key = cfg.LLM.Key
	}
	return cfg, cfg.Validate()
}

// Validate checks the values the pipeline cannot work around
func (c *Config) Validate() error {
	if err := ValidateChunking(c.RAG.ChunkSize, c.RAG.ChunkOverlap); err != nil {
		return err
	}
	if c.RAG.TopK <= 0 {
		return &models.ConfigError{Field: "rag.top_k", Reason: "must be positive"}
	}
	if c.RAG.EmbedBatchSize <= 0 {
		return &models.ConfigError{Field: "rag.embed_batch_size", Reason: "must be positive"}
	}
	if c.RAG.EmbedConcurrency <= 0 {
		return &models.ConfigError{Field: "rag.embed_concurrency", Reason: "must be positive"}
	}
	if c.RAG.CacheSize <= 0 {
		return &models.ConfigError{Field: "rag.cache_size", Reason: "must be positive"}
	}
	if c.Server.MaxSessions <= 0 {
		return &models.ConfigError{Field: "server.max_sessions", Reason: "must be positive"}
	}
	if c.Server.MaxUploadMB <= 0 {
		return &models.ConfigError{Field: "server.max_upload_mb", Reason: "must be positive"}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return &models.ConfigError{Field: "llm.temperature", Reason: "must be between 0 and 2"}
	}
	switch c.Database.Driver {
	case "pgdriver", "pq":
	default:
		return &models.ConfigError{Field: "database.driver", Reason: "must be pgdriver or pq"}
	}
	return nil
}

// ValidateChunking enforces 0 <= overlap < size
func ValidateChunking(size, overlap int) error {
	if size <= 0 {
		return &models.ConfigError{Field: "rag.chunk_size", Reason: "must be positive"}
	}
	if overlap < 0 || overlap >= size {
		return &models.ConfigError{Field: "rag.chunk_overlap", Reason: "must satisfy 0 <= chunk_overlap < chunk_size"}
	}
	return nil
}

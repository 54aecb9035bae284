// Package config loads sift configuration from defaults, a TOML file, and
// SIFT_* environment variables, in that order (env wins).
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Rewrite   RewriteConfig   `toml:"rewrite"`
	Database  DatabaseConfig  `toml:"database"`
	Pipeline  PipelineConfig  `toml:"pipeline"`
	Ingest    IngestConfig    `toml:"ingest"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	BaseURL  string `toml:"base_url"`
	APIKey   string `toml:"api_key"`
	// RPM and TPM cap requests and tokens per minute. Zero means unlimited.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

// RewriteConfig controls the query rewriter. A separate, cheaper model can
// serve rewrites; empty fields fall back to the main LLM settings.
type RewriteConfig struct {
	Enabled   bool   `toml:"enabled"`
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	BaseURL   string `toml:"base_url"`
	APIKey    string `toml:"api_key"`
	TimeoutMS int    `toml:"timeout_ms"`
}

type DatabaseConfig struct {
	// Driver selects the store: "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// Path is the SQLite database file.
	Path string `toml:"path"`
	// URL is the PostgreSQL connection string.
	URL string `toml:"url"`
}

type PipelineConfig struct {
	TopK                int     `toml:"top_k"`
	RerankThreshold     float64 `toml:"rerank_threshold"`
	TemplateVersion     string  `toml:"template_version"`
	GenerationTimeoutMS int     `toml:"generation_timeout_ms"`
}

type IngestConfig struct {
	MaxTokens     int `toml:"max_tokens"`
	OverlapTokens int `toml:"overlap_tokens"`
	BatchSize     int `toml:"batch_size"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM:       LLMConfig{Provider: "openai", Model: "gpt-4o-mini", BaseURL: "https://api.openai.com/v1"},
		Embedding: EmbeddingConfig{Provider: "openai", Model: "text-embedding-3-small", BaseURL: "https://api.openai.com/v1", Dimensions: 1536},
		Rewrite:   RewriteConfig{Enabled: true, TimeoutMS: 800},
		Database:  DatabaseConfig{Driver: "sqlite", Path: "sift.db"},
		Pipeline:  PipelineConfig{TopK: 8, TemplateVersion: "v1"},
		Ingest:    IngestConfig{MaxTokens: 512, OverlapTokens: 50, BatchSize: 64},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "sift.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("SIFT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SIFT_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("SIFT_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("SIFT_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("SIFT_REWRITE_API_KEY"); v != "" {
		cfg.Rewrite.APIKey = v
	}
	if v := os.Getenv("SIFT_DATABASE_URL"); v != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.URL = v
	}
	if os.Getenv("SIFT_OBSERVER_ENABLED") == "true" || os.Getenv("SIFT_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks: the rewriter shares the main LLM settings unless overridden.
	if cfg.Rewrite.Provider == "" {
		cfg.Rewrite.Provider = cfg.LLM.Provider
		if cfg.Rewrite.Model == "" {
			cfg.Rewrite.Model = cfg.LLM.Model
		}
	}
	if cfg.Rewrite.BaseURL == "" {
		cfg.Rewrite.BaseURL = cfg.LLM.BaseURL
	}
	if cfg.Rewrite.APIKey == "" {
		cfg.Rewrite.APIKey = cfg.LLM.APIKey
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.APIKey
	}

	return cfg
}

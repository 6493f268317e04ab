package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Advisory providers.
const (
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderNone      = "none"
)

// Embedding providers.
const (
	EmbedOllama = "ollama"
	EmbedHash   = "hash"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Advisory critic
	LLMProvider     string
	AnthropicAPIKey string
	AnthropicModel  string
	OllamaBaseURL   string
	OllamaModel     string
	AdvisoryTimeout time.Duration
	AdvisoryRate    float64 // Critic calls per second; 0 disables limiting
	EvidenceK       int
	MaxClauses      int

	// Corpus index
	EmbedProvider  string
	EmbedModel     string
	EmbedDim       int // Hash embedder dimension and pgvector column size
	CorpusSnapshot string
	CorpusURL      string
	CorpusAPIKey   string
	DatabaseURL    string
	CorpusTable    string

	// Table overrides; empty uses the embedded defaults
	RulesPath      string
	SignaturesPath string
	ClassifierPath string

	// Run archive
	ArchivePath string

	// Workers
	WorkerCount  int // Concurrent runs
	DocWorkers   int // Per-run document concurrency
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Run state
	RunTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("ADGMCHECK_API_KEY"),

		LLMProvider:     strings.ToLower(envOr("LLM_PROVIDER", ProviderNone)),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		OllamaBaseURL:   envOr("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:     envOr("OLLAMA_MODEL", "llama3.1:8b"),
		AdvisoryTimeout: envDuration("ADVISORY_TIMEOUT", 90*time.Second),
		AdvisoryRate:    envFloat("ADVISORY_RATE", 2),
		EvidenceK:       envInt("EVIDENCE_K", 3),
		MaxClauses:      envInt("MAX_ADVISORY_CLAUSES", 12),

		EmbedProvider:  strings.ToLower(envOr("EMBED_PROVIDER", EmbedHash)),
		EmbedModel:     envOr("EMBED_MODEL", "nomic-embed-text:latest"),
		EmbedDim:       envInt("EMBED_DIM", 256),
		CorpusSnapshot: os.Getenv("CORPUS_SNAPSHOT"),
		CorpusURL:      os.Getenv("CORPUS_URL"),
		CorpusAPIKey:   os.Getenv("CORPUS_API_KEY"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		CorpusTable:    envOr("CORPUS_TABLE", "corpus_passages"),

		RulesPath:      os.Getenv("RULES_PATH"),
		SignaturesPath: os.Getenv("SIGNATURES_PATH"),
		ClassifierPath: os.Getenv("CLASSIFIER_PATH"),

		ArchivePath: envOr("ARCHIVE_PATH", "adgmcheck.db"),

		WorkerCount:  envInt("WORKER_COUNT", 2),
		DocWorkers:   envInt("DOC_WORKERS", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		RunTTL: envDuration("RUN_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.DocWorkers <= 0 {
		cfg.DocWorkers = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.RunTTL <= 0 {
		cfg.RunTTL = 1 * time.Hour
	}
	if cfg.AdvisoryTimeout <= 0 {
		cfg.AdvisoryTimeout = 90 * time.Second
	}
	if cfg.AdvisoryRate < 0 {
		cfg.AdvisoryRate = 0
	}
	if cfg.EvidenceK <= 0 {
		cfg.EvidenceK = 3
	}
	if cfg.MaxClauses <= 0 {
		cfg.MaxClauses = 12
	}
	if cfg.EmbedDim <= 0 {
		cfg.EmbedDim = 256
	}

	return cfg
}

// Validate checks the settings the server needs. The CLI analyze command
// runs without an API key.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case ProviderNone, ProviderOllama:
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when LLM_PROVIDER=anthropic")
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be anthropic, ollama or none, got %q", c.LLMProvider)
	}
	switch c.EmbedProvider {
	case EmbedHash, EmbedOllama:
	default:
		return fmt.Errorf("EMBED_PROVIDER must be ollama or hash, got %q", c.EmbedProvider)
	}
	return nil
}

// ValidateServer adds the checks that only apply to the HTTP server.
func (c Config) ValidateServer() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.APIKey == "" {
		return fmt.Errorf("ADGMCHECK_API_KEY is required")
	}
	return nil
}

// AdvisoryEnabled reports whether a critic is configured.
func (c Config) AdvisoryEnabled() bool {
	return c.LLMProvider != ProviderNone && c.LLMProvider != ""
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

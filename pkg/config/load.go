package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	// OpenAI API key override feeds both the embedding provider and the
	// reasoning engine
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.OpenAI.APIKey = apiKey
		config.Reasoning.OpenAI.APIKey = apiKey
	}

	// PostgreSQL DSN override feeds both postgres-backed stores
	if dsn := os.Getenv("RAGMEM_PG_DSN"); dsn != "" {
		config.LongTerm.Index.Pgvector.DSN = dsn
		config.LongTerm.Records.Postgres.DSN = dsn
	}

	// Log level override
	if level := os.Getenv("RAGMEM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

// validateConfig validates the configuration and applies defaults for the
// optional knobs. ShortTerm.Capacity, LongTerm.ChunkSize, and
// LongTerm.ChunkOverlap are required inputs and are never defaulted.
func validateConfig(config *Config) error {
	// Required short-term bound
	if config.ShortTerm.Capacity <= 0 {
		return fmt.Errorf("short_term.capacity is required and must be positive")
	}

	// Required chunking inputs
	if config.LongTerm.ChunkSize <= 0 {
		return fmt.Errorf("long_term.chunk_size is required and must be positive")
	}
	if config.LongTerm.ChunkOverlap < 0 {
		return fmt.Errorf("long_term.chunk_overlap must not be negative")
	}
	if config.LongTerm.ChunkOverlap >= config.LongTerm.ChunkSize {
		return fmt.Errorf("long_term.chunk_overlap must be smaller than long_term.chunk_size")
	}
	if config.LongTerm.MaxContentBytes < 0 {
		return fmt.Errorf("long_term.max_content_bytes must not be negative")
	}

	// Validate the vector index backend
	switch strings.ToLower(config.LongTerm.Index.Backend) {
	case IndexChromem, IndexMemory, "":
		// Chromem and the in-process index need no further settings; an
		// empty chromem path keeps the index in memory.
	case IndexPgvector:
		if config.LongTerm.Index.Pgvector.DSN == "" {
			return fmt.Errorf("long_term.index.pgvector.dsn is required for the pgvector backend")
		}
		if config.LongTerm.Index.Pgvector.Table == "" {
			config.LongTerm.Index.Pgvector.Table = "memory_chunks"
		}
		if config.LongTerm.Index.Pgvector.Dimensions <= 0 {
			config.LongTerm.Index.Pgvector.Dimensions = 1536
		}
		if config.LongTerm.Index.Pgvector.Metric == "" {
			config.LongTerm.Index.Pgvector.Metric = "cosine"
		} else {
			metric := strings.ToLower(config.LongTerm.Index.Pgvector.Metric)
			if metric != "cosine" && metric != "euclidean" && metric != "dot" {
				return fmt.Errorf("unsupported pgvector metric: %s (must be cosine, euclidean, or dot)",
					config.LongTerm.Index.Pgvector.Metric)
			}
		}
	default:
		return fmt.Errorf("unsupported index backend: %s", config.LongTerm.Index.Backend)
	}

	// Validate the record store backend
	switch strings.ToLower(config.LongTerm.Records.Backend) {
	case RecordsBoltDB, RecordsSQLite, RecordsMemory, "":
		// File paths are defaulted by the facade when empty.
	case RecordsPostgres:
		if config.LongTerm.Records.Postgres.DSN == "" {
			return fmt.Errorf("long_term.records.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unsupported records backend: %s", config.LongTerm.Records.Backend)
	}

	// Validate the embedding provider
	switch strings.ToLower(config.Embedding.Provider) {
	case ProviderMock, "":
	case ProviderOpenAI:
		// The API key may arrive via OPENAI_API_KEY, so only the model
		// settings are defaulted here.
		if config.Embedding.OpenAI.Model == "" {
			config.Embedding.OpenAI.Model = "text-embedding-3-small"
		}
		if config.Embedding.OpenAI.Dimensions < 0 {
			return fmt.Errorf("embedding.openai.dimensions must not be negative")
		}
	default:
		return fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}
	if config.Embedding.CacheEntries < 0 {
		return fmt.Errorf("embedding.cache_entries must not be negative")
	}

	// Retrieval defaults
	if config.Retrieval.RecentWindow <= 0 {
		config.Retrieval.RecentWindow = 10
	}
	if config.Retrieval.Candidates <= 0 {
		config.Retrieval.Candidates = 20
	}
	if config.Retrieval.TopK <= 0 {
		config.Retrieval.TopK = 3
	}
	if config.Retrieval.TopK > config.Retrieval.Candidates {
		return fmt.Errorf("retrieval.top_k must not exceed retrieval.candidates")
	}
	if config.Retrieval.ScoreThreshold < 0 || config.Retrieval.ScoreThreshold > 1.0 {
		return fmt.Errorf("retrieval.score_threshold must be between 0 and 1")
	}
	if config.Retrieval.ScoreThreshold == 0 {
		config.Retrieval.ScoreThreshold = 0.5
	}
	if config.Retrieval.TokenBudget < 0 {
		return fmt.Errorf("retrieval.token_budget must not be negative")
	}

	// Validate the reranker mode
	switch strings.ToLower(config.Rerank.Mode) {
	case RerankSimilarity, RerankLexical, RerankEngine, "":
	default:
		return fmt.Errorf("unsupported rerank mode: %s", config.Rerank.Mode)
	}

	// Validate ingestion bounds
	if config.Ingestion.MinLength < 0 {
		return fmt.Errorf("ingestion.min_length must not be negative")
	}
	if config.Ingestion.MaxLength < 0 {
		return fmt.Errorf("ingestion.max_length must not be negative")
	}
	if config.Ingestion.MaxLength > 0 && config.Ingestion.MaxLength < config.Ingestion.MinLength {
		return fmt.Errorf("ingestion.max_length must not be smaller than ingestion.min_length")
	}

	// Validate the classifier mode
	switch strings.ToLower(config.Classifier.Mode) {
	case ClassifierHeuristic, ClassifierEngine, ClassifierNone, "":
	default:
		return fmt.Errorf("unsupported classifier mode: %s", config.Classifier.Mode)
	}

	// Validate the reasoning provider
	switch strings.ToLower(config.Reasoning.Provider) {
	case ProviderMock, "":
	case ProviderOpenAI:
		if config.Reasoning.OpenAI.Model == "" {
			config.Reasoning.OpenAI.Model = "gpt-4"
		}
	default:
		return fmt.Errorf("unsupported reasoning provider: %s", config.Reasoning.Provider)
	}

	// Scripting defaults
	if config.Scripting.TimeoutMs < 0 {
		return fmt.Errorf("scripting.timeout_ms must not be negative")
	}
	if config.Scripting.TimeoutMs == 0 {
		config.Scripting.TimeoutMs = 1000
	}

	// Agent defaults
	if config.Agent.MaxIterations <= 0 {
		config.Agent.MaxIterations = 20
	}

	// Janitor defaults
	if config.Janitor.IntervalSeconds < 0 {
		return fmt.Errorf("janitor.interval_seconds must not be negative")
	}
	if config.Janitor.Enabled && config.Janitor.IntervalSeconds == 0 {
		config.Janitor.IntervalSeconds = 300
	}

	return nil
}

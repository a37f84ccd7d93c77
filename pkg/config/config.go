package config

// Backends for the vector index.
const (
	IndexChromem  = "chromem"
	IndexPgvector = "pgvector"
	IndexMemory   = "memory"
)

// Backends for the record store.
const (
	RecordsBoltDB   = "boltdb"
	RecordsSQLite   = "sqlite"
	RecordsPostgres = "postgres"
	RecordsMemory   = "memory"
)

// Providers for embeddings and reasoning.
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

// Reranker modes.
const (
	RerankSimilarity = "similarity"
	RerankLexical    = "lexical"
	RerankEngine     = "engine"
)

// Classifier modes.
const (
	ClassifierHeuristic = "heuristic"
	ClassifierEngine    = "engine"
	ClassifierNone      = "none"
)

// Config is the top-level configuration for the ragmem library.
type Config struct {
	// ShortTerm configures the per-session conversation window
	ShortTerm ShortTermConfig `yaml:"short_term"`

	// LongTerm configures chunking and the two long-term backends
	LongTerm LongTermConfig `yaml:"long_term"`

	// Embedding configures the embedding provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Retrieval configures the hybrid retrieval pipeline
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Rerank selects how retrieved candidates are ordered
	Rerank RerankConfig `yaml:"rerank"`

	// Ingestion controls which turns are promoted to long-term memory
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Classifier selects the memory classifier
	Classifier ClassifierConfig `yaml:"classifier"`

	// Reasoning configures the LLM engine used by the agent loop
	Reasoning ReasoningConfig `yaml:"reasoning"`

	// Scripting configures the Lua hook engine
	Scripting ScriptingConfig `yaml:"scripting"`

	// Agent configures the plan/act/observe loop
	Agent AgentConfig `yaml:"agent"`

	// Janitor configures the background expiry sweep
	Janitor JanitorConfig `yaml:"janitor"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`

	// Metrics toggles Prometheus instrumentation
	Metrics MetricsConfig `yaml:"metrics"`
}

// ShortTermConfig configures short-term memory.
type ShortTermConfig struct {
	// Capacity is the per-session turn bound. Required.
	Capacity int `yaml:"capacity"`
}

// LongTermConfig configures long-term memory.
type LongTermConfig struct {
	// ChunkSize is the maximum chunk length in runes. Required.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the overlap carried across chunks in runes.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// MaxContentBytes caps one record's content; 0 uses the built-in cap.
	MaxContentBytes int `yaml:"max_content_bytes"`

	// Index selects and configures the vector index backend
	Index IndexConfig `yaml:"index"`

	// Records selects and configures the record store backend
	Records RecordsConfig `yaml:"records"`
}

// IndexConfig configures the vector index.
type IndexConfig struct {
	// Backend is "chromem", "pgvector", or "memory"
	Backend string `yaml:"backend"`

	// Chromem configures the embedded chromem-go index
	Chromem ChromemConfig `yaml:"chromem"`

	// Pgvector configures PostgreSQL with the pgvector extension
	Pgvector PgvectorConfig `yaml:"pgvector"`
}

// ChromemConfig configures the chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory; empty keeps the index in memory
	Path string `yaml:"path"`

	// Compress gzips persisted documents
	Compress bool `yaml:"compress"`
}

// PgvectorConfig configures the pgvector index.
type PgvectorConfig struct {
	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn"`

	// Table is the chunk table name
	Table string `yaml:"table"`

	// Dimensions is the embedding width enforced by the column type
	Dimensions int `yaml:"dimensions"`

	// Metric is the distance metric (cosine, euclidean, dot)
	Metric string `yaml:"metric"`
}

// RecordsConfig configures the record store.
type RecordsConfig struct {
	// Backend is "boltdb", "sqlite", "postgres", or "memory"
	Backend string `yaml:"backend"`

	// BoltDB configures the BoltDB file store
	BoltDB BoltDBConfig `yaml:"boltdb"`

	// SQLite configures the SQLite file store
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Postgres configures the PostgreSQL store
	Postgres PostgresConfig `yaml:"postgres"`
}

// BoltDBConfig configures BoltDB record storage.
type BoltDBConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// SQLiteConfig configures SQLite record storage.
type SQLiteConfig struct {
	// Path is the database file
	Path string `yaml:"path"`
}

// PostgresConfig configures PostgreSQL record storage.
type PostgresConfig struct {
	// DSN is the data source name (connection string)
	DSN string `yaml:"dsn"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai" or "mock"
	Provider string `yaml:"provider"`

	// OpenAI configures the OpenAI embedding API
	OpenAI OpenAIEmbeddingConfig `yaml:"openai"`

	// Mock configures the deterministic test provider
	Mock MockEmbeddingConfig `yaml:"mock"`

	// CacheEntries enables the in-process embedding cache when positive
	CacheEntries int64 `yaml:"cache_entries"`
}

// OpenAIEmbeddingConfig configures OpenAI embeddings.
type OpenAIEmbeddingConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the embedding model
	Model string `yaml:"model"`

	// Dimensions is the vector length the model produces
	Dimensions int `yaml:"dimensions"`

	// BatchSize caps how many texts go into one API request
	BatchSize int `yaml:"batch_size"`
}

// MockEmbeddingConfig configures the deterministic embedding provider.
type MockEmbeddingConfig struct {
	// Dimensions is the vector length to produce
	Dimensions int `yaml:"dimensions"`
}

// RetrievalConfig configures the hybrid retrieval pipeline.
type RetrievalConfig struct {
	// RecentWindow is how many short-term turns a retrieval includes
	RecentWindow int `yaml:"recent_window"`

	// Candidates is how many chunks similarity search returns for reranking
	Candidates int `yaml:"candidates"`

	// TopK is how many reranked chunks make it into the bundle
	TopK int `yaml:"top_k"`

	// ScoreThreshold drops weak candidates before reranking
	ScoreThreshold float64 `yaml:"score_threshold"`

	// TokenBudget caps the assembled bundle; 0 disables the budget
	TokenBudget int `yaml:"token_budget"`
}

// RerankConfig selects the reranker.
type RerankConfig struct {
	// Mode is "similarity", "lexical", or "engine"
	Mode string `yaml:"mode"`
}

// IngestionConfig controls promotion of turns into long-term memory.
type IngestionConfig struct {
	// Enabled toggles automatic promotion
	Enabled bool `yaml:"enabled"`

	// MinLength skips turns shorter than this many runes
	MinLength int `yaml:"min_length"`

	// MaxLength skips turns longer than this many runes; 0 means no cap
	MaxLength int `yaml:"max_length"`

	// AllowTags force-promote regardless of classification
	AllowTags []string `yaml:"allow_tags"`

	// DenyTags veto promotion regardless of classification
	DenyTags []string `yaml:"deny_tags"`
}

// ClassifierConfig selects the memory classifier.
type ClassifierConfig struct {
	// Mode is "heuristic", "engine", or "none"
	Mode string `yaml:"mode"`
}

// ReasoningConfig configures the reasoning engine (LLM).
type ReasoningConfig struct {
	// Provider is "openai" or "mock"; empty disables the engine
	Provider string `yaml:"provider"`

	// OpenAI configures the OpenAI chat API
	OpenAI OpenAIReasoningConfig `yaml:"openai"`
}

// OpenAIReasoningConfig configures OpenAI chat completion.
type OpenAIReasoningConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the chat model
	Model string `yaml:"model"`
}

// ScriptingConfig configures the Lua hook engine.
type ScriptingConfig struct {
	// Paths is a list of directories containing Lua scripts
	Paths []string `yaml:"paths"`

	// AllowUnsafe disables the module sandbox for loaded scripts
	AllowUnsafe bool `yaml:"allow_unsafe"`

	// TimeoutMs bounds one hook invocation in milliseconds
	TimeoutMs int `yaml:"timeout_ms"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	// MaxIterations bounds one Run's plan/act/observe cycles
	MaxIterations int `yaml:"max_iterations"`
}

// JanitorConfig configures the background expiry sweep.
type JanitorConfig struct {
	// Enabled starts the sweep alongside the facade
	Enabled bool `yaml:"enabled"`

	// IntervalSeconds is the time between sweeps
	IntervalSeconds int `yaml:"interval_seconds"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`
}

// MetricsConfig toggles Prometheus instrumentation.
type MetricsConfig struct {
	// Enabled registers collectors on the facade's registry
	Enabled bool `yaml:"enabled"`
}

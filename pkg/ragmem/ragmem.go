// Package ragmem wires the memory subsystem together behind one client:
// configuration in, a ready hybrid memory with an agent loop out.
package ragmem

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lexlapax/ragmem/pkg/agent"
	"github.com/lexlapax/ragmem/pkg/classify"
	"github.com/lexlapax/ragmem/pkg/config"
	"github.com/lexlapax/ragmem/pkg/embedding"
	embeddingMock "github.com/lexlapax/ragmem/pkg/embedding/adapters/mock"
	embeddingOpenAI "github.com/lexlapax/ragmem/pkg/embedding/adapters/openai"
	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/kv/boltdb"
	ltmMock "github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/mock"
	sqlstorePostgres "github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/sqlstore/postgres"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/sqlstore/sqlite"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/vector/chromem_go"
	vectorMock "github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/vector/mock"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/vector/pgvector"
	"github.com/lexlapax/ragmem/pkg/mem/stm"
	"github.com/lexlapax/ragmem/pkg/metrics"
	"github.com/lexlapax/ragmem/pkg/mmu"
	"github.com/lexlapax/ragmem/pkg/reasoning"
	reasoningMock "github.com/lexlapax/ragmem/pkg/reasoning/adapters/mock"
	reasoningOpenAI "github.com/lexlapax/ragmem/pkg/reasoning/adapters/openai"
	"github.com/lexlapax/ragmem/pkg/rerank"
	"github.com/lexlapax/ragmem/pkg/scripting"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Default file locations used when a file-backed record store is selected
// without a path.
const (
	DefaultBoltPath   = "./data/ragmem.bolt.db"
	DefaultSQLitePath = "./data/ragmem.db"
)

// Option overrides one of the capability seams the config would
// otherwise select. Tests and embedding applications use these to bring
// their own adapters.
type Option func(*components)

// WithEmbeddingProvider replaces the configured embedding provider.
func WithEmbeddingProvider(p embedding.Provider) Option {
	return func(c *components) { c.provider = p }
}

// WithReasoningEngine replaces the configured reasoning engine.
func WithReasoningEngine(e reasoning.Engine) Option {
	return func(c *components) { c.engine = e }
}

// WithVectorIndex replaces the configured vector index.
func WithVectorIndex(idx ltm.VectorIndex) Option {
	return func(c *components) { c.index = idx }
}

// WithRecordStore replaces the configured record store.
func WithRecordStore(rs ltm.RecordStore) Option {
	return func(c *components) { c.records = rs }
}

// WithReranker replaces the configured reranker.
func WithReranker(r rerank.Reranker) Option {
	return func(c *components) { c.reranker = r }
}

// WithTools registers tools on the agent loop at construction time.
func WithTools(tools ...agent.Tool) Option {
	return func(c *components) { c.tools = append(c.tools, tools...) }
}

// components collects the seams during construction so options can
// pre-fill them before the config-driven init switches run.
type components struct {
	provider embedding.Provider
	engine   reasoning.Engine
	index    ltm.VectorIndex
	records  ltm.RecordStore
	reranker rerank.Reranker
	tools    []agent.Tool
}

// Client is the façade over the memory subsystem: short-term windows,
// long-term records, retrieval, and the agent loop, all partitioned by
// the session carried in each call's context.
type Client struct {
	cfg      *config.Config
	sessions *session.Registry
	store    *stm.Store
	longterm *ltm.Manager
	memory   *mmu.Manager
	loop     *agent.Loop
	tools    *agent.Registry
	engine   reasoning.Engine
	scripts  scripting.Engine
	index    ltm.VectorIndex
	records  ltm.RecordStore
	metrics  *metrics.Metrics
	promReg  *prometheus.Registry
	janitor  *janitor

	closeOnce sync.Once
	closeErr  error
}

// NewClient builds a client from validated configuration. Capability
// seams left untouched by options are constructed from the config's
// backend switches.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "configuration is required")
	}

	var seams components
	for _, opt := range opts {
		opt(&seams)
	}

	// Instrumentation lives on a private registry so multiple clients in
	// one process never collide.
	var promReg *prometheus.Registry
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		m = metrics.New(promReg)
	} else {
		m = metrics.Nop()
	}

	index := seams.index
	if index == nil {
		var err error
		index, err = initVectorIndex(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector index: %w", err)
		}
	}

	records := seams.records
	if records == nil {
		var err error
		records, err = initRecordStore(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize record store: %w", err)
		}
	}

	provider := seams.provider
	if provider == nil {
		var err error
		provider, err = initEmbeddingProvider(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
		}
	}

	engine := seams.engine
	if engine == nil {
		var err error
		engine, err = initReasoningEngine(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize reasoning engine: %w", err)
		}
	}

	longterm, err := ltm.NewManager(index, records, provider, ltm.Config{
		ChunkSize:       cfg.LongTerm.ChunkSize,
		ChunkOverlap:    cfg.LongTerm.ChunkOverlap,
		MaxContentBytes: cfg.LongTerm.MaxContentBytes,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize long-term memory: %w", err)
	}

	// Evicted short-term turns flow into long-term memory off the append
	// path. The persister stamps each turn's session onto the context it
	// hands the write.
	persister := stm.NewPersister(func(ctx context.Context, turn stm.Turn) error {
		_, err := longterm.Write(ctx, turn.Content, ltm.WriteOptions{
			TurnID: turn.ID,
			Metadata: map[string]interface{}{
				"role":   string(turn.Role),
				"source": turn.Source,
				"seq":    turn.Seq,
			},
		})
		return err
	}, stm.PersisterConfig{}, m)

	store, err := stm.NewStore(stm.Config{Capacity: cfg.ShortTerm.Capacity},
		stm.WithPersister(persister),
		stm.WithMetrics(m),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize short-term memory: %w", err)
	}

	scripts, err := initScriptEngine(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize scripting engine: %w", err)
	}

	reranker := seams.reranker
	if reranker == nil {
		reranker = initReranker(cfg, engine, m)
	}

	mmuOpts := []mmu.Option{
		mmu.WithMetrics(m),
		mmu.WithImportancePredicate(mmu.DefaultPredicate(mmu.IngestionRules{
			Enabled:   cfg.Ingestion.Enabled,
			MinLength: cfg.Ingestion.MinLength,
			MaxLength: cfg.Ingestion.MaxLength,
			AllowTags: cfg.Ingestion.AllowTags,
			DenyTags:  cfg.Ingestion.DenyTags,
		})),
	}
	if classifier := initClassifier(cfg, engine); classifier != nil {
		mmuOpts = append(mmuOpts, mmu.WithClassifier(classifier))
	}
	if scripts != nil {
		mmuOpts = append(mmuOpts, mmu.WithScriptEngine(scripts))
	}

	memory, err := mmu.NewManager(store, longterm, reranker, mmu.Config{
		RecentWindow:   cfg.Retrieval.RecentWindow,
		Candidates:     cfg.Retrieval.Candidates,
		TopK:           cfg.Retrieval.TopK,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
		TokenBudget:    cfg.Retrieval.TokenBudget,
	}, mmuOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory manager: %w", err)
	}

	tools := agent.NewRegistry()
	for _, tool := range seams.tools {
		if err := tools.Register(tool); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}

	loop, err := agent.NewLoop(memory, engine, tools, agent.Config{
		MaxIterations: cfg.Agent.MaxIterations,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize agent loop: %w", err)
	}

	client := &Client{
		cfg:      cfg,
		sessions: session.NewRegistry(),
		store:    store,
		longterm: longterm,
		memory:   memory,
		loop:     loop,
		tools:    tools,
		engine:   engine,
		scripts:  scripts,
		index:    index,
		records:  records,
		metrics:  m,
		promReg:  promReg,
	}

	if cfg.Janitor.Enabled {
		client.janitor = startJanitor(longterm, cfg.Janitor.IntervalSeconds)
	}

	log.Debug("ragmem client initialized",
		"index_backend", cfg.LongTerm.Index.Backend,
		"records_backend", cfg.LongTerm.Records.Backend,
		"embedding_provider", cfg.Embedding.Provider,
		"reasoning_provider", cfg.Reasoning.Provider,
		"janitor_enabled", cfg.Janitor.Enabled,
	)

	return client, nil
}

// NewClientFromFile loads and validates the YAML configuration at path,
// then builds a client from it.
func NewClientFromFile(path string, opts ...Option) (*Client, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return NewClient(cfg, opts...)
}

// Remember stores content as an explicit long-term memory for the
// session in ctx and returns the resulting record.
func (c *Client) Remember(ctx context.Context, content string, tags ...string) (*ltm.MemoryRecord, error) {
	c.touchSession(ctx)
	return c.memory.Remember(ctx, content, tags)
}

// Recall assembles the retrieval bundle for a query: recent turns plus
// the session's best-matching long-term memories.
func (c *Client) Recall(ctx context.Context, query string) (*mmu.ContextBundle, error) {
	c.touchSession(ctx)
	return c.memory.Retrieve(ctx, query)
}

// Search runs a raw similarity search over the session's long-term
// memory, bypassing the short-term window and the reranker.
func (c *Client) Search(ctx context.Context, query string, k int) ([]ltm.RetrievedChunk, error) {
	c.touchSession(ctx)
	return c.longterm.Query(ctx, query, k)
}

// Ask runs the agent loop on one user input for the session in ctx.
func (c *Client) Ask(ctx context.Context, input string) (*agent.Result, error) {
	c.touchSession(ctx)
	return c.loop.Run(ctx, input)
}

// Record appends a conversation turn to the session's short-term window
// and promotes it to long-term memory when the importance rules say so.
func (c *Client) Record(ctx context.Context, turn stm.Turn) (stm.Turn, error) {
	c.touchSession(ctx)
	return c.memory.Record(ctx, turn)
}

// Forget removes one long-term record and its index entries.
func (c *Client) Forget(ctx context.Context, recordID string) error {
	return c.memory.Forget(ctx, recordID)
}

// PurgeSession erases everything the session in ctx owns, in both tiers,
// and drops the session from the registry.
func (c *Client) PurgeSession(ctx context.Context) error {
	if err := c.memory.PurgeSession(ctx); err != nil {
		return err
	}
	if id, ok := session.GetSessionID(ctx); ok {
		c.sessions.Purge(id)
	}
	return nil
}

// Export returns the session's long-term records, oldest first.
func (c *Client) Export(ctx context.Context) ([]ltm.MemoryRecord, error) {
	return c.memory.Export(ctx)
}

// SweepExpired removes expired records across all sessions immediately,
// independent of the background janitor.
func (c *Client) SweepExpired(ctx context.Context) (int, error) {
	return c.longterm.DeleteExpired(ctx)
}

// Sessions lists every session this client has served.
func (c *Client) Sessions() []session.Session {
	return c.sessions.List()
}

// RegisterTool makes a tool available to the agent loop.
func (c *Client) RegisterTool(tool agent.Tool) error {
	return c.tools.Register(tool)
}

// Tools returns the names of the registered agent tools.
func (c *Client) Tools() []string {
	return c.tools.Names()
}

// Config returns the configuration the client was built from.
func (c *Client) Config() *config.Config {
	return c.cfg
}

// MetricsRegistry exposes the Prometheus registry backing this client's
// counters, or nil when metrics are disabled.
func (c *Client) MetricsRegistry() *prometheus.Registry {
	return c.promReg
}

// Close stops the janitor, drains pending eviction writes, and releases
// every backend. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.janitor != nil {
			c.janitor.stop()
		}
		// The store drains its persister before the backends go away.
		if err := c.store.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		if c.scripts != nil {
			if err := c.scripts.Close(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		if err := c.index.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
		if err := c.records.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// touchSession keeps the registry aware of every session the client
// serves so listings and purges see them.
func (c *Client) touchSession(ctx context.Context) {
	if id, ok := session.GetSessionID(ctx); ok {
		c.sessions.GetOrCreate(id)
	}
}

// initVectorIndex selects the vector index from configuration.
func initVectorIndex(cfg *config.Config) (ltm.VectorIndex, error) {
	backend := strings.ToLower(cfg.LongTerm.Index.Backend)
	switch backend {
	case config.IndexChromem, "":
		path := cfg.LongTerm.Index.Chromem.Path
		if path == "" {
			log.Debug("Using in-memory chromem vector index")
			return chromem_go.New()
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create chromem directory: %w", err)
		}
		log.Debug("Using persistent chromem vector index", "path", path)
		return chromem_go.NewPersistent(path, cfg.LongTerm.Index.Chromem.Compress)

	case config.IndexPgvector:
		log.Debug("Using pgvector index", "table", cfg.LongTerm.Index.Pgvector.Table)
		return pgvector.New(context.Background(), pgvector.Config{
			DSN:        cfg.LongTerm.Index.Pgvector.DSN,
			Table:      cfg.LongTerm.Index.Pgvector.Table,
			Dimensions: cfg.LongTerm.Index.Pgvector.Dimensions,
			Metric:     cfg.LongTerm.Index.Pgvector.Metric,
		})

	case config.IndexMemory:
		log.Debug("Using in-process vector index")
		return vectorMock.NewMockIndex(), nil

	default:
		return nil, fmt.Errorf("unsupported index backend: %s", cfg.LongTerm.Index.Backend)
	}
}

// initRecordStore selects the durable record store from configuration.
func initRecordStore(cfg *config.Config) (ltm.RecordStore, error) {
	backend := strings.ToLower(cfg.LongTerm.Records.Backend)
	switch backend {
	case config.RecordsBoltDB, "":
		path := cfg.LongTerm.Records.BoltDB.Path
		if path == "" {
			path = DefaultBoltPath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for BoltDB: %w", err)
		}
		log.Debug("Using BoltDB record store", "path", path)
		return boltdb.Open(path)

	case config.RecordsSQLite:
		path := cfg.LongTerm.Records.SQLite.Path
		if path == "" {
			path = DefaultSQLitePath
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory for SQLite: %w", err)
		}
		log.Debug("Using SQLite record store", "path", path)
		return sqlite.Open(context.Background(), path)

	case config.RecordsPostgres:
		log.Debug("Using PostgreSQL record store")
		return sqlstorePostgres.Open(context.Background(), cfg.LongTerm.Records.Postgres.DSN)

	case config.RecordsMemory:
		log.Debug("Using in-process record store")
		return ltmMock.NewMockStore(), nil

	default:
		return nil, fmt.Errorf("unsupported records backend: %s", cfg.LongTerm.Records.Backend)
	}
}

// initEmbeddingProvider selects the embedding provider from
// configuration, wrapping it in the cache decorator when enabled.
func initEmbeddingProvider(cfg *config.Config) (embedding.Provider, error) {
	var provider embedding.Provider

	switch strings.ToLower(cfg.Embedding.Provider) {
	case config.ProviderOpenAI:
		if cfg.Embedding.OpenAI.APIKey == "" {
			log.Warn("OpenAI API key not found, falling back to mock embeddings")
			provider = embeddingMock.NewMockProvider()
			break
		}
		p, err := embeddingOpenAI.NewOpenAIProvider(embeddingOpenAI.Config{
			APIKey:     cfg.Embedding.OpenAI.APIKey,
			Model:      cfg.Embedding.OpenAI.Model,
			Dimensions: cfg.Embedding.OpenAI.Dimensions,
			BatchSize:  cfg.Embedding.OpenAI.BatchSize,
		})
		if err != nil {
			return nil, err
		}
		log.Debug("Using OpenAI embeddings", "model", cfg.Embedding.OpenAI.Model)
		provider = p

	case config.ProviderMock, "":
		var opts []embeddingMock.MockOption
		if cfg.Embedding.Mock.Dimensions > 0 {
			opts = append(opts, embeddingMock.WithDimensions(cfg.Embedding.Mock.Dimensions))
		}
		log.Debug("Using deterministic mock embeddings")
		provider = embeddingMock.NewMockProvider(opts...)

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Embedding.Provider)
	}

	if cfg.Embedding.CacheEntries > 0 {
		cached, err := embedding.NewCachedProvider(provider, cfg.Embedding.CacheEntries)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding cache: %w", err)
		}
		provider = cached
	}

	return provider, nil
}

// initReasoningEngine selects the reasoning engine from configuration.
// Missing credentials degrade to the mock engine rather than failing
// construction.
func initReasoningEngine(cfg *config.Config) (reasoning.Engine, error) {
	switch strings.ToLower(cfg.Reasoning.Provider) {
	case config.ProviderOpenAI:
		apiKey := cfg.Reasoning.OpenAI.APIKey
		if apiKey == "" {
			log.Warn("OpenAI API key not found, falling back to mock reasoning engine")
			return reasoningMock.NewMockEngine(), nil
		}
		adapter, err := reasoningOpenAI.NewOpenAIAdapter(reasoningOpenAI.Config{
			APIKey:    apiKey,
			ChatModel: cfg.Reasoning.OpenAI.Model,
		})
		if err != nil {
			log.Error("Failed to initialize OpenAI adapter, falling back to mock", "error", err)
			return reasoningMock.NewMockEngine(), nil
		}
		log.Debug("Using OpenAI reasoning engine", "model", cfg.Reasoning.OpenAI.Model)
		return adapter, nil

	case config.ProviderMock, "":
		log.Debug("Using mock reasoning engine")
		return reasoningMock.NewMockEngine(), nil

	default:
		return nil, fmt.Errorf("unsupported reasoning provider: %s", cfg.Reasoning.Provider)
	}
}

// initReranker selects the reranker from configuration. Every mode is
// wrapped in the similarity fallback so retrieval keeps working when the
// primary cannot rank.
func initReranker(cfg *config.Config, engine reasoning.Engine, m *metrics.Metrics) rerank.Reranker {
	switch strings.ToLower(cfg.Rerank.Mode) {
	case config.RerankLexical:
		return rerank.WithFallback(rerank.NewLexical(), m)
	case config.RerankEngine:
		return rerank.WithFallback(rerank.NewEngineReranker(engine), m)
	default:
		return rerank.WithFallback(nil, m)
	}
}

// initClassifier selects the memory classifier from configuration; nil
// means classification is off.
func initClassifier(cfg *config.Config, engine reasoning.Engine) classify.Classifier {
	switch strings.ToLower(cfg.Classifier.Mode) {
	case config.ClassifierEngine:
		return classify.NewEngineClassifier(engine)
	case config.ClassifierNone:
		return nil
	default:
		return classify.NewHeuristic()
	}
}

// initScriptEngine builds the Lua engine and loads scripts from every
// configured directory. No configured paths means no engine: the hooks
// are optional.
func initScriptEngine(cfg *config.Config) (scripting.Engine, error) {
	if len(cfg.Scripting.Paths) == 0 {
		return nil, nil
	}

	engine, err := scripting.NewLuaEngine(scripting.Config{
		EnableSandboxing: !cfg.Scripting.AllowUnsafe,
		ScriptTimeoutMs:  cfg.Scripting.TimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Lua engine: %w", err)
	}

	loaded := false
	for _, basePath := range cfg.Scripting.Paths {
		abs, err := filepath.Abs(basePath)
		if err != nil {
			log.Warn("Failed to resolve script path", "path", basePath, "error", err)
			continue
		}
		if _, err := os.Stat(abs); os.IsNotExist(err) {
			log.Debug("Scripts directory not found", "path", abs)
			continue
		}
		if err := engine.LoadScriptDir(abs); err != nil {
			log.Warn("Failed to load scripts", "path", abs, "error", err)
			continue
		}
		log.Debug("Loaded scripts", "path", abs)
		loaded = true
	}
	if !loaded {
		log.Warn("No scripts were loaded from any configured path")
	}

	return engine, nil
}

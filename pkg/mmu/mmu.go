// Package mmu coordinates the flow of conversation turns between
// short-term and long-term memory and assembles retrieval context for
// the agent loop.
package mmu

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lexlapax/ragmem/pkg/classify"
	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/mem/stm"
	"github.com/lexlapax/ragmem/pkg/metrics"
	"github.com/lexlapax/ragmem/pkg/rerank"
	"github.com/lexlapax/ragmem/pkg/scripting"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Default retrieval parameters, applied when the corresponding Config
// field is zero.
const (
	DefaultRecentWindow   = 10
	DefaultCandidates     = 20
	DefaultTopK           = 3
	DefaultScoreThreshold = 0.5
)

// ContextBundle is the composed context for one retrieval: the most
// recent short-term turns plus the reranked long-term memories.
type ContextBundle struct {
	// RecentTurns are the session's newest turns, oldest first
	RecentTurns []stm.Turn

	// Memories are the surviving long-term chunks in rank order
	Memories []ltm.RetrievedChunk

	// Truncated reports that the token budget removed memories, or that
	// the recent turns alone already exceed it
	Truncated bool
}

// IngestionRules gate which turns the default importance predicate
// promotes into long-term memory.
type IngestionRules struct {
	// Enabled turns automatic promotion on
	Enabled bool

	// MinLength skips turns shorter than this many runes
	MinLength int

	// MaxLength skips turns longer than this many runes; 0 means no cap
	MaxLength int

	// AllowTags force promotion when the classifier attached one of them
	AllowTags []string

	// DenyTags veto promotion when the classifier attached one of them
	DenyTags []string
}

// DefaultIngestion returns the rules used when none are injected:
// promotion on, no length bounds, no tag lists.
func DefaultIngestion() IngestionRules {
	return IngestionRules{Enabled: true}
}

// ImportancePredicate decides whether a recorded turn is worth an eager
// long-term write. The classification is the zero value when no
// classifier is configured.
type ImportancePredicate func(turn stm.Turn, c classify.Classification) bool

// DefaultPredicate builds the stock importance predicate from ingestion
// rules. Tool results, final answers, and long-tier classifications are
// promoted; deny tags and length bounds veto, allow tags force.
func DefaultPredicate(rules IngestionRules) ImportancePredicate {
	return func(turn stm.Turn, c classify.Classification) bool {
		if !rules.Enabled {
			return false
		}
		length := utf8.RuneCountInString(turn.Content)
		if length < rules.MinLength {
			return false
		}
		if rules.MaxLength > 0 && length > rules.MaxLength {
			return false
		}
		for _, tag := range c.Tags {
			if containsTag(rules.DenyTags, tag) {
				return false
			}
		}
		for _, tag := range c.Tags {
			if containsTag(rules.AllowTags, tag) {
				return true
			}
		}
		if turn.Source == stm.SourceTool || turn.Source == stm.SourceFinal {
			return true
		}
		return c.Tier == classify.TierLong
	}
}

// Config holds the retrieval composition parameters.
type Config struct {
	// RecentWindow is how many short-term turns a retrieval includes
	RecentWindow int

	// Candidates is how many chunks the similarity search fetches
	Candidates int

	// TopK is how many memories survive reranking
	TopK int

	// ScoreThreshold drops candidates scoring below it before reranking;
	// 0 selects the default
	ScoreThreshold float64

	// TokenBudget caps the bundle size in tokens; 0 disables the budget
	TokenBudget int
}

func (c Config) withDefaults() Config {
	if c.RecentWindow <= 0 {
		c.RecentWindow = DefaultRecentWindow
	}
	if c.Candidates <= 0 {
		c.Candidates = DefaultCandidates
	}
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.ScoreThreshold <= 0 {
		c.ScoreThreshold = DefaultScoreThreshold
	}
	if c.TopK > c.Candidates {
		c.TopK = c.Candidates
	}
	return c
}

// Option configures optional Manager collaborators.
type Option func(*Manager)

// WithClassifier routes recorded turns through a classifier before the
// importance decision and stamps its verdict on promoted records.
func WithClassifier(c classify.Classifier) Option {
	return func(m *Manager) { m.classifier = c }
}

// WithScriptEngine enables the lua hooks (classify_importance,
// filter_retrieved).
func WithScriptEngine(engine scripting.Engine) Option {
	return func(m *Manager) { m.scripts = engine }
}

// WithImportancePredicate replaces the default promotion rules.
func WithImportancePredicate(p ImportancePredicate) Option {
	return func(m *Manager) { m.important = p }
}

// WithTokenCounter replaces the default token counter.
func WithTokenCounter(tc *TokenCounter) Option {
	return func(m *Manager) { m.counter = tc }
}

// WithMetrics wires instrumentation; nil metrics are replaced by no-ops.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// Manager composes short-term and long-term memory behind the operations
// the agent loop needs: Retrieve, Record, Remember, Forget.
type Manager struct {
	stm        *stm.Store
	ltm        *ltm.Manager
	reranker   rerank.Reranker
	classifier classify.Classifier
	scripts    scripting.Engine
	important  ImportancePredicate
	counter    *TokenCounter
	cfg        Config
	metrics    *metrics.Metrics
}

// NewManager creates a memory manager. The short-term store and
// long-term manager are required; a nil reranker falls back to
// similarity ordering.
func NewManager(store *stm.Store, longterm *ltm.Manager, reranker rerank.Reranker, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil || longterm == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "short-term store and long-term manager are required")
	}
	m := &Manager{
		stm: store,
		ltm: longterm,
		cfg: cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.Nop()
	}
	if reranker == nil {
		reranker = rerank.WithFallback(nil, m.metrics)
	}
	m.reranker = reranker
	if m.important == nil {
		m.important = DefaultPredicate(DefaultIngestion())
	}
	if m.counter == nil && m.cfg.TokenBudget > 0 {
		m.counter = NewTokenCounter()
	}
	return m, nil
}

// Retrieve assembles the context bundle for a query: the session's
// recent turns plus the reranked long-term memories that clear the score
// threshold. Long-term failures degrade the bundle to short-term-only
// rather than failing the retrieval.
func (m *Manager) Retrieve(ctx context.Context, query string) (*ContextBundle, error) {
	if _, ok := session.GetSessionID(ctx); !ok {
		return nil, session.ErrMissingSessionContext
	}
	start := time.Now()
	defer func() {
		m.metrics.RetrieveDuration.Observe(time.Since(start).Seconds())
	}()

	recent, err := m.stm.Recent(ctx, m.cfg.RecentWindow)
	if err != nil {
		return nil, err
	}
	bundle := &ContextBundle{RecentTurns: recent}
	if strings.TrimSpace(query) == "" {
		return bundle, nil
	}

	bundle.Memories = m.queryLongTerm(ctx, query)
	m.applyBudget(ctx, bundle)
	return bundle, nil
}

// queryLongTerm runs search, threshold filter, rerank, and the
// filter_retrieved hook. Any long-term failure degrades to no memories.
func (m *Manager) queryLongTerm(ctx context.Context, query string) []ltm.RetrievedChunk {
	candidates, err := m.ltm.Query(ctx, query, m.cfg.Candidates)
	if err != nil {
		m.metrics.RetrieveDegraded.Inc()
		log.WarnContext(ctx, "Long-term retrieval unavailable, degrading to short-term context",
			"error", err)
		return nil
	}

	kept := make([]ltm.RetrievedChunk, 0, len(candidates))
	for _, c := range candidates {
		if c.Score >= m.cfg.ScoreThreshold {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return nil
	}

	ranked, err := m.reranker.Rerank(ctx, query, kept, m.cfg.TopK)
	if err != nil {
		log.WarnContext(ctx, "Rerank failed, ordering by similarity", "error", err)
		ranked = rerank.BySimilarity(kept, m.cfg.TopK)
	}
	return m.filterRetrievedHook(ctx, query, ranked)
}

// applyBudget enforces the token budget on the bundle. Memories are
// dropped lowest-ranked first; recent turns are never truncated.
func (m *Manager) applyBudget(ctx context.Context, bundle *ContextBundle) {
	if m.cfg.TokenBudget <= 0 || m.counter == nil {
		return
	}
	used := 0
	for _, turn := range bundle.RecentTurns {
		used += m.counter.Count(turn.Content)
	}
	if used > m.cfg.TokenBudget {
		log.WarnContext(ctx, "Recent turns alone exceed the token budget",
			"tokens", used, "budget", m.cfg.TokenBudget)
		bundle.Truncated = true
		bundle.Memories = nil
		return
	}

	kept := make([]ltm.RetrievedChunk, 0, len(bundle.Memories))
	for _, mem := range bundle.Memories {
		cost := m.counter.Count(mem.Text)
		if used+cost > m.cfg.TokenBudget {
			break
		}
		used += cost
		kept = append(kept, mem)
	}
	if len(kept) < len(bundle.Memories) {
		bundle.Truncated = true
		bundle.Memories = kept
	}
}

// Record appends a turn to short-term memory and eagerly promotes it to
// long-term memory when the importance predicate (or the
// classify_importance hook) says so. A failed promotion never fails the
// append; the turn simply stays short-term.
func (m *Manager) Record(ctx context.Context, turn stm.Turn) (stm.Turn, error) {
	appended, err := m.stm.Append(ctx, turn)
	if err != nil {
		return stm.Turn{}, err
	}

	classification := m.classifyTurn(ctx, appended)
	important := m.important(appended, classification)
	if decided, verdict := m.classifyImportanceHook(ctx, appended); decided {
		important = verdict
	}
	if important {
		m.promote(ctx, appended, classification)
	}
	return appended, nil
}

func (m *Manager) classifyTurn(ctx context.Context, turn stm.Turn) classify.Classification {
	if m.classifier == nil {
		return classify.Classification{}
	}
	c, err := m.classifier.Classify(ctx, turn.Content)
	if err != nil {
		log.DebugContext(ctx, "Classification failed, treating turn as unclassified", "error", err)
		return classify.Classification{}
	}
	return c
}

// promote writes a turn into long-term memory, stamping the classifier's
// tags, category, and (for short-tier content) an expiry.
func (m *Manager) promote(ctx context.Context, turn stm.Turn, c classify.Classification) {
	opts := ltm.WriteOptions{
		TurnID:   turn.ID,
		Tags:     c.Tags,
		Category: c.Category,
	}
	if c.Tier == classify.TierShort && c.TTL > 0 {
		expires := turn.CreatedAt.Add(c.TTL)
		opts.ExpiresAt = &expires
	}
	if _, err := m.ltm.Write(ctx, turn.Content, opts); err != nil {
		log.WarnContext(ctx, "Eager long-term write failed, turn remains short-term only",
			"turn_id", turn.ID, "error", err)
	}
}

// Remember stores content in long-term memory explicitly. Explicit
// memories never expire; the classifier only enriches category and tags.
func (m *Manager) Remember(ctx context.Context, content string, tags []string) (*ltm.MemoryRecord, error) {
	opts := ltm.WriteOptions{Tags: tags}
	if m.classifier != nil {
		if c, err := m.classifier.Classify(ctx, content); err == nil {
			opts.Category = c.Category
			opts.Tags = mergeTags(tags, c.Tags)
		}
	}
	return m.ltm.Write(ctx, content, opts)
}

// Forget removes a long-term record and its indexed chunks.
func (m *Manager) Forget(ctx context.Context, recordID string) error {
	return m.ltm.DeleteRecord(ctx, recordID)
}

// PurgeSession erases the session's short-term window and every
// long-term record it owns.
func (m *Manager) PurgeSession(ctx context.Context) error {
	if err := m.stm.Clear(ctx); err != nil {
		return err
	}
	return m.ltm.DeleteSession(ctx)
}

// Export returns the session's long-term records for inspection.
func (m *Manager) Export(ctx context.Context) ([]ltm.MemoryRecord, error) {
	return m.ltm.Export(ctx)
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

// mergeTags combines explicit and classifier tags, explicit first,
// dropping case-insensitive duplicates.
func mergeTags(explicit, derived []string) []string {
	merged := make([]string, 0, len(explicit)+len(derived))
	for _, t := range explicit {
		if !containsTag(merged, t) {
			merged = append(merged, t)
		}
	}
	for _, t := range derived {
		if !containsTag(merged, t) {
			merged = append(merged, t)
		}
	}
	return merged
}

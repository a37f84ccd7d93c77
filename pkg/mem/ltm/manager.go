package ltm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/lexlapax/ragmem/pkg/embedding"
	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/chunker"
	"github.com/lexlapax/ragmem/pkg/metrics"
	"github.com/lexlapax/ragmem/pkg/session"
)

// DefaultMaxContentBytes caps how much content one record may carry before
// a write is rejected with ErrBudgetExceeded.
const DefaultMaxContentBytes = 1 << 20

// Config holds the orchestration parameters for long-term memory.
type Config struct {
	// ChunkSize is the maximum chunk length in runes. Required.
	ChunkSize int

	// ChunkOverlap is the overlap carried across chunk boundaries in
	// runes. Required (zero is a valid value when set explicitly).
	ChunkOverlap int

	// MaxContentBytes rejects oversized writes; 0 means DefaultMaxContentBytes.
	MaxContentBytes int
}

// WriteOptions carries optional attributes for a long-term write.
type WriteOptions struct {
	// TurnID references the short-term turn being persisted, if any
	TurnID string

	// Tags to attach to the record
	Tags []string

	// Category is the classifier's routing label
	Category string

	// Metadata is free-form structured data stored with the record
	Metadata map[string]interface{}

	// ExpiresAt marks the record for the expiry sweep
	ExpiresAt *time.Time
}

// Manager orchestrates chunking, embedding, indexing, and durable record
// persistence for long-term memory. Writes are all-or-nothing: a failure
// while embedding or indexing rolls back anything already upserted, and
// the record is only persisted once every chunk is indexed.
type Manager struct {
	index      VectorIndex
	records    RecordStore
	provider   embedding.Provider
	splitter   *chunker.Splitter
	maxContent int
	metrics    *metrics.Metrics
}

// NewManager creates a long-term memory manager. ChunkSize and
// ChunkOverlap are required configuration; invalid values are rejected.
func NewManager(index VectorIndex, records RecordStore, provider embedding.Provider, cfg Config, m *metrics.Metrics) (*Manager, error) {
	if index == nil || records == nil || provider == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "index, record store, and embedding provider are required")
	}
	splitter, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	maxContent := cfg.MaxContentBytes
	if maxContent <= 0 {
		maxContent = DefaultMaxContentBytes
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Manager{
		index:      index,
		records:    records,
		provider:   provider,
		splitter:   splitter,
		maxContent: maxContent,
		metrics:    m,
	}, nil
}

// Write persists content as a new memory record under the session carried
// in ctx. Identical content written twice within a session returns the
// existing record without touching the index.
func (m *Manager) Write(ctx context.Context, content string, opts WriteOptions) (*MemoryRecord, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return nil, session.ErrMissingSessionContext
	}
	if content == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "content is empty")
	}
	if len(content) > m.maxContent {
		return nil, errors.Wrap(errors.ErrBudgetExceeded, "content is %d bytes, cap is %d", len(content), m.maxContent)
	}

	hash := hashContent(content)
	existing, err := m.records.FindByHash(ctx, sessionID, hash)
	if err != nil {
		return nil, errors.Wrap(err, "checking for duplicate content")
	}
	if existing != nil {
		m.metrics.LTMDedupHits.Inc()
		log.DebugContext(ctx, "Duplicate content, returning existing record",
			"session_id", sessionID, "record_id", existing.ID)
		return existing, nil
	}

	segments := m.splitter.Split(content)
	texts := make([]string, len(segments))
	for i, seg := range segments {
		texts[i] = seg.Text
	}

	vectors, err := m.provider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "embedding %d chunks", len(texts))
	}
	if len(vectors) != len(segments) {
		return nil, errors.Wrap(errors.ErrEmbeddingUnavailable,
			"embedded %d of %d chunks", len(vectors), len(segments))
	}

	recordID := uuid.New().String()
	chunks := make([]Chunk, len(segments))
	entries := make([]Entry, len(segments))
	for i, seg := range segments {
		chunks[i] = Chunk{
			ID:        ChunkID(recordID, i),
			RecordID:  recordID,
			SessionID: sessionID,
			Seq:       i,
			Text:      seg.Text,
			Overlap:   seg.Overlap,
			Embedding: vectors[i],
		}
		entries[i] = Entry{
			ID:     chunks[i].ID,
			Vector: vectors[i],
			Payload: Payload{
				SessionID: sessionID,
				RecordID:  recordID,
				Seq:       i,
				Overlap:   seg.Overlap,
				Text:      seg.Text,
			},
		}
	}

	if err := m.index.Upsert(ctx, entries); err != nil {
		m.metrics.IndexErrors.WithLabelValues("upsert").Inc()
		m.rollbackIndex(ctx, chunks)
		return nil, errors.Wrap(err, "indexing record %s", recordID)
	}

	record := MemoryRecord{
		ID:          recordID,
		SessionID:   sessionID,
		TurnID:      opts.TurnID,
		Content:     content,
		ContentHash: hash,
		Category:    opts.Category,
		Tags:        opts.Tags,
		Metadata:    opts.Metadata,
		Chunks:      chunks,
		CreatedAt:   time.Now().UTC(),
		ExpiresAt:   opts.ExpiresAt,
		Indexed:     true,
	}
	if err := m.records.Put(ctx, record); err != nil {
		m.rollbackIndex(ctx, chunks)
		return nil, errors.Wrap(err, "persisting record %s", recordID)
	}

	m.metrics.LTMWrites.Inc()
	log.DebugContext(ctx, "Stored long-term memory record",
		"session_id", sessionID, "record_id", recordID, "chunks", len(chunks))
	return &record, nil
}

// Query embeds text once and returns the session's k most similar chunks
// with raw similarity scores. Ordering is the reranker's job; an unknown
// session yields an empty result.
func (m *Manager) Query(ctx context.Context, text string, k int) ([]RetrievedChunk, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return nil, session.ErrMissingSessionContext
	}
	if k <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "k must be positive, got %d", k)
	}

	vector, err := m.provider.Embed(ctx, text)
	if err != nil {
		return nil, errors.Wrap(err, "embedding query")
	}

	hits, err := m.index.Search(ctx, vector, Filter{SessionID: sessionID}, k)
	if err != nil {
		m.metrics.IndexErrors.WithLabelValues("search").Inc()
		return nil, errors.Wrap(err, "querying session %s", sessionID)
	}

	results := make([]RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		results = append(results, RetrievedChunk{
			Chunk: Chunk{
				ID:        hit.ID,
				RecordID:  hit.Payload.RecordID,
				SessionID: hit.Payload.SessionID,
				Seq:       hit.Payload.Seq,
				Text:      hit.Payload.Text,
				Overlap:   hit.Payload.Overlap,
			},
			Score: hit.Score,
		})
	}
	return results, nil
}

// DeleteRecord removes one record and its index entries. The record must
// belong to the session in ctx; records owned by other sessions report
// ErrNotFound rather than leaking their existence.
func (m *Manager) DeleteRecord(ctx context.Context, recordID string) error {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return session.ErrMissingSessionContext
	}

	record, err := m.records.Get(ctx, recordID)
	if err != nil {
		return err
	}
	if record.SessionID != sessionID {
		return errors.Wrap(errors.ErrNotFound, "record %s", recordID)
	}

	if err := m.index.Delete(ctx, record.ChunkIDs()); err != nil {
		m.metrics.IndexErrors.WithLabelValues("delete").Inc()
		return errors.Wrap(err, "removing index entries for record %s", recordID)
	}
	return m.records.Delete(ctx, recordID)
}

// DeleteSession removes every record and index entry belonging to the
// session in ctx.
func (m *Manager) DeleteSession(ctx context.Context) error {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return session.ErrMissingSessionContext
	}

	records, err := m.records.List(ctx, sessionID)
	if err != nil {
		return errors.Wrap(err, "listing records for session %s", sessionID)
	}
	var chunkIDs []string
	for _, record := range records {
		chunkIDs = append(chunkIDs, record.ChunkIDs()...)
	}
	if len(chunkIDs) > 0 {
		if err := m.index.Delete(ctx, chunkIDs); err != nil {
			m.metrics.IndexErrors.WithLabelValues("delete").Inc()
			return errors.Wrap(err, "removing index entries for session %s", sessionID)
		}
	}
	return m.records.DeleteSession(ctx, sessionID)
}

// DeleteExpired removes records across all sessions whose TTL has passed,
// along with their index entries. It returns how many records were removed.
func (m *Manager) DeleteExpired(ctx context.Context) (int, error) {
	expired, err := m.records.ListExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, errors.Wrap(err, "listing expired records")
	}

	removed := 0
	for _, record := range expired {
		if err := m.index.Delete(ctx, record.ChunkIDs()); err != nil {
			m.metrics.IndexErrors.WithLabelValues("delete").Inc()
			log.WarnContext(ctx, "Failed to remove index entries for expired record",
				"record_id", record.ID, "error", err)
			continue
		}
		if err := m.records.Delete(ctx, record.ID); err != nil {
			log.WarnContext(ctx, "Failed to delete expired record",
				"record_id", record.ID, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Export returns all records for the session in ctx, ordered by creation
// time.
func (m *Manager) Export(ctx context.Context) ([]MemoryRecord, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return nil, session.ErrMissingSessionContext
	}
	return m.records.List(ctx, sessionID)
}

// rollbackIndex best-effort deletes chunks that may already be in the
// index. It runs detached from ctx cancellation so an aborted write still
// cleans up after itself.
func (m *Manager) rollbackIndex(ctx context.Context, chunks []Chunk) {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	detached := context.WithoutCancel(ctx)
	if err := m.index.Delete(detached, ids); err != nil {
		log.WarnContext(ctx, "Rollback of partially indexed record failed",
			"chunks", len(ids), "error", err)
	}
}

// hashContent returns the sha256 hex digest used for deduplication.
func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

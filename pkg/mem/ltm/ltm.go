package ltm

import (
	"context"
	"fmt"
	"time"

	"github.com/lexlapax/ragmem/pkg/session"
)

// MemoryRecord represents a single memory entry in long-term memory.
type MemoryRecord struct {
	// ID is a unique identifier for the record
	ID string

	// SessionID is the session that owns this memory
	SessionID session.ID

	// TurnID references the short-term turn this record came from, if any
	TurnID string

	// Content is the full memory content; chunks reconstruct it exactly
	Content string

	// ContentHash is the sha256 of Content, used for per-session deduplication
	ContentHash string

	// Category is the classifier's routing label (preference, fact, ...)
	Category string

	// Tags are free-form labels attached at write time
	Tags []string

	// Metadata is additional structured data about this memory
	Metadata map[string]interface{}

	// Chunks is the ordered list of bounded slices this record was split into
	Chunks []Chunk

	// CreatedAt is when this memory was initially stored
	CreatedAt time.Time

	// ExpiresAt, when set, marks the record for removal by the expiry sweep
	ExpiresAt *time.Time

	// Indexed reports that every chunk made it into the vector index;
	// writes are all-or-nothing, so persisted records always carry true
	Indexed bool
}

// ChunkIDs returns the IDs of the record's chunks in order.
func (r *MemoryRecord) ChunkIDs() []string {
	ids := make([]string, len(r.Chunks))
	for i, c := range r.Chunks {
		ids[i] = c.ID
	}
	return ids
}

// Expired reports whether the record's TTL has passed at the given time.
func (r *MemoryRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Chunk is a bounded slice of a record's content plus its embedding.
// Chunks are immutable once written.
type Chunk struct {
	// ID is "<recordID>:<seq>", stable for the life of the record
	ID string

	// RecordID is the owning record
	RecordID string

	// SessionID mirrors the owning record's session for index filtering
	SessionID session.ID

	// Seq is the chunk's position within the record
	Seq int

	// Text is the chunk content, including the overlap prefix
	Text string

	// Overlap is the number of leading runes repeated from the previous chunk
	Overlap int

	// Embedding is the chunk's vector; not persisted with the record, the
	// vector index owns it
	Embedding []float32 `json:"-"`
}

// ChunkID derives the stable identifier for a record's nth chunk.
func ChunkID(recordID string, seq int) string {
	return fmt.Sprintf("%s:%04d", recordID, seq)
}

// RetrievedChunk pairs a chunk with its raw similarity score for one query.
// It is transient and never persisted.
type RetrievedChunk struct {
	Chunk
	Score float64
}

// Payload is the lookup-only association the vector index keeps per chunk.
// It is a back-reference to the owning record, never an ownership relation.
type Payload struct {
	SessionID session.ID `json:"session_id"`
	RecordID  string     `json:"record_id"`
	Seq       int        `json:"seq"`
	Overlap   int        `json:"overlap"`
	Text      string     `json:"text"`
}

// Entry is one (id, vector, payload) tuple for the vector index.
type Entry struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is one similarity search result. Score is a similarity in [0, 1]
// where higher is more similar.
type Hit struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts a similarity search. The session filter is applied
// inside the search, before or as part of ranking, never afterwards.
type Filter struct {
	SessionID session.ID
}

// VectorIndex is the interface all vector index backends must implement.
type VectorIndex interface {
	// Upsert stores entries, replacing any with the same ID.
	Upsert(ctx context.Context, entries []Entry) error

	// Search returns the k entries most similar to vector, restricted by
	// the filter. Result ordering beyond scores is not guaranteed.
	Search(ctx context.Context, vector []float32, filter Filter, k int) ([]Hit, error)

	// Delete removes entries by ID. Unknown IDs are not an error.
	Delete(ctx context.Context, ids []string) error

	// Close releases backend resources.
	Close() error
}

// RecordStore is the durable store for memory record metadata, scoped by
// session.
type RecordStore interface {
	// Put persists a record.
	Put(ctx context.Context, record MemoryRecord) error

	// Get fetches a record by ID, returning errors.ErrNotFound when absent.
	Get(ctx context.Context, id string) (MemoryRecord, error)

	// List returns all records for a session ordered by creation time.
	// An unknown session yields an empty list, never an error.
	List(ctx context.Context, sessionID session.ID) ([]MemoryRecord, error)

	// FindByHash returns the session's record with the given content hash,
	// or nil when no such record exists.
	FindByHash(ctx context.Context, sessionID session.ID, hash string) (*MemoryRecord, error)

	// ListExpired returns records across all sessions whose TTL passed.
	ListExpired(ctx context.Context, now time.Time) ([]MemoryRecord, error)

	// Delete removes a record by ID.
	Delete(ctx context.Context, id string) error

	// DeleteSession removes all records belonging to a session.
	DeleteSession(ctx context.Context, sessionID session.ID) error

	// Close releases store resources.
	Close() error
}

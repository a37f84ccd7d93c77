// Package chromem_go implements the vector index on chromem-go, a pure
// Go embedded vector database. Each session gets its own collection, so
// the session filter is structural: a search can only ever see the
// collection it asks for.
package chromem_go

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

// metadata keys carried on every stored document
const (
	metaSessionID = "session_id"
	metaRecordID  = "record_id"
	metaSeq       = "seq"
	metaOverlap   = "overlap"
)

// Index is a chromem-go backed ltm.VectorIndex.
type Index struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[session.ID]*chromem.Collection
}

// New creates an in-memory index. Contents are lost on process exit.
func New() (*Index, error) {
	return &Index{
		db:          chromem.NewDB(),
		collections: make(map[session.ID]*chromem.Collection),
	}, nil
}

// NewPersistent creates an index persisted under path. Compression
// trades CPU for disk on the stored documents.
func NewPersistent(path string, compress bool) (*Index, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err != nil {
		return nil, errors.Wrap(err, "opening chromem database at %s", path)
	}
	return &Index{
		db:          db,
		collections: make(map[session.ID]*chromem.Collection),
	}, nil
}

func collectionName(id session.ID) string {
	return fmt.Sprintf("session_%s", session.Normalize(id))
}

// collection returns the session's collection, creating it on first use.
func (i *Index) collection(id session.ID) (*chromem.Collection, error) {
	id = session.Normalize(id)

	i.mu.RLock()
	col, ok := i.collections[id]
	i.mu.RUnlock()
	if ok {
		return col, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if col, ok := i.collections[id]; ok {
		return col, nil
	}

	// embeddings are always provided by the caller, so no embedding func
	col, err := i.db.GetOrCreateCollection(collectionName(id), nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating collection for session %s", id)
	}
	i.collections[id] = col
	return col, nil
}

// Upsert stores entries in their sessions' collections.
func (i *Index) Upsert(ctx context.Context, entries []ltm.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	bySession := make(map[session.ID][]chromem.Document)
	for _, e := range entries {
		doc := chromem.Document{
			ID:        e.ID,
			Content:   e.Payload.Text,
			Embedding: e.Vector,
			Metadata: map[string]string{
				metaSessionID: string(e.Payload.SessionID),
				metaRecordID:  e.Payload.RecordID,
				metaSeq:       strconv.Itoa(e.Payload.Seq),
				metaOverlap:   strconv.Itoa(e.Payload.Overlap),
			},
		}
		bySession[e.Payload.SessionID] = append(bySession[e.Payload.SessionID], doc)
	}

	for id, docs := range bySession {
		col, err := i.collection(id)
		if err != nil {
			return err
		}
		if err := col.AddDocuments(ctx, docs, 1); err != nil {
			return errors.Wrap(err, "adding %d documents for session %s", len(docs), id)
		}
	}
	return nil
}

// Search returns the filter session's k nearest chunks. chromem caps
// nResults at the collection size, so k is clamped before the query.
func (i *Index) Search(ctx context.Context, vector []float32, filter ltm.Filter, k int) ([]ltm.Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	col, err := i.collection(filter.SessionID)
	if err != nil {
		return nil, err
	}

	n := k
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "querying session %s", session.Normalize(filter.SessionID))
	}

	hits := make([]ltm.Hit, 0, len(results))
	for _, r := range results {
		hit := ltm.Hit{
			ID:    r.ID,
			Score: float64(r.Similarity),
			Payload: ltm.Payload{
				SessionID: session.ID(r.Metadata[metaSessionID]),
				RecordID:  r.Metadata[metaRecordID],
				Text:      r.Content,
			},
		}
		if seq, err := strconv.Atoi(r.Metadata[metaSeq]); err == nil {
			hit.Payload.Seq = seq
		}
		if overlap, err := strconv.Atoi(r.Metadata[metaOverlap]); err == nil {
			hit.Payload.Overlap = overlap
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Delete removes entries by ID. Chunk IDs do not carry their session, so
// the delete is applied to every known collection; collections without a
// matching ID are untouched.
func (i *Index) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	for name, col := range i.db.ListCollections() {
		if err := col.Delete(ctx, nil, nil, ids...); err != nil {
			return errors.Wrap(err, "deleting from collection %s", name)
		}
	}
	return nil
}

// Close is a no-op: chromem persists synchronously on write.
func (i *Index) Close() error {
	return nil
}

var _ ltm.VectorIndex = (*Index)(nil)

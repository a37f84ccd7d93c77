package testutil

import (
	"context"
	"sync"

	"github.com/lexlapax/ragmem/pkg/mem/ltm"
)

// ScriptedIndex is an ltm.VectorIndex whose search results are fixed by
// the test. It records upserts and the last query so assertions can check
// exactly what reached the index, and injects failures on demand.
type ScriptedIndex struct {
	mu sync.RWMutex

	entries    map[string]ltm.Entry
	order      []string
	hits       []ltm.Hit
	scripted   bool
	lastVector []float32
	lastFilter ltm.Filter
	lastK      int

	// UpsertErr, SearchErr, and DeleteErr are returned verbatim by the
	// corresponding operation when set.
	UpsertErr error
	SearchErr error
	DeleteErr error
}

// NewScriptedIndex creates an empty scripted index.
func NewScriptedIndex() *ScriptedIndex {
	return &ScriptedIndex{entries: make(map[string]ltm.Entry)}
}

// ScriptHits fixes the result of every following Search call.
func (s *ScriptedIndex) ScriptHits(hits ...ltm.Hit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits = hits
	s.scripted = true
}

// Upsert stores the entries for later inspection.
func (s *ScriptedIndex) Upsert(ctx context.Context, entries []ltm.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	for _, entry := range entries {
		if _, exists := s.entries[entry.ID]; !exists {
			s.order = append(s.order, entry.ID)
		}
		s.entries[entry.ID] = entry
	}
	return nil
}

// Search returns the scripted hits when set. Otherwise it replays the
// session's upserted entries in insertion order with descending scores,
// so unscripted tests still get deterministic results.
func (s *ScriptedIndex) Search(ctx context.Context, vector []float32, filter ltm.Filter, k int) ([]ltm.Hit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	s.lastVector = append([]float32(nil), vector...)
	s.lastFilter = filter
	s.lastK = k

	if s.scripted {
		out := make([]ltm.Hit, len(s.hits))
		copy(out, s.hits)
		if k < len(out) {
			out = out[:k]
		}
		return out, nil
	}

	var out []ltm.Hit
	for _, id := range s.order {
		entry := s.entries[id]
		if filter.SessionID != "" && entry.Payload.SessionID != filter.SessionID {
			continue
		}
		score := 1.0 - float64(len(out))*0.01
		out = append(out, ltm.Hit{ID: entry.ID, Score: score, Payload: entry.Payload})
		if len(out) == k {
			break
		}
	}
	return out, nil
}

// Delete removes entries by ID. Unknown IDs are ignored.
func (s *ScriptedIndex) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	for _, id := range ids {
		if _, exists := s.entries[id]; !exists {
			continue
		}
		delete(s.entries, id)
		for i, known := range s.order {
			if known == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	return nil
}

// Close is a no-op.
func (s *ScriptedIndex) Close() error { return nil }

// Len reports how many entries the index currently holds.
func (s *ScriptedIndex) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entry returns the stored entry by ID for assertions.
func (s *ScriptedIndex) Entry(id string) (ltm.Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	return entry, ok
}

// LastQuery returns the vector, filter, and k of the most recent search.
func (s *ScriptedIndex) LastQuery() ([]float32, ltm.Filter, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastVector, s.lastFilter, s.lastK
}

var _ ltm.VectorIndex = (*ScriptedIndex)(nil)

// Package mock provides an in-memory vector index for testing.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Call records a single invocation against the index, for assertions on
// how callers drive it.
type Call struct {
	Method string
	IDs    []string
	K      int
}

// MockIndex is an in-memory ltm.VectorIndex backed by a map. Search ranks
// entries by cosine similarity so tests exercise the same ordering
// behavior as the real adapters.
type MockIndex struct {
	mu      sync.RWMutex
	entries map[string]ltm.Entry

	delay     time.Duration
	upsertErr error
	searchErr error
	deleteErr error

	calls []Call
}

// MockOption configures a MockIndex.
type MockOption func(*MockIndex)

// WithDelay makes every operation wait before executing, for cancellation
// and timeout tests.
func WithDelay(d time.Duration) MockOption {
	return func(m *MockIndex) {
		m.delay = d
	}
}

// WithUpsertError makes Upsert fail with the given error.
func WithUpsertError(err error) MockOption {
	return func(m *MockIndex) {
		m.upsertErr = err
	}
}

// WithSearchError makes Search fail with the given error.
func WithSearchError(err error) MockOption {
	return func(m *MockIndex) {
		m.searchErr = err
	}
}

// WithDeleteError makes Delete fail with the given error.
func WithDeleteError(err error) MockOption {
	return func(m *MockIndex) {
		m.deleteErr = err
	}
}

// NewMockIndex creates an empty in-memory index.
func NewMockIndex(opts ...MockOption) *MockIndex {
	m := &MockIndex{
		entries: make(map[string]ltm.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetUpsertError changes the injected Upsert error at runtime.
func (m *MockIndex) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetSearchError changes the injected Search error at runtime.
func (m *MockIndex) SetSearchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchErr = err
}

// SetDeleteError changes the injected Delete error at runtime.
func (m *MockIndex) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Upsert stores copies of the entries, replacing any with the same ID.
func (m *MockIndex) Upsert(ctx context.Context, entries []ltm.Entry) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	m.calls = append(m.calls, Call{Method: "Upsert", IDs: ids})

	if m.upsertErr != nil {
		return m.upsertErr
	}

	for _, e := range entries {
		m.entries[e.ID] = cloneEntry(e)
	}
	return nil
}

// Search returns the k entries most similar to vector, restricted to the
// filter's session when one is set. Ties break on entry ID so results are
// deterministic.
func (m *MockIndex) Search(ctx context.Context, vector []float32, filter ltm.Filter, k int) ([]ltm.Hit, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "Search", K: k})
	err := m.searchErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]ltm.Hit, 0, len(m.entries))
	for _, e := range m.entries {
		if filter.SessionID != "" && e.Payload.SessionID != filter.SessionID {
			continue
		}
		if len(e.Vector) != len(vector) {
			continue
		}
		hits = append(hits, ltm.Hit{
			ID:      e.ID,
			Score:   cosine(vector, e.Vector),
			Payload: e.Payload,
		})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes the given IDs. Missing IDs are ignored.
func (m *MockIndex) Delete(ctx context.Context, ids []string) error {
	if err := m.wait(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, Call{Method: "Delete", IDs: append([]string(nil), ids...)})

	if m.deleteErr != nil {
		return m.deleteErr
	}

	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Close is a no-op for the in-memory index.
func (m *MockIndex) Close() error {
	return nil
}

// Len reports the number of stored entries.
func (m *MockIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// SessionLen reports the number of entries belonging to a session.
func (m *MockIndex) SessionLen(id session.ID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.entries {
		if e.Payload.SessionID == id {
			n++
		}
	}
	return n
}

// Has reports whether an entry with the given ID is stored.
func (m *MockIndex) Has(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// Entry returns a copy of the stored entry with the given ID.
func (m *MockIndex) Entry(id string) (ltm.Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return ltm.Entry{}, false
	}
	return cloneEntry(e), true
}

// Calls returns a copy of the recorded invocations.
func (m *MockIndex) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

func (m *MockIndex) wait(ctx context.Context) error {
	if m.delay <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(m.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func cloneEntry(e ltm.Entry) ltm.Entry {
	c := e
	c.Vector = append([]float32(nil), e.Vector...)
	return c
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

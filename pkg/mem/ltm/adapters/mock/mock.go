// Package mock provides an in-memory RecordStore for testing the long-term
// memory manager without a real backend.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Call records one invocation of a store method.
type Call struct {
	Method string
	ID     string
}

// MockStore is an in-memory ltm.RecordStore with per-method error
// injection. All methods are safe for concurrent use.
type MockStore struct {
	mu      sync.RWMutex
	records map[string]ltm.MemoryRecord
	calls   []Call

	putErr    error
	getErr    error
	listErr   error
	findErr   error
	deleteErr error
}

// MockOption configures a MockStore.
type MockOption func(*MockStore)

// WithPutError makes Put fail.
func WithPutError(err error) MockOption {
	return func(m *MockStore) { m.putErr = err }
}

// WithFindError makes FindByHash fail.
func WithFindError(err error) MockOption {
	return func(m *MockStore) { m.findErr = err }
}

// WithGetError makes Get fail.
func WithGetError(err error) MockOption {
	return func(m *MockStore) { m.getErr = err }
}

// WithListError makes List and ListExpired fail.
func WithListError(err error) MockOption {
	return func(m *MockStore) { m.listErr = err }
}

// WithDeleteError makes Delete and DeleteSession fail.
func WithDeleteError(err error) MockOption {
	return func(m *MockStore) { m.deleteErr = err }
}

// NewMockStore creates an empty in-memory record store.
func NewMockStore(opts ...MockOption) *MockStore {
	m := &MockStore{records: make(map[string]ltm.MemoryRecord)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPutError changes the injected Put error at runtime.
func (m *MockStore) SetPutError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putErr = err
}

// SetFindError changes the injected FindByHash error at runtime.
func (m *MockStore) SetFindError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findErr = err
}

// SetGetError changes the injected Get error at runtime.
func (m *MockStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// SetDeleteError changes the injected Delete error at runtime.
func (m *MockStore) SetDeleteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteErr = err
}

// Put persists a record, replacing any prior version with the same ID.
func (m *MockStore) Put(ctx context.Context, record ltm.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Put", ID: record.ID})
	if m.putErr != nil {
		return m.putErr
	}
	m.records[record.ID] = cloneRecord(record)
	return nil
}

// Get fetches a record by ID.
func (m *MockStore) Get(ctx context.Context, id string) (ltm.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return ltm.MemoryRecord{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Get", ID: id})
	if m.getErr != nil {
		return ltm.MemoryRecord{}, m.getErr
	}
	record, ok := m.records[id]
	if !ok {
		return ltm.MemoryRecord{}, errors.Wrap(errors.ErrNotFound, "record %s", id)
	}
	return cloneRecord(record), nil
}

// List returns a session's records ordered by creation time.
func (m *MockStore) List(ctx context.Context, sessionID session.ID) ([]ltm.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []ltm.MemoryRecord
	for _, record := range m.records {
		if record.SessionID == sessionID {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// FindByHash returns the session's record carrying the given content hash.
func (m *MockStore) FindByHash(ctx context.Context, sessionID session.ID, hash string) (*ltm.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	for _, record := range m.records {
		if record.SessionID == sessionID && record.ContentHash == hash {
			clone := cloneRecord(record)
			return &clone, nil
		}
	}
	return nil, nil
}

// ListExpired returns records across all sessions whose TTL passed.
func (m *MockStore) ListExpired(ctx context.Context, now time.Time) ([]ltm.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []ltm.MemoryRecord
	for _, record := range m.records {
		if record.Expired(now) {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes a record by ID. Unknown IDs are not an error.
func (m *MockStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "Delete", ID: id})
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.records, id)
	return nil
}

// DeleteSession removes all records belonging to a session.
func (m *MockStore) DeleteSession(ctx context.Context, sessionID session.ID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Method: "DeleteSession", ID: string(sessionID)})
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for id, record := range m.records {
		if record.SessionID == sessionID {
			delete(m.records, id)
		}
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MockStore) Close() error {
	return nil
}

// Len reports how many records the store holds.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// Calls returns a copy of the recorded method invocations.
func (m *MockStore) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

func cloneRecord(r ltm.MemoryRecord) ltm.MemoryRecord {
	clone := r
	if r.Tags != nil {
		clone.Tags = append([]string(nil), r.Tags...)
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]interface{}, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	if r.Chunks != nil {
		clone.Chunks = append([]ltm.Chunk(nil), r.Chunks...)
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		clone.ExpiresAt = &t
	}
	return clone
}

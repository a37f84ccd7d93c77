package session

import (
	"sort"
	"sync"
	"time"
)

// Registry tracks the sessions known to this process. Sessions are
// created on first use and never removed implicitly; Purge is the only
// way a session disappears.
type Registry struct {
	mu       sync.RWMutex
	sessions map[ID]Session
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[ID]Session),
	}
}

// GetOrCreate returns the session for id, creating it on first use.
// An empty id resolves to GlobalID.
func (r *Registry) GetOrCreate(id ID) Session {
	id = Normalize(id)

	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		return s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// Re-check: another goroutine may have created it between locks.
	if s, ok := r.sessions[id]; ok {
		return s
	}
	s = Session{ID: id, CreatedAt: time.Now().UTC()}
	r.sessions[id] = s
	return s
}

// Get returns the session for id if it exists.
func (r *Registry) Get(id ID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[Normalize(id)]
	return s, ok
}

// Purge removes a session from the registry. It reports whether the
// session existed. Purging the registry entry does not touch stored
// memory; callers cascade deletion through the memory tiers first.
func (r *Registry) Purge(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id = Normalize(id)
	_, ok := r.sessions[id]
	delete(r.sessions, id)
	return ok
}

// List returns all known sessions ordered by creation time.
func (r *Registry) List() []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

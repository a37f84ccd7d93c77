// Package stm implements bounded short-term conversational memory.
// Each session holds a fixed window of recent turns. Appending past the
// bound evicts the oldest turn, which is handed to an asynchronous
// persister so long-term storage latency never reaches Append.
package stm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/metrics"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Turn sources, recording where the content came from. SourceFinal marks
// an assistant turn as the answer that ended an agent run.
const (
	SourceDialogue = "dialogue"
	SourceTool     = "tool"
	SourceFinal    = "final"
)

// Turn is one conversational exchange held in the short-term window.
type Turn struct {
	// ID is a unique identifier assigned on append
	ID string

	// SessionID is the session the turn belongs to
	SessionID session.ID

	// Seq strictly increases per session and orders turns within it
	Seq uint64

	// Role is who produced the turn (user, assistant, tool)
	Role string

	// Content is the turn text
	Content string

	// Source records the turn's provenance (dialogue, tool)
	Source string

	// CreatedAt is when the turn was appended
	CreatedAt time.Time
}

// NewToolTurn builds a tool-result turn. Structured results are
// serialized to JSON so one tool invocation occupies exactly one turn;
// plain strings pass through unchanged.
func NewToolTurn(toolName string, result interface{}) (Turn, error) {
	content, ok := result.(string)
	if !ok {
		raw, err := json.Marshal(result)
		if err != nil {
			return Turn{}, errors.Wrap(err, "serializing result of tool %q", toolName)
		}
		content = string(raw)
	}
	return Turn{
		Role:    RoleTool,
		Content: fmt.Sprintf("%s: %s", toolName, content),
		Source:  SourceTool,
	}, nil
}

// Config holds the short-term window parameters.
type Config struct {
	// Capacity is the per-session turn bound. Required; there is no default.
	Capacity int
}

// Option configures a Store.
type Option func(*Store)

// WithPersister attaches the async persister that receives evicted turns.
// Without one, evicted turns are simply discarded.
func WithPersister(p *Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithMetrics attaches the instrument set. Defaults to a no-op set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is a bounded, session-scoped FIFO of recent turns. Appends are
// O(1) against a fixed circular buffer per session; the window for a
// session is created on first use. Eviction hands the oldest turn to the
// persister and never blocks or fails the append.
type Store struct {
	capacity  int
	persister *Persister
	metrics   *metrics.Metrics

	mu   sync.RWMutex
	logs map[session.ID]*turnLog
}

// turnLog is one session's circular buffer. Locked independently of the
// store map so sessions never contend with each other.
type turnLog struct {
	mu      sync.Mutex
	ring    []Turn
	head    int // index of the oldest turn
	count   int
	nextSeq uint64
}

// NewStore creates a short-term store. Capacity is required configuration;
// non-positive values are rejected.
func NewStore(cfg Config, opts ...Option) (*Store, error) {
	if cfg.Capacity <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "short-term capacity must be positive, got %d", cfg.Capacity)
	}
	s := &Store{
		capacity: cfg.Capacity,
		logs:     make(map[session.ID]*turnLog),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop()
	}
	return s, nil
}

// Append adds a turn to the window of the session carried in ctx,
// assigning its ID, Seq, and CreatedAt. When the window is full the
// oldest turn is evicted and enqueued for persistence; persistence
// problems never surface here.
func (s *Store) Append(ctx context.Context, turn Turn) (Turn, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return Turn{}, session.ErrMissingSessionContext
	}
	if turn.Content == "" {
		return Turn{}, errors.Wrap(errors.ErrInvalidInput, "turn content is empty")
	}

	turn.SessionID = sessionID
	if turn.ID == "" {
		turn.ID = uuid.New().String()
	}
	if turn.Role == "" {
		turn.Role = RoleUser
	}
	if turn.Source == "" {
		turn.Source = SourceDialogue
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	l := s.log(sessionID)
	l.mu.Lock()
	turn.Seq = l.nextSeq
	l.nextSeq++

	var evicted *Turn
	if l.count == s.capacity {
		oldest := l.ring[l.head]
		evicted = &oldest
		l.ring[l.head] = turn
		l.head = (l.head + 1) % s.capacity
	} else {
		l.ring[(l.head+l.count)%s.capacity] = turn
		l.count++
	}
	l.mu.Unlock()

	if evicted != nil {
		s.metrics.Evictions.Inc()
		if s.persister != nil {
			s.persister.Enqueue(*evicted)
		}
	}
	return turn, nil
}

// Recent returns up to limit of the most recent turns for the session in
// ctx, oldest first. A limit < 0 returns the whole window. A session that
// has never appended reads as empty, never as an error.
func (s *Store) Recent(ctx context.Context, limit int) ([]Turn, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return nil, session.ErrMissingSessionContext
	}
	if limit == 0 {
		return nil, nil
	}

	s.mu.RLock()
	l, found := s.logs[sessionID]
	s.mu.RUnlock()
	if !found {
		return nil, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	n := limit
	if n < 0 || n > l.count {
		n = l.count
	}
	out := make([]Turn, n)
	start := l.count - n
	for i := 0; i < n; i++ {
		out[i] = l.ring[(l.head+start+i)%s.capacity]
	}
	return out, nil
}

// Len reports how many turns the session in ctx currently holds.
func (s *Store) Len(ctx context.Context) (int, error) {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return 0, session.ErrMissingSessionContext
	}
	s.mu.RLock()
	l, found := s.logs[sessionID]
	s.mu.RUnlock()
	if !found {
		return 0, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count, nil
}

// Clear drops the window of the session in ctx. Evicted turns are not
// persisted; the caller decides what survives a purge.
func (s *Store) Clear(ctx context.Context) error {
	sessionID, ok := session.GetSessionID(ctx)
	if !ok {
		return session.ErrMissingSessionContext
	}
	s.mu.Lock()
	delete(s.logs, sessionID)
	s.mu.Unlock()
	return nil
}

// Close drains and stops the attached persister, if any.
func (s *Store) Close() error {
	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}

// log returns the session's buffer, creating it on first use.
func (s *Store) log(id session.ID) *turnLog {
	s.mu.RLock()
	l, ok := s.logs[id]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.logs[id]; ok {
		return l
	}
	l = &turnLog{ring: make([]Turn, s.capacity)}
	s.logs[id] = l
	return l
}

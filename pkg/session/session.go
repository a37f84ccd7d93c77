package session

import (
	"errors"
	"time"
)

// ID represents a unique identifier for a conversation session.
// Each session has its own isolated memory space: short-term turns and
// long-term records are partitioned by session ID.
type ID string

// GlobalID is the implicit default session used when a caller does not
// name one. It behaves like any other session.
const GlobalID ID = "global_session"

// ErrMissingSessionContext is returned by memory operations that require
// a session.ID in the context.Context but did not find one.
var ErrMissingSessionContext = errors.New("session context not found")

// Session describes one isolated conversation context. Sessions are
// created on first use of an ID and are only removed by an explicit purge.
type Session struct {
	// ID determines the memory isolation boundary
	ID ID

	// CreatedAt is when the session was first seen
	CreatedAt time.Time
}

// Normalize maps an empty ID to GlobalID and returns all others unchanged.
func Normalize(id ID) ID {
	if id == "" {
		return GlobalID
	}
	return id
}

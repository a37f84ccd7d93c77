package session

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey int

const (
	// sessionContextKey is the key for storing a session.ID in a context.Context
	sessionContextKey contextKey = iota
)

// ContextWithSession adds a session ID to a context.Context. An empty ID
// is normalized to GlobalID.
func ContextWithSession(ctx context.Context, id ID) context.Context {
	return context.WithValue(ctx, sessionContextKey, Normalize(id))
}

// GetSessionID retrieves the session ID from a context.Context.
// If no session ID is found, it returns the zero ID and false.
func GetSessionID(ctx context.Context) (ID, bool) {
	id, ok := ctx.Value(sessionContextKey).(ID)
	return id, ok
}

// MustGetSessionID retrieves the session ID from a context.Context.
// Panics if no session ID is found, so only use when you are sure one exists.
func MustGetSessionID(ctx context.Context) ID {
	id, ok := GetSessionID(ctx)
	if !ok {
		panic("session.ID not found in context.Context")
	}
	return id
}

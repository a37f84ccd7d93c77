package errors

import (
	"errors"
	"fmt"
)

// Standard errors
var (
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput is returned when the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable is returned when the embedding provider cannot
	// produce vectors; callers recover with a fallback path where one exists
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")

	// ErrIndexWriteFailed is returned when the vector index rejects an upsert
	// or delete, in whole or in part
	ErrIndexWriteFailed = errors.New("vector index write failed")

	// ErrIndexQueryFailed is returned when a similarity search against the
	// vector index fails
	ErrIndexQueryFailed = errors.New("vector index query failed")

	// ErrRerankUnavailable is returned when the reranking model cannot score
	// candidates; retrieval falls back to raw similarity order
	ErrRerankUnavailable = errors.New("reranker unavailable")

	// ErrSessionNotFound is returned when an operation names a session that
	// does not exist; reads treat this as an empty session instead
	ErrSessionNotFound = errors.New("session not found")

	// ErrBudgetExceeded is returned when content is too large to chunk or store
	ErrBudgetExceeded = errors.New("content exceeds configured budget")

	// ErrMaxIterations marks an agent loop that hit its iteration bound; the
	// loop ends with a partial result, not a failure
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrLTMUnavailable is returned when the long-term record store is unavailable
	ErrLTMUnavailable = errors.New("long-term memory store unavailable")

	// ErrLuaExecution is returned when there's an error executing a Lua script
	ErrLuaExecution = errors.New("lua script execution error")
)

// Wrap wraps an error with additional context
func Wrap(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's tree matches target.
// This is a convenience function that wraps errors.Is
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target, and if so, sets
// target to that error value and returns true. Otherwise, it returns false.
// This is a convenience function that wraps errors.As
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

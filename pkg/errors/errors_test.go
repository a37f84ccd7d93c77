package errors

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	wrapped := Wrap(ErrIndexWriteFailed, "upserting %d chunks", 3)
	require.Error(t, wrapped)
	assert.Contains(t, wrapped.Error(), "upserting 3 chunks")
	assert.True(t, Is(wrapped, ErrIndexWriteFailed))
}

func TestWrap_NilPassthrough(t *testing.T) {
	assert.Nil(t, Wrap(nil, "should stay nil"))
}

func TestIs_MatchesThroughLayers(t *testing.T) {
	inner := Wrap(ErrEmbeddingUnavailable, "batch of %d", 10)
	outer := Wrap(inner, "write failed")
	assert.True(t, Is(outer, ErrEmbeddingUnavailable))
	assert.False(t, Is(outer, ErrRerankUnavailable))
}

func TestAs(t *testing.T) {
	custom := &pathError{path: "/tmp/x"}
	wrapped := Wrap(custom, "opening store")

	var target *pathError
	require.True(t, As(wrapped, &target))
	assert.Equal(t, "/tmp/x", target.path)
}

type pathError struct{ path string }

func (e *pathError) Error() string { return "path error: " + e.path }

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrNotFound,
		ErrInvalidInput,
		ErrEmbeddingUnavailable,
		ErrIndexWriteFailed,
		ErrIndexQueryFailed,
		ErrRerankUnavailable,
		ErrSessionNotFound,
		ErrBudgetExceeded,
		ErrMaxIterations,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, stderrors.Is(a, b), "%v should not match %v", a, b)
		}
	}
}

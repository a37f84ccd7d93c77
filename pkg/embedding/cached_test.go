package embedding_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/embedding"
	"github.com/lexlapax/ragmem/pkg/embedding/adapters/mock"
)

func TestCachedProvider_SecondEmbedIsServedFromCache(t *testing.T) {
	inner := mock.NewMockProvider()
	cached, err := embedding.NewCachedProvider(inner, 128)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	first, err := cached.Embed(ctx, "repeat me")
	require.NoError(t, err)
	require.Equal(t, 1, inner.CallCount())

	// ristretto admits asynchronously; give the buffered set a moment.
	waitForCache(t, cached, "repeat me", inner)

	before := inner.CallCount()
	second, err := cached.Embed(ctx, "repeat me")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, before, inner.CallCount(), "second embed should not hit the inner provider")
}

func TestCachedProvider_BatchEmbedsOnlyMisses(t *testing.T) {
	inner := mock.NewMockProvider()
	cached, err := embedding.NewCachedProvider(inner, 128)
	require.NoError(t, err)
	defer cached.Close()

	ctx := context.Background()
	_, err = cached.Embed(ctx, "warm")
	require.NoError(t, err)
	waitForCache(t, cached, "warm", inner)
	inner.Reset()

	vectors, err := cached.EmbedBatch(ctx, []string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)

	calls := inner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"cold"}, calls[0].Texts)

	want, err := inner.Embed(ctx, "warm")
	require.NoError(t, err)
	assert.Equal(t, want, vectors[0])
}

func TestCachedProvider_ErrorsPassThrough(t *testing.T) {
	inner := mock.NewMockProvider(WithFailure())
	cached, err := embedding.NewCachedProvider(inner, 16)
	require.NoError(t, err)
	defer cached.Close()

	_, err = cached.Embed(context.Background(), "doomed")
	assert.Error(t, err)
}

func TestCachedProvider_RequiresInner(t *testing.T) {
	_, err := embedding.NewCachedProvider(nil, 16)
	assert.Error(t, err)
}

func TestCachedProvider_DimensionsPassThrough(t *testing.T) {
	inner := mock.NewMockProvider(mock.WithDimensions(42))
	cached, err := embedding.NewCachedProvider(inner, 16)
	require.NoError(t, err)
	defer cached.Close()

	assert.Equal(t, 42, cached.Dimensions())
}

// WithFailure is a shorthand for an always-failing mock option.
func WithFailure() mock.MockOption {
	return mock.WithError(nil)
}

// waitForCache polls until the cached provider stops consulting the inner
// provider for text, or fails the test after a deadline.
func waitForCache(t *testing.T, cached *embedding.CachedProvider, text string, inner *mock.MockProvider) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		before := inner.CallCount()
		_, err := cached.Embed(context.Background(), text)
		require.NoError(t, err)
		if inner.CallCount() == before {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("cache never admitted %q", text)
}

package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/dgraph-io/ristretto"

	"github.com/lexlapax/ragmem/pkg/errors"
)

// CachedProvider wraps a Provider with an in-process vector cache keyed by
// a hash of the text. Useful when the same content is embedded repeatedly,
// e.g. identical queries across turns.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCachedProvider creates a caching decorator holding up to maxEntries
// vectors.
func NewCachedProvider(inner Provider, maxEntries int64) (*CachedProvider, error) {
	if inner == nil {
		return nil, errors.Wrap(errors.ErrInvalidInput, "inner provider is required")
	}
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating embedding cache")
	}
	return &CachedProvider{inner: inner, cache: cache}, nil
}

// Dimensions returns the inner provider's vector length.
func (c *CachedProvider) Dimensions() int {
	return c.inner.Dimensions()
}

// Embed returns a cached vector when available, otherwise delegates.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if cached, ok := c.cache.Get(key); ok {
		if vector, ok := cached.([]float32); ok {
			return append([]float32(nil), vector...), nil
		}
	}

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append([]float32(nil), vector...), 1)
	return vector, nil
}

// EmbedBatch serves cache hits locally and embeds only the misses.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if cached, ok := c.cache.Get(cacheKey(text)); ok {
			if vector, ok := cached.([]float32); ok {
				vectors[i] = append([]float32(nil), vector...)
				continue
			}
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return vectors, nil
	}

	embedded, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, i := range missIdx {
		vectors[i] = embedded[j]
		c.cache.Set(cacheKey(texts[i]), append([]float32(nil), embedded[j]...), 1)
	}
	return vectors, nil
}

// Close releases the cache resources.
func (c *CachedProvider) Close() {
	c.cache.Close()
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

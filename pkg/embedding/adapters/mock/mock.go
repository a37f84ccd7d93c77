// Package mock provides a deterministic embedding provider for testing.
// Vectors are derived from a hash of the input text, so the same text
// always embeds to the same unit-length vector without any model calls.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/lexlapax/ragmem/pkg/errors"
)

// DefaultDimensions is the vector length used unless overridden.
const DefaultDimensions = 384

// Call records a single call made to the mock provider.
type Call struct {
	Method string
	Texts  []string
}

// MockProvider implements embedding.Provider with deterministic vectors.
type MockProvider struct {
	mu          sync.RWMutex
	dimensions  int
	delay       time.Duration
	shouldError bool
	errToReturn error
	canned      map[string][]float32
	calls       []Call
}

// MockOption is a function that configures the mock provider.
type MockOption func(*MockProvider)

// WithDimensions sets the vector length.
func WithDimensions(n int) MockOption {
	return func(m *MockProvider) {
		if n > 0 {
			m.dimensions = n
		}
	}
}

// WithDelay makes every call sleep for d before returning, to simulate a
// slow backend. The sleep respects context cancellation.
func WithDelay(d time.Duration) MockOption {
	return func(m *MockProvider) {
		m.delay = d
	}
}

// WithError makes every call fail with the given error (or
// ErrEmbeddingUnavailable when err is nil).
func WithError(err error) MockOption {
	return func(m *MockProvider) {
		m.shouldError = true
		m.errToReturn = err
	}
}

// WithCannedVector fixes the vector returned for an exact text.
func WithCannedVector(text string, vector []float32) MockOption {
	return func(m *MockProvider) {
		m.canned[text] = vector
	}
}

// NewMockProvider creates a mock provider with the given options.
func NewMockProvider(opts ...MockOption) *MockProvider {
	m := &MockProvider{
		dimensions: DefaultDimensions,
		canned:     make(map[string][]float32),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Dimensions returns the configured vector length.
func (m *MockProvider) Dimensions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dimensions
}

// Embed returns the deterministic vector for text.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns deterministic vectors for all texts.
func (m *MockProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.calls = append(m.calls, Call{Method: "EmbedBatch", Texts: append([]string(nil), texts...)})
	delay := m.delay
	shouldError := m.shouldError
	errToReturn := m.errToReturn
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if shouldError {
		if errToReturn != nil {
			return nil, errToReturn
		}
		return nil, errors.ErrEmbeddingUnavailable
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = m.vectorFor(text)
	}
	return vectors, nil
}

// SetError switches error injection on or off after construction.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldError = err != nil
	m.errToReturn = err
}

// Calls returns a copy of the recorded calls.
func (m *MockProvider) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Call(nil), m.calls...)
}

// CallCount returns how many calls the provider has received.
func (m *MockProvider) CallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Reset clears the recorded calls.
func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// vectorFor derives a unit-length vector from a hash of the text. The
// generator is a plain LCG seeded with FNV-1a, so output is stable across
// runs and platforms.
func (m *MockProvider) vectorFor(text string) []float32 {
	m.mu.RLock()
	if canned, ok := m.canned[text]; ok {
		out := append([]float32(nil), canned...)
		m.mu.RUnlock()
		return out
	}
	dims := m.dimensions
	m.mu.RUnlock()

	h := fnv.New64a()
	h.Write([]byte(text))
	state := h.Sum64()

	vector := make([]float32, dims)
	var norm float64
	for i := range vector {
		state = state*6364136223846793005 + 1442695040888963407
		v := float64(int64(state)) / float64(math.MaxInt64)
		vector[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vector {
			vector[i] = float32(float64(vector[i]) / norm)
		}
	}
	return vector
}

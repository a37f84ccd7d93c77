// Package embedding defines the embedding capability consumed by
// long-term memory. Implementations turn text into fixed-length vectors;
// the rest of the system treats them as opaque.
package embedding

import (
	"context"
)

// Provider is the interface for text embedding backends.
type Provider interface {
	// Embed converts a single text into a vector of Dimensions() length.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts several texts in one call. Implementations may
	// batch against the backing API to amortize latency; the result is
	// positionally aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of vectors this provider produces.
	Dimensions() int
}

package rerank

import (
	"context"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/metrics"
)

// fallbackReranker degrades to raw similarity order when the primary
// reranker fails. Retrieval never fails because reranking did.
type fallbackReranker struct {
	primary Reranker
	metrics *metrics.Metrics
}

// WithFallback wraps a reranker so that any error from it falls back to
// similarity ordering. Each fallback is counted and logged. A nil metrics
// set defaults to no-op instruments.
func WithFallback(primary Reranker, m *metrics.Metrics) Reranker {
	if m == nil {
		m = metrics.Nop()
	}
	return &fallbackReranker{primary: primary, metrics: m}
}

// Rerank implements the Reranker interface.
func (f *fallbackReranker) Rerank(ctx context.Context, query string, candidates []ltm.RetrievedChunk, topK int) ([]ltm.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "topK must be positive, got %d", topK)
	}
	if f.primary != nil {
		out, err := f.primary.Rerank(ctx, query, candidates, topK)
		if err == nil {
			return out, nil
		}
		f.metrics.RerankFallbacks.Inc()
		log.WarnContext(ctx, "Reranker failed, falling back to similarity order", "error", err)
	}
	return BySimilarity(candidates, topK), nil
}

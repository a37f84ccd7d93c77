// Package rerank orders retrieved memory candidates by relevance to a
// query. Rerankers reorder and truncate; the raw similarity score each
// candidate arrived with is preserved for provenance.
package rerank

import (
	"context"
	"sort"

	"github.com/lexlapax/ragmem/pkg/mem/ltm"
)

// Reranker scores candidates against a query and returns the topK most
// relevant in descending relevance order. Implementations are stateless;
// identical inputs produce identical output.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []ltm.RetrievedChunk, topK int) ([]ltm.RetrievedChunk, error)
}

// BySimilarity returns the candidates ordered by their raw similarity
// score, highest first, truncated to topK. This is the degraded ordering
// used when no reranker is available.
func BySimilarity(candidates []ltm.RetrievedChunk, topK int) []ltm.RetrievedChunk {
	out := make([]ltm.RetrievedChunk, len(candidates))
	copy(out, candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return truncate(out, topK)
}

func truncate(candidates []ltm.RetrievedChunk, topK int) []ltm.RetrievedChunk {
	if topK >= 0 && topK < len(candidates) {
		return candidates[:topK]
	}
	return candidates
}

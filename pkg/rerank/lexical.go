package rerank

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
)

// Lexical reranks by token overlap between query and candidate text.
// It needs no model, runs fully deterministically, and serves as the
// default reranker when no reasoning engine is configured.
type Lexical struct{}

// NewLexical creates the lexical reranker.
func NewLexical() *Lexical {
	return &Lexical{}
}

// Rerank orders candidates by the fraction of distinct query tokens that
// appear in each candidate. Ties fall back to the raw similarity score,
// then to the chunk ID so the ordering is total.
func (l *Lexical) Rerank(ctx context.Context, query string, candidates []ltm.RetrievedChunk, topK int) ([]ltm.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "topK must be positive, got %d", topK)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryTokens := tokenSet(query)

	type scored struct {
		chunk   ltm.RetrievedChunk
		overlap float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{chunk: c, overlap: overlapFraction(queryTokens, c.Text)}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].overlap != ranked[j].overlap {
			return ranked[i].overlap > ranked[j].overlap
		}
		if ranked[i].chunk.Score != ranked[j].chunk.Score {
			return ranked[i].chunk.Score > ranked[j].chunk.Score
		}
		return ranked[i].chunk.ID < ranked[j].chunk.ID
	})

	out := make([]ltm.RetrievedChunk, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.chunk)
	}
	return truncate(out, topK), nil
}

// tokenSet lowercases and splits on anything that is not a letter or digit.
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// overlapFraction is |query tokens present in text| / |query tokens|.
func overlapFraction(queryTokens map[string]struct{}, text string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	textTokens := tokenSet(text)
	matched := 0
	for tok := range queryTokens {
		if _, ok := textTokens[tok]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(queryTokens))
}

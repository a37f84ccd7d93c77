package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/reasoning"
)

const enginePromptTemplate = `You rank text passages by how relevant they are to a query.

Query: %q

Passages:
%s
Respond with ONLY a JSON array of passage indices ordered from most to
least relevant, for example: [2, 0, 1]. Include every index exactly once.`

// EngineReranker asks the reasoning engine to order candidates. Requests
// are pinned to temperature 0 so identical inputs rank identically. Any
// model or parse failure reports ErrRerankUnavailable; wrap with
// WithFallback to degrade to similarity order instead.
type EngineReranker struct {
	engine reasoning.Engine
}

// NewEngineReranker creates a reranker backed by the reasoning engine.
func NewEngineReranker(engine reasoning.Engine) *EngineReranker {
	return &EngineReranker{engine: engine}
}

// Rerank implements the Reranker interface.
func (r *EngineReranker) Rerank(ctx context.Context, query string, candidates []ltm.RetrievedChunk, topK int) ([]ltm.RetrievedChunk, error) {
	if topK <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "topK must be positive, got %d", topK)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	var passages strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&passages, "[%d] %s\n", i, c.Text)
	}
	prompt := fmt.Sprintf(enginePromptTemplate, query, passages.String())

	response, err := r.engine.Process(ctx, prompt, reasoning.WithTemperature(0))
	if err != nil {
		return nil, errors.Wrap(errors.ErrRerankUnavailable, "engine rerank: %v", err)
	}

	order, err := parseRankOrder(response, len(candidates))
	if err != nil {
		log.DebugContext(ctx, "Unparseable rerank response", "response", response, "error", err)
		return nil, errors.Wrap(errors.ErrRerankUnavailable, "parsing rerank response: %v", err)
	}

	out := make([]ltm.RetrievedChunk, 0, len(order))
	for _, idx := range order {
		out = append(out, candidates[idx])
	}
	return truncate(out, topK), nil
}

// parseRankOrder extracts a JSON index array from the model response and
// normalizes it into a full permutation: duplicates and out-of-range
// indices are dropped, omitted indices keep their original order at the
// tail.
func parseRankOrder(response string, n int) ([]int, error) {
	start := strings.Index(response, "[")
	end := strings.LastIndex(response, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var raw []int
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decoding index array: %w", err)
	}

	seen := make(map[int]bool, n)
	order := make([]int, 0, n)
	for _, idx := range raw {
		if idx < 0 || idx >= n || seen[idx] {
			continue
		}
		seen[idx] = true
		order = append(order, idx)
	}
	if len(order) == 0 {
		return nil, fmt.Errorf("no usable indices in response")
	}
	for i := 0; i < n; i++ {
		if !seen[i] {
			order = append(order, i)
		}
	}
	return order, nil
}

package mmu

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/lexlapax/ragmem/pkg/log"
)

// budget counting uses the cl100k_base encoding, shared by the gpt-3.5
// and gpt-4 families
const tokenEncoding = "cl100k_base"

// TokenCounter estimates how many model tokens a piece of text costs.
// It prefers a real BPE encoder and falls back to a bytes/4 heuristic
// when the encoding cannot be loaded (e.g. no network for the BPE file).
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter backed by the cl100k_base encoding,
// degrading to the heuristic when the encoding is unavailable.
func NewTokenCounter() *TokenCounter {
	enc, err := tiktoken.GetEncoding(tokenEncoding)
	if err != nil {
		log.Warn("Token encoding unavailable, falling back to size heuristic",
			"encoding", tokenEncoding, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// NewHeuristicTokenCounter builds a counter that only uses the bytes/4
// heuristic. Deterministic and dependency-free, used in tests.
func NewHeuristicTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

// Count returns the estimated token cost of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc != nil {
		return len(c.enc.Encode(text, nil, nil))
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

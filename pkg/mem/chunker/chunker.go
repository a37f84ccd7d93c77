// Package chunker splits text into bounded, overlapping segments for
// embedding. Splitting prefers paragraph boundaries, then sentence
// boundaries, and falls back to hard splits only for oversized sentences,
// so that segment text stays coherent for the embedding model.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/lexlapax/ragmem/pkg/errors"
)

// Segment is one bounded slice of a larger text. Text carries the overlap
// prefix repeated from the tail of the previous segment; Overlap records
// how many leading runes belong to that prefix so the original text can be
// reconstructed exactly.
type Segment struct {
	Text    string
	Overlap int
}

// Splitter splits text into segments of at most Size runes with Overlap
// runes carried across segment boundaries.
type Splitter struct {
	size    int
	overlap int
}

// New creates a Splitter. Size must be positive and overlap must be
// non-negative and strictly smaller than size; both are required
// configuration values with no implicit defaults.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidInput, "chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, errors.Wrap(errors.ErrInvalidInput, "chunk overlap must be in [0, size), got %d", overlap)
	}
	return &Splitter{size: size, overlap: overlap}, nil
}

// Size returns the maximum segment length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap length in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Split divides content into segments. The concatenation of all segment
// bodies (Text minus the Overlap prefix) equals content exactly.
func (s *Splitter) Split(content string) []Segment {
	if content == "" {
		return nil
	}

	// Bodies are packed to size-overlap so that prefix+body never
	// exceeds the configured maximum.
	budget := s.size - s.overlap
	bodies := pack(s.units(content, budget), budget)

	segments := make([]Segment, len(bodies))
	prev := ""
	for i, body := range bodies {
		if i == 0 || s.overlap == 0 {
			segments[i] = Segment{Text: body}
		} else {
			prefix := tailRunes(prev, s.overlap)
			segments[i] = Segment{
				Text:    prefix + body,
				Overlap: utf8.RuneCountInString(prefix),
			}
		}
		prev = segments[i].Text
	}
	return segments
}

// Reconstruct joins segments back into the original text by stripping each
// segment's overlap prefix.
func Reconstruct(segments []Segment) string {
	var b strings.Builder
	for _, seg := range segments {
		if seg.Overlap <= 0 {
			b.WriteString(seg.Text)
			continue
		}
		runes := []rune(seg.Text)
		if seg.Overlap >= len(runes) {
			continue
		}
		b.WriteString(string(runes[seg.Overlap:]))
	}
	return b.String()
}

// units breaks content into pieces no longer than budget runes, keeping
// separators attached so the pieces concatenate back to content.
func (s *Splitter) units(content string, budget int) []string {
	var units []string
	for _, para := range splitParagraphs(content) {
		if utf8.RuneCountInString(para) <= budget {
			units = append(units, para)
			continue
		}
		for _, sent := range splitSentences(para) {
			if utf8.RuneCountInString(sent) <= budget {
				units = append(units, sent)
				continue
			}
			units = append(units, hardSplit(sent, budget)...)
		}
	}
	return units
}

// pack greedily merges consecutive units into bodies of at most budget runes.
func pack(units []string, budget int) []string {
	var bodies []string
	var cur strings.Builder
	curLen := 0

	for _, u := range units {
		n := utf8.RuneCountInString(u)
		if curLen > 0 && curLen+n > budget {
			bodies = append(bodies, cur.String())
			cur.Reset()
			curLen = 0
		}
		cur.WriteString(u)
		curLen += n
	}
	if curLen > 0 {
		bodies = append(bodies, cur.String())
	}
	return bodies
}

// splitParagraphs splits after every blank-line boundary. Separators stay
// attached to the preceding paragraph.
func splitParagraphs(content string) []string {
	var out []string
	rest := content
	for {
		idx := strings.Index(rest, "\n\n")
		if idx < 0 {
			if rest != "" {
				out = append(out, rest)
			}
			return out
		}
		end := idx + 2
		for end < len(rest) && rest[end] == '\n' {
			end++
		}
		out = append(out, rest[:end])
		rest = rest[end:]
	}
}

// splitSentences splits after terminal punctuation followed by whitespace.
// Trailing whitespace stays attached to the sentence it follows.
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	i := 0
	for i < len(runes) {
		if isTerminator(runes[i]) {
			j := i + 1
			for j < len(runes) && isCloser(runes[j]) {
				j++
			}
			k := j
			for k < len(runes) && unicode.IsSpace(runes[k]) {
				k++
			}
			if k > j || j == len(runes) {
				out = append(out, string(runes[start:k]))
				start = k
				i = k
				continue
			}
		}
		i++
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// hardSplit cuts text into pieces of at most budget runes.
func hardSplit(text string, budget int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > budget {
		out = append(out, string(runes[:budget]))
		runes = runes[budget:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// tailRunes returns the last n runes of text.
func tailRunes(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[len(runes)-n:])
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

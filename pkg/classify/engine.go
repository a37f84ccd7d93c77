package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/reasoning"
)

const classifyPromptTemplate = `Classify the following memory content.

Content: %q

Respond with ONLY a JSON object, no prose:
{"category": "<preference|fact|task|session_state|ephemeral>", "tags": ["<up to 5 short tags>"], "priority": <1-5>}`

const maxTags = 5

// EngineClassifier asks the reasoning engine for a strict-JSON
// classification at temperature 0 and validates the answer. Anything the
// model gets wrong (transport errors, malformed JSON, unknown categories)
// silently falls back to the heuristic rules, so classification itself
// never fails a write.
type EngineClassifier struct {
	engine   reasoning.Engine
	fallback *Heuristic
}

// NewEngineClassifier creates a classifier backed by the reasoning engine.
func NewEngineClassifier(engine reasoning.Engine) *EngineClassifier {
	return &EngineClassifier{
		engine:   engine,
		fallback: NewHeuristic(),
	}
}

// Classify implements the Classifier interface.
func (c *EngineClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	prompt := fmt.Sprintf(classifyPromptTemplate, text)
	response, err := c.engine.Process(ctx, prompt, reasoning.WithTemperature(0))
	if err != nil {
		log.DebugContext(ctx, "Classifier engine failed, using heuristics", "error", err)
		return c.fallback.Classify(ctx, text)
	}

	parsed, err := parseClassification(response)
	if err != nil {
		log.DebugContext(ctx, "Unusable classification from engine, using heuristics",
			"response", response, "error", err)
		return c.fallback.Classify(ctx, text)
	}
	return parsed, nil
}

// parseClassification extracts and validates the JSON object in the model
// response.
func parseClassification(response string) (Classification, error) {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in response")
	}

	var raw struct {
		Category string   `json:"category"`
		Tags     []string `json:"tags"`
		Priority int      `json:"priority"`
	}
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return Classification{}, fmt.Errorf("decoding classification: %w", err)
	}

	raw.Category = strings.ToLower(strings.TrimSpace(raw.Category))
	if !knownCategory(raw.Category) {
		return Classification{}, fmt.Errorf("unknown category %q", raw.Category)
	}
	if raw.Priority < 1 || raw.Priority > 5 {
		raw.Priority = 3
	}

	tags := make([]string, 0, len(raw.Tags))
	for _, tag := range raw.Tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		tags = append(tags, strings.ToLower(tag))
		if len(tags) == maxTags {
			break
		}
	}
	if len(tags) == 0 {
		tags = nil
	}

	tier, ttl := Route(raw.Category)
	return Classification{
		Category: raw.Category,
		Tags:     tags,
		Priority: raw.Priority,
		Tier:     tier,
		TTL:      ttl,
	}, nil
}

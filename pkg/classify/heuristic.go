package classify

import (
	"context"
	"strings"
)

// categoryRule maps marker phrases to a category. Rules are checked in
// order; the first match wins, so more specific categories come first.
type categoryRule struct {
	category string
	priority int
	markers  []string
}

var heuristicRules = []categoryRule{
	{
		category: CategoryPreference,
		priority: 4,
		markers: []string{
			"prefer", "favorite", "favourite", "i like", "i love",
			"i hate", "i dislike", "always use", "never use",
		},
	},
	{
		category: CategoryTask,
		priority: 3,
		markers: []string{
			"todo", "to-do", "need to", "needs to", "have to", "must ",
			"deadline", "remind me", "by tomorrow", "by next",
		},
	},
	{
		category: CategoryFact,
		priority: 4,
		markers: []string{
			"my name is", "i am ", "i'm ", "i work", "i live",
			"remember that", "note that", "for the record",
		},
	},
	{
		category: CategorySessionState,
		priority: 2,
		markers: []string{
			"currently", "right now", "at the moment", "this session",
			"we were discussing", "as i said earlier",
		},
	},
}

// Heuristic classifies with deterministic keyword rules. It never fails,
// which makes it both the zero-dependency default and the fallback when
// the model-backed classifier cannot answer.
type Heuristic struct{}

// NewHeuristic creates the rule-based classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Classify implements the Classifier interface. Unmatched content is
// ephemeral: kept briefly, then swept.
func (h *Heuristic) Classify(ctx context.Context, text string) (Classification, error) {
	lowered := strings.ToLower(text)

	category := CategoryEphemeral
	priority := 1
	for _, rule := range heuristicRules {
		if containsAny(lowered, rule.markers) {
			category = rule.category
			priority = rule.priority
			break
		}
	}

	tier, ttl := Route(category)
	return Classification{
		Category: category,
		Tags:     nil,
		Priority: priority,
		Tier:     tier,
		TTL:      ttl,
	}, nil
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

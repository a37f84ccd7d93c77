package classify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mockreasoning "github.com/lexlapax/ragmem/pkg/reasoning/adapters/mock"
)

func TestRoute_CategoryToTierAndTTL(t *testing.T) {
	tests := []struct {
		category string
		wantTier Tier
		wantTTL  time.Duration
	}{
		{CategoryPreference, TierLong, 0},
		{CategoryFact, TierLong, 0},
		{CategoryTask, TierShort, 72 * time.Hour},
		{CategorySessionState, TierShort, 72 * time.Hour},
		{CategoryEphemeral, TierShort, 24 * time.Hour},
		{"something-else", TierShort, 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			tier, ttl := Route(tt.category)
			assert.Equal(t, tt.wantTier, tier)
			assert.Equal(t, tt.wantTTL, ttl)
		})
	}
}

func TestHeuristic_KeywordRouting(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantCategory string
		wantTier     Tier
	}{
		{"preference", "I prefer tea over coffee in the morning", CategoryPreference, TierLong},
		{"fact", "My name is Dana and I work at the observatory", CategoryFact, TierLong},
		{"task", "Remind me to file the expense report by tomorrow", CategoryTask, TierShort},
		{"session state", "We were discussing the deployment plan", CategorySessionState, TierShort},
		{"ephemeral default", "what a nice day", CategoryEphemeral, TierShort},
	}

	h := NewHeuristic()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := h.Classify(context.Background(), tt.text)
			require.NoError(t, err)
			assert.Equal(t, tt.wantCategory, c.Category)
			assert.Equal(t, tt.wantTier, c.Tier)
			if tt.wantTier == TierLong {
				assert.Zero(t, c.TTL)
			} else {
				assert.Positive(t, c.TTL)
			}
		})
	}
}

func TestHeuristic_Deterministic(t *testing.T) {
	h := NewHeuristic()
	text := "I prefer window seats and I need to book by tomorrow"

	first, err := h.Classify(context.Background(), text)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := h.Classify(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	// Preference rule is checked before task, so it wins on overlap.
	assert.Equal(t, CategoryPreference, first.Category)
}

func TestEngineClassifier_ParsesStrictJSON(t *testing.T) {
	engine := mockreasoning.NewMockEngine(mockreasoning.WithDefaultResponse(
		`{"category": "preference", "tags": ["Seating", "travel"], "priority": 4}`,
	))
	c := NewEngineClassifier(engine)

	got, err := c.Classify(context.Background(), "I always book window seats")
	require.NoError(t, err)
	assert.Equal(t, CategoryPreference, got.Category)
	assert.Equal(t, []string{"seating", "travel"}, got.Tags)
	assert.Equal(t, 4, got.Priority)
	assert.Equal(t, TierLong, got.Tier)
	assert.Zero(t, got.TTL)
}

func TestEngineClassifier_ToleratesProseAroundJSON(t *testing.T) {
	engine := mockreasoning.NewMockEngine(mockreasoning.WithDefaultResponse(
		`Here is my classification: {"category": "task", "tags": [], "priority": 9} hope that helps`,
	))
	c := NewEngineClassifier(engine)

	got, err := c.Classify(context.Background(), "file the report")
	require.NoError(t, err)
	assert.Equal(t, CategoryTask, got.Category)
	assert.Equal(t, 3, got.Priority, "out-of-range priority resets to the middle")
	assert.Equal(t, TierShort, got.Tier)
	assert.Equal(t, 72*time.Hour, got.TTL)
}

func TestEngineClassifier_FallsBackToHeuristics(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*mockreasoning.MockEngine)
	}{
		{"engine error", func(m *mockreasoning.MockEngine) { m.SetShouldError(true) }},
		{"no JSON", func(m *mockreasoning.MockEngine) { m.SetDefaultResponse("cannot classify") }},
		{"unknown category", func(m *mockreasoning.MockEngine) {
			m.SetDefaultResponse(`{"category": "mystery", "tags": [], "priority": 3}`)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := mockreasoning.NewMockEngine()
			tt.setup(engine)
			c := NewEngineClassifier(engine)

			got, err := c.Classify(context.Background(), "I prefer dark roast coffee")
			require.NoError(t, err, "classification never fails outright")
			assert.Equal(t, CategoryPreference, got.Category, "heuristics take over")
			assert.Equal(t, TierLong, got.Tier)
		})
	}
}

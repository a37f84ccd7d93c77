// Package classify assigns memory content a category, storage tier, and
// time-to-live. The memory manager uses the tier to decide whether a turn
// is promoted to long-term storage and stamps the rest onto the record.
package classify

import (
	"context"
	"time"
)

// Storage tiers.
type Tier string

const (
	// TierLong marks content that should persist without expiry.
	TierLong Tier = "long"

	// TierShort marks content that only matters for a bounded time.
	TierShort Tier = "short"
)

// Categories a piece of memory content can be routed to.
const (
	CategoryPreference   = "preference"
	CategoryFact         = "fact"
	CategoryTask         = "task"
	CategorySessionState = "session_state"
	CategoryEphemeral    = "ephemeral"
)

// TTLs per tier routing.
const (
	TaskTTL      = 72 * time.Hour
	EphemeralTTL = 24 * time.Hour
)

// Classification is the classifier's verdict for one piece of content.
type Classification struct {
	// Category is the routing label (preference, fact, task, ...)
	Category string

	// Tags are short free-form labels extracted from the content
	Tags []string

	// Priority ranks importance, 1 (lowest) to 5 (highest)
	Priority int

	// Tier is where the content should live
	Tier Tier

	// TTL is how long short-tier content stays before the expiry sweep;
	// zero for the long tier
	TTL time.Duration
}

// Classifier produces a classification for memory content.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// Route derives tier and TTL from a category: preferences and facts
// persist indefinitely, tasks and session state live 72 hours, everything
// else 24 hours.
func Route(category string) (Tier, time.Duration) {
	switch category {
	case CategoryPreference, CategoryFact:
		return TierLong, 0
	case CategoryTask, CategorySessionState:
		return TierShort, TaskTTL
	default:
		return TierShort, EphemeralTTL
	}
}

// knownCategory reports whether the classifier output names a category
// this package routes.
func knownCategory(category string) bool {
	switch category {
	case CategoryPreference, CategoryFact, CategoryTask, CategorySessionState, CategoryEphemeral:
		return true
	}
	return false
}

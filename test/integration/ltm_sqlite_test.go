//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/sqlstore/sqlite"
	"github.com/lexlapax/ragmem/pkg/session"
)

// TestSQLiteRecordStore tests the SQLite record store adapter.
func TestSQLiteRecordStore(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "ragmem.db")

	store, err := sqlite.Open(ctx, dbPath)
	require.NoError(t, err)
	defer store.Close()

	sessionA := session.ID("session-a-" + uuid.NewString())
	sessionB := session.ID("session-b-" + uuid.NewString())

	t.Run("Put and Get Round Trip", func(t *testing.T) {
		record := ltm.MemoryRecord{
			ID:          uuid.NewString(),
			SessionID:   sessionA,
			TurnID:      "turn-9",
			Content:     "Quarterly revenue grew by twelve percent.",
			ContentHash: "hash-rev",
			Category:    "fact",
			Tags:        []string{"finance"},
			Metadata:    map[string]interface{}{"source": "dialogue", "seq": 9},
			Chunks: []ltm.Chunk{
				{ID: ltm.ChunkID("rev", 0), RecordID: "rev", SessionID: sessionA, Seq: 0, Text: "Quarterly revenue grew by twelve percent."},
			},
			CreatedAt: time.Now().UTC(),
			Indexed:   true,
		}

		require.NoError(t, store.Put(ctx, record))

		got, err := store.Get(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, record.Content, got.Content)
		assert.Equal(t, record.TurnID, got.TurnID)
		assert.Equal(t, record.Tags, got.Tags)
		assert.Equal(t, "dialogue", got.Metadata["source"])
		// JSON numbers come back as float64
		assert.Equal(t, float64(9), got.Metadata["seq"])
		require.Len(t, got.Chunks, 1)
		assert.Equal(t, 0, got.Chunks[0].Seq)
		assert.Nil(t, got.ExpiresAt)
	})

	t.Run("Put Replaces Existing Row", func(t *testing.T) {
		id := uuid.NewString()
		record := ltm.MemoryRecord{
			ID:          id,
			SessionID:   sessionA,
			Content:     "original",
			ContentHash: "h-orig",
			CreatedAt:   time.Now().UTC(),
			Indexed:     true,
		}
		require.NoError(t, store.Put(ctx, record))

		record.Content = "replaced"
		record.ContentHash = "h-replaced"
		require.NoError(t, store.Put(ctx, record))

		got, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "replaced", got.Content)
		assert.Equal(t, "h-replaced", got.ContentHash)

		records, err := store.List(ctx, sessionA)
		require.NoError(t, err)
		seen := 0
		for _, r := range records {
			if r.ID == id {
				seen++
			}
		}
		assert.Equal(t, 1, seen, "upsert must not duplicate the row")
	})

	t.Run("Session Isolation", func(t *testing.T) {
		record := ltm.MemoryRecord{
			ID:          uuid.NewString(),
			SessionID:   sessionB,
			Content:     "only in session B",
			ContentHash: "h-b",
			CreatedAt:   time.Now().UTC(),
			Indexed:     true,
		}
		require.NoError(t, store.Put(ctx, record))

		records, err := store.List(ctx, sessionA)
		require.NoError(t, err)
		for _, r := range records {
			assert.NotEqual(t, record.ID, r.ID, "session A must not see session B's records")
		}

		records, err = store.List(ctx, sessionB)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, "only in session B", records[0].Content)
	})

	t.Run("List Expired Honors The Boundary", func(t *testing.T) {
		now := time.Now().UTC()
		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)

		expired := ltm.MemoryRecord{
			ID: uuid.NewString(), SessionID: sessionA, Content: "expired",
			ContentHash: "h-exp", CreatedAt: now.Add(-time.Hour), ExpiresAt: &past, Indexed: true,
		}
		live := ltm.MemoryRecord{
			ID: uuid.NewString(), SessionID: sessionA, Content: "live",
			ContentHash: "h-live", CreatedAt: now, ExpiresAt: &future, Indexed: true,
		}
		require.NoError(t, store.Put(ctx, expired))
		require.NoError(t, store.Put(ctx, live))

		records, err := store.ListExpired(ctx, now)
		require.NoError(t, err)
		ids := make([]string, 0, len(records))
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		assert.Contains(t, ids, expired.ID)
		assert.NotContains(t, ids, live.ID)
	})

	t.Run("Delete Is Idempotent", func(t *testing.T) {
		id := uuid.NewString()
		record := ltm.MemoryRecord{
			ID: id, SessionID: sessionA, Content: "to be deleted",
			ContentHash: "h-del", CreatedAt: time.Now().UTC(), Indexed: true,
		}
		require.NoError(t, store.Put(ctx, record))

		require.NoError(t, store.Delete(ctx, id))
		_, err := store.Get(ctx, id)
		assert.True(t, errors.Is(err, errors.ErrNotFound))

		// Deleting again is not an error
		assert.NoError(t, store.Delete(ctx, id))
	})

	t.Run("Delete Session", func(t *testing.T) {
		require.NoError(t, store.DeleteSession(ctx, sessionB))
		records, err := store.List(ctx, sessionB)
		require.NoError(t, err)
		assert.Empty(t, records)
	})
}

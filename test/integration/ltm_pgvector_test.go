//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/vector/pgvector"
	"github.com/lexlapax/ragmem/pkg/session"
)

// pgvectorTestDSN returns the DSN for pgvector tests, or skips when no
// PostgreSQL with the vector extension is configured.
func pgvectorTestDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("RAGMEM_PGVECTOR_DSN")
	if dsn == "" {
		dsn = os.Getenv("RAGMEM_PG_DSN")
	}
	if dsn == "" {
		t.Skip("Skipping pgvector test; set RAGMEM_PGVECTOR_DSN or RAGMEM_PG_DSN to run")
	}
	return dsn
}

// newPgvectorIndex creates an index on a throwaway table that is dropped
// when the test finishes.
func newPgvectorIndex(t *testing.T, ctx context.Context, dims int) *pgvector.Index {
	t.Helper()

	table := "chunks_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	index, err := pgvector.New(ctx, pgvector.Config{
		DSN:        pgvectorTestDSN(t),
		Table:      table,
		Dimensions: dims,
		Metric:     pgvector.MetricCosine,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		index.Pool().Exec(context.Background(), "DROP TABLE IF EXISTS "+table)
		index.Close()
	})
	return index
}

// TestPgvectorIndex tests the pgvector adapter's core operations.
func TestPgvectorIndex(t *testing.T) {
	// Skip if not running integration tests
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}

	ctx := context.Background()
	index := newPgvectorIndex(t, ctx, 4)

	sessionID := session.ID("pgv-" + uuid.NewString())

	entries := []ltm.Entry{
		{ID: "r:0000", Vector: []float32{1, 0, 0, 0}, Payload: ltm.Payload{SessionID: sessionID, RecordID: "r", Seq: 0, Text: "north"}},
		{ID: "r:0001", Vector: []float32{0, 1, 0, 0}, Payload: ltm.Payload{SessionID: sessionID, RecordID: "r", Seq: 1, Overlap: 2, Text: "east"}},
		{ID: "r:0002", Vector: []float32{0, 0, 1, 0}, Payload: ltm.Payload{SessionID: sessionID, RecordID: "r", Seq: 2, Text: "up"}},
	}
	require.NoError(t, index.Upsert(ctx, entries))

	t.Run("Search Ranks By Similarity", func(t *testing.T) {
		hits, err := index.Search(ctx, []float32{0, 1, 0, 0}, ltm.Filter{SessionID: sessionID}, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, "r:0001", hits[0].ID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
		assert.Equal(t, "east", hits[0].Payload.Text)
		assert.Equal(t, 2, hits[0].Payload.Overlap)
	})

	t.Run("Upsert Replaces Vectors In Place", func(t *testing.T) {
		// Re-point chunk 2 at the query direction used below
		require.NoError(t, index.Upsert(ctx, []ltm.Entry{
			{ID: "r:0002", Vector: []float32{0, 0, 0, 1}, Payload: ltm.Payload{SessionID: sessionID, RecordID: "r", Seq: 2, Text: "down"}},
		}))

		hits, err := index.Search(ctx, []float32{0, 0, 0, 1}, ltm.Filter{SessionID: sessionID}, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, "r:0002", hits[0].ID)
		assert.Equal(t, "down", hits[0].Payload.Text)
	})

	t.Run("Delete Tolerates Unknown IDs", func(t *testing.T) {
		require.NoError(t, index.Delete(ctx, []string{"r:0000", "missing"}))

		hits, err := index.Search(ctx, []float32{1, 0, 0, 0}, ltm.Filter{SessionID: sessionID}, 10)
		require.NoError(t, err)
		for _, hit := range hits {
			assert.NotEqual(t, "r:0000", hit.ID)
		}
	})

	t.Run("Empty Session Search", func(t *testing.T) {
		hits, err := index.Search(ctx, []float32{1, 0, 0, 0}, ltm.Filter{SessionID: "nobody-home"}, 5)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

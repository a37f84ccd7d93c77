//go:build integration
// +build integration

package integration

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embedmock "github.com/lexlapax/ragmem/pkg/embedding/adapters/mock"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	storemock "github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/mock"
	"github.com/lexlapax/ragmem/pkg/session"
)

// TestPgvectorSemanticRanking drives the full write path (chunk, embed,
// index, persist) against pgvector and checks cosine ranking end to end.
// Canned vectors stand in for a real embedding model so the expected
// order is fixed.
func TestPgvectorSemanticRanking(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}

	ctx := context.Background()
	index := newPgvectorIndex(t, ctx, 4)

	postgresFact := "postgres stores table rows in heap files"
	redisFact := "redis keeps its data structures in memory"
	kafkaFact := "kafka appends events to a partitioned log"
	query := "how does postgres persist rows"

	provider := embedmock.NewMockProvider(
		embedmock.WithDimensions(4),
		embedmock.WithCannedVector(postgresFact, []float32{1, 0, 0, 0}),
		embedmock.WithCannedVector(redisFact, []float32{0, 1, 0, 0}),
		embedmock.WithCannedVector(kafkaFact, []float32{0, 0, 1, 0}),
		// Close to the postgres fact, slightly off the redis axis.
		embedmock.WithCannedVector(query, []float32{0.95, 0.3, 0, 0}),
	)

	store := storemock.NewMockStore()
	manager, err := ltm.NewManager(index, store, provider, ltm.Config{
		ChunkSize:    200,
		ChunkOverlap: 0,
	}, nil)
	require.NoError(t, err)

	sessionID := session.ID("sem-" + uuid.NewString())
	ctx = session.ContextWithSession(ctx, sessionID)

	records := make(map[string]string) // content -> record ID
	for _, content := range []string{postgresFact, redisFact, kafkaFact} {
		record, err := manager.Write(ctx, content, ltm.WriteOptions{})
		require.NoError(t, err)
		records[content] = record.ID
	}

	t.Run("Ranking Follows Cosine Similarity", func(t *testing.T) {
		hits, err := manager.Query(ctx, query, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)

		assert.Equal(t, records[postgresFact], hits[0].RecordID)
		assert.Equal(t, records[redisFact], hits[1].RecordID)
		assert.Equal(t, records[kafkaFact], hits[2].RecordID)
		assert.Greater(t, hits[0].Score, hits[1].Score)
		assert.Greater(t, hits[1].Score, hits[2].Score)
	})

	t.Run("Hit Text Matches The Stored Chunk", func(t *testing.T) {
		hits, err := manager.Query(ctx, query, 1)
		require.NoError(t, err)
		require.Len(t, hits, 1)
		assert.Equal(t, postgresFact, hits[0].Text)
		assert.Equal(t, 0, hits[0].Seq)
	})

	t.Run("K Caps The Result Count", func(t *testing.T) {
		hits, err := manager.Query(ctx, query, 2)
		require.NoError(t, err)
		assert.Len(t, hits, 2)
	})
}

// TestPgvectorMultiChunkRecord writes one record long enough to split and
// verifies every chunk lands in pgvector with its sequence and overlap,
// and that deleting the record removes them all.
func TestPgvectorMultiChunkRecord(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}

	ctx := context.Background()
	index := newPgvectorIndex(t, ctx, 8)

	provider := embedmock.NewMockProvider(embedmock.WithDimensions(8))
	manager, err := ltm.NewManager(index, storemock.NewMockStore(), provider, ltm.Config{
		ChunkSize:    40,
		ChunkOverlap: 8,
	}, nil)
	require.NoError(t, err)

	sessionID := session.ID("multi-" + uuid.NewString())
	ctx = session.ContextWithSession(ctx, sessionID)

	content := "alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima mike november"
	record, err := manager.Write(ctx, content, ltm.WriteOptions{})
	require.NoError(t, err)
	require.Greater(t, len(record.Chunks), 1, "content should split into multiple chunks")

	t.Run("Every Chunk Is Queryable", func(t *testing.T) {
		for _, chunk := range record.Chunks {
			hits, err := manager.Query(ctx, chunk.Text, 1)
			require.NoError(t, err)
			require.Len(t, hits, 1)
			assert.Equal(t, chunk.ID, hits[0].ID)
			assert.Equal(t, chunk.Seq, hits[0].Seq)
			assert.Equal(t, chunk.Overlap, hits[0].Overlap)
			assert.InDelta(t, 1.0, hits[0].Score, 0.01)
		}
	})

	t.Run("Delete Record Removes All Chunks", func(t *testing.T) {
		require.NoError(t, manager.DeleteRecord(ctx, record.ID))

		hits, err := manager.Query(ctx, content, 10)
		require.NoError(t, err)
		assert.Empty(t, hits)
	})
}

// TestPgvectorExpirySweep checks that the TTL sweep removes expired
// records' chunks from the index.
func TestPgvectorExpirySweep(t *testing.T) {
	if os.Getenv("INTEGRATION_TESTS") != "true" {
		t.Skip("Skipping integration test; set INTEGRATION_TESTS=true to run")
	}

	ctx := context.Background()
	index := newPgvectorIndex(t, ctx, 8)

	provider := embedmock.NewMockProvider(embedmock.WithDimensions(8))
	manager, err := ltm.NewManager(index, storemock.NewMockStore(), provider, ltm.Config{
		ChunkSize:    200,
		ChunkOverlap: 0,
	}, nil)
	require.NoError(t, err)

	sessionID := session.ID("ttl-" + uuid.NewString())
	ctx = session.ContextWithSession(ctx, sessionID)

	past := time.Now().Add(-time.Minute)
	expired, err := manager.Write(ctx, "ephemeral note about the standup", ltm.WriteOptions{ExpiresAt: &past})
	require.NoError(t, err)

	keeper, err := manager.Write(ctx, "permanent note about the architecture", ltm.WriteOptions{})
	require.NoError(t, err)

	removed, err := manager.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	hits, err := manager.Query(ctx, "ephemeral note about the standup", 10)
	require.NoError(t, err)
	for _, hit := range hits {
		assert.NotEqual(t, expired.ID, hit.RecordID, "expired record's chunks must be swept")
	}

	hits, err = manager.Query(ctx, "permanent note about the architecture", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, keeper.ID, hits[0].RecordID)
}

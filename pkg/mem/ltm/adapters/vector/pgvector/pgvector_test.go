package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

const testDimensions = 3

func skipIfNoPgvector(t *testing.T) string {
	url := os.Getenv("PGVECTOR_TEST_URL")
	if url == "" {
		t.Skip("Skipping pgvector tests: PGVECTOR_TEST_URL environment variable not set")
	}
	return url
}

func setupIndex(t *testing.T) *Index {
	t.Helper()
	url := skipIfNoPgvector(t)
	ctx := context.Background()

	table := "test_chunks_" + uuid.New().String()[:8]
	idx, err := New(ctx, Config{
		DSN:        url,
		Table:      table,
		Dimensions: testDimensions,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_, _ = idx.Pool().Exec(ctx, "DROP TABLE IF EXISTS "+table)
		_ = idx.Close()
	})
	return idx
}

func chunkEntry(id string, sess session.ID, recordID string, seq int, text string, vec []float32) ltm.Entry {
	return ltm.Entry{
		ID:     id,
		Vector: vec,
		Payload: ltm.Payload{
			SessionID: sess,
			RecordID:  recordID,
			Seq:       seq,
			Overlap:   seq * 4,
			Text:      text,
		},
	}
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()

	_, err := New(ctx, Config{})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = New(ctx, Config{DSN: "postgres://localhost/x", Metric: "hamming"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestVectorLiteral(t *testing.T) {
	assert.Equal(t, "[0.5,-1,0]", vectorLiteral([]float32{0.5, -1, 0}))
	assert.Equal(t, "[]", vectorLiteral(nil))
}

func TestUpsertAndSearch(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []ltm.Entry{
		chunkEntry("r1:0000", "alpha", "r1", 0, "the projector lives in room 4", []float32{1, 0, 0}),
		chunkEntry("r1:0001", "alpha", "r1", 1, "room 4 is on the second floor", []float32{0.9, 0.1, 0}),
		chunkEntry("r2:0000", "alpha", "r2", 0, "lunch is at noon", []float32{0, 1, 0}),
	})
	require.NoError(t, err)

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, ltm.Filter{SessionID: "alpha"}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "r1:0000", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-3)
	assert.Equal(t, "r1:0001", hits[1].ID)
	assert.Greater(t, hits[0].Score, hits[1].Score)

	assert.Equal(t, session.ID("alpha"), hits[0].Payload.SessionID)
	assert.Equal(t, "r1", hits[0].Payload.RecordID)
	assert.Equal(t, "the projector lives in room 4", hits[0].Payload.Text)
	assert.Equal(t, 1, hits[1].Payload.Seq)
	assert.Equal(t, 4, hits[1].Payload.Overlap)
}

func TestSearchScopedToSession(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []ltm.Entry{
		chunkEntry("a:0000", "alpha", "a", 0, "alpha fact", []float32{1, 0, 0}),
		chunkEntry("b:0000", "beta", "b", 0, "beta fact", []float32{1, 0, 0}),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, ltm.Filter{SessionID: "alpha"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0000", hits[0].ID)
}

func TestUpsertOverwrites(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []ltm.Entry{
		chunkEntry("a:0000", "alpha", "a", 0, "first draft", []float32{1, 0, 0}),
	}))
	require.NoError(t, idx.Upsert(ctx, []ltm.Entry{
		chunkEntry("a:0000", "alpha", "a", 0, "second draft", []float32{1, 0, 0}),
	}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, ltm.Filter{SessionID: "alpha"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "second draft", hits[0].Payload.Text)
}

func TestDelete(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Upsert(ctx, []ltm.Entry{
		chunkEntry("a:0000", "alpha", "a", 0, "keep", []float32{1, 0, 0}),
		chunkEntry("a:0001", "alpha", "a", 1, "drop", []float32{0, 1, 0}),
	}))

	require.NoError(t, idx.Delete(ctx, []string{"a:0001", "never-existed"}))

	hits, err := idx.Search(ctx, []float32{1, 0, 0}, ltm.Filter{SessionID: "alpha"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0000", hits[0].ID)
}

func TestDimensionMismatch(t *testing.T) {
	idx := setupIndex(t)
	ctx := context.Background()

	err := idx.Upsert(ctx, []ltm.Entry{
		chunkEntry("a:0000", "alpha", "a", 0, "wrong width", []float32{1, 0}),
	})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)

	_, err = idx.Search(ctx, []float32{1, 0}, ltm.Filter{SessionID: "alpha"}, 5)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

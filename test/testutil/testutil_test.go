package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/mem/ltm"
)

func TestTempBoltDB(t *testing.T) {
	db, path := TempBoltDB(t)
	require.NotNil(t, db)
	assert.FileExists(t, path)
}

func TestTempChromemIndex(t *testing.T) {
	index, path := TempChromemIndex(t)
	require.NotEmpty(t, path)

	ctx := context.Background()
	entries := []ltm.Entry{
		{ID: "rec:0000", Vector: []float32{1, 0, 0}, Payload: ltm.Payload{SessionID: "s1", RecordID: "rec", Seq: 0, Text: "alpha"}},
		{ID: "rec:0001", Vector: []float32{0, 1, 0}, Payload: ltm.Payload{SessionID: "s1", RecordID: "rec", Seq: 1, Text: "beta"}},
	}
	require.NoError(t, index.Upsert(ctx, entries))

	hits, err := index.Search(ctx, []float32{1, 0, 0}, ltm.Filter{SessionID: "s1"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "rec:0000", hits[0].ID)
}

func TestScriptedIndex_ReplaysUpsertsPerSession(t *testing.T) {
	index := NewScriptedIndex()
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []ltm.Entry{
		{ID: "a:0000", Vector: []float32{0.1}, Payload: ltm.Payload{SessionID: "s1", RecordID: "a", Text: "first"}},
		{ID: "b:0000", Vector: []float32{0.2}, Payload: ltm.Payload{SessionID: "s2", RecordID: "b", Text: "other"}},
	}))

	hits, err := index.Search(ctx, []float32{0.1}, ltm.Filter{SessionID: "s1"}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a:0000", hits[0].ID)

	vector, filter, k := index.LastQuery()
	assert.Equal(t, []float32{0.1}, vector)
	assert.Equal(t, ltm.Filter{SessionID: "s1"}, filter)
	assert.Equal(t, 10, k)
}

func TestScriptedIndex_ScriptedHitsWinAndRespectK(t *testing.T) {
	index := NewScriptedIndex()
	index.ScriptHits(
		ltm.Hit{ID: "x", Score: 0.9},
		ltm.Hit{ID: "y", Score: 0.8},
	)

	hits, err := index.Search(context.Background(), nil, ltm.Filter{}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "x", hits[0].ID)
}

func TestScriptedIndex_DeleteIgnoresUnknownIDs(t *testing.T) {
	index := NewScriptedIndex()
	ctx := context.Background()

	require.NoError(t, index.Upsert(ctx, []ltm.Entry{
		{ID: "a:0000", Payload: ltm.Payload{SessionID: "s1", RecordID: "a"}},
	}))
	require.NoError(t, index.Delete(ctx, []string{"a:0000", "missing"}))
	assert.Equal(t, 0, index.Len())
}

func TestScriptedIndex_InjectedErrors(t *testing.T) {
	index := NewScriptedIndex()
	index.SearchErr = assert.AnError

	_, err := index.Search(context.Background(), nil, ltm.Filter{}, 3)
	assert.ErrorIs(t, err, assert.AnError)
}

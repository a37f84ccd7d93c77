package boltdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/errors"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/session"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "ragmem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func record(id string, sess session.ID, content string, createdAt time.Time) ltm.MemoryRecord {
	return ltm.MemoryRecord{
		ID:          id,
		SessionID:   sess,
		Content:     content,
		ContentHash: "hash-" + id,
		Category:    "fact",
		Tags:        []string{"t1"},
		Chunks: []ltm.Chunk{
			{ID: ltm.ChunkID(id, 0), RecordID: id, SessionID: sess, Seq: 0, Text: content},
		},
		CreatedAt: createdAt,
		Indexed:   true,
	}
}

func TestPutAndGet(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	created := time.Now().UTC().Truncate(time.Millisecond)
	rec := record("r1", "alpha", "the projector is in room 4", created)
	rec.Metadata = map[string]interface{}{"source": "chat"}

	require.NoError(t, store.Put(ctx, rec))

	got, err := store.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, session.ID("alpha"), got.SessionID)
	assert.Equal(t, "the projector is in room 4", got.Content)
	assert.Equal(t, "hash-r1", got.ContentHash)
	assert.Equal(t, []string{"t1"}, got.Tags)
	assert.Equal(t, "chat", got.Metadata["source"])
	require.Len(t, got.Chunks, 1)
	assert.Equal(t, "r1:0000", got.Chunks[0].ID)
	assert.True(t, got.CreatedAt.Equal(created))
	assert.Nil(t, got.ExpiresAt)
	assert.True(t, got.Indexed)
}

func TestGetMissing(t *testing.T) {
	store := newStore(t)

	_, err := store.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestPutRequiresID(t *testing.T) {
	store := newStore(t)

	err := store.Put(context.Background(), ltm.MemoryRecord{SessionID: "alpha"})
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestListOrdersByCreation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, store.Put(ctx, record("r2", "alpha", "second", base.Add(time.Second))))
	require.NoError(t, store.Put(ctx, record("r3", "alpha", "third", base.Add(2*time.Second))))
	require.NoError(t, store.Put(ctx, record("r1", "alpha", "first", base)))
	require.NoError(t, store.Put(ctx, record("x1", "beta", "other session", base)))

	records, err := store.List(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "r1", records[0].ID)
	assert.Equal(t, "r2", records[1].ID)
	assert.Equal(t, "r3", records[2].ID)
}

func TestListUnknownSession(t *testing.T) {
	store := newStore(t)

	records, err := store.List(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFindByHash(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, record("r1", "alpha", "content", now)))
	require.NoError(t, store.Put(ctx, record("r2", "beta", "content", now)))

	found, err := store.FindByHash(ctx, "alpha", "hash-r1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "r1", found.ID)

	// same hash in another session is invisible
	found, err = store.FindByHash(ctx, "alpha", "hash-r2")
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = store.FindByHash(ctx, "ghost", "hash-r1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestListExpired(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	expired := record("r1", "alpha", "stale", now.Add(-2*time.Hour))
	expired.ExpiresAt = &past
	fresh := record("r2", "alpha", "fresh", now)
	fresh.ExpiresAt = &future
	forever := record("r3", "beta", "durable", now)

	require.NoError(t, store.Put(ctx, expired))
	require.NoError(t, store.Put(ctx, fresh))
	require.NoError(t, store.Put(ctx, forever))

	got, err := store.ListExpired(ctx, now)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, record("r1", "alpha", "content", now)))
	require.NoError(t, store.Delete(ctx, "r1"))

	_, err := store.Get(ctx, "r1")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	records, err := store.List(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, records)

	// deleting again is a no-op
	assert.NoError(t, store.Delete(ctx, "r1"))
}

func TestDeleteSession(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.Put(ctx, record("r1", "alpha", "one", now)))
	require.NoError(t, store.Put(ctx, record("r2", "alpha", "two", now)))
	require.NoError(t, store.Put(ctx, record("x1", "beta", "keep", now)))

	require.NoError(t, store.DeleteSession(ctx, "alpha"))

	records, err := store.List(ctx, "alpha")
	require.NoError(t, err)
	assert.Empty(t, records)

	_, err = store.Get(ctx, "r1")
	assert.ErrorIs(t, err, errors.ErrNotFound)

	kept, err := store.List(ctx, "beta")
	require.NoError(t, err)
	assert.Len(t, kept, 1)

	// deleting an unknown session is a no-op
	assert.NoError(t, store.DeleteSession(ctx, "ghost"))
}

func TestEmptySessionNormalizesToGlobal(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, record("g1", "", "unscoped", time.Now().UTC())))

	records, err := store.List(ctx, session.GlobalID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "g1", records[0].ID)
}

func TestReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ragmem.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, record("r1", "alpha", "durable", time.Now().UTC())))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Content)
}

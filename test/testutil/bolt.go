package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

// TempBoltDB opens a BoltDB database in a test-scoped temporary directory.
// The handle is closed when the test finishes.
func TempBoltDB(t *testing.T) (*bolt.DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "ragmem.bolt.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, dbPath
}

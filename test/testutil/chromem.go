package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lexlapax/ragmem/pkg/mem/ltm/adapters/vector/chromem_go"
)

// TempChromemIndex creates a chromem-backed vector index persisted under a
// test-scoped temporary directory. The index is closed when the test
// finishes; the returned path allows reopening to verify persistence.
func TempChromemIndex(t *testing.T) (*chromem_go.Index, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "chromem")
	index, err := chromem_go.NewPersistent(path, false)
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	return index, path
}

// MemoryChromemIndex creates an in-memory chromem index for tests that do
// not care about persistence.
func MemoryChromemIndex(t *testing.T) *chromem_go.Index {
	t.Helper()

	index, err := chromem_go.New()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	return index
}

// manager_test.go - Tests for storage layer
package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	return store
}

func TestNewLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "blobs")
	_, err := NewLocalStore(dir)
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestLocalStore_PutOpen(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	n, err := store.Put(ctx, "uploads/case-1/abc.txt", strings.NewReader("Hello, World!"), -1, "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	data, err := ReadAll(ctx, store, "uploads/case-1/abc.txt")
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", string(data))

	_, err = store.Put(ctx, "uploads/case-1/abc.txt", strings.NewReader("v2"), -1, "")
	require.NoError(t, err)
	data, err = ReadAll(ctx, store, "uploads/case-1/abc.txt")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data), "put overwrites")
}

func TestLocalStore_OpenMissing(t *testing.T) {
	store := createTestStore(t)
	_, err := store.Open(context.Background(), "nope/missing.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_RejectsEscapingKeys(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"../outside", "a/../../outside", ".."} {
		_, err := store.Put(ctx, key, strings.NewReader("x"), -1, "")
		assert.Error(t, err, key)
	}
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	_, err := store.Put(ctx, "documents/d.pdf", strings.NewReader("pdf"), -1, "")
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "documents/d.pdf"))
	require.NoError(t, store.Delete(ctx, "documents/d.pdf"), "deleting twice is fine")

	_, err = store.Open(ctx, "documents/d.pdf")
	assert.True(t, errors.Is(err, ErrNotFound))
}

package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.sqlite")
	idx, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	return idx
}

func TestUpsertAndGet(t *testing.T) {
	idx := openTestIndex(t)
	rec := Record{CacheKey: "example.com/a.txt", URL: "https://example.com/a.txt", Status: 200, BytesStored: 42, StoredAt: time.Now().UTC().Truncate(time.Second)}
	require.NoError(t, idx.Upsert(rec))

	got, err := idx.Get("example.com/a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.URL, got.URL)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.BytesStored, got.BytesStored)
}

func TestUpsertOverwritesExisting(t *testing.T) {
	idx := openTestIndex(t)
	key := "example.com/a.txt"
	require.NoError(t, idx.Upsert(Record{CacheKey: key, Status: 200, BytesStored: 1, StoredAt: time.Now()}))
	require.NoError(t, idx.Upsert(Record{CacheKey: key, Status: 404, BytesStored: 0, StoredAt: time.Now()}))

	got, err := idx.Get(key)
	require.NoError(t, err)
	assert.Equal(t, 404, got.Status)
}

func TestGetMissingReturnsNil(t *testing.T) {
	idx := openTestIndex(t)
	got, err := idx.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRebuildWalksSidecars(t *testing.T) {
	root := t.TempDir()
	bodyPath := filepath.Join(root, "example.com", "a.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(bodyPath), 0755))
	require.NoError(t, os.WriteFile(bodyPath, []byte("hello"), 0644))
	require.NoError(t, os.WriteFile(bodyPath+".header.json", []byte(`{"cget-status":200}`), 0644))

	idx := openTestIndex(t)
	count, err := Rebuild(root, idx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	list, err := idx.List()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 200, list[0].Status)
	assert.EqualValues(t, 5, list[0].BytesStored)
}

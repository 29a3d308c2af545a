package cget

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charto/cget/address"
)

func newTestFetchState(ctx context.Context, uri string, opts Options) (*FetchState, chan *CacheResult, chan error) {
	streamCh := make(chan *CacheResult, 1)
	erroredCh := make(chan error, 1)
	a := address.Parse(uri)
	return newFetchState(ctx, a, opts, func(r *CacheResult) { streamCh <- r }, func(err error) { erroredCh <- err }, func() {}, nil), streamCh, erroredCh
}

func optionsAllowingLocal() Options {
	o := DefaultOptions()
	o.AllowLocal = true
	return o
}

func TestLocalFetchServesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.txt")
	require.NoError(t, os.WriteFile(path, []byte("local bytes"), 0644))

	state, streamCh, _ := newTestFetchState(context.Background(), "file://"+path, optionsAllowingLocal())

	outcome, err := (LocalFetch{}).Fetch(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, outcomeStreaming, outcome)

	res := <-streamCh
	body, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "local bytes", string(body))
	assert.Equal(t, 200, res.Status)
	assert.True(t, res.Cached)
}

func TestLocalFetchMissingFileSurfacesENOENT(t *testing.T) {
	dir := t.TempDir()
	state, _, _ := newTestFetchState(context.Background(), "file://"+filepath.Join(dir, "nope.txt"), optionsAllowingLocal())

	_, err := (LocalFetch{}).Fetch(context.Background(), state)
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "expected an ENOENT-class error, got %v", err)
	var cacheErr *CachedError
	assert.False(t, errors.As(err, &cacheErr), "missing file must not be synthesized as a CachedError")
}

func TestLocalFetchDeniedWhenAllowLocalFalse(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	opts := DefaultOptions()
	state, _, _ := newTestFetchState(context.Background(), "file://"+path, opts)

	_, err := (LocalFetch{}).Fetch(context.Background(), state)
	require.Error(t, err)
	var deniedErr *AccessDeniedError
	require.ErrorAs(t, err, &deniedErr)
}

func TestLocalFetchServesDirectoryIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0644))

	opts := optionsAllowingLocal()
	state, streamCh, _ := newTestFetchState(context.Background(), "file://"+dir+"/", opts)

	outcome, err := (LocalFetch{}).Fetch(context.Background(), state)
	require.NoError(t, err)
	assert.Equal(t, outcomeStreaming, outcome)

	res := <-streamCh
	body, err := io.ReadAll(res.Stream)
	require.NoError(t, err)
	assert.Equal(t, "<html></html>", string(body))
}

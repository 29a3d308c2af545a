package cget

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charto/cget/catalog"
)

// fetchOnce drives Cache.Fetch to completion and returns either the fully
// drained CacheResult body or the error it settled with.
func fetchOnce(t *testing.T, c *Cache, uri string, opts ...Option) ([]byte, *CacheResult, error) {
	t.Helper()

	type outcome struct {
		body []byte
		res  *CacheResult
		err  error
	}
	done := make(chan outcome, 1)

	c.Fetch(context.Background(), uri, func(res *CacheResult) {
		body, err := io.ReadAll(res.Stream)
		done <- outcome{body: body, res: res, err: err}
	}, func(err error) {
		done <- outcome{err: err}
	}, opts...)

	select {
	case o := <-done:
		return o.body, o.res, o.err
	case <-time.After(5 * time.Second):
		return nil, nil, fmt.Errorf("fetch of %s did not settle in time", uri)
	}
}

func TestFetchRemoteSuccessAndCachePersists(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(200)
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithAllowRemote(true), WithAllowCacheWrite(true))

	body, res, err := fetchOnce(t, c, srv.URL+"/thing")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
	assert.Equal(t, 200, res.Status)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	// A second fetch should come back from the cache mirror without
	// touching the network again.
	c2 := NewCache(dir, WithAllowRemote(true), WithAllowCacheWrite(true))
	body2, res2, err := fetchOnce(t, c2, srv.URL+"/thing")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body2))
	assert.True(t, res2.Cached, "second fetch should be served from the mirror")
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "cache hit must not re-request")
}

func TestFetchPopulatesCatalog(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("catalog me"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithAllowRemote(true), WithAllowCacheWrite(true))
	defer c.Close()

	_, res, err := fetchOnce(t, c, srv.URL+"/entry")
	require.NoError(t, err)
	assert.False(t, res.Cached)

	idx, err := catalog.Open(filepath.Join(dir, catalog.DefaultFileName))
	require.NoError(t, err)
	defer idx.Close()

	rec, err := idx.Get(res.CacheKey)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, 200, rec.Status)
	assert.EqualValues(t, len("catalog me"), rec.BytesStored)
}

func TestFetchOfDirectoryKeyStoresUnderIndexName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("root listing"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithAllowRemote(true), WithAllowCacheWrite(true))

	body, _, err := fetchOnce(t, c, srv.URL+"/")
	require.NoError(t, err)
	assert.Equal(t, "root listing", string(body))

	host := strings.TrimPrefix(srv.URL, "http://")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	stored, err := os.ReadFile(filepath.Join(dir, "http", host, "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "root listing", string(stored))

	// A second fetch of the same directory-style address must be a cache
	// hit without touching the network again.
	c2 := NewCache(dir, WithAllowRemote(true), WithAllowCacheWrite(true))
	_, res2, err := fetchOnce(t, c2, srv.URL+"/")
	require.NoError(t, err)
	assert.True(t, res2.Cached)
}

func TestFetchCachedErrorWithoutNetwork(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(404)
		_, _ = w.Write([]byte("not found"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithAllowCacheWrite(true))

	_, _, err := fetchOnce(t, c, srv.URL+"/missing")
	require.Error(t, err)
	var cacheErr *CachedError
	require.ErrorAs(t, err, &cacheErr)
	assert.Equal(t, 404, cacheErr.Status)

	_, _, err = fetchOnce(t, c, srv.URL+"/missing")
	require.Error(t, err)
	require.ErrorAs(t, err, &cacheErr)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "cached error must not re-request")
}

func TestFetchFollowsRedirectsWithinBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/middle", http.StatusFound)
	})
	mux.HandleFunc("/middle", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/end", http.StatusFound)
	})
	mux.HandleFunc("/end", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("final"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithRedirectCount(5))

	body, res, err := fetchOnce(t, c, srv.URL+"/start")
	require.NoError(t, err)
	assert.Equal(t, "final", string(body))
	assert.Equal(t, srv.URL+"/end", res.URL)
}

func TestFetchTooManyRedirectsIsCachedError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/loop", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/loop", http.StatusFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithRedirectCount(2))

	_, _, err := fetchOnce(t, c, srv.URL+"/loop")
	require.Error(t, err)
	var cacheErr *CachedError
	require.ErrorAs(t, err, &cacheErr)
	assert.Contains(t, cacheErr.Message, "redirect")
}

func TestFetchRetriesTransientServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(500)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithRetry(3, time.Millisecond, 1))

	body, _, err := fetchOnce(t, c, srv.URL+"/flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestFetchExhaustedServerErrorIsNotCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if n <= 2 {
			w.WriteHeader(503)
			return
		}
		_, _ = w.Write([]byte("recovered"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithAllowCacheWrite(true), WithRetry(1, time.Millisecond, 1))

	_, _, err := fetchOnce(t, c, srv.URL+"/flaky")
	require.Error(t, err)
	var cacheErr *CachedError
	assert.False(t, errors.As(err, &cacheErr), "an exhausted 5xx must not be recorded as an authoritative CachedError")
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))

	body, _, err := fetchOnce(t, c, srv.URL+"/flaky")
	require.NoError(t, err, "a later fetch must still reach the now-recovered origin, not a poisoned sidecar")
	assert.Equal(t, "recovered", string(body))
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestFetchConcurrencyIsBounded(t *testing.T) {
	var inFlight, maxInFlight int32
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if cur <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, cur) {
				break
			}
		}
		<-block
		atomic.AddInt32(&inFlight, -1)
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := NewCache(dir, WithConcurrency(2))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = fetchOnce(t, c, fmt.Sprintf("%s/item%d", srv.URL, i))
		}()
	}

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxInFlight)), 2)
	close(block)
	wg.Wait()
}

package cget

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"

	"go.uber.org/atomic"

	"github.com/charto/cget/address"
)

// FetchState is the mutable state threaded through one logical fetch: the
// address being resolved, the options in effect, the shared byte stream,
// and the at-most-once onStream/onErrored settlement guard spec.md §5
// requires. A FetchState is created once per Cache.Fetch call and is
// reused, unmodified in identity, across every retry and redirect that
// fetch goes through.
type FetchState struct {
	ctx  context.Context
	addr *address.Address
	opts Options

	buffer *BufferStream

	onStream  func(*CacheResult)
	onErrored func(error)

	settled     atomic.Bool
	releaseOnce sync.Once
	release     func()
	retryFn     func()

	redirectsFollowed int
	remoteAttempts    int
}

// newFetchState wires up a FetchState for one Cache.Fetch call. release is
// invoked exactly once, the first time the fetch settles (streams or
// errors) — it is how the Cache's concurrency semaphore slot is returned,
// per spec.md §5 ("held from dispatch until streaming opens or the fetch
// fails, not during body transfer"). retryFn restarts the whole strategy
// chain from the top for this same FetchState; it backs CacheResult.Retry.
func newFetchState(ctx context.Context, addr *address.Address, opts Options, onStream func(*CacheResult), onErrored func(error), release func(), retryFn func()) *FetchState {
	return &FetchState{
		ctx:       ctx,
		addr:      addr,
		opts:      opts,
		buffer:    NewBufferStream(),
		onStream:  onStream,
		onErrored: onErrored,
		release:   release,
		retryFn:   retryFn,
	}
}

// newResult builds a CacheResult sharing this FetchState's buffer, with
// Retry and Abort wired to restart the chain / tear down the stream.
// cached reports whether path is being served from the filesystem mirror
// rather than freshly fetched over the network.
func (s *FetchState) newResult(path string, status int, headers http.Header, cached bool) *CacheResult {
	return &CacheResult{
		URL:      s.addr.URL,
		CacheKey: s.addr.CacheKey,
		Path:     path,
		Status:   status,
		Headers:  headers,
		Cached:   cached,
		Stream:   s.buffer,
		retry: func() {
			if s.retryFn != nil {
				s.retryFn()
			}
		},
		abort: func() { s.buffer.CloseWithError(context.Canceled) },
	}
}

// bodyPath returns the relative path this fetch's body is read/written at:
// addr.Path directly, or addr.Path/IndexName when addr names a directory
// (spec.md §6), so "http://example/" mirrors to "example/index.html"
// instead of a flat file named "example".
func (s *FetchState) bodyPath() string {
	return cacheBodyPath(s.addr, s.opts.IndexName)
}

// cacheBodyPath applies the §6 directory-key rule to addr without requiring
// a FetchState, for callers (Cache.Store) that write into the cache outside
// the fetch pipeline.
func cacheBodyPath(addr *address.Address, indexName string) string {
	if !addr.DirKey {
		return addr.Path
	}
	return filepath.Join(addr.Path, indexName)
}

// isResumed reports whether a strategy has already written into the shared
// buffer — i.e. whether onStream has already fired and a subsequent
// strategy (after a retry) should keep appending to the existing stream
// instead of emitting a fresh CacheResult.
func (s *FetchState) isResumed() bool {
	return s.buffer.Len() > 0
}

// emitStream settles the fetch as successful, invoking onStream exactly
// once. Calling it again (from a retried strategy after the stream already
// opened) is a no-op: callers should check isResumed first and skip calling
// emitStream on a resume, instead writing directly into state.buffer.
func (s *FetchState) emitStream(result *CacheResult) {
	if !s.settled.CompareAndSwap(false, true) {
		return
	}
	s.releaseSlot()
	s.onStream(result)
}

// fail settles the fetch as an error, invoking onErrored exactly once.
func (s *FetchState) fail(err error) {
	if !s.settled.CompareAndSwap(false, true) {
		return
	}
	s.releaseSlot()
	s.onErrored(err)
}

func (s *FetchState) releaseSlot() {
	s.releaseOnce.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// redirect applies addr.Redirect and increments the redirect counter,
// returning a CachedError if opts.RedirectCount has been exceeded. status
// is the 3xx this hop answered with, recorded onto the History entry for
// the address being left behind.
func (s *FetchState) redirect(newURL string, isFake bool, status int, data []byte) error {
	s.redirectsFollowed++
	if s.redirectsFollowed > s.opts.RedirectCount {
		return &CachedError{Status: 310, Message: "Too many redirects"}
	}
	s.addr.Redirect(newURL, isFake, status, data)
	return nil
}

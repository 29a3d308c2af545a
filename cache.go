package cget

import (
	"context"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/charto/cget/address"
	"github.com/charto/cget/catalog"
	"github.com/charto/cget/metrics"
)

// Cache is the top-level entry point: it owns the on-disk mirror root, the
// fixed LocalFetch -> FileSystemCache -> RemoteFetch strategy chain, and a
// bounded dispatch queue limiting how many fetches run concurrently.
type Cache struct {
	opts       Options
	root       string
	fsCache    *FileSystemCache
	remote     *RemoteFetch
	strategies []Strategy
	sem        chan struct{}
}

// NewCache creates a Cache rooted at dir, applying opts on top of
// DefaultOptions as this Cache's defaults for every subsequent Fetch call.
// It opens (or creates) the catalog database alongside the mirror,
// best-effort: a catalog that fails to open just means "cget ls"/"stat"
// have nothing to query until a "cget reindex", not a failed Cache.
func NewCache(dir string, opts ...Option) *Cache {
	resolved := resolve(DefaultOptions(), opts)
	fsCache := &FileSystemCache{Root: dir}
	_ = os.MkdirAll(dir, 0755)
	if idx, err := catalog.Open(filepath.Join(dir, catalog.DefaultFileName)); err != nil {
		log.WithError(err).Warn("cget: could not open catalog database, introspection will be unavailable until reindex")
	} else {
		fsCache.Catalog = idx
	}
	remote := NewRemoteFetch(fsCache)

	concurrency := resolved.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Cache{
		opts:       resolved,
		root:       dir,
		fsCache:    fsCache,
		remote:     remote,
		strategies: []Strategy{LocalFetch{}, fsCache, remote},
		sem:        make(chan struct{}, concurrency),
	}
}

// Root returns the directory this Cache mirrors fetches onto.
func (c *Cache) Root() string { return c.root }

// Close releases the catalog database handle, if one was opened.
func (c *Cache) Close() error {
	if c.fsCache.Catalog != nil {
		return c.fsCache.Catalog.Close()
	}
	return nil
}

// Fetch resolves uri (relative to opts.Cwd/addr.WithBaseURL defaults when
// not absolute) and dispatches the strategy chain, bounded by this Cache's
// concurrency limit. Exactly one of onStream or onErrored is eventually
// invoked, exactly once, per spec.md §5. Fetch itself blocks until a
// concurrency slot is free (if ctx ends first, onErrored runs before Fetch
// returns); the strategy chain then runs on its own goroutine, so Fetch
// does not wait for the result.
func (c *Cache) Fetch(ctx context.Context, uri string, onStream func(*CacheResult), onErrored func(error), opts ...Option) {
	o := resolve(c.opts, opts)

	var parseOpts []address.ParseOption
	if o.CacheKey != "" {
		parseOpts = append(parseOpts, address.WithCacheKey(o.CacheKey))
	}
	if o.Cwd != "" {
		parseOpts = append(parseOpts, address.WithBaseURL(cwdFileURL(o.Cwd)))
	}

	addr := address.Parse(uri, parseOpts...)
	if o.Rewrite != nil {
		if rewritten := o.Rewrite(addr.URL); rewritten != addr.URL {
			addr = address.Parse(rewritten, parseOpts...)
		}
	}

	metrics.QueueDepth.Inc()
	select {
	case c.sem <- struct{}{}:
		metrics.QueueDepth.Dec()
	case <-ctx.Done():
		metrics.QueueDepth.Dec()
		metrics.FetchesTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		onErrored(ctx.Err())
		return
	}
	metrics.InFlight.Inc()

	released := false
	release := func() {
		if !released {
			released = true
			metrics.InFlight.Dec()
			<-c.sem
		}
	}

	wrappedOnStream := func(res *CacheResult) {
		metrics.FetchesTotal.WithLabelValues(metrics.OutcomeStreamed).Inc()
		onStream(res)
	}
	wrappedOnErrored := func(err error) {
		outcome := metrics.OutcomeFailed
		if _, ok := err.(*CachedError); ok {
			outcome = metrics.OutcomeCached
		}
		metrics.FetchesTotal.WithLabelValues(outcome).Inc()
		onErrored(err)
	}

	var state *FetchState
	state = newFetchState(ctx, addr, o, wrappedOnStream, wrappedOnErrored, release, func() {
		state.buffer.reopen()
		go c.fetchDetect(ctx, state)
	})

	go c.fetchDetect(ctx, state)
}

// Store writes body directly into the cache mirror under the address uri
// resolves to, bypassing the fetch pipeline entirely. It is the
// programmatic equivalent of a successful RemoteFetch having already run.
func (c *Cache) Store(uri string, status int, headers map[string][]string, body []byte) error {
	addr := address.Parse(uri)
	return c.fsCache.Store(cacheBodyPath(addr, c.opts.IndexName), addr.URL, status, headers, body)
}

// fetchDetect walks the strategy chain from the top, restarting whenever a
// strategy reports outcomeRetryNow (a redirect was followed, or a
// transient failure is being retried), stopping as soon as one reports
// outcomeStreaming, and failing the fetch if every strategy in a full pass
// declines.
func (c *Cache) fetchDetect(ctx context.Context, state *FetchState) {
	var lastErr error
restart:
	if err := ctx.Err(); err != nil {
		state.fail(err)
		return
	}

	for _, s := range c.strategies {
		outcome, err := s.Fetch(ctx, state)
		if err != nil {
			var cacheErr *CachedError
			if errors.As(err, &cacheErr) {
				state.fail(err)
				return
			}
			// A non-CachedError is a strategy declining under duress, not an
			// authoritative verdict: record it and let the rest of the chain
			// have a shot, so e.g. a corrupt cache sidecar falls through to
			// RemoteFetch instead of failing a fetch the origin could serve.
			lastErr = err
			continue
		}
		switch outcome {
		case outcomeStreaming:
			return
		case outcomeRetryNow:
			goto restart
		case outcomeNotApplicable:
			// try the next strategy in the chain
		}
	}
	if lastErr != nil {
		state.fail(lastErr)
		return
	}
	state.fail(errors.Errorf("cget: no strategy could resolve %s", state.addr.URL))
}

func cwdFileURL(dir string) *url.URL {
	clean := filepath.ToSlash(filepath.Clean(dir))
	if clean[0] != '/' {
		clean = "/" + clean
	}
	return &url.URL{Scheme: "file", Path: clean + "/"}
}

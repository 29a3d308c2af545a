package cget

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/charto/cget/catalog"
	"github.com/charto/cget/metrics"
	"github.com/charto/cget/pathutil"
)

// FileSystemCache mirrors remote fetches onto a local directory tree: a
// body at "<root>/<cacheKey-derived path>" with a companion
// "<path>.header.json" sidecar recording the response status, message,
// headers, and (for a followed redirect) the final URL it resolved to.
// It is both a read strategy (serving cache hits without touching the
// network) and the write sink RemoteFetch uses to persist what it
// downloads.
//
// Catalog, if set, is recorded into best-effort on every write: a catalog
// write failure never fails the fetch it's shadowing, since the sidecar
// files remain the source of truth and "cget reindex" can always rebuild
// the catalog from them.
type FileSystemCache struct {
	Root    string
	Catalog *catalog.Index
}

func (c *FileSystemCache) record(relPath, url string, status int, size int64) {
	if c.Catalog == nil {
		return
	}
	_ = c.Catalog.Upsert(catalog.Record{
		CacheKey:    filepath.ToSlash(relPath),
		URL:         url,
		Status:      status,
		BytesStored: size,
		StoredAt:    time.Now().UTC(),
	})
}

func (c *FileSystemCache) fullPath(relPath string) string {
	return filepath.Join(c.Root, relPath)
}

func (c *FileSystemCache) Fetch(ctx context.Context, state *FetchState) (strategyOutcome, error) {
	if !state.addr.IsRemote() {
		return outcomeNotApplicable, nil
	}
	if !state.opts.AllowCacheRead {
		return outcomeNotApplicable, nil
	}

	path := c.fullPath(state.bodyPath())
	sc, err := readSidecar(path)
	if err != nil {
		if os.IsNotExist(err) {
			return outcomeNotApplicable, nil
		}
		return outcomeNotApplicable, errors.Wrapf(err, "cget: reading sidecar for %s", path)
	}

	if sc.Status >= 300 && sc.Status <= 308 && sc.Target != "" {
		// A redirect-only entry: no body of its own, just a pointer at
		// the final URL this cache key resolved to last time.
		if err := state.redirect(sc.Target, false, sc.Status, nil); err != nil {
			return outcomeRetryNow, err
		}
		return outcomeRetryNow, nil
	}

	if sc.Status >= 400 {
		metrics.CacheHits.Inc()
		return outcomeNotApplicable, &CachedError{Status: sc.Status, Message: sc.Message, Headers: sc.Headers}
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Sidecar without a body: treat as a miss rather than fail.
			return outcomeNotApplicable, nil
		}
		return outcomeNotApplicable, errors.Wrapf(err, "cget: stat %s", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return outcomeNotApplicable, errors.Wrapf(err, "cget: opening %s", path)
	}

	metrics.CacheHits.Inc()

	if state.isResumed() {
		go pump(state, f)
		return outcomeStreaming, nil
	}

	headers := sc.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if headers.Get("Content-Length") == "" {
		headers.Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}

	// Start the producer before handing the result to onStream: onStream
	// runs synchronously and a caller that drains res.Stream inline would
	// otherwise block forever on an unbuffered pipe with no writer yet.
	go pump(state, f)
	state.emitStream(state.newResult(path, sc.Status, headers, true))
	return outcomeStreaming, nil
}

// writeFileAtomic writes data to a uuid-suffixed temp file alongside path
// and renames it into place, so a reader never observes a partially written
// body even if two fetches race to populate the same cache key.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp := path + "." + uuid.NewString() + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Store writes body to the cache at relPath, along with a success sidecar
// recording status and headers. It does not check AllowCacheWrite itself:
// RemoteFetch checks it before calling, while Cache.Store calls it
// unconditionally.
func (c *FileSystemCache) Store(relPath string, url string, status int, headers http.Header, body []byte) error {
	path := c.fullPath(relPath)
	if err := pathutil.Mkdirp(filepath.Dir(path), "index.html"); err != nil {
		return errors.Wrapf(err, "cget: preparing cache directory for %s", path)
	}
	if err := writeFileAtomic(path, body, 0644); err != nil {
		return errors.Wrapf(err, "cget: writing cache body %s", path)
	}
	if err := writeSidecar(path, &sidecar{Status: status, Headers: headers}); err != nil {
		return err
	}
	c.record(relPath, url, status, int64(len(body)))
	return nil
}

// StoreError records a durable HTTP failure so future fetches fail fast
// without touching the network.
func (c *FileSystemCache) StoreError(relPath string, url string, status int, message string, headers http.Header) error {
	path := c.fullPath(relPath)
	if err := pathutil.Mkdirp(filepath.Dir(path), "index.html"); err != nil {
		return errors.Wrapf(err, "cget: preparing cache directory for %s", path)
	}
	if err := writeSidecar(path, &sidecar{Status: status, Message: message, Headers: headers}); err != nil {
		return err
	}
	c.record(relPath, url, status, 0)
	return nil
}

// StoreRedirect records that relPath ultimately resolves to finalURL,
// without writing a body. status is the original 3xx this hop answered
// with (spec.md §4.3: a redirect sidecar's cget-status stays in [300..308]
// rather than being collapsed to 200). Any number of redirect hops
// collapse to this one sidecar-only entry, so a later cache-only fetch
// resolves in a single jump instead of replaying the whole chain.
func (c *FileSystemCache) StoreRedirect(relPath string, finalURL string, status int) error {
	path := c.fullPath(relPath)
	if err := pathutil.Mkdirp(filepath.Dir(path), "index.html"); err != nil {
		return errors.Wrapf(err, "cget: preparing cache directory for %s", path)
	}
	if err := writeSidecar(path, &sidecar{Status: status, Target: finalURL}); err != nil {
		return err
	}
	c.record(relPath, finalURL, status, 0)
	return nil
}

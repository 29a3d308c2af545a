package cget

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mwitkow/go-conntrack"
	"github.com/pkg/errors"

	"github.com/charto/cget/metrics"
)

// RemoteFetch is the last link in the strategy chain: it issues the actual
// HTTP GET for a remote address, follows redirects itself (rather than
// letting net/http do it) so every hop can be recorded, retries transient
// failures with exponential backoff, and — when cache is non-nil and
// AllowCacheWrite is set — persists what it downloads back through
// FileSystemCache so the next fetch of the same address is a cache hit.
type RemoteFetch struct {
	cache *FileSystemCache

	once      sync.Once
	transport http.RoundTripper
}

// NewRemoteFetch builds a RemoteFetch that writes through to cache. cache
// may be nil to disable cache population even when AllowCacheWrite is set.
func NewRemoteFetch(cache *FileSystemCache) *RemoteFetch {
	return &RemoteFetch{cache: cache}
}

func (r *RemoteFetch) defaultTransport() http.RoundTripper {
	r.once.Do(func() {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.DialContext = conntrack.NewDialContextFunc(
			conntrack.DialWithTracing(),
			conntrack.DialWithName("cget-remote"),
		)
		r.transport = transport
	})
	return r.transport
}

func (r *RemoteFetch) transportFor(opts Options) http.RoundTripper {
	if opts.Transport != nil {
		return opts.Transport
	}
	return r.defaultTransport()
}

func backoffDelay(opts Options, attempt int) time.Duration {
	d := opts.RetryDelay
	factor := opts.RetryBackoffFactor
	if factor <= 0 {
		factor = 1
	}
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * factor)
	}
	return d
}

// wait blocks for delay or until ctx is cancelled, reporting which
// happened.
func wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *RemoteFetch) Fetch(ctx context.Context, state *FetchState) (strategyOutcome, error) {
	if !state.addr.IsRemote() {
		return outcomeNotApplicable, nil
	}
	if !state.opts.AllowRemote {
		return outcomeNotApplicable, &AccessDeniedError{Status: 403, Reason: "remote access is disabled"}
	}

	client := &http.Client{
		Transport: r.transportFor(state.opts),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	if state.opts.Timeout > 0 {
		client.Timeout = state.opts.Timeout
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, state.addr.URL, nil)
	if err != nil {
		return outcomeNotApplicable, errors.Wrap(err, "cget: building request")
	}
	if state.opts.Username != "" {
		req.SetBasicAuth(state.opts.Username, state.opts.Password)
	}

	metrics.CacheMisses.Inc()
	resp, err := client.Do(req)
	if err != nil {
		return r.handleTransportError(ctx, state, err)
	}

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		resp.Body.Close()
		return r.handleRedirect(state, resp)
	case resp.StatusCode >= 400:
		return r.handleErrorResponse(ctx, state, resp)
	default:
		return r.handleSuccess(state, resp)
	}
}

func (r *RemoteFetch) handleTransportError(ctx context.Context, state *FetchState, err error) (strategyOutcome, error) {
	if isTransientNetworkError(err) && state.remoteAttempts < state.opts.RetryCount {
		state.remoteAttempts++
		if werr := wait(ctx, backoffDelay(state.opts, state.remoteAttempts)); werr != nil {
			return outcomeNotApplicable, werr
		}
		return outcomeRetryNow, nil
	}
	return outcomeNotApplicable, errors.Wrap(err, "cget: remote fetch failed")
}

func (r *RemoteFetch) handleRedirect(state *FetchState, resp *http.Response) (strategyOutcome, error) {
	loc := resp.Header.Get("Location")
	if loc == "" {
		return outcomeNotApplicable, &CachedError{Status: resp.StatusCode, Message: "redirect response without Location"}
	}
	if err := state.redirect(loc, false, resp.StatusCode, nil); err != nil {
		return outcomeRetryNow, err
	}
	return outcomeRetryNow, nil
}

func (r *RemoteFetch) handleErrorResponse(ctx context.Context, state *FetchState, resp *http.Response) (strategyOutcome, error) {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	message := strings.TrimSpace(string(body))
	if message == "" {
		message = resp.Status
	}

	if resp.StatusCode >= 500 {
		if state.remoteAttempts < state.opts.RetryCount {
			state.remoteAttempts++
			if werr := wait(ctx, backoffDelay(state.opts, state.remoteAttempts)); werr != nil {
				return outcomeNotApplicable, werr
			}
			return outcomeRetryNow, nil
		}
		// Retry budget exhausted: surface the last response but don't cache
		// it. A 5xx is presumed transient, and the sidecar has no TTL, so
		// writing one here would pin the origin's bad day in place forever.
		return outcomeNotApplicable, errors.Errorf("cget: %s: %d %s", state.addr.URL, resp.StatusCode, message)
	}

	headers := resp.Header.Clone()
	if r.cache != nil && state.opts.AllowCacheWrite {
		_ = r.cache.StoreError(state.bodyPath(), state.addr.URL, resp.StatusCode, message, headers)
	}
	return outcomeNotApplicable, &CachedError{Status: resp.StatusCode, Message: message, Headers: headers}
}

func (r *RemoteFetch) handleSuccess(state *FetchState, resp *http.Response) (strategyOutcome, error) {
	if state.isResumed() {
		go pump(state, resp.Body)
		return outcomeStreaming, nil
	}

	headers := resp.Header.Clone()
	// Start the producer before handing the result to onStream: onStream
	// runs synchronously and a caller that drains res.Stream inline would
	// otherwise block forever on an unbuffered pipe with no writer yet.
	go r.pumpAndCache(state, resp)
	state.emitStream(state.newResult(state.addr.URL, resp.StatusCode, headers, false))
	return outcomeStreaming, nil
}

// pumpAndCache copies resp.Body into the shared buffer and, when cache
// writes are enabled, simultaneously captures the bytes to persist them
// through FileSystemCache once the transfer completes successfully.
func (r *RemoteFetch) pumpAndCache(state *FetchState, resp *http.Response) {
	defer resp.Body.Close()

	if r.cache == nil || !state.opts.AllowCacheWrite {
		n, err := io.Copy(state.buffer, resp.Body)
		metrics.BytesTransferred.Add(float64(n))
		if err != nil {
			state.buffer.CloseWithError(err)
			return
		}
		state.buffer.Close()
		return
	}

	var captured bytes.Buffer
	n, err := io.Copy(state.buffer, io.TeeReader(resp.Body, &captured))
	metrics.BytesTransferred.Add(float64(n))
	if err != nil {
		state.buffer.CloseWithError(err)
		return
	}

	// Persist to the mirror before signaling EOF to the caller, so that by
	// the time a consumer's read loop sees the stream end, a subsequent
	// fetch of the same address is already guaranteed a cache hit.
	_ = r.cache.Store(state.bodyPath(), state.addr.URL, resp.StatusCode, resp.Header, captured.Bytes())
	r.materializeRedirectHistory(state)

	state.buffer.Close()
}

// materializeRedirectHistory writes a redirect-only sidecar entry for
// every hop this fetch passed through, each pointing straight at the
// final resolved URL. A later cache-only fetch of any of those earlier
// addresses then resolves in one jump instead of replaying the chain.
func (r *RemoteFetch) materializeRedirectHistory(state *FetchState) {
	if r.cache == nil || !state.opts.AllowCacheWrite {
		return
	}
	finalURL := state.addr.URL
	for _, hop := range state.addr.History {
		if hop.Path == state.addr.Path {
			continue
		}
		hopBody := hop.Path
		if hop.DirKey {
			hopBody = filepath.Join(hop.Path, state.opts.IndexName)
		}
		status := hop.Status
		if status < 300 || status > 308 {
			status = http.StatusFound
		}
		_ = r.cache.StoreRedirect(hopBody, finalURL, status)
	}
}

package cget

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
)

// LocalFetch serves file:// addresses directly off disk, bypassing the
// cache mirror entirely. A non-local address falls through to the next
// strategy in the chain; a local address with AllowLocal unset gets an
// AccessDeniedError.
type LocalFetch struct{}

func (LocalFetch) Fetch(ctx context.Context, state *FetchState) (strategyOutcome, error) {
	if !state.addr.IsLocal() {
		return outcomeNotApplicable, nil
	}
	if !state.opts.AllowLocal {
		return outcomeNotApplicable, &AccessDeniedError{Status: 403, Reason: "local access is disabled"}
	}

	path := state.addr.Path
	info, err := os.Stat(path)
	if err != nil {
		// Surface the underlying errno (ENOENT, EACCES, ...) rather than
		// synthesizing an HTTP-style status: a file:// target has no HTTP
		// response to classify, and pkg/errors.Wrapf keeps the *os.PathError
		// (and its wrapped syscall.Errno) reachable through errors.As.
		return outcomeNotApplicable, errors.Wrapf(err, "cget: stat %s", path)
	}

	if info.IsDir() {
		indexPath := filepath.Join(path, state.opts.IndexName)
		indexInfo, err := os.Stat(indexPath)
		if err != nil {
			return outcomeNotApplicable, &CachedError{Status: 404, Message: "local directory has no index"}
		}
		path, info = indexPath, indexInfo
	}

	f, err := os.Open(path)
	if err != nil {
		return outcomeNotApplicable, errors.Wrapf(err, "cget: opening %s", path)
	}

	if state.isResumed() {
		go pump(state, f)
		return outcomeStreaming, nil
	}

	headers := http.Header{}
	headers.Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	// Start the producer before handing the result to onStream: onStream
	// runs synchronously and a caller that drains res.Stream inline would
	// otherwise block forever on an unbuffered pipe with no writer yet.
	go pump(state, f)
	state.emitStream(state.newResult(path, 200, headers, true))
	return outcomeStreaming, nil
}

package cget

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
)

// CachedError represents a durable HTTP failure: either a live server
// response carrying a non-2xx, cacheable status, or a previously cached
// sidecar recording one. It is terminal for the fetch that encounters it —
// unlike a strategy simply declining to run, a CachedError always stops the
// pipeline (spec: "authoritative").
type CachedError struct {
	Status  int
	Message string
	Headers http.Header
}

func (e *CachedError) Error() string {
	return fmt.Sprintf("cget: cached error %d: %s", e.Status, e.Message)
}

// AccessDeniedError is returned when a FetchState's access policy forbids a
// strategy that would otherwise apply (e.g. AllowLocal=false for a file://
// address, or AllowRemote=false for an http(s) address).
type AccessDeniedError struct {
	Status int
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("cget: access denied (%d): %s", e.Status, e.Reason)
}

// isTransientNetworkError matches the fixed errno-style class spec.md §4.5
// considers safe to retry: EAI_AGAIN, ECONNREFUSED, ECONNRESET,
// EHOSTUNREACH, ENOTFOUND, EPIPE, ESOCKETTIMEDOUT, ETIMEDOUT. Go doesn't
// surface errno strings on net errors the way Node does, so this is
// reimplemented against net.Error/net.DNSError/syscall.Errno rather than a
// string comparison; the set of conditions it matches is the same one named
// in the spec.
func isTransientNetworkError(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		// ENOTFOUND / EAI_AGAIN class: lookup failed or timed out.
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		// ETIMEDOUT / ESOCKETTIMEDOUT class.
		return true
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EHOSTUNREACH, syscall.EPIPE:
			return true
		}
	}

	return false
}

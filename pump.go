package cget

import (
	"io"

	"github.com/charto/cget/metrics"
)

// pump copies r into state.buffer until EOF or error, then closes both.
// When the fetch has already streamed some bytes (a resumed strategy after
// a retry), it first discards that many bytes from r so the caller sees
// one continuous byte sequence rather than a repeat of already-delivered
// data.
func pump(state *FetchState, r io.ReadCloser) {
	defer r.Close()

	if skip := state.buffer.Len(); skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			state.buffer.CloseWithError(err)
			return
		}
	}

	n, err := io.Copy(state.buffer, r)
	metrics.BytesTransferred.Add(float64(n))
	if err != nil {
		state.buffer.CloseWithError(err)
		return
	}
	state.buffer.Close()
}

package cget

import (
	"io"
	"sync"

	"go.uber.org/atomic"
)

// BufferStream is a pass-through byte stream: writes are forwarded
// unchanged to a reader, and the cumulative number of bytes forwarded is
// tracked in Len. It is created once per fetch and preserved, by identity,
// across every retry: a caller holds one Reader for the whole fetch, and
// CacheResult.Retry reopens the stream's internal pipe in place rather
// than handing the caller a new Reader, so a resumed strategy can keep
// writing into the exact same object the caller is already reading from.
type BufferStream struct {
	mu  sync.Mutex
	pr  *io.PipeReader
	pw  *io.PipeWriter
	len atomic.Int64
}

// NewBufferStream creates an empty BufferStream.
func NewBufferStream() *BufferStream {
	b := &BufferStream{}
	b.pr, b.pw = io.Pipe()
	return b
}

func (b *BufferStream) ends() (*io.PipeReader, *io.PipeWriter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pr, b.pw
}

// Write forwards p to the reader side and advances Len by the number of
// bytes actually written. It blocks until the reader catches up, which is
// the pipe's natural backpressure on a producer faster than its consumer.
func (b *BufferStream) Write(p []byte) (int, error) {
	_, pw := b.ends()
	n, err := pw.Write(p)
	b.len.Add(int64(n))
	return n, err
}

// Read implements io.Reader for the caller-facing side of the stream.
func (b *BufferStream) Read(p []byte) (int, error) {
	pr, _ := b.ends()
	return pr.Read(p)
}

// CloseWithError terminates the current pipe, delivering err to the next
// (or already blocked) Read call.
func (b *BufferStream) CloseWithError(err error) error {
	_, pw := b.ends()
	return pw.CloseWithError(err)
}

// Close terminates the current pipe cleanly (callers see io.EOF).
func (b *BufferStream) Close() error {
	_, pw := b.ends()
	return pw.Close()
}

// Len reports the cumulative number of bytes forwarded so far, across any
// number of reopenings.
func (b *BufferStream) Len() int64 {
	return b.len.Load()
}

// reopen replaces the underlying pipe with a fresh one while leaving Len
// untouched, so a strategy retried after a mid-stream error can resume
// writing through the same BufferStream the caller is already reading
// from. An io.Pipe cannot be unclosed, which is why this swaps the pair
// instead of trying to reset the old one.
func (b *BufferStream) reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pr, b.pw = io.Pipe()
}

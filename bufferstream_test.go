package cget

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferStreamPassesBytesThrough(t *testing.T) {
	b := NewBufferStream()
	go func() {
		_, _ = b.Write([]byte("hello"))
		_ = b.Close()
	}()
	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.EqualValues(t, 5, b.Len())
}

func TestBufferStreamReopenPreservesLenAndContinuesReading(t *testing.T) {
	b := NewBufferStream()
	boom := errors.New("boom")

	go func() {
		_, _ = b.Write([]byte("part1"))
		_ = b.CloseWithError(boom)
	}()

	buf := make([]byte, 5)
	n, err := io.ReadFull(b, buf)
	require.NoError(t, err)
	assert.Equal(t, "part1", string(buf[:n]))

	_, err = b.Read(make([]byte, 1))
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 5, b.Len())

	b.reopen()
	go func() {
		_, _ = b.Write([]byte("part2"))
		_ = b.Close()
	}()

	rest, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, "part2", string(rest))
	assert.EqualValues(t, 10, b.Len())
}

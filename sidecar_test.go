package cget

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "thing.bin")

	headers := http.Header{"Content-Type": {"application/octet-stream"}}
	require.NoError(t, writeSidecar(path, &sidecar{Status: 200, Headers: headers}))

	sc, err := readSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, 200, sc.Status)
	assert.Equal(t, "application/octet-stream", sc.Headers.Get("Content-Type"))
	assert.NotZero(t, sc.Stamp)
}

func TestSidecarIsFlatOnDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flat.bin")

	headers := http.Header{"Content-Type": {"text/plain"}}
	require.NoError(t, writeSidecar(path, &sidecar{Status: 200, Headers: headers}))

	raw, err := os.ReadFile(sidecarPath(path))
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))

	assert.Contains(t, m, "cget-stamp")
	assert.Contains(t, m, "cget-status")
	assert.Contains(t, m, "Content-Type")
	_, nested := m["headers"]
	assert.False(t, nested, "headers must not be nested under a \"headers\" key")

	stampNum, ok := m["cget-stamp"].(float64)
	require.True(t, ok, "cget-stamp must be a plain number, not a string timestamp")
	assert.Greater(t, stampNum, float64(0))
}

func TestSidecarMissingReturnsNotExist(t *testing.T) {
	dir := t.TempDir()
	_, err := readSidecar(filepath.Join(dir, "absent.bin"))
	require.Error(t, err)
	assert.True(t, os.IsNotExist(err), "expected a not-exist error, got %v", err)
}

func TestSidecarRedirectTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hop.bin")
	require.NoError(t, writeSidecar(path, &sidecar{Status: 200, Target: "https://example.com/final"}))

	sc, err := readSidecar(path)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/final", sc.Target)
}

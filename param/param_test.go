package param

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	require.NoError(t, Reset())
	assert.Equal(t, "info", Logging_Level.GetString())
	assert.Equal(t, 2, Cache_Concurrency.GetInt())
	assert.Equal(t, 0, Cache_RetryCount.GetInt())
	assert.Equal(t, time.Second, Cache_RetryDelay.GetDuration())
	assert.Equal(t, 2.0, Cache_RetryBackoffFactor.GetFloat64())
	assert.Equal(t, 20, Cache_RedirectCount.GetInt())
	assert.False(t, Cache_AllowLocal.GetBool())
	assert.True(t, Cache_AllowRemote.GetBool())
}

func TestSetFiresRegisteredCallback(t *testing.T) {
	require.NoError(t, Reset())
	t.Cleanup(func() { Reset() })

	fired := false
	RegisterCallback(Logging_Level.Name, func() { fired = true })

	require.NoError(t, Set(Logging_Level.Name, "debug"))
	assert.True(t, fired)
	assert.Equal(t, "debug", Logging_Level.GetString())
}

func TestReadConfigFileOverridesDefaultsAndFiresCallbacks(t *testing.T) {
	require.NoError(t, Reset())
	t.Cleanup(func() { Reset() })

	path := filepath.Join(t.TempDir(), "cget.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  concurrency: 8\nlogging:\n  level: warn\n"), 0644))

	fired := false
	RegisterCallback(Cache_Concurrency.Name, func() { fired = true })

	require.NoError(t, ReadConfigFile(path))
	assert.Equal(t, 8, Cache_Concurrency.GetInt())
	assert.Equal(t, "warn", Logging_Level.GetString())
	assert.True(t, fired)
}

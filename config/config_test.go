package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charto/cget/param"
)

func TestInitWithNoConfigFileStillStartsLogging(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Cleanup(func() { param.Reset() })

	require.NoError(t, Init(""))
}

func TestInitReadsConfigFileWhenPresent(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Cleanup(func() { param.Reset() })

	path := filepath.Join(t.TempDir(), "cget.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  dir: /tmp/example-cache\n"), 0644))

	require.NoError(t, Init(path))
	assert.Equal(t, "/tmp/example-cache", param.Cache_Dir.GetString())
}

func TestInitIgnoresMissingConfigFile(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Cleanup(func() { param.Reset() })

	require.NoError(t, Init(filepath.Join(t.TempDir(), "does-not-exist.yaml")))
}

func TestDefaultCacheDirFallsBackToUserCacheDir(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Cleanup(func() { param.Reset() })

	dir, err := DefaultCacheDir()
	require.NoError(t, err)
	assert.Contains(t, dir, "cget")
}

func TestDefaultCacheDirHonorsParam(t *testing.T) {
	require.NoError(t, param.Reset())
	t.Cleanup(func() { param.Reset() })

	require.NoError(t, param.Set(param.Cache_Dir.Name, "/custom/cache"))
	dir, err := DefaultCacheDir()
	require.NoError(t, err)
	assert.Equal(t, "/custom/cache", dir)
}

package config

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/charto/cget/param"
)

// Init loads configFile (if non-empty and present) and starts logging.
// It is the single entry point cmd's root command calls before dispatching
// to any subcommand.
func Init(configFile string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil {
			if err := param.ReadConfigFile(configFile); err != nil {
				return errors.Wrapf(err, "reading config file %s", configFile)
			}
		} else if !os.IsNotExist(err) {
			return errors.Wrapf(err, "checking config file %s", configFile)
		}
	}
	return InitLogging()
}

// DefaultCacheDir returns param.Cache_Dir if set, else a per-user cache
// directory under os.UserCacheDir, mirroring how the fetch mirror would be
// located with no explicit --cache-dir flag.
func DefaultCacheDir() (string, error) {
	if dir := param.Cache_Dir.GetString(); dir != "" {
		return dir, nil
	}
	base, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "determining default cache directory")
	}
	return filepath.Join(base, "cget"), nil
}

/***************************************************************
 *
 * Copyright (C) 2024, Pelican Project, Morgridge Institute for Research
 *
 * Licensed under the Apache License, Version 2.0 (the "License"); you
 * may not use this file except in compliance with the License.  You may
 * obtain a copy of the License at
 *
 *    http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 ***************************************************************/

// cget's command-line interface: fetch, serve, ls, stat, and reindex,
// built on cobra and backed by the root cget package's Cache.
package main

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charto/cget/config"
)

var (
	cfgFile  string
	cacheDir string

	rootCmd = &cobra.Command{
		Use:   "cget",
		Short: "Fetch and mirror URLs through a content-addressable cache",
		Long: `cget fetches a URL exactly once per target and mirrors the
result onto a plain directory tree, serving every later fetch of the
same address from disk instead of the network.`,
	}
)

// Execute runs the cget CLI; main calls this directly.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.config/cget/cget.yaml)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "directory cget mirrors fetches onto (default $XDG_CACHE_HOME/cget)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(reindexCmd)
}

func initConfig() {
	path := cfgFile
	if path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, ".config", "cget", "cget.yaml")
		}
	}
	if err := config.Init(path); err != nil {
		log.Fatalln("failed to initialize configuration:", err)
	}
	if debug, _ := rootCmd.PersistentFlags().GetBool("debug"); debug {
		log.SetLevel(log.DebugLevel)
	}
}

// resolveCacheDir returns the --cache-dir flag value, falling back to
// config.DefaultCacheDir.
func resolveCacheDir() (string, error) {
	if cacheDir != "" {
		return cacheDir, nil
	}
	return config.DefaultCacheDir()
}

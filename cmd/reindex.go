package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charto/cget/catalog"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the cache catalog by walking the mirror's sidecar files",
	RunE:  runReindex,
}

func runReindex(_ *cobra.Command, _ []string) error {
	idx, dir, err := openCatalog()
	if err != nil {
		return err
	}
	defer idx.Close()

	count, err := catalog.Rebuild(dir, idx)
	if err != nil {
		return err
	}
	log.Infof("reindexed %d cache entries from %s", count, dir)
	return nil
}

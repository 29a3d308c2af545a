package main

import (
	"fmt"
	"path/filepath"

	"github.com/alecthomas/units"
	"github.com/spf13/cobra"

	"github.com/charto/cget/catalog"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List everything recorded in the cache catalog",
	RunE:  runLs,
}

func openCatalog() (*catalog.Index, string, error) {
	dir, err := resolveCacheDir()
	if err != nil {
		return nil, "", err
	}
	idx, err := catalog.Open(filepath.Join(dir, catalog.DefaultFileName))
	return idx, dir, err
}

func runLs(_ *cobra.Command, _ []string) error {
	idx, _, err := openCatalog()
	if err != nil {
		return err
	}
	defer idx.Close()

	records, err := idx.List()
	if err != nil {
		return err
	}
	for _, rec := range records {
		fmt.Printf("%-6d %8s  %s\n", rec.Status, units.MetricBytes(rec.BytesStored), rec.CacheKey)
	}
	return nil
}

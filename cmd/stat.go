package main

import (
	"fmt"
	"path/filepath"

	"github.com/alecthomas/units"
	"github.com/spf13/cobra"

	"github.com/charto/cget"
	"github.com/charto/cget/address"
)

var statCmd = &cobra.Command{
	Use:   "stat <uri>",
	Short: "Show the catalog entry for a single address, if cached",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

func runStat(_ *cobra.Command, args []string) error {
	idx, _, err := openCatalog()
	if err != nil {
		return err
	}
	defer idx.Close()

	addr := address.Parse(args[0])
	key := addr.Path
	if addr.DirKey {
		key = filepath.Join(key, cget.DefaultOptions().IndexName)
	}
	rec, err := idx.Get(filepath.ToSlash(key))
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("%s: not cached\n", args[0])
		return nil
	}
	fmt.Printf("cache key:     %s\n", rec.CacheKey)
	fmt.Printf("status:        %d\n", rec.Status)
	fmt.Printf("size:          %s\n", units.MetricBytes(rec.BytesStored))
	fmt.Printf("stored at:     %s\n", rec.StoredAt.Format("2006-01-02T15:04:05Z07:00"))
	return nil
}

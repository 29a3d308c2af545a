package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/alecthomas/units"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/charto/cget"
	"github.com/charto/cget/param"
)

var (
	outputPath    string
	retryCount    int
	redirectLimit int
	concurrency   int
	quiet         bool

	fetchCmd = &cobra.Command{
		Use:   "fetch <uri>...",
		Short: "Fetch one or more URLs through the cache, mirroring results to disk",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}
)

func init() {
	fetchCmd.Flags().StringVarP(&outputPath, "output", "o", "", "write the first URI's body here instead of just the cache mirror (use - for stdout)")
	fetchCmd.Flags().IntVar(&retryCount, "retries", param.Cache_RetryCount.GetInt(), "number of times to retry a transient failure")
	fetchCmd.Flags().IntVar(&redirectLimit, "max-redirects", param.Cache_RedirectCount.GetInt(), "maximum number of redirects to follow")
	fetchCmd.Flags().IntVar(&concurrency, "concurrency", param.Cache_Concurrency.GetInt(), "maximum number of fetches in flight at once")
	fetchCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress progress bars")
}

func runFetch(_ *cobra.Command, uris []string) error {
	dir, err := resolveCacheDir()
	if err != nil {
		return err
	}

	c := cget.NewCache(dir,
		cget.WithRetry(retryCount, time.Second, 2),
		cget.WithRedirectCount(redirectLimit),
		cget.WithConcurrency(concurrency),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var bars *progressBars
	if !quiet && term.IsTerminal(int(os.Stdout.Fd())) {
		bars = newProgressBars()
		bars.launchDisplay(ctx)
		defer bars.shutdown()
	}

	var wg sync.WaitGroup
	errs := make([]error, len(uris))

	for i, uri := range uris {
		wg.Add(1)
		go func(i int, uri string) {
			defer wg.Done()
			errs[i] = fetchOne(ctx, c, uri, i == 0, bars)
		}(i, uri)
	}
	wg.Wait()

	var firstErr error
	for i, err := range errs {
		if err != nil {
			log.Errorf("fetch of %s failed: %v", uris[i], err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func fetchOne(ctx context.Context, c *cget.Cache, uri string, isPrimary bool, bars *progressBars) error {
	done := make(chan error, 1)
	var totalXfer int64

	c.Fetch(ctx, uri, func(res *cget.CacheResult) {
		defer close(done)

		total := int64(-1)
		if cl := res.Headers.Get("Content-Length"); cl != "" {
			fmt.Sscanf(cl, "%d", &total)
		}

		var out io.Writer = io.Discard
		if isPrimary && outputPath != "" {
			if outputPath == "-" {
				out = os.Stdout
			} else {
				f, err := os.Create(outputPath)
				if err != nil {
					done <- errors.Wrapf(err, "creating %s", outputPath)
					return
				}
				defer f.Close()
				out = f
			}
		}

		var xfer int64
		buf := make([]byte, 32*1024)
		for {
			n, rerr := res.Stream.Read(buf)
			if n > 0 {
				xfer += int64(n)
				totalXfer = xfer
				if _, werr := out.Write(buf[:n]); werr != nil {
					done <- werr
					return
				}
				if bars != nil {
					bars.callback(uri, xfer, total, false)
				}
			}
			if rerr == io.EOF {
				if bars != nil {
					bars.callback(uri, xfer, total, true)
				}
				done <- nil
				return
			}
			if rerr != nil {
				done <- rerr
				return
			}
		}
	}, func(err error) {
		done <- err
	})

	err := <-done
	if err == nil {
		log.Debugf("fetched %s into %s (%s)", uri, c.Root(), units.MetricBytes(totalXfer))
	}
	return err
}

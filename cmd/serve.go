package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/run"
	pkgerrors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/charto/cget"
	"github.com/charto/cget/config"
	"github.com/charto/cget/metrics"
	"github.com/charto/cget/param"
)

var (
	servePort int

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the cache mirror over HTTP, fetching on demand",
		RunE:  runServe,
	}
)

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", param.Server_Port.GetInt(), "port to listen on")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if runtime.GOOS == "linux" && servePort < 1024 {
		ok, err := config.HasNetBindServiceCap()
		if err != nil {
			log.Warnln("could not determine capabilities:", err)
		} else if !ok {
			return pkgerrors.Errorf("binding port %d requires CAP_NET_BIND_SERVICE; run as root or grant the capability", servePort)
		}
	}

	dir, err := resolveCacheDir()
	if err != nil {
		return err
	}
	c := cget.NewCache(dir, cget.WithAllowRemote(true), cget.WithAllowCacheWrite(true))

	engine := gin.New()
	engine.Use(gin.Recovery())
	metrics.Configure(engine)
	engine.GET("/*uri", ginFetchHandler(c))

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", servePort),
		Handler: engine,
	}

	var g run.Group
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return pkgerrors.Wrapf(err, "listening on %s", srv.Addr)
	}
	g.Add(func() error {
		log.Infof("cget serve listening on %s", srv.Addr)
		return srv.Serve(ln)
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {
		cancel()
	})

	return g.Run()
}

func ginFetchHandler(c *cget.Cache) gin.HandlerFunc {
	return func(gctx *gin.Context) {
		uri := gctx.Param("uri")
		done := make(chan struct{})

		c.Fetch(gctx.Request.Context(), strings.TrimPrefix(uri, "/"), func(res *cget.CacheResult) {
			defer close(done)
			for key, values := range res.Headers {
				for _, v := range values {
					gctx.Writer.Header().Add(key, v)
				}
			}
			gctx.Writer.Header().Set("X-Cget-Status", fmt.Sprintf("%d", res.Status))
			if res.Cached {
				gctx.Writer.Header().Set("X-Cget-Cache", "HIT")
			} else {
				gctx.Writer.Header().Set("X-Cget-Cache", "MISS")
			}
			gctx.Writer.WriteHeader(res.Status)
			_, _ = io.Copy(gctx.Writer, res.Stream)
		}, func(err error) {
			defer close(done)
			var cacheErr *cget.CachedError
			if errors.As(err, &cacheErr) {
				gctx.String(cacheErr.Status, cacheErr.Message)
				return
			}
			var deniedErr *cget.AccessDeniedError
			if errors.As(err, &deniedErr) {
				gctx.String(deniedErr.Status, deniedErr.Reason)
				return
			}
			gctx.String(http.StatusBadGateway, err.Error())
		})

		<-done
	}
}

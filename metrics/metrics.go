// Package metrics exposes cget's fetch pipeline as Prometheus
// instrumentation: outcome counters, in-flight gauges, and a bytes-
// transferred counter, plus wiring to expose them over cget serve's gin
// engine.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	ginprometheus "github.com/zsais/go-gin-prometheus"
)

var (
	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cget_fetches_total",
		Help: "Total number of fetches dispatched, labeled by how they settled",
	}, []string{"outcome"})

	BytesTransferred = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cget_bytes_transferred_total",
		Help: "Total number of body bytes streamed to callers across all fetches",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cget_cache_hits_total",
		Help: "Total number of fetches served directly from the filesystem mirror",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cget_cache_misses_total",
		Help: "Total number of remote requests issued, counting each redirect hop and retry separately",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cget_fetches_in_flight",
		Help: "Number of fetches currently holding a concurrency slot",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cget_fetch_queue_depth",
		Help: "Number of fetches waiting for a free concurrency slot",
	})
)

const (
	OutcomeStreamed = "streamed"
	OutcomeCached   = "cached_error"
	OutcomeFailed   = "failed"
)

// Configure attaches the default gin-prometheus middleware (request
// latency/count) to engine and exposes it alongside cget's own counters
// above, all under engine's registered /metrics route.
func Configure(engine *gin.Engine) {
	monitor := ginprometheus.NewPrometheus("cget")
	monitor.Use(engine)
}

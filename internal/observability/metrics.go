// Package observability exports Prometheus metrics for the image cache and tool calls.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"figmamcp/internal/imagecache"
)

var (
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "figmamcp_image_cache_hits_total",
		Help: "Reads served from materialized bytes",
	})

	cacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "figmamcp_image_cache_misses_total",
		Help: "Reads that required a download",
	})

	downloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "figmamcp_image_downloads_total",
		Help: "Export downloads by result",
	}, []string{"result"})

	downloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "figmamcp_image_download_bytes_total",
		Help: "Bytes downloaded from export URLs",
	})

	registeredExports = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "figmamcp_image_cache_entries",
		Help: "Exports currently registered in the image cache",
	})

	toolCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "figmamcp_tool_calls_total",
		Help: "Tool invocations by tool and result",
	}, []string{"tool", "result"})
)

// CacheHooks feeds image cache events into the package metrics.
type CacheHooks struct{}

var _ imagecache.Hooks = CacheHooks{}

func (CacheHooks) CacheHit(imagecache.Key) {
	cacheHits.Inc()
}

func (CacheHooks) CacheMiss(imagecache.Key) {
	cacheMisses.Inc()
}

func (CacheHooks) Download(_ imagecache.Key, size int, err error) {
	if err != nil {
		downloads.WithLabelValues("error").Inc()
		return
	}
	downloads.WithLabelValues("success").Inc()
	downloadBytes.Add(float64(size))
}

func (CacheHooks) Entries(n int) {
	registeredExports.Set(float64(n))
}

// ToolCall records one tool invocation.
func ToolCall(tool string, failed bool) {
	result := "success"
	if failed {
		result = "error"
	}
	toolCalls.WithLabelValues(tool, result).Inc()
}

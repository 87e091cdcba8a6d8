package symbolizer

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	statusSuccess = "success"

	statusErrorPrefix = "error:"

	statusErrorNotFound    = statusErrorPrefix + "not_found"
	statusErrorClientError = statusErrorPrefix + "client_error"
	statusErrorServerError = statusErrorPrefix + "server_error"
	statusErrorHTTPOther   = statusErrorPrefix + "http_other"
	statusErrorCanceled    = statusErrorPrefix + "canceled"
	statusErrorOther       = statusErrorPrefix + "other"

	cacheMiss    = "miss"
	cacheCorrupt = "corrupt"
)

type metrics struct {
	registerer prometheus.Registerer

	// Symbol-server fetch metrics
	fetchRequestDuration *prometheus.HistogramVec
	symbolFileSize       prometheus.Histogram

	// Local cache metrics
	cacheOperations *prometheus.CounterVec

	// Per-frame resolution metrics
	frameResolutions *prometheus.CounterVec

	// Lines the parser skipped as unsupported record kinds
	skippedSymbolLines prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		registerer: reg,
		fetchRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symbolicate_fetch_request_duration_seconds",
			Help:    "Time spent fetching symbol files from symbol servers by status",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		symbolFileSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "symbolicate_symbol_file_size_bytes",
			Help: "Size of symbol files fetched from symbol servers",
			// 64KB to 4GB
			Buckets: prometheus.ExponentialBuckets(64*1024, 4, 9),
		}),
		cacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbolicate_cache_operations_total",
			Help: "Total number of symbol cache operations by operation and status",
		}, []string{"operation", "status"}),
		frameResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbolicate_frame_resolutions_total",
			Help: "Total number of stack frames processed by outcome",
		}, []string{"outcome"}),
		skippedSymbolLines: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symbolicate_skipped_symbol_lines_total",
			Help: "Total number of symbol file lines skipped as unsupported record kinds",
		}),
	}

	if reg != nil {
		m.register()
	}

	return m
}

func (m *metrics) register() {
	collectors := []prometheus.Collector{
		m.fetchRequestDuration,
		m.symbolFileSize,
		m.cacheOperations,
		m.frameResolutions,
		m.skippedSymbolLines,
	}
	for _, collector := range collectors {
		m.registerer.MustRegister(collector)
	}
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringstream",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "ringstream",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
	}, []string{"method", "path"})

	ActiveFilters = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ringstream",
		Name:      "active_filters",
		Help:      "Number of currently open ring-buffer filters.",
	})

	BufferOccupancyBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ringstream",
		Name:      "buffer_occupancy_bytes",
		Help:      "Current buffer_size across active filters, summed.",
	})

	CacheWindowSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ringstream",
		Name:      "cache_window_size_bytes",
		Help:      "Current cache_size across active filters, summed.",
	})

	SeekClassificationTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringstream",
		Name:      "seek_classification_total",
		Help:      "Total seeks by classification (short, middle, long).",
	}, []string{"class"})

	ShortReadsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ringstream",
		Name:      "short_reads_total",
		Help:      "Total reads that returned fewer bytes than requested due to end of stream.",
	})

	PrefetchStallsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ringstream",
		Name:      "prefetch_stalls_total",
		Help:      "Total times the Prefetcher blocked waiting for buffer room to free up.",
	})

	SourceErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ringstream",
		Name:      "source_errors_total",
		Help:      "Total terminal source errors by source type.",
	}, []string{"source"})

	SeekLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ringstream",
		Name:      "seek_latency_seconds",
		Help:      "Latency from Seek() to the Prefetcher resolving it.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	PrefetchReadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "ringstream",
		Name:      "prefetch_read_duration_seconds",
		Help:      "Duration of a single Prefetcher source.Read call.",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveFilters,
		BufferOccupancyBytes,
		CacheWindowSizeBytes,
		SeekClassificationTotal,
		ShortReadsTotal,
		PrefetchStallsTotal,
		SourceErrorsTotal,
		SeekLatency,
		PrefetchReadDuration,
	)
}

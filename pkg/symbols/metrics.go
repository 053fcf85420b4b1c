package symbols

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/grafana/profile-symbolicator/pkg/util"
)

const (
	statusSuccess  = "success"
	statusNotFound = "not_found"
	statusError    = "error"
)

type metrics struct {
	cacheOperations *prometheus.CounterVec
	cacheEvictions  prometheus.Counter
	fetchDuration   *prometheus.HistogramVec
	fileSize        prometheus.Histogram

	downloadDuration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		cacheOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbolicator_symbol_file_cache_operations_total",
			Help: "Total number of symbol file cache operations by operation and status",
		}, []string{"operation", "status"}),
		cacheEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symbolicator_symbol_file_cache_evictions_total",
			Help: "Total number of parsed symbol files evicted from the cache",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symbolicator_symbol_file_fetch_duration_seconds",
			Help:    "Time spent fetching and parsing symbol files by status",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"status"}),
		fileSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "symbolicator_symbol_file_size_bytes",
			Help: "Size of symbol file objects as stored",
			// 16KB to 1GB
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 9),
		}),
		downloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symbolicator_symbol_server_download_duration_seconds",
			Help:    "Time spent downloading symbol files from the symbol server, retries included",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"status"}),
	}
	m.cacheOperations = util.RegisterOrGet(reg, m.cacheOperations)
	m.cacheEvictions = util.RegisterOrGet(reg, m.cacheEvictions)
	m.fetchDuration = util.RegisterOrGet(reg, m.fetchDuration)
	m.fileSize = util.RegisterOrGet(reg, m.fileSize)
	m.downloadDuration = util.RegisterOrGet(reg, m.downloadDuration)
	return m
}

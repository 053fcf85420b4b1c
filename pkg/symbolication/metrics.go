package symbolication

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
	libraryLookups        *prometheus.CounterVec
	libraryLookupDuration *prometheus.HistogramVec
	steps                 prometheus.Counter
	profileSymbolication  *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		libraryLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symbolicator_library_lookups_total",
			Help: "Total number of library symbol lookups by status",
		}, []string{"status"}),
		libraryLookupDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symbolicator_library_lookup_duration_seconds",
			Help:    "Time spent looking up the symbols of one library",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"status"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "symbolicator_steps_total",
			Help: "Total number of per thread library symbolication steps produced",
		}),
		profileSymbolication: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symbolicator_profile_symbolication_duration_seconds",
			Help:    "Time spent symbolicating a whole profile by status",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
	}
	m.register(reg)
	return m
}

func (m *metrics) register(reg prometheus.Registerer) {
	m.libraryLookups = util.RegisterOrGet(reg, m.libraryLookups)
	m.libraryLookupDuration = util.RegisterOrGet(reg, m.libraryLookupDuration)
	m.steps = util.RegisterOrGet(reg, m.steps)
	m.profileSymbolication = util.RegisterOrGet(reg, m.profileSymbolication)
}

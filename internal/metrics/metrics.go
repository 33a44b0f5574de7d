package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics instruments the balance cache. It implements balance.Metrics.
type CacheMetrics struct {
	lookups       *prometheus.CounterVec
	rowsWritten   prometheus.Counter
	duplicates    prometheus.Counter
	rowsPurged    prometheus.Counter
	sweepDuration prometheus.Histogram
}

var (
	cacheMetricsOnce sync.Once
	cacheMetrics     *CacheMetrics
)

// Cache returns the process-wide metrics registered on the default registerer.
func Cache() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheMetrics = NewCacheMetrics(prometheus.DefaultRegisterer)
	})
	return cacheMetrics
}

func NewCacheMetrics(registerer prometheus.Registerer) *CacheMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &CacheMetrics{
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_cache_lookups_total",
				Help: "Balance rows served by source.",
			},
			[]string{"source"}, // cache | live
		),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "balance_cache_rows_written_total",
			Help: "Cache rows inserted by the writer.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "balance_cache_duplicates_absorbed_total",
			Help: "Inserts that lost a race on the unique key and were absorbed.",
		}),
		rowsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "balance_cache_rows_purged_total",
			Help: "Cache rows deleted by invalidation, reopen or manual deletion.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "balance_cache_sweep_duration_seconds",
			Help:    "Duration of periodic sweeps.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	registerer.MustRegister(m.lookups, m.rowsWritten, m.duplicates, m.rowsPurged, m.sweepDuration)
	return m
}

func (m *CacheMetrics) CacheHits(n int) {
	m.lookups.WithLabelValues("cache").Add(float64(n))
}

func (m *CacheMetrics) LiveComputed(n int) {
	m.lookups.WithLabelValues("live").Add(float64(n))
}

func (m *CacheMetrics) RowsWritten(n int) {
	m.rowsWritten.Add(float64(n))
}

func (m *CacheMetrics) DuplicatesAbsorbed(n int) {
	m.duplicates.Add(float64(n))
}

func (m *CacheMetrics) RowsPurged(n int64) {
	m.rowsPurged.Add(float64(n))
}

func (m *CacheMetrics) SweepDuration(d time.Duration) {
	m.sweepDuration.Observe(d.Seconds())
}

// Package telemetry holds the default Logger and Metrics collaborators the
// Decision Engine and Incremental Maintainer consume through narrow
// interfaces (spec.md §9 design note). Grounded on the teacher's own
// prometheus idiom (internal/ai/patrol_metrics.go: a struct of CounterVecs
// built once behind sync.Once, under one Namespace/Subsystem).
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the narrow counters interface engine.Engine and
// maintainer.Maintainer report through.
type Metrics interface {
	CacheHit()
	CacheMiss(kind string)
	RebuildStarted()
	RebuildCompleted(seconds float64, appCount int)
	RebuildFailed()
	EdgeCount(kind string, n int)
}

// PromMetrics is the prometheus-backed default implementation.
type PromMetrics struct {
	cacheHits      prometheus.Counter
	cacheMisses    *prometheus.CounterVec
	rebuildsStart  prometheus.Counter
	rebuildsOK     prometheus.Counter
	rebuildsFailed prometheus.Counter
	rebuildSeconds prometheus.Histogram
	rebuildApps    prometheus.Gauge
	edgeCounts     *prometheus.GaugeVec
}

var (
	promOnce     sync.Once
	promInstance *PromMetrics
)

// GetPromMetrics returns the process-wide PromMetrics singleton, registering
// its collectors with reg on first call.
func GetPromMetrics(reg prometheus.Registerer) *PromMetrics {
	promOnce.Do(func() {
		promInstance = newPromMetrics(reg)
	})
	return promInstance
}

func newPromMetrics(reg prometheus.Registerer) *PromMetrics {
	const ns = "pkgvisibility"
	const sub = "engine"

	m := &PromMetrics{
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "cache_hits_total",
			Help: "Decision Cache lookups resolved without falling back to uncached evaluation.",
		}),
		cacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "cache_misses_total",
			Help: "Decision Cache lookups that missed, by miss kind (row, entry).",
		}, []string{"kind"}),
		rebuildsStart: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rebuilds_started_total",
			Help: "Full Decision Cache rebuilds started.",
		}),
		rebuildsOK: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rebuilds_completed_total",
			Help: "Full Decision Cache rebuilds that published successfully.",
		}),
		rebuildsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rebuilds_failed_total",
			Help: "Full Decision Cache rebuilds abandoned because the snapshot went stale twice.",
		}),
		rebuildSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: sub,
			Name:    "rebuild_duration_seconds",
			Help:    "Wall time spent building a fresh Decision Cache table.",
			Buckets: prometheus.DefBuckets,
		}),
		rebuildApps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "rebuild_app_count",
			Help: "Number of distinct AppIds covered by the most recent rebuild.",
		}),
		edgeCounts: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: sub,
			Name: "relation_edges",
			Help: "Current edge count in the Relation Store, by relation kind.",
		}, []string{"kind"}),
	}

	if reg != nil {
		reg.MustRegister(m.cacheHits, m.cacheMisses, m.rebuildsStart, m.rebuildsOK,
			m.rebuildsFailed, m.rebuildSeconds, m.rebuildApps, m.edgeCounts)
	}
	return m
}

func (m *PromMetrics) CacheHit()              { m.cacheHits.Inc() }
func (m *PromMetrics) CacheMiss(kind string)  { m.cacheMisses.WithLabelValues(kind).Inc() }
func (m *PromMetrics) RebuildStarted()        { m.rebuildsStart.Inc() }
func (m *PromMetrics) RebuildFailed()         { m.rebuildsFailed.Inc() }

func (m *PromMetrics) RebuildCompleted(seconds float64, appCount int) {
	m.rebuildsOK.Inc()
	m.rebuildSeconds.Observe(seconds)
	m.rebuildApps.Set(float64(appCount))
}

func (m *PromMetrics) EdgeCount(kind string, n int) {
	m.edgeCounts.WithLabelValues(kind).Set(float64(n))
}

// NoopMetrics discards everything; useful for tests and for callers that
// don't want a prometheus registry.
type NoopMetrics struct{}

func (NoopMetrics) CacheHit()                            {}
func (NoopMetrics) CacheMiss(string)                      {}
func (NoopMetrics) RebuildStarted()                       {}
func (NoopMetrics) RebuildCompleted(float64, int)         {}
func (NoopMetrics) RebuildFailed()                        {}
func (NoopMetrics) EdgeCount(string, int)                 {}

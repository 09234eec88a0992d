package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics holds the service's Prometheus counters, lazily registered on
// first use so importing this package never side-effects the default
// registry (useful for tests that construct a Manager without a metrics
// endpoint).
type metrics struct {
	once sync.Once

	queryTotal          prometheus.Counter
	queryDurationMS     prometheus.Histogram
	reindexTotal        prometheus.Counter
	expandTotal         prometheus.Counter
	evidencePackTotal   prometheus.Counter
	queryCacheHitTotal  prometheus.Counter
	queryCacheMissTotal prometheus.Counter
}

var m metrics

func (m *metrics) init() {
	m.once.Do(func() {
		m.queryTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canopy_query_total", Help: "Total queries served.",
		})
		m.queryDurationMS = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name: "canopy_query_duration_ms", Help: "Query latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		})
		m.reindexTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canopy_reindex_total", Help: "Total reindex operations completed.",
		})
		m.expandTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canopy_expand_total", Help: "Total expand operations served.",
		})
		m.evidencePackTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canopy_evidence_pack_total", Help: "Total evidence packs built.",
		})
		m.queryCacheHitTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canopy_query_cache_hits_total", Help: "Query result cache hits.",
		})
		m.queryCacheMissTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "canopy_query_cache_misses_total", Help: "Query result cache misses.",
		})
		prometheus.MustRegister(
			m.queryTotal, m.queryDurationMS, m.reindexTotal, m.expandTotal,
			m.evidencePackTotal, m.queryCacheHitTotal, m.queryCacheMissTotal,
		)
	})
}

func recordQuery(durationMS float64, cacheHit bool) {
	m.init()
	m.queryTotal.Inc()
	m.queryDurationMS.Observe(durationMS)
	if cacheHit {
		m.queryCacheHitTotal.Inc()
	} else {
		m.queryCacheMissTotal.Inc()
	}
}

func recordReindex() {
	m.init()
	m.reindexTotal.Inc()
}

func recordExpand() {
	m.init()
	m.expandTotal.Inc()
}

func recordEvidencePack() {
	m.init()
	m.evidencePackTotal.Inc()
}

package swr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// storeMetrics holds the Prometheus collectors for a Store and the
// queries and mutations attached to it. A nil *storeMetrics is valid
// and records nothing.
type storeMetrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	sets      prometheus.Counter
	evictions prometheus.Counter
	entries   prometheus.Gauge
	fetches   *prometheus.CounterVec
	mutations *prometheus.CounterVec
}

// newStoreMetrics registers collectors with the configured registerer.
func newStoreMetrics(cfg storeConfig) *storeMetrics {
	factory := promauto.With(cfg.registry)

	return &storeMetrics{
		hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_hits_total",
			Help:      "Number of Get calls that found an entry.",
		}),
		misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_misses_total",
			Help:      "Number of Get calls that found no entry.",
		}),
		sets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_sets_total",
			Help:      "Number of entry replacements applied to the store.",
		}),
		evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "store_evictions_total",
			Help:      "Number of entries evicted after the inactivity window.",
		}),
		entries: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.namespace,
			Name:      "store_entries",
			Help:      "Number of entries currently held by the store.",
		}),
		fetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "query_fetches_total",
			Help:      "Number of query fetches by result.",
		}, []string{"result"}),
		mutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "mutations_total",
			Help:      "Number of mutation submissions by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *storeMetrics) recordGet(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.hits.Inc()
	} else {
		m.misses.Inc()
	}
}

func (m *storeMetrics) recordSet() {
	if m == nil {
		return
	}
	m.sets.Inc()
}

func (m *storeMetrics) recordEvictions(n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.Add(float64(n))
}

func (m *storeMetrics) setEntries(n int) {
	if m == nil {
		return
	}
	m.entries.Set(float64(n))
}

func (m *storeMetrics) recordFetch(result string) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(result).Inc()
}

func (m *storeMetrics) recordMutation(outcome string) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(outcome).Inc()
}

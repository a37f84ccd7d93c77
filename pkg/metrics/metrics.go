// Package metrics groups the Prometheus instruments exported by the
// memory subsystem. The library only registers collectors; exposing them
// over HTTP is the embedding application's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups all Prometheus instruments used by the memory subsystem.
type Metrics struct {
	Evictions            prometheus.Counter
	EvictPersistRetries  prometheus.Counter
	EvictPersistFailures prometheus.Counter
	EvictQueueDrops      prometheus.Counter
	LTMWrites            prometheus.Counter
	LTMDedupHits         prometheus.Counter
	IndexErrors          *prometheus.CounterVec
	RerankFallbacks      prometheus.Counter
	RetrieveDegraded     prometheus.Counter
	RetrieveDuration     prometheus.Histogram
}

// New creates the instrument set registered against reg. A nil reg uses
// the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Evictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "stm_evictions_total",
			Help:      "Turns evicted from short-term memory.",
		}),
		EvictPersistRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "evict_persist_retries_total",
			Help:      "Retry attempts while persisting evicted turns.",
		}),
		EvictPersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "evict_persist_failures_total",
			Help:      "Evicted turns that could not be persisted after all retries.",
		}),
		EvictQueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "evict_queue_drops_total",
			Help:      "Evicted turns dropped because the persist queue was full.",
		}),
		LTMWrites: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "ltm_writes_total",
			Help:      "Records written to long-term memory.",
		}),
		LTMDedupHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "ltm_dedup_hits_total",
			Help:      "Writes short-circuited by content-hash deduplication.",
		}),
		IndexErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "index_errors_total",
			Help:      "Vector index errors by operation.",
		}, []string{"op"}),
		RerankFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "rerank_fallbacks_total",
			Help:      "Retrievals that fell back to raw similarity order.",
		}),
		RetrieveDegraded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragmem",
			Name:      "retrieve_degraded_total",
			Help:      "Retrievals served from short-term memory only.",
		}),
		RetrieveDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ragmem",
			Name:      "retrieve_duration_seconds",
			Help:      "End-to-end latency of memory retrieval.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Nop creates an instrument set on a private registry, for callers that do
// not care about metrics (tests, throwaway clients).
func Nop() *Metrics {
	return New(prometheus.NewRegistry())
}

// Package metrics provides Prometheus metrics for the document processor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	DocumentsProcessed  prometheus.Counter
	ExtractionsFailed   prometheus.Counter
	CodesResolved       *prometheus.CounterVec
	LookupDuration      prometheus.Histogram
	CacheHits           prometheus.Counter
	CacheMisses         prometheus.Counter
	BundlesBuilt        prometheus.Counter
	ValidationFailures  prometheus.Counter
	QuestionsAnswered   prometheus.Counter
	KafkaEventsProduced prometheus.Counter
	KafkaEventsConsumed prometheus.Counter
	CircuitBreakerState *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		DocumentsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "documents_processed_total",
			Help: "Total clinical documents processed",
		}),
		ExtractionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extractions_failed_total",
			Help: "Total extraction failures",
		}),
		CodesResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "terminology_codes_resolved_total",
			Help: "Total codes resolved by coding system",
		}, []string{"system"}),
		LookupDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "terminology_lookup_duration_seconds",
			Help:    "Terminology service lookup duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extraction_cache_hits_total",
			Help: "Total extraction cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extraction_cache_misses_total",
			Help: "Total extraction cache misses",
		}),
		BundlesBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fhir_bundles_built_total",
			Help: "Total FHIR bundles built",
		}),
		ValidationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fhir_validation_failures_total",
			Help: "Total FHIR bundle validation failures",
		}),
		QuestionsAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rag_questions_answered_total",
			Help: "Total questions answered against the document index",
		}),
		KafkaEventsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_events_produced_total",
			Help: "Total Kafka events produced",
		}),
		KafkaEventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_events_consumed_total",
			Help: "Total Kafka events consumed",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.DocumentsProcessed,
		m.ExtractionsFailed,
		m.CodesResolved,
		m.LookupDuration,
		m.CacheHits,
		m.CacheMisses,
		m.BundlesBuilt,
		m.ValidationFailures,
		m.QuestionsAnswered,
		m.KafkaEventsProduced,
		m.KafkaEventsConsumed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

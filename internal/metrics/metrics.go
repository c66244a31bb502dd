// Package metrics registers the Prometheus metrics owned by the
// personalization engine. A nil *Metrics is valid and records nothing, so
// components and tests can run without a registry.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "brandrag"

// Embedding call outcomes.
const (
	OutcomeOK          = "ok"
	OutcomeFallback    = "fallback"
	OutcomeBreakerOpen = "breaker_open"
	OutcomeEmpty       = "empty"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	// embeddingCalls counts embedding requests by provider and outcome.
	embeddingCalls *prometheus.CounterVec

	// embeddingCost accumulates the estimated embedding spend in USD.
	embeddingCost prometheus.Counter

	// rateLimitDenials counts admission denials by path: "write",
	// "retrieve" or "feedback".
	rateLimitDenials *prometheus.CounterVec

	// retrievalDuration records end-to-end retrieveRelevantContext latency.
	retrievalDuration prometheus.Histogram

	// retrievalMatches records how many ranked matches fed each bundle.
	retrievalMatches prometheus.Histogram

	// storeFailures counts absorbed document-store failures by operation.
	storeFailures *prometheus.CounterVec

	// feedbackTotal counts accepted feedback submissions.
	feedbackTotal *prometheus.CounterVec

	// cleanupDeleted counts vectors evicted by the cleanup scheduler.
	cleanupDeleted prometheus.Counter
}

// New registers all engine metrics against reg. promauto.With(reg) keeps
// unit tests hermetic when each test passes a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		embeddingCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Embedding requests, partitioned by provider and outcome.",
		}, []string{"provider", "outcome"}),

		embeddingCost: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "estimated_cost_usd_total",
			Help:      "Estimated embedding spend in USD from the configured cost per 1K tokens.",
		}),

		rateLimitDenials: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denials_total",
			Help:      "Admission denials, partitioned by path.",
		}, []string{"path"}),

		retrievalDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "duration_seconds",
			Help:      "Latency of context retrieval from admission to assembled bundle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		retrievalMatches: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "retrieval",
			Name:      "matches",
			Help:      "Number of ranked matches used to assemble each context bundle.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		}),

		storeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "failures_total",
			Help:      "Document-store failures absorbed by the engine, partitioned by operation.",
		}, []string{"op"}),

		feedbackTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feedback",
			Name:      "submissions_total",
			Help:      "Accepted feedback submissions, partitioned by whether the content was RAG-enhanced.",
		}, []string{"rag_enhanced"}),

		cleanupDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleanup",
			Name:      "deleted_total",
			Help:      "Vectors deleted by the cleanup scheduler.",
		}),
	}
}

// EmbeddingCall records one embedding request.
func (m *Metrics) EmbeddingCall(provider, outcome string) {
	if m == nil {
		return
	}
	m.embeddingCalls.WithLabelValues(provider, outcome).Inc()
}

// EmbeddingCost adds usd to the estimated spend.
func (m *Metrics) EmbeddingCost(usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.embeddingCost.Add(usd)
}

// RateLimitDenied records a denial on path.
func (m *Metrics) RateLimitDenied(path string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(path).Inc()
}

// Retrieval records one completed retrieval.
func (m *Metrics) Retrieval(d time.Duration, matches int) {
	if m == nil {
		return
	}
	m.retrievalDuration.Observe(d.Seconds())
	m.retrievalMatches.Observe(float64(matches))
}

// StoreFailure records an absorbed store failure.
func (m *Metrics) StoreFailure(op string) {
	if m == nil {
		return
	}
	m.storeFailures.WithLabelValues(op).Inc()
}

// Feedback records an accepted feedback submission.
func (m *Metrics) Feedback(ragEnhanced bool) {
	if m == nil {
		return
	}
	m.feedbackTotal.WithLabelValues(strconv.FormatBool(ragEnhanced)).Inc()
}

// CleanupDeleted adds n evicted vectors.
func (m *Metrics) CleanupDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cleanupDeleted.Add(float64(n))
}

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func Test_Metrics_NilIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.EmbeddingCall("openai", OutcomeOK)
	m.EmbeddingCost(1)
	m.RateLimitDenied("write")
	m.Retrieval(time.Second, 3)
	m.StoreFailure("scan")
	m.Feedback(true)
	m.CleanupDeleted(2)
}

// counterValue sums every sample of the named counter family in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func Test_Metrics_Records(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.EmbeddingCall("openai", OutcomeFallback)
	m.EmbeddingCall("openai", OutcomeFallback)
	m.RateLimitDenied("feedback")
	m.CleanupDeleted(5)
	m.CleanupDeleted(0)
	m.EmbeddingCost(-1)

	tests := map[string]float64{
		"brandrag_embedding_calls_total":             2,
		"brandrag_ratelimit_denials_total":           1,
		"brandrag_cleanup_deleted_total":             5,
		"brandrag_embedding_estimated_cost_usd_total": 0,
	}
	for name, want := range tests {
		if got := counterValue(t, reg, name); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}
}

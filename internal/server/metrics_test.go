package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counter returns the value of the series of name whose labels include want,
// and whether such a series exists.
func counter(t *testing.T, reg prometheus.Gatherer, name string, want map[string]string) (float64, bool) {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
	series:
		for _, m := range fam.GetMetric() {
			got := make(map[string]string, len(m.GetLabel()))
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if got[k] != v {
					continue series
				}
			}
			return m.GetCounter().GetValue(), true
		}
	}
	return 0, false
}

func withRegistry(t *testing.T, cfg *Config) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	cfg.MetricsRegistry = reg
	cfg.MetricsGatherer = reg
	return newTestServerWith(t, newTestDeps(), cfg), reg
}

func Test_Metrics_ExpositionServed(t *testing.T) {
	t.Parallel()
	s, _ := withRegistry(t, &Config{})

	w := do(t, s, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content-type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "brandrag_http_in_flight_requests") {
		t.Error("server collectors missing from exposition")
	}
}

func Test_Metrics_NotMountedWithoutGatherer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	if w := do(t, s, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func Test_Metrics_RequestCounterUsesRoutePattern(t *testing.T) {
	t.Parallel()
	s, reg := withRegistry(t, &Config{})

	do(t, s, http.MethodPut, "/api/vectors/u1/post_1", `{"metadata":{}}`)
	do(t, s, http.MethodPut, "/api/vectors/u2/post_2", `{"metadata":{}}`)

	got, ok := counter(t, reg, "brandrag_http_requests_total", map[string]string{
		labelHandler: "/api/vectors/{userID}/{contentID}",
		"code":       "202",
	})
	if !ok {
		t.Fatal("no series for the upsert route pattern")
	}
	if got != 2 {
		t.Errorf("requests = %v, want 2", got)
	}
	if _, leaked := counter(t, reg, "brandrag_http_requests_total", map[string]string{
		labelHandler: "/api/vectors/u1/post_1",
	}); leaked {
		t.Error("raw path used as handler label")
	}
}

func Test_Metrics_ThrottledRequestsCounted(t *testing.T) {
	t.Parallel()
	s, reg := withRegistry(t, &Config{RateLimit: 0.001, RateBurst: 1})

	for range 3 {
		do(t, s, http.MethodPost, "/api/context", `{"userId":"u1","query":"q"}`)
	}

	got, ok := counter(t, reg, "brandrag_http_throttled_total", nil)
	if !ok {
		t.Fatal("brandrag_http_throttled_total not registered")
	}
	if got != 2 {
		t.Errorf("throttled = %v, want 2", got)
	}
}

package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/brandrag/internal/logging"
)

// probeTimeout bounds each dependency probe of a readiness check.
const probeTimeout = 5 * time.Second

// Readiness states reported by GET /api/ready.
const (
	statusReady       = "ready"
	statusDegraded    = "degraded"
	statusUnavailable = "unavailable"
)

// Pinger is implemented by any dependency that can report its own
// reachability. Implementations must be safe for concurrent use.
type Pinger interface {
	Ping(ctx context.Context) error
	// Name labels the dependency in readiness responses (e.g. "sqlite").
	Name() string
}

// Optional is implemented by pingers whose failure degrades the engine
// instead of breaking it. The embedding adapter is one: while its breaker is
// open, writes store zero vectors and retrieval returns empty context.
type Optional interface {
	Optional() bool
}

type readyCheck struct {
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Optional  bool   `json:"optional,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	Error     string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready. Ready is false
// only when a required dependency fails.
type readyResponse struct {
	Ready  bool         `json:"ready"`
	Status string       `json:"status"`
	Checks []readyCheck `json:"checks"`
}

// handleReady handles GET /api/ready. All pingers are probed concurrently;
// checks are reported in registration order.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var wg sync.WaitGroup
	for i, p := range s.pingers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			checks[i] = probe(r.Context(), p)
		}()
	}
	wg.Wait()

	resp := readyResponse{Ready: true, Status: statusReady, Checks: checks}
	for _, c := range checks {
		if c.OK {
			continue
		}
		log.Warn("readiness probe failed",
			slog.String("dependency", c.Name),
			slog.Bool("optional", c.Optional),
			slog.String("error", c.Error),
		)
		if c.Optional {
			if resp.Ready {
				resp.Status = statusDegraded
			}
			continue
		}
		resp.Ready = false
		resp.Status = statusUnavailable
	}

	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

func probe(ctx context.Context, p Pinger) readyCheck {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	start := time.Now()
	err := p.Ping(ctx)
	c := readyCheck{Name: p.Name(), OK: err == nil, LatencyMS: time.Since(start).Milliseconds()}
	if o, ok := p.(Optional); ok {
		c.Optional = o.Optional()
	}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

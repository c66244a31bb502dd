package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/brandrag/internal/assemble"
	"github.com/54b3r/brandrag/internal/cleanup"
	"github.com/54b3r/brandrag/internal/engine"
	"github.com/54b3r/brandrag/internal/feedback"
	"github.com/54b3r/brandrag/internal/vector"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on protected
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is a comma-separated list of tokens accepted on protected
	// routes, as "Authorization: Bearer" or X-API-Key. If empty,
	// authentication is disabled (development mode).
	APIKey string
	// MaxPromptTokens bounds enriched prompts returned by POST /api/context
	// (0 = budget.DefaultMaxPromptTokens).
	MaxPromptTokens int
	// MetricsRegistry receives the HTTP metrics. If nil, a private registry
	// is created so tests stay hermetic.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. If nil, the metrics route is not
	// mounted.
	MetricsGatherer prometheus.Gatherer
}

// Retriever builds retrieval context. *engine.Engine satisfies it.
type Retriever interface {
	RetrieveWithMatches(ctx context.Context, query string, opts engine.RetrieveOptions) (assemble.Bundle, []vector.Scored)
}

// Writer stores content vectors. *engine.Engine satisfies it.
type Writer interface {
	Insert(ctx context.Context, in engine.InsertInput) error
	UpsertByContentID(ctx context.Context, in engine.UpsertInput) error
}

// FeedbackService records and reports user feedback. *feedback.Tracker
// satisfies it.
type FeedbackService interface {
	Submit(ctx context.Context, userID, contentID string, contentType vector.ContentType, fb feedback.Feedback, rag *feedback.RAGContext) error
	Metrics(ctx context.Context, userID string) (feedback.Metrics, error)
	TopPatterns(ctx context.Context, userID string, minUses, limit int) ([]feedback.PatternStat, error)
}

// Cleaner runs retention sweeps. *cleanup.Scheduler satisfies it.
type Cleaner interface {
	Cleanup(ctx context.Context, userID string, retentionOverride int) (int, error)
	CleanupAll(ctx context.Context) (cleanup.Summary, error)
}

// Deps are the domain services the HTTP handlers call.
type Deps struct {
	Retriever Retriever
	Writer    Writer
	Feedback  FeedbackService
	Cleaner   Cleaner
}

// Server is the HTTP server that exposes the personalization engine.
type Server struct {
	// deps are the domain services behind the handlers.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the HTTP-level Prometheus metrics.
	metrics *serverMetrics
	// apiKeys is the parsed form of Config.APIKey.
	apiKeys [][]byte
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// contextRequest is the JSON body for POST /api/context.
type contextRequest struct {
	// Query is the generation request the context is retrieved for.
	Query string `json:"query"`
	engine.RetrieveOptions
	// IncludeMatches returns the ranked records alongside the bundle.
	IncludeMatches bool `json:"includeMatches,omitempty"`
	// Enrich renders the bundle into chat messages for a generation model.
	Enrich bool `json:"enrich,omitempty"`
}

// contextResponse is the JSON body returned by POST /api/context.
type contextResponse struct {
	Context assemble.Bundle `json:"context"`
	Matches []vector.Scored `json:"matches,omitempty"`
	Prompt  *promptView     `json:"prompt,omitempty"`
}

// promptView is the wire form of an enriched prompt.
type promptView struct {
	Messages []promptMessage `json:"messages"`
	Tokens   int             `json:"tokens"`
	Dropped  []string        `json:"dropped,omitempty"`
}

type promptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// upsertRequest is the JSON body for PUT /api/vectors/{userID}/{contentID}.
type upsertRequest struct {
	Text        string               `json:"text,omitempty"`
	Metadata    vector.MetadataPatch `json:"metadata"`
	ContentType vector.ContentType   `json:"contentType,omitempty"`
}

// feedbackRequest is the JSON body for POST /api/feedback.
type feedbackRequest struct {
	UserID      string             `json:"userId"`
	ContentID   string             `json:"contentId"`
	ContentType vector.ContentType `json:"contentType"`
	feedback.Feedback
	// RAGContext is omitted for content generated without retrieval.
	RAGContext *feedback.RAGContext `json:"ragContext,omitempty"`
}

// feedbackSummary is the JSON body returned by GET /api/feedback/{userID}.
type feedbackSummary struct {
	Metrics     feedback.Metrics       `json:"metrics"`
	TopPatterns []feedback.PatternStat `json:"topPatterns"`
}

// cleanupRequest is the JSON body for POST /api/cleanup. An empty UserID
// sweeps every user.
type cleanupRequest struct {
	UserID        string `json:"userId,omitempty"`
	RetentionDays int    `json:"retentionDays,omitempty"`
}

// errorResponse is the JSON body of every non-2xx API response.
type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/assemble"
	"github.com/54b3r/brandrag/internal/cleanup"
	"github.com/54b3r/brandrag/internal/engine"
	"github.com/54b3r/brandrag/internal/feedback"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/vector"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeRetriever struct {
	mu   sync.Mutex
	got  engine.RetrieveOptions
	text string
}

func (f *fakeRetriever) RetrieveWithMatches(_ context.Context, query string, opts engine.RetrieveOptions) (assemble.Bundle, []vector.Scored) {
	f.mu.Lock()
	f.got = opts
	f.mu.Unlock()
	b := assemble.Bundle{BrandPatterns: "Organic skincare for sensitive skin"}
	matches := []vector.Scored{{
		Record:     vector.Record{ContentID: "brand_u1", ContentType: vector.BrandProfile, TextContent: f.text, Embedding: []float32{1, 0}},
		Similarity: 0.93,
	}}
	return b, matches
}

type fakeWriter struct {
	mu      sync.Mutex
	err     error
	inserts []engine.InsertInput
	upserts []engine.UpsertInput
}

func (f *fakeWriter) Insert(_ context.Context, in engine.InsertInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.inserts = append(f.inserts, in)
	return nil
}

func (f *fakeWriter) UpsertByContentID(_ context.Context, in engine.UpsertInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.upserts = append(f.upserts, in)
	return nil
}

type fakeFeedback struct {
	mu       sync.Mutex
	err      error
	rag      *feedback.RAGContext
	rating   int
	minUses  int
	limit    int
	metricsV feedback.Metrics
}

func (f *fakeFeedback) Submit(_ context.Context, userID, _ string, _ vector.ContentType, fb feedback.Feedback, rag *feedback.RAGContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.rating, f.rag = fb.Rating, rag
	return nil
}

func (f *fakeFeedback) Metrics(context.Context, string) (feedback.Metrics, error) {
	return f.metricsV, nil
}

func (f *fakeFeedback) TopPatterns(_ context.Context, _ string, minUses, limit int) ([]feedback.PatternStat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.minUses, f.limit = minUses, limit
	return []feedback.PatternStat{{Pattern: "bold", TotalCount: 4, SuccessCount: 3}}, nil
}

type fakeCleaner struct {
	mu        sync.Mutex
	user      string
	retention int
	all       bool
}

func (f *fakeCleaner) Cleanup(_ context.Context, userID string, retention int) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user, f.retention = userID, retention
	return 2, nil
}

func (f *fakeCleaner) CleanupAll(context.Context) (cleanup.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.all = true
	return cleanup.Summary{TotalCleaned: 5, UsersProcessed: 3}, nil
}

// testDeps bundles the fakes so tests can inspect them after a request.
type testDeps struct {
	retriever *fakeRetriever
	writer    *fakeWriter
	feedback  *fakeFeedback
	cleaner   *fakeCleaner
}

func newTestDeps() *testDeps {
	return &testDeps{
		retriever: &fakeRetriever{text: "Organic skincare for sensitive skin"},
		writer:    &fakeWriter{},
		feedback:  &fakeFeedback{},
		cleaner:   &fakeCleaner{},
	}
}

func (d *testDeps) deps() Deps {
	return Deps{Retriever: d.retriever, Writer: d.writer, Feedback: d.feedback, Cleaner: d.cleaner}
}

// newTestServerWith builds a Server over d with a generous per-IP limit so
// only the tests that exercise rate limiting hit it.
func newTestServerWith(t *testing.T, d *testDeps, cfg *Config) *Server {
	t.Helper()
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.Logger = logging.Discard()
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1000
		cfg.RateBurst = 1000
	}
	s, err := New(d.deps(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return newTestServerWith(t, newTestDeps(), nil)
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "127.0.0.1:4000"
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew_RequiresDeps(t *testing.T) {
	t.Parallel()

	if _, err := New(Deps{}, nil); err == nil {
		t.Fatal("expected error for empty deps")
	}
}

// ---------------------------------------------------------------------------
// POST /api/context
// ---------------------------------------------------------------------------

func TestHandleContext_ReturnsBundle(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPost, "/api/context",
		`{"query":"caption for our serum","userId":"u1","contentType":"social_media","platform":"instagram","limit":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp contextResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Context.BrandPatterns == "" {
		t.Error("expected brand patterns in context")
	}
	if len(resp.Matches) != 0 || resp.Prompt != nil {
		t.Error("matches and prompt must be opt-in")
	}
	if d.retriever.got.UserID != "u1" || d.retriever.got.Platform != "instagram" || d.retriever.got.Limit != 5 {
		t.Errorf("options not forwarded: %+v", d.retriever.got)
	}
}

func TestHandleContext_MatchesAndPrompt(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)
	w := do(t, s, http.MethodPost, "/api/context",
		`{"query":"caption","userId":"u1","includeMatches":true,"enrich":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "embedding") {
		t.Error("embeddings must never be serialized")
	}

	var resp contextResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Matches) != 1 || resp.Matches[0].ContentID != "brand_u1" {
		t.Errorf("unexpected matches: %+v", resp.Matches)
	}
	if resp.Prompt == nil || len(resp.Prompt.Messages) != 3 {
		t.Fatalf("expected system, brand section and user messages, got %+v", resp.Prompt)
	}
	if resp.Prompt.Messages[2].Role != "user" || resp.Prompt.Messages[2].Content != "caption" {
		t.Errorf("last message should be the query: %+v", resp.Prompt.Messages[2])
	}
}

func TestHandleContext_Validation(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	if w := do(t, s, http.MethodPost, "/api/context", `{"query":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing userId: expected 400, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/context", `{not json`); w.Code != http.StatusBadRequest {
		t.Errorf("bad json: expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// /api/vectors
// ---------------------------------------------------------------------------

func TestHandleInsert_Accepted(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPost, "/api/vectors",
		`{"userId":"u1","contentType":"brand_profile","contentId":"brand_u1","text":"Organic skincare","metadata":{"style":"minimal"}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(d.writer.inserts) != 1 {
		t.Fatalf("expected 1 insert, got %d", len(d.writer.inserts))
	}
	in := d.writer.inserts[0]
	if in.ContentType != vector.BrandProfile || in.Metadata.Style == nil || *in.Metadata.Style != "minimal" {
		t.Errorf("insert not decoded: %+v", in)
	}
}

func TestHandleInsert_RateLimited(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	d.writer.err = &apperr.RateLimitError{Scope: apperr.ScopeEmbedding, Window: "hour", Current: 50, Limit: 50}
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPost, "/api/vectors", `{"userId":"u1","contentType":"social_media","contentId":"p1","text":"hi"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}

	var resp errorResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Error != d.writer.err.Error() {
		t.Errorf("rate limit message must be verbatim, got %q", resp.Error)
	}
	if resp.Code != string(apperr.CodeRateLimitExceeded) {
		t.Errorf("code: got %q", resp.Code)
	}
}

func TestHandleInsert_InvalidAndInternal(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	d.writer.err = apperr.New(apperr.CodeInvalidInput, "unknown content type")
	s := newTestServerWith(t, d, nil)
	if w := do(t, s, http.MethodPost, "/api/vectors", `{"userId":"u1"}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}

	d2 := newTestDeps()
	d2.writer.err = errors.New("disk on fire")
	s2 := newTestServerWith(t, d2, nil)
	w := do(t, s2, http.MethodPost, "/api/vectors", `{"userId":"u1"}`)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Error("internal error details must not leak")
	}
}

func TestHandleUpsert_UsesPathParams(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPut, "/api/vectors/u1/post_9", `{"metadata":{"performance":0.8}}`)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(d.writer.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(d.writer.upserts))
	}
	up := d.writer.upserts[0]
	if up.UserID != "u1" || up.ContentID != "post_9" || up.Text != "" {
		t.Errorf("unexpected upsert: %+v", up)
	}
	if up.Metadata.Performance == nil || *up.Metadata.Performance != 0.8 {
		t.Errorf("performance not forwarded: %+v", up.Metadata)
	}
}

// ---------------------------------------------------------------------------
// /api/feedback
// ---------------------------------------------------------------------------

func TestHandleFeedback_Recorded(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPost, "/api/feedback",
		`{"userId":"u1","contentId":"c1","contentType":"social_media","rating":5,"wasHelpful":true,"ragContext":{"patterns":["bold"]}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if d.feedback.rating != 5 || d.feedback.rag == nil || d.feedback.rag.Patterns[0] != "bold" {
		t.Errorf("feedback not forwarded: rating=%d rag=%+v", d.feedback.rating, d.feedback.rag)
	}

	w = do(t, s, http.MethodPost, "/api/feedback", `{"userId":"u1","contentId":"c2","rating":3}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if d.feedback.rag != nil {
		t.Error("missing ragContext must reach the tracker as nil")
	}
}

func TestHandleFeedback_RateLimited(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	d.feedback.err = &apperr.RateLimitError{Scope: apperr.ScopeFeedback, Window: "hour", Current: 100, Limit: 100}
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPost, "/api/feedback", `{"userId":"u1","contentId":"c1","rating":4}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestHandleFeedbackSummary(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	d.feedback.metricsV = feedback.Metrics{TotalFeedback: 7}
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodGet, "/api/feedback/u1?minUses=1&limit=3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp feedbackSummary
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Metrics.TotalFeedback != 7 || len(resp.TopPatterns) != 1 {
		t.Errorf("unexpected summary: %+v", resp)
	}
	if d.feedback.minUses != 1 || d.feedback.limit != 3 {
		t.Errorf("query params not forwarded: minUses=%d limit=%d", d.feedback.minUses, d.feedback.limit)
	}

	if w := do(t, s, http.MethodGet, "/api/feedback/u1?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// POST /api/cleanup
// ---------------------------------------------------------------------------

func TestHandleCleanup(t *testing.T) {
	t.Parallel()

	d := newTestDeps()
	s := newTestServerWith(t, d, nil)

	w := do(t, s, http.MethodPost, "/api/cleanup", "")
	if w.Code != http.StatusOK {
		t.Fatalf("sweep: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum cleanup.Summary
	if err := json.NewDecoder(w.Body).Decode(&sum); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !d.cleaner.all || sum.TotalCleaned != 5 || sum.UsersProcessed != 3 {
		t.Errorf("unexpected sweep result: %+v", sum)
	}

	w = do(t, s, http.MethodPost, "/api/cleanup", `{"userId":"u1","retentionDays":30}`)
	if w.Code != http.StatusOK {
		t.Fatalf("user: expected 200, got %d", w.Code)
	}
	if d.cleaner.user != "u1" || d.cleaner.retention != 30 {
		t.Errorf("cleanup args: user=%q retention=%d", d.cleaner.user, d.cleaner.retention)
	}

	if w := do(t, s, http.MethodPost, "/api/cleanup", `{"userId":"u1","retentionDays":-1}`); w.Code != http.StatusBadRequest {
		t.Errorf("negative retention: expected 400, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Router wiring
// ---------------------------------------------------------------------------

func TestRoutes_AuthProtectsAPIButNotProbes(t *testing.T) {
	t.Parallel()

	s := newTestServerWith(t, newTestDeps(), &Config{APIKey: "secret"})

	if w := do(t, s, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: expected 200 without token, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/context", `{"userId":"u1"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("context: expected 401 without token, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/context", strings.NewReader(`{"userId":"u1"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("context: expected 200 with token, got %d", w.Code)
	}
}

func TestRoutes_RequestIDEchoed(t *testing.T) {
	t.Parallel()

	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if got := w.Header().Get(requestIDHeader); got != "abc-123" {
		t.Errorf("expected caller request id echoed, got %q", got)
	}

	w = do(t, s, http.MethodGet, "/api/health", "")
	if w.Header().Get(requestIDHeader) == "" {
		t.Error("expected generated request id")
	}
}

func TestRoutes_PerIPRateLimit(t *testing.T) {
	t.Parallel()

	s := newTestServerWith(t, newTestDeps(), &Config{RateLimit: 0.001, RateBurst: 1})

	if w := do(t, s, http.MethodPost, "/api/context", `{"userId":"u1"}`); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	if w := do(t, s, http.MethodPost, "/api/context", `{"userId":"u1"}`); w.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", w.Code)
	}
	if w := do(t, s, http.MethodGet, "/api/health", ""); w.Code != http.StatusOK {
		t.Errorf("health must not be rate limited, got %d", w.Code)
	}
}

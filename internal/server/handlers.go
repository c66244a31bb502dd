package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/engine"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/prompt"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Feedback summary defaults for GET /api/feedback/{userID}.
const (
	defaultMinUses     = 3
	defaultTopPatterns = 10
)

// handleContext handles POST /api/context. Retrieval never fails from the
// caller's point of view: rate limits and backend errors yield an empty
// context with 200.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, r, apperr.New(apperr.CodeInvalidInput, "userId is required"))
		return
	}

	bundle, matches := s.deps.Retriever.RetrieveWithMatches(r.Context(), req.Query, req.RetrieveOptions)

	resp := contextResponse{Context: bundle}
	if req.IncludeMatches {
		resp.Matches = matches
	}
	if req.Enrich {
		p := prompt.Enrich(req.Query, bundle, s.cfg.MaxPromptTokens, logging.FromContext(r.Context()))
		view := &promptView{Tokens: p.Tokens, Dropped: p.Dropped}
		for _, m := range p.Messages {
			view.Messages = append(view.Messages, promptMessage{Role: string(m.Role), Content: m.Content})
		}
		resp.Prompt = view
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// handleInsert handles POST /api/vectors.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var in engine.InsertInput
	if !decode(w, r, &in) {
		return
	}
	if err := s.deps.Writer.Insert(r.Context(), in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleUpsert handles PUT /api/vectors/{userID}/{contentID}. A body without
// text updates metadata only and is never rate limited.
func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if !decode(w, r, &req) {
		return
	}
	in := engine.UpsertInput{
		UserID:      chi.URLParam(r, "userID"),
		ContentID:   chi.URLParam(r, "contentID"),
		Text:        req.Text,
		Metadata:    req.Metadata,
		ContentType: req.ContentType,
	}
	if err := s.deps.Writer.UpsertByContentID(r.Context(), in); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// handleFeedback handles POST /api/feedback.
func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decode(w, r, &req) {
		return
	}
	err := s.deps.Feedback.Submit(r.Context(), req.UserID, req.ContentID, req.ContentType, req.Feedback, req.RAGContext)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, map[string]string{"status": "recorded"})
}

// handleFeedbackSummary handles GET /api/feedback/{userID}. The optional
// minUses and limit query parameters tune the pattern ranking.
func (s *Server) handleFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	minUses, err := queryInt(r, "minUses", defaultMinUses)
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit", defaultTopPatterns)
	if err != nil {
		writeError(w, r, err)
		return
	}

	m, err := s.deps.Feedback.Metrics(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	top, err := s.deps.Feedback.TopPatterns(r.Context(), userID, minUses, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, feedbackSummary{Metrics: m, TopPatterns: top})
}

// handleCleanup handles POST /api/cleanup. Without a userId every user is
// swept and the per-run summary is returned.
func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, apperr.Wrap(err, apperr.CodeInvalidInput, "invalid request body"))
		return
	}
	if req.RetentionDays < 0 {
		writeError(w, r, apperr.New(apperr.CodeInvalidInput, "retentionDays must not be negative"))
		return
	}

	if req.UserID == "" {
		sum, err := s.deps.Cleaner.CleanupAll(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, sum)
		return
	}

	n, err := s.deps.Cleaner.Cleanup(r.Context(), req.UserID, req.RetentionDays)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]int{"cleaned": n})
}

// decode reads a JSON body into dst, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, apperr.Wrap(err, apperr.CodeInvalidInput, "invalid request body"))
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.New(apperr.CodeInvalidInput, key+" must be a non-negative integer")
	}
	return n, nil
}

// writeError maps err to a status code. Rate limit errors keep their
// message verbatim so clients can show the window and counts.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := apperr.CodeOf(err)

	var rl *apperr.RateLimitError
	switch {
	case errors.As(err, &rl):
		status = http.StatusTooManyRequests
		code = rl.Code()
		w.Header().Set("Retry-After", "60")
	case code == apperr.CodeInvalidInput:
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		status = http.StatusNotFound
	}

	log := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", slog.String("code", string(code)), logging.Err(err))
	} else {
		log.Info("request rejected", slog.Int("status", status), slog.String("code", string(code)))
	}

	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, r, status, errorResponse{Error: msg, Code: string(code)})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("response encode error", logging.Err(err))
	}
}

// Package feedback records user ratings of generated content and maintains
// the running aggregates derived from them: per-user performance metrics
// split by RAG-enhanced vs not, per-pattern success statistics, and the
// performance score of the rated vector.
package feedback

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/metrics"
	"github.com/54b3r/brandrag/internal/ratelimit"
	"github.com/54b3r/brandrag/internal/vector"
)

// PerformanceAlpha is the weight of a new rating in the vector performance
// moving average.
const PerformanceAlpha = 0.3

// Admission decides whether a user may submit more feedback.
type Admission interface {
	Check(ctx context.Context, userID string) (ratelimit.Decision, error)
}

// PerformanceUpdater applies a new performance score to the stored vector
// for a content id. Implementations treat a missing vector as a no-op.
type PerformanceUpdater interface {
	UpdatePerformance(ctx context.Context, userID, contentID string, fn func(current float64) float64) error
}

// Config holds the dependencies of a Tracker.
type Config struct {
	Store   Store
	Limiter Admission
	// Vectors is optional; when nil, ratings do not feed back into vector
	// performance.
	Vectors PerformanceUpdater
	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Tracker processes feedback submissions.
type Tracker struct {
	store   Store
	limiter Admission
	vectors PerformanceUpdater
	now     func() time.Time
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewTracker returns a Tracker.
func NewTracker(cfg Config) *Tracker {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Tracker{
		store:   cfg.Store,
		limiter: cfg.Limiter,
		vectors: cfg.Vectors,
		now:     now,
		metrics: cfg.Metrics,
		log:     logging.Component(cfg.Logger, "feedback"),
	}
}

// Submit records fb for the given content. rag is nil when the content was
// not RAG-enhanced.
//
// Only two errors reach the caller: an input.invalid error for a rating
// outside 1..5, and a *apperr.RateLimitError when the user exceeded the
// feedback cap. Persistence, aggregate and performance updates are
// independent best-effort steps whose failures are logged.
func (t *Tracker) Submit(ctx context.Context, userID, contentID string, contentType vector.ContentType, fb Feedback, rag *RAGContext) error {
	if fb.Rating < 1 || fb.Rating > 5 {
		return apperr.New(apperr.CodeInvalidInput, "rating must be between 1 and 5",
			apperr.Field("rating", fb.Rating))
	}
	if userID == "" {
		return apperr.New(apperr.CodeInvalidInput, "user id is required")
	}

	log := t.log.With(slog.String("user_id", userID), slog.String("content_id", contentID))

	d, err := t.limiter.Check(ctx, userID)
	if err != nil {
		log.Warn("feedback rate limit check failed, allowing", logging.Err(err))
	} else if !d.Allowed {
		t.metrics.RateLimitDenied("feedback")
		return d.Err(apperr.ScopeFeedback)
	}

	now := t.now()
	ragEnhanced := rag != nil
	var patterns []string
	if ragEnhanced {
		patterns = cleanPatterns(rag.Patterns)
	}

	rec := &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		ContentID:   contentID,
		ContentType: contentType,
		Rating:      fb.Rating,
		WasHelpful:  fb.WasHelpful,
		Comment:     fb.Comment,
		RAGEnhanced: ragEnhanced,
		Patterns:    patterns,
		CreatedAt:   now,
	}
	if err := t.store.SaveFeedback(ctx, rec); err != nil {
		t.metrics.StoreFailure("save_feedback")
		log.Warn("persist feedback failed", logging.Err(err))
	}

	if err := t.store.UpdateMetrics(ctx, userID, func(m *Metrics) {
		m.Fold(fb.Rating, fb.WasHelpful, ragEnhanced, now)
	}); err != nil {
		t.metrics.StoreFailure("update_metrics")
		log.Warn("update performance metrics failed", logging.Err(err))
	}

	if len(patterns) > 0 {
		if err := t.store.UpdatePatternStats(ctx, userID, patterns, func(p *PatternStat) {
			p.Fold(fb.Rating, now)
		}); err != nil {
			t.metrics.StoreFailure("update_patterns")
			log.Warn("update pattern stats failed", logging.Err(err))
		}
	}

	if t.vectors != nil && contentID != "" {
		score := NormalizeRating(fb.Rating)
		if err := t.vectors.UpdatePerformance(ctx, userID, contentID, func(current float64) float64 {
			return PerformanceAlpha*score + (1-PerformanceAlpha)*current
		}); err != nil {
			log.Warn("update vector performance failed", logging.Err(err))
		}
	}

	t.metrics.Feedback(ragEnhanced)
	log.Debug("feedback recorded", slog.Int("rating", fb.Rating), slog.Bool("rag_enhanced", ragEnhanced))
	return nil
}

// NormalizeRating maps a 1..5 rating onto [0,1].
func NormalizeRating(rating int) float64 {
	return float64(rating-1) / 4
}

// Metrics returns the user's aggregates.
func (t *Tracker) Metrics(ctx context.Context, userID string) (Metrics, error) {
	return t.store.Metrics(ctx, userID)
}

// Patterns returns every pattern statistic for the user.
func (t *Tracker) Patterns(ctx context.Context, userID string) ([]PatternStat, error) {
	return t.store.PatternStats(ctx, userID)
}

// TopPatterns returns up to limit patterns used at least minUses times,
// ordered by success rate, then average rating, then name.
func (t *Tracker) TopPatterns(ctx context.Context, userID string, minUses, limit int) ([]PatternStat, error) {
	stats, err := t.store.PatternStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats = slices.DeleteFunc(stats, func(p PatternStat) bool { return p.TotalCount < minUses })
	slices.SortFunc(stats, func(a, b PatternStat) int {
		switch {
		case a.SuccessRate() != b.SuccessRate():
			if a.SuccessRate() > b.SuccessRate() {
				return -1
			}
			return 1
		case a.AvgRating != b.AvgRating:
			if a.AvgRating > b.AvgRating {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Pattern, b.Pattern)
	})
	if limit > 0 && len(stats) > limit {
		stats = stats[:limit]
	}
	return stats, nil
}

// cleanPatterns trims patterns and drops empties and duplicates so a
// pattern is folded at most once per submission.
func cleanPatterns(in []string) []string {
	var out []string
	for _, p := range in {
		p = strings.TrimSpace(p)
		if p == "" || slices.Contains(out, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

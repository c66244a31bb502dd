package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/settings"
)

// FeedbackLimiter caps feedback submissions per user per hour. It is
// independent of the embedding limiter and ignores per-user overrides.
type FeedbackLimiter struct {
	counter  Counter
	settings *settings.Cache
	now      func() time.Time
	log      *slog.Logger
}

// NewFeedback returns a FeedbackLimiter counting with c.
func NewFeedback(c Counter, cache *settings.Cache, now func() time.Time, log *slog.Logger) *FeedbackLimiter {
	if now == nil {
		now = time.Now
	}
	return &FeedbackLimiter{counter: c, settings: cache, now: now, log: logging.Component(log, "ratelimit")}
}

// Check decides whether userID may submit more feedback. The cap applies
// even when embedding rate limiting is disabled.
func (f *FeedbackLimiter) Check(ctx context.Context, userID string) (Decision, error) {
	limit := f.settings.Get(ctx).RateLimiting.FeedbackMaxPerHour
	d, err := checkWindow(ctx, f.counter, userID, f.now(), WindowHour, time.Hour, limit)
	if err != nil {
		return Decision{Allowed: true}, apperr.Wrap(err, apperr.CodeRateLimitCheck,
			"count feedback window", apperr.FieldUserID(userID))
	}
	if !d.Allowed {
		f.log.Info("feedback submission denied",
			slog.String("user_id", userID),
			slog.Int("current", d.Current),
			slog.Int("limit", d.Limit),
		)
	}
	return d, nil
}

// Package ratelimit implements per-user sliding-window admission control.
//
// Windows are counted by querying existing events (vector inserts or
// feedback records) rather than maintaining counters, so enforcement is
// approximate and eventually consistent with store visibility.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/settings"
)

// Window names.
const (
	WindowHour = "hour"
	WindowDay  = "day"
)

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed bool
	// Reason is a human-readable explanation when denied.
	Reason  string
	Window  string
	Current int
	Limit   int
}

// Err converts a denial into a *apperr.RateLimitError. Returns nil when
// the decision allowed the request.
func (d Decision) Err(scope string) error {
	if d.Allowed {
		return nil
	}
	return &apperr.RateLimitError{Scope: scope, Window: d.Window, Current: d.Current, Limit: d.Limit}
}

// Counter counts a user's events created at or after since.
type Counter interface {
	CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// CounterFunc adapts a function to Counter.
type CounterFunc func(ctx context.Context, userID string, since time.Time) (int, error)

// CountCreatedSince implements Counter.
func (f CounterFunc) CountCreatedSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return f(ctx, userID, since)
}

// Config holds the dependencies of a Limiter.
type Config struct {
	Counter   Counter
	Settings  *settings.Cache
	Overrides settings.OverrideSource
	Now       func() time.Time
	Logger    *slog.Logger
}

// Limiter gates embedding-generating writes.
type Limiter struct {
	counter   Counter
	settings  *settings.Cache
	overrides settings.OverrideSource
	now       func() time.Time
	log       *slog.Logger
}

// New returns a Limiter.
func New(cfg Config) *Limiter {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		counter:   cfg.Counter,
		settings:  cfg.Settings,
		overrides: cfg.Overrides,
		now:       now,
		log:       logging.Component(cfg.Logger, "ratelimit"),
	}
}

// Check decides whether userID may perform another embedding write.
//
// When rate limiting is disabled it always allows. Otherwise the hourly
// window is evaluated before the daily one and the request is denied when a
// window's count has reached its cap. On an internal error the returned
// decision allows the request and the error is returned alongside so
// callers can choose between failing open (writes) and degrading (reads).
func (l *Limiter) Check(ctx context.Context, userID string) (Decision, error) {
	cfg := l.settings.Get(ctx)
	if !cfg.RateLimiting.Enabled {
		return Decision{Allowed: true}, nil
	}

	perHour, perDay, err := l.limits(ctx, userID, cfg.RateLimiting)
	if err != nil {
		return Decision{Allowed: true}, err
	}

	now := l.now()
	windows := []struct {
		name  string
		span  time.Duration
		limit int
	}{
		{WindowHour, time.Hour, perHour},
		{WindowDay, 24 * time.Hour, perDay},
	}
	for _, w := range windows {
		d, err := checkWindow(ctx, l.counter, userID, now, w.name, w.span, w.limit)
		if err != nil {
			return Decision{Allowed: true}, apperr.Wrap(err, apperr.CodeRateLimitCheck,
				"count "+w.name+" window", apperr.FieldUserID(userID))
		}
		if !d.Allowed {
			l.log.Info("embedding request denied",
				slog.String("user_id", userID),
				slog.String("window", d.Window),
				slog.Int("current", d.Current),
				slog.Int("limit", d.Limit),
			)
			return d, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// limits resolves the effective hourly and daily caps for a user. Custom
// limits apply only when the user opted in and never exceed the global caps.
func (l *Limiter) limits(ctx context.Context, userID string, rl settings.RateLimiting) (int, int, error) {
	perHour, perDay := rl.UserMaxPerHour, rl.UserMaxPerDay
	if l.overrides == nil {
		return perHour, perDay, nil
	}

	ov, err := l.overrides.UserLimits(ctx, userID)
	if err != nil {
		return 0, 0, apperr.Wrap(err, apperr.CodeRateLimitCheck, "load user limits", apperr.FieldUserID(userID))
	}
	if ov == nil || !ov.CustomEnabled {
		return perHour, perDay, nil
	}
	return ceiling(ov.MaxPerHour, rl.GlobalMaxPerHour), ceiling(ov.MaxPerDay, rl.GlobalMaxPerDay), nil
}

// ceiling caps v at limit. A non-positive limit imposes no ceiling.
func ceiling(v, limit int) int {
	if limit > 0 && (v <= 0 || v > limit) {
		return limit
	}
	return v
}

// checkWindow counts events in [now-span, now] and denies when the count has
// reached limit. A non-positive limit is unlimited.
func checkWindow(ctx context.Context, c Counter, userID string, now time.Time, name string, span time.Duration, limit int) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	n, err := c.CountCreatedSince(ctx, userID, now.Add(-span))
	if err != nil {
		return Decision{}, err
	}
	if n >= limit {
		return Decision{
			Allowed: false,
			Reason:  fmt.Sprintf("limit of %d per %s reached", limit, name),
			Window:  name,
			Current: n,
			Limit:   limit,
		}, nil
	}
	return Decision{Allowed: true, Window: name, Current: n, Limit: limit}, nil
}

package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
	"github.com/54b3r/brandrag/internal/settings"
)

type staticSource struct{ data string }

func (s staticSource) LoadSystemConfig(context.Context) ([]byte, error) { return []byte(s.data), nil }
func (s staticSource) SaveSystemConfig(context.Context, []byte) error   { return nil }

type overrides map[string]*settings.UserLimits

func (o overrides) UserLimits(_ context.Context, userID string) (*settings.UserLimits, error) {
	return o[userID], nil
}

type failingOverrides struct{}

func (failingOverrides) UserLimits(context.Context, string) (*settings.UserLimits, error) {
	return nil, errors.New("overrides unavailable")
}

// windowCounter returns hour for windows shorter than a day and day otherwise.
func windowCounter(now time.Time, hour, day int) CounterFunc {
	return func(_ context.Context, _ string, since time.Time) (int, error) {
		if now.Sub(since) <= time.Hour {
			return hour, nil
		}
		return day, nil
	}
}

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newLimiter(src string, c Counter, ov settings.OverrideSource) *Limiter {
	return New(Config{
		Counter:   c,
		Settings:  settings.NewCache(staticSource{data: src}),
		Overrides: ov,
		Now:       func() time.Time { return now },
		Logger:    logging.Discard(),
	})
}

func Test_Limiter_Windows(t *testing.T) {
	t.Parallel()

	cfg := `{"rateLimiting":{"enabled":true,"userMaxPerHour":3,"userMaxPerDay":10}}`
	tests := []struct {
		name       string
		hour, day  int
		allowed    bool
		wantWindow string
	}{
		{"under both", 2, 5, true, ""},
		{"hour reached", 3, 5, false, WindowHour},
		{"day reached", 1, 10, false, WindowDay},
		{"hour checked first", 4, 12, false, WindowHour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d, err := newLimiter(cfg, windowCounter(now, tt.hour, tt.day), nil).Check(context.Background(), "u1")
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, d.Allowed)
			if !tt.allowed {
				assert.Equal(t, tt.wantWindow, d.Window)
				rl, ok := apperr.AsRateLimit(d.Err(apperr.ScopeEmbedding))
				require.True(t, ok)
				assert.Equal(t, d.Current, rl.Current)
			}
		})
	}
}

func Test_Limiter_Disabled(t *testing.T) {
	t.Parallel()

	counted := false
	c := CounterFunc(func(context.Context, string, time.Time) (int, error) {
		counted = true
		return 1_000_000, nil
	})
	d, err := newLimiter(`{"rateLimiting":{"enabled":false}}`, c, nil).Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.False(t, counted)
}

func Test_Limiter_FailsOpenOnCountError(t *testing.T) {
	t.Parallel()

	c := CounterFunc(func(context.Context, string, time.Time) (int, error) {
		return 0, errors.New("store down")
	})
	d, err := newLimiter(`{}`, c, nil).Check(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, apperr.HasCode(err, apperr.CodeRateLimitCheck))
}

func Test_Limiter_FailsOpenOnOverrideError(t *testing.T) {
	t.Parallel()

	d, err := newLimiter(`{}`, windowCounter(now, 0, 0), failingOverrides{}).Check(context.Background(), "u1")
	require.Error(t, err)
	assert.True(t, d.Allowed)
}

func Test_Limiter_CustomLimits(t *testing.T) {
	t.Parallel()

	cfg := `{"rateLimiting":{"enabled":true,"globalMaxPerHour":100,"globalMaxPerDay":1000,"userMaxPerHour":5,"userMaxPerDay":50}}`
	ov := overrides{
		"vip":    {CustomEnabled: true, MaxPerHour: 20, MaxPerDay: 200},
		"greedy": {CustomEnabled: true, MaxPerHour: 5000, MaxPerDay: 5000},
		"off":    {CustomEnabled: false, MaxPerHour: 20, MaxPerDay: 200},
	}

	d, err := newLimiter(cfg, windowCounter(now, 10, 10), ov).Check(context.Background(), "vip")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "custom hourly cap of 20 admits 10")

	d, err = newLimiter(cfg, windowCounter(now, 10, 10), ov).Check(context.Background(), "off")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "opted-out override falls back to user defaults")
	assert.Equal(t, 5, d.Limit)

	d, err = newLimiter(cfg, windowCounter(now, 100, 100), ov).Check(context.Background(), "greedy")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 100, d.Limit, "custom limit capped at the global maximum")
}

func Test_FeedbackLimiter(t *testing.T) {
	t.Parallel()

	cache := settings.NewCache(staticSource{data: `{"rateLimiting":{"enabled":false,"feedbackMaxPerHour":2}}`})
	var calls []time.Time
	c := CounterFunc(func(_ context.Context, _ string, since time.Time) (int, error) {
		calls = append(calls, since)
		return 2, nil
	})

	d, err := NewFeedback(c, cache, func() time.Time { return now }, logging.Discard()).Check(context.Background(), "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	require.Len(t, calls, 1)
	assert.Equal(t, now.Add(-time.Hour), calls[0])

	err = d.Err(apperr.ScopeFeedback)
	assert.ErrorIs(t, err, apperr.ErrRateLimitExceeded)
	assert.Contains(t, err.Error(), "2/2 feedback")
}

package settings

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/brandrag/internal/logging"
)

type fakeSource struct {
	mu    sync.Mutex
	data  []byte
	err   error
	loads int
}

func (f *fakeSource) LoadSystemConfig(context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	return f.data, f.err
}

func (f *fakeSource) SaveSystemConfig(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data = data
	return nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func Test_Parse_OverlaysDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`{"rateLimiting":{"userMaxPerHour":5},"unknown":true}`))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.RateLimiting.UserMaxPerHour)
	assert.Equal(t, 500, cfg.RateLimiting.UserMaxPerDay)
	assert.True(t, cfg.RateLimiting.Enabled)
	assert.Equal(t, 0.7, cfg.Performance.SimilarityThreshold)
}

func Test_Parse_InvalidFallsBack(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func Test_Cache_ServesWithinTTL(t *testing.T) {
	t.Parallel()

	src := &fakeSource{data: []byte(`{"performance":{"similarityThreshold":0.5,"cacheEnabled":true,"cacheTTL":60}}`)}
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := NewCache(src, WithClock(clk.now), WithLogger(logging.Discard()))
	ctx := context.Background()

	assert.Equal(t, 0.5, c.Get(ctx).Performance.SimilarityThreshold)
	assert.Equal(t, 0.5, c.Get(ctx).Performance.SimilarityThreshold)
	assert.Equal(t, 1, src.loads)

	require.NoError(t, src.SaveSystemConfig(ctx, []byte(`{"performance":{"similarityThreshold":0.9,"cacheEnabled":true,"cacheTTL":60}}`)))
	clk.t = clk.t.Add(59 * time.Second)
	assert.Equal(t, 0.5, c.Get(ctx).Performance.SimilarityThreshold, "stale value served inside TTL")

	clk.t = clk.t.Add(2 * time.Second)
	assert.Equal(t, 0.9, c.Get(ctx).Performance.SimilarityThreshold)
	assert.Equal(t, 2, src.loads)
}

func Test_Cache_Invalidate(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	c := NewCache(src, WithLogger(logging.Discard()))
	c.Get(context.Background())
	c.Invalidate()
	c.Get(context.Background())
	assert.Equal(t, 2, src.loads)
}

// blockingSource holds every load until release is closed.
type blockingSource struct {
	started chan struct{}
	release chan struct{}
	loads   atomic.Int32
}

func (b *blockingSource) LoadSystemConfig(context.Context) ([]byte, error) {
	b.loads.Add(1)
	select {
	case b.started <- struct{}{}:
	default:
	}
	<-b.release
	return []byte(`{}`), nil
}

func (b *blockingSource) SaveSystemConfig(context.Context, []byte) error { return nil }

func Test_Cache_ReloadDoesNotHoldLock(t *testing.T) {
	t.Parallel()

	src := &blockingSource{started: make(chan struct{}, 1), release: make(chan struct{})}
	c := NewCache(src, WithLogger(logging.Discard()))

	got := make(chan SystemConfig)
	go func() { got <- c.Get(context.Background()) }()
	<-src.started

	invalidated := make(chan struct{})
	go func() {
		c.Invalidate()
		close(invalidated)
	}()
	select {
	case <-invalidated:
	case <-time.After(time.Second):
		t.Fatal("Invalidate blocked behind an in-flight load")
	}

	close(src.release)
	assert.Equal(t, Defaults(), <-got)

	c.Get(context.Background())
	c.Get(context.Background())
	assert.Equal(t, int32(2), src.loads.Load(), "a load overtaken by Invalidate is not cached")
}

func Test_Cache_LoadErrorUsesDefaults(t *testing.T) {
	t.Parallel()

	src := &fakeSource{err: errors.New("store down")}
	c := NewCache(src, WithLogger(logging.Discard()))
	assert.Equal(t, Defaults(), c.Get(context.Background()))
}

func Test_Cache_NilSource(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Defaults(), NewCache(nil).Get(context.Background()))
}

func Test_Save_RoundTripsThroughSource(t *testing.T) {
	t.Parallel()

	src := &fakeSource{}
	cfg := Defaults()
	cfg.VectorCleanup.RetentionDays = 30
	require.NoError(t, Save(context.Background(), src, cfg))

	got := NewCache(src).Get(context.Background())
	assert.Equal(t, 30, got.VectorCleanup.RetentionDays)
}

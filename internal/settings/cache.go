package settings

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/54b3r/brandrag/internal/logging"
)

// DefaultTTL bounds how long a loaded configuration is served before the
// source is consulted again.
const DefaultTTL = 5 * time.Minute

// Cache serves the system configuration with time-based invalidation only.
// It is safe for concurrent use. Reloads run outside the lock and concurrent
// callers share a single load.
type Cache struct {
	src   Source
	now   func() time.Time
	log   *slog.Logger
	loads singleflight.Group

	mu       sync.Mutex
	value    SystemConfig
	loadedAt time.Time
	loaded   bool
	// gen changes on Invalidate so a load that started earlier is not cached.
	gen uint64
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock injects the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for load-failure warnings.
func WithLogger(log *slog.Logger) CacheOption {
	return func(c *Cache) { c.log = log }
}

// NewCache returns a cache over src. A nil src always serves defaults.
func NewCache(src Source, opts ...CacheOption) *Cache {
	c := &Cache{src: src, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	c.log = logging.Component(c.log, "settings")
	return c
}

// Get returns the current configuration. It never fails: a load or parse
// error yields the defaults, which are cached like any other value so a
// broken source is not hammered.
func (c *Cache) Get(ctx context.Context) SystemConfig {
	c.mu.Lock()
	if c.loaded && c.now().Sub(c.loadedAt) < c.value.CacheTTL() {
		v := c.value
		c.mu.Unlock()
		return v
	}
	gen := c.gen
	c.mu.Unlock()

	v, _, _ := c.loads.Do("system", func() (any, error) {
		cfg := c.load(context.WithoutCancel(ctx))
		c.mu.Lock()
		if c.gen == gen {
			c.value = cfg
			c.loadedAt = c.now()
			c.loaded = true
		}
		c.mu.Unlock()
		return cfg, nil
	})
	return v.(SystemConfig)
}

// Invalidate forces the next Get to reload.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.gen++
	c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context) SystemConfig {
	if c.src == nil {
		return Defaults()
	}

	data, err := c.src.LoadSystemConfig(ctx)
	if err != nil {
		c.log.Warn("system config load failed, using defaults", logging.Err(err))
		return Defaults()
	}

	cfg, err := Parse(data)
	if err != nil {
		c.log.Warn("system config parse failed, using defaults", logging.Err(err))
	}
	return cfg
}

package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/brandrag/internal/apperr"
	"github.com/54b3r/brandrag/internal/logging"
)

// Per-IP throttling of the protected API. This guards the HTTP surface only;
// per-user embedding and feedback quotas are enforced by the engine.
const (
	defaultRateLimit = 10
	defaultRateBurst = 20

	// staleAfter is how long an idle address keeps its bucket.
	staleAfter = 5 * time.Minute
	// evictEvery is the cadence of the stale-bucket sweep.
	evictEvery = time.Minute
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter keeps one token bucket per client address.
type rateLimiter struct {
	rps   rate.Limit
	burst int
	now   func() time.Time
	log   *slog.Logger
	// onThrottle is called for every rejected request.
	onThrottle func(r *http.Request)

	mu      sync.Mutex
	buckets map[string]*bucket
}

// newRateLimiter starts the eviction loop and returns the limiter with its
// stop function. Calling stop more than once is safe.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		rps:     rate.Limit(rps),
		burst:   burst,
		now:     time.Now,
		log:     log,
		buckets: make(map[string]*bucket),
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(evictEvery)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if n := rl.evict(); n > 0 {
					rl.log.Debug("rate limiter evicted idle addresses", slog.Int("count", n))
				}
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// take spends one token for ip. When the bucket is empty it reports how long
// the caller should wait before the next token is available.
func (rl *rateLimiter) take(ip string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[ip] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// evict drops buckets idle for longer than staleAfter and returns how many
// were removed.
func (rl *rateLimiter) evict() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-staleAfter)
	n := 0
	for ip, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, ip)
			n++
		}
	}
	return n
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware rejects requests over the per-address rate with 429 and a
// Retry-After rounded up to whole seconds.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, wait := rl.take(ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("http rate limit exceeded",
			slog.String("ip", ip),
			slog.Duration("retry_after", wait),
		)
		if rl.onThrottle != nil {
			rl.onThrottle(r)
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(wait)))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
			Error: "too many requests from this address",
			Code:  string(apperr.CodeRateLimitExceeded),
		})
	})
}

func retryAfterSeconds(d time.Duration) int {
	return max(1, int(math.Ceil(d.Seconds())))
}

// clientIP returns the remote address without its port. X-Forwarded-For is
// not trusted.
func clientIP(r *http.Request) string {
	addr := r.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	// Unbracketed IPv6 ("::1:8080") fails SplitHostPort; strip the last port.
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}

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

	"github.com/54b3r/pdfrag-go/internal/logging"
)

// defaultRateLimit is the number of requests per second allowed per IP on
// rate-limited endpoints when no explicit limit is configured.
const defaultRateLimit = 10

// defaultRateBurst is the maximum burst size per IP when no explicit burst is
// configured.
const defaultRateBurst = 20

// limiterIdleTTL is how long an unused bucket is kept before eviction.
const limiterIdleTTL = 5 * time.Minute

// bucketKey identifies one token bucket: a client IP within a route scope,
// so a burst of uploads does not eat into the same client's chat budget.
type bucketKey struct {
	scope string
	ip    string
}

// bucket holds a token-bucket rate limiter and the last time it was used.
type bucket struct {
	// limiter is the token bucket.
	limiter *rate.Limiter
	// lastSeen is updated on every request for idle eviction.
	lastSeen time.Time
}

// rateLimiter is an HTTP middleware factory that enforces a per-IP,
// per-scope token-bucket limit. Idle buckets are evicted every minute.
type rateLimiter struct {
	// mu protects buckets.
	mu sync.Mutex
	// buckets maps (scope, IP) to its token bucket.
	buckets map[bucketKey]*bucket
	// rps is the sustained request rate allowed per bucket (requests/second).
	rps rate.Limit
	// burst is the maximum instantaneous burst per bucket.
	burst int
	// log is the structured logger for rate-limit events.
	log *slog.Logger
	// now is the clock, replaceable in tests.
	now func() time.Time
}

// newRateLimiter constructs a rateLimiter and starts the background eviction
// goroutine. The goroutine exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[bucketKey]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		now:     time.Now,
	}

	stopCh := make(chan struct{})
	var once sync.Once
	go rl.evictLoop(stopCh)

	return rl, func() { once.Do(func() { close(stopCh) }) }
}

// limiterFor returns the bucket for key, creating it on first use.
func (rl *rateLimiter) limiterFor(key bucketKey, now time.Time) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter
}

// evictLoop runs evict every minute until stopCh is closed.
func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict(rl.now())
		}
	}
}

// evict removes buckets idle for longer than limiterIdleTTL.
func (rl *rateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-limiterIdleTTL)
	evicted := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		rl.log.Debug("rate limiter evicted idle buckets",
			slog.Int("evicted", evicted),
			slog.Int("live", len(rl.buckets)),
		)
	}
}

// size reports the number of live buckets.
func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// middleware enforces the limit for scope before delegating to next.
// Rejected requests receive 429 with a Retry-After header derived from the
// bucket's refill time and a JSON error body.
func (rl *rateLimiter) middleware(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		now := rl.now()
		res := rl.limiterFor(bucketKey{scope: scope, ip: ip}, now).ReserveN(now, 1)

		if !res.OK() || res.DelayFrom(now) > 0 {
			retryAfter := 1
			if res.OK() {
				retryAfter = int(math.Ceil(res.DelayFrom(now).Seconds()))
				res.CancelAt(now)
			}
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("scope", scope),
				slog.Int("retry_after_s", retryAfter),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSON(r.Context(), w, http.StatusTooManyRequests, errorResponse{Message: "too many requests, slow down"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the remote IP from the request, stripping the port.
// X-Forwarded-For is not trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

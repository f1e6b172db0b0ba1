package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures a per-key token bucket.
type RateLimitConfig struct {
	// Burst is the bucket capacity.
	Burst int
	// Rate is the number of tokens added per second.
	Rate float64
	// KeyFunc extracts the bucket key. Defaults to the client IP.
	KeyFunc func(*http.Request) string
}

type bucket struct {
	tokens float64
	last   time.Time
}

type limiter struct {
	cfg     RateLimitConfig
	mu      sync.Mutex
	buckets map[string]*bucket
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return &limiter{cfg: cfg, buckets: make(map[string]*bucket)}
}

// take refills the bucket for the time elapsed since its last use and
// consumes one token. wait is how long until the next token when denied.
func (l *limiter) take(key string, now time.Time) (remaining int, wait time.Duration, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	capacity := float64(l.cfg.Burst)
	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: capacity, last: now}
		l.buckets[key] = b
	}
	if elapsed := now.Sub(b.last); elapsed > 0 {
		b.tokens = math.Min(capacity, b.tokens+elapsed.Seconds()*l.cfg.Rate)
		b.last = now
	}

	if b.tokens < 1 {
		if l.cfg.Rate <= 0 {
			return 0, time.Hour, false
		}
		wait = time.Duration((1 - b.tokens) / l.cfg.Rate * float64(time.Second))
		return 0, wait, false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// evict drops buckets that have been full for at least idle.
func (l *limiter) evict(now time.Time, idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.last) >= idle {
			delete(l.buckets, key)
		}
	}
}

func (l *limiter) refillTime() time.Duration {
	if l.cfg.Rate <= 0 {
		return time.Minute
	}
	return time.Duration(float64(l.cfg.Burst) / l.cfg.Rate * float64(time.Second))
}

// RateLimit limits requests per key. Buckets are never evicted; use
// RateLimitWithCleanup for long-running servers.
func RateLimit(cfg RateLimitConfig) Middleware {
	return newLimiter(cfg).middleware()
}

// RateLimitWithCleanup is RateLimit plus a goroutine, stopped with ctx,
// that evicts idle buckets.
func RateLimitWithCleanup(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)
	idle := max(l.refillTime(), time.Second)
	go func() {
		ticker := time.NewTicker(idle)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.evict(now, idle)
			}
		}
	}()
	return l.middleware()
}

func (l *limiter) middleware() Middleware {
	limit := strconv.Itoa(l.cfg.Burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, wait, ok := l.take(l.cfg.KeyFunc(r), time.Now())
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP or the remote
// address host, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

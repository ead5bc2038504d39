package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/teilomillet/colloquy/config"
	"github.com/teilomillet/colloquy/errors"
	"github.com/teilomillet/colloquy/server/metrics"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. A bucket left idle long
// enough to refill completely is forgotten, since a fresh one behaves the
// same.
type RateLimiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	limit     rate.Limit
	burst     int
	perMin    int
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
	metrics   *metrics.Metrics
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithRateLimitClock replaces the clock used for buckets and eviction.
func WithRateLimitClock(now func() time.Time) RateLimiterOption {
	return func(l *RateLimiter) {
		l.now = now
	}
}

// NewRateLimiter builds a limiter allowing cfg.RequestsPerMinute sustained
// with bursts of cfg.Burst.
func NewRateLimiter(cfg config.RateLimitConfig, m *metrics.Metrics, opts ...RateLimiterOption) *RateLimiter {
	interval := time.Minute / time.Duration(max(cfg.RequestsPerMinute, 1))
	burst := max(cfg.Burst, 1)
	l := &RateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(interval),
		burst:    burst,
		perMin:   cfg.RequestsPerMinute,
		idle:     max(interval*time.Duration(burst), time.Minute),
		now:      time.Now,
		metrics:  m,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.lastSweep = l.now()
	return l
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.idle {
		l.sweep(now)
	}

	v, exists := l.visitors[ip]
	if !exists {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// sweep drops idle visitors. l.mu must be held.
func (l *RateLimiter) sweep(now time.Time) {
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) >= l.idle {
			delete(l.visitors, ip)
		}
	}
	l.lastSweep = now
}

// Visitors returns the number of clients currently tracked.
func (l *RateLimiter) Visitors() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Reset forgets every client.
func (l *RateLimiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.visitors = make(map[string]*visitor)
}

// Handler rejects requests over the limit with 429.
func (l *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}

		if !l.allow(ip) {
			if l.metrics != nil {
				l.metrics.RateLimitHits.Inc()
			}
			w.Header().Set("Retry-After", "60")
			errResp := errors.NewRateLimitError(RequestIDFromContext(r.Context()), 60)
			errResp.Details["limit"] = l.perMin
			errResp.Details["window"] = "1m0s"
			errors.WriteError(w, errResp)
			return
		}

		next.ServeHTTP(w, r)
	})
}

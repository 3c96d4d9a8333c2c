package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter throttles requests per client IP with a token bucket.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	limiters sync.Map
	deny     http.HandlerFunc
	now      func() time.Time
	idleTTL  time.Duration
	lastGC   time.Time
	gcMu     sync.Mutex
}

type limiterEntry struct {
	limiter  *rate.Limiter
	mu       sync.Mutex
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per client with bursts of burst.
// deny writes the rejection; nil answers a bare 429.
func NewRateLimiter(perSecond, burst int, deny http.HandlerFunc) *RateLimiter {
	if deny == nil {
		deny = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		deny:    deny,
		now:     time.Now,
		idleTTL: 10 * time.Minute,
	}
}

// Middleware rejects requests over the client's budget with deny.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			l.deny(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether ip may make a request now.
func (l *RateLimiter) Allow(ip string) bool {
	now := l.now()
	entry := l.entry(ip, now)
	entry.mu.Lock()
	entry.lastSeen = now
	entry.mu.Unlock()
	l.collect(now)
	return entry.limiter.AllowN(now, 1)
}

func (l *RateLimiter) entry(ip string, now time.Time) *limiterEntry {
	if v, ok := l.limiters.Load(ip); ok {
		if e, isEntry := v.(*limiterEntry); isEntry {
			return e
		}
	}
	fresh := &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	v, _ := l.limiters.LoadOrStore(ip, fresh)
	return v.(*limiterEntry)
}

// collect drops limiters idle for longer than idleTTL, at most once per TTL.
func (l *RateLimiter) collect(now time.Time) {
	l.gcMu.Lock()
	if now.Sub(l.lastGC) < l.idleTTL {
		l.gcMu.Unlock()
		return
	}
	l.lastGC = now
	l.gcMu.Unlock()

	l.limiters.Range(func(key, value any) bool {
		e, ok := value.(*limiterEntry)
		if !ok {
			l.limiters.Delete(key)
			return true
		}
		e.mu.Lock()
		idle := now.Sub(e.lastSeen) > l.idleTTL
		e.mu.Unlock()
		if idle {
			l.limiters.Delete(key)
		}
		return true
	})
}

// clientIP expects chi's RealIP middleware to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

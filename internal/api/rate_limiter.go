package api

import (
	"math"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/crypto-temple/internal/errors"
)

const (
	// limiterIdleTTL is how long a client's limiter survives without traffic
	limiterIdleTTL = 10 * time.Minute
	// sweepThreshold triggers an idle sweep once this many clients are tracked
	sweepThreshold = 1024
	// maxClients caps the table; past it the least recently seen client is evicted
	maxClients = 16384
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter manages per-client rate limiting for API requests
type RateLimiter struct {
	limit      rate.Limit
	burst      int
	proxies    trustedProxies
	maxClients int
	now        func() time.Time

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client
// with the given burst. Clients are keyed by remote address unless the
// peer is one of proxies.
func NewRateLimiter(requestsPerMinute, burst int, proxies trustedProxies) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:      rate.Limit(float64(requestsPerMinute) / 60),
		burst:      burst,
		proxies:    proxies,
		maxClients: maxClients,
		now:        time.Now,
		limiters:   make(map[string]*clientLimiter),
	}
}

// getLimiter returns the limiter for a client, creating it on first use
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if cl, ok := rl.limiters[key]; ok {
		cl.lastSeen = now
		return cl.limiter
	}

	if len(rl.limiters) >= sweepThreshold {
		for k, cl := range rl.limiters {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
	}
	if len(rl.limiters) >= rl.maxClients {
		rl.evictOldestLocked()
	}

	cl := &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst), lastSeen: now}
	rl.limiters[key] = cl
	return cl.limiter
}

func (rl *RateLimiter) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
	)
	for k, cl := range rl.limiters {
		if oldestKey == "" || cl.lastSeen.Before(oldest) {
			oldestKey, oldest = k, cl.lastSeen
		}
	}
	delete(rl.limiters, oldestKey)
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// retryAfter returns the whole seconds until one more token is available
func (rl *RateLimiter) retryAfter() int {
	if rl.limit <= 0 {
		return 60
	}
	return int(math.Ceil(1 / float64(rl.limit)))
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.getLimiter(rl.proxies.clientIP(r)).Allow() {
				respondServiceError(w, r, apperrors.NewRateLimitError(rl.retryAfter()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

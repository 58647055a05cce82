// ratelimit.go - Per-client fixed-window rate limiting.
//
// chi's Throttle answers 503 once saturated; the API contract requires 429
// with a stable code, so the window counter is kept here. The limiter is
// mounted ahead of authentication, so clients are keyed by remote address.
package api

import (
	"net"
	"net/http"
	"sync"
	"time"
)

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	limit   int
	buckets map[string]*rateBucket

	// now is the clock; tests override it.
	now func() time.Time
}

type rateBucket struct {
	start time.Time
	count int
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{
		window:  window,
		limit:   limit,
		buckets: make(map[string]*rateBucket),
		now:     time.Now,
	}
}

// allow counts one request for key and reports whether it is under the cap.
func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok || now.Sub(b.start) >= rl.window {
		// Window rollover doubles as cleanup for this key; a full sweep
		// of idle keys happens opportunistically below.
		if len(rl.buckets) > 1024 {
			for k, old := range rl.buckets {
				if now.Sub(old.start) >= rl.window {
					delete(rl.buckets, k)
				}
			}
		}
		rl.buckets[key] = &rateBucket{start: now, count: 1}
		return true
	}
	b.count++
	return b.count <= rl.limit
}

// middleware enforces the cap, keying by remote IP.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := clientKey(r)
		if !rl.allow(key) {
			writeErrCode(w, http.StatusTooManyRequests, "RATE_LIMITED", "request rate cap hit")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}

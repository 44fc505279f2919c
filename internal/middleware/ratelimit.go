package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"

	"tidb-odata/internal/response"

	"golang.org/x/time/rate"
)

// RateLimitConfig configures a token bucket limiter. With PerClient set each
// remote address gets its own bucket; otherwise one bucket is shared.
type RateLimitConfig struct {
	Enabled   bool
	RPS       float64
	Burst     int
	PerClient bool
}

// RateLimitMiddleware rejects requests over the configured rate with 429.
func RateLimitMiddleware(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if !cfg.Enabled || cfg.RPS <= 0 || cfg.Burst <= 0 {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	global := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	var clients sync.Map // remote host -> *rate.Limiter
	limiterFor := func(r *http.Request) *rate.Limiter {
		if !cfg.PerClient {
			return global
		}
		host := clientHost(r)
		if v, ok := clients.Load(host); ok {
			return v.(*rate.Limiter)
		}
		v, _ := clients.LoadOrStore(host, rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst))
		return v.(*rate.Limiter)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := limiterFor(r)
			reservation := limiter.Reserve()
			if delay := reservation.Delay(); !reservation.OK() || delay > 0 {
				reservation.Cancel()
				retryAfter := int(delay.Seconds()) + 1
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				_ = response.WriteError(w, http.StatusTooManyRequests, "TooManyRequests", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientHost uses RemoteAddr only; forwarded headers can be spoofed.
func clientHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

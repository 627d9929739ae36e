package auth

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-actor request rate at the HTTP layer. Actors are
// identified by the authenticated principal, falling back to the remote IP
// for unauthenticated requests.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewRateLimiter allows rps requests per second with the given burst.
// A non-positive rps disables limiting.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) limiterFor(actor string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[actor]
	if !ok {
		l = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters[actor] = l
	}
	return l
}

// Middleware returns the rate limiting middleware. A nil receiver passes all
// requests through (limiting disabled).
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl == nil {
			next.ServeHTTP(w, r)
			return
		}

		actor := ActorID(r.Context())
		if actor == "" {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			actor = host
		}

		if !rl.limiterFor(actor).Allow() {
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprintln(w, `{"type":"https://datakeep.dev/errors/429","title":"Too Many Requests","status":429}`)
			return
		}

		next.ServeHTTP(w, r)
	})
}

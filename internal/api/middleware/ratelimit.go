package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	pkgmw "github.com/walletwise/walletwise/backend/pkg/middleware"
)

// idleLimiterTTL is how long an unused per-user limiter is kept.
const idleLimiterTTL = 30 * time.Minute

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per authenticated user with a token bucket.
type RateLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	perMin   int
	limiters map[string]*userLimiter
	now      func() time.Time
}

// NewRateLimiter allows perMinute requests per user with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:    rate.Limit(float64(perMinute) / 60),
		burst:    burst,
		perMin:   perMinute,
		limiters: make(map[string]*userLimiter),
		now:      time.Now,
	}
}

func (rl *RateLimiter) get(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for k, ul := range rl.limiters {
		if now.Sub(ul.lastSeen) > idleLimiterTTL {
			delete(rl.limiters, k)
		}
	}
	ul, ok := rl.limiters[key]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = ul
	}
	ul.lastSeen = now
	return ul.limiter
}

// Handler rejects requests over the limit with 429 and Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	if rl.perMin <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := pkgmw.UserID(r.Context())
		if key == "" {
			key = "ip:" + r.RemoteAddr
		}
		lim := rl.get(key)

		now := rl.now()
		res := lim.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		w.Header().Set("X-Ratelimit-Limit-Requests", strconv.Itoa(rl.perMin))
		if !res.OK() || delay > 0 {
			res.CancelAt(now)
			w.Header().Set("X-Ratelimit-Remaining-Requests", "0")
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limited",
				"message": "Too many chat messages, slow down.",
			})
			return
		}
		w.Header().Set("X-Ratelimit-Remaining-Requests", strconv.Itoa(int(lim.TokensAt(now))))
		next.ServeHTTP(w, r)
	})
}

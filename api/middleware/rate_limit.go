package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key. Buckets idle for longer
// than ttl are dropped.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mutex    sync.Mutex
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	lastSeen map[string]time.Time

	// KeyFunc defaults to the client IP.
	KeyFunc func(c echo.Context) string
	now     func() time.Time
}

func NewRateLimiter(r rate.Limit, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     r,
		burst:    burst,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (l *RateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			reservation := l.getLimiter(l.key(c)).ReserveN(l.now(), 1)
			if !reservation.OK() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			if delay := reservation.DelayFrom(l.now()); delay > 0 {
				reservation.CancelAt(l.now())
				seconds := int(math.Ceil(delay.Seconds()))
				c.Response().Header().Set("Retry-After", strconv.Itoa(seconds))
				return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
			}
			return next(c)
		}
	}
}

func (l *RateLimiter) key(c echo.Context) string {
	if l.KeyFunc != nil {
		return l.KeyFunc(c)
	}
	return c.RealIP()
}

func (l *RateLimiter) getLimiter(key string) *rate.Limiter {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	now := l.now()
	if limiter, ok := l.limiters[key]; ok {
		l.lastSeen[key] = now
		return limiter
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[key] = limiter
	l.lastSeen[key] = now
	l.cleanup(now)
	return limiter
}

func (l *RateLimiter) cleanup(now time.Time) {
	if l.ttl == 0 {
		return
	}
	cutoff := now.Add(-l.ttl)
	for key, last := range l.lastSeen {
		if last.Before(cutoff) {
			delete(l.lastSeen, key)
			delete(l.limiters, key)
		}
	}
}

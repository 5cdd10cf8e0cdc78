package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// IPRateLimiter keeps one token bucket per client IP.
type IPRateLimiter struct {
	visitors sync.Map
	rps      rate.Limit
	burst    int
	logger   *zap.Logger
}

type visitor struct {
	limiter *rate.Limiter

	mu       sync.Mutex
	lastSeen time.Time
}

func NewIPRateLimiter(perMinute, burst int, logger *zap.Logger) *IPRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		rps:    rate.Limit(float64(perMinute) / 60.0),
		burst:  burst,
		logger: logger,
	}
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	now := time.Now()
	if v, ok := l.visitors.Load(ip); ok {
		vi := v.(*visitor)
		vi.mu.Lock()
		vi.lastSeen = now
		vi.mu.Unlock()
		return vi.limiter
	}
	v, _ := l.visitors.LoadOrStore(ip, &visitor{limiter: rate.NewLimiter(l.rps, l.burst), lastSeen: now})
	return v.(*visitor).limiter
}

// Sweep drops idle visitors every interval until ctx is done.
func (l *IPRateLimiter) Sweep(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-idle)
			l.visitors.Range(func(k, v any) bool {
				vi := v.(*visitor)
				vi.mu.Lock()
				stale := vi.lastSeen.Before(cutoff)
				vi.mu.Unlock()
				if stale {
					l.visitors.Delete(k)
				}
				return true
			})
		}
	}
}

func (l *IPRateLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if ip == "" {
				ip = "unknown"
			}
			if !l.limiterFor(ip).Allow() {
				l.logger.Warn("rate limit exceeded", zap.String("ip", ip), zap.String("path", c.Path()))
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			}
			return next(c)
		}
	}
}

package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/eleven-am/voice-bridge/internal/shared"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

const userIDKey = "user_id"

// UserIDFromContext returns the caller identity set by an upstream auth
// layer, falling back to the X-User-ID header and the user_id query
// parameter. Browsers cannot set headers on a WebSocket handshake.
func UserIDFromContext(c echo.Context) string {
	if id, ok := c.Get(userIDKey).(string); ok && id != "" {
		return id
	}
	if id := c.Request().Header.Get("X-User-ID"); id != "" {
		return id
	}
	return c.QueryParam("user_id")
}

type RateLimiterConfig struct {
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		CleanupInterval:   5 * time.Minute,
	}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore keeps one token bucket per caller and forgets callers
// idle for longer than the cleanup interval.
type rateLimiterStore struct {
	limiters map[string]*limiterEntry
	mu       sync.Mutex
	config   RateLimiterConfig
}

func newRateLimiterStore(cfg RateLimiterConfig) *rateLimiterStore {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = DefaultRateLimiterConfig().CleanupInterval
	}
	store := &rateLimiterStore{
		limiters: make(map[string]*limiterEntry),
		config:   cfg,
	}
	go store.cleanupLoop()
	return store
}

func (s *rateLimiterStore) getLimiter(key string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(s.config.RequestsPerSecond), s.config.Burst),
		}
		s.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (s *rateLimiterStore) evictIdle(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > s.config.CleanupInterval {
			delete(s.limiters, key)
		}
	}
}

func (s *rateLimiterStore) cleanupLoop() {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for now := range ticker.C {
		s.evictIdle(now)
	}
}

func RateLimiter(cfg RateLimiterConfig) echo.MiddlewareFunc {
	store := newRateLimiterStore(cfg)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := UserIDFromContext(c)
			if key == "" {
				key = c.RealIP()
			}

			if !store.getLimiter(key).Allow() {
				return shared.NewAPIError("rate_limit_exceeded", "too many requests").ToHTTP(http.StatusTooManyRequests)
			}

			return next(c)
		}
	}
}

package middleware

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/jannetahkola/mc-server-manager/internal/config"
	"github.com/jannetahkola/mc-server-manager/internal/logging"
)

// CORS middleware adds CORS headers for the configured origins
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}

	return cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return IsOriginAllowed(origin, cfg.AllowedOrigins)
		},
		AllowMethods:     methods,
		AllowHeaders:     []string{"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With"},
		ExposeHeaders:    []string{"X-Response-Time"},
		AllowCredentials: true,
		AllowWebSockets:  true,
		MaxAge:           12 * time.Hour,
	})
}

// Logger is a custom logging middleware
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Start timer
		start := time.Now()
		path := c.Request.URL.Path

		// Process request
		c.Next()

		latency := time.Since(start)
		c.Writer.Header().Set("X-Response-Time", latency.String())

		// Query strings may carry tokens for WebSocket clients, so only the
		// path is logged.
		if path != "/health" || gin.Mode() == gin.DebugMode {
			logging.L().Info("http_request",
				"method", c.Request.Method,
				"path", path,
				"status", c.Writer.Status(),
				"latency", latency.String(),
				"ip", c.ClientIP(),
			)
		}
	}
}

// RateLimit throttles each client IP to requestsPerMinute with a token
// bucket, allowing bursts up to the full minute's budget.
func RateLimit(enabled bool, requestsPerMinute int) gin.HandlerFunc {
	if !enabled || requestsPerMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newRateLimiter(requestsPerMinute)

	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" {
			c.Next()
			return
		}

		if wait, ok := limiter.allow(c.ClientIP()); !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// IsOriginAllowed reports whether origin matches the allow list. Requests
// without an Origin header are not cross-origin and always pass.
func IsOriginAllowed(origin string, allowedOrigins []string) bool {
	if origin == "" {
		return true
	}

	for _, allowedOrigin := range allowedOrigins {
		normalized := strings.TrimSpace(allowedOrigin)
		if normalized == "" {
			continue
		}
		if normalized == "*" || normalized == origin {
			return true
		}
	}

	return false
}

// rateLimiter keeps one token bucket per client. Idle buckets are dropped
// once they would be full again.
type rateLimiter struct {
	capacity float64
	refill   float64 // tokens per second
	now      func() time.Time

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastCleanup time.Time
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func newRateLimiter(requestsPerMinute int) *rateLimiter {
	return &rateLimiter{
		capacity:    float64(requestsPerMinute),
		refill:      float64(requestsPerMinute) / 60,
		now:         time.Now,
		buckets:     make(map[string]*bucket),
		lastCleanup: time.Now(),
	}
}

// allow takes a token for key. When none is left it reports how long until
// the next one.
func (rl *rateLimiter) allow(key string) (time.Duration, bool) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastCleanup) > time.Minute {
		rl.cleanup(now)
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: rl.capacity, seen: now}
		rl.buckets[key] = b
	}
	b.tokens = math.Min(rl.capacity, b.tokens+now.Sub(b.seen).Seconds()*rl.refill)
	b.seen = now

	if b.tokens < 1 {
		return time.Duration((1 - b.tokens) / rl.refill * float64(time.Second)), false
	}
	b.tokens--
	return 0, true
}

func (rl *rateLimiter) cleanup(now time.Time) {
	fullAfter := time.Duration(rl.capacity / rl.refill * float64(time.Second))
	for key, b := range rl.buckets {
		if now.Sub(b.seen) >= fullAfter {
			delete(rl.buckets, key)
		}
	}
	rl.lastCleanup = now
}

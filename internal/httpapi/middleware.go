package httpapi

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shridarpatil/wagateway/internal/apperr"
	"github.com/shridarpatil/wagateway/internal/authn"
	"github.com/shridarpatil/wagateway/internal/cache"
)

// requestID stamps every request with a trace id, readable via
// c.GetString("request_id") from handlers and log lines alike — adapted
// from the teacher's request-scoped trace id convention (pkg/tracing).
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// requestLogging logs one structured line per request — adapted from the
// teacher's pkg/logger middleware.
func requestLogging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("http request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// cors is a permissive CORS default (AllowOrigins ["*"], no credentials),
// adapted from the teacher's middleware/cors.go default configuration —
// simplified to the single policy this gateway needs.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Instance-Id, X-Request-ID")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// rateLimit enforces API_RATE_LIMIT requests per window per client IP —
// spec.md §6. Backed by internal/cache so the counter is sharable across
// processes when REDIS_ADDR is configured, adapted from the teacher's
// middleware/ratelimit.go token-bucket (here a fixed-window counter,
// which maps directly onto Cache.IncrWithTTL).
func rateLimit(c2 cache.Cache, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ratelimit:" + c.ClientIP()
		n, err := c2.IncrWithTTL(c.Request.Context(), key, window)
		if err != nil {
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		remaining := limit - int(n)
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if int(n) > limit {
			respondError(c, apperr.New(429, "RATE_LIMITED", "too many requests"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// auth rejects requests that fail Authenticate.
func auth(a authn.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.Authenticate(c.Request); err != nil {
			respondError(c, apperr.AuthError.WithCause(err))
			c.Abort()
			return
		}
		c.Next()
	}
}

// recovery converts a panic into a 500 INTERNAL_ERROR instead of
// crashing the process — the gin default Recovery() writes a plaintext
// body, which doesn't match spec.md §6's JSON error envelope.
func recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered", zap.Any("panic", r), zap.String("request_id", c.GetString("request_id")))
				respondError(c, apperr.Internal)
				c.Abort()
			}
		}()
		c.Next()
	}
}

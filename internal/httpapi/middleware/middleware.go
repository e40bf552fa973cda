// Package middleware holds the gin middleware of the admin API.
//
// Order matters: RequestID, then Logger, then Recovery, so that access logs
// and panic reports carry the correlation id.
package middleware

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taskbot/internal/observability/metrics"
	logx "taskbot/pkg/logx"
)

const (
	requestIDKey = "requestID"
	loggerKey    = "logger"

	// RequestIDHeader propagates the correlation id.
	RequestIDHeader = "X-Request-ID"

	maxQueryLogLength = 1024
)

// RequestID reuses an incoming X-Request-ID or generates a UUIDv4.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(RequestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id set by RequestID, or "".
func RequestIDFrom(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

// Logger writes one access log line per request and stores a request-scoped
// logger for handlers. 5xx logs at error, 4xx at warn, the rest at debug.
func Logger(base logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		l := base.With(
			logx.String("request_id", RequestIDFrom(c)),
			logx.String("method", c.Request.Method),
			logx.String("path", path),
		)
		c.Set(loggerKey, l)

		c.Next()

		fields := []logx.Field{
			logx.String("remote_ip", c.ClientIP()),
			logx.String("query", truncate(c.Request.URL.RawQuery, maxQueryLogLength)),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("latency", time.Since(start)),
			logx.Int("bytes_out", c.Writer.Size()),
		}
		switch status := c.Writer.Status(); {
		case len(c.Errors) > 0:
			l.Error("request", append(fields, logx.String("errors", c.Errors.String()))...)
		case status >= 500:
			l.Error("request", fields...)
		case status >= 400:
			l.Warn("request", fields...)
		default:
			l.Debug("request", fields...)
		}
	}
}

// LoggerFrom returns the request-scoped logger, or fallback when Logger did
// not run.
func LoggerFrom(c *gin.Context, fallback logx.Logger) logx.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if l, ok := v.(logx.Logger); ok {
			return l
		}
	}
	return fallback
}

// Recovery turns a panic into the JSON 500 envelope.
func Recovery(base logx.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				rid := RequestIDFrom(c)
				LoggerFrom(c, base).Error("panic recovered",
					logx.Any("panic", rec),
					logx.Stack(string(debug.Stack())),
				)
				if c.Writer.Written() {
					c.AbortWithStatus(http.StatusInternalServerError)
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "internal_error",
					"message":    "internal server error",
					"request_id": rid,
				})
			}
		}()
		c.Next()
	}
}

// Metrics records request count, latency, in-flight and response size.
// The path label is the registered route so cardinality stays bounded.
func Metrics(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		inflight := m.HTTPInflight()
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, path, c.Writer.Status(), time.Since(start), c.Writer.Size())
	}
}

// BodyLimit caps request bodies at n bytes.
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}

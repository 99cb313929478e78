package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// requestMetrics records request count, latency and in-flight requests.
// Routes are labelled by their pattern, not the raw path.
func (s *Server) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		done := s.metrics.RequestStarted()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		done(c.Request.Method, route, c.Writer.Status())
	}
}

// requestLogger logs one line per request at debug level, or warn for 5xx.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"actor", requestActor(c),
		}
		if status >= 500 {
			slog.Warn("HTTP request failed", attrs...)
			return
		}
		if c.Request.Method != http.MethodGet && status < 400 {
			// State changes are attributed to the operator.
			slog.Info("HTTP request", attrs...)
			return
		}
		slog.Debug("HTTP request", attrs...)
	}
}

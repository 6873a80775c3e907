// Package middleware holds the gin middleware chain: correlation IDs,
// request validation limits, and per-request metrics.
package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/neurastack/gateway/internal/observability"
)

// Context keys set by the middleware chain.
const (
	KeyCorrelationID = "correlation_id"
	KeyUserID        = "user_id"
)

// Header names on the external interface.
const (
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderUserID        = "X-User-Id"
)

// CorrelationID ensures every request carries a correlation id and echoes it
// on the response. The X-User-Id header, when present, overrides the body's
// userId downstream.
func CorrelationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderCorrelationID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(KeyCorrelationID, id)
		c.Header(HeaderCorrelationID, id)

		if user := c.GetHeader(HeaderUserID); user != "" {
			c.Set(KeyUserID, user)
		}
		c.Next()
	}
}

// CorrelationIDFrom reads the correlation id placed by the middleware.
func CorrelationIDFrom(c *gin.Context) string {
	if id, ok := c.Get(KeyCorrelationID); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// UserIDFrom reads the header-supplied user id, empty when absent.
func UserIDFrom(c *gin.Context) string {
	if id, ok := c.Get(KeyUserID); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// BodyLimit rejects request bodies larger than maxBytes.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestLogger writes one structured line per request and records the
// request metrics.
func RequestLogger(logger *logrus.Logger, metrics *observability.Collector) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		status := c.Writer.Status()

		if metrics != nil {
			labels := []string{c.Request.Method, c.FullPath(), strconv.Itoa(status)}
			metrics.RequestDuration.WithLabelValues(labels...).Observe(elapsed.Seconds())
			metrics.RequestCount.WithLabelValues(labels...).Inc()
		}
		if logger != nil {
			entry := logger.WithFields(logrus.Fields{
				"method":         c.Request.Method,
				"path":           c.Request.URL.Path,
				"status":         status,
				"elapsed_ms":     elapsed.Milliseconds(),
				"correlation_id": CorrelationIDFrom(c),
			})
			if status >= 500 {
				entry.Error("request")
			} else {
				entry.Info("request")
			}
		}
	}
}

// Recovery converts panics into a 500 without killing the process.
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"panic":          r,
						"path":           c.Request.URL.Path,
						"correlation_id": CorrelationIDFrom(c),
					}).Error("panic recovered")
				}
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

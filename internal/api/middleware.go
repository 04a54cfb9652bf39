package api

import (
	"time"

	"billing-verify/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestContextMiddleware assigns each request an id, echoes it in the
// X-Request-ID header, and emits one access-log event with latency.
func RequestContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)

		started := time.Now()
		c.Next()

		logging.Event("http_request", map[string]interface{}{
			"request_id":  requestID,
			"path":        c.Request.URL.Path,
			"method":      c.Request.Method,
			"status_code": c.Writer.Status(),
			"latency_ms":  time.Since(started).Milliseconds(),
		})
	}
}

// RequestID returns the id assigned by RequestContextMiddleware.
func RequestID(c *gin.Context) string {
	if id, ok := c.Get("request_id"); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

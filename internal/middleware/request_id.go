package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the header carrying the correlation ID, both
	// inbound (a caller may supply its own for cross-service tracing) and
	// outbound (echoed so the caller can reference it, e.g. in
	// errors.ErrorResponse.RequestID, spec §7).
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key GetRequestID reads from.
	RequestIDKey = "request_id"
)

// RequestID assigns every request a correlation ID, reusing one supplied
// by the caller instead of minting a new one. Install first in the
// middleware chain so every later middleware and handler can call
// GetRequestID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// GetRequestID retrieves the current request's correlation ID, or "" if
// RequestID was never installed (e.g. an internal callback route that
// skips the external middleware stack).
func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(RequestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return ""
}

// ShortRequestID returns the first 8 characters of the request ID, for
// compact log lines where the full UUID is unnecessary noise.
func ShortRequestID(c *gin.Context) string {
	id := GetRequestID(c)
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

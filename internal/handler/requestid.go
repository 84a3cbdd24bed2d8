package handler

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequestIDHeader carries the correlation ID of a request.
const RequestIDHeader = "X-Request-ID"

const ctxRequestID = "auditledger_request_id"

// maxRequestIDLength bounds a caller-supplied X-Request-ID.
const maxRequestIDLength = 128

// RequestID returns a Gin middleware that propagates the caller's
// X-Request-ID, or assigns a new UUID when none was sent. The ID is echoed in
// the response and used for request logging.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := CallerRequestID(c)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ctxRequestID, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestIDFromCtx retrieves the ID injected by RequestID, or "" when the
// middleware is not installed.
func RequestIDFromCtx(c *gin.Context) string {
	return c.GetString(ctxRequestID)
}

// CallerRequestID returns the X-Request-ID the caller sent, or "" when it was
// absent or too long. Unlike RequestIDFromCtx it never returns a generated ID,
// so it can stand in for a producer's own correlation ID.
func CallerRequestID(c *gin.Context) string {
	id := strings.TrimSpace(c.GetHeader(RequestIDHeader))
	if len(id) > maxRequestIDLength {
		return ""
	}
	return id
}

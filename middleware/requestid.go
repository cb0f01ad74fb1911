package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderRequestID is the request/response header carrying the request ID.
const HeaderRequestID = "X-Request-Id"

// ContextRequestID is the gin context key holding the request ID.
const ContextRequestID = "request_id"

// RequestID injects a unique X-Request-Id header into every request/response.
// An incoming ID is kept so IDs stay stable across hops.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.New().String()
		}
		c.Set(ContextRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

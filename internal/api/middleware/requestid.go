package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/notebook/internal/shared/id"
	"github.com/GriffinCanCode/notebook/internal/shared/utils"
)

// RequestIDHeader carries the request identifier in both directions
const RequestIDHeader = "X-Request-ID"

const requestIDKey = "request_id"

// RequestID propagates a client supplied X-Request-ID or assigns a new one,
// and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(RequestIDHeader)
		if utils.ValidateID(rid, requestIDKey, true) != nil {
			rid = id.NewRequestID()
		}
		c.Set(requestIDKey, rid)
		c.Header(RequestIDHeader, rid)
		c.Next()
	}
}

// GetRequestID returns the identifier assigned by RequestID, if any
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

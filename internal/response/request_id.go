package response

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderDeviceID  = "X-Device-ID"

	// ContextKeyRequestID is the Gin context key for the request ID.
	ContextKeyRequestID = "request_id"
)

// maxRequestIDLen bounds shell-supplied IDs before they reach the logs.
const maxRequestIDLen = 64

// RequestID tags every request with a correlation ID and stamps the response
// with the kiosk's device ID, so on-device logs can be joined with the grading
// API's. An ID sent by the shell is kept when it is short printable ASCII;
// anything else is replaced with a time-ordered UUIDv7.
func RequestID(deviceID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		reqID := c.GetHeader(HeaderRequestID)
		if !validRequestID(reqID) {
			reqID = newRequestID()
		}
		c.Set(ContextKeyRequestID, reqID)
		c.Header(HeaderRequestID, reqID)
		if deviceID != "" {
			c.Header(HeaderDeviceID, deviceID)
		}
		c.Next()
	}
}

// RequestIDFrom returns the ID assigned by RequestID, or "" when the
// middleware did not run.
func RequestIDFrom(c *gin.Context) string {
	v, _ := c.Get(ContextKeyRequestID)
	id, _ := v.(string)
	return id
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < '!' || id[i] > '~' {
			return false
		}
	}
	return true
}

// Package httpapi carries the response conventions shared by every
// socialmesh service: the `{success, message}` error body, the status
// codes of the error taxonomy, and the identity header contract between
// the gateway and the backends.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HeaderUserID is the identity header injected by the gateway. It is the
// sole mechanism by which backend services trust a caller's identity.
const HeaderUserID = "x-user-id"

// ErrorBody is the error response shape shared by all services.
type ErrorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Error writes a standard error body with the given status.
func Error(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorBody{Success: false, Message: message})
}

// AbortError writes a standard error body and aborts the handler chain.
func AbortError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorBody{Success: false, Message: message})
}

// RateLimited writes the 429 response mandated for exceeded quotas.
func RateLimited(c *gin.Context) {
	AbortError(c, http.StatusTooManyRequests, "Too many requests")
}

const userIDKey = "httpapi.userID"

// RequireUserID guards backend routes that expect the gateway-injected
// identity header. Requests without it are rejected before the handler runs.
func RequireUserID() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(HeaderUserID)
		if userID == "" {
			AbortError(c, http.StatusUnauthorized, "Not logged in")
			return
		}
		c.Set(userIDKey, userID)
		c.Next()
	}
}

// UserID returns the identity attached by RequireUserID, or "".
func UserID(c *gin.Context) string {
	return c.GetString(userIDKey)
}

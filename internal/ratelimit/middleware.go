package ratelimit

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/avelis/socialmesh/internal/httpapi"
)

// Middleware enforces the limiter on every request it wraps. Limiter
// errors fail open; the counter store is not allowed to take the
// service down.
func Middleware(limiter Limiter, keyFunc KeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = ClientKey
	}
	return func(c *gin.Context) {
		result, err := limiter.Allow(c.Request.Context(), keyFunc(c.Request))
		if err != nil {
			c.Next()
			return
		}
		if !result.Allowed {
			if result.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds()+1)))
			}
			httpapi.RateLimited(c)
			return
		}
		c.Next()
	}
}

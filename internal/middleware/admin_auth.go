package middleware

import (
	"crypto/subtle"
	"net/http"

	"voucher-api/internal/response"

	"github.com/gin-gonic/gin"
)

// AdminAuthMiddleware guards admin routes with a shared key presented in
// the X-Admin-Key header. An empty configured key disables admin access
// entirely rather than leaving the routes open.
func AdminAuthMiddleware(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		presented := c.GetHeader("X-Admin-Key")
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) != 1 {
			response.ErrorJSON(c, http.StatusUnauthorized, "unauthorized", "Missing or invalid admin key")
			c.Abort()
			return
		}
		c.Next()
	}
}

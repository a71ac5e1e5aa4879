package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/arcade-kiosk/server/internal/auth"
	"github.com/arcade-kiosk/server/pkg/response"
)

// RequireAdmin returns a middleware that allows only operator basic-auth credentials.
func RequireAdmin(admin *auth.AdminAuth) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, pass, ok := c.Request.BasicAuth()
		if !ok || !admin.Check(user, pass) {
			c.Header("WWW-Authenticate", `Basic realm="kiosk-admin"`)
			response.Unauthorized(c, "admin credentials required")
			c.Abort()
			return
		}
		c.Next()
	}
}

package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/arcade-kiosk/server/internal/auth"
	"github.com/arcade-kiosk/server/pkg/response"
)

// ContextCredential is the key for the caller's auth.Credential in gin context.
const ContextCredential = "credential"

// Credential reads the caller's API key or bearer token into the context.
// It never rejects; handlers that know which device is acting consult the gate.
func Credential() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextCredential, auth.CredentialFromRequest(c.Request))
		c.Next()
	}
}

// CredentialFrom returns the credential stored by Credential, or reads it from the request.
func CredentialFrom(c *gin.Context) auth.Credential {
	if v, ok := c.Get(ContextCredential); ok {
		if cred, ok := v.(auth.Credential); ok {
			return cred
		}
	}
	return auth.CredentialFromRequest(c.Request)
}

// RequireKiosk allows only callers the gate accepts for the kiosk named by the route param.
func RequireKiosk(gate auth.Gate, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !gate.AllowKiosk(CredentialFrom(c), c.Param(param)) {
			response.Unauthorized(c, "kiosk credential required")
			c.Abort()
			return
		}
		c.Next()
	}
}

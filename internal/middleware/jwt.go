package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/engagement/internal/auth"
	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/response"
)

// ContextIdentity is the key for the caller's models.Identity in gin context.
const ContextIdentity = "identity"

// JWT returns a middleware that validates the bearer token and sets the
// caller's identity in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextIdentity, claims.Identity())
		c.Next()
	}
}

// Identity returns the identity set by JWT. Handlers behind the middleware can
// rely on it being present.
func Identity(c *gin.Context) models.Identity {
	v, _ := c.Get(ContextIdentity)
	identity, _ := v.(models.Identity)
	return identity
}

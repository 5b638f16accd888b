package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-classroom/engagement/internal/models"
	"github.com/aura-classroom/engagement/pkg/apperror"
	"github.com/aura-classroom/engagement/pkg/response"
)

// StaffOnly admits teachers and admins. Whether a teacher runs the particular
// session is decided by the coordinator.
var StaffOnly = RequireRole(models.RoleTeacher, models.RoleAdmin)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextIdentity); !ok {
			response.Unauthorized(c, "missing identity")
			c.Abort()
			return
		}
		if _, ok := allowed[Identity(c).Role]; !ok {
			response.Error(c, apperror.PermissionDenied("insufficient role"))
			c.Abort()
			return
		}
		c.Next()
	}
}

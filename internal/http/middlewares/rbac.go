package middlewares

import (
	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/geocoder89/aegisapi/internal/rbac"
	"github.com/gin-gonic/gin"
)

// RequirePermission must run after RequireAuth.
func RequirePermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserIDFromContext(c); !ok {
			handlers.AbortErr(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Missing identity context"))
			return
		}

		perms := rbac.PermissionsFor(RolesFromContext(c))
		if !rbac.Allows(perms, resource, action) {
			handlers.AbortErr(c, apperr.Forbidden("Insufficient permissions").
				WithDetails(map[string]string{"required": rbac.Perm(resource, action)}))
			return
		}
		c.Next()
	}
}

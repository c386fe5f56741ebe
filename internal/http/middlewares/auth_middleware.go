package middlewares

import (
	"strings"

	"github.com/geocoder89/aegisapi/internal/actorctx"
	"github.com/geocoder89/aegisapi/internal/apperr"
	"github.com/geocoder89/aegisapi/internal/auth"
	"github.com/geocoder89/aegisapi/internal/http/handlers"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type TokenVerifier interface {
	VerifyAccessToken(token string) (*auth.Claims, error)
}

type AuthMiddleware struct {
	jwt TokenVerifier
}

func NewAuthMiddleware(jwt TokenVerifier) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwt}
}

// RequireAuth accepts a Bearer access token. An expired token answers
// TOKEN_EXPIRED so clients know to refresh instead of logging in again.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			handlers.AbortErr(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Missing or invalid Authorization header"))
			return
		}

		raw := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if raw == "" {
			handlers.AbortErr(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Missing access token"))
			return
		}

		claims, err := m.jwt.VerifyAccessToken(raw)
		if err != nil {
			if auth.IsExpired(err) {
				handlers.AbortErr(c, apperr.Unauthorized(apperr.CodeTokenExpired, "Access token expired"))
				return
			}
			handlers.AbortErr(c, apperr.Unauthorized(apperr.CodeUnauthorized, "Invalid access token"))
			return
		}

		roles := claims.Roles
		if len(roles) == 0 && claims.Role != "" {
			roles = []string{claims.Role}
		}

		c.Set(CtxUserID, claims.UserID)
		c.Set(CtxEmail, claims.Email)
		c.Set(CtxRoles, roles)
		c.Request = c.Request.WithContext(actorctx.With(c.Request.Context(), actorctx.Actor{
			UserID: claims.UserID,
			Roles:  roles,
		}))

		c.Next()
	}
}

// Optional helpers so handlers don't need to know the magic keys.

func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserID)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok && id != ""
}

func RolesFromContext(c *gin.Context) []string {
	v, ok := c.Get(CtxRoles)
	if !ok {
		return nil
	}
	roles, _ := v.([]string)
	return roles
}

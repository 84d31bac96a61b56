package http

import (
	"net/http"

	"github.com/dkeye/Dial/internal/app"
	"github.com/dkeye/Dial/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

const (
	HeaderUserID  = "X-User-ID"
	sessionUIDKey = "uid"
	ctxUserKey    = "user_id"
)

// IdentityMiddleware resolves the caller identity from the X-User-ID header,
// falling back to the session cookie. Identity is asserted, not verified.
func IdentityMiddleware(reg *app.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid := domain.UserID(c.GetHeader(HeaderUserID))
		if uid == "" {
			if v, ok := sessions.Default(c).Get(sessionUIDKey).(string); ok {
				uid = domain.UserID(v)
			}
		}
		if err := domain.ValidateUserID(uid); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "identity required"})
			return
		}
		reg.GetOrCreateUser(uid)
		c.Set(ctxUserKey, string(uid))
		c.Next()
	}
}

func currentUser(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(ctxUserKey))
}

package middlewares

import (
	"context"
	"net/http"
	"strings"

	"github.com/geocoder89/accounthub/internal/apperr"
	"github.com/geocoder89/accounthub/internal/domain/user"
	"github.com/gin-gonic/gin"
)

// Keep this small interface so tests can fake it easily.
type Authenticator interface {
	Authenticate(ctx context.Context, rawToken string) (user.User, error)
}

type AuthMiddleware struct {
	auth Authenticator
}

func NewAuthMiddleware(auth Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: auth}
}

func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")

		scheme, raw, ok := strings.Cut(authHeader, " ")
		raw = strings.TrimSpace(raw)

		if !ok || scheme != "Bearer" || raw == "" {
			abortUnauthorized(c)
			return
		}

		u, err := m.auth.Authenticate(c.Request.Context(), raw)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindUnauthorized {
				abortUnauthorized(c)
				return
			}

			c.Error(err) //nolint:errcheck
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "internal_error",
				"message": "Internal server error",
			})
			return
		}

		// Stash the resolved user so handlers do not reload it
		c.Set(ctxUserKey, u)

		c.Next()
	}
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "unauthorized",
		"message": "Not authorized",
	})
}

// CurrentUser returns the user RequireAuth resolved for this request.
func CurrentUser(c *gin.Context) (user.User, bool) {
	v, ok := c.Get(ctxUserKey)
	if !ok {
		return user.User{}, false
	}
	u, ok := v.(user.User)
	return u, ok
}

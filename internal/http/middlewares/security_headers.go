package middlewares

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	defaultCSP = "default-src 'none'"
	// avatars are rendered by browsers directly from /avatars
	avatarCSP = "default-src 'none'; img-src 'self'"
)

func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("X-XSS-Protection", "0")
		if strings.HasPrefix(c.Request.URL.Path, "/avatars/") {
			c.Header("Content-Security-Policy", avatarCSP)
		} else {
			c.Header("Content-Security-Policy", defaultCSP)
		}
		c.Next()
	}
}

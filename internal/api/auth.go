package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth admits requests carrying "Authorization: Bearer <token>". With
// no token configured every request is rejected.
func BearerAuth(token string) gin.HandlerFunc {
	want := []byte(token)

	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorEnvelope("UNAUTHORIZED", "missing or invalid bearer token", nil))
			return
		}
		c.Next()
	}
}

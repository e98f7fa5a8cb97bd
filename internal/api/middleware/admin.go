package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RequireSystemAdmin returns middleware that gates a route group on the
// caller's system-administrator flag. Resource-scoped permission checks
// (ownership, shares, hierarchy walk) belong to the permission evaluator;
// this guard only covers the flat admin surface.
func RequireSystemAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := GetUserContext(c.Request.Context())
		if caller.UserID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": "UNAUTHORIZED", "message": "not authenticated",
			})
			return
		}
		if !caller.SystemAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "administrator access required",
			})
			return
		}
		c.Next()
	}
}

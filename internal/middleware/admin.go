package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lexgig/lexgig-backend/internal/common"
)

// RequireAdmin checks that the authenticated user has admin level
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !GetPrincipal(c).IsAdmin() {
			common.ErrorResponse(c, http.StatusForbidden, "Admin privileges required", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

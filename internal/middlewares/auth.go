package middlewares

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Gopher0727/CineMatch/middleware/jwt"
)

// AuthMiddleware JWT 认证中间件
// 先取 Authorization: Bearer，再取 ?token=
func AuthMiddleware(tm *jwt.TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := tm.Authenticate(c.Request)
		if err != nil {
			message := "invalid or expired token"
			if errors.Is(err, jwt.ErrMissingToken) {
				message = "missing token"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    http.StatusUnauthorized,
				"message": message,
			})
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("username", claims.Username)
		c.Next()
	}
}

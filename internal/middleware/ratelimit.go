package middleware

import (
	"marketai-go/internal/service"

	"github.com/gin-gonic/gin"
)

// LoginRateLimit 按客户端 IP 限制登录尝试次数。
func LoginRateLimit(userService service.UserService, onError ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := userService.AllowLogin(c.Request.Context(), c.ClientIP()); err != nil {
			onError(c, err)
			return
		}
		c.Next()
	}
}

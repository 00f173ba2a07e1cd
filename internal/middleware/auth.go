// Package middleware 提供了处理 HTTP 请求的中间件。
package middleware

import (
	"strings"

	"marketai-go/internal/model"
	"marketai-go/internal/service"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"
	"marketai-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Gin 上下文中保存认证信息的 key。
const (
	ContextUser   = "user"
	ContextClaims = "claims"
	ContextToken  = "token"
)

// ErrorWriter 把 apperr 错误写成响应并中止请求。
// 不同路由组的错误信封不同，由路由装配时传入。
type ErrorWriter func(c *gin.Context, err error)

// AuthMiddleware 创建一个 Gin 中间件，用于 JWT 认证。
// 它会从请求头中提取 access token，拒绝已登出的 token，并将完整的 User 对象存入 Gin 的上下文中。
func AuthMiddleware(jwtManager *token.JWTManager, userService service.UserService, onError ErrorWriter) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 Authorization 请求头中获取 token
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			onError(c, apperr.New(apperr.KindUnauthorized, "Missing authorization header"))
			return
		}

		// Token 以 "Bearer <token>" 的形式提供，scheme 大小写不敏感
		scheme, tokenString, found := strings.Cut(authHeader, " ")
		tokenString = strings.TrimSpace(tokenString)
		if !found || !strings.EqualFold(scheme, "Bearer") || tokenString == "" {
			onError(c, apperr.New(apperr.KindUnauthorized, "Invalid authorization header format"))
			return
		}

		claims, err := jwtManager.VerifyTokenOfType(tokenString, token.TypeAccess)
		if err != nil {
			log.Debugf("rejecting token: %v", err)
			onError(c, apperr.Wrap(apperr.KindUnauthorized, "Invalid or expired token", err))
			return
		}

		revoked, err := userService.IsTokenRevoked(c.Request.Context(), tokenString)
		if err != nil {
			onError(c, err)
			return
		}
		if revoked {
			onError(c, apperr.New(apperr.KindUnauthorized, "Token has been revoked"))
			return
		}

		// 根据 token 中的用户 ID 从数据库获取完整的用户信息，用户可能已被删除
		user, err := userService.GetProfile(c.Request.Context(), claims.UserID)
		if err != nil {
			onError(c, apperr.Wrap(apperr.KindUnauthorized, "User no longer exists", err))
			return
		}

		c.Set(ContextUser, user)
		c.Set(ContextClaims, claims)
		c.Set(ContextToken, tokenString)
		c.Next()
	}
}

// CurrentUser 返回 AuthMiddleware 存入的用户。
func CurrentUser(c *gin.Context) (*model.User, bool) {
	v, ok := c.Get(ContextUser)
	if !ok {
		return nil, false
	}
	user, ok := v.(*model.User)
	return user, ok
}

// CurrentToken 返回当前请求使用的 access token。
func CurrentToken(c *gin.Context) string {
	return c.GetString(ContextToken)
}

package handler

import (
	"marketai-go/internal/middleware"
	"marketai-go/internal/service"
	"marketai-go/pkg/token"

	"github.com/gin-gonic/gin"
)

// Services 是路由依赖的业务服务集合。
type Services struct {
	JWT        *token.JWTManager
	Users      service.UserService
	History    service.HistoryService
	Generation service.GenerationService
	// Share 为 nil 时分享接口返回 configuration 错误
	Share service.ShareService
}

// NewRouter 创建路由引擎并注册全部路由。
func NewRouter(s Services) *gin.Engine {
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	r.Use(middleware.RequestLogger(), gin.Recovery(), middleware.CORS())

	userHandler := NewUserHandler(s.Users)
	authHandler := NewAuthHandler(s.Users)
	if s.Share == nil {
		s.Share = service.NewShareService(s.History, nil, 0)
	}
	historyHandler := NewHistoryHandler(s.History, s.Share)
	generationHandler := NewGenerationHandler(s.Generation)

	apiAuth := middleware.AuthMiddleware(s.JWT, s.Users, AbortAPI)

	apiV1 := r.Group("/api/v1")
	{
		// Auth 路由组 (公开访问)
		auth := apiV1.Group("/auth")
		{
			auth.POST("/refreshToken", authHandler.RefreshToken)
			auth.POST("/forgot-password", authHandler.ForgotPassword)
			auth.POST("/reset-password", authHandler.ResetPassword)
		}

		users := apiV1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", middleware.LoginRateLimit(s.Users, AbortAPI), userHandler.Login)

			// 需要认证的路由 (仅限登录用户访问)
			authed := users.Group("")
			authed.Use(apiAuth)
			{
				authed.GET("/me", userHandler.GetProfile)
				authed.PUT("/me", userHandler.UpdateProfile)
				authed.POST("/logout", userHandler.Logout)
				authed.PUT("/password", userHandler.ChangePassword)
			}
		}

		history := apiV1.Group("/history")
		history.Use(apiAuth)
		{
			history.GET("", historyHandler.List)
			history.POST("", historyHandler.Create)
			history.PUT("/:id", historyHandler.Update)
			history.DELETE("/:id", historyHandler.Delete)
			history.GET("/:id/export", historyHandler.Export)
			history.POST("/:id/share", historyHandler.Share)
		}

		// 生成代理路由组，错误信封为 {error, kind}
		generate := apiV1.Group("/generate")
		generate.Use(middleware.AuthMiddleware(s.JWT, s.Users, AbortProxy))
		{
			generate.POST("/ads", generationHandler.Ads)
			generate.POST("/seo", generationHandler.SEO)
			generate.POST("/social", generationHandler.Social)
		}
	}
	return r
}

package handler

import (
	"net/http"

	"marketai-go/internal/service"
	"marketai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// AuthHandler 负责处理不需要登录态的认证请求：刷新 token 与找回密码。
type AuthHandler struct {
	userService service.UserService
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(userService service.UserService) *AuthHandler {
	return &AuthHandler{userService: userService}
}

// RefreshTokenRequest 定义了刷新 token API 的请求体结构。
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// RefreshToken 处理刷新 token 的请求。
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req RefreshTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}

	pair, err := h.userService.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		log.Warnf("RefreshToken: Failed to refresh token, error: %v", err)
		AbortAPI(c, err)
		return
	}

	log.Info("Token refreshed successfully")
	ok(c, http.StatusOK, "Token refreshed successfully", pair)
}

// ForgotPasswordRequest 定义了找回密码 API 的请求体结构。
type ForgotPasswordRequest struct {
	Email string `json:"email" binding:"required"`
}

// ForgotPassword 无论邮箱是否存在都返回 200。
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req ForgotPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}
	if err := h.userService.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "If an account exists for this email, a reset link has been sent", nil)
}

// ResetPasswordRequest 定义了重置密码 API 的请求体结构。
type ResetPasswordRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"newPassword" binding:"required"`
}

// ResetPassword 使用重置 token 设置新密码。
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}
	if err := h.userService.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "Password has been reset", nil)
}

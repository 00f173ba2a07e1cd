package handler

import (
	"net/http"

	"marketai-go/internal/middleware"
	"marketai-go/internal/service"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// UserHandler 负责处理所有与普通用户相关的 API 请求。
type UserHandler struct {
	userService service.UserService
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService service.UserService) *UserHandler {
	return &UserHandler{userService: userService}
}

// RegisterRequest 定义了用户注册 API 的请求体结构。
type RegisterRequest struct {
	Email       string `json:"email" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
}

// Register 处理用户注册请求，成功后与登录返回相同的结构。
func (h *UserHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}

	res, err := h.userService.Register(c.Request.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		log.Warnf("Register: registration failed, error: %v", err)
		AbortAPI(c, err)
		return
	}

	log.Infof("User %d registered successfully", res.User.ID)
	ok(c, http.StatusCreated, "User registered successfully", res)
}

// LoginRequest 定义了用户登录 API 的请求体结构。
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login 处理用户登录请求。
func (h *UserHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}

	res, err := h.userService.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.Warnf("Login: authentication failed from %s, error: %v", c.ClientIP(), err)
		AbortAPI(c, err)
		return
	}

	ok(c, http.StatusOK, "Login successful", res)
}

// GetProfile 返回当前登录用户的信息。
func (h *UserHandler) GetProfile(c *gin.Context) {
	user, found := middleware.CurrentUser(c)
	if !found {
		AbortAPI(c, apperr.New(apperr.KindUnauthorized, "Authentication required"))
		return
	}
	ok(c, http.StatusOK, "success", user)
}

// UpdateProfileRequest 定义了修改资料 API 的请求体结构。
type UpdateProfileRequest struct {
	DisplayName string `json:"displayName" binding:"required"`
}

// UpdateProfile 修改当前用户的显示名。
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	var req UpdateProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}
	user, err := h.userService.UpdateProfile(c.Request.Context(), userID, req.DisplayName)
	if err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "Profile updated", user)
}

// Logout 将当前 access token 加入黑名单。
func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.userService.Logout(c.Request.Context(), middleware.CurrentToken(c)); err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "Logged out successfully", nil)
}

// ChangePasswordRequest 定义了修改密码 API 的请求体结构。
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required"`
}

// ChangePassword 校验当前密码后设置新密码。
func (h *UserHandler) ChangePassword(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}
	if err := h.userService.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "Password updated successfully", nil)
}

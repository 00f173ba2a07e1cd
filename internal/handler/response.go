// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"

	"marketai-go/internal/middleware"
	"marketai-go/pkg/apperr"
	"marketai-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// ok 写出 {code, message, data} 成功信封。
func ok(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, gin.H{"code": status, "message": message, "data": data})
}

// publicMessage 返回可以展示给调用方的错误信息，内部错误不暴露原因。
func publicMessage(err error) (apperr.Kind, int, string) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	var e *apperr.Error
	if !errors.As(err, &e) {
		return kind, status, "Internal server error"
	}
	if status >= http.StatusInternalServerError && kind == apperr.KindInternal {
		log.Error("request failed", err)
	}
	return kind, status, e.Message
}

// AbortAPI 以 {code, message, kind} 信封写出错误，用于 /users、/auth、/history。
func AbortAPI(c *gin.Context, err error) {
	kind, status, msg := publicMessage(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"code": status, "message": msg, "kind": kind})
}

// AbortProxy 以 {error, kind} 形式写出错误，用于 /generate。
func AbortProxy(c *gin.Context, err error) {
	kind, status, msg := publicMessage(err)
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": kind})
}

var (
	_ middleware.ErrorWriter = AbortAPI
	_ middleware.ErrorWriter = AbortProxy
)

func badRequest(c *gin.Context, onError middleware.ErrorWriter, err error) {
	log.Warnf("invalid request payload on %s: %v", c.FullPath(), err)
	onError(c, apperr.Wrap(apperr.KindValidation, "Invalid request payload", err))
}

// mustUser 读取认证用户；路由未挂 AuthMiddleware 时视为未认证。
func mustUser(c *gin.Context, onError middleware.ErrorWriter) (uint, bool) {
	user, found := middleware.CurrentUser(c)
	if !found {
		onError(c, apperr.New(apperr.KindUnauthorized, "Authentication required"))
		return 0, false
	}
	return user.ID, true
}

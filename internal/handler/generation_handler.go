package handler

import (
	"net/http"

	"marketai-go/internal/model"
	"marketai-go/internal/service"

	"github.com/gin-gonic/gin"
)

// GenerationHandler 暴露三个文案生成代理端点，错误以 {error, kind} 返回。
type GenerationHandler struct {
	generationService service.GenerationService
}

// NewGenerationHandler 创建一个新的 GenerationHandler。
func NewGenerationHandler(generationService service.GenerationService) *GenerationHandler {
	return &GenerationHandler{generationService: generationService}
}

// Ads 生成 Google Ads 标题与描述。
func (h *GenerationHandler) Ads(c *gin.Context) {
	var req model.AdsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortProxy, err)
		return
	}
	userID, authed := mustUser(c, AbortProxy)
	if !authed {
		return
	}
	res, err := h.generationService.GenerateAds(c.Request.Context(), userID, req)
	if err != nil {
		AbortProxy(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// SEO 生成关键词列表。
func (h *GenerationHandler) SEO(c *gin.Context) {
	var req model.SEORequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortProxy, err)
		return
	}
	userID, authed := mustUser(c, AbortProxy)
	if !authed {
		return
	}
	res, err := h.generationService.GenerateSEO(c.Request.Context(), userID, req)
	if err != nil {
		AbortProxy(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Social 生成社交媒体文案。
func (h *GenerationHandler) Social(c *gin.Context) {
	var req model.SocialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortProxy, err)
		return
	}
	userID, authed := mustUser(c, AbortProxy)
	if !authed {
		return
	}
	res, err := h.generationService.GenerateSocial(c.Request.Context(), userID, req)
	if err != nil {
		AbortProxy(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

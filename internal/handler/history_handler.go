package handler

import (
	"fmt"
	"net/http"

	"marketai-go/internal/export"
	"marketai-go/internal/service"
	"marketai-go/pkg/apperr"

	"github.com/gin-gonic/gin"
)

// HistoryHandler 处理已保存生成结果的增删改查与导出。
type HistoryHandler struct {
	historyService service.HistoryService
	shareService   service.ShareService
}

// NewHistoryHandler 创建一个新的 HistoryHandler。
func NewHistoryHandler(historyService service.HistoryService, shareService service.ShareService) *HistoryHandler {
	return &HistoryHandler{historyService: historyService, shareService: shareService}
}

// List 按创建时间倒序返回当前用户的记录，可用 ?toolType= 过滤，?q= 搜索 input/output。
func (h *HistoryHandler) List(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	items, err := h.historyService.Search(c.Request.Context(), userID, c.Query("toolType"), c.Query("q"))
	if err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "success", items)
}

// Create 保存一条生成结果，返回带服务端 id 与时间戳的记录。
func (h *HistoryHandler) Create(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	var req service.CreateHistoryInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}
	item, err := h.historyService.Create(c.Request.Context(), userID, req)
	if err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusCreated, "Saved to history", item)
}

// UpdateHistoryRequest 只允许修改 output。
type UpdateHistoryRequest struct {
	Output string `json:"output" binding:"required"`
}

// Update 修改记录的 output。
func (h *HistoryHandler) Update(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	var req UpdateHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, AbortAPI, err)
		return
	}
	item, err := h.historyService.UpdateOutput(c.Request.Context(), userID, c.Param("id"), req.Output)
	if err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "History item updated", item)
}

// Delete 删除一条记录，成功返回 204。
func (h *HistoryHandler) Delete(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	if err := h.historyService.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		AbortAPI(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Export 以附件形式下载一条记录，?format=txt|md|json|yaml。
func (h *HistoryHandler) Export(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	exporter, err := export.NewExporter(c.DefaultQuery("format", "txt"))
	if err != nil {
		AbortAPI(c, apperr.Wrap(apperr.KindValidation, err.Error(), err))
		return
	}
	item, err := h.historyService.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		AbortAPI(c, err)
		return
	}

	// 先写入缓冲区，导出失败时仍能返回错误信封
	data, err := export.Render(item, exporter)
	if err != nil {
		AbortAPI(c, apperr.Wrap(apperr.KindInternal, "failed to export history item", err))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, export.Filename(item, exporter)))
	c.Data(http.StatusOK, export.ContentType(exporter), data)
}

// Share 把导出文件上传到对象存储，返回限时下载链接。
func (h *HistoryHandler) Share(c *gin.Context) {
	userID, authed := mustUser(c, AbortAPI)
	if !authed {
		return
	}
	link, err := h.shareService.Share(c.Request.Context(), userID, c.Param("id"), c.DefaultQuery("format", "txt"))
	if err != nil {
		AbortAPI(c, err)
		return
	}
	ok(c, http.StatusOK, "Share link created", link)
}

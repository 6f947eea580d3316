package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"markui-go/internal/service"
	"markui-go/pkg/log"
)

// DocumentHandler 负责处理所有与源文档管理相关的 API 请求。
type DocumentHandler struct {
	docService service.DocumentService
	storage    service.StorageService
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(docService service.DocumentService, storage service.StorageService) *DocumentHandler {
	return &DocumentHandler{docService: docService, storage: storage}
}

// Upload 处理 PDF 上传请求。响应返回后异步触发一次存储用量检查。
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "缺少上传文件"})
		return
	}

	doc, err := h.docService.Upload(c.Request.Context(), file)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)

	// 上传可能使存储突破上限，响应之后在后台检查一次
	go func() {
		if _, err := h.storage.TriggerCleanupIfNeeded(context.Background()); err != nil {
			log.Errorf("[Upload] 上传后的存储检查失败: %v", err)
		}
	}()
}

// List 返回文档列表（按创建时间倒序，分页）。
func (h *DocumentHandler) List(c *gin.Context) {
	page, perPage := pagination(c)
	docs, total, err := h.docService.List(c.Request.Context(), page, perPage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documents": docs,
		"total":     total,
		"page":      page,
		"per_page":  perPage,
	})
}

// Get 返回单个文档并刷新其最近访问时间。
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.docService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// Download 以原始文件名下载源 PDF。
func (h *DocumentHandler) Download(c *gin.Context) {
	path, originalName, err := h.docService.DownloadPath(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(path, originalName)
}

// Delete 级联删除文档：任务、产物、预览图、源文件与记录。
func (h *DocumentHandler) Delete(c *gin.Context) {
	if err := h.docService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "文档已删除"})
}

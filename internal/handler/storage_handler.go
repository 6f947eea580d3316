package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"markui-go/internal/service"
)

// StorageHandler 负责处理存储治理相关的 API 请求。
type StorageHandler struct {
	storageService service.StorageService
}

// NewStorageHandler 创建一个新的 StorageHandler 实例。
func NewStorageHandler(storageService service.StorageService) *StorageHandler {
	return &StorageHandler{storageService: storageService}
}

// Info 返回当前存储用量、上限与使用百分比。
func (h *StorageHandler) Info(c *gin.Context) {
	info, err := h.storageService.StorageInfo(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Cleanup 立即执行一轮容量回收并返回统计。
func (h *StorageHandler) Cleanup(c *gin.Context) {
	stats, err := h.storageService.CheckAndCleanup(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

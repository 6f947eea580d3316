package handler

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"markui-go/internal/model"
	"markui-go/internal/probe"
	"markui-go/internal/resolver"
	"markui-go/internal/service"
	"markui-go/pkg/files"
	"markui-go/pkg/log"
)

// JobHandler 负责处理所有与转换任务相关的 API 请求。
type JobHandler struct {
	jobService      service.JobService
	settingsService service.SettingsService
	files           *files.Manager
}

// NewJobHandler 创建一个新的 JobHandler 实例。
func NewJobHandler(jobService service.JobService, settingsService service.SettingsService, fm *files.Manager) *JobHandler {
	return &JobHandler{jobService: jobService, settingsService: settingsService, files: fm}
}

// CreateJobRequest 定义了任务创建 API 的请求体结构。
type CreateJobRequest struct {
	DocumentID string            `json:"document_id" binding:"required"`
	Options    *model.JobOptions `json:"options"`
}

// Create 创建转换任务：解析配置、验证凭证、入队后立即返回。
func (h *JobHandler) Create(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	job, err := h.jobService.Submit(c.Request.Context(), req.DocumentID, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Redacted())
}

// List 返回任务列表（最新在前，分页，可按状态过滤）。
func (h *JobHandler) List(c *gin.Context) {
	page, perPage := pagination(c)
	status := c.Query("status")

	jobs, total, err := h.jobService.List(c.Request.Context(), page, perPage, status)
	if err != nil {
		respondError(c, err)
		return
	}
	redacted := make([]*model.ConversionJob, 0, len(jobs))
	for _, job := range jobs {
		redacted = append(redacted, job.Redacted())
	}
	c.JSON(http.StatusOK, gin.H{
		"jobs":     redacted,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// Get 返回单个任务，用于状态轮询。
func (h *JobHandler) Get(c *gin.Context) {
	job, err := h.jobService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Redacted())
}

// Cancel 取消尚未开始执行的任务。
func (h *JobHandler) Cancel(c *gin.Context) {
	job, err := h.jobService.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job.Redacted())
}

// Result 返回已完成任务的产物内容与图片 URL 列表。
func (h *JobHandler) Result(c *gin.Context) {
	result, err := h.jobService.Result(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Download 把任务产物目录打包为 zip 下载，发送后删除临时文件。
func (h *JobHandler) Download(c *gin.Context) {
	jobID := c.Param("id")
	job, err := h.jobService.Get(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	if job.Status != model.StatusCompleted {
		c.JSON(http.StatusBadRequest, gin.H{"error": "任务尚未完成，无法下载产物"})
		return
	}

	zipPath, err := h.files.ZipJobDir(jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	defer func() {
		if err := os.Remove(zipPath); err != nil {
			log.Warnf("[Download] 删除临时压缩包失败: %v", err)
		}
	}()
	c.FileAttachment(zipPath, "job_"+jobID+".zip")
}

// Delete 删除任务记录及其产物目录。
func (h *JobHandler) Delete(c *gin.Context) {
	if err := h.jobService.Delete(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "任务已删除"})
}

// Defaults 返回结合用户设置后的任务创建缺省值。
func (h *JobHandler) Defaults(c *gin.Context) {
	settings, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resolver.Defaults(settings))
}

// ServiceRequirements 返回各 AI 服务启用所需字段的静态映射。
func (h *JobHandler) ServiceRequirements(c *gin.Context) {
	c.JSON(http.StatusOK, probe.Requirements())
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"markui-go/internal/model"
	"markui-go/internal/probe"
	"markui-go/internal/service"
)

// SettingsHandler 负责处理用户设置与 AI 服务探测相关的 API 请求。
type SettingsHandler struct {
	settingsService service.SettingsService
	prober          probe.Prober
}

// NewSettingsHandler 创建一个新的 SettingsHandler 实例。
func NewSettingsHandler(settingsService service.SettingsService, prober probe.Prober) *SettingsHandler {
	return &SettingsHandler{settingsService: settingsService, prober: prober}
}

// settingsView 是对外的设置视图：API Key 绝不回显，只暴露 has_* 布尔位。
func settingsView(s *model.UserSettings) gin.H {
	return gin.H{
		"theme":                 s.Theme,
		"default_output_format": s.DefaultOutputFormat,
		"default_use_llm":       s.DefaultUseLLM,
		"default_llm_service":   s.DefaultLLMService,
		"default_force_ocr":     s.DefaultForceOCR,
		"default_format_lines":  s.DefaultFormatLines,
		"has_gemini_api_key":    s.GeminiAPIKey != "",
		"has_openai_api_key":    s.OpenAIAPIKey != "",
		"has_claude_api_key":    s.ClaudeAPIKey != "",
		"ollama_base_url":       s.OllamaBaseURL,
		"ollama_model":          s.OllamaModel,
		"openai_model":          s.OpenAIModel,
		"openai_base_url":       s.OpenAIBaseURL,
		"claude_model_name":     s.ClaudeModelName,
		"vertex_project_id":     s.VertexProjectID,
		"additional_settings":   s.AdditionalSettings,
		"created_at":            s.CreatedAt,
		"updated_at":            s.UpdatedAt,
	}
}

// Get 返回设置单例，首次访问时惰性创建缺省值。
func (h *SettingsHandler) Get(c *gin.Context) {
	settings, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsView(settings))
}

// Update 对设置做部分更新，未出现的字段保持不变。
func (h *SettingsHandler) Update(c *gin.Context) {
	var update model.UserSettingsUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	settings, err := h.settingsService.Update(c.Request.Context(), &update)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, settingsView(settings))
}

// Services 返回全部可选 AI 服务的目录。
func (h *SettingsHandler) Services(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"services": probe.Services()})
}

// ConfiguredServices 返回已配置凭证的 AI 服务。
func (h *SettingsHandler) ConfiguredServices(c *gin.Context) {
	settings, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	services := probe.ConfiguredServices(settings)
	if services == nil {
		services = []probe.ServiceInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"services": services})
}

// TestConnection 探测指定 AI 服务的连通性。
func (h *SettingsHandler) TestConnection(c *gin.Context) {
	var req probe.ProbeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "无效的请求负载"})
		return
	}

	settings, err := h.settingsService.Get(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	result := h.prober.Probe(c.Request.Context(), req, settings)
	c.JSON(http.StatusOK, result)
}

// OllamaModels 列出指定 Ollama 服务器上的可用模型。
func (h *SettingsHandler) OllamaModels(c *gin.Context) {
	baseURL := c.DefaultQuery("base_url", "http://localhost:11434")
	models, err := h.prober.OllamaModels(c.Request.Context(), baseURL)
	if err != nil {
		respondError(c, err)
		return
	}
	if models == nil {
		models = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"models": models})
}

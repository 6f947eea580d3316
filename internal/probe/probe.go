package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"markui-go/internal/model"
	"markui-go/pkg/log"
)

// 探测超时：云端 API 30 秒；ollama 的列表 5 秒、生成 10 秒。
const (
	apiProbeTimeout      = 30 * time.Second
	ollamaTagsTimeout    = 5 * time.Second
	ollamaGenTimeout     = 10 * time.Second
	ollamaListTimeout    = 10 * time.Second
	defaultOllamaBaseURL = "http://localhost:11434"
)

// ProbeRequest 是一次连通性探测的输入。凭证取 请求值 → 已保存设置 的第一个非空值。
type ProbeRequest struct {
	ServiceName     string `json:"service_name" binding:"required"`
	GeminiAPIKey    string `json:"gemini_api_key"`
	OpenAIAPIKey    string `json:"openai_api_key"`
	OpenAIModel     string `json:"openai_model"`
	OpenAIBaseURL   string `json:"openai_base_url"`
	ClaudeAPIKey    string `json:"claude_api_key"`
	ClaudeModelName string `json:"claude_model_name"`
	OllamaBaseURL   string `json:"ollama_base_url"`
	OllamaModel     string `json:"ollama_model"`
	VertexProjectID string `json:"vertex_project_id"`
}

// ProbeResult 是一次连通性探测的结果。
type ProbeResult struct {
	ServiceName    string `json:"service_name"`
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	ResponseTimeMs int64  `json:"response_time_ms"`
	ErrorDetails   string `json:"error_details,omitempty"`
}

// Prober 探测各 AI 服务的连通性。
type Prober interface {
	Probe(ctx context.Context, req ProbeRequest, settings *model.UserSettings) ProbeResult
	OllamaModels(ctx context.Context, baseURL string) ([]string, error)
}

type httpProber struct {
	client *http.Client
}

// NewProber 创建基于共享 HTTP 客户端的探测器。
// 单次请求的超时由每种探测各自的 context 控制。
func NewProber() Prober {
	return &httpProber{client: &http.Client{}}
}

// Probe 按服务类型分发探测，并统计响应耗时。
func (p *httpProber) Probe(ctx context.Context, req ProbeRequest, settings *model.UserSettings) ProbeResult {
	start := time.Now()
	name := strings.ToLower(req.ServiceName)

	var success bool
	var message string
	switch {
	case strings.Contains(name, "gemini"):
		success, message = p.probeGemini(ctx, req, settings)
	case strings.Contains(name, "openai"):
		success, message = p.probeOpenAI(ctx, req, settings)
	case strings.Contains(name, "claude"):
		success, message = p.probeClaude(ctx, req, settings)
	case strings.Contains(name, "ollama"):
		success, message = p.probeOllama(ctx, req, settings)
	case strings.Contains(name, "vertex"):
		success, message = p.probeVertex(req, settings)
	default:
		return ProbeResult{
			ServiceName:  req.ServiceName,
			Success:      false,
			Message:      "Unknown service type",
			ErrorDetails: "Service type not recognized",
		}
	}

	log.Infof("[Probe] 服务探测完成，服务: %s, 结果: %v, 消息: %s", req.ServiceName, success, message)
	return ProbeResult{
		ServiceName:    req.ServiceName,
		Success:        success,
		Message:        message,
		ResponseTimeMs: time.Since(start).Milliseconds(),
	}
}

// probeGemini 向 generateContent 接口发送一次最小请求。
func (p *httpProber) probeGemini(ctx context.Context, req ProbeRequest, settings *model.UserSettings) (bool, string) {
	apiKey := firstNonEmpty(req.GeminiAPIKey, settingsField(settings, func(s *model.UserSettings) string { return s.GeminiAPIKey }))
	if apiKey == "" {
		return false, "API key not provided"
	}

	payload := map[string]interface{}{
		"contents": []map[string]interface{}{
			{"parts": []map[string]string{{"text": "Hello"}}},
		},
	}
	url := "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.0-flash:generateContent?key=" + apiKey
	status, _, err := p.postJSON(ctx, url, nil, payload, apiProbeTimeout)
	if err != nil {
		return false, classifyTransportError(err)
	}
	return classifyStatus(status)
}

// probeOpenAI 向 chat/completions 接口发送一次最小请求，支持自定义端点。
func (p *httpProber) probeOpenAI(ctx context.Context, req ProbeRequest, settings *model.UserSettings) (bool, string) {
	apiKey := firstNonEmpty(req.OpenAIAPIKey, settingsField(settings, func(s *model.UserSettings) string { return s.OpenAIAPIKey }))
	if apiKey == "" {
		return false, "API key not provided"
	}
	baseURL := firstNonEmpty(req.OpenAIBaseURL, settingsField(settings, func(s *model.UserSettings) string { return s.OpenAIBaseURL }), "https://api.openai.com/v1")
	modelName := firstNonEmpty(req.OpenAIModel, settingsField(settings, func(s *model.UserSettings) string { return s.OpenAIModel }), "gpt-4o")

	payload := map[string]interface{}{
		"model":      modelName,
		"messages":   []map[string]string{{"role": "user", "content": "Hello"}},
		"max_tokens": 10,
	}
	headers := map[string]string{"Authorization": "Bearer " + apiKey}
	status, _, err := p.postJSON(ctx, strings.TrimSuffix(baseURL, "/")+"/chat/completions", headers, payload, apiProbeTimeout)
	if err != nil {
		return false, classifyTransportError(err)
	}
	if status == http.StatusNotFound {
		return false, fmt.Sprintf("Model '%s' not found", modelName)
	}
	return classifyStatus(status)
}

// probeClaude 向 messages 接口发送一次最小请求。
func (p *httpProber) probeClaude(ctx context.Context, req ProbeRequest, settings *model.UserSettings) (bool, string) {
	apiKey := firstNonEmpty(req.ClaudeAPIKey, settingsField(settings, func(s *model.UserSettings) string { return s.ClaudeAPIKey }))
	if apiKey == "" {
		return false, "API key not provided"
	}
	modelName := firstNonEmpty(req.ClaudeModelName, settingsField(settings, func(s *model.UserSettings) string { return s.ClaudeModelName }), "claude-3-sonnet-20240229")

	payload := map[string]interface{}{
		"model":      modelName,
		"max_tokens": 10,
		"messages":   []map[string]string{{"role": "user", "content": "Hello"}},
	}
	headers := map[string]string{
		"x-api-key":         apiKey,
		"anthropic-version": "2023-06-01",
	}
	status, _, err := p.postJSON(ctx, "https://api.anthropic.com/v1/messages", headers, payload, apiProbeTimeout)
	if err != nil {
		return false, classifyTransportError(err)
	}
	if status == http.StatusNotFound {
		return false, fmt.Sprintf("Model '%s' not found", modelName)
	}
	return classifyStatus(status)
}

// probeOllama 先确认服务器可达且模型存在，再做一次最小生成请求。
func (p *httpProber) probeOllama(ctx context.Context, req ProbeRequest, settings *model.UserSettings) (bool, string) {
	baseURL := normalizeBaseURL(firstNonEmpty(req.OllamaBaseURL, settingsField(settings, func(s *model.UserSettings) string { return s.OllamaBaseURL }), defaultOllamaBaseURL))
	modelName := firstNonEmpty(req.OllamaModel, settingsField(settings, func(s *model.UserSettings) string { return s.OllamaModel }), "llama3.2")

	// 1. 服务器与模型列表
	status, body, err := p.getJSON(ctx, baseURL+"/api/tags", ollamaTagsTimeout)
	if err != nil {
		if isTimeout(err) {
			return false, "Connection timeout - Ollama server may not be running"
		}
		return false, fmt.Sprintf("Connection failed: %v", err)
	}
	if status != http.StatusOK {
		return false, fmt.Sprintf("Ollama server not accessible (HTTP %d)", status)
	}
	available, err := parseOllamaTags(body)
	if err != nil {
		return false, fmt.Sprintf("Connection failed: %v", err)
	}
	if len(available) == 0 {
		return false, "No models available in Ollama"
	}
	if !containsModel(available, modelName) {
		return false, fmt.Sprintf("Model '%s' not found. Available models: %s", modelName, strings.Join(available, ", "))
	}

	// 2. 最小生成请求
	payload := map[string]interface{}{
		"model":  modelName,
		"prompt": "Hello",
		"stream": false,
	}
	genStatus, _, err := p.postJSON(ctx, baseURL+"/api/generate", nil, payload, ollamaGenTimeout)
	if err != nil {
		if isTimeout(err) {
			return false, "Connection timeout - Ollama server may not be running"
		}
		return false, fmt.Sprintf("Connection failed: %v", err)
	}
	if genStatus != http.StatusOK {
		return false, fmt.Sprintf("Model generation failed (HTTP %d)", genStatus)
	}
	return true, "Connection successful"
}

// probeVertex 仅校验项目 ID 已配置，不发起真实 API 调用。
func (p *httpProber) probeVertex(req ProbeRequest, settings *model.UserSettings) (bool, string) {
	projectID := firstNonEmpty(req.VertexProjectID, settingsField(settings, func(s *model.UserSettings) string { return s.VertexProjectID }))
	if projectID == "" {
		return false, "Project ID not provided"
	}
	return true, "Credentials found - connection likely successful"
}

// OllamaModels 返回 Ollama 服务器上可用的模型名（去掉标签后缀并排序去重）。
func (p *httpProber) OllamaModels(ctx context.Context, baseURL string) ([]string, error) {
	baseURL = normalizeBaseURL(firstNonEmpty(baseURL, defaultOllamaBaseURL))

	status, body, err := p.getJSON(ctx, baseURL+"/api/tags", ollamaListTimeout)
	if err != nil {
		if isTimeout(err) {
			return nil, model.NewConfigurationError("Connection timeout - Ollama server at %s may not be running", baseURL)
		}
		return nil, model.NewConfigurationError("Failed to fetch models: %v", err)
	}
	if status != http.StatusOK {
		return nil, model.NewConfigurationError("Failed to connect to Ollama server at %s (HTTP %d)", baseURL, status)
	}

	full, err := parseOllamaTags(body)
	if err != nil {
		return nil, model.NewConfigurationError("Failed to fetch models: %v", err)
	}
	seen := map[string]bool{}
	var names []string
	for _, name := range full {
		base := strings.SplitN(name, ":", 2)[0]
		if base != "" && !seen[base] {
			seen[base] = true
			names = append(names, base)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (p *httpProber) postJSON(ctx context.Context, url string, headers map[string]string, payload interface{}, timeout time.Duration) (int, []byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (p *httpProber) getJSON(ctx context.Context, url string, timeout time.Duration) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

// classifyStatus 把 HTTP 状态码归一为稳定的用户可读消息。
func classifyStatus(status int) (bool, string) {
	switch {
	case status == http.StatusOK:
		return true, "Connection successful"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return false, "Invalid API key"
	case status == http.StatusTooManyRequests:
		return false, "Rate limit exceeded"
	case status == http.StatusNotFound:
		return false, "Model not found"
	default:
		return false, fmt.Sprintf("API error: HTTP %d", status)
	}
}

func classifyTransportError(err error) string {
	if isTimeout(err) {
		return "Request timeout"
	}
	return fmt.Sprintf("Connection failed: %v", err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

func parseOllamaTags(body []byte) ([]string, error) {
	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &tags); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names = append(names, m.Name)
		}
	}
	return names, nil
}

func containsModel(models []string, name string) bool {
	for _, m := range models {
		if m == name || strings.SplitN(m, ":", 2)[0] == name {
			return true
		}
	}
	return false
}

func normalizeBaseURL(baseURL string) string {
	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return strings.TrimSuffix(baseURL, "/")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func settingsField(settings *model.UserSettings, get func(*model.UserSettings) string) string {
	if settings == nil {
		return ""
	}
	return get(settings)
}

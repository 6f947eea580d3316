// Package probe 实现 AI 服务的连通性探测与服务目录。
package probe

import "markui-go/internal/model"

// 五个受支持服务的标识名。
const (
	ServiceGemini = "marker.services.gemini.GoogleGeminiService"
	ServiceOpenAI = "marker.services.openai.OpenAIService"
	ServiceClaude = "marker.services.claude.ClaudeService"
	ServiceOllama = "marker.services.ollama.OllamaService"
	ServiceVertex = "marker.services.vertex.GoogleVertexService"
)

// ServiceInfo 描述一个可选的 AI 服务。
type ServiceInfo struct {
	Name           string   `json:"name"`
	DisplayName    string   `json:"display_name"`
	RequiresAPIKey bool     `json:"requires_api_key"`
	Models         []string `json:"models"`
	Description    string   `json:"description"`
}

// ServiceRequirement 描述启用某个服务所需填写的字段。
type ServiceRequirement struct {
	DisplayName    string            `json:"display_name"`
	RequiredFields []string          `json:"required_fields"`
	FieldLabels    map[string]string `json:"field_labels"`
}

// Services 返回全部可选服务的目录。
func Services() []ServiceInfo {
	return []ServiceInfo{
		{
			Name:           ServiceGemini,
			DisplayName:    "Google Gemini",
			RequiresAPIKey: true,
			Models:         []string{"gemini-2.0-flash", "gemini-1.5-pro", "gemini-1.5-flash"},
			Description:    "Google's Gemini AI models via API",
		},
		{
			Name:           ServiceOpenAI,
			DisplayName:    "OpenAI",
			RequiresAPIKey: true,
			Models:         []string{"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo"},
			Description:    "OpenAI GPT models",
		},
		{
			Name:           ServiceClaude,
			DisplayName:    "Anthropic Claude",
			RequiresAPIKey: true,
			Models:         []string{"claude-3-sonnet-20240229", "claude-3-opus-20240229", "claude-3-haiku-20240307"},
			Description:    "Anthropic's Claude AI models",
		},
		{
			Name:           ServiceOllama,
			DisplayName:    "Ollama (Local)",
			RequiresAPIKey: false,
			Models:         []string{"llama3.2"},
			Description:    "Local LLM models via Ollama",
		},
		{
			Name:           ServiceVertex,
			DisplayName:    "Google Vertex AI",
			RequiresAPIKey: false,
			Models:         []string{"gemini-pro", "gemini-pro-vision"},
			Description:    "Google's Vertex AI platform",
		},
	}
}

// Requirements 返回每个服务启用所需字段的静态映射。
func Requirements() map[string]ServiceRequirement {
	return map[string]ServiceRequirement{
		ServiceGemini: {
			DisplayName:    "Google Gemini",
			RequiredFields: []string{"gemini_api_key"},
			FieldLabels:    map[string]string{"gemini_api_key": "Gemini API Key"},
		},
		ServiceOpenAI: {
			DisplayName:    "OpenAI",
			RequiredFields: []string{"openai_api_key"},
			FieldLabels:    map[string]string{"openai_api_key": "OpenAI API Key"},
		},
		ServiceClaude: {
			DisplayName:    "Anthropic Claude",
			RequiredFields: []string{"claude_api_key"},
			FieldLabels:    map[string]string{"claude_api_key": "Claude API Key"},
		},
		ServiceOllama: {
			DisplayName:    "Ollama (Local)",
			RequiredFields: []string{},
			FieldLabels:    map[string]string{},
		},
		ServiceVertex: {
			DisplayName:    "Google Vertex AI",
			RequiredFields: []string{},
			FieldLabels:    map[string]string{},
		},
	}
}

// ConfiguredServices 根据已保存的凭证过滤服务目录。
// 设置尚不存在时，仅返回不需要 API Key 的服务。
func ConfiguredServices(settings *model.UserSettings) []ServiceInfo {
	all := Services()
	var configured []ServiceInfo
	if settings == nil {
		for _, s := range all {
			if !s.RequiresAPIKey {
				configured = append(configured, s)
			}
		}
		return configured
	}
	for _, s := range all {
		switch s.Name {
		case ServiceGemini:
			if settings.GeminiAPIKey != "" {
				configured = append(configured, s)
			}
		case ServiceOpenAI:
			if settings.OpenAIAPIKey != "" {
				configured = append(configured, s)
			}
		case ServiceClaude:
			if settings.ClaudeAPIKey != "" {
				configured = append(configured, s)
			}
		case ServiceOllama:
			if settings.OllamaBaseURL != "" {
				configured = append(configured, s)
			}
		case ServiceVertex:
			if settings.VertexProjectID != "" {
				configured = append(configured, s)
			}
		}
	}
	return configured
}

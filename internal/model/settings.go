package model

import "time"

// UserSettings 是全局唯一的用户设置单例，首次读取时按系统缺省惰性创建。
type UserSettings struct {
	Theme string `json:"theme"`

	// 任务创建时的缺省值
	DefaultOutputFormat string `json:"default_output_format"`
	DefaultUseLLM       bool   `json:"default_use_llm"`
	DefaultLLMService   string `json:"default_llm_service,omitempty"`
	DefaultForceOCR     bool   `json:"default_force_ocr"`
	DefaultFormatLines  bool   `json:"default_format_lines"`

	// 各提供商的凭证与端点
	GeminiAPIKey    string `json:"gemini_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	ClaudeAPIKey    string `json:"claude_api_key,omitempty"`
	OllamaBaseURL   string `json:"ollama_base_url,omitempty"`
	OllamaModel     string `json:"ollama_model,omitempty"`
	OpenAIModel     string `json:"openai_model,omitempty"`
	OpenAIBaseURL   string `json:"openai_base_url,omitempty"`
	ClaudeModelName string `json:"claude_model_name,omitempty"`
	VertexProjectID string `json:"vertex_project_id,omitempty"`

	AdditionalSettings map[string]interface{} `json:"additional_settings,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultUserSettings 返回系统缺省的设置单例。
func DefaultUserSettings() *UserSettings {
	now := time.Now().UTC()
	return &UserSettings{
		Theme:               "light",
		DefaultOutputFormat: FormatMarkdown,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// UserSettingsUpdate 是部分更新请求：nil 字段表示"保持不变"，
// 这与"置空"是不同的语义，因此全部使用指针。
type UserSettingsUpdate struct {
	Theme               *string                `json:"theme"`
	DefaultOutputFormat *string                `json:"default_output_format"`
	DefaultUseLLM       *bool                  `json:"default_use_llm"`
	DefaultLLMService   *string                `json:"default_llm_service"`
	DefaultForceOCR     *bool                  `json:"default_force_ocr"`
	DefaultFormatLines  *bool                  `json:"default_format_lines"`
	GeminiAPIKey        *string                `json:"gemini_api_key"`
	OpenAIAPIKey        *string                `json:"openai_api_key"`
	ClaudeAPIKey        *string                `json:"claude_api_key"`
	OllamaBaseURL       *string                `json:"ollama_base_url"`
	OllamaModel         *string                `json:"ollama_model"`
	OpenAIModel         *string                `json:"openai_model"`
	OpenAIBaseURL       *string                `json:"openai_base_url"`
	ClaudeModelName     *string                `json:"claude_model_name"`
	VertexProjectID     *string                `json:"vertex_project_id"`
	AdditionalSettings  map[string]interface{} `json:"additional_settings"`
}

// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
// 在启动时加载一次，并通过构造函数注入到各个组件中。
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Engine    EngineConfig    `mapstructure:"engine"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Marker    MarkerConfig    `mapstructure:"marker"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig 存储文件目录与容量治理相关的配置。
type StorageConfig struct {
	UploadDir            string  `mapstructure:"upload_dir"`
	OutputDir            string  `mapstructure:"output_dir"`
	StaticDir            string  `mapstructure:"static_dir"`
	MaxFileSizeMB        int64   `mapstructure:"max_file_size_mb"`
	MaxStoredPDFs        int     `mapstructure:"max_stored_pdfs"`
	MaxStorageSizeMB     float64 `mapstructure:"max_storage_size_mb"`
	MinRetentionHours    int     `mapstructure:"min_retention_hours"`
	CleanupBatchSize     int     `mapstructure:"cleanup_batch_size"`
	CheckIntervalMinutes int     `mapstructure:"check_interval_minutes"`
	DocumentTTLHours     int     `mapstructure:"document_ttl_hours"`
	JobTTLHours          int     `mapstructure:"job_ttl_hours"`
}

// MaxFileSizeBytes 返回单个上传文件的字节数上限。
func (s StorageConfig) MaxFileSizeBytes() int64 {
	return s.MaxFileSizeMB * 1024 * 1024
}

// CheckInterval 返回后台存储巡检的时间间隔。
func (s StorageConfig) CheckInterval() time.Duration {
	return time.Duration(s.CheckIntervalMinutes) * time.Minute
}

// SchedulerConfig 存储后台调度器的配置。
type SchedulerConfig struct {
	WorkerCount int `mapstructure:"worker_count"`
	QueueSize   int `mapstructure:"queue_size"`
}

// EngineConfig 存储外部转换引擎（marker 服务）的配置。
// timeout_seconds 为 0 表示不设置请求超时：大文档的转换可能持续数分钟。
type EngineConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LLMConfig 存储 AI 辅助处理各提供商的进程级兜底配置。
// API Key 也可以通过环境变量注入（GEMINI_API_KEY 等）。
type LLMConfig struct {
	GeminiAPIKey     string `mapstructure:"gemini_api_key"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	OpenAIModel      string `mapstructure:"openai_model"`
	OpenAIBaseURL    string `mapstructure:"openai_base_url"`
	ClaudeAPIKey     string `mapstructure:"claude_api_key"`
	ClaudeModelName  string `mapstructure:"claude_model_name"`
	VertexProjectID  string `mapstructure:"vertex_project_id"`
	OllamaBaseURL    string `mapstructure:"ollama_base_url"`
	OllamaModel      string `mapstructure:"ollama_model"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	RetryWaitSeconds int    `mapstructure:"retry_wait_seconds"`
}

// MarkerConfig 存储转换引擎的系统级调优参数（可选，零值表示不传递）。
type MarkerConfig struct {
	LowresImageDPI       int     `mapstructure:"lowres_image_dpi"`
	HighresImageDPI      int     `mapstructure:"highres_image_dpi"`
	LayoutBatchSize      int     `mapstructure:"layout_batch_size"`
	RecognitionBatchSize int     `mapstructure:"recognition_batch_size"`
	DetectionBatchSize   int     `mapstructure:"detection_batch_size"`
	OCRSpaceThreshold    float64 `mapstructure:"ocr_space_threshold"`
	OCRNewlineThreshold  float64 `mapstructure:"ocr_newline_threshold"`
	OCRAlphanumThreshold float64 `mapstructure:"ocr_alphanum_threshold"`
}

// Load 从指定路径读取 YAML 配置文件并解析到 Config 实例中。
// LLM 的 API Key 支持环境变量兜底，缺省值在这里统一声明。
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	// 缺省值
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.mode", "release")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.upload_dir", "uploads")
	v.SetDefault("storage.output_dir", "outputs")
	v.SetDefault("storage.static_dir", "static")
	v.SetDefault("storage.max_file_size_mb", 100)
	v.SetDefault("storage.max_stored_pdfs", 50)
	v.SetDefault("storage.max_storage_size_mb", 500)
	v.SetDefault("storage.min_retention_hours", 1)
	v.SetDefault("storage.cleanup_batch_size", 10)
	v.SetDefault("storage.check_interval_minutes", 30)
	v.SetDefault("storage.document_ttl_hours", 24)
	v.SetDefault("storage.job_ttl_hours", 48)
	v.SetDefault("scheduler.worker_count", 2)
	v.SetDefault("scheduler.queue_size", 128)
	v.SetDefault("engine.base_url", "http://localhost:8501")
	v.SetDefault("engine.timeout_seconds", 0)
	v.SetDefault("llm.openai_model", "gpt-4")
	v.SetDefault("llm.claude_model_name", "claude-3-sonnet-20240229")
	v.SetDefault("llm.ollama_base_url", "http://localhost:11434")
	v.SetDefault("llm.ollama_model", "llama3.2")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.max_retries", 2)
	v.SetDefault("llm.retry_wait_seconds", 3)

	// API Key 的环境变量兜底
	_ = v.BindEnv("llm.gemini_api_key", "GEMINI_API_KEY")
	_ = v.BindEnv("llm.openai_api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("llm.claude_api_key", "CLAUDE_API_KEY")
	_ = v.BindEnv("llm.vertex_project_id", "VERTEX_PROJECT_ID")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法将配置解析到结构体中: %w", err)
	}
	return &cfg, nil
}

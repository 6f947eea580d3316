package model

import "time"

// JobStatus 表示转换任务的状态。
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// Terminal 报告该状态是否为终态（不再发生任何迁移）。
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// 输出格式的合法取值。
const (
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatHTML     = "html"
)

// JobOptions 是创建任务时的稀疏请求：所有字段都是可选的，
// nil 表示"未提供"，由配置解析器按 请求 → 用户设置 → 系统缺省 的顺序补全。
type JobOptions struct {
	OutputFormat  *string  `json:"output_format"`
	SelectedPages []int    `json:"selected_pages"`
	Languages     []string `json:"languages"`

	// 基础开关
	UseLLM                 *bool `json:"use_llm"`
	ForceOCR               *bool `json:"force_ocr"`
	StripExistingOCR       *bool `json:"strip_existing_ocr"`
	FormatLines            *bool `json:"format_lines"`
	RedoInlineMath         *bool `json:"redo_inline_math"`
	DisableImageExtraction *bool `json:"disable_image_extraction"`
	PaginateOutput         *bool `json:"paginate_output"`

	// OCR 与文本处理
	DisableOCRMath *bool   `json:"disable_ocr_math"`
	KeepChars      *bool   `json:"keep_chars"`
	OCRTaskName    *string `json:"ocr_task_name"`

	// 性能与批处理
	LowresImageDPI       *int `json:"lowres_image_dpi"`
	HighresImageDPI      *int `json:"highres_image_dpi"`
	LayoutBatchSize      *int `json:"layout_batch_size"`
	DetectionBatchSize   *int `json:"detection_batch_size"`
	RecognitionBatchSize *int `json:"recognition_batch_size"`
	EquationBatchSize    *int `json:"equation_batch_size"`

	// 版面与结构阈值
	ColumnGapRatio   *float64 `json:"column_gap_ratio"`
	GapThreshold     *float64 `json:"gap_threshold"`
	ListGapThreshold *float64 `json:"list_gap_threshold"`
	ForceLayoutBlock *string  `json:"force_layout_block"`

	// 表格处理
	TableRecBatchSize *int  `json:"table_rec_batch_size"`
	MaxTableRows      *int  `json:"max_table_rows"`
	MaxRowsPerBatch   *int  `json:"max_rows_per_batch"`
	DetectBoxes       *bool `json:"detect_boxes"`

	// 标题与分节启发式
	LevelCount     *int     `json:"level_count"`
	MergeThreshold *float64 `json:"merge_threshold"`
	DefaultLevel   *int     `json:"default_level"`

	// 数学公式
	MinEquationHeight  *float64 `json:"min_equation_height"`
	InlinemathMinRatio *float64 `json:"inlinemath_min_ratio"`

	// 调试开关
	Debug             *bool   `json:"debug"`
	DebugLayoutImages *bool   `json:"debug_layout_images"`
	DebugPDFImages    *bool   `json:"debug_pdf_images"`
	DebugJSON         *bool   `json:"debug_json"`
	DebugDataFolder   *string `json:"debug_data_folder"`

	// 输出控制
	ExtractImages *bool   `json:"extract_images"`
	PageSeparator *string `json:"page_separator"`

	// AI 辅助处理
	LLMService          *string  `json:"llm_service"`
	LLMModel            *string  `json:"llm_model"`
	MaxConcurrency      *int     `json:"max_concurrency"`
	ConfidenceThreshold *float64 `json:"confidence_threshold"`
	GeminiAPIKey        *string  `json:"gemini_api_key"`
	OpenAIAPIKey        *string  `json:"openai_api_key"`
	ClaudeAPIKey        *string  `json:"claude_api_key"`
	OpenAIBaseURL       *string  `json:"openai_base_url"`
	OllamaBaseURL       *string  `json:"ollama_base_url"`
	OllamaModel         *string  `json:"ollama_model"`
	VertexProjectID     *string  `json:"vertex_project_id"`
}

// ResolvedOptions 是解析完成的任务配置：核心字段已补全为具体值，
// 没有系统缺省的调参字段保持指针形态，nil 表示"缺省"，不会传递给转换引擎。
type ResolvedOptions struct {
	OutputFormat  string   `json:"output_format"`
	SelectedPages []int    `json:"selected_pages,omitempty"`
	Languages     []string `json:"languages,omitempty"`

	UseLLM                 bool `json:"use_llm"`
	ForceOCR               bool `json:"force_ocr"`
	StripExistingOCR       bool `json:"strip_existing_ocr"`
	FormatLines            bool `json:"format_lines"`
	RedoInlineMath         bool `json:"redo_inline_math"`
	DisableImageExtraction bool `json:"disable_image_extraction"`
	PaginateOutput         bool `json:"paginate_output"`

	DisableOCRMath *bool   `json:"disable_ocr_math,omitempty"`
	KeepChars      *bool   `json:"keep_chars,omitempty"`
	OCRTaskName    *string `json:"ocr_task_name,omitempty"`

	LowresImageDPI       *int `json:"lowres_image_dpi,omitempty"`
	HighresImageDPI      *int `json:"highres_image_dpi,omitempty"`
	LayoutBatchSize      *int `json:"layout_batch_size,omitempty"`
	DetectionBatchSize   *int `json:"detection_batch_size,omitempty"`
	RecognitionBatchSize *int `json:"recognition_batch_size,omitempty"`
	EquationBatchSize    *int `json:"equation_batch_size,omitempty"`

	ColumnGapRatio   *float64 `json:"column_gap_ratio,omitempty"`
	GapThreshold     *float64 `json:"gap_threshold,omitempty"`
	ListGapThreshold *float64 `json:"list_gap_threshold,omitempty"`
	ForceLayoutBlock *string  `json:"force_layout_block,omitempty"`

	TableRecBatchSize *int  `json:"table_rec_batch_size,omitempty"`
	MaxTableRows      *int  `json:"max_table_rows,omitempty"`
	MaxRowsPerBatch   *int  `json:"max_rows_per_batch,omitempty"`
	DetectBoxes       *bool `json:"detect_boxes,omitempty"`

	LevelCount     *int     `json:"level_count,omitempty"`
	MergeThreshold *float64 `json:"merge_threshold,omitempty"`
	DefaultLevel   *int     `json:"default_level,omitempty"`

	MinEquationHeight  *float64 `json:"min_equation_height,omitempty"`
	InlinemathMinRatio *float64 `json:"inlinemath_min_ratio,omitempty"`

	Debug             *bool   `json:"debug,omitempty"`
	DebugLayoutImages *bool   `json:"debug_layout_images,omitempty"`
	DebugPDFImages    *bool   `json:"debug_pdf_images,omitempty"`
	DebugJSON         *bool   `json:"debug_json,omitempty"`
	DebugDataFolder   *string `json:"debug_data_folder,omitempty"`

	ExtractImages *bool   `json:"extract_images,omitempty"`
	PageSeparator *string `json:"page_separator,omitempty"`

	LLMService          string   `json:"llm_service,omitempty"`
	LLMModel            string   `json:"llm_model,omitempty"`
	MaxConcurrency      *int     `json:"max_concurrency,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`

	// 解析后的凭证与端点，持久化但绝不出现在 API 响应中
	GeminiAPIKey    string `json:"gemini_api_key,omitempty"`
	OpenAIAPIKey    string `json:"openai_api_key,omitempty"`
	ClaudeAPIKey    string `json:"claude_api_key,omitempty"`
	OpenAIBaseURL   string `json:"openai_base_url,omitempty"`
	OllamaBaseURL   string `json:"ollama_base_url,omitempty"`
	OllamaModel     string `json:"ollama_model,omitempty"`
	VertexProjectID string `json:"vertex_project_id,omitempty"`
}

// ConversionJob 表示一次转换任务及其完整生命周期。
// 不变式：started_at 仅在进入 processing 时写入，completed_at 仅在进入终态时写入；
// progress 在非终态期间单调不减，等于 100 当且仅当状态为 completed。
type ConversionJob struct {
	ID             string                 `json:"id"`
	DocumentID     string                 `json:"document_id"`
	Options        ResolvedOptions        `json:"options"`
	Status         JobStatus              `json:"status"`
	Progress       int                    `json:"progress"`
	OutputFilePath string                 `json:"output_file_path,omitempty"`
	OutputMetadata map[string]interface{} `json:"output_metadata,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	StartedAt      *time.Time             `json:"started_at,omitempty"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Redacted 返回任务的副本，其中所有 API Key 已被抹除，用于对外响应。
func (j *ConversionJob) Redacted() *ConversionJob {
	out := *j
	out.Options.GeminiAPIKey = ""
	out.Options.OpenAIAPIKey = ""
	out.Options.ClaudeAPIKey = ""
	return &out
}

// ConversionResult 是已完成任务的结果视图：任务本身、输出内容与图片 URL 列表。
type ConversionResult struct {
	Job     *ConversionJob `json:"job"`
	Content string         `json:"content"`
	Images  []string       `json:"images"`
}

// Package resolver 实现任务配置的分层解析。
// 每个可调字段按 请求显式值 → 用户设置缺省 → 系统缺省 的顺序取第一个非缺省值；
// 没有系统缺省的字段保持缺省形态，不传递给转换引擎。
// 解析是纯函数：无 I/O、幂等，对相同输入永远产出相同结果。
package resolver

import (
	"strconv"
	"strings"

	"markui-go/internal/config"
	"markui-go/internal/model"
)

// Resolve 将稀疏的创建请求补全为完整的任务配置，并验证 AI 辅助处理的凭证。
// settings 允许为 nil（设置单例尚未创建）。凭证缺失、非法的输出格式或页码
// 都会返回 ConfigurationError，保证不会留下半成品任务记录。
func Resolve(req *model.JobOptions, settings *model.UserSettings, cfg *config.Config) (*model.ResolvedOptions, error) {
	out := &model.ResolvedOptions{}

	// 1. 输出格式：请求 → 设置 → markdown
	format := ""
	if req.OutputFormat != nil {
		format = *req.OutputFormat
	} else if settings != nil && settings.DefaultOutputFormat != "" {
		format = settings.DefaultOutputFormat
	}
	if format == "" {
		format = model.FormatMarkdown
	}
	switch format {
	case model.FormatMarkdown, model.FormatJSON, model.FormatHTML:
	default:
		return nil, model.NewConfigurationError("invalid output_format: %q", format)
	}
	out.OutputFormat = format

	// 2. 页码选择：页码从 1 开始计数
	for _, page := range req.SelectedPages {
		if page < 1 {
			return nil, model.NewConfigurationError("invalid page number: %d", page)
		}
	}
	out.SelectedPages = req.SelectedPages
	out.Languages = req.Languages

	// 3. 基础开关：use_llm / force_ocr / format_lines 有用户设置缺省，其余系统缺省为 false
	if req.UseLLM != nil {
		out.UseLLM = *req.UseLLM
	} else if settings != nil {
		out.UseLLM = settings.DefaultUseLLM
	}

	llmService := ""
	if req.LLMService != nil {
		llmService = *req.LLMService
	} else if out.UseLLM && req.UseLLM == nil && settings != nil {
		// 仅当 use_llm 本身来自用户设置时，服务名才跟随设置缺省
		llmService = settings.DefaultLLMService
	}
	out.LLMService = llmService

	if req.ForceOCR != nil {
		out.ForceOCR = *req.ForceOCR
	} else if settings != nil {
		out.ForceOCR = settings.DefaultForceOCR
	}
	if req.FormatLines != nil {
		out.FormatLines = *req.FormatLines
	} else if settings != nil {
		out.FormatLines = settings.DefaultFormatLines
	}
	out.StripExistingOCR = boolValue(req.StripExistingOCR)
	out.RedoInlineMath = boolValue(req.RedoInlineMath)
	out.DisableImageExtraction = boolValue(req.DisableImageExtraction)
	out.PaginateOutput = boolValue(req.PaginateOutput)

	// 4. 无系统缺省的调参字段：原样透传，nil 即缺省
	out.DisableOCRMath = req.DisableOCRMath
	out.KeepChars = req.KeepChars
	out.OCRTaskName = req.OCRTaskName
	out.LowresImageDPI = req.LowresImageDPI
	out.HighresImageDPI = req.HighresImageDPI
	out.LayoutBatchSize = req.LayoutBatchSize
	out.DetectionBatchSize = req.DetectionBatchSize
	out.RecognitionBatchSize = req.RecognitionBatchSize
	out.EquationBatchSize = req.EquationBatchSize
	out.ColumnGapRatio = req.ColumnGapRatio
	out.GapThreshold = req.GapThreshold
	out.ListGapThreshold = req.ListGapThreshold
	out.ForceLayoutBlock = req.ForceLayoutBlock
	out.TableRecBatchSize = req.TableRecBatchSize
	out.MaxTableRows = req.MaxTableRows
	out.MaxRowsPerBatch = req.MaxRowsPerBatch
	out.DetectBoxes = req.DetectBoxes
	out.LevelCount = req.LevelCount
	out.MergeThreshold = req.MergeThreshold
	out.DefaultLevel = req.DefaultLevel
	out.MinEquationHeight = req.MinEquationHeight
	out.InlinemathMinRatio = req.InlinemathMinRatio
	out.Debug = req.Debug
	out.DebugLayoutImages = req.DebugLayoutImages
	out.DebugPDFImages = req.DebugPDFImages
	out.DebugJSON = req.DebugJSON
	out.DebugDataFolder = req.DebugDataFolder
	out.ExtractImages = req.ExtractImages
	out.PageSeparator = req.PageSeparator

	// 5. AI 辅助处理的模型与端点
	if req.LLMModel != nil {
		out.LLMModel = *req.LLMModel
	}
	out.MaxConcurrency = req.MaxConcurrency
	out.ConfidenceThreshold = req.ConfidenceThreshold
	out.GeminiAPIKey = resolveCredential(req.GeminiAPIKey, settingsKey(settings, func(s *model.UserSettings) string { return s.GeminiAPIKey }), cfg.LLM.GeminiAPIKey)
	out.OpenAIAPIKey = resolveCredential(req.OpenAIAPIKey, settingsKey(settings, func(s *model.UserSettings) string { return s.OpenAIAPIKey }), cfg.LLM.OpenAIAPIKey)
	out.ClaudeAPIKey = resolveCredential(req.ClaudeAPIKey, settingsKey(settings, func(s *model.UserSettings) string { return s.ClaudeAPIKey }), cfg.LLM.ClaudeAPIKey)
	out.OpenAIBaseURL = resolveCredential(req.OpenAIBaseURL, settingsKey(settings, func(s *model.UserSettings) string { return s.OpenAIBaseURL }), cfg.LLM.OpenAIBaseURL)
	out.OllamaBaseURL = resolveCredential(req.OllamaBaseURL, settingsKey(settings, func(s *model.UserSettings) string { return s.OllamaBaseURL }), cfg.LLM.OllamaBaseURL)
	out.OllamaModel = resolveCredential(req.OllamaModel, settingsKey(settings, func(s *model.UserSettings) string { return s.OllamaModel }), cfg.LLM.OllamaModel)
	out.VertexProjectID = resolveCredential(req.VertexProjectID, settingsKey(settings, func(s *model.UserSettings) string { return s.VertexProjectID }), cfg.LLM.VertexProjectID)

	// 6. 凭证验证：必须发生在任务记录创建之前
	if out.UseLLM && out.LLMService != "" {
		if err := validateCredential(out); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// validateCredential 确认所选服务存在可用凭证。
// 本地端点（ollama）与项目级端点（vertex）不需要 API Key。
func validateCredential(opts *model.ResolvedOptions) error {
	service := strings.ToLower(opts.LLMService)
	switch {
	case strings.Contains(service, "gemini"):
		if opts.GeminiAPIKey == "" {
			return missingKeyError(opts.LLMService)
		}
	case strings.Contains(service, "openai"):
		if opts.OpenAIAPIKey == "" {
			return missingKeyError(opts.LLMService)
		}
	case strings.Contains(service, "claude"):
		if opts.ClaudeAPIKey == "" {
			return missingKeyError(opts.LLMService)
		}
	case strings.Contains(service, "ollama"), strings.Contains(service, "vertex"):
		// 无需凭证
	default:
		return model.NewConfigurationError("unknown llm_service: %q", opts.LLMService)
	}
	return nil
}

func missingKeyError(service string) error {
	display := service
	if idx := strings.LastIndex(service, "."); idx >= 0 {
		display = service[idx+1:]
	}
	return model.NewConfigurationError(
		"API key required for %s. Please provide an API key in the conversion form or configure it in settings.", display)
}

// Defaults 返回设置感知的任务缺省值视图（供 /conversion/defaults 使用）。
func Defaults(settings *model.UserSettings) map[string]interface{} {
	defaults := map[string]interface{}{
		"output_format":            model.FormatMarkdown,
		"use_llm":                  false,
		"force_ocr":                false,
		"format_lines":             false,
		"llm_service":              nil,
		"disable_image_extraction": false,
		"strip_existing_ocr":       false,
		"redo_inline_math":         false,
		"paginate_output":          false,
	}
	if settings == nil {
		return defaults
	}
	if settings.DefaultOutputFormat != "" {
		defaults["output_format"] = settings.DefaultOutputFormat
	}
	defaults["use_llm"] = settings.DefaultUseLLM
	defaults["force_ocr"] = settings.DefaultForceOCR
	defaults["format_lines"] = settings.DefaultFormatLines
	if settings.DefaultLLMService != "" {
		defaults["llm_service"] = settings.DefaultLLMService
	}
	return defaults
}

// EngineConfig 把解析完成的任务配置展开为传给转换引擎的选项表。
// 缺省字段一律不出现在表中；系统级调参（DPI、批大小、OCR 阈值）从
// 进程配置补入；启用 AI 辅助时补入凭证与超时重试参数。
func EngineConfig(opts *model.ResolvedOptions, cfg *config.Config) map[string]interface{} {
	ec := map[string]interface{}{
		"output_format": opts.OutputFormat,
	}

	// 页码：引擎按 0 起算
	if len(opts.SelectedPages) > 0 {
		ranges := make([]string, 0, len(opts.SelectedPages))
		for _, page := range opts.SelectedPages {
			ranges = append(ranges, strconv.Itoa(page-1))
		}
		ec["page_range"] = strings.Join(ranges, ",")
	}
	if len(opts.Languages) > 0 {
		ec["languages"] = strings.Join(opts.Languages, ",")
	}

	setIfTrue(ec, "use_llm", opts.UseLLM)
	setIfTrue(ec, "force_ocr", opts.ForceOCR)
	setIfTrue(ec, "strip_existing_ocr", opts.StripExistingOCR)
	setIfTrue(ec, "format_lines", opts.FormatLines)
	setIfTrue(ec, "redo_inline_math", opts.RedoInlineMath)
	setIfTrue(ec, "disable_image_extraction", opts.DisableImageExtraction)
	setIfTrue(ec, "paginate_output", opts.PaginateOutput)
	if !opts.DisableImageExtraction {
		ec["extract_images"] = true
	}

	setBoolPtr(ec, "disable_ocr_math", opts.DisableOCRMath)
	setBoolPtr(ec, "keep_chars", opts.KeepChars)
	setStringPtr(ec, "ocr_task_name", opts.OCRTaskName)
	setIntPtr(ec, "lowres_image_dpi", opts.LowresImageDPI)
	setIntPtr(ec, "highres_image_dpi", opts.HighresImageDPI)
	setIntPtr(ec, "layout_batch_size", opts.LayoutBatchSize)
	setIntPtr(ec, "detection_batch_size", opts.DetectionBatchSize)
	setIntPtr(ec, "recognition_batch_size", opts.RecognitionBatchSize)
	setIntPtr(ec, "equation_batch_size", opts.EquationBatchSize)
	setFloatPtr(ec, "column_gap_ratio", opts.ColumnGapRatio)
	setFloatPtr(ec, "gap_threshold", opts.GapThreshold)
	setFloatPtr(ec, "list_gap_threshold", opts.ListGapThreshold)
	setStringPtr(ec, "force_layout_block", opts.ForceLayoutBlock)
	setIntPtr(ec, "table_rec_batch_size", opts.TableRecBatchSize)
	setIntPtr(ec, "max_table_rows", opts.MaxTableRows)
	setIntPtr(ec, "max_rows_per_batch", opts.MaxRowsPerBatch)
	setBoolPtr(ec, "detect_boxes", opts.DetectBoxes)
	setIntPtr(ec, "level_count", opts.LevelCount)
	setFloatPtr(ec, "merge_threshold", opts.MergeThreshold)
	setIntPtr(ec, "default_level", opts.DefaultLevel)
	setFloatPtr(ec, "min_equation_height", opts.MinEquationHeight)
	setFloatPtr(ec, "inlinemath_min_ratio", opts.InlinemathMinRatio)
	setBoolPtr(ec, "debug", opts.Debug)
	setBoolPtr(ec, "debug_layout_images", opts.DebugLayoutImages)
	setBoolPtr(ec, "debug_pdf_images", opts.DebugPDFImages)
	setBoolPtr(ec, "debug_json", opts.DebugJSON)
	setStringPtr(ec, "debug_data_folder", opts.DebugDataFolder)
	setStringPtr(ec, "page_separator", opts.PageSeparator)
	if opts.ExtractImages != nil {
		ec["extract_images"] = *opts.ExtractImages
	}

	// AI 辅助处理的服务配置
	if opts.UseLLM && opts.LLMService != "" {
		ec["llm_service"] = opts.LLMService
		service := strings.ToLower(opts.LLMService)
		switch {
		case strings.Contains(service, "gemini"):
			ec["gemini_api_key"] = opts.GeminiAPIKey
			if opts.LLMModel != "" {
				ec["gemini_model_name"] = opts.LLMModel
			}
		case strings.Contains(service, "openai"):
			ec["openai_api_key"] = opts.OpenAIAPIKey
			ec["openai_model"] = firstNonEmpty(opts.LLMModel, cfg.LLM.OpenAIModel)
			if opts.OpenAIBaseURL != "" {
				ec["openai_base_url"] = opts.OpenAIBaseURL
			}
		case strings.Contains(service, "claude"):
			ec["claude_api_key"] = opts.ClaudeAPIKey
			if opts.LLMModel != "" {
				ec["claude_model_name"] = opts.LLMModel
			}
		case strings.Contains(service, "ollama"):
			ec["ollama_base_url"] = firstNonEmpty(opts.OllamaBaseURL, cfg.LLM.OllamaBaseURL)
			ec["ollama_model"] = firstNonEmpty(opts.LLMModel, opts.OllamaModel, cfg.LLM.OllamaModel)
		case strings.Contains(service, "vertex"):
			ec["vertex_project_id"] = firstNonEmpty(opts.VertexProjectID, cfg.LLM.VertexProjectID)
		}
		setIntPtr(ec, "max_concurrency", opts.MaxConcurrency)
		setFloatPtr(ec, "confidence_threshold", opts.ConfidenceThreshold)
		ec["timeout"] = cfg.LLM.TimeoutSeconds
		ec["max_retries"] = cfg.LLM.MaxRetries
		ec["retry_wait_time"] = cfg.LLM.RetryWaitSeconds
	}

	// 系统级调参：仅在配置了非零值时传递
	if opts.LowresImageDPI == nil && cfg.Marker.LowresImageDPI > 0 {
		ec["lowres_image_dpi"] = cfg.Marker.LowresImageDPI
	}
	if opts.HighresImageDPI == nil && cfg.Marker.HighresImageDPI > 0 {
		ec["highres_image_dpi"] = cfg.Marker.HighresImageDPI
	}
	if opts.LayoutBatchSize == nil && cfg.Marker.LayoutBatchSize > 0 {
		ec["layout_batch_size"] = cfg.Marker.LayoutBatchSize
	}
	if opts.RecognitionBatchSize == nil && cfg.Marker.RecognitionBatchSize > 0 {
		ec["recognition_batch_size"] = cfg.Marker.RecognitionBatchSize
	}
	if opts.DetectionBatchSize == nil && cfg.Marker.DetectionBatchSize > 0 {
		ec["detection_batch_size"] = cfg.Marker.DetectionBatchSize
	}
	if cfg.Marker.OCRSpaceThreshold > 0 {
		ec["ocr_space_threshold"] = cfg.Marker.OCRSpaceThreshold
	}
	if cfg.Marker.OCRNewlineThreshold > 0 {
		ec["ocr_newline_threshold"] = cfg.Marker.OCRNewlineThreshold
	}
	if cfg.Marker.OCRAlphanumThreshold > 0 {
		ec["ocr_alphanum_threshold"] = cfg.Marker.OCRAlphanumThreshold
	}

	// 服务化部署固定关闭进度条与多进程
	ec["disable_tqdm"] = true
	ec["disable_multiprocessing"] = true

	return ec
}

func resolveCredential(reqVal *string, settingsVal, envVal string) string {
	if reqVal != nil && *reqVal != "" {
		return *reqVal
	}
	if settingsVal != "" {
		return settingsVal
	}
	return envVal
}

func settingsKey(settings *model.UserSettings, get func(*model.UserSettings) string) string {
	if settings == nil {
		return ""
	}
	return get(settings)
}

func boolValue(p *bool) bool {
	return p != nil && *p
}

func setIfTrue(m map[string]interface{}, key string, v bool) {
	if v {
		m[key] = true
	}
}

func setBoolPtr(m map[string]interface{}, key string, p *bool) {
	if p != nil {
		m[key] = *p
	}
}

func setIntPtr(m map[string]interface{}, key string, p *int) {
	if p != nil {
		m[key] = *p
	}
}

func setFloatPtr(m map[string]interface{}, key string, p *float64) {
	if p != nil {
		m[key] = *p
	}
}

func setStringPtr(m map[string]interface{}, key string, p *string) {
	if p != nil && *p != "" {
		m[key] = *p
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"markui-go/internal/config"
	"markui-go/internal/model"
)

// markerEngine 通过 HTTP 调用 marker 转换服务。
type markerEngine struct {
	baseURL string
	client  *http.Client
}

// NewMarker 创建 marker 服务的客户端。timeout_seconds 为 0 表示不限制
// 单次请求时长，由调用方通过 context 控制取消。
func NewMarker(cfg config.EngineConfig) Engine {
	client := &http.Client{}
	if cfg.TimeoutSeconds > 0 {
		client.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &markerEngine{
		baseURL: cfg.BaseURL,
		client:  client,
	}
}

// markerResponse 是 marker 服务 /convert 接口的响应体。
type markerResponse struct {
	Success  bool                   `json:"success"`
	Output   string                 `json:"output"`
	Metadata map[string]interface{} `json:"metadata"`
	Images   map[string]string      `json:"images"`
	Error    string                 `json:"error"`
}

// Convert 以 multipart 形式上传 PDF 与选项表，等待转换完成。
// 引擎侧的失败原文保留在 ConversionError 中，供任务记录逐字展示。
func (e *markerEngine) Convert(ctx context.Context, pdfPath string, options map[string]interface{}) (*Result, error) {
	f, err := os.Open(pdfPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open source file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filepath.Base(pdfPath))
	if err != nil {
		return nil, fmt.Errorf("failed to build multipart form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	optionsJSON, err := json.Marshal(options)
	if err != nil {
		return nil, fmt.Errorf("failed to encode options: %w", err)
	}
	if err := writer.WriteField("options", string(optionsJSON)); err != nil {
		return nil, fmt.Errorf("failed to build multipart form: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to build multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/convert", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &model.ConversionError{Message: fmt.Sprintf("conversion service unreachable: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &model.ConversionError{
			Message: fmt.Sprintf("conversion service returned %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var mr markerResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !mr.Success {
		msg := mr.Error
		if msg == "" {
			msg = "conversion failed"
		}
		return nil, &model.ConversionError{Message: msg}
	}

	result := &Result{
		Text:     mr.Output,
		Metadata: mr.Metadata,
		Images:   make(map[string][]byte, len(mr.Images)),
	}
	for name, data := range mr.Images {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image %s: %w", name, err)
		}
		result.Images[name] = raw
	}
	return result, nil
}

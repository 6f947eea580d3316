package model

import "time"

// TimeLayout 是记录在 Redis 中的时间戳格式（RFC3339，UTC）。
const TimeLayout = time.RFC3339

// SourceDocument 表示一个已上传的源文档及其元数据。
// 时间戳以 RFC3339 字符串存储：容量回收策略要求能表达"无法解析的时间戳"
// （解析失败的记录视为可删除，绝不受保留期保护）。
type SourceDocument struct {
	ID               string            `json:"id"`
	Filename         string            `json:"filename"`
	OriginalFilename string            `json:"original_filename"`
	FilePath         string            `json:"file_path"`
	FileSize         int64             `json:"file_size"`
	MimeType         string            `json:"mime_type"`
	TotalPages       int               `json:"total_pages"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	IsProcessed      bool              `json:"is_processed"`
	CreatedAt        string            `json:"created_at"`
	UpdatedAt        string            `json:"updated_at"`
	LastAccessedAt   string            `json:"last_accessed_at,omitempty"`
}

// CreatedTime 解析创建时间。解析失败时 ok 为 false。
func (d *SourceDocument) CreatedTime() (time.Time, bool) {
	t, err := time.Parse(TimeLayout, d.CreatedAt)
	return t, err == nil
}

// LastAccessedTime 解析最近访问时间。从未访问或解析失败时 ok 为 false。
func (d *SourceDocument) LastAccessedTime() (time.Time, bool) {
	if d.LastAccessedAt == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(TimeLayout, d.LastAccessedAt)
	return t, err == nil
}

// FileSizeMB 返回文件大小，单位 MB。
func (d *SourceDocument) FileSizeMB() float64 {
	return float64(d.FileSize) / (1024 * 1024)
}

package model

// CleanupStats 是一次容量回收的统计结果。
type CleanupStats struct {
	InitialCount  int      `json:"initial_count"`
	InitialSizeMB float64  `json:"initial_size_mb"`
	DeletedCount  int      `json:"deleted_count"`
	DeletedSizeMB float64  `json:"deleted_size_mb"`
	FinalCount    int      `json:"final_count"`
	FinalSizeMB   float64  `json:"final_size_mb"`
	CleanupReason []string `json:"cleanup_reason"`
}

// StorageLimits 是生效中的容量上限。
type StorageLimits struct {
	MaxPDFs           int     `json:"max_pdfs"`
	MaxSizeMB         float64 `json:"max_size_mb"`
	MinRetentionHours int     `json:"min_retention_hours"`
}

// StorageUsage 是当前用量相对上限的百分比。
type StorageUsage struct {
	Count float64 `json:"count"`
	Size  float64 `json:"size"`
}

// StorageInfo 是存储状态的完整视图。
type StorageInfo struct {
	TotalPDFs       int           `json:"total_pdfs"`
	TotalSizeBytes  int64         `json:"total_size_bytes"`
	TotalSizeMB     float64       `json:"total_size_mb"`
	Limits          StorageLimits `json:"limits"`
	UsagePercentage StorageUsage  `json:"usage_percentage"`
}

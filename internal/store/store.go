// Package store 提供了数据访问层的实现。
// 所有持久化状态都放在 Redis：文档与任务记录为 Hash（带 TTL 安全网），
// 设置单例为不过期的 JSON 串，ID 由按前缀分组的原子计数器生成。
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"markui-go/internal/config"
	"markui-go/internal/model"
)

const (
	documentKeyPrefix = "document:"
	jobKeyPrefix      = "job:"
	jobListKey        = "jobs:all"
	settingsKey       = "settings:user"
	counterKeyPrefix  = "counter:"
)

// Store 定义了持久化存储的操作接口。
// Get 系列在记录不存在时返回 (nil, nil)，由业务层决定如何上报。
type Store interface {
	NextID(ctx context.Context, prefix string) (string, error)

	SaveDocument(ctx context.Context, doc *model.SourceDocument) error
	GetDocument(ctx context.Context, id string) (*model.SourceDocument, error)
	ListDocuments(ctx context.Context) ([]*model.SourceDocument, error)
	DeleteDocument(ctx context.Context, id string) error
	TouchDocument(ctx context.Context, id string) error
	SetDocumentProcessed(ctx context.Context, id string, processed bool) error

	SaveJob(ctx context.Context, job *model.ConversionJob) error
	GetJob(ctx context.Context, id string) (*model.ConversionJob, error)
	ListJobIDs(ctx context.Context) ([]string, error)
	UpdateJob(ctx context.Context, id string, fields map[string]interface{}) error
	DeleteJob(ctx context.Context, id string) error

	GetSettings(ctx context.Context) (*model.UserSettings, error)
	SaveSettings(ctx context.Context, s *model.UserSettings) error
}

type redisStore struct {
	rdb         *redis.Client
	documentTTL time.Duration
	jobTTL      time.Duration
}

// New 创建一个基于 Redis 的 Store 实例。
func New(rdb *redis.Client, cfg config.StorageConfig) Store {
	return &redisStore{
		rdb:         rdb,
		documentTTL: time.Duration(cfg.DocumentTTLHours) * time.Hour,
		jobTTL:      time.Duration(cfg.JobTTLHours) * time.Hour,
	}
}

// NextID 通过按前缀分组的原子计数器生成唯一 ID，如 document_7。
func (s *redisStore) NextID(ctx context.Context, prefix string) (string, error) {
	n, err := s.rdb.Incr(ctx, counterKeyPrefix+prefix).Result()
	if err != nil {
		return "", fmt.Errorf("failed to increment counter %s: %w", prefix, err)
	}
	return fmt.Sprintf("%s_%d", prefix, n), nil
}

// SaveDocument 将文档记录整体写入 Hash 并刷新 TTL。
func (s *redisStore) SaveDocument(ctx context.Context, doc *model.SourceDocument) error {
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal document metadata: %w", err)
	}
	fields := map[string]interface{}{
		"id":                doc.ID,
		"filename":          doc.Filename,
		"original_filename": doc.OriginalFilename,
		"file_path":         doc.FilePath,
		"file_size":         strconv.FormatInt(doc.FileSize, 10),
		"mime_type":         doc.MimeType,
		"total_pages":       strconv.Itoa(doc.TotalPages),
		"metadata":          string(metadata),
		"is_processed":      strconv.FormatBool(doc.IsProcessed),
		"created_at":        doc.CreatedAt,
		"updated_at":        doc.UpdatedAt,
		"last_accessed_at":  doc.LastAccessedAt,
	}

	key := documentKeyPrefix + doc.ID
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.documentTTL).Err(); err != nil {
		return fmt.Errorf("failed to set document ttl %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument 读取文档记录，不存在时返回 (nil, nil)。
func (s *redisStore) GetDocument(ctx context.Context, id string) (*model.SourceDocument, error) {
	data, err := s.rdb.HGetAll(ctx, documentKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get document %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return documentFromHash(data), nil
}

// ListDocuments 返回全部文档记录，按创建时间字符串升序（最旧在前）。
func (s *redisStore) ListDocuments(ctx context.Context) ([]*model.SourceDocument, error) {
	keys, err := s.rdb.Keys(ctx, documentKeyPrefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan document keys: %w", err)
	}

	docs := make([]*model.SourceDocument, 0, len(keys))
	for _, key := range keys {
		data, err := s.rdb.HGetAll(ctx, key).Result()
		if err != nil || len(data) == 0 {
			// 记录可能在遍历期间过期，跳过即可
			continue
		}
		docs = append(docs, documentFromHash(data))
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].CreatedAt < docs[j].CreatedAt
	})
	return docs, nil
}

// DeleteDocument 只删除存储中的记录，物理文件由业务层负责。
func (s *redisStore) DeleteDocument(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, documentKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", id, err)
	}
	return nil
}

// TouchDocument 以针对性的部分写更新最近访问时间，避免整条记录的读改写。
func (s *redisStore) TouchDocument(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(model.TimeLayout)
	err := s.rdb.HSet(ctx, documentKeyPrefix+id, map[string]interface{}{
		"last_accessed_at": now,
		"updated_at":       now,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to touch document %s: %w", id, err)
	}
	return nil
}

// SetDocumentProcessed 标记文档是否已被成功转换过。
func (s *redisStore) SetDocumentProcessed(ctx context.Context, id string, processed bool) error {
	err := s.rdb.HSet(ctx, documentKeyPrefix+id, map[string]interface{}{
		"is_processed": strconv.FormatBool(processed),
		"updated_at":   time.Now().UTC().Format(model.TimeLayout),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to mark document processed %s: %w", id, err)
	}
	return nil
}

// SaveJob 写入任务记录，刷新 TTL，并把任务 ID 压入全局列表用于排序遍历。
func (s *redisStore) SaveJob(ctx context.Context, job *model.ConversionJob) error {
	options, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal job options: %w", err)
	}
	metadata, err := json.Marshal(job.OutputMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal job metadata: %w", err)
	}
	fields := map[string]interface{}{
		"id":               job.ID,
		"document_id":      job.DocumentID,
		"options":          string(options),
		"status":           string(job.Status),
		"progress":         strconv.Itoa(job.Progress),
		"output_file_path": job.OutputFilePath,
		"output_metadata":  string(metadata),
		"error_message":    job.ErrorMessage,
		"created_at":       job.CreatedAt.UTC().Format(model.TimeLayout),
		"started_at":       formatOptionalTime(job.StartedAt),
		"completed_at":     formatOptionalTime(job.CompletedAt),
		"updated_at":       time.Now().UTC().Format(model.TimeLayout),
	}

	key := jobKeyPrefix + job.ID
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	if err := s.rdb.Expire(ctx, key, s.jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to set job ttl %s: %w", job.ID, err)
	}
	// 先去重再入队，重复保存同一任务不会让 ID 在列表里出现两次
	if err := s.rdb.LRem(ctx, jobListKey, 0, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to dedupe job id %s: %w", job.ID, err)
	}
	if err := s.rdb.LPush(ctx, jobListKey, job.ID).Err(); err != nil {
		return fmt.Errorf("failed to push job id %s: %w", job.ID, err)
	}
	if err := s.rdb.Expire(ctx, jobListKey, s.jobTTL).Err(); err != nil {
		return fmt.Errorf("failed to set job list ttl: %w", err)
	}
	return nil
}

// GetJob 读取任务记录，不存在时返回 (nil, nil)。
func (s *redisStore) GetJob(ctx context.Context, id string) (*model.ConversionJob, error) {
	data, err := s.rdb.HGetAll(ctx, jobKeyPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	return jobFromHash(data)
}

// ListJobIDs 返回全部任务 ID，LPUSH 语义保证最新的在前。
func (s *redisStore) ListJobIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.LRange(ctx, jobListKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list job ids: %w", err)
	}
	return ids, nil
}

// UpdateJob 对任务记录做针对性的部分写（仅变更传入的字段），
// 这是状态机更新状态、进度与时间戳的唯一通道。
func (s *redisStore) UpdateJob(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC().Format(model.TimeLayout)
	if err := s.rdb.HSet(ctx, jobKeyPrefix+id, fields).Err(); err != nil {
		return fmt.Errorf("failed to update job %s: %w", id, err)
	}
	return nil
}

// DeleteJob 删除任务记录并将其从全局列表中摘除。
func (s *redisStore) DeleteJob(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, jobKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	if err := s.rdb.LRem(ctx, jobListKey, 0, id).Err(); err != nil {
		return fmt.Errorf("failed to remove job id %s from list: %w", id, err)
	}
	return nil
}

// GetSettings 读取设置单例，不存在时返回 (nil, nil)，惰性创建由业务层完成。
func (s *redisStore) GetSettings(ctx context.Context) (*model.UserSettings, error) {
	data, err := s.rdb.Get(ctx, settingsKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	var settings model.UserSettings
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user settings: %w", err)
	}
	return &settings, nil
}

// SaveSettings 持久化设置单例（不设置 TTL）。
func (s *redisStore) SaveSettings(ctx context.Context, settings *model.UserSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal user settings: %w", err)
	}
	if err := s.rdb.Set(ctx, settingsKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save user settings: %w", err)
	}
	return nil
}

// documentFromHash 从 Hash 字段还原文档记录。
// 数值字段解析失败时保持零值：时间戳字段刻意不解析，
// 保留原始字符串交由回收策略判断。
func documentFromHash(data map[string]string) *model.SourceDocument {
	doc := &model.SourceDocument{
		ID:               data["id"],
		Filename:         data["filename"],
		OriginalFilename: data["original_filename"],
		FilePath:         data["file_path"],
		MimeType:         data["mime_type"],
		CreatedAt:        data["created_at"],
		UpdatedAt:        data["updated_at"],
		LastAccessedAt:   data["last_accessed_at"],
	}
	doc.FileSize, _ = strconv.ParseInt(data["file_size"], 10, 64)
	doc.TotalPages, _ = strconv.Atoi(data["total_pages"])
	doc.IsProcessed, _ = strconv.ParseBool(data["is_processed"])
	if raw := data["metadata"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &doc.Metadata)
	}
	return doc
}

// jobFromHash 从 Hash 字段还原任务记录。
func jobFromHash(data map[string]string) (*model.ConversionJob, error) {
	job := &model.ConversionJob{
		ID:             data["id"],
		DocumentID:     data["document_id"],
		Status:         model.JobStatus(data["status"]),
		OutputFilePath: data["output_file_path"],
		ErrorMessage:   data["error_message"],
	}
	job.Progress, _ = strconv.Atoi(data["progress"])

	if raw := data["options"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &job.Options); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job options: %w", err)
		}
	}
	if raw := data["output_metadata"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &job.OutputMetadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job metadata: %w", err)
		}
	}

	if t, err := time.Parse(model.TimeLayout, data["created_at"]); err == nil {
		job.CreatedAt = t
	}
	if t, err := time.Parse(model.TimeLayout, data["updated_at"]); err == nil {
		job.UpdatedAt = t
	}
	job.StartedAt = parseOptionalTime(data["started_at"])
	job.CompletedAt = parseOptionalTime(data["completed_at"])
	return job, nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(model.TimeLayout)
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(model.TimeLayout, s)
	if err != nil {
		return nil
	}
	return &t
}

// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/internal/resolver"
	"markui-go/internal/store"
	"markui-go/pkg/files"
	"markui-go/pkg/log"
)

// Dispatcher 把任务 ID 投递到后台执行队列。由调度器实现；
// 业务层只依赖该接口，避免与调度器形成循环依赖。
type Dispatcher interface {
	Dispatch(jobID string) error
}

// JobService 接口定义了转换任务生命周期的全部操作。
// 状态机：pending→processing→{completed,failed}；pending→cancelled。
// 终态吸收：到达终态后任何迁移请求都会被拒绝或忽略。
type JobService interface {
	Submit(ctx context.Context, documentID string, opts *model.JobOptions) (*model.ConversionJob, error)
	Begin(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, outputPath string, metadata map[string]interface{}) error
	Fail(ctx context.Context, jobID string, message string) error
	Cancel(ctx context.Context, jobID string) (*model.ConversionJob, error)
	Get(ctx context.Context, jobID string) (*model.ConversionJob, error)
	List(ctx context.Context, page, perPage int, status string) ([]*model.ConversionJob, int, error)
	Delete(ctx context.Context, jobID string) error
	Result(ctx context.Context, jobID string) (*model.ConversionResult, error)
	DeleteByDocument(ctx context.Context, documentID string) error
}

type jobService struct {
	store      store.Store
	files      *files.Manager
	dispatcher Dispatcher
	cfg        *config.Config
	cache      *resultCache
}

// NewJobService 创建一个新的 JobService 实例。
func NewJobService(s store.Store, fm *files.Manager, dispatcher Dispatcher, cfg *config.Config) JobService {
	return &jobService{
		store:      s,
		files:      fm,
		dispatcher: dispatcher,
		cfg:        cfg,
		cache:      newResultCache(),
	}
}

// Submit 创建转换任务并投递到后台队列。
// 配置解析与凭证验证发生在任务记录创建之前：验证失败不会留下任何记录。
func (s *jobService) Submit(ctx context.Context, documentID string, opts *model.JobOptions) (*model.ConversionJob, error) {
	log.Infof("[Submit] 收到转换请求，文档ID: %s", documentID)

	// 1. 源文档必须存在
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.NewNotFoundError("document", documentID)
	}

	// 2. 解析任务配置（请求 → 用户设置 → 系统缺省），同步验证凭证
	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &model.JobOptions{}
	}
	resolved, err := resolver.Resolve(opts, settings, s.cfg)
	if err != nil {
		log.Warnf("[Submit] 任务配置解析失败，文档ID: %s, error: %v", documentID, err)
		return nil, err
	}

	// 3. 创建 pending 任务记录
	id, err := s.store.NextID(ctx, "job")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	job := &model.ConversionJob{
		ID:         id,
		DocumentID: documentID,
		Options:    *resolved,
		Status:     model.StatusPending,
		Progress:   0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.SaveJob(ctx, job); err != nil {
		return nil, err
	}

	// 4. 非阻塞投递；队列已满视为任务失败
	if err := s.dispatcher.Dispatch(id); err != nil {
		log.Errorf("[Submit] 任务投递失败，任务ID: %s, error: %v", id, err)
		msg := fmt.Sprintf("failed to schedule conversion: %v", err)
		if failErr := s.Fail(ctx, id, msg); failErr != nil {
			log.Errorf("[Submit] 标记任务失败时出错，任务ID: %s, error: %v", id, failErr)
		}
		job.Status = model.StatusFailed
		job.ErrorMessage = msg
		return job, nil
	}

	log.Infof("[Submit] 任务已创建并入队，任务ID: %s, 文档ID: %s", id, documentID)
	return job, nil
}

// Begin 把任务从 pending 迁移到 processing，写入开始时间并把进度置为 10。
// 任务记录已消失（TTL 过期或被删除）时仅记录日志，不返回错误。
func (s *jobService) Begin(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warnf("[Begin] 任务记录不存在，放弃执行，任务ID: %s", jobID)
		return nil
	}
	if job.Status != model.StatusPending {
		log.Infof("[Begin] 任务状态为 %s，跳过执行，任务ID: %s", job.Status, jobID)
		return nil
	}
	now := time.Now().UTC()
	return s.store.UpdateJob(ctx, jobID, map[string]interface{}{
		"status":     string(model.StatusProcessing),
		"progress":   strconv.Itoa(10),
		"started_at": now.Format(model.TimeLayout),
	})
}

// Complete 把任务迁移到 completed：进度 100，记录产物路径与元数据，清空错误信息。
func (s *jobService) Complete(ctx context.Context, jobID string, outputPath string, metadata map[string]interface{}) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warnf("[Complete] 任务记录不存在，任务ID: %s", jobID)
		return nil
	}
	if job.Status.Terminal() {
		log.Warnf("[Complete] 任务已处于终态 %s，忽略完成请求，任务ID: %s", job.Status, jobID)
		return nil
	}
	fields := map[string]interface{}{
		"status":           string(model.StatusCompleted),
		"progress":         strconv.Itoa(100),
		"output_file_path": outputPath,
		"error_message":    "",
		"completed_at":     time.Now().UTC().Format(model.TimeLayout),
	}
	if metadata != nil {
		raw, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal output metadata: %w", err)
		}
		fields["output_metadata"] = string(raw)
	}
	log.Infof("[Complete] 任务完成，任务ID: %s, 产物: %s", jobID, outputPath)
	return s.store.UpdateJob(ctx, jobID, fields)
}

// Fail 把任务从任意非终态迁移到 failed，错误文本逐字保留，进度维持原值。
func (s *jobService) Fail(ctx context.Context, jobID string, message string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warnf("[Fail] 任务记录不存在，任务ID: %s", jobID)
		return nil
	}
	if job.Status.Terminal() {
		log.Warnf("[Fail] 任务已处于终态 %s，忽略失败请求，任务ID: %s", job.Status, jobID)
		return nil
	}
	log.Warnf("[Fail] 任务失败，任务ID: %s, 原因: %s", jobID, message)
	return s.store.UpdateJob(ctx, jobID, map[string]interface{}{
		"status":        string(model.StatusFailed),
		"error_message": message,
		"completed_at":  time.Now().UTC().Format(model.TimeLayout),
	})
}

// Cancel 取消尚未开始的任务。仅 pending 状态允许取消，其余状态返回 ConfigurationError。
func (s *jobService) Cancel(ctx context.Context, jobID string) (*model.ConversionJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewNotFoundError("job", jobID)
	}
	if job.Status != model.StatusPending {
		return nil, model.NewConfigurationError("invalid transition: cannot cancel job in status %s", job.Status)
	}
	now := time.Now().UTC()
	if err := s.store.UpdateJob(ctx, jobID, map[string]interface{}{
		"status":       string(model.StatusCancelled),
		"completed_at": now.Format(model.TimeLayout),
	}); err != nil {
		return nil, err
	}
	log.Infof("[Cancel] 任务已取消，任务ID: %s", jobID)
	job.Status = model.StatusCancelled
	job.CompletedAt = &now
	return job, nil
}

// Get 读取单个任务。
func (s *jobService) Get(ctx context.Context, jobID string) (*model.ConversionJob, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, model.NewNotFoundError("job", jobID)
	}
	return job, nil
}

// List 按创建时间倒序分页列出任务，可按状态过滤。
// 返回过滤后的总数用于分页响应。
func (s *jobService) List(ctx context.Context, page, perPage int, status string) ([]*model.ConversionJob, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}

	ids, err := s.store.ListJobIDs(ctx)
	if err != nil {
		return nil, 0, err
	}

	var matched []*model.ConversionJob
	for _, id := range ids {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		if job == nil {
			// 记录已随 TTL 过期，列表中的 ID 是残留
			continue
		}
		if status != "" && string(job.Status) != status {
			continue
		}
		matched = append(matched, job)
	}

	total := len(matched)
	start := (page - 1) * perPage
	if start >= total {
		return []*model.ConversionJob{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

// Delete 删除任务记录，随后尽力删除产物目录（失败仅记录日志）。
func (s *jobService) Delete(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return model.NewNotFoundError("job", jobID)
	}
	if err := s.store.DeleteJob(ctx, jobID); err != nil {
		return err
	}
	s.cache.Remove(jobID)
	if err := s.files.DeleteDir(s.files.JobDir(jobID)); err != nil {
		log.Warnf("[Delete] 删除任务产物目录失败，任务ID: %s, error: %v", jobID, err)
	}
	log.Infof("[Delete] 任务已删除，任务ID: %s", jobID)
	return nil
}

// DeleteByDocument 删除某个文档名下的全部任务及其产物，用于文档的级联删除。
func (s *jobService) DeleteByDocument(ctx context.Context, documentID string) error {
	ids, err := s.store.ListJobIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		job, err := s.store.GetJob(ctx, id)
		if err != nil {
			return err
		}
		if job == nil || job.DocumentID != documentID {
			continue
		}
		if err := s.store.DeleteJob(ctx, id); err != nil {
			log.Errorf("[DeleteByDocument] 删除任务记录失败，任务ID: %s, error: %v", id, err)
			continue
		}
		s.cache.Remove(id)
		if err := s.files.DeleteDir(s.files.JobDir(id)); err != nil {
			log.Warnf("[DeleteByDocument] 删除任务产物目录失败，任务ID: %s, error: %v", id, err)
		}
	}
	return nil
}

// Result 返回已完成任务的结果视图：任务记录、产物内容与图片 URL 列表。
// 内容读取经过结果缓存；非 completed 状态返回 ConfigurationError。
func (s *jobService) Result(ctx context.Context, jobID string) (*model.ConversionResult, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.StatusCompleted {
		return nil, model.NewConfigurationError("job %s is not completed (status: %s)", jobID, job.Status)
	}

	if cached, ok := s.cache.Get(jobID); ok {
		// 任务记录以最新读取为准，缓存只复用产物内容
		view := *cached
		view.Job = job.Redacted()
		return &view, nil
	}

	outputPath := job.OutputFilePath
	if outputPath == "" {
		outputPath = s.files.OutputPath(jobID, job.Options.OutputFormat)
	}
	content, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, &model.StorageError{Op: "read", Path: outputPath, Err: err}
	}

	imageNames, err := s.files.ListJobImages(jobID)
	if err != nil {
		return nil, err
	}
	images := make([]string, 0, len(imageNames))
	for _, name := range imageNames {
		images = append(images, fmt.Sprintf("/output/job_%s/%s", jobID, name))
	}

	result := &model.ConversionResult{
		Job:     job.Redacted(),
		Content: string(content),
		Images:  images,
	}
	s.cache.Add(jobID, result)
	return result, nil
}

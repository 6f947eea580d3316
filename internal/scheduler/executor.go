package scheduler

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"markui-go/internal/config"
	"markui-go/internal/engine"
	"markui-go/internal/model"
	"markui-go/internal/resolver"
	"markui-go/internal/service"
	"markui-go/internal/store"
	"markui-go/pkg/files"
	"markui-go/pkg/log"
	"markui-go/pkg/tasks"
)

// 图片持久化的并发上限。
const imageWriteConcurrency = 4

// ConversionExecutor 封装了单个转换任务的完整执行流程。
// 每个任务 ID 至多执行一次：提交方只投递一次，执行前还会复核状态。
type ConversionExecutor struct {
	store  store.Store
	jobs   service.JobService
	docs   service.DocumentService
	engine engine.Engine
	files  *files.Manager
	cfg    *config.Config
}

// NewConversionExecutor 创建一个新的执行器实例。
func NewConversionExecutor(
	s store.Store,
	jobs service.JobService,
	docs service.DocumentService,
	eng engine.Engine,
	fm *files.Manager,
	cfg *config.Config,
) *ConversionExecutor {
	return &ConversionExecutor{
		store:  s,
		jobs:   jobs,
		docs:   docs,
		engine: eng,
		files:  fm,
		cfg:    cfg,
	}
}

// Execute 执行单个转换任务。引擎错误与 panic 都在这里被吸收并转写到
// 任务记录的 error_message，绝不向工作协程抛出。
func (e *ConversionExecutor) Execute(ctx context.Context, task tasks.ConversionTask) {
	jobID := task.JobID
	log.Infof("[Execute] 开始执行转换任务，任务ID: %s", jobID)

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("[Execute] 转换过程发生 panic，任务ID: %s, panic: %v", jobID, r)
			e.fail(ctx, jobID, fmt.Sprintf("conversion panicked: %v", r))
		}
	}()

	// 1. 读取任务记录并复核状态：已取消或已消失的任务直接跳过
	job, err := e.store.GetJob(ctx, jobID)
	if err != nil {
		log.Errorf("[Execute] 读取任务记录失败，任务ID: %s, error: %v", jobID, err)
		return
	}
	if job == nil {
		log.Warnf("[Execute] 任务记录不存在，放弃执行，任务ID: %s", jobID)
		return
	}
	if job.Status != model.StatusPending {
		log.Infof("[Execute] 步骤1: 任务状态为 %s，跳过执行，任务ID: %s", job.Status, jobID)
		return
	}

	// 2. 迁移到 processing
	log.Infof("[Execute] 步骤2: 任务进入执行，任务ID: %s, 文档ID: %s", jobID, job.DocumentID)
	if err := e.jobs.Begin(ctx, jobID); err != nil {
		log.Errorf("[Execute] 任务状态迁移失败，任务ID: %s, error: %v", jobID, err)
		return
	}

	// 3. 读取源文档
	doc, err := e.store.GetDocument(ctx, job.DocumentID)
	if err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("failed to load source document: %v", err))
		return
	}
	if doc == nil {
		e.fail(ctx, jobID, "source document not found")
		return
	}

	// 4. 调用转换引擎
	options := resolver.EngineConfig(&job.Options, e.cfg)
	log.Infof("[Execute] 步骤4: 调用转换引擎，任务ID: %s, 格式: %s", jobID, job.Options.OutputFormat)
	result, err := e.engine.Convert(ctx, doc.FilePath, options)
	if err != nil {
		e.fail(ctx, jobID, err.Error())
		return
	}

	// 5. 持久化产物：主文件 + 图片（有界并发）
	log.Infof("[Execute] 步骤5: 持久化转换产物，任务ID: %s, 图片数: %d", jobID, len(result.Images))
	outputPath, err := e.files.WriteOutput(jobID, job.Options.OutputFormat, []byte(result.Text))
	if err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("failed to write output: %v", err))
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(imageWriteConcurrency)
	for name, data := range result.Images {
		name, data := name, data
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			return e.files.WriteJobImage(jobID, name, data)
		})
	}
	if err := g.Wait(); err != nil {
		e.fail(ctx, jobID, fmt.Sprintf("failed to persist images: %v", err))
		return
	}

	// 6. 完成：进度 100，标记源文档已被成功转换
	if err := e.jobs.Complete(ctx, jobID, outputPath, result.Metadata); err != nil {
		log.Errorf("[Execute] 标记任务完成失败，任务ID: %s, error: %v", jobID, err)
		return
	}
	if err := e.docs.MarkProcessed(ctx, job.DocumentID); err != nil {
		log.Warnf("[Execute] 标记文档已处理失败，文档ID: %s, error: %v", job.DocumentID, err)
	}
	jobsCompleted.Inc()
	log.Infof("[Execute] 转换任务完成，任务ID: %s, 产物: %s", jobID, outputPath)
}

// fail 把任务标记为失败，错误文本逐字保留。
func (e *ConversionExecutor) fail(ctx context.Context, jobID, message string) {
	jobsFailed.Inc()
	if err := e.jobs.Fail(ctx, jobID, message); err != nil {
		log.Errorf("[fail] 标记任务失败时出错，任务ID: %s, error: %v", jobID, err)
	}
}

// Package scheduler 实现后台调度器：转换任务的工作协程池与存储巡检循环。
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/pkg/log"
	"markui-go/pkg/tasks"
)

var (
	jobsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_scheduler_jobs_dispatched_total",
		Help: "投递到执行队列的任务总数",
	})
	jobsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_scheduler_jobs_completed_total",
		Help: "成功完成的任务总数",
	})
	jobsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_scheduler_jobs_failed_total",
		Help: "执行失败的任务总数",
	})
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "markui_scheduler_queue_depth",
		Help: "执行队列中等待的任务数",
	})
	conversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "markui_scheduler_conversion_duration_seconds",
		Help:    "单次转换的执行耗时",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "markui_scheduler_cleanup_runs_total",
		Help: "存储巡检执行次数，按结果分类",
	}, []string{"result"})
	cleanupDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "markui_scheduler_cleanup_duration_seconds",
		Help:    "单次存储巡检的耗时",
		Buckets: prometheus.DefBuckets,
	})
)

// 巡检出错后的退避时长。
const cleanupErrorBackoff = 60 * time.Second

// Executor 执行单个转换任务的完整流程，由执行器实现。
type Executor interface {
	Execute(ctx context.Context, task tasks.ConversionTask)
}

// CleanupRunner 按需触发存储容量回收，由 StorageService 实现。
// 返回 nil 统计表示当前用量在上限以内，本轮无需回收。
type CleanupRunner interface {
	TriggerCleanupIfNeeded(ctx context.Context) (*model.CleanupStats, error)
}

// Scheduler 拥有三类后台协程：N 个转换工作协程、一个存储巡检协程，
// 以及承载它们的缓冲队列。Stop 取消循环上下文并等待在途任务执行完毕。
type Scheduler struct {
	queue    chan tasks.ConversionTask
	workers  int
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New 创建一个调度器实例。
func New(schedCfg config.SchedulerConfig, storageCfg config.StorageConfig) *Scheduler {
	workers := schedCfg.WorkerCount
	if workers < 1 {
		workers = 2
	}
	queueSize := schedCfg.QueueSize
	if queueSize < 1 {
		queueSize = 128
	}
	return &Scheduler{
		queue:    make(chan tasks.ConversionTask, queueSize),
		workers:  workers,
		interval: storageCfg.CheckInterval(),
	}
}

// Dispatch 非阻塞地把任务投递到执行队列。队列已满时返回错误，
// 由提交方把任务标记为失败。
func (s *Scheduler) Dispatch(jobID string) error {
	select {
	case s.queue <- tasks.ConversionTask{JobID: jobID}:
		jobsDispatched.Inc()
		queueDepth.Set(float64(len(s.queue)))
		return nil
	default:
		return fmt.Errorf("conversion queue is full (%d pending)", cap(s.queue))
	}
}

// Start 启动全部后台协程。exec 执行转换，janitor 执行存储巡检。
func (s *Scheduler) Start(ctx context.Context, exec Executor, janitor CleanupRunner) {
	ctx, s.cancel = context.WithCancel(ctx)

	log.Infof("[Start] 调度器启动，工作协程: %d, 队列容量: %d, 巡检间隔: %s", s.workers, cap(s.queue), s.interval)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i, exec)
	}

	s.wg.Add(1)
	go s.cleanupLoop(ctx, janitor)
}

// Stop 停止接收新任务并等待所有后台协程退出。在途转换会执行完毕。
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Infof("[Stop] 调度器已停止")
}

// worker 从队列中取任务并执行，直到上下文取消。上下文只控制队列
// 等待，不会传入执行流程。
func (s *Scheduler) worker(ctx context.Context, id int, exec Executor) {
	defer s.wg.Done()
	log.Infof("[worker] 工作协程 %d 已启动", id)
	for {
		select {
		case <-ctx.Done():
			log.Infof("[worker] 工作协程 %d 退出", id)
			return
		case task := <-s.queue:
			queueDepth.Set(float64(len(s.queue)))
			start := time.Now()
			// 在途任务用独立上下文执行：Stop 只中断队列等待，
			// 已开始的转换会跑到完成或失败，不会被丢在 processing 状态。
			exec.Execute(context.Background(), task)
			conversionDuration.Observe(time.Since(start).Seconds())
		}
	}
}

// cleanupLoop 周期性触发存储巡检。出错时记录日志并退避 60 秒，循环永不退出。
func (s *Scheduler) cleanupLoop(ctx context.Context, janitor CleanupRunner) {
	defer s.wg.Done()
	log.Infof("[cleanupLoop] 存储巡检协程已启动，间隔: %s", s.interval)

	timer := time.NewTimer(s.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Infof("[cleanupLoop] 存储巡检协程退出")
			return
		case <-timer.C:
			start := time.Now()
			stats, err := janitor.TriggerCleanupIfNeeded(ctx)
			cleanupDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				log.Errorf("[cleanupLoop] 存储巡检失败，%s 后重试, error: %v", cleanupErrorBackoff, err)
				cleanupRuns.WithLabelValues("error").Inc()
				timer.Reset(cleanupErrorBackoff)
				continue
			}
			if stats != nil {
				log.Infof("[cleanupLoop] 巡检触发回收，删除 %d 个文档，释放 %.1f MB", stats.DeletedCount, stats.DeletedSizeMB)
			}
			cleanupRuns.WithLabelValues("ok").Inc()
			timer.Reset(s.interval)
		}
	}
}

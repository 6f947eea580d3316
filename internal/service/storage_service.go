package service

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/internal/store"
	"markui-go/pkg/log"
)

var (
	evictedDocuments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_storage_evicted_documents_total",
		Help: "容量回收删除的文档总数",
	})
	evictedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_storage_evicted_bytes_total",
		Help: "容量回收释放的字节总数",
	})
	storedDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "markui_storage_documents",
		Help: "当前存储的文档数",
	})
	storedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "markui_storage_bytes",
		Help: "当前存储的文档字节数",
	})
)

// 回收评分权重。分数越高越优先删除。
const (
	scoreAgeWeight        = 5.0
	scoreSizeWeight       = 3.0
	scoreUnprocessedBonus = 100.0
	scoreIdleWeight       = 3.0
	scoreNeverAccessed    = 75.0
	scoreUnparseableAge   = 500.0
)

// DocumentDeleter 执行文档的级联删除，由 DocumentService 实现。
type DocumentDeleter interface {
	Delete(ctx context.Context, id string) error
}

// StorageService 接口定义了容量治理操作：用量查询、按需回收与强制回收。
type StorageService interface {
	StorageInfo(ctx context.Context) (*model.StorageInfo, error)
	CheckAndCleanup(ctx context.Context) (*model.CleanupStats, error)
	TriggerCleanupIfNeeded(ctx context.Context) (*model.CleanupStats, error)
}

type storageService struct {
	store store.Store
	docs  DocumentDeleter
	cfg   config.StorageConfig
	now   func() time.Time
}

// NewStorageService 创建一个新的 StorageService 实例。
func NewStorageService(s store.Store, docs DocumentDeleter, cfg config.StorageConfig) StorageService {
	return &storageService{
		store: s,
		docs:  docs,
		cfg:   cfg,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// StorageInfo 返回当前存储状态：总量、生效上限与用量百分比。
func (s *storageService) StorageInfo(ctx context.Context) (*model.StorageInfo, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	var totalBytes int64
	for _, doc := range docs {
		totalBytes += doc.FileSize
	}
	totalMB := float64(totalBytes) / (1024 * 1024)

	info := &model.StorageInfo{
		TotalPDFs:      len(docs),
		TotalSizeBytes: totalBytes,
		TotalSizeMB:    totalMB,
		Limits: model.StorageLimits{
			MaxPDFs:           s.cfg.MaxStoredPDFs,
			MaxSizeMB:         s.cfg.MaxStorageSizeMB,
			MinRetentionHours: s.cfg.MinRetentionHours,
		},
	}
	if s.cfg.MaxStoredPDFs > 0 {
		info.UsagePercentage.Count = float64(len(docs)) / float64(s.cfg.MaxStoredPDFs) * 100
	}
	if s.cfg.MaxStorageSizeMB > 0 {
		info.UsagePercentage.Size = totalMB / s.cfg.MaxStorageSizeMB * 100
	}

	storedDocuments.Set(float64(len(docs)))
	storedBytes.Set(float64(totalBytes))
	return info, nil
}

// TriggerCleanupIfNeeded 在任一上限被突破时执行一轮回收，否则返回 nil。
func (s *storageService) TriggerCleanupIfNeeded(ctx context.Context) (*model.CleanupStats, error) {
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	count, sizeMB := totals(docs)
	if count <= s.cfg.MaxStoredPDFs && sizeMB <= s.cfg.MaxStorageSizeMB {
		return nil, nil
	}
	log.Infof("[TriggerCleanupIfNeeded] 存储超限（%d 个 / %.1f MB），开始回收", count, sizeMB)
	return s.CheckAndCleanup(ctx)
}

// CheckAndCleanup 执行一轮容量回收并返回统计。
// 算法：对全部文档打分（分数越高越该删），按分数稳定降序排序，
// 以批为单位删除，直到数量与体积都回到上限以内或可删集合耗尽。
// 保留期内的文档绝对受保护，即使回收后仍然超限也不动它们。
func (s *storageService) CheckAndCleanup(ctx context.Context) (*model.CleanupStats, error) {
	// 1. 单次快照：整轮回收基于同一份列表，不重复读取
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	now := s.now()
	initialCount, initialMB := totals(docs)
	stats := &model.CleanupStats{
		InitialCount:  initialCount,
		InitialSizeMB: initialMB,
		CleanupReason: []string{},
	}

	if initialCount > s.cfg.MaxStoredPDFs {
		stats.CleanupReason = append(stats.CleanupReason, "max_count_exceeded")
	}
	if initialMB > s.cfg.MaxStorageSizeMB {
		stats.CleanupReason = append(stats.CleanupReason, "max_size_exceeded")
	}
	if len(stats.CleanupReason) == 0 {
		stats.FinalCount = initialCount
		stats.FinalSizeMB = initialMB
		return stats, nil
	}

	// 2. 过滤保留期内的文档，其余打分。
	// 创建时间无法解析的记录视为可删除，绝不受保留期保护。
	retention := time.Duration(s.cfg.MinRetentionHours) * time.Hour
	type scored struct {
		doc   *model.SourceDocument
		score float64
	}
	var candidates []scored
	for _, doc := range docs {
		created, ok := doc.CreatedTime()
		if ok && now.Sub(created) < retention {
			continue
		}
		candidates = append(candidates, scored{doc: doc, score: s.score(doc, now)})
	}

	// 3. 稳定降序：同分时保持列表顺序，回收结果可复现
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	// 4. 批量删除直到回到上限以内或可删集合耗尽
	remainingCount := initialCount
	remainingMB := initialMB
	batchSize := s.cfg.CleanupBatchSize
	if batchSize < 1 {
		batchSize = 10
	}
	idx := 0
	for (remainingCount > s.cfg.MaxStoredPDFs || remainingMB > s.cfg.MaxStorageSizeMB) && idx < len(candidates) {
		end := idx + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, c := range candidates[idx:end] {
			sizeMB := c.doc.FileSizeMB()
			if err := s.docs.Delete(ctx, c.doc.ID); err != nil {
				log.Errorf("[CheckAndCleanup] 删除文档失败，文档ID: %s, error: %v", c.doc.ID, err)
				continue
			}
			stats.DeletedCount++
			stats.DeletedSizeMB += sizeMB
			remainingCount--
			remainingMB -= sizeMB
			evictedDocuments.Inc()
			evictedBytes.Add(float64(c.doc.FileSize))
			if remainingCount <= s.cfg.MaxStoredPDFs && remainingMB <= s.cfg.MaxStorageSizeMB {
				break
			}
		}
		idx = end
	}

	stats.FinalCount = remainingCount
	stats.FinalSizeMB = remainingMB
	log.Infof("[CheckAndCleanup] 回收完成，删除 %d 个文档，释放 %.1f MB（%d 个 / %.1f MB 剩余）",
		stats.DeletedCount, stats.DeletedSizeMB, stats.FinalCount, stats.FinalSizeMB)
	return stats, nil
}

// score 计算文档的回收分数，分数越高越优先删除。
// 构成：文档年龄、文件体积、是否从未被成功转换、距上次访问的闲置时长。
// 创建时间无法解析时以固定高分代替年龄项。
func (s *storageService) score(doc *model.SourceDocument, now time.Time) float64 {
	var score float64

	if created, ok := doc.CreatedTime(); ok {
		ageDays := now.Sub(created).Hours() / 24
		score += ageDays * scoreAgeWeight
	} else {
		score += scoreUnparseableAge
	}

	score += doc.FileSizeMB() * scoreSizeWeight

	if !doc.IsProcessed {
		score += scoreUnprocessedBonus
	}

	if accessed, ok := doc.LastAccessedTime(); ok {
		idleDays := now.Sub(accessed).Hours() / 24
		score += idleDays * scoreIdleWeight
	} else {
		score += scoreNeverAccessed
	}

	return score
}

func totals(docs []*model.SourceDocument) (int, float64) {
	var bytes int64
	for _, doc := range docs {
		bytes += doc.FileSize
	}
	return len(docs), float64(bytes) / (1024 * 1024)
}

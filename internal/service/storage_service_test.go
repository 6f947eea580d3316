package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/internal/store"
)

// storeDeleter 直接从存储层删除记录，模拟 DocumentService 的级联删除。
// failIDs 中的文档删除时返回错误，用于验证失败不计入统计。
type storeDeleter struct {
	store   store.Store
	deleted []string
	failIDs map[string]bool
}

func (d *storeDeleter) Delete(ctx context.Context, id string) error {
	if d.failIDs[id] {
		return errors.New("file in use")
	}
	if err := d.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	d.deleted = append(d.deleted, id)
	return nil
}

func newStorageFixture(t *testing.T, cfg config.StorageConfig, now time.Time) (*storageService, store.Store, *storeDeleter) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := store.New(rdb, cfg)
	deleter := &storeDeleter{store: st, failIDs: map[string]bool{}}
	svc := &storageService{
		store: st,
		docs:  deleter,
		cfg:   cfg,
		now:   func() time.Time { return now },
	}
	return svc, st, deleter
}

// seedDoc 写入一份测试文档。ageHours 控制创建时间相对 now 的偏移。
func seedDoc(t *testing.T, st store.Store, now time.Time, id string, ageHours float64, sizeBytes int64, processed bool, lastAccessed string, createdOverride string) {
	t.Helper()
	created := now.Add(-time.Duration(ageHours * float64(time.Hour))).Format(model.TimeLayout)
	if createdOverride != "" {
		created = createdOverride
	}
	doc := &model.SourceDocument{
		ID:             id,
		Filename:       id + ".pdf",
		FilePath:       "uploads/" + id + ".pdf",
		FileSize:       sizeBytes,
		IsProcessed:    processed,
		CreatedAt:      created,
		UpdatedAt:      created,
		LastAccessedAt: lastAccessed,
	}
	if err := st.SaveDocument(context.Background(), doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
}

func TestTriggerCleanupWithinLimits(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.StorageConfig{MaxStoredPDFs: 10, MaxStorageSizeMB: 100, MinRetentionHours: 1, CleanupBatchSize: 10, DocumentTTLHours: 24, JobTTLHours: 48}
	svc, st, _ := newStorageFixture(t, cfg, now)
	seedDoc(t, st, now, "document_1", 5, 1<<20, true, "", "")

	stats, err := svc.TriggerCleanupIfNeeded(context.Background())
	if err != nil {
		t.Fatalf("TriggerCleanupIfNeeded: %v", err)
	}
	if stats != nil {
		t.Errorf("within limits must be a no-op, got %+v", stats)
	}
}

func TestCleanupRetentionIsAbsolute(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// 上限 2 个，3 个全部在保留期内：即使超限也一个都不删
	cfg := config.StorageConfig{MaxStoredPDFs: 2, MaxStorageSizeMB: 1000, MinRetentionHours: 48, CleanupBatchSize: 10, DocumentTTLHours: 72, JobTTLHours: 48}
	svc, st, deleter := newStorageFixture(t, cfg, now)
	for i := 1; i <= 3; i++ {
		seedDoc(t, st, now, fmt.Sprintf("document_%d", i), 2, 1<<20, true, "", "")
	}

	stats, err := svc.CheckAndCleanup(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanup: %v", err)
	}
	if stats.DeletedCount != 0 || len(deleter.deleted) != 0 {
		t.Errorf("retention-protected documents were deleted: %v", deleter.deleted)
	}
	if len(stats.CleanupReason) != 1 || stats.CleanupReason[0] != "max_count_exceeded" {
		t.Errorf("reasons = %v", stats.CleanupReason)
	}
	if stats.FinalCount != 3 {
		t.Errorf("final count = %d, want 3", stats.FinalCount)
	}
}

func TestCleanupEvictsHighestScoreFirst(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.StorageConfig{MaxStoredPDFs: 2, MaxStorageSizeMB: 1000, MinRetentionHours: 1, CleanupBatchSize: 10, DocumentTTLHours: 24, JobTTLHours: 48}
	svc, st, deleter := newStorageFixture(t, cfg, now)

	accessed := now.Add(-1 * time.Hour).Format(model.TimeLayout)
	// document_1：老、未转换、从未访问 —— 分数最高
	seedDoc(t, st, now, "document_1", 72, 1<<20, false, "", "")
	// document_2、document_3：新、已转换、刚访问过
	seedDoc(t, st, now, "document_2", 3, 1<<20, true, accessed, "")
	seedDoc(t, st, now, "document_3", 3, 1<<20, true, accessed, "")

	stats, err := svc.CheckAndCleanup(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanup: %v", err)
	}
	if stats.DeletedCount != 1 {
		t.Fatalf("deleted = %d, want exactly 1", stats.DeletedCount)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "document_1" {
		t.Errorf("deleted %v, want [document_1]", deleter.deleted)
	}
	if stats.FinalCount != 2 {
		t.Errorf("final count = %d, want 2", stats.FinalCount)
	}
}

func TestCleanupUnparseableTimestampIsDeletable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.StorageConfig{MaxStoredPDFs: 1, MaxStorageSizeMB: 1000, MinRetentionHours: 48, CleanupBatchSize: 10, DocumentTTLHours: 72, JobTTLHours: 48}
	svc, st, deleter := newStorageFixture(t, cfg, now)

	// 创建时间损坏的记录不受保留期保护，且固定高分优先出局
	seedDoc(t, st, now, "document_1", 0, 1<<20, true, "", "not-a-timestamp")
	seedDoc(t, st, now, "document_2", 2, 1<<20, true, "", "")

	stats, err := svc.CheckAndCleanup(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanup: %v", err)
	}
	if len(deleter.deleted) != 1 || deleter.deleted[0] != "document_1" {
		t.Errorf("deleted %v, want [document_1]", deleter.deleted)
	}
	if stats.FinalCount != 1 {
		t.Errorf("final count = %d, want 1", stats.FinalCount)
	}
}

func TestCleanupSizeReason(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// 数量未超，体积超：两个 3MB 的文档，上限 4MB
	cfg := config.StorageConfig{MaxStoredPDFs: 10, MaxStorageSizeMB: 4, MinRetentionHours: 1, CleanupBatchSize: 10, DocumentTTLHours: 24, JobTTLHours: 48}
	svc, st, _ := newStorageFixture(t, cfg, now)
	seedDoc(t, st, now, "document_1", 10, 3<<20, true, "", "")
	seedDoc(t, st, now, "document_2", 5, 3<<20, true, "", "")

	stats, err := svc.CheckAndCleanup(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanup: %v", err)
	}
	if len(stats.CleanupReason) != 1 || stats.CleanupReason[0] != "max_size_exceeded" {
		t.Errorf("reasons = %v", stats.CleanupReason)
	}
	if stats.DeletedCount != 1 {
		t.Errorf("deleted = %d, want 1", stats.DeletedCount)
	}
	if stats.FinalSizeMB > cfg.MaxStorageSizeMB {
		t.Errorf("final size %.1fMB still over the %vMB limit", stats.FinalSizeMB, cfg.MaxStorageSizeMB)
	}
}

func TestCleanupDeleteFailureDoesNotCount(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.StorageConfig{MaxStoredPDFs: 1, MaxStorageSizeMB: 1000, MinRetentionHours: 1, CleanupBatchSize: 10, DocumentTTLHours: 24, JobTTLHours: 48}
	svc, st, deleter := newStorageFixture(t, cfg, now)

	// document_1 分数最高但删除失败，回收应继续处理 document_2
	seedDoc(t, st, now, "document_1", 96, 2<<20, false, "", "")
	seedDoc(t, st, now, "document_2", 48, 1<<20, true, "", "")
	seedDoc(t, st, now, "document_3", 3, 1<<20, true, now.Add(-time.Hour).Format(model.TimeLayout), "")
	deleter.failIDs["document_1"] = true

	stats, err := svc.CheckAndCleanup(context.Background())
	if err != nil {
		t.Fatalf("CheckAndCleanup: %v", err)
	}
	for _, id := range deleter.deleted {
		if id == "document_1" {
			t.Error("failed deletion must not be recorded")
		}
	}
	if stats.DeletedCount != len(deleter.deleted) {
		t.Errorf("stats.DeletedCount = %d, actual deletions = %d", stats.DeletedCount, len(deleter.deleted))
	}
	// 删除失败的文档不计入剩余量的扣减
	if stats.FinalCount != 3-stats.DeletedCount {
		t.Errorf("final count = %d with %d deletions", stats.FinalCount, stats.DeletedCount)
	}
}

func TestStorageInfoPercentages(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cfg := config.StorageConfig{MaxStoredPDFs: 10, MaxStorageSizeMB: 100, MinRetentionHours: 1, CleanupBatchSize: 10, DocumentTTLHours: 24, JobTTLHours: 48}
	svc, st, _ := newStorageFixture(t, cfg, now)
	seedDoc(t, st, now, "document_1", 5, 10<<20, true, "", "")
	seedDoc(t, st, now, "document_2", 5, 15<<20, true, "", "")

	info, err := svc.StorageInfo(context.Background())
	if err != nil {
		t.Fatalf("StorageInfo: %v", err)
	}
	if info.TotalPDFs != 2 {
		t.Errorf("total pdfs = %d", info.TotalPDFs)
	}
	if info.TotalSizeBytes != 25<<20 {
		t.Errorf("total bytes = %d", info.TotalSizeBytes)
	}
	if info.UsagePercentage.Count != 20 {
		t.Errorf("count usage = %.1f%%, want 20%%", info.UsagePercentage.Count)
	}
	if info.UsagePercentage.Size != 25 {
		t.Errorf("size usage = %.1f%%, want 25%%", info.UsagePercentage.Size)
	}
	if info.Limits.MaxPDFs != 10 || info.Limits.MinRetentionHours != 1 {
		t.Errorf("limits = %+v", info.Limits)
	}
}

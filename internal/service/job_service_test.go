package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/internal/store"
	"markui-go/pkg/files"
)

// stubDispatcher 记录投递的任务 ID，可切换为队列已满。
type stubDispatcher struct {
	dispatched []string
	full       bool
}

func (d *stubDispatcher) Dispatch(jobID string) error {
	if d.full {
		return errors.New("conversion queue is full (128 pending)")
	}
	d.dispatched = append(d.dispatched, jobID)
	return nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Storage: config.StorageConfig{
			UploadDir:         filepath.Join(dir, "uploads"),
			OutputDir:         filepath.Join(dir, "outputs"),
			StaticDir:         filepath.Join(dir, "static"),
			MaxFileSizeMB:     100,
			MaxStoredPDFs:     50,
			MaxStorageSizeMB:  500,
			MinRetentionHours: 1,
			CleanupBatchSize:  10,
			DocumentTTLHours:  24,
			JobTTLHours:       48,
		},
		LLM: config.LLMConfig{TimeoutSeconds: 30, MaxRetries: 2, RetryWaitSeconds: 3},
	}
}

func newJobServiceFixture(t *testing.T) (JobService, store.Store, *stubDispatcher, *files.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig(t)
	st := store.New(rdb, cfg.Storage)
	fm, err := files.NewManager(cfg.Storage)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	dispatcher := &stubDispatcher{}
	return NewJobService(st, fm, dispatcher, cfg), st, dispatcher, fm
}

func seedDocument(t *testing.T, st store.Store, id string) {
	t.Helper()
	now := time.Now().UTC().Format(model.TimeLayout)
	err := st.SaveDocument(context.Background(), &model.SourceDocument{
		ID:        id,
		Filename:  id + ".pdf",
		FilePath:  "uploads/" + id + ".pdf",
		FileSize:  1024,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
}

func TestSubmitCreatesPendingJob(t *testing.T) {
	svc, st, dispatcher, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")

	job, err := svc.Submit(ctx, "document_1", &model.JobOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != model.StatusPending || job.Progress != 0 {
		t.Errorf("job = %s/%d, want pending/0", job.Status, job.Progress)
	}
	if len(dispatcher.dispatched) != 1 || dispatcher.dispatched[0] != job.ID {
		t.Errorf("dispatched = %v, want [%s]", dispatcher.dispatched, job.ID)
	}

	stored, _ := st.GetJob(ctx, job.ID)
	if stored == nil || stored.Status != model.StatusPending {
		t.Errorf("stored job missing or wrong status: %+v", stored)
	}
}

func TestSubmitMissingDocument(t *testing.T) {
	svc, _, _, _ := newJobServiceFixture(t)

	_, err := svc.Submit(context.Background(), "document_404", &model.JobOptions{})
	var notFound *model.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestSubmitMissingCredentialLeavesNoRecord(t *testing.T) {
	svc, st, dispatcher, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")

	useLLM := true
	svcName := "marker.services.gemini.GoogleGeminiService"
	_, err := svc.Submit(ctx, "document_1", &model.JobOptions{UseLLM: &useLLM, LLMService: &svcName})
	var confErr *model.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("want ConfigurationError, got %v", err)
	}

	ids, _ := st.ListJobIDs(ctx)
	if len(ids) != 0 {
		t.Errorf("failed resolution must not persist a job, found %v", ids)
	}
	if len(dispatcher.dispatched) != 0 {
		t.Errorf("nothing should be dispatched, got %v", dispatcher.dispatched)
	}
}

func TestSubmitQueueFullMarksJobFailed(t *testing.T) {
	svc, st, dispatcher, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	dispatcher.full = true

	job, err := svc.Submit(ctx, "document_1", &model.JobOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", job.Status)
	}
	stored, _ := st.GetJob(ctx, job.ID)
	if stored.Status != model.StatusFailed || stored.ErrorMessage == "" {
		t.Errorf("stored job = %s/%q", stored.Status, stored.ErrorMessage)
	}
}

func TestBeginTransition(t *testing.T) {
	svc, st, _, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	job, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})

	if err := svc.Begin(ctx, job.ID); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != model.StatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}
	if got.Progress != 10 {
		t.Errorf("progress = %d, want 10", got.Progress)
	}
	if got.StartedAt == nil {
		t.Error("started_at not set")
	}
	if got.CompletedAt != nil {
		t.Error("completed_at must stay empty until a terminal state")
	}
}

func TestBeginVanishedJobIsAbandoned(t *testing.T) {
	svc, _, _, _ := newJobServiceFixture(t)
	if err := svc.Begin(context.Background(), "job_404"); err != nil {
		t.Errorf("vanished job should be abandoned silently, got %v", err)
	}
}

func TestCompleteTransition(t *testing.T) {
	svc, st, _, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	job, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})
	_ = svc.Begin(ctx, job.ID)

	err := svc.Complete(ctx, job.ID, "outputs/job_"+job.ID+"/index.md", map[string]interface{}{"pages": 3})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != model.StatusCompleted || got.Progress != 100 {
		t.Errorf("job = %s/%d, want completed/100", got.Status, got.Progress)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error_message should be cleared, got %q", got.ErrorMessage)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}
	if got.OutputMetadata["pages"] != float64(3) {
		t.Errorf("output metadata = %v", got.OutputMetadata)
	}
}

func TestFailKeepsMessageVerbatim(t *testing.T) {
	svc, st, _, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	job, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})
	_ = svc.Begin(ctx, job.ID)

	const msg = "conversion service returned 502: upstream worker crashed"
	if err := svc.Fail(ctx, job.ID, msg); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != model.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage != msg {
		t.Errorf("error message altered: %q", got.ErrorMessage)
	}
	if got.Progress != 10 {
		t.Errorf("progress = %d, fail must not touch progress", got.Progress)
	}
}

func TestTerminalStatesAbsorb(t *testing.T) {
	svc, st, _, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	job, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})
	_ = svc.Begin(ctx, job.ID)
	_ = svc.Fail(ctx, job.ID, "boom")

	// 终态之后的完成与再失败请求都被忽略
	if err := svc.Complete(ctx, job.ID, "x", nil); err != nil {
		t.Fatalf("Complete on terminal: %v", err)
	}
	if err := svc.Fail(ctx, job.ID, "other"); err != nil {
		t.Fatalf("Fail on terminal: %v", err)
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got.Status != model.StatusFailed || got.ErrorMessage != "boom" {
		t.Errorf("terminal state mutated: %s %q", got.Status, got.ErrorMessage)
	}
}

func TestCancelOnlyPending(t *testing.T) {
	svc, st, _, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")

	pending, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})
	cancelled, err := svc.Cancel(ctx, pending.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != model.StatusCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	running, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})
	_ = svc.Begin(ctx, running.ID)
	_, err = svc.Cancel(ctx, running.ID)
	var confErr *model.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("cancelling a processing job should be rejected, got %v", err)
	}

	_, err = svc.Cancel(ctx, "job_404")
	var notFound *model.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("want NotFoundError, got %v", err)
	}
}

func TestListPaginationAndFilter(t *testing.T) {
	svc, st, _, _ := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")

	var ids []string
	for i := 0; i < 5; i++ {
		job, err := svc.Submit(ctx, "document_1", &model.JobOptions{})
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, job.ID)
	}
	_, _ = svc.Cancel(ctx, ids[0])

	jobs, total, err := svc.List(ctx, 1, 3, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 5 || len(jobs) != 3 {
		t.Fatalf("total=%d len=%d, want 5/3", total, len(jobs))
	}
	// 最新提交的在前
	if jobs[0].ID != ids[4] {
		t.Errorf("first = %s, want %s", jobs[0].ID, ids[4])
	}

	jobs, total, err = svc.List(ctx, 1, 10, string(model.StatusCancelled))
	if err != nil {
		t.Fatalf("List filtered: %v", err)
	}
	if total != 1 || len(jobs) != 1 || jobs[0].ID != ids[0] {
		t.Errorf("filter result = %v (total %d)", jobs, total)
	}

	jobs, _, err = svc.List(ctx, 3, 3, "")
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("out-of-range page should be empty, got %d", len(jobs))
	}
}

func TestDeleteRemovesOutputDir(t *testing.T) {
	svc, st, _, fm := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	job, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})

	if _, err := fm.WriteOutput(job.ID, model.FormatMarkdown, []byte("# hi")); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if err := svc.Delete(ctx, job.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(fm.JobDir(job.ID)); !os.IsNotExist(err) {
		t.Error("job output dir should be removed")
	}
	got, _ := st.GetJob(ctx, job.ID)
	if got != nil {
		t.Error("job record should be removed")
	}
}

func TestResultRequiresCompleted(t *testing.T) {
	svc, st, _, fm := newJobServiceFixture(t)
	ctx := context.Background()
	seedDocument(t, st, "document_1")
	job, _ := svc.Submit(ctx, "document_1", &model.JobOptions{})

	_, err := svc.Result(ctx, job.ID)
	var confErr *model.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("result of a pending job should be rejected, got %v", err)
	}

	_ = svc.Begin(ctx, job.ID)
	outputPath, err := fm.WriteOutput(job.ID, model.FormatMarkdown, []byte("# converted"))
	if err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if err := fm.WriteJobImage(job.ID, "figure_1.png", []byte{0x89, 0x50}); err != nil {
		t.Fatalf("WriteJobImage: %v", err)
	}
	_ = svc.Complete(ctx, job.ID, outputPath, nil)

	result, err := svc.Result(ctx, job.ID)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Content != "# converted" {
		t.Errorf("content = %q", result.Content)
	}
	if len(result.Images) != 1 || result.Images[0] != "/output/job_"+job.ID+"/figure_1.png" {
		t.Errorf("images = %v", result.Images)
	}

	// 第二次读取命中缓存，内容一致
	again, err := svc.Result(ctx, job.ID)
	if err != nil {
		t.Fatalf("Result (cached): %v", err)
	}
	if again.Content != result.Content {
		t.Errorf("cached content mismatch: %q", again.Content)
	}
}

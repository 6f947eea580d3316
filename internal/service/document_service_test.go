package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"markui-go/internal/model"
	"markui-go/internal/store"
	"markui-go/pkg/files"
	"markui-go/pkg/pdfinfo"
)

type fixedInspector struct{ pages int }

func (f fixedInspector) Inspect(string) (*pdfinfo.Info, error) {
	return &pdfinfo.Info{PageCount: f.pages, Metadata: map[string]string{}}, nil
}

func newDocumentServiceFixture(t *testing.T) (DocumentService, JobService, store.Store, *files.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cfg := testConfig(t)
	st := store.New(rdb, cfg.Storage)
	fm, err := files.NewManager(cfg.Storage)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	jobs := NewJobService(st, fm, &stubDispatcher{}, cfg)
	docs := NewDocumentService(st, fm, fixedInspector{pages: 3}, jobs, cfg.Storage)
	return docs, jobs, st, fm
}

// seedDocumentWithFile 写入文档记录并把源文件真实落盘。
func seedDocumentWithFile(t *testing.T, st store.Store, fm *files.Manager, id string) string {
	t.Helper()
	path := fm.UploadPath(id + ".pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	now := time.Now().UTC().Format(model.TimeLayout)
	err := st.SaveDocument(context.Background(), &model.SourceDocument{
		ID:        id,
		Filename:  id + ".pdf",
		FilePath:  path,
		FileSize:  1024,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	return path
}

func TestDeleteCascadesJobsAndOutputs(t *testing.T) {
	docs, jobs, st, fm := newDocumentServiceFixture(t)
	ctx := context.Background()
	srcPath := seedDocumentWithFile(t, st, fm, "document_1")

	job1, err := jobs.Submit(ctx, "document_1", &model.JobOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	job2, err := jobs.Submit(ctx, "document_1", &model.JobOptions{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	// 给第一个任务落一份产物目录
	if _, err := fm.WriteOutput(job1.ID, "markdown", []byte("# converted")); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}

	if err := docs.Delete(ctx, "document_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	for _, id := range []string{job1.ID, job2.ID} {
		if got, _ := st.GetJob(ctx, id); got != nil {
			t.Errorf("job %s still present after document delete: %+v", id, got)
		}
	}
	if _, err := os.Stat(fm.JobDir(job1.ID)); !os.IsNotExist(err) {
		t.Errorf("output dir %s still exists, stat err: %v", fm.JobDir(job1.ID), err)
	}
	if _, err := os.Stat(srcPath); !os.IsNotExist(err) {
		t.Errorf("source file %s still exists, stat err: %v", srcPath, err)
	}
	if got, _ := st.GetDocument(ctx, "document_1"); got != nil {
		t.Errorf("document record still present: %+v", got)
	}
}

func TestDeleteProceedsWhenSourceFileUndeletable(t *testing.T) {
	docs, _, st, fm := newDocumentServiceFixture(t)
	ctx := context.Background()

	// 让 FilePath 指向「普通文件下的子路径」，os.Remove 会以 ENOTDIR 失败
	blocker := fm.UploadPath("blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	now := time.Now().UTC().Format(model.TimeLayout)
	err := st.SaveDocument(ctx, &model.SourceDocument{
		ID:        "document_1",
		Filename:  "document_1.pdf",
		FilePath:  filepath.Join(blocker, "document_1.pdf"),
		FileSize:  1024,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}

	// 物理删除失败不阻断，记录必须被移除，否则容量回收会反复选中它
	if err := docs.Delete(ctx, "document_1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, _ := st.GetDocument(ctx, "document_1"); got != nil {
		t.Errorf("document record still present: %+v", got)
	}
}

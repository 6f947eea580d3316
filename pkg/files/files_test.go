package files

import (
	"archive/zip"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"markui-go/internal/config"
	"markui-go/internal/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := NewManager(config.StorageConfig{
		UploadDir: filepath.Join(dir, "uploads"),
		OutputDir: filepath.Join(dir, "outputs"),
		StaticDir: filepath.Join(dir, "static"),
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerCreatesDirs(t *testing.T) {
	m := newTestManager(t)
	for _, dir := range []string{m.UploadDir(), m.OutputDir(), m.StaticDir()} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s not created: %v", dir, err)
		}
	}
}

func TestOutputPathPerFormat(t *testing.T) {
	m := newTestManager(t)
	tests := []struct {
		format string
		want   string
	}{
		{model.FormatMarkdown, "index.md"},
		{model.FormatJSON, "index.json"},
		{model.FormatHTML, "index.html"},
		{"", "index.md"},
	}
	for _, tt := range tests {
		got := m.OutputPath("job_1", tt.format)
		if filepath.Base(got) != tt.want {
			t.Errorf("OutputPath(%q) = %s, want base %s", tt.format, got, tt.want)
		}
		if filepath.Dir(got) != m.JobDir("job_1") {
			t.Errorf("OutputPath(%q) outside job dir: %s", tt.format, got)
		}
	}
}

func TestWriteOutputRoundtrip(t *testing.T) {
	m := newTestManager(t)

	path, err := m.WriteOutput("job_1", model.FormatMarkdown, []byte("# title"))
	if err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(content) != "# title" {
		t.Errorf("content = %q", content)
	}
}

func TestDeleteFileIdempotent(t *testing.T) {
	m := newTestManager(t)
	path := filepath.Join(m.UploadDir(), "gone.pdf")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := m.DeleteFile(path); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	// 已不存在的文件再次删除视为成功
	if err := m.DeleteFile(path); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestDeletePreviews(t *testing.T) {
	m := newTestManager(t)
	stem := "abc-123"
	for _, name := range []string{stem + "_page_1.jpg", stem + "_page_2.jpg", "other_page_1.jpg"} {
		if err := os.WriteFile(filepath.Join(m.StaticDir(), name), []byte("jpg"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	if err := m.DeletePreviews(stem + ".pdf"); err != nil {
		t.Fatalf("DeletePreviews: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.StaticDir(), stem+"_page_1.jpg")); !os.IsNotExist(err) {
		t.Error("preview 1 not deleted")
	}
	if _, err := os.Stat(filepath.Join(m.StaticDir(), "other_page_1.jpg")); err != nil {
		t.Error("unrelated preview was deleted")
	}
}

func TestZipJobDir(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.WriteOutput("job_1", model.FormatMarkdown, []byte("# doc")); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	if err := m.WriteJobImage("job_1", "figure_1.png", []byte{0x89}); err != nil {
		t.Fatalf("WriteJobImage: %v", err)
	}

	zipPath, err := m.ZipJobDir("job_1")
	if err != nil {
		t.Fatalf("ZipJobDir: %v", err)
	}
	defer os.Remove(zipPath)

	r, err := zip.OpenReader(zipPath)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer r.Close()
	names := map[string]bool{}
	for _, f := range r.File {
		names[f.Name] = true
	}
	if !names["index.md"] || !names["figure_1.png"] {
		t.Errorf("zip entries = %v", names)
	}
}

func TestZipJobDirMissing(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ZipJobDir("job_404"); err == nil {
		t.Fatal("want error for missing job dir")
	}
}

func TestListJobImages(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.WriteOutput("job_1", model.FormatMarkdown, []byte("# doc")); err != nil {
		t.Fatalf("WriteOutput: %v", err)
	}
	for _, name := range []string{"figure_1.png", "figure_2.JPG", "data.txt"} {
		if err := m.WriteJobImage("job_1", name, []byte("x")); err != nil {
			t.Fatalf("WriteJobImage: %v", err)
		}
	}

	images, err := m.ListJobImages("job_1")
	if err != nil {
		t.Fatalf("ListJobImages: %v", err)
	}
	want := []string{"figure_1.png", "figure_2.JPG"}
	if !reflect.DeepEqual(images, want) {
		t.Errorf("images = %v, want %v", images, want)
	}

	// 目录不存在时返回空结果而非错误
	none, err := m.ListJobImages("job_404")
	if err != nil || none != nil {
		t.Errorf("missing dir: %v %v", none, err)
	}
}

func TestWriteJobImageStripsPath(t *testing.T) {
	m := newTestManager(t)
	if err := m.WriteJobImage("job_1", "../escape.png", []byte("x")); err != nil {
		t.Fatalf("WriteJobImage: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.JobDir("job_1"), "escape.png")); err != nil {
		t.Errorf("image not written inside job dir: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.OutputDir(), "escape.png")); !os.IsNotExist(err) {
		t.Error("path traversal escaped the job dir")
	}
}

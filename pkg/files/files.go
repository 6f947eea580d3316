// Package files 管理上传文件、转换产物与预览图的磁盘布局。
package files

import (
	"archive/zip"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"markui-go/internal/config"
	"markui-go/internal/model"
)

// Manager 封装所有落盘操作：目录创建、上传保存、产物打包与级联删除。
// 目录布局：
//
//	uploads/<uuid>.pdf           上传的源文件
//	outputs/job_<id>/index.md    转换产物与图片
//	static/<stem>_page_N.jpg     页面预览图
type Manager struct {
	uploadDir string
	outputDir string
	staticDir string
}

// NewManager 创建文件管理器并确保三个工作目录存在。
func NewManager(cfg config.StorageConfig) (*Manager, error) {
	m := &Manager{
		uploadDir: cfg.UploadDir,
		outputDir: cfg.OutputDir,
		staticDir: cfg.StaticDir,
	}
	for _, dir := range []string{m.uploadDir, m.outputDir, m.staticDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &model.StorageError{Op: "mkdir", Path: dir, Err: err}
		}
	}
	return m, nil
}

// UploadDir 返回上传目录路径。
func (m *Manager) UploadDir() string { return m.uploadDir }

// OutputDir 返回产物目录路径。
func (m *Manager) OutputDir() string { return m.outputDir }

// StaticDir 返回静态资源目录路径。
func (m *Manager) StaticDir() string { return m.staticDir }

// SaveUpload 把上传文件以随机文件名保存到上传目录，返回生成的文件名与大小。
// 随机命名避免同名覆盖，原始文件名保留在文档记录中。
func (m *Manager) SaveUpload(file *multipart.FileHeader) (string, int64, error) {
	src, err := file.Open()
	if err != nil {
		return "", 0, &model.StorageError{Op: "open upload", Path: file.Filename, Err: err}
	}
	defer src.Close()

	storedName := uuid.New().String() + strings.ToLower(filepath.Ext(file.Filename))
	dstPath := filepath.Join(m.uploadDir, storedName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", 0, &model.StorageError{Op: "create", Path: dstPath, Err: err}
	}
	defer dst.Close()

	written, err := io.Copy(dst, src)
	if err != nil {
		os.Remove(dstPath)
		return "", 0, &model.StorageError{Op: "write", Path: dstPath, Err: err}
	}
	return storedName, written, nil
}

// UploadPath 返回源文件在上传目录中的完整路径。
func (m *Manager) UploadPath(storedFilename string) string {
	return filepath.Join(m.uploadDir, storedFilename)
}

// JobDir 返回任务产物目录的完整路径。
func (m *Manager) JobDir(jobID string) string {
	return filepath.Join(m.outputDir, "job_"+jobID)
}

// EnsureJobDir 创建任务产物目录。
func (m *Manager) EnsureJobDir(jobID string) (string, error) {
	dir := m.JobDir(jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", &model.StorageError{Op: "mkdir", Path: dir, Err: err}
	}
	return dir, nil
}

// OutputPath 返回任务主产物文件的完整路径，文件名随输出格式变化。
func (m *Manager) OutputPath(jobID, format string) string {
	name := "index.md"
	switch format {
	case model.FormatJSON:
		name = "index.json"
	case model.FormatHTML:
		name = "index.html"
	}
	return filepath.Join(m.JobDir(jobID), name)
}

// WriteOutput 把转换产物写入任务目录，返回产物路径。
func (m *Manager) WriteOutput(jobID, format string, content []byte) (string, error) {
	if _, err := m.EnsureJobDir(jobID); err != nil {
		return "", err
	}
	path := m.OutputPath(jobID, format)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", &model.StorageError{Op: "write", Path: path, Err: err}
	}
	return path, nil
}

// WriteJobImage 把转换产出的图片写入任务目录。
func (m *Manager) WriteJobImage(jobID, name string, data []byte) error {
	dir, err := m.EnsureJobDir(jobID)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return &model.StorageError{Op: "write", Path: path, Err: err}
	}
	return nil
}

// DeleteFile 删除单个文件，文件不存在视为成功。
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &model.StorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// DeleteDir 递归删除目录，目录不存在视为成功。
func (m *Manager) DeleteDir(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return &model.StorageError{Op: "remove", Path: path, Err: err}
	}
	return nil
}

// DeletePreviews 删除某个源文件对应的所有页面预览图。
// 预览图命名：<源文件名去扩展>_page_<N>.jpg。
func (m *Manager) DeletePreviews(storedFilename string) error {
	stem := strings.TrimSuffix(storedFilename, filepath.Ext(storedFilename))
	pattern := filepath.Join(m.staticDir, stem+"_page_*.jpg")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return &model.StorageError{Op: "glob", Path: pattern, Err: err}
	}
	for _, p := range matches {
		if err := m.DeleteFile(p); err != nil {
			return err
		}
	}
	return nil
}

// ZipJobDir 把任务产物目录打包为临时 zip 文件，返回 zip 路径。
// 调用方负责在发送后删除临时文件。
func (m *Manager) ZipJobDir(jobID string) (string, error) {
	dir := m.JobDir(jobID)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", &model.StorageError{Op: "stat", Path: dir, Err: fmt.Errorf("job output directory missing")}
	}

	tmp, err := os.CreateTemp("", "job_"+jobID+"_*.zip")
	if err != nil {
		return "", &model.StorageError{Op: "create temp", Path: dir, Err: err}
	}

	zw := zip.NewWriter(tmp)
	err = filepath.Walk(dir, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(w, f)
		return err
	})
	if err == nil {
		err = zw.Close()
	} else {
		zw.Close()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", &model.StorageError{Op: "zip", Path: dir, Err: err}
	}
	return tmp.Name(), nil
}

// ListJobImages 列出任务目录中的图片文件名（排除主产物文件）。
func (m *Manager) ListJobImages(jobID string) ([]string, error) {
	dir := m.JobDir(jobID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &model.StorageError{Op: "read dir", Path: dir, Err: err}
	}
	var images []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp":
			images = append(images, e.Name())
		}
	}
	return images, nil
}

package service

import (
	"context"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"markui-go/internal/config"
	"markui-go/internal/model"
	"markui-go/internal/store"
	"markui-go/pkg/files"
	"markui-go/pkg/log"
	"markui-go/pkg/pdfinfo"
)

// JobCascader 删除某个文档名下的全部任务，由 JobService 实现。
type JobCascader interface {
	DeleteByDocument(ctx context.Context, documentID string) error
}

// DocumentService 接口定义了源文档的上传、查询与级联删除操作。
type DocumentService interface {
	Upload(ctx context.Context, file *multipart.FileHeader) (*model.SourceDocument, error)
	Get(ctx context.Context, id string) (*model.SourceDocument, error)
	List(ctx context.Context, page, perPage int) ([]*model.SourceDocument, int, error)
	DownloadPath(ctx context.Context, id string) (string, string, error)
	Delete(ctx context.Context, id string) error
	MarkProcessed(ctx context.Context, id string) error
}

type documentService struct {
	store     store.Store
	files     *files.Manager
	inspector pdfinfo.Inspector
	jobs      JobCascader
	cfg       config.StorageConfig
}

// NewDocumentService 创建一个新的 DocumentService 实例。
func NewDocumentService(s store.Store, fm *files.Manager, inspector pdfinfo.Inspector, jobs JobCascader, cfg config.StorageConfig) DocumentService {
	return &documentService{
		store:     s,
		files:     fm,
		inspector: inspector,
		jobs:      jobs,
		cfg:       cfg,
	}
}

// Upload 保存上传的 PDF 并创建文档记录。
// 仅接受 .pdf 扩展名且不超过大小上限；页数与元数据的解析失败不阻断上传。
func (s *documentService) Upload(ctx context.Context, file *multipart.FileHeader) (*model.SourceDocument, error) {
	log.Infof("[Upload] 收到上传请求，文件名: %s, 大小: %d", file.Filename, file.Size)

	// 1. 校验扩展名与大小
	if strings.ToLower(filepath.Ext(file.Filename)) != ".pdf" {
		return nil, model.NewConfigurationError("only PDF files are supported")
	}
	if file.Size > s.cfg.MaxFileSizeBytes() {
		return nil, model.NewConfigurationError("file size exceeds the %dMB limit", s.cfg.MaxFileSizeMB)
	}

	// 2. 落盘（随机文件名，原始文件名保留在记录中）
	storedName, size, err := s.files.SaveUpload(file)
	if err != nil {
		return nil, err
	}
	filePath := s.files.UploadPath(storedName)

	// 3. 解析页数与文档元数据，失败不致命
	info, err := s.inspector.Inspect(filePath)
	if err != nil || info == nil {
		log.Warnf("[Upload] PDF 解析失败，按零页处理，文件: %s, error: %v", storedName, err)
		info = &pdfinfo.Info{Metadata: map[string]string{}}
	}

	// 4. 创建文档记录
	id, err := s.store.NextID(ctx, "document")
	if err != nil {
		s.files.DeleteFile(filePath)
		return nil, err
	}
	now := time.Now().UTC().Format(model.TimeLayout)
	doc := &model.SourceDocument{
		ID:               id,
		Filename:         storedName,
		OriginalFilename: file.Filename,
		FilePath:         filePath,
		FileSize:         size,
		MimeType:         "application/pdf",
		TotalPages:       info.PageCount,
		Metadata:         info.Metadata,
		IsProcessed:      false,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.SaveDocument(ctx, doc); err != nil {
		s.files.DeleteFile(filePath)
		return nil, err
	}

	log.Infof("[Upload] 上传完成，文档ID: %s, 页数: %d", id, info.PageCount)
	return doc, nil
}

// Get 读取文档记录并刷新最近访问时间。
func (s *documentService) Get(ctx context.Context, id string) (*model.SourceDocument, error) {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, model.NewNotFoundError("document", id)
	}
	if err := s.store.TouchDocument(ctx, id); err != nil {
		log.Warnf("[Get] 刷新访问时间失败，文档ID: %s, error: %v", id, err)
	}
	return doc, nil
}

// List 按创建时间倒序分页列出文档。
func (s *documentService) List(ctx context.Context, page, perPage int) ([]*model.SourceDocument, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	docs, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, 0, err
	}
	// 存储层按创建时间升序返回，列表接口要求最新在前
	for i, j := 0, len(docs)-1; i < j; i, j = i+1, j-1 {
		docs[i], docs[j] = docs[j], docs[i]
	}
	total := len(docs)
	start := (page - 1) * perPage
	if start >= total {
		return []*model.SourceDocument{}, total, nil
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return docs[start:end], total, nil
}

// DownloadPath 返回源文件的磁盘路径与原始文件名，并刷新访问时间。
func (s *documentService) DownloadPath(ctx context.Context, id string) (string, string, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return "", "", err
	}
	return doc.FilePath, doc.OriginalFilename, nil
}

// Delete 级联删除文档：名下任务及其产物 → 页面预览图 → 源文件 → 记录。
// 物理文件的删除是尽力而为：失败只记日志，记录照常移除，
// 否则一个删不掉的文件会让容量回收每轮都重复选中同一个文档。
func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc == nil {
		return model.NewNotFoundError("document", id)
	}

	// 1. 级联删除名下全部任务与产物
	if err := s.jobs.DeleteByDocument(ctx, id); err != nil {
		return err
	}

	// 2. 删除页面预览图
	if err := s.files.DeletePreviews(doc.Filename); err != nil {
		log.Warnf("[Delete] 删除预览图失败，文档ID: %s, error: %v", id, err)
	}

	// 3. 删除源文件，失败不阻断
	if err := s.files.DeleteFile(doc.FilePath); err != nil {
		log.Warnf("[Delete] 删除源文件失败，文档ID: %s, error: %v", id, err)
	}

	// 4. 删除记录
	if err := s.store.DeleteDocument(ctx, id); err != nil {
		return err
	}
	log.Infof("[Delete] 文档已删除，文档ID: %s", id)
	return nil
}

// MarkProcessed 标记文档已被成功转换过，降低其被容量回收选中的权重。
func (s *documentService) MarkProcessed(ctx context.Context, id string) error {
	return s.store.SetDocumentProcessed(ctx, id, true)
}

// Package pdfinfo 从 PDF 文件中提取页数与文档元数据。
package pdfinfo

import (
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Info 是解析出的 PDF 摘要。元数据字段缺失时为空字符串。
type Info struct {
	PageCount int               `json:"page_count"`
	Metadata  map[string]string `json:"metadata"`
}

// Inspector 提取 PDF 摘要信息。上传服务依赖该接口，便于在测试中替换。
type Inspector interface {
	Inspect(path string) (*Info, error)
}

type pdfcpuInspector struct {
	conf *model.Configuration
}

// NewInspector 创建基于 pdfcpu 的解析器，采用宽松校验以容忍轻微损坏的文件。
func NewInspector() Inspector {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &pdfcpuInspector{conf: conf}
}

// Inspect 解析页数与文档信息字典。解析失败不视为致命错误：
// 返回零页数与空元数据，上传流程照常继续。
func (p *pdfcpuInspector) Inspect(path string) (*Info, error) {
	info := &Info{Metadata: map[string]string{}}

	pageCount, err := api.PageCountFile(path)
	if err == nil {
		info.PageCount = pageCount
	}

	ctx, err := api.ReadContextFile(path)
	if err != nil || ctx == nil {
		return info, nil
	}
	xref := ctx.XRefTable
	setIfPresent(info.Metadata, "title", xref.Title)
	setIfPresent(info.Metadata, "author", xref.Author)
	setIfPresent(info.Metadata, "subject", xref.Subject)
	setIfPresent(info.Metadata, "creator", xref.Creator)
	setIfPresent(info.Metadata, "producer", xref.Producer)
	setIfPresent(info.Metadata, "creation_date", xref.CreationDate)
	setIfPresent(info.Metadata, "modification_date", xref.ModDate)
	return info, nil
}

func setIfPresent(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}

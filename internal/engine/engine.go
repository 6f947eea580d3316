// Package engine 定义文档转换引擎的抽象与 marker 服务实现。
package engine

import "context"

// Result 是一次转换的产物：文本内容、引擎返回的元数据以及内嵌图片。
// Images 的键是引擎给出的图片文件名，值是解码后的图片字节。
type Result struct {
	Text     string
	Metadata map[string]interface{}
	Images   map[string][]byte
}

// Engine 是文档转换引擎的抽象。实现必须是并发安全的：
// 多个调度器工作协程会同时调用 Convert。
type Engine interface {
	// Convert 将 pdfPath 指向的文件按 options 转换，阻塞直到完成或 ctx 取消。
	Convert(ctx context.Context, pdfPath string, options map[string]interface{}) (*Result, error)
}

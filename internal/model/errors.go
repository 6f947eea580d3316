// Package model 定义了领域对象与领域错误。
package model

import "fmt"

// NotFoundError 表示引用的文档或任务不存在。
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFoundError 创建一个 NotFoundError。
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// ConfigurationError 表示任务配置非法：缺少凭证、无效的枚举值、越界的参数等。
// 在任务记录创建之前同步检出，不会留下半成品任务。
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// NewConfigurationError 创建一个 ConfigurationError。
func NewConfigurationError(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ConversionError 表示转换引擎调用失败。
// 在后台执行边界被捕获并转写到任务的 error_message，不会二次抛给调用方。
type ConversionError struct {
	Message string
}

func (e *ConversionError) Error() string {
	return e.Message
}

// StorageError 表示文件系统操作在保存或删除时失败。
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed on %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"markui-go/internal/model"
	"markui-go/pkg/log"
)

// respondError 把领域错误映射为 HTTP 状态码：
// NotFoundError → 404，ConfigurationError → 400，其余 → 500。
func respondError(c *gin.Context, err error) {
	var notFound *model.NotFoundError
	if errors.As(err, &notFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": notFound.Error()})
		return
	}
	var confErr *model.ConfigurationError
	if errors.As(err, &confErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": confErr.Error()})
		return
	}
	log.Errorf("[respondError] 请求处理失败: %v", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
}

// pagination 读取分页查询参数，page 从 1 起算。
func pagination(c *gin.Context) (page, perPage int) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", "20"))
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	return page, perPage
}

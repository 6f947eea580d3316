package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"markui-go/internal/model"
)

var (
	resultCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_result_cache_hits_total",
		Help: "结果缓存命中次数",
	})
	resultCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "markui_result_cache_misses_total",
		Help: "结果缓存未命中次数",
	})
)

const (
	resultCacheSize = 64
	resultCacheTTL  = 5 * time.Minute
)

// resultCache 缓存已完成任务的结果视图，避免每次轮询都重读产物文件。
// 底层是带 TTL 的 LRU，键为任务 ID。
type resultCache struct {
	lru *expirable.LRU[string, *model.ConversionResult]
}

func newResultCache() *resultCache {
	return &resultCache{
		lru: expirable.NewLRU[string, *model.ConversionResult](resultCacheSize, nil, resultCacheTTL),
	}
}

func (c *resultCache) Get(jobID string) (*model.ConversionResult, bool) {
	result, ok := c.lru.Get(jobID)
	if ok {
		resultCacheHits.Inc()
	} else {
		resultCacheMisses.Inc()
	}
	return result, ok
}

func (c *resultCache) Add(jobID string, result *model.ConversionResult) {
	c.lru.Add(jobID, result)
}

func (c *resultCache) Remove(jobID string) {
	c.lru.Remove(jobID)
}

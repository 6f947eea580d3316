// Package database 负责初始化外部存储的客户端连接。
package database

import (
	"context"

	"github.com/go-redis/redis/v8"

	"markui-go/internal/config"
	"markui-go/pkg/log"
)

// NewRedis 初始化 Redis 客户端连接并验证连通性。
// Redis 是本服务唯一的持久化存储，连不上就没有继续启动的意义。
func NewRedis(cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// 测试连接
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("failed to connect to redis", err)
	}

	log.Info("Redis client connected successfully")
	return rdb
}

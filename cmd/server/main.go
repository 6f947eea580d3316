// Package main 是应用程序的入口点。
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"markui-go/internal/config"
	"markui-go/internal/engine"
	"markui-go/internal/handler"
	"markui-go/internal/middleware"
	"markui-go/internal/probe"
	"markui-go/internal/scheduler"
	"markui-go/internal/service"
	"markui-go/internal/store"
	"markui-go/pkg/database"
	"markui-go/pkg/files"
	"markui-go/pkg/log"
	"markui-go/pkg/pdfinfo"
)

func main() {
	// 1. 初始化配置
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "配置加载失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志记录器
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync() // 确保在程序退出时刷新所有缓冲的日志条目
	log.Info("日志记录器初始化成功")

	// 3. 初始化 Redis 与文件目录
	rdb := database.NewRedis(cfg.Redis)
	fileManager, err := files.NewManager(cfg.Storage)
	if err != nil {
		log.Fatalf("文件目录初始化失败: %v", err)
	}

	// 4. 初始化持久化存储
	st := store.New(rdb, cfg.Storage)

	// 5. 初始化 Service (依赖注入)
	markerEngine := engine.NewMarker(cfg.Engine)
	inspector := pdfinfo.NewInspector()
	prober := probe.NewProber()
	sched := scheduler.New(cfg.Scheduler, cfg.Storage)
	jobService := service.NewJobService(st, fileManager, sched, cfg)
	documentService := service.NewDocumentService(st, fileManager, inspector, jobService, cfg.Storage)
	settingsService := service.NewSettingsService(st)
	storageService := service.NewStorageService(st, documentService, cfg.Storage)

	// 6. 启动后台调度器：转换工作协程池 + 存储巡检循环
	executor := scheduler.NewConversionExecutor(st, jobService, documentService, markerEngine, fileManager, cfg)
	sched.Start(context.Background(), executor, storageService)

	// 7. 设置 Gin 模式并创建路由引擎
	gin.SetMode(cfg.Server.Mode)
	r := gin.New() // 使用 New() 创建一个不带默认中间件的引擎
	// 添加我们自定义的日志、指标中间件和 Gin 的 Recovery 中间件
	r.Use(middleware.RequestLogger(), middleware.Metrics(), gin.Recovery())

	// 8. 注册路由
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/static", cfg.Storage.StaticDir)
	r.Static("/output", cfg.Storage.OutputDir)

	apiV1 := r.Group("/api/v1")
	{
		// Document 路由组
		documents := apiV1.Group("/documents")
		{
			documentHandler := handler.NewDocumentHandler(documentService, storageService)
			documents.POST("/upload", documentHandler.Upload)
			documents.GET("", documentHandler.List)
			documents.GET("/:id", documentHandler.Get)
			documents.GET("/:id/download", documentHandler.Download)
			documents.DELETE("/:id", documentHandler.Delete)
		}

		// Conversion 路由组
		conversion := apiV1.Group("/conversion")
		{
			jobHandler := handler.NewJobHandler(jobService, settingsService, fileManager)
			conversion.POST("/jobs", jobHandler.Create)
			conversion.GET("/jobs", jobHandler.List)
			conversion.GET("/jobs/:id", jobHandler.Get)
			conversion.POST("/jobs/:id/cancel", jobHandler.Cancel)
			conversion.GET("/jobs/:id/result", jobHandler.Result)
			conversion.GET("/jobs/:id/download", jobHandler.Download)
			conversion.DELETE("/jobs/:id", jobHandler.Delete)
			conversion.GET("/defaults", jobHandler.Defaults)
			conversion.GET("/llm-services/requirements", jobHandler.ServiceRequirements)
		}

		// Settings 路由组
		settings := apiV1.Group("/settings")
		{
			settingsHandler := handler.NewSettingsHandler(settingsService, prober)
			settings.GET("/user", settingsHandler.Get)
			settings.PUT("/user", settingsHandler.Update)
			settings.GET("/llm-services", settingsHandler.Services)
			settings.GET("/llm-services/configured", settingsHandler.ConfiguredServices)
			settings.POST("/llm-services/test", settingsHandler.TestConnection)
			settings.GET("/ollama/models", settingsHandler.OllamaModels)
		}

		// Storage 路由组
		storage := apiV1.Group("/storage")
		{
			storageHandler := handler.NewStorageHandler(storageService)
			storage.GET("/info", storageHandler.Info)
			storage.POST("/cleanup", storageHandler.Cleanup)
		}
	}

	// 启动 HTTP 服务器并实现优雅停机
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("服务启动于 %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP 服务监听失败: %s\n", err)
		}
	}()

	// 等待中断信号以实现优雅停机
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("接收到停机信号，正在关闭服务...")

	// 设置一个5秒的超时上下文
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// 关闭 HTTP 服务器，然后停止调度器：在途转换会执行完毕
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP 服务器关闭失败: %v", err)
	}
	sched.Stop()
	log.Info("服务已优雅关闭")
}

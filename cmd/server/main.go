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
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/langchou/evreceipts/internal/api/handlers"
	"github.com/langchou/evreceipts/internal/config"
	"github.com/langchou/evreceipts/internal/csvimport"
	"github.com/langchou/evreceipts/internal/extract"
	"github.com/langchou/evreceipts/internal/repository"
	"github.com/langchou/evreceipts/internal/service"
	"github.com/langchou/evreceipts/pkg/ws"
)

func main() {
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := initLogger(cfg.Debug)
	defer logger.Sync()

	logger.Info("Starting evreceipts",
		zap.String("port", cfg.ServerPort),
		zap.String("store", cfg.StoreDriver),
	)

	// 创建 context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 打开存储
	store, err := repository.Open(ctx, repository.OpenOptions{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		BoltPath:    cfg.BoltPath,
	})
	if err != nil {
		logger.Fatal("Failed to open store", zap.Error(err))
	}
	defer store.Close()

	// 用户锁，配置 Redis 时跨实例互斥
	var locker repository.Locker = repository.NewKeyedMutex()
	if cfg.RedisURL != "" {
		redisLocker, err := repository.NewRedisLocker(cfg.RedisURL, cfg.LockTTL, logger)
		if err != nil {
			logger.Fatal("Failed to connect redis", zap.Error(err))
		}
		defer redisLocker.Close()
		locker = redisLocker
		logger.Info("Using redis user locks")
	}

	// 创建 WebSocket Hub
	wsHub := ws.NewHub(logger)
	go wsHub.Run(ctx)

	// 创建服务
	coll := service.NewCollections(store, locker, cfg.DefaultUserKey)
	extractor := extract.NewExtractor(logger, extract.WithWorkers(cfg.ExtractWorkers))
	csvParser := csvimport.NewParser(logger, cfg.EVCCDefaultCostPerKWh)
	ingestService := service.NewIngestService(logger, coll, extractor, csvParser, wsHub, cfg.PDFMinTextLen)
	recordService := service.NewRecordService(logger, coll, wsHub)

	// 邮件刷新
	var refresher *service.Refresher
	if cfg.MailDir != "" {
		refresher = service.NewRefresher(
			logger,
			service.NewDirSource(cfg.MailDir, logger),
			ingestService,
			wsHub,
			service.RefresherConfig{
				User:     cfg.MailUser,
				Interval: cfg.RefreshInterval,
				Timeout:  cfg.RefreshTimeout,
			},
		)
		wsHub.SetInitDataProvider(func() interface{} {
			return refresher.Status()
		})

		if cfg.RefreshEnabled {
			if err := refresher.Start(ctx); err != nil {
				logger.Error("Failed to start refresher", zap.Error(err))
			}
		}
	}

	// 创建 HTTP 处理器
	handler, err := handlers.NewHandler(logger, recordService, ingestService, refresher, wsHub, handlers.Options{
		APIKey:         cfg.APIKey,
		AdminKey:       cfg.AdminKey,
		MaxUploadBytes: int64(cfg.MaxUploadMB) << 20,
	})
	if err != nil {
		logger.Fatal("Failed to create handler", zap.Error(err))
	}
	if cfg.APIKey == "" {
		logger.Warn("API_KEY is not set, API authentication is disabled")
	}

	// 设置 Gin 模式
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	// 创建路由
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20

	// 注册路由
	handler.RegisterRoutes(router)

	// 启动 HTTP 服务器
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	logger.Info("Server started", zap.String("addr", server.Addr))

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// 停止刷新
	if refresher != nil {
		refresher.Stop()
	}

	// 优雅关闭
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	cancel()
	logger.Info("Server exited")
}

// initLogger 初始化日志
func initLogger(debug bool) *zap.Logger {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
	}

	logger, _ := config.Build()
	return logger
}

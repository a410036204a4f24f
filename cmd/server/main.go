package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"digitalbucket/backend/internal/config"
	"digitalbucket/backend/internal/health"
	"digitalbucket/backend/internal/logger"
	"digitalbucket/backend/internal/monitoring"
	"digitalbucket/backend/internal/pool"
	"digitalbucket/backend/internal/service"
	"digitalbucket/backend/internal/storage"
	"digitalbucket/backend/internal/storage/hybrid"
	"digitalbucket/backend/internal/storage/memory"
	sqlstore "digitalbucket/backend/internal/storage/sql"
	httptransport "digitalbucket/backend/internal/transport/http"
)

// main 启动事件投递服务：HTTP API、投递工作池与重试调度器。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.NewLogger(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting webhook delivery server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	store, err := initializeStorage(cfg, log)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize storage: %v", err))
	}
	defer store.Close()

	// 初始化监控系统
	metrics := monitoring.NewMetrics()

	// 初始化健康检查
	healthChecker := health.NewHealthChecker(store, log)

	env := "production"
	if cfg.Log.Development {
		env = "development"
	}
	periodicHealth := monitoring.NewHealthChecker(store, log, "1.0.0", env)

	// 初始化告警系统
	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0)) // 512MB
	alertManager.AddRule(monitoring.DatabaseConnectionRule(store))
	alertManager.AddRule(monitoring.DeliveryBacklogRule(store, 500))

	log.Info("monitoring system initialized")

	// 初始化投递管道：工作池 -> 投递器 -> 分发器 -> 调度器
	workers := pool.NewWorkerPool(cfg.Webhook.Workers, cfg.Webhook.QueueSize)
	workers.OnPanic = func(recovered interface{}) {
		metrics.RecordPanic()
		log.Error("delivery worker panic recovered", zap.Any("error", recovered))
	}

	deliverer := service.NewDeliverer(store, metrics, log)
	dispatcher := service.NewDispatcher(store, deliverer, workers, metrics, log)
	scheduler := service.NewScheduler(store, dispatcher, service.SchedulerConfig{
		SweepInterval:  cfg.Webhook.SweepInterval,
		SweepBatchSize: cfg.Webhook.SweepBatchSize,
		PruneInterval:  cfg.Webhook.PruneInterval,
		Retention:      cfg.Webhook.Retention,
	}, metrics, log)

	webhookService := service.NewWebhookService(store, deliverer, metrics, log)

	log.Info("delivery pipeline initialized",
		zap.Int("workers", cfg.Webhook.Workers),
		zap.Int("queue_size", cfg.Webhook.QueueSize),
		zap.Duration("sweep_interval", cfg.Webhook.SweepInterval),
		zap.Duration("retention", cfg.Webhook.Retention),
	)

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:         cfg,
		WebhookService: webhookService,
		Dispatcher:     dispatcher,
		Metrics:        metrics,
		HealthChecker:  healthChecker,
		Logger:         log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// 投递工作池
	workers.Start(groupCtx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// 重试扫描与终态清理 goroutine
	group.Go(func() error {
		log.Info("starting retry scheduler")
		if err := scheduler.Run(groupCtx); err != nil && err != context.Canceled {
			log.Error("scheduler error", zap.Error(err))
			return err
		}
		log.Info("retry scheduler stopped")
		return nil
	})

	// 监控服务 goroutine
	group.Go(func() error {
		log.Info("starting monitoring services")
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})

	// 定期健康巡检 goroutine
	group.Go(func() error {
		periodicHealth.StartPeriodicHealthCheck(groupCtx, 30*time.Second)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		// 关闭 HTTP 服务器
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		// 排空投递队列
		workers.Stop()

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}

// initializeStorage 根据配置选择存储后端
//
// 选择规则:
//   - database.type 为空: 内存存储（开发环境）
//   - database.type 已配置且 redis.enabled: SQL + Redis 混合存储
//   - database.type 已配置: 纯 SQL 存储
func initializeStorage(cfg *config.Config, log *zap.Logger) (storage.Store, error) {
	if cfg.Database.Type == "" {
		log.Info("using memory storage (development mode)")
		return memory.NewStore(), nil
	}

	if cfg.Redis.Enabled {
		log.Info("using hybrid storage",
			zap.String("database_type", cfg.Database.Type),
			zap.String("redis_address", cfg.Redis.Address),
		)
		return hybrid.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
		)
	}

	log.Info("using database storage", zap.String("database_type", cfg.Database.Type))
	return sqlstore.NewStore(
		cfg.Database.Type,
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
	)
}

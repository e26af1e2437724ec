package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"stem_progress_backend/internal/config"
	"stem_progress_backend/internal/controller"
	"stem_progress_backend/internal/repository"
	"stem_progress_backend/internal/service"
	"stem_progress_backend/internal/util"
	"stem_progress_backend/pkg/configwatcher"
	"stem_progress_backend/pkg/database"
	"stem_progress_backend/pkg/logger"
	"stem_progress_backend/pkg/monitoring"
	"stem_progress_backend/pkg/security"
	"stem_progress_backend/pkg/tracing"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config          *config.Config
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	KV              repository.KVRepository
	API             *service.APIClient
	Store           *service.ProgressStore
	tracer          *sdktrace.TracerProvider
	limiter         *security.RateLimiter
	configCallbacks []func(*config.Config)
}

type controllers struct {
	store  *controller.StoreController
	health *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// reload 依次调用热更新回调
func (a *App) reload(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	logger.Log.Debug("Config callbacks applied", zap.Int("callbacks", len(a.configCallbacks)))
}

// initKV 按 store.backend 选择持久化后端
func (a *App) initKV(cfg *config.Config) (repository.KVRepository, error) {
	prefix := cfg.Store.KeyPrefix

	switch cfg.Store.Backend {
	case util.BackendLocal, "":
		return repository.NewFileKVRepository(cfg.Storage.LocalPath, prefix)
	case util.BackendMemory:
		return repository.NewMemoryKVRepository(), nil
	case util.BackendDatabase:
		db, err := database.InitDB(&cfg.Database, cfg.Server.Mode)
		if err != nil {
			return nil, fmt.Errorf("init database: %w", err)
		}
		a.DB = db
		return repository.NewDBKVRepository(db, prefix), nil
	case util.BackendRedis:
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.Redis = rdb
		return repository.NewRedisKVRepository(rdb, prefix), nil
	case util.BackendMinio:
		return repository.NewMinioKVRepository(&cfg.Storage, prefix)
	case util.BackendOSS:
		return repository.NewOSSKVRepository(&cfg.Storage, prefix)
	default:
		return nil, fmt.Errorf("%w: %q", util.ErrUnsupportedBackend, cfg.Store.Backend)
	}
}

func (a *App) initControllers(cfg *config.Config) *controllers {
	return &controllers{
		store:  controller.NewStoreController(a.Store),
		health: controller.NewHealthController(a.KV, cfg.Store.Backend),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.RequestID())
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// NewApp 组装存储、远端客户端与路由；hydrate 在返回前完成
func NewApp(cfg *config.Config) (*App, error) {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	app := &App{Config: cfg}

	kv, err := app.initKV(cfg)
	if err != nil {
		return nil, err
	}
	app.KV = kv

	if cfg.MigrateOnly {
		return app, nil
	}

	// 监控初始化
	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.tracer = tp
	}

	app.API = service.NewAPIClient(cfg.API, logger.Log.Named("api"))
	app.Store = service.NewProgressStore(kv, app.API, &cfg.Store, logger.Log.Named("store"))

	hydrateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	report := app.Store.InitializeGameData(hydrateCtx)
	cancel()
	if len(report.Skipped) > 0 {
		logger.Log.Warn("Some persisted keys were skipped", zap.Strings("keys", report.Skipped))
	}

	app.RegisterConfigCallback(func(c *config.Config) {
		app.API.Reconfigure(c.API)
		logger.Log.Info("Remote API reconfigured", zap.String("base_url", app.API.BaseURL()))
	})
	app.RegisterConfigCallback(func(c *config.Config) {
		logger.SetMode(c.Server.Mode)
	})

	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.Server.Mode == gin.DebugMode {
		router.Use(gin.Logger())
	}
	app.Router = router
	app.limiter = security.NewRateLimiter(cfg.RateLimit)

	app.setupMiddlewares(router, cfg)
	app.registerRoutes(router, app.initControllers(cfg), cfg)

	return app, nil
}

func (a *App) Run() {
	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go a.limiter.Run(ctx.Done())

	// 配置文件热更新
	if a.Config.File != "" {
		go func() {
			if err := configwatcher.WatchConfig(ctx, a.Config.File, a.reload); err != nil {
				logger.Log.Error("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	// 启动服务器
	go func() {
		logger.Log.Info("Server running", zap.String("port", a.Config.Server.Port), zap.String("api_base", a.API.BaseURL()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	a.Close(shutdownCtx)
	logger.Log.Info("Server exiting")
}

// Close 释放数据库、Redis 与追踪资源
func (a *App) Close(ctx context.Context) {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			logger.Log.Error("Failed to close redis", zap.Error(err))
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	_ = logger.Log.Sync()
}

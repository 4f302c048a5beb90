package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shopee_dev_v1_202608/internal/config"
	"shopee_dev_v1_202608/internal/controller"
	"shopee_dev_v1_202608/internal/model"
	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/internal/router"
	"shopee_dev_v1_202608/internal/service"
	"shopee_dev_v1_202608/internal/task"
	"shopee_dev_v1_202608/pkg/database"
	"shopee_dev_v1_202608/pkg/logger"
	"shopee_dev_v1_202608/pkg/queue"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	// 1. 初始化依赖
	deps, err := initDependencies(cfg, log)
	if err != nil {
		log.Fatalf("初始化失败: %v", err)
	}

	// 2. 启动 Worker 与调度
	startTasks(cfg, deps, log)

	// 3. 启动 HTTP 服务并等退出信号
	runServer(cfg, deps, log)
}

// ==================== 依赖容器 ====================

// Dependencies 依赖容器
type Dependencies struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Repos     *Repositories
	Services  *Services
	Queues    *queue.Manager
	Worker    *task.Worker
	Scheduler *task.OrderScheduler
	Router    http.Handler
}

// Repositories 仓库集合
type Repositories struct {
	Shop  repository.ShopRepository
	Order repository.OrderRepository
}

// Services 服务集合
type Services struct {
	Token     *service.TokenService
	Collector *service.OrderCollectService
}

// ==================== 初始化函数 ====================

// initDependencies 初始化所有依赖
func initDependencies(cfg *config.Config, log *zap.SugaredLogger) (*Dependencies, error) {
	// -------- 存储层 --------
	db, err := database.InitDB(cfg.DSN(), cfg.DBPoolSize,
		&model.Company{}, &model.Shop{},
		&model.Order{}, &model.Logistic{}, &model.LogisticHistory{}, &model.OrderItem{},
	)
	if err != nil {
		return nil, err
	}

	rdb, err := database.NewRedisClient(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, err
	}

	// -------- Repo 层 --------
	repos := &Repositories{
		Shop:  repository.NewShopRepository(db),
		Order: repository.NewOrderRepository(db),
	}

	// -------- 业务服务 --------
	collectorCfg := service.DefaultCollectorConfig()
	collectorCfg.MaxRetry = cfg.MaxRetryCount
	collectorCfg.OrderBatchSize = cfg.OrderBatchSize
	collectorCfg.TrackingTimeout = cfg.TrackingTimeout
	collectorCfg.IsSandbox = cfg.ShopeeIsSandbox
	collectorCfg.BaseURL = cfg.ShopeeAPIURL
	if cfg.OrderPollWindow > 0 {
		collectorCfg.WindowBack = time.Duration(cfg.OrderPollWindow) * time.Minute
	}

	tokenSvc := service.NewTokenService(repos.Shop, log)
	collector := service.NewOrderCollectService(repos.Shop, repos.Order, tokenSvc, collectorCfg, log)
	services := &Services{Token: tokenSvc, Collector: collector}

	// -------- 队列 --------
	queues := queue.NewManager(rdb, log)

	worker := task.NewWorker(queues, rdb, repos.Shop, collector,
		cfg.Workers(), cfg.InventoryEnabled, log)

	scheduler := task.NewOrderScheduler(repos.Shop, collector,
		queues.Queue(queue.OrderCollection),
		cfg.CronExpression, cfg.ClusterEnabled, cfg.ShopeeIsSandbox, log)

	// -------- Controller 层 --------
	orderCtl := controller.NewOrderController(collector, repos.Order,
		queues.Queue(queue.OrderCollection), queues.Queue(queue.Inventory),
		cfg.ClusterEnabled, log)
	systemCtl := controller.NewSystemController(queues)

	return &Dependencies{
		DB:        db,
		Redis:     rdb,
		Repos:     repos,
		Services:  services,
		Queues:    queues,
		Worker:    worker,
		Scheduler: scheduler,
		Router:    router.NewRouter(orderCtl, systemCtl),
	}, nil
}

// ==================== 任务启动 ====================

// startTasks 按配置拉起 Worker 与调度
func startTasks(cfg *config.Config, deps *Dependencies, log *zap.SugaredLogger) {
	if cfg.WorkerEnabled {
		deps.Worker.Start(context.Background())
	}
	if cfg.SchedulerEnabled {
		if err := deps.Scheduler.Start(); err != nil {
			log.Fatalf("调度启动失败: %v", err)
		}
	}
}

// ==================== 服务启动 ====================

// runServer 启动 HTTP 服务并处理优雅退出
func runServer(cfg *config.Config, deps *Dependencies, log *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr(),
		Handler: deps.Router,
	}

	go func() {
		log.Infof("服务启动在 %s", cfg.HTTPAddr())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("服务启动失败: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 先停调度再停 Worker，不再接新活后限时等在途任务收尾
	if cfg.SchedulerEnabled {
		deps.Scheduler.Stop()
	}
	if cfg.WorkerEnabled {
		deps.Worker.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorf("服务强制关闭: %v", err)
	}

	if err := deps.Redis.Close(); err != nil {
		log.Warnf("Redis 关闭失败: %v", err)
	}
	if sqlDB, err := deps.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}

	log.Info("服务已退出")
}

package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"shopee_dev_v1_202608/internal/model"
	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/internal/service"
	"shopee_dev_v1_202608/pkg/queue"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultCronExpression 默认每 10 分钟一轮
const DefaultCronExpression = "*/10 * * * *"

// Enqueuer 采集任务投递口（测试替身用）
type Enqueuer interface {
	Enqueue(ctx context.Context, jobName string, payload interface{}, opts *queue.EnqueueOptions) (string, error)
}

// ==================== OrderScheduler 采集调度 ====================

// OrderScheduler 周期性扫描活跃店铺并下发采集
// 集群模式投队列由 Worker 消费，单机模式在本进程内顺序执行
type OrderScheduler struct {
	shopRepo  repository.ShopRepository
	collector *service.OrderCollectService
	enqueuer  Enqueuer

	cronExpr    string
	clusterMode bool
	sandbox     bool

	cron *cron.Cron

	mu          sync.Mutex
	isRunning   bool
	currentJobs map[int64]time.Time // 直跑模式下在途店铺

	logger *zap.SugaredLogger
}

// NewOrderScheduler 创建调度器
// 集群模式下 enqueuer 必填，单机模式下 collector 必填
func NewOrderScheduler(
	shopRepo repository.ShopRepository,
	collector *service.OrderCollectService,
	enqueuer Enqueuer,
	cronExpr string,
	clusterMode bool,
	sandbox bool,
	logger *zap.SugaredLogger,
) *OrderScheduler {
	if cronExpr == "" {
		cronExpr = DefaultCronExpression
	}
	return &OrderScheduler{
		shopRepo:    shopRepo,
		collector:   collector,
		enqueuer:    enqueuer,
		cronExpr:    cronExpr,
		clusterMode: clusterMode,
		sandbox:     sandbox,
		cron:        cron.New(),
		currentJobs: make(map[int64]time.Time),
		logger:      logger,
	}
}

// Start 注册定时任务并立刻跑一轮
func (s *OrderScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cronExpr, func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return fmt.Errorf("注册定时任务失败 (%s): %w", s.cronExpr, err)
	}

	// 启动后先跑一轮，不等首个 cron 触发
	go s.RunOnce(context.Background())

	s.cron.Start()
	s.logger.Infof("[Scheduler] 调度启动，表达式 %s，集群模式 %v", s.cronExpr, s.clusterMode)
	return nil
}

// Stop 停止调度，等当前 cron 回调结束
func (s *OrderScheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("[Scheduler] 调度已停止")
}

// RunOnce 执行一轮调度；上一轮未结束时跳过
func (s *OrderScheduler) RunOnce(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.logger.Warn("[Scheduler] 上一轮未结束，本轮跳过")
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
	}()

	shops, err := s.shopRepo.ListActive(ctx, s.sandbox)
	if err != nil {
		s.logger.Errorf("[Scheduler] 查询活跃店铺失败: %v", err)
		return
	}
	if len(shops) == 0 {
		s.logger.Info("[Scheduler] 无活跃店铺")
		return
	}

	s.logger.Infof("[Scheduler] 本轮下发 %d 个店铺", len(shops))

	if s.clusterMode {
		s.dispatchQueued(ctx, shops)
	} else {
		s.dispatchDirect(ctx, shops)
	}
}

// dispatchQueued 集群模式：按店铺去重投队列
func (s *OrderScheduler) dispatchQueued(ctx context.Context, shops []model.Shop) {
	for _, shop := range shops {
		// 去重键在任务终态时由队列释放，TTL 只是兜底，取远大于一轮采集的值
		jobID, err := s.enqueuer.Enqueue(ctx, JobCollectShopOrders,
			CollectPayload{ShopKey: shop.ID},
			&queue.EnqueueOptions{
				DedupKey: fmt.Sprintf("%d", shop.ShopID),
				DedupTTL: 30 * time.Minute,
			})
		if err != nil {
			s.logger.Errorf("[Scheduler] 店铺 %d 投递失败: %v", shop.ShopID, err)
			continue
		}
		if jobID == "" {
			s.logger.Debugf("[Scheduler] 店铺 %d 已在队列中，跳过", shop.ShopID)
			continue
		}
		s.logger.Infof("[Scheduler] 店铺 %d 已投递 job=%s", shop.ShopID, jobID)
	}
}

// dispatchDirect 单机模式：本进程内顺序采集，同店铺防重入
func (s *OrderScheduler) dispatchDirect(ctx context.Context, shops []model.Shop) {
	for _, shop := range shops {
		s.mu.Lock()
		if _, busy := s.currentJobs[shop.ID]; busy {
			s.mu.Unlock()
			s.logger.Warnf("[Scheduler] 店铺 %d 采集仍在进行，跳过", shop.ShopID)
			continue
		}
		s.currentJobs[shop.ID] = time.Now()
		s.mu.Unlock()

		stats, err := s.collector.CollectShopOrders(ctx, shop.ID)

		s.mu.Lock()
		delete(s.currentJobs, shop.ID)
		s.mu.Unlock()

		if err != nil {
			s.logger.Errorf("[Scheduler] 店铺 %d 采集失败: %v", shop.ShopID, err)
			continue
		}
		s.logger.Infof("[Scheduler] 店铺 %d 采集完成 success=%d failed=%d",
			shop.ShopID, stats.Success, stats.Failed)
	}
}

package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/internal/service"
	"shopee_dev_v1_202608/pkg/queue"
	"shopee_dev_v1_202608/pkg/shopee"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ==================== 任务类型 ====================

// 队列任务类型名
const (
	JobCollectShopOrders   = "collect-shop-orders"   // 调度下发的整店采集
	JobManualOrderCollect  = "manual-order-collect"  // 运维接口手动触发
	JobProcessOrderDetails = "process-order-details" // 拆分模式：详情处理
	JobProcessShipmentInfo = "process-shipment-info" // 拆分模式：运单号对账
	JobUpdateInventory     = "update-inventory"      // 库存同步（预留）
)

// CollectPayload 采集任务载荷
// shop_id 兼容字符串与数字两种写法，老投递端混用过
type CollectPayload struct {
	ShopKey int64       `json:"shop_key,omitempty"` // 内部主键，优先
	ShopID  json.Number `json:"shop_id,omitempty"`  // 平台 shop_id，回退
}

// DetailPayload 详情处理任务载荷
type DetailPayload struct {
	ShopKey  int64    `json:"shop_key"`
	OrderSNs []string `json:"order_sns"`
}

const heartbeatEvery = 10 * time.Second
const heartbeatTTL = 30 * time.Second

// 窗口单量超过该值时不再整店直跑，拆成详情/对账任务分摊给集群
const defaultSplitThreshold = 200

// 拆分后单个详情任务的订单数，与平台详情接口单次上限对齐
const detailChunkSize = shopee.MaxOrderDetailBatch

// 心跳 status 取值
const (
	statusIdle               = "idle"
	statusProcessingOrders   = "processing-orders"
	statusProcessingDetails  = "processing-details"
	statusProcessingShipment = "processing-shipment"
	statusUpdatingInventory  = "updating-inventory"
)

// ==================== Worker ====================

// Collector 采集服务在 Worker 侧用到的入口（测试替身用）
type Collector interface {
	ProcessOrderDetails(ctx context.Context, shopKey int64, orderSNs []string) (*service.CollectStats, error)
	ReconcileShipments(ctx context.Context, shopKey int64) error
	ListWindowOrderSNs(ctx context.Context, shopKey int64) ([]string, error)
}

// workerStatus 心跳里上报的状态
type workerStatus struct {
	WorkerID   string `json:"worker_id"`
	Status     string `json:"status"`
	ActiveJobs int64  `json:"active_jobs"`
	UpdatedAt  string `json:"updated_at"`
}

type enqueueFunc func(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.EnqueueOptions) (string, error)

// Worker 队列消费进程
// 消费四条业务队列，按任务类型分发到采集服务，带 Redis 心跳
type Worker struct {
	id        string
	manager   *queue.Manager
	rdb       *redis.Client
	shopRepo  repository.ShopRepository
	collector Collector

	concurrency      int
	inventoryEnabled bool
	splitThreshold   int

	enqueue enqueueFunc

	activeJobs atomic.Int64
	status     atomic.Value
	stop       chan struct{}

	logger *zap.SugaredLogger
}

// NewWorker 创建消费进程
func NewWorker(
	manager *queue.Manager,
	rdb *redis.Client,
	shopRepo repository.ShopRepository,
	collector Collector,
	concurrency int,
	inventoryEnabled bool,
	logger *zap.SugaredLogger,
) *Worker {
	if concurrency <= 0 {
		concurrency = 2
	}
	w := &Worker{
		id:               fmt.Sprintf("worker-%s", uuid.NewString()[:8]),
		manager:          manager,
		rdb:              rdb,
		shopRepo:         shopRepo,
		collector:        collector,
		concurrency:      concurrency,
		inventoryEnabled: inventoryEnabled,
		splitThreshold:   defaultSplitThreshold,
		stop:             make(chan struct{}),
		logger:           logger,
	}
	w.status.Store(statusIdle)
	w.enqueue = func(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.EnqueueOptions) (string, error) {
		return manager.Queue(queueName).Enqueue(ctx, jobName, payload, opts)
	}
	return w
}

// ID 进程标识
func (w *Worker) ID() string { return w.id }

// Status 当前上报状态
func (w *Worker) Status() string {
	s, _ := w.status.Load().(string)
	if s == "" {
		return statusIdle
	}
	return s
}

// Start 启动各队列消费与心跳
func (w *Worker) Start(ctx context.Context) {
	w.manager.Queue(queue.OrderCollection).Start(ctx, w.wrap(w.handleCollect, statusProcessingOrders), w.concurrency)
	w.manager.Queue(queue.OrderDetail).Start(ctx, w.wrap(w.handleOrderDetails, statusProcessingDetails), w.concurrency)
	w.manager.Queue(queue.ShipmentInfo).Start(ctx, w.wrap(w.handleShipmentInfo, statusProcessingShipment), w.concurrency)
	w.manager.Queue(queue.Inventory).Start(ctx, w.wrap(w.handleInventory, statusUpdatingInventory), 1)

	go w.heartbeatLoop(ctx)
	w.logger.Infof("[Worker] %s 启动，并发 %d", w.id, w.concurrency)
}

// Stop 停止心跳并限时排空队列，超时的在途任务留给 reaper 回收
func (w *Worker) Stop() {
	close(w.stop)
	if !w.manager.Close() {
		w.logger.Warnf("[Worker] %s 在途任务未在时限内收尾，交由超时回收", w.id)
		return
	}
	w.logger.Infof("[Worker] %s 已停止", w.id)
}

// wrap 维护在途计数与上报状态
func (w *Worker) wrap(h queue.Handler, label string) queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		w.activeJobs.Add(1)
		w.status.Store(label)
		defer func() {
			if w.activeJobs.Add(-1) == 0 {
				w.status.Store(statusIdle)
			}
		}()
		return h(ctx, job)
	}
}

// ==================== 心跳 ====================

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.beat(ctx)
		}
	}
}

// beat 写带 TTL 的心跳键，进程消失后 30 秒自动失联
func (w *Worker) beat(ctx context.Context) {
	status := workerStatus{
		WorkerID:   w.id,
		Status:     w.Status(),
		ActiveJobs: w.activeJobs.Load(),
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	body, _ := json.Marshal(status)
	key := fmt.Sprintf("worker:%s:heartbeat", w.id)
	if err := w.rdb.Set(ctx, key, body, heartbeatTTL).Err(); err != nil {
		w.logger.Warnf("[Worker] %s 心跳写入失败: %v", w.id, err)
	}
}

// ==================== 处理函数 ====================

// resolveShopKey 解析载荷里的店铺标识
// 优先内部主键；只给了平台 shop_id 时查库回退
func (w *Worker) resolveShopKey(ctx context.Context, p *CollectPayload) (int64, error) {
	if p.ShopKey > 0 {
		return p.ShopKey, nil
	}
	if p.ShopID != "" {
		platformID, err := p.ShopID.Int64()
		if err != nil {
			return 0, fmt.Errorf("shop_id 不是数字: %q", p.ShopID)
		}
		shop, err := w.shopRepo.GetByShopID(ctx, platformID)
		if err != nil {
			return 0, fmt.Errorf("平台店铺 %d 不存在: %w", platformID, err)
		}
		return shop.ID, nil
	}
	return 0, fmt.Errorf("载荷缺少店铺标识")
}

// handleCollect 整店采集（调度下发与手动触发共用）
// 先只拉窗口列表：小窗口在本任务内跑完详情与对账，大窗口拆到专用队列
func (w *Worker) handleCollect(ctx context.Context, job *queue.Job) error {
	var payload CollectPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("载荷解析失败: %w", err)
	}
	shopKey, err := w.resolveShopKey(ctx, &payload)
	if err != nil {
		return err
	}

	w.logger.Infof("[Worker] %s 开始采集店铺 key=%d (job=%s attempt=%d)",
		w.id, shopKey, job.ID, job.Attempts)

	orderSNs, err := w.collector.ListWindowOrderSNs(ctx, shopKey)
	if err != nil {
		return err
	}

	if len(orderSNs) > w.splitThreshold {
		w.logger.Infof("[Worker] %s 店铺 key=%d 窗口 %d 单超过阈值 %d，拆分下发",
			w.id, shopKey, len(orderSNs), w.splitThreshold)
		return w.dispatchSplit(ctx, shopKey, orderSNs)
	}

	stats, err := w.collector.ProcessOrderDetails(ctx, shopKey, orderSNs)
	if err != nil {
		return err
	}
	if err := w.collector.ReconcileShipments(ctx, shopKey); err != nil {
		return err
	}
	w.logger.Infof("[Worker] %s 店铺 key=%d 采集完成 success=%d failed=%d",
		w.id, shopKey, stats.Success, stats.Failed)
	return nil
}

// dispatchSplit 把详情批下发到 order-detail 队列，再补一个延迟就绪的整店对账
func (w *Worker) dispatchSplit(ctx context.Context, shopKey int64, orderSNs []string) error {
	for start := 0; start < len(orderSNs); start += detailChunkSize {
		end := start + detailChunkSize
		if end > len(orderSNs) {
			end = len(orderSNs)
		}
		_, err := w.enqueue(ctx, queue.OrderDetail, JobProcessOrderDetails,
			DetailPayload{ShopKey: shopKey, OrderSNs: orderSNs[start:end]}, nil)
		if err != nil {
			return fmt.Errorf("详情批下发失败: %w", err)
		}
	}

	// 对账延迟就绪，给详情批落库留时间；按店铺去重，多个采集轮次只留一个对账
	_, err := w.enqueue(ctx, queue.ShipmentInfo, JobProcessShipmentInfo,
		CollectPayload{ShopKey: shopKey},
		&queue.EnqueueOptions{
			Delay:    time.Minute,
			DedupKey: fmt.Sprintf("%d", shopKey),
			DedupTTL: 30 * time.Minute,
		})
	if err != nil {
		return fmt.Errorf("对账任务下发失败: %w", err)
	}
	return nil
}

// handleOrderDetails 拆分模式的详情处理
func (w *Worker) handleOrderDetails(ctx context.Context, job *queue.Job) error {
	var payload DetailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("载荷解析失败: %w", err)
	}
	if payload.ShopKey == 0 {
		return fmt.Errorf("载荷缺少店铺标识")
	}
	stats, err := w.collector.ProcessOrderDetails(ctx, payload.ShopKey, payload.OrderSNs)
	if err != nil {
		return err
	}
	w.logger.Infof("[Worker] %s 店铺 key=%d 详情处理完成 success=%d failed=%d",
		w.id, payload.ShopKey, stats.Success, stats.Failed)
	return nil
}

// handleShipmentInfo 拆分模式的运单号对账
func (w *Worker) handleShipmentInfo(ctx context.Context, job *queue.Job) error {
	var payload CollectPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("载荷解析失败: %w", err)
	}
	shopKey, err := w.resolveShopKey(ctx, &payload)
	if err != nil {
		return err
	}
	return w.collector.ReconcileShipments(ctx, shopKey)
}

// handleInventory 库存同步还没接平台接口，开关关闭时只记日志
func (w *Worker) handleInventory(ctx context.Context, job *queue.Job) error {
	if !w.inventoryEnabled {
		w.logger.Warnf("[Worker] 库存同步未启用，任务 %s 丢弃", job.ID)
		return nil
	}
	w.logger.Warnf("[Worker] 库存同步暂不支持，任务 %s 丢弃", job.ID)
	return nil
}

package controller

import (
	"fmt"
	"strconv"
	"time"

	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/internal/service"
	"shopee_dev_v1_202608/internal/task"
	"shopee_dev_v1_202608/pkg/queue"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderController 订单控制器
type OrderController struct {
	collector    *service.OrderCollectService
	orderRepo    repository.OrderRepository
	enqueuer     task.Enqueuer
	inventoryEnq task.Enqueuer
	clusterMode  bool
	logger       *zap.SugaredLogger
}

// NewOrderController 创建订单控制器
func NewOrderController(
	collector *service.OrderCollectService,
	orderRepo repository.OrderRepository,
	enqueuer task.Enqueuer,
	inventoryEnq task.Enqueuer,
	clusterMode bool,
	logger *zap.SugaredLogger,
) *OrderController {
	return &OrderController{
		collector:    collector,
		orderRepo:    orderRepo,
		enqueuer:     enqueuer,
		inventoryEnq: inventoryEnq,
		clusterMode:  clusterMode,
		logger:       logger,
	}
}

// parseID 解析路径里的数字 ID，非法时直接应答 400
func parseID(ctx *gin.Context, name string) int64 {
	id, err := strconv.ParseInt(ctx.Param(name), 10, 64)
	if err != nil || id <= 0 {
		ctx.JSON(400, gin.H{"code": 400, "message": "无效的 " + name})
		return 0
	}
	return id
}

// ==================== Handler 实现 ====================

// CollectOrders 手动触发单店铺采集
// @Summary 手动触发店铺订单采集
// @Tags Orders
// @Param shopId path int true "店铺主键"
// @Success 200 {object} map[string]interface{}
// @Router /api/orders/collect/{shopId} [post]
func (c *OrderController) CollectOrders(ctx *gin.Context) {
	shopKey := parseID(ctx, "shopId")
	if shopKey == 0 {
		return
	}

	// 集群模式投队列去重，单机模式同步执行
	if c.clusterMode {
		jobID, err := c.enqueuer.Enqueue(ctx.Request.Context(), task.JobManualOrderCollect,
			task.CollectPayload{ShopKey: shopKey},
			&queue.EnqueueOptions{
				DedupKey: fmt.Sprintf("manual:%d", shopKey),
				DedupTTL: time.Minute,
			})
		if err != nil {
			ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
			return
		}
		if jobID == "" {
			ctx.JSON(200, gin.H{"code": 200, "message": "采集任务已在队列中"})
			return
		}
		ctx.JSON(200, gin.H{
			"code":    200,
			"message": "采集任务已投递",
			"data":    gin.H{"job_id": jobID},
		})
		return
	}

	stats, err := c.collector.CollectShopOrders(ctx.Request.Context(), shopKey)
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}
	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "采集完成",
		"data":    stats,
	})
}

// SyncInventory 手动触发店铺库存同步
// @Summary 手动触发店铺库存同步
// @Tags Inventory
// @Param shopId path int true "店铺主键"
// @Success 200 {object} map[string]interface{}
// @Router /api/inventory/sync/{shopId} [post]
func (c *OrderController) SyncInventory(ctx *gin.Context) {
	shopKey := parseID(ctx, "shopId")
	if shopKey == 0 {
		return
	}

	jobID, err := c.inventoryEnq.Enqueue(ctx.Request.Context(), task.JobUpdateInventory,
		task.CollectPayload{ShopKey: shopKey},
		&queue.EnqueueOptions{
			DedupKey: fmt.Sprintf("inv:%d", shopKey),
			DedupTTL: time.Minute,
		})
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}
	if jobID == "" {
		ctx.JSON(200, gin.H{"code": 200, "message": "库存同步任务已在队列中"})
		return
	}
	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "库存同步任务已投递",
		"data":    gin.H{"job_id": jobID},
	})
}

// GetOrder 查询单个订单
// @Summary 按内部 ID 或平台订单号查询订单
// @Tags Orders
// @Param orderId path string true "订单 ID 或订单号"
// @Success 200 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /api/orders/{orderId} [get]
func (c *OrderController) GetOrder(ctx *gin.Context) {
	idOrNum := ctx.Param("orderId")
	if idOrNum == "" {
		ctx.JSON(400, gin.H{"code": 400, "message": "无效的 orderId"})
		return
	}

	order, err := c.orderRepo.GetByIDOrNum(ctx.Request.Context(), idOrNum)
	if err != nil {
		ctx.JSON(404, gin.H{"code": 404, "message": "订单不存在"})
		return
	}
	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data":    order,
	})
}

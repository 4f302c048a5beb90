package router

import (
	"shopee_dev_v1_202608/internal/controller"

	"github.com/gin-gonic/gin"
)

// ==================== 路由 ====================

// NewRouter 组装运维 HTTP 路由
func NewRouter(orderCtl *controller.OrderController, systemCtl *controller.SystemController) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// 系统面
	r.GET("/health", systemCtl.Health)
	r.GET("/queue/status", systemCtl.QueueStatus)
	r.GET("/system/info", systemCtl.SystemInfo)

	// 业务面
	api := r.Group("/api")
	{
		api.POST("/orders/collect/:shopId", orderCtl.CollectOrders)
		api.GET("/orders/:orderId", orderCtl.GetOrder)
		api.POST("/inventory/sync/:shopId", orderCtl.SyncInventory)
	}

	return r
}

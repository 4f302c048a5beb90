package controller

import (
	"runtime"
	"time"

	"shopee_dev_v1_202608/pkg/queue"

	"github.com/gin-gonic/gin"
)

// Version 构建时通过 ldflags 注入
var Version = "dev"

// SystemController 系统控制器
type SystemController struct {
	manager   *queue.Manager
	startTime time.Time
}

// NewSystemController 创建系统控制器
func NewSystemController(manager *queue.Manager) *SystemController {
	return &SystemController{
		manager:   manager,
		startTime: time.Now(),
	}
}

// ==================== Handler 实现 ====================

// Health 健康检查
// @Summary 健康检查
// @Tags System
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (c *SystemController) Health(ctx *gin.Context) {
	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "ok",
		"data": gin.H{
			"uptime": time.Since(c.startTime).String(),
		},
	})
}

// QueueStatus 各队列深度
// @Summary 队列深度快照
// @Tags System
// @Success 200 {object} map[string]interface{}
// @Router /queue/status [get]
func (c *SystemController) QueueStatus(ctx *gin.Context) {
	depths, err := c.manager.Depths(ctx.Request.Context())
	if err != nil {
		ctx.JSON(500, gin.H{"code": 500, "message": err.Error()})
		return
	}
	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data":    depths,
	})
}

// SystemInfo 进程信息
// @Summary 进程运行信息
// @Tags System
// @Success 200 {object} map[string]interface{}
// @Router /system/info [get]
func (c *SystemController) SystemInfo(ctx *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	ctx.JSON(200, gin.H{
		"code":    200,
		"message": "success",
		"data": gin.H{
			"version":    Version,
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
			"alloc_mb":   mem.Alloc / 1024 / 1024,
			"uptime":     time.Since(c.startTime).String(),
		},
	})
}

package queue

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ==================== Manager 队列管理 ====================

// QueueDepth 单条队列的深度快照
type QueueDepth struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
}

// Manager 统管四条业务队列
type Manager struct {
	rdb    *redis.Client
	queues map[string]*Queue
}

// NewManager 创建管理器并初始化全部业务队列
func NewManager(rdb *redis.Client, logger *zap.SugaredLogger) *Manager {
	m := &Manager{
		rdb:    rdb,
		queues: make(map[string]*Queue),
	}
	for _, name := range []string{OrderCollection, OrderDetail, ShipmentInfo, Inventory} {
		m.queues[name] = NewQueue(name, rdb, logger)
	}
	return m
}

// Queue 按名取队列，未知名字返回 nil
func (m *Manager) Queue(name string) *Queue {
	return m.queues[name]
}

// Depths 全部队列的深度快照，供运维接口展示
func (m *Manager) Depths(ctx context.Context) (map[string]QueueDepth, error) {
	out := make(map[string]QueueDepth, len(m.queues))
	for name, q := range m.queues {
		pending, processing, err := q.Depth(ctx)
		if err != nil {
			return nil, err
		}
		out[name] = QueueDepth{Pending: pending, Processing: processing}
	}
	return out, nil
}

// Close 依次关停全部队列，每条最多等一个排空时限
// 返回 false 表示有队列超时仍有在途任务，由 reaper 按超时回收
func (m *Manager) Close() bool {
	clean := true
	for _, q := range m.queues {
		if !q.Close() {
			clean = false
		}
	}
	return clean
}

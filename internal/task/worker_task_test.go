package task

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"shopee_dev_v1_202608/internal/service"
	"shopee_dev_v1_202608/pkg/queue"

	"go.uber.org/zap"
)

// ==================== 测试替身 ====================

type fakeCollector struct {
	sns         []string
	listErr     error
	detailCalls [][]string
	reconciled  []int64
}

func (f *fakeCollector) ProcessOrderDetails(ctx context.Context, shopKey int64, orderSNs []string) (*service.CollectStats, error) {
	f.detailCalls = append(f.detailCalls, orderSNs)
	return &service.CollectStats{Total: len(orderSNs), Success: len(orderSNs)}, nil
}

func (f *fakeCollector) ReconcileShipments(ctx context.Context, shopKey int64) error {
	f.reconciled = append(f.reconciled, shopKey)
	return nil
}

func (f *fakeCollector) ListWindowOrderSNs(ctx context.Context, shopKey int64) ([]string, error) {
	return f.sns, f.listErr
}

type recordedEnqueue struct {
	queueName string
	jobName   string
	payload   interface{}
	opts      *queue.EnqueueOptions
}

func newTestWorker(collector Collector) (*Worker, *[]recordedEnqueue) {
	w := NewWorker(nil, nil, nil, collector, 1, false, zap.NewNop().Sugar())
	records := &[]recordedEnqueue{}
	w.enqueue = func(ctx context.Context, queueName, jobName string, payload interface{}, opts *queue.EnqueueOptions) (string, error) {
		*records = append(*records, recordedEnqueue{queueName, jobName, payload, opts})
		return "job-1", nil
	}
	return w, records
}

func collectJob(shopKey int64) *queue.Job {
	return &queue.Job{
		ID:      "j1",
		Name:    JobCollectShopOrders,
		Payload: json.RawMessage(fmt.Sprintf(`{"shop_key":%d}`, shopKey)),
	}
}

// ==================== 单元测试 ====================

func TestWorker_StatusFollowsJobs(t *testing.T) {
	w, _ := newTestWorker(&fakeCollector{})

	if w.Status() != statusIdle {
		t.Fatalf("初始状态 = %s, want %s", w.Status(), statusIdle)
	}

	var seen string
	handler := w.wrap(func(ctx context.Context, job *queue.Job) error {
		seen = w.Status()
		return nil
	}, statusProcessingOrders)

	if err := handler(context.Background(), collectJob(1)); err != nil {
		t.Fatalf("处理不应报错: %v", err)
	}
	if seen != statusProcessingOrders {
		t.Errorf("处理中状态 = %s, want %s", seen, statusProcessingOrders)
	}
	if w.Status() != statusIdle {
		t.Errorf("处理结束后状态 = %s, want %s", w.Status(), statusIdle)
	}
}

func TestWorker_HeartbeatCarriesStatus(t *testing.T) {
	w, _ := newTestWorker(&fakeCollector{})

	body, err := json.Marshal(workerStatus{
		WorkerID:   w.ID(),
		Status:     w.Status(),
		ActiveJobs: 0,
		UpdatedAt:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("心跳序列化失败: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("心跳反序列化失败: %v", err)
	}
	if decoded["status"] != statusIdle {
		t.Errorf("心跳 status = %v, want %s", decoded["status"], statusIdle)
	}
}

func TestWorker_CollectSmallWindowInline(t *testing.T) {
	collector := &fakeCollector{sns: []string{"SN-1", "SN-2", "SN-3"}}
	w, records := newTestWorker(collector)

	if err := w.handleCollect(context.Background(), collectJob(7)); err != nil {
		t.Fatalf("采集不应报错: %v", err)
	}

	if len(*records) != 0 {
		t.Errorf("小窗口不应拆分下发，实际投递 %d 次", len(*records))
	}
	if len(collector.detailCalls) != 1 || len(collector.detailCalls[0]) != 3 {
		t.Errorf("详情调用 = %+v, want 一次 3 单", collector.detailCalls)
	}
	if len(collector.reconciled) != 1 || collector.reconciled[0] != 7 {
		t.Errorf("对账调用 = %+v, want [7]", collector.reconciled)
	}
}

func TestWorker_CollectSplitsLargeWindow(t *testing.T) {
	sns := make([]string, 120)
	for i := range sns {
		sns[i] = fmt.Sprintf("SN-%03d", i)
	}
	collector := &fakeCollector{sns: sns}
	w, records := newTestWorker(collector)
	w.splitThreshold = 100

	if err := w.handleCollect(context.Background(), collectJob(7)); err != nil {
		t.Fatalf("采集不应报错: %v", err)
	}

	// 超阈值时本任务内不直跑
	if len(collector.detailCalls) != 0 || len(collector.reconciled) != 0 {
		t.Errorf("拆分模式下不应在采集任务内直跑详情或对账")
	}

	// 120 单按 50 一批拆成 3 个详情任务 + 1 个对账任务
	if len(*records) != 4 {
		t.Fatalf("投递次数 = %d, want 4", len(*records))
	}

	total := 0
	for _, r := range (*records)[:3] {
		if r.queueName != queue.OrderDetail || r.jobName != JobProcessOrderDetails {
			t.Errorf("详情任务投递到 %s/%s", r.queueName, r.jobName)
		}
		payload, ok := r.payload.(DetailPayload)
		if !ok {
			t.Fatalf("详情载荷类型 = %T", r.payload)
		}
		if payload.ShopKey != 7 {
			t.Errorf("详情载荷店铺 = %d, want 7", payload.ShopKey)
		}
		if len(payload.OrderSNs) > detailChunkSize {
			t.Errorf("详情批 %d 单超过上限 %d", len(payload.OrderSNs), detailChunkSize)
		}
		total += len(payload.OrderSNs)
	}
	if total != 120 {
		t.Errorf("详情批合计 %d 单, want 120", total)
	}

	last := (*records)[3]
	if last.queueName != queue.ShipmentInfo || last.jobName != JobProcessShipmentInfo {
		t.Errorf("对账任务投递到 %s/%s", last.queueName, last.jobName)
	}
	if last.opts == nil || last.opts.Delay <= 0 {
		t.Errorf("对账任务应当延迟就绪")
	}
	if last.opts != nil && last.opts.DedupKey == "" {
		t.Errorf("对账任务应当按店铺去重")
	}
}

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ==================== 队列常量 ====================

// 四条业务队列
const (
	OrderCollection = "order-collection" // 整店采集
	OrderDetail     = "order-detail"     // 详情处理（拆分模式）
	ShipmentInfo    = "shipment-info"    // 运单号对账（拆分模式）
	Inventory       = "inventory"        // 库存同步（预留）
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 2 * time.Second
	defaultPollEvery   = 200 * time.Millisecond
	processingTimeout  = 5 * time.Minute
	claimExtendEvery   = time.Minute // 在途任务续租周期，必须远小于 processingTimeout
	drainTimeout       = 3 * time.Second
	retentionSize      = 100 // completed / failed 列表保留条数
	maxPriority        = 999
)

// ==================== Job ====================

// Job 队列任务
type Job struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"` // 任务类型，消费端按此分发
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"` // 0 最高，仅在同一毫秒就绪时生效
	BackoffBase time.Duration   `json:"backoff_base"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	DedupKey    string          `json:"dedup_key,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
}

// recordStall 超时回收记为一次失败尝试，返回是否还可重投
func (j *Job) recordStall() bool {
	j.Attempts++
	j.LastError = "处理超时被回收"
	return j.Attempts < j.MaxAttempts
}

// EnqueueOptions 入队选项
type EnqueueOptions struct {
	MaxAttempts int           // 默认 3
	Priority    int           // 0 ~ 999，0 最高
	Delay       time.Duration // 延迟就绪
	BackoffBase time.Duration // 重试退避基数，默认 2s，按 2^(attempts-1) 递增
	DedupKey    string        // 非空则按 (任务类型, key) 去重
	DedupTTL    time.Duration // 去重键存活时间，默认 10 分钟
}

// Handler 任务处理函数，返回错误触发重试
type Handler func(ctx context.Context, job *Job) error

// ==================== Queue ====================

// Queue 基于 Redis ZSET 的延迟队列
// pending 按 就绪时间(ms)*1000+优先级 排序，claim 用 Lua 保证原子搬运到 processing，
// 超时未确认的任务由 reaper 捞回重投
type Queue struct {
	name   string
	rdb    *redis.Client
	logger *zap.SugaredLogger

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup

	// 观测回调，不挂在关键路径上
	OnCompleted func(job *Job)
	OnFailed    func(job *Job, err error)
	OnStalled   func(jobID string)
}

// claimScript 原子认领：取一个就绪任务，从 pending 挪到 processing
// KEYS[1]=pending KEYS[2]=processing ARGV[1]=当前最大分值 ARGV[2]=处理截止时间(ms)
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
if #ids == 0 then
  return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[2], ids[1])
return ids[1]
`)

// NewQueue 创建队列
func NewQueue(name string, rdb *redis.Client, logger *zap.SugaredLogger) *Queue {
	return &Queue{
		name:   name,
		rdb:    rdb,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Name 队列名
func (q *Queue) Name() string { return q.name }

func (q *Queue) pendingKey() string    { return fmt.Sprintf("q:%s:pending", q.name) }
func (q *Queue) processingKey() string { return fmt.Sprintf("q:%s:processing", q.name) }
func (q *Queue) completedKey() string  { return fmt.Sprintf("q:%s:completed", q.name) }
func (q *Queue) failedKey() string     { return fmt.Sprintf("q:%s:failed", q.name) }
func (q *Queue) jobKey(id string) string {
	return fmt.Sprintf("q:%s:job:%s", q.name, id)
}
func (q *Queue) dedupKey(jobName, key string) string {
	return fmt.Sprintf("q:%s:dedup:%s:%s", q.name, jobName, key)
}

// score 就绪时间毫秒数占高位，优先级占低三位：时间先行，同毫秒内按优先级
func score(readyAt time.Time, priority int) float64 {
	if priority < 0 {
		priority = 0
	}
	if priority > maxPriority {
		priority = maxPriority
	}
	return float64(readyAt.UnixMilli()*1000 + int64(priority))
}

// ==================== 入队 ====================

// Enqueue 投递任务，返回任务 ID；被去重时返回空 ID 且不报错
func (q *Queue) Enqueue(ctx context.Context, jobName string, payload interface{}, opts *EnqueueOptions) (string, error) {
	if opts == nil {
		opts = &EnqueueOptions{}
	}

	if opts.DedupKey != "" {
		ttl := opts.DedupTTL
		if ttl <= 0 {
			ttl = 10 * time.Minute
		}
		ok, err := q.rdb.SetNX(ctx, q.dedupKey(jobName, opts.DedupKey), 1, ttl).Result()
		if err != nil {
			return "", fmt.Errorf("队列 %s 去重检查失败: %w", q.name, err)
		}
		if !ok {
			return "", nil
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("队列 %s 任务载荷序列化失败: %w", q.name, err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	backoff := opts.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}

	job := &Job{
		ID:          uuid.NewString(),
		Name:        jobName,
		Payload:     raw,
		MaxAttempts: maxAttempts,
		Priority:    opts.Priority,
		BackoffBase: backoff,
		EnqueuedAt:  time.Now().UTC(),
		DedupKey:    opts.DedupKey,
	}

	readyAt := time.Now().Add(opts.Delay)
	if err := q.push(ctx, job, readyAt); err != nil {
		return "", err
	}
	return job.ID, nil
}

// push 写任务体并挂到 pending
func (q *Queue) push(ctx context.Context, job *Job, readyAt time.Time) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("队列 %s 任务序列化失败: %w", q.name, err)
	}
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(job.ID), body, 0)
	pipe.ZAdd(ctx, q.pendingKey(), redis.Z{Score: score(readyAt, job.Priority), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("队列 %s 入队失败: %w", q.name, err)
	}
	return nil
}

// ==================== 消费 ====================

// Start 启动消费循环与 reaper，concurrency 控制同时处理的任务数
func (q *Queue) Start(ctx context.Context, handler Handler, concurrency int) {
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		ticker := time.NewTicker(defaultPollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-q.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			q.drainReady(ctx, handler, sem)
		}
	}()

	q.wg.Add(1)
	go q.reapLoop(ctx)
}

// drainReady 在并发许可内连续认领就绪任务，直到无任务或无空位
func (q *Queue) drainReady(ctx context.Context, handler Handler, sem chan struct{}) {
	for {
		select {
		case sem <- struct{}{}:
		default:
			return
		}

		job, ok := q.claim(ctx)
		if !ok {
			<-sem
			return
		}

		q.wg.Add(1)
		go func(job *Job) {
			defer q.wg.Done()
			defer func() { <-sem }()
			q.run(ctx, handler, job)
		}(job)
	}
}

// claim 认领一个就绪任务
func (q *Queue) claim(ctx context.Context) (*Job, bool) {
	now := time.Now()
	res, err := claimScript.Run(ctx, q.rdb,
		[]string{q.pendingKey(), q.processingKey()},
		score(now, maxPriority), leaseDeadline(now),
	).Result()
	if err == redis.Nil || res == nil {
		return nil, false
	}
	if err != nil {
		q.logger.Errorf("[Queue:%s] 认领任务失败: %v", q.name, err)
		return nil, false
	}

	id, _ := res.(string)
	body, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
	if err != nil {
		// 任务体丢失，直接移出 processing
		q.logger.Errorf("[Queue:%s] 任务 %s 任务体缺失: %v", q.name, id, err)
		q.rdb.ZRem(ctx, q.processingKey(), id)
		return nil, false
	}
	var job Job
	if err := json.Unmarshal(body, &job); err != nil {
		q.logger.Errorf("[Queue:%s] 任务 %s 任务体损坏: %v", q.name, id, err)
		q.rdb.ZRem(ctx, q.processingKey(), id)
		q.rdb.Del(ctx, q.jobKey(id))
		return nil, false
	}
	return &job, true
}

// run 执行单个任务并按结果归档或重投
func (q *Queue) run(ctx context.Context, handler Handler, job *Job) {
	job.Attempts++

	// 处理期间持续续租，长任务不会被 reaper 误判超时重投
	done := make(chan struct{})
	q.wg.Add(1)
	go q.keepClaimed(ctx, job.ID, done)

	err := handler(ctx, job)
	close(done)
	if err == nil {
		q.finish(ctx, job, q.completedKey())
		if q.OnCompleted != nil {
			q.OnCompleted(job)
		}
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= job.MaxAttempts {
		q.logger.Errorf("[Queue:%s] 任务 %s (%s) 第 %d 次失败，放弃: %v",
			q.name, job.ID, job.Name, job.Attempts, err)
		q.finish(ctx, job, q.failedKey())
		if q.OnFailed != nil {
			q.OnFailed(job, err)
		}
		return
	}

	delay := job.BackoffBase << uint(job.Attempts-1)
	q.logger.Warnf("[Queue:%s] 任务 %s (%s) 第 %d 次失败，%s 后重试: %v",
		q.name, job.ID, job.Name, job.Attempts, delay, err)

	q.rdb.ZRem(ctx, q.processingKey(), job.ID)
	if err := q.push(ctx, job, time.Now().Add(delay)); err != nil {
		q.logger.Errorf("[Queue:%s] 任务 %s 重投失败: %v", q.name, job.ID, err)
	}
}

// keepClaimed 周期性把 processing 截止时间往后推，任务结束后由 done 退出
func (q *Queue) keepClaimed(ctx context.Context, id string, done <-chan struct{}) {
	defer q.wg.Done()
	ticker := time.NewTicker(claimExtendEvery)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			// XX：只续已存在的成员，任务已被归档时不会复活
			err := q.rdb.ZAddXX(ctx, q.processingKey(),
				redis.Z{Score: leaseDeadline(time.Now()), Member: id}).Err()
			if err != nil {
				q.logger.Warnf("[Queue:%s] 任务 %s 续租失败: %v", q.name, id, err)
			}
		}
	}
}

// leaseDeadline 一次认领/续租后的处理截止时间（ms 分值）
func leaseDeadline(now time.Time) float64 {
	return float64(now.Add(processingTimeout).UnixMilli())
}

// finish 从 processing 移除并归档到保留列表，去重键随任务终态一起释放
func (q *Queue) finish(ctx context.Context, job *Job, listKey string) {
	body, _ := json.Marshal(job)
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), job.ID)
	pipe.Del(ctx, q.jobKey(job.ID))
	if job.DedupKey != "" {
		pipe.Del(ctx, q.dedupKey(job.Name, job.DedupKey))
	}
	pipe.LPush(ctx, listKey, body)
	pipe.LTrim(ctx, listKey, 0, retentionSize-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.logger.Errorf("[Queue:%s] 任务 %s 归档失败: %v", q.name, job.ID, err)
	}
}

// ==================== reaper ====================

// reapLoop 周期性捞回处理超时的任务重投 pending
func (q *Queue) reapLoop(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.reap(ctx)
		}
	}
}

func (q *Queue) reap(ctx context.Context) {
	nowMs := fmt.Sprintf("%d", time.Now().UnixMilli())
	ids, err := q.rdb.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf", Max: nowMs,
	}).Result()
	if err != nil {
		q.logger.Errorf("[Queue:%s] 扫描超时任务失败: %v", q.name, err)
		return
	}
	for _, id := range ids {
		body, err := q.rdb.Get(ctx, q.jobKey(id)).Bytes()
		if err != nil {
			q.logger.Errorf("[Queue:%s] 超时任务 %s 任务体缺失，丢弃: %v", q.name, id, err)
			q.rdb.ZRem(ctx, q.processingKey(), id)
			continue
		}
		var job Job
		if err := json.Unmarshal(body, &job); err != nil {
			q.logger.Errorf("[Queue:%s] 超时任务 %s 任务体损坏，丢弃: %v", q.name, id, err)
			q.rdb.ZRem(ctx, q.processingKey(), id)
			q.rdb.Del(ctx, q.jobKey(id))
			continue
		}

		// 回收计入重试次数，卡死的任务不会无限重投
		if job.recordStall() {
			q.logger.Warnf("[Queue:%s] 任务 %s (%s) 处理超时，第 %d 次尝试后重投",
				q.name, id, job.Name, job.Attempts)
			q.rdb.ZRem(ctx, q.processingKey(), id)
			if err := q.push(ctx, &job, time.Now()); err != nil {
				q.logger.Errorf("[Queue:%s] 任务 %s 重投失败: %v", q.name, id, err)
			}
		} else {
			q.logger.Errorf("[Queue:%s] 任务 %s (%s) 处理超时 %d 次，放弃",
				q.name, id, job.Name, job.Attempts)
			q.finish(ctx, &job, q.failedKey())
			if q.OnFailed != nil {
				q.OnFailed(&job, fmt.Errorf("处理超时"))
			}
		}
		if q.OnStalled != nil {
			q.OnStalled(id)
		}
	}
}

// ==================== 关停 / 观测 ====================

// Close 停止认领并等在途任务收尾，最多等 drainTimeout
// 返回 false 表示仍有任务在途，留给 reaper 按超时回收
func (q *Queue) Close() bool {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		close(q.stop)
	}
	q.mu.Unlock()
	return waitTimeout(&q.wg, drainTimeout)
}

// waitTimeout 带时限的 WaitGroup 等待
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Depth 队列深度
func (q *Queue) Depth(ctx context.Context) (pending, processing int64, err error) {
	pending, err = q.rdb.ZCard(ctx, q.pendingKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	processing, err = q.rdb.ZCard(ctx, q.processingKey()).Result()
	if err != nil {
		return 0, 0, err
	}
	return pending, processing, nil
}

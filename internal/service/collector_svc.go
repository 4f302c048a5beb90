package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shopee_dev_v1_202608/internal/model"
	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/pkg/shopee"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ==================== 配置 ====================

// CollectorConfig 采集参数
type CollectorConfig struct {
	MaxRetry          int           // 订单列表步骤的内重试预算
	RetryBaseDelay    time.Duration // 内重试初始退避，按 2^n 递增
	OrderBatchSize    int           // 详情批大小
	TrackingBatchSize int           // 对账子批大小
	BatchInterval     time.Duration // 批间隔，限流用
	TrackingInterval  time.Duration // 对账单请求间隔
	TrackingTimeout   time.Duration // 对账单请求超时（编排层强制）
	PageSize          int           // 列表页大小
	WindowBack        time.Duration // 默认窗口回看
	WindowForward     time.Duration // 默认窗口前探
	FixLimit          int           // Step F 每种形态的修复上限
	ReconcileLimit    int           // 单轮对账候选上限，余量留给下一轮
	IsSandbox         bool          // 进程级沙箱旗标，公司列优先
	BaseURL           string        // 平台网关覆盖，空则按沙箱旗标选择
}

// DefaultCollectorConfig 默认采集参数
func DefaultCollectorConfig() *CollectorConfig {
	return &CollectorConfig{
		MaxRetry:          3,
		RetryBaseDelay:    time.Second,
		OrderBatchSize:    50,
		TrackingBatchSize: 10,
		BatchInterval:     500 * time.Millisecond,
		TrackingInterval:  500 * time.Millisecond,
		TrackingTimeout:   15 * time.Second,
		PageSize:          shopee.DefaultPageSize,
		WindowBack:        time.Hour,
		WindowForward:     24 * time.Hour,
		FixLimit:          20,
		ReconcileLimit:    200,
	}
}

// CollectStats 单店铺采集结果
type CollectStats struct {
	Total    int      `json:"total"`
	Success  int      `json:"success"`
	Failed   int      `json:"failed"`
	OrderSNs []string `json:"order_sns"`
}

// ==================== OrderCollectService 订单采集 ====================

// ClientFactory 按店铺构造 API 客户端（partner 凭证随店铺走，base URL 随沙箱走）
type ClientFactory func(shop *model.Shop, sandbox bool) *shopee.Client

// OrderCollectService 单店铺订单采集编排
// 流程：校验店铺 -> 时间窗 -> 拉列表 -> 批量详情落库 -> 运单号对账 -> 补残行
// 同一店铺同一时刻只会有一次调用（调度层保证），跨店铺由队列并行
type OrderCollectService struct {
	shopRepo  repository.ShopRepository
	orderRepo repository.OrderRepository
	tokenSvc  *TokenService
	cfg       *CollectorConfig
	logger    *zap.SugaredLogger

	newClient ClientFactory
}

// NewOrderCollectService 创建采集服务
func NewOrderCollectService(
	shopRepo repository.ShopRepository,
	orderRepo repository.OrderRepository,
	tokenSvc *TokenService,
	cfg *CollectorConfig,
	logger *zap.SugaredLogger,
) *OrderCollectService {
	if cfg == nil {
		cfg = DefaultCollectorConfig()
	}
	return &OrderCollectService{
		shopRepo:  shopRepo,
		orderRepo: orderRepo,
		tokenSvc:  tokenSvc,
		cfg:       cfg,
		logger:    logger,
		newClient: func(shop *model.Shop, sandbox bool) *shopee.Client {
			baseURL := cfg.BaseURL
			if baseURL == "" {
				baseURL = shopee.BaseURLProduction
				if sandbox {
					baseURL = shopee.BaseURLSandbox
				}
			}
			return shopee.NewClient(&shopee.Config{
				BaseURL:    baseURL,
				PartnerID:  shop.PartnerID,
				PartnerKey: shop.PartnerKey,
			})
		},
	}
}

// SetClientFactory 替换客户端工厂（测试指向 httptest 服务）
func (s *OrderCollectService) SetClientFactory(f ClientFactory) {
	s.newClient = f
}

// ==================== 主流程 ====================

// CollectShopOrders 采集单个店铺的订单
// shopKey 是内部店铺主键，不是平台 shop_id
func (s *OrderCollectService) CollectShopOrders(ctx context.Context, shopKey int64) (*CollectStats, error) {
	stats := &CollectStats{OrderSNs: []string{}}

	// Step A: 校验店铺并准备客户端与 Token
	shop, client, err := s.prepare(ctx, shopKey)
	if err != nil {
		return stats, err
	}

	// Step B: 计算时间窗
	timeFrom, timeTo := s.window(shop)

	// Step C: 拉订单列表（本步骤内做有限重试）
	entries, err := s.listOrders(ctx, client, shop, timeFrom, timeTo)
	if err != nil {
		return stats, err
	}
	if len(entries) == 0 {
		s.logger.Infof("[Collect] 店铺 %d 窗口内无订单", shop.ShopID)
		return stats, nil
	}

	orderSNs := make([]string, 0, len(entries))
	for _, e := range entries {
		orderSNs = append(orderSNs, e.OrderSN)
	}
	stats.Total = len(orderSNs)

	// Step D: 批量详情落库
	s.processDetails(ctx, client, shop, orderSNs, stats)

	// Step E: 运单号对账
	s.reconcileTracking(ctx, client, shop, stats.OrderSNs)

	// Step F: 补残行
	s.fixIncomplete(ctx, client, shop)

	s.logger.Infof("[Collect] 店铺 %d 采集完成: total=%d success=%d failed=%d",
		shop.ShopID, stats.Total, stats.Success, stats.Failed)
	return stats, nil
}

// ProcessOrderDetails 高负载下拆出的详情处理阶段（order-detail 队列消费入口）
func (s *OrderCollectService) ProcessOrderDetails(ctx context.Context, shopKey int64, orderSNs []string) (*CollectStats, error) {
	stats := &CollectStats{Total: len(orderSNs), OrderSNs: []string{}}
	if len(orderSNs) == 0 {
		return stats, nil
	}
	shop, client, err := s.prepare(ctx, shopKey)
	if err != nil {
		return stats, err
	}
	s.processDetails(ctx, client, shop, orderSNs, stats)
	return stats, nil
}

// ReconcileShipments 拆出的运单号对账阶段（shipment-info 队列消费入口）
// 不限定订单号，按状态在全店范围内对账
func (s *OrderCollectService) ReconcileShipments(ctx context.Context, shopKey int64) error {
	shop, client, err := s.prepare(ctx, shopKey)
	if err != nil {
		return err
	}
	s.reconcileTracking(ctx, client, shop, nil)
	s.fixIncomplete(ctx, client, shop)
	return nil
}

// ListWindowOrderSNs 只执行校验与列表阶段，返回窗口内订单号
// 拆分模式下由 Worker 据此决定是整店直跑还是下发到详情/对账队列
func (s *OrderCollectService) ListWindowOrderSNs(ctx context.Context, shopKey int64) ([]string, error) {
	shop, client, err := s.prepare(ctx, shopKey)
	if err != nil {
		return nil, err
	}
	timeFrom, timeTo := s.window(shop)
	entries, err := s.listOrders(ctx, client, shop, timeFrom, timeTo)
	if err != nil {
		return nil, err
	}
	sns := make([]string, 0, len(entries))
	for _, e := range entries {
		sns = append(sns, e.OrderSN)
	}
	return sns, nil
}

// ==================== Step A: 校验 ====================

func (s *OrderCollectService) prepare(ctx context.Context, shopKey int64) (model.Shop, *shopee.Client, error) {
	shop, err := s.shopRepo.GetWithCompany(ctx, shopKey)
	if err != nil {
		return model.Shop{}, nil, fmt.Errorf("店铺 %d 不存在: %w", shopKey, err)
	}
	if !shop.Active {
		return model.Shop{}, nil, &ConfigError{ShopID: shop.ShopID, Reason: "店铺未激活"}
	}
	if shop.CompanyID == 0 || shop.Company == nil {
		return model.Shop{}, nil, &ConfigError{ShopID: shop.ShopID, Reason: "缺少 company_id"}
	}
	if shop.PartnerID == 0 || shop.PartnerKey == "" {
		return model.Shop{}, nil, &ConfigError{ShopID: shop.ShopID, Reason: "缺少 partner 凭证"}
	}

	client := s.newClient(shop, shop.SandboxMode(s.cfg.IsSandbox))

	fresh, err := s.tokenSvc.Ensure(ctx, client, *shop)
	if err != nil {
		return model.Shop{}, nil, err
	}
	if fresh.AccessToken == "" {
		return model.Shop{}, nil, &TokenError{ShopID: shop.ShopID, Err: fmt.Errorf("access_token 缺失")}
	}
	return fresh, client, nil
}

// ==================== Step B: 时间窗 ====================

// window 默认 [now-1h, now+24h]，店铺配置了回看窗口则按分钟覆盖
// 平台侧按 update_time 过滤
func (s *OrderCollectService) window(shop model.Shop) (int64, int64) {
	nowUTC := time.Now().UTC()
	back := s.cfg.WindowBack
	if shop.OrderPollWindow > 0 {
		back = time.Duration(shop.OrderPollWindow) * time.Minute
	}
	timeFrom := nowUTC.Add(-back).Unix()
	timeTo := nowUTC.Add(s.cfg.WindowForward).Unix()
	return timeFrom, timeTo
}

// ==================== Step C: 订单列表 ====================

func (s *OrderCollectService) listOrders(ctx context.Context, client *shopee.Client, shop model.Shop, timeFrom, timeTo int64) ([]shopee.OrderListEntry, error) {
	query := &shopee.OrderListQuery{
		TimeRangeField: "update_time",
		TimeFrom:       timeFrom,
		TimeTo:         timeTo,
		PageSize:       s.cfg.PageSize,
	}

	for attempt := 0; ; attempt++ {
		entries, err := client.ListAllOrders(ctx, shop.AccessToken, shop.ShopID, query)
		if err == nil {
			return entries, nil
		}
		// 只有网络层错误在步骤内重试，平台拒绝直接上抛给队列
		if !shopee.IsTransport(err) || attempt >= s.cfg.MaxRetry {
			return nil, err
		}
		delay := s.cfg.RetryBaseDelay << uint(attempt)
		s.logger.Warnf("[Collect] 店铺 %d 拉取订单列表失败 (attempt=%d)，%s 后重试: %v",
			shop.ShopID, attempt+1, delay, err)
		s.sleep(ctx, delay)
	}
}

// ==================== Step D: 详情落库 ====================

func (s *OrderCollectService) processDetails(ctx context.Context, client *shopee.Client, shop model.Shop, orderSNs []string, stats *CollectStats) {
	batchSize := s.cfg.OrderBatchSize
	if batchSize <= 0 || batchSize > shopee.MaxOrderDetailBatch {
		batchSize = shopee.MaxOrderDetailBatch
	}

	for start := 0; start < len(orderSNs); start += batchSize {
		end := start + batchSize
		if end > len(orderSNs) {
			end = len(orderSNs)
		}
		batch := orderSNs[start:end]

		resp, err := client.GetOrderDetail(ctx, shop.AccessToken, shop.ShopID, batch)
		if err != nil {
			s.logger.Errorf("[Collect] 店铺 %d 详情批次失败 (%d 单): %v", shop.ShopID, len(batch), err)
			stats.Failed += len(batch)
			continue
		}

		for i := range resp.Response.OrderList {
			detail := &resp.Response.OrderList[i]

			rec, err := s.buildOrderRecord(detail)
			if err != nil {
				// 数据残缺只跳过该单
				s.logger.Warnf("[Collect] 店铺 %d %v", shop.ShopID, err)
				stats.Failed++
				continue
			}

			// 一单一事务，失败不影响批内其他订单
			if _, err := s.orderRepo.Upsert(ctx, rec, shop.CompanyID, shop.ShopID); err != nil {
				serr := &StorageError{OrderSN: detail.OrderSN, Err: err}
				s.logger.Errorf("[Collect] 店铺 %d %v", shop.ShopID, serr)
				stats.Failed++
				continue
			}

			stats.Success++
			stats.OrderSNs = append(stats.OrderSNs, detail.OrderSN)
		}

		// 批间限速
		if end < len(orderSNs) {
			s.sleep(ctx, s.cfg.BatchInterval)
		}
	}
}

// buildOrderRecord 平台详情 -> 落库载荷
func (s *OrderCollectService) buildOrderRecord(detail *shopee.OrderDetail) (*repository.OrderRecord, error) {
	if detail.OrderSN == "" {
		return nil, &DataError{Reason: "缺少 order_sn"}
	}
	if detail.OrderStatus == "" {
		return nil, &DataError{OrderSN: detail.OrderSN, Reason: "缺少 order_status"}
	}
	if _, known := model.MapActionStatus(detail.OrderStatus); !known {
		s.logger.Warnf("[Collect] 订单 %s 未知状态 %q，回落到 ORDER", detail.OrderSN, detail.OrderStatus)
	}

	rec := &repository.OrderRecord{
		OrderSN:         detail.OrderSN,
		Status:          detail.OrderStatus,
		Country:         detail.Region,
		Currency:        detail.Currency,
		OrderTime:       model.EpochToTime(detail.CreateTime),
		PayTime:         model.EpochToTime(detail.PayTime),
		ShipByDate:      model.EpochToTime(detail.ShipByDate),
		DayToShip:       detail.DaysToShip,
		TotalAmount:     decimal.NewFromFloat(detail.TotalAmount),
		FulfillmentFlag: model.MapFulfillmentFlag(detail.FulfillmentFlag),
		CancelBy:        detail.CancelBy,
		CancelReason:    detail.CancelReason,
		MessageToSeller: detail.MessageToSeller,

		// package_number 是包裹标识，绝不能写进 tracking_no；运单号在 Step E 获取
		CarrierName:          carrierFromDetail(detail),
		EstimatedShippingFee: decimal.NewFromFloat(detail.EstimatedShippingFee),
		ActualShippingFee:    decimal.NewFromFloat(detail.ActualShippingFee),
	}

	for _, it := range detail.ItemList {
		sku := it.ModelSKU
		if sku == "" {
			sku = fmt.Sprintf("shopee-%d", it.ItemID)
		}
		rec.Items = append(rec.Items, repository.ItemRecord{
			ItemID:        it.ItemID,
			SKU:           sku,
			PromoSKU:      it.ItemSKU,
			Name:          it.ItemName,
			Variation:     it.ModelName,
			Price:         decimal.NewFromFloat(it.ModelDiscountedPrice),
			OriginalPrice: decimal.NewFromFloat(it.ModelOriginalPrice),
			Qty:           it.ModelQuantityPurchased,
			Weight:        it.Weight,
			ImageURL:      it.ImageInfo.ImageURL,
		})
	}

	if raw, err := json.Marshal(detail); err == nil {
		rec.Raw = raw
	}
	return rec, nil
}

// carrierFromDetail 承运商名称取值优先级:
// package_list[0].shipping_carrier > shipping_carrier > checkout_shipping_carrier
func carrierFromDetail(detail *shopee.OrderDetail) string {
	if len(detail.PackageList) > 0 && detail.PackageList[0].ShippingCarrier != "" {
		return detail.PackageList[0].ShippingCarrier
	}
	if detail.ShippingCarrier != "" {
		return detail.ShippingCarrier
	}
	return detail.CheckoutShippingCarrier
}

// ==================== Step E: 运单号对账 ====================

func (s *OrderCollectService) reconcileTracking(ctx context.Context, client *shopee.Client, shop model.Shop, orderNums []string) {
	// 单轮候选封顶，剩下的交给后续轮次；不封顶时大店一轮对账能拖垮队列租约
	limit := s.cfg.ReconcileLimit
	if limit <= 0 {
		limit = 200
	}
	candidates, err := s.orderRepo.ListTrackingCandidates(ctx, shop.ShopID, orderNums, limit)
	if err != nil {
		s.logger.Errorf("[Reconcile] 店铺 %d 查询对账候选失败: %v", shop.ShopID, err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	s.logger.Infof("[Reconcile] 店铺 %d 开始对账 %d 单运单号", shop.ShopID, len(candidates))

	updated := 0
	for i := range candidates {
		order := &candidates[i]
		if i > 0 {
			s.sleep(ctx, s.cfg.TrackingInterval)
		}
		select {
		case <-ctx.Done():
			s.logger.Warnf("[Reconcile] 店铺 %d 对账被取消", shop.ShopID)
			return
		default:
		}

		resp, err := s.trackingNumberWithTimeout(ctx, client, shop, order.OrderNum)
		if err != nil {
			s.logger.Warnf("[Reconcile] 订单 %s 运单号查询失败: %v", order.OrderNum, err)
			continue
		}

		trackingNo := pickTrackingNumber(resp)
		carrier := pickCarrierName(resp)

		dbTracking := ""
		if order.Logistic != nil {
			dbTracking = order.Logistic.TrackingNo
		}

		// 对账幂等：平台值与库内一致就不产生任何写
		if trackingNo == "" || trackingNo == dbTracking {
			continue
		}

		if err := s.orderRepo.UpdateTracking(ctx, order.ID, trackingNo, carrier); err != nil {
			s.logger.Errorf("[Reconcile] 订单 %s 运单号写入失败: %v", order.OrderNum, err)
			continue
		}
		s.appendTrackingEvents(ctx, client, shop, order.ID, trackingNo)

		updated++
		// 每个子批落库后歇一拍
		if updated%s.cfg.TrackingBatchSize == 0 {
			s.sleep(ctx, s.cfg.BatchInterval)
		}
	}

	if updated > 0 {
		s.logger.Infof("[Reconcile] 店铺 %d 对账完成，更新 %d 单", shop.ShopID, updated)
	}
}

// trackingNumberWithTimeout 对账单请求在编排层与计时器赛跑，15s 不回即弃
func (s *OrderCollectService) trackingNumberWithTimeout(ctx context.Context, client *shopee.Client, shop model.Shop, orderSN string) (*shopee.TrackingNumberResponse, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.TrackingTimeout)
	defer cancel()

	type result struct {
		resp *shopee.TrackingNumberResponse
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		resp, err := client.GetTrackingNumber(reqCtx, shop.AccessToken, shop.ShopID, orderSN, "")
		ch <- result{resp, err}
	}()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-reqCtx.Done():
		return nil, &shopee.TransportError{Err: fmt.Errorf("运单号查询超时 (%s)", s.cfg.TrackingTimeout)}
	}
}

// appendTrackingEvents 运单号到手后顺带补物流轨迹，失败只告警
func (s *OrderCollectService) appendTrackingEvents(ctx context.Context, client *shopee.Client, shop model.Shop, orderID, trackingNo string) {
	resp, err := client.GetTrackingInfo(ctx, shop.AccessToken, shop.ShopID, trackingNo)
	if err != nil {
		s.logger.Warnf("[Reconcile] 运单 %s 轨迹查询失败: %v", trackingNo, err)
		return
	}
	if len(resp.Response.TrackingInfo) == 0 {
		return
	}

	histories := make([]repository.HistoryRecord, 0, len(resp.Response.TrackingInfo))
	for _, ev := range resp.Response.TrackingInfo {
		histories = append(histories, repository.HistoryRecord{
			TrackingNo: trackingNo,
			EventTime:  model.EpochToTime(ev.UpdateTime),
			Location:   ev.Description,
			Status:     ev.LogisticsStatus,
		})
	}
	if err := s.orderRepo.AppendHistories(ctx, orderID, histories); err != nil {
		s.logger.Warnf("[Reconcile] 运单 %s 轨迹写入失败: %v", trackingNo, err)
	}
}

// pickTrackingNumber 运单号取值优先级:
// tracking_number > first_mile > last_mile > plp_number
func pickTrackingNumber(resp *shopee.TrackingNumberResponse) string {
	r := resp.Response
	for _, v := range []string{r.TrackingNumber, r.FirstMileTrackingNumber, r.LastMileTrackingNumber, r.PLPNumber} {
		if v != "" {
			return v
		}
	}
	return ""
}

// pickCarrierName 承运商名称取值优先级:
// shipping_provider_name > logistic_name > carrier_name > shipping_provider > carrier > logistics_channel
func pickCarrierName(resp *shopee.TrackingNumberResponse) string {
	r := resp.Response
	for _, v := range []string{r.ShippingProviderName, r.LogisticName, r.CarrierName, r.ShippingProvider, r.Carrier, r.LogisticsChannel} {
		if v != "" {
			return v
		}
	}
	return ""
}

// ==================== Step F: 补残行 ====================

// fixIncomplete 主流程跑完后修两种残行：有运单号缺承运商、有承运商缺运单号
func (s *OrderCollectService) fixIncomplete(ctx context.Context, client *shopee.Client, shop model.Shop) {
	// 形态一：运单号在、承运商缺 -> 重拉详情取承运商
	missingCarrier, err := s.orderRepo.ListMissingCarrier(ctx, shop.ShopID, s.cfg.FixLimit)
	if err != nil {
		s.logger.Errorf("[Fix] 店铺 %d 查询缺承运商残行失败: %v", shop.ShopID, err)
	}
	for i := range missingCarrier {
		order := &missingCarrier[i]
		if i > 0 {
			s.sleep(ctx, s.cfg.TrackingInterval)
		}

		resp, err := client.GetOrderDetail(ctx, shop.AccessToken, shop.ShopID, []string{order.OrderNum})
		if err != nil || len(resp.Response.OrderList) == 0 {
			s.logger.Warnf("[Fix] 订单 %s 详情重拉失败: %v", order.OrderNum, err)
			continue
		}
		carrier := carrierFromDetail(&resp.Response.OrderList[0])
		if carrier == "" {
			continue
		}
		if err := s.orderRepo.UpdateCarrier(ctx, order.ID, carrier); err != nil {
			s.logger.Warnf("[Fix] 订单 %s 承运商补写失败: %v", order.OrderNum, err)
		}
	}

	// 形态二：承运商在、运单号缺 -> 重拉运单号
	missingTracking, err := s.orderRepo.ListMissingTracking(ctx, shop.ShopID, s.cfg.FixLimit)
	if err != nil {
		s.logger.Errorf("[Fix] 店铺 %d 查询缺运单号残行失败: %v", shop.ShopID, err)
	}
	for i := range missingTracking {
		order := &missingTracking[i]
		if i > 0 {
			s.sleep(ctx, s.cfg.TrackingInterval)
		}

		resp, err := s.trackingNumberWithTimeout(ctx, client, shop, order.OrderNum)
		if err != nil {
			s.logger.Warnf("[Fix] 订单 %s 运单号重拉失败: %v", order.OrderNum, err)
			continue
		}
		trackingNo := pickTrackingNumber(resp)
		if trackingNo == "" {
			// 平台还没有运单号，tracking_no 保持 NULL，不用订单号垫底
			continue
		}
		if err := s.orderRepo.UpdateTracking(ctx, order.ID, trackingNo, pickCarrierName(resp)); err != nil {
			s.logger.Warnf("[Fix] 订单 %s 运单号补写失败: %v", order.OrderNum, err)
		}
	}
}

// ==================== 辅助 ====================

// sleep 可被 ctx 打断的限速等待
func (s *OrderCollectService) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

package repository

import (
	"context"
	"errors"
	"time"

	"shopee_dev_v1_202608/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ==================== 落库载荷 ====================

// ItemRecord 标准化后的订单行项目
type ItemRecord struct {
	ItemID        int64
	SKU           string
	PromoSKU      string
	Name          string
	Variation     string
	Price         decimal.Decimal
	OriginalPrice decimal.Decimal
	Qty           int
	Weight        float64
	ImageURL      string
}

// HistoryRecord 标准化后的物流轨迹事件
type HistoryRecord struct {
	TrackingNo string
	EventTime  *time.Time
	Location   string
	Status     string
}

// OrderRecord 标准化后的订单落库载荷
// 由采集服务从平台详情投影而来，仓库层不再理解平台字段
type OrderRecord struct {
	OrderSN         string
	Status          string
	Country         string
	Currency        string
	OrderTime       *time.Time
	PayTime         *time.Time
	ShipByDate      *time.Time
	DayToShip       int
	TotalAmount     decimal.Decimal
	FulfillmentFlag string
	CancelBy        string
	CancelReason    string
	MessageToSeller string

	// 物流（Step D 阶段通常为空，运单号来自 Step E）
	CarrierName          string
	TrackingNo           string
	EstimatedShippingFee decimal.Decimal
	ActualShippingFee    decimal.Decimal

	Items     []ItemRecord
	Histories []HistoryRecord

	Raw []byte
}

// ==================== OrderRepository 订单仓库 ====================

// OrderRepository 订单仓库接口
// Upsert 协议：同一事务内按 订单 -> 物流 -> 轨迹 -> 订单项 的顺序写四张表
type OrderRepository interface {
	Upsert(ctx context.Context, rec *OrderRecord, companyID, shopID int64) (string, error)
	UpsertTx(tx *gorm.DB, rec *OrderRecord, companyID, shopID int64) (string, error)

	GetByOrderNum(ctx context.Context, orderNum string) (*model.Order, error)
	GetByIDOrNum(ctx context.Context, idOrNum string) (*model.Order, error)

	// Step E/F 的对账查询
	ListTrackingCandidates(ctx context.Context, shopID int64, orderNums []string, limit int) ([]model.Order, error)
	ListMissingCarrier(ctx context.Context, shopID int64, limit int) ([]model.Order, error)
	ListMissingTracking(ctx context.Context, shopID int64, limit int) ([]model.Order, error)

	UpdateTracking(ctx context.Context, orderID, trackingNo, carrierName string) error
	UpdateCarrier(ctx context.Context, orderID, carrierName string) error
	AppendHistories(ctx context.Context, orderID string, histories []HistoryRecord) error
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// ==================== Upsert 协议 ====================

// Upsert 在新事务中执行 UpsertTx，任一步失败整单回滚
func (r *orderRepository) Upsert(ctx context.Context, rec *OrderRecord, companyID, shopID int64) (string, error) {
	var orderID string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		id, err := r.UpsertTx(tx, rec, companyID, shopID)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	return orderID, err
}

// UpsertTx 严格在调用方事务内执行
func (r *orderRepository) UpsertTx(tx *gorm.DB, rec *OrderRecord, companyID, shopID int64) (string, error) {
	// 1. 解析订单主键：业务键命中则复用 UUID，否则新铸
	var existing model.Order
	err := tx.Where("platform = ? AND order_num = ?", model.PlatformShopee, rec.OrderSN).
		First(&existing).Error
	isNew := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !isNew {
		return "", err
	}

	orderID := existing.ID
	if isNew {
		orderID = uuid.NewString()
	}

	actionStatus, _ := model.MapActionStatus(rec.Status)

	// 2. 订单行
	if isNew {
		order := model.Order{
			ID:              orderID,
			Platform:        model.PlatformShopee,
			OrderNum:        rec.OrderSN,
			Status:          rec.Status,
			ActionStatus:    actionStatus,
			OtherStatus:     model.OtherStatusNone,
			Country:         rec.Country,
			Currency:        rec.Currency,
			OrderTime:       rec.OrderTime,
			PayTime:         rec.PayTime,
			ShipByDate:      rec.ShipByDate,
			DayToShip:       rec.DayToShip,
			TotalAmount:     rec.TotalAmount,
			CompanyID:       companyID,
			ShopID:          shopID,
			FulfillmentFlag: rec.FulfillmentFlag,
			CancelBy:        rec.CancelBy,
			CancelReason:    rec.CancelReason,
			MessageToSeller: rec.MessageToSeller,
			RawData:         rec.Raw,
		}
		if err := tx.Create(&order).Error; err != nil {
			return "", err
		}
	} else {
		updates := map[string]interface{}{
			"status":            rec.Status,
			"action_status":     actionStatus,
			"other_status":      model.OtherStatusNone,
			"day_to_ship":       rec.DayToShip,
			"total_amount":      rec.TotalAmount,
			"pay_time":          rec.PayTime,
			"cancel_by":         rec.CancelBy,
			"cancel_reason":     rec.CancelReason,
			"fulfillment_flag":  rec.FulfillmentFlag,
			"message_to_seller": rec.MessageToSeller,
			"updated_at":        time.Now(),
		}
		if len(rec.Raw) > 0 {
			updates["raw_data"] = rec.Raw
		}
		if err := tx.Model(&model.Order{}).Where("id = ?", orderID).Updates(updates).Error; err != nil {
			return "", err
		}
	}

	// 3. 物流行：每单恰好一条；无物流数据也落合成空行，给订单项外键落点
	logistic, err := r.upsertLogisticTx(tx, orderID, rec)
	if err != nil {
		return "", err
	}

	// 4. 物流轨迹：按四元组去重，重复观察只更新 location
	if err := r.upsertHistoriesTx(tx, logistic.ID, rec.Histories); err != nil {
		return "", err
	}

	// 5. 订单项：整组重写，先删后插，顺序由 index 保持
	if err := tx.Where("toms_order_id = ?", orderID).Delete(&model.OrderItem{}).Error; err != nil {
		return "", err
	}
	for i, it := range rec.Items {
		item := model.OrderItem{
			ID:             uuid.NewString(),
			ItemID:         it.ItemID,
			SKU:            it.SKU,
			PromoSKU:       it.PromoSKU,
			Name:           it.Name,
			Variation:      it.Variation,
			Price:          it.Price,
			OriginalPrice:  it.OriginalPrice,
			Qty:            it.Qty,
			Weight:         it.Weight,
			Index:          i,
			TrackingNo:     logistic.TrackingNo,
			TomsOrderID:    orderID,
			TomsLogisticID: logistic.ID,
			TomsItemID:     uuid.NewString(),
			ImageURL:       it.ImageURL,
		}
		if err := tx.Create(&item).Error; err != nil {
			return "", err
		}
	}

	// 6. 返回订单主键
	return orderID, nil
}

func (r *orderRepository) upsertLogisticTx(tx *gorm.DB, orderID string, rec *OrderRecord) (*model.Logistic, error) {
	var logistic model.Logistic
	err := tx.Where("toms_order_id = ?", orderID).First(&logistic).Error
	notFound := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !notFound {
		return nil, err
	}

	if notFound {
		logistic = model.Logistic{
			ID:                   uuid.NewString(),
			TomsOrderID:          orderID,
			Name:                 rec.CarrierName,
			TrackingNo:           rec.TrackingNo,
			EstimatedShippingFee: rec.EstimatedShippingFee,
			ActualShippingFee:    rec.ActualShippingFee,
		}
		if err := tx.Create(&logistic).Error; err != nil {
			return nil, err
		}
		return &logistic, nil
	}

	updates := map[string]interface{}{
		"estimated_shipping_fee": rec.EstimatedShippingFee,
		"actual_shipping_fee":    rec.ActualShippingFee,
		"updated_at":             time.Now(),
	}
	// 已有的承运商名称 / 运单号不会被空值覆盖
	if rec.CarrierName != "" {
		updates["name"] = rec.CarrierName
		logistic.Name = rec.CarrierName
	}
	if rec.TrackingNo != "" {
		updates["tracking_no"] = rec.TrackingNo
		logistic.TrackingNo = rec.TrackingNo
	}
	if err := tx.Model(&model.Logistic{}).Where("id = ?", logistic.ID).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &logistic, nil
}

func (r *orderRepository) upsertHistoriesTx(tx *gorm.DB, logisticID string, histories []HistoryRecord) error {
	for _, h := range histories {
		var existing model.LogisticHistory
		err := tx.Where("toms_logistic_id = ? AND tracking_no = ? AND event_time = ? AND status = ?",
			logisticID, h.TrackingNo, h.EventTime, h.Status).
			First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			history := model.LogisticHistory{
				ID:             uuid.NewString(),
				TomsLogisticID: logisticID,
				TrackingNo:     h.TrackingNo,
				EventTime:      h.EventTime,
				Location:       h.Location,
				Status:         h.Status,
			}
			if err := tx.Create(&history).Error; err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&model.LogisticHistory{}).Where("id = ?", existing.ID).
			Updates(map[string]interface{}{
				"location":   h.Location,
				"updated_at": time.Now(),
			}).Error; err != nil {
			return err
		}
	}
	return nil
}

// ==================== 查询 ====================

func (r *orderRepository) GetByOrderNum(ctx context.Context, orderNum string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Logistic").
		Preload("Logistic.Histories").
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("\"index\" ASC")
		}).
		Where("platform = ? AND order_num = ?", model.PlatformShopee, orderNum).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByIDOrNum 先按 UUID 查，miss 再按订单号查（运营接口用）
func (r *orderRepository) GetByIDOrNum(ctx context.Context, idOrNum string) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).
		Preload("Logistic").
		Preload("Items", func(db *gorm.DB) *gorm.DB {
			return db.Order("\"index\" ASC")
		}).
		Where("id = ?", idOrNum).
		First(&order).Error
	if err == nil {
		return &order, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return r.GetByOrderNum(ctx, idOrNum)
}

// trackingEligibleStatuses 这些状态下平台可能已有运单号
var trackingEligibleStatuses = []string{
	model.OrderStatusProcessed,
	model.OrderStatusShipped,
	model.OrderStatusCompleted,
}

func (r *orderRepository) ListTrackingCandidates(ctx context.Context, shopID int64, orderNums []string, limit int) ([]model.Order, error) {
	var orders []model.Order
	db := r.db.WithContext(ctx).
		Preload("Logistic").
		Where("shop_id = ?", shopID).
		Where("status IN ?", trackingEligibleStatuses)
	if len(orderNums) > 0 {
		db = db.Where("order_num IN ?", orderNums)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	err := db.Order("updated_at ASC").Find(&orders).Error
	return orders, err
}

// ListMissingCarrier 运单号在、承运商缺的行
func (r *orderRepository) ListMissingCarrier(ctx context.Context, shopID int64, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Preload("Logistic").
		Joins("JOIN toms_logistic l ON l.toms_order_id = toms_order.id").
		Where("toms_order.shop_id = ?", shopID).
		Where("l.tracking_no <> ''").
		Where("l.name = '' OR l.name IS NULL").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ListMissingTracking 承运商在、运单号缺的行
func (r *orderRepository) ListMissingTracking(ctx context.Context, shopID int64, limit int) ([]model.Order, error) {
	var orders []model.Order
	err := r.db.WithContext(ctx).
		Preload("Logistic").
		Joins("JOIN toms_logistic l ON l.toms_order_id = toms_order.id").
		Where("toms_order.shop_id = ?", shopID).
		Where("l.name <> ''").
		Where("l.tracking_no = '' OR l.tracking_no IS NULL").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}

// ==================== 对账写入 ====================

// UpdateTracking 运单号对账写入
// 同一事务内更新物流行、所有订单项的运单号镜像，并把未发货订单推进到 SHIPPED；
// 已有的承运商名称不会被空值覆盖
func (r *orderRepository) UpdateTracking(ctx context.Context, orderID, trackingNo, carrierName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		logisticUpdates := map[string]interface{}{
			"tracking_no": trackingNo,
			"updated_at":  time.Now(),
		}
		if carrierName != "" {
			logisticUpdates["name"] = carrierName
		}
		if err := tx.Model(&model.Logistic{}).
			Where("toms_order_id = ?", orderID).
			Updates(logisticUpdates).Error; err != nil {
			return err
		}

		if err := tx.Model(&model.OrderItem{}).
			Where("toms_order_id = ?", orderID).
			Updates(map[string]interface{}{
				"tracking_no": trackingNo,
				"updated_at":  time.Now(),
			}).Error; err != nil {
			return err
		}

		return tx.Model(&model.Order{}).
			Where("id = ?", orderID).
			Where("status NOT IN ?", []string{model.OrderStatusShipped, model.OrderStatusCompleted}).
			Updates(map[string]interface{}{
				"status":        model.OrderStatusShipped,
				"action_status": model.ActionStatusExported,
				"updated_at":    time.Now(),
			}).Error
	})
}

// UpdateCarrier 只补写承运商名称，空值直接忽略
func (r *orderRepository) UpdateCarrier(ctx context.Context, orderID, carrierName string) error {
	if carrierName == "" {
		return nil
	}
	return r.db.WithContext(ctx).Model(&model.Logistic{}).
		Where("toms_order_id = ?", orderID).
		Updates(map[string]interface{}{
			"name":       carrierName,
			"updated_at": time.Now(),
		}).Error
}

// AppendHistories 追加物流轨迹（按四元组去重）
func (r *orderRepository) AppendHistories(ctx context.Context, orderID string, histories []HistoryRecord) error {
	if len(histories) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var logistic model.Logistic
		if err := tx.Where("toms_order_id = ?", orderID).First(&logistic).Error; err != nil {
			return err
		}
		return r.upsertHistoriesTx(tx, logistic.ID, histories)
	})
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// ==================== 平台常量 ====================

// PlatformShopee 订单来源平台标记
const PlatformShopee = "shopee"

// Shopee 订单状态（平台原始值）
const (
	OrderStatusUnpaid      = "UNPAID"        // 未支付
	OrderStatusReadyToShip = "READY_TO_SHIP" // 待发货
	OrderStatusProcessed   = "PROCESSED"     // 已处理（已安排物流）
	OrderStatusShipped     = "SHIPPED"       // 已发货
	OrderStatusCompleted   = "COMPLETED"     // 已完成
	OrderStatusInCancel    = "IN_CANCEL"     // 取消中
	OrderStatusCancelled   = "CANCELLED"     // 已取消
)

// 内部动作状态（由平台状态推导）
const (
	ActionStatusOrder         = "ORDER"          // 默认
	ActionStatusReadyToPrint  = "READY_TO_PRINT" // 可打单
	ActionStatusExported      = "EXPORTED"       // 已出库
	ActionStatusRequestCancel = "REQUEST_CANCEL" // 请求取消
)

// OtherStatusNone other_status 默认值
const OtherStatusNone = "NONE"

// 履约方式
const (
	FulfillmentBySeller = "SELLER" // 卖家自发
	FulfillmentByShopee = "SHOPEE" // 平台履约
)

// MapActionStatus 平台状态 -> 动作状态
// 未知状态回落到 ORDER，known=false 供调用方告警
func MapActionStatus(orderStatus string) (action string, known bool) {
	switch orderStatus {
	case OrderStatusReadyToShip:
		return ActionStatusReadyToPrint, true
	case OrderStatusShipped:
		return ActionStatusExported, true
	case OrderStatusCancelled:
		return ActionStatusRequestCancel, true
	case OrderStatusUnpaid, OrderStatusProcessed, OrderStatusCompleted, OrderStatusInCancel:
		return ActionStatusOrder, true
	default:
		return ActionStatusOrder, false
	}
}

// MapFulfillmentFlag 平台履约标记归一化
func MapFulfillmentFlag(raw string) string {
	switch raw {
	case "fulfilled_by_cb_seller", "fulfilled_by_local_seller":
		return FulfillmentBySeller
	case "fulfilled_by_shopee":
		return FulfillmentByShopee
	default:
		return FulfillmentBySeller
	}
}

// ==================== Order 订单主表 ====================

// Order 订单
// (platform, order_num) 是业务键，UUID 只是代理主键
type Order struct {
	ID       string `gorm:"type:uuid;primaryKey"`
	Platform string `gorm:"size:32;uniqueIndex:idx_platform_order_num;default:shopee"`
	OrderNum string `gorm:"size:64;uniqueIndex:idx_platform_order_num;index;not null"`

	// 状态
	Status       string `gorm:"size:32;index"`
	ActionStatus string `gorm:"size:32;default:ORDER"`
	OtherStatus  string `gorm:"size:32;default:NONE"`

	// 订单属性
	Country  string `gorm:"size:16"`
	Currency string `gorm:"size:10"`

	OrderTime  *time.Time
	PayTime    *time.Time
	ShipByDate *time.Time
	DayToShip  int

	TotalAmount decimal.Decimal `gorm:"type:numeric(14,4)"`

	// 归属
	CompanyID int64 `gorm:"index"`
	ShopID    int64 `gorm:"index"` // Shopee 平台 shop_id

	// 履约与取消
	FulfillmentFlag string `gorm:"size:16;default:SELLER"`
	CancelBy        string `gorm:"size:32"`
	CancelReason    string `gorm:"size:255"`

	MessageToSeller string `gorm:"type:text"`

	// 平台原始数据（PostgreSQL JSONB）
	RawData datatypes.JSON `gorm:"type:jsonb"`

	// 审计
	CreatedAt time.Time
	UpdatedAt time.Time

	// 关联
	Logistic *Logistic   `gorm:"foreignKey:TomsOrderID"`
	Items    []OrderItem `gorm:"foreignKey:TomsOrderID"`
}

func (Order) TableName() string {
	return "toms_order"
}

// TrackingEligible 该状态下平台可能已有运单号
func (o *Order) TrackingEligible() bool {
	switch o.Status {
	case OrderStatusProcessed, OrderStatusShipped, OrderStatusCompleted:
		return true
	}
	return false
}

// ==================== Logistic 物流记录 ====================

// Logistic 物流记录，与订单 1:1
// toms_order_id 唯一约束保证每单只有一条；无物流数据时也会落一条空行，
// 让订单项的外键有处可指
type Logistic struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	TomsOrderID string `gorm:"type:uuid;uniqueIndex;not null"`

	Name       string `gorm:"size:128"` // 承运商名称
	TrackingNo string `gorm:"size:64;index"`

	EstimatedShippingFee decimal.Decimal `gorm:"type:numeric(14,4)"`
	ActualShippingFee    decimal.Decimal `gorm:"type:numeric(14,4)"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Histories []LogisticHistory `gorm:"foreignKey:TomsLogisticID"`
}

func (Logistic) TableName() string {
	return "toms_logistic"
}

// ==================== LogisticHistory 物流轨迹 ====================

// LogisticHistory 物流轨迹事件
// (logistic, tracking_no, event_time, status) 作为去重键
type LogisticHistory struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	TomsLogisticID string `gorm:"type:uuid;index:idx_history_dedup;not null"`

	TrackingNo string     `gorm:"size:64;index:idx_history_dedup"`
	EventTime  *time.Time `gorm:"index:idx_history_dedup"`
	Location   string     `gorm:"size:255"`
	Status     string     `gorm:"size:128;index:idx_history_dedup"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (LogisticHistory) TableName() string {
	return "toms_logistic_history"
}

// ==================== OrderItem 订单项 ====================

// OrderItem 订单行项目
// 每次 upsert 整组重写，顺序由 index 保持
type OrderItem struct {
	ID string `gorm:"type:uuid;primaryKey"`

	// 商品信息
	ItemID    int64  `gorm:"index"` // Shopee item_id
	SKU       string `gorm:"size:100;index"`
	PromoSKU  string `gorm:"size:100"`
	Name      string `gorm:"size:500"`
	Variation string `gorm:"size:255"`

	// 价格与数量
	Price         decimal.Decimal `gorm:"type:numeric(14,4)"`
	OriginalPrice decimal.Decimal `gorm:"type:numeric(14,4)"`
	Qty           int             `gorm:"default:1"`
	Weight        float64         `gorm:"default:0"`

	// 顺序
	Index int `gorm:"column:index;default:0"`

	// 运单号镜像（冗余自 Logistic，便于导出查询）
	TrackingNo string `gorm:"size:64"`

	// 外键
	TomsOrderID    string `gorm:"type:uuid;index;not null"`
	TomsLogisticID string `gorm:"type:uuid;index;not null"`
	TomsItemID     string `gorm:"type:uuid;not null"` // 合成的商品主数据键

	ImageURL string `gorm:"size:500"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (OrderItem) TableName() string {
	return "toms_order_item"
}

// ==================== 时间转换 ====================

// EpochToTime epoch 秒 -> 时间，0 视为缺省
func EpochToTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

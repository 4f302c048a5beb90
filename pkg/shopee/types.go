package shopee

// ==================== 通用 envelope ====================

// BaseResponse 所有 v2 接口共用的外层结构
// error 非空即视为业务失败，message 为平台给出的说明
type BaseResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error"`
	Message   string `json:"message"`
}

// ==================== 鉴权 ====================

// TokenResponse 换取 / 刷新 Token 的返回
type TokenResponse struct {
	BaseResponse
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpireIn     int64  `json:"expire_in"` // 秒
}

// ==================== 订单列表 ====================

// OrderListQuery get_order_list 查询参数
type OrderListQuery struct {
	TimeRangeField string // create_time / update_time
	TimeFrom       int64  // epoch 秒
	TimeTo         int64
	PageSize       int
	Cursor         string
	OrderStatus    string // 可选
}

// OrderListEntry 订单列表条目
type OrderListEntry struct {
	OrderSN     string `json:"order_sn"`
	OrderStatus string `json:"order_status"`
}

// OrderListResponse get_order_list 返回
type OrderListResponse struct {
	BaseResponse
	Response struct {
		More       bool             `json:"more"`
		NextCursor string           `json:"next_cursor"`
		OrderList  []OrderListEntry `json:"order_list"`
	} `json:"response"`
}

// ==================== 订单详情 ====================

// ImageInfo 商品图片
type ImageInfo struct {
	ImageURL string `json:"image_url"`
}

// OrderItemData 订单行项目
type OrderItemData struct {
	ItemID                 int64     `json:"item_id"`
	ItemName               string    `json:"item_name"`
	ItemSKU                string    `json:"item_sku"`
	ModelID                int64     `json:"model_id"`
	ModelName              string    `json:"model_name"`
	ModelSKU               string    `json:"model_sku"`
	ModelQuantityPurchased int       `json:"model_quantity_purchased"`
	ModelOriginalPrice     float64   `json:"model_original_price"`
	ModelDiscountedPrice   float64   `json:"model_discounted_price"`
	Weight                 float64   `json:"weight"`
	ImageInfo              ImageInfo `json:"image_info"`
}

// PackageData 包裹信息
// 注意：package_number 是包裹标识，不是运单号
type PackageData struct {
	PackageNumber   string `json:"package_number"`
	ShippingCarrier string `json:"shipping_carrier"`
	LogisticsStatus string `json:"logistics_status"`
}

// RecipientAddress 收件人地址
type RecipientAddress struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	FullAddress string `json:"full_address"`
	City        string `json:"city"`
	State       string `json:"state"`
	Zipcode     string `json:"zipcode"`
	Region      string `json:"region"`
}

// OrderDetail 订单详情
type OrderDetail struct {
	OrderSN                 string            `json:"order_sn"`
	OrderStatus             string            `json:"order_status"`
	Region                  string            `json:"region"`
	Currency                string            `json:"currency"`
	CreateTime              int64             `json:"create_time"` // epoch 秒
	UpdateTime              int64             `json:"update_time"`
	PayTime                 int64             `json:"pay_time"`
	ShipByDate              int64             `json:"ship_by_date"`
	DaysToShip              int               `json:"days_to_ship"`
	TotalAmount             float64           `json:"total_amount"`
	BuyerUsername           string            `json:"buyer_username"`
	MessageToSeller         string            `json:"message_to_seller"`
	FulfillmentFlag         string            `json:"fulfillment_flag"`
	CancelBy                string            `json:"cancel_by"`
	CancelReason            string            `json:"cancel_reason"`
	ShippingCarrier         string            `json:"shipping_carrier"`
	CheckoutShippingCarrier string            `json:"checkout_shipping_carrier"`
	ActualShippingFee       float64           `json:"actual_shipping_fee"`
	EstimatedShippingFee    float64           `json:"estimated_shipping_fee"`
	ItemList                []OrderItemData   `json:"item_list"`
	PackageList             []PackageData     `json:"package_list"`
	RecipientAddress        *RecipientAddress `json:"recipient_address"`
}

// OrderDetailResponse get_order_detail 返回
type OrderDetailResponse struct {
	BaseResponse
	Response struct {
		OrderList []OrderDetail `json:"order_list"`
	} `json:"response"`
}

// ==================== 发货列表 ====================

// ShipmentEntry 待发货条目
type ShipmentEntry struct {
	OrderSN       string `json:"order_sn"`
	PackageNumber string `json:"package_number"`
}

// ShipmentListResponse get_shipment_list 返回
type ShipmentListResponse struct {
	BaseResponse
	Response struct {
		More         bool            `json:"more"`
		NextCursor   string          `json:"next_cursor"`
		ShipmentList []ShipmentEntry `json:"shipment_list"`
	} `json:"response"`
}

// ==================== 运单号 ====================

// TrackingNumberResponse get_tracking_number 返回
// 运单号取值优先级: tracking_number > first_mile > last_mile > plp_number
// 承运商名称在不同站点返回字段不统一，全部列出逐个探测
type TrackingNumberResponse struct {
	BaseResponse
	Response struct {
		TrackingNumber          string `json:"tracking_number"`
		PLPNumber               string `json:"plp_number"`
		FirstMileTrackingNumber string `json:"first_mile_tracking_number"`
		LastMileTrackingNumber  string `json:"last_mile_tracking_number"`

		ShippingProviderName string `json:"shipping_provider_name"`
		LogisticName         string `json:"logistic_name"`
		CarrierName          string `json:"carrier_name"`
		ShippingProvider     string `json:"shipping_provider"`
		Carrier              string `json:"carrier"`
		LogisticsChannel     string `json:"logistics_channel"`
	} `json:"response"`
}

// ==================== 物流轨迹 ====================

// TrackingEvent 物流轨迹事件
type TrackingEvent struct {
	UpdateTime      int64  `json:"update_time"` // epoch 秒
	Description     string `json:"description"`
	LogisticsStatus string `json:"logistics_status"`
}

// TrackingInfoResponse get_tracking_info 返回
type TrackingInfoResponse struct {
	BaseResponse
	Response struct {
		OrderSN         string          `json:"order_sn"`
		LogisticsStatus string          `json:"logistics_status"`
		TrackingInfo    []TrackingEvent `json:"tracking_info"`
	} `json:"response"`
}

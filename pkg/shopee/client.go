package shopee

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ==================== 常量 ====================

const (
	// BaseURLProduction 生产环境
	BaseURLProduction = "https://partner.shopeemobile.com"
	// BaseURLSandbox 沙箱环境
	BaseURLSandbox = "https://partner.test-stable.shopeemobile.com"

	apiPrefix = "/api/v2"

	// DefaultPageSize 列表接口单页上限
	DefaultPageSize = 100

	// MaxOrderDetailBatch get_order_detail 单次 order_sn 上限
	MaxOrderDetailBatch = 50
)

// getOrderDetail 固定请求的可选字段
const orderDetailOptionalFields = "item_list,package_list,shipping_carrier,fulfillment_flag," +
	"recipient_address,buyer_username,total_amount,pay_time,actual_shipping_fee,cancel_by,cancel_reason"

// get_tracking_number 固定请求的可选字段
const trackingNumberOptionalFields = "plp_number,first_mile_tracking_number,last_mile_tracking_number"

// ==================== Client ====================

// Config 客户端配置
type Config struct {
	BaseURL    string
	PartnerID  int64
	PartnerKey string
	Timeout    time.Duration // 缺省 20s
}

// Client Shopee Open API v2 客户端
// 签名、公共参数、envelope 解码在 Do 中统一处理，各端点只是薄封装
type Client struct {
	signer *Signer
	http   *resty.Client
}

// now 可注入，测试时固定时间戳
var now = time.Now

// NewClient 创建客户端
func NewClient(cfg *Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		signer: &Signer{PartnerID: cfg.PartnerID, PartnerKey: cfg.PartnerKey},
		http:   httpClient,
	}
}

// Do 发起一次签名请求
// GET: 公共参数 + 业务参数合并进 query
// POST: 公共参数进 query，业务参数作为 JSON body
// out 为响应结构体指针，envelope 错误会先于解码返回
func (c *Client) Do(ctx context.Context, method, path string, params map[string]string, body interface{}, accessToken string, shopID int64, out interface{}) error {
	if !strings.HasPrefix(path, apiPrefix) {
		path = apiPrefix + path
	}

	ts := now().Unix()
	sign := c.signer.Sign(path, ts, accessToken, shopID)

	query := url.Values{}
	query.Set("partner_id", strconv.FormatInt(c.signer.PartnerID, 10))
	query.Set("timestamp", strconv.FormatInt(ts, 10))
	query.Set("sign", sign)
	if accessToken != "" {
		query.Set("access_token", accessToken)
	}
	if shopID > 0 {
		query.Set("shop_id", strconv.FormatInt(shopID, 10))
	}

	req := c.http.R().SetContext(ctx)

	switch method {
	case http.MethodGet:
		for k, v := range params {
			query.Set(k, v)
		}
	case http.MethodPost:
		if body != nil {
			req.SetBody(body)
		}
	default:
		return fmt.Errorf("不支持的请求方法: %s", method)
	}

	req.SetQueryParamsFromValues(query)

	resp, err := req.Execute(method, path)
	if err != nil {
		return &TransportError{Err: err}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return &HTTPError{StatusCode: resp.StatusCode(), Body: resp.String()}
	}

	var envelope BaseResponse
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if envelope.Error != "" {
		return &APIError{Code: envelope.Error, Message: envelope.Message, RequestID: envelope.RequestID}
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("解析响应失败: %w", err)
		}
	}
	return nil
}

// ==================== 鉴权端点 ====================

// GetAccessToken 用授权码换取 Token
func (c *Client) GetAccessToken(ctx context.Context, code string, shopID int64) (*TokenResponse, error) {
	var resp TokenResponse
	body := map[string]interface{}{
		"code":       code,
		"partner_id": c.signer.PartnerID,
		"shop_id":    shopID,
	}
	if err := c.Do(ctx, http.MethodPost, "/auth/token/get", nil, body, "", 0, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefreshAccessToken 刷新 Token
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string, shopID int64) (*TokenResponse, error) {
	var resp TokenResponse
	body := map[string]interface{}{
		"refresh_token": refreshToken,
		"partner_id":    c.signer.PartnerID,
		"shop_id":       shopID,
	}
	if err := c.Do(ctx, http.MethodPost, "/auth/access_token/get", nil, body, "", 0, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ==================== 订单端点 ====================

// GetOrderList 拉取一页订单列表
func (c *Client) GetOrderList(ctx context.Context, accessToken string, shopID int64, q *OrderListQuery) (*OrderListResponse, error) {
	pageSize := q.PageSize
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	params := map[string]string{
		"time_range_field": q.TimeRangeField,
		"time_from":        strconv.FormatInt(q.TimeFrom, 10),
		"time_to":          strconv.FormatInt(q.TimeTo, 10),
		"page_size":        strconv.Itoa(pageSize),
	}
	if q.Cursor != "" {
		params["cursor"] = q.Cursor
	}
	if q.OrderStatus != "" {
		params["order_status"] = q.OrderStatus
	}

	var resp OrderListResponse
	if err := c.Do(ctx, http.MethodGet, "/order/get_order_list", params, nil, accessToken, shopID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListAllOrders 沿 cursor 拉完整个时间窗内的订单列表
func (c *Client) ListAllOrders(ctx context.Context, accessToken string, shopID int64, q *OrderListQuery) ([]OrderListEntry, error) {
	var all []OrderListEntry
	query := *q
	for {
		resp, err := c.GetOrderList(ctx, accessToken, shopID, &query)
		if err != nil {
			return nil, err
		}
		all = append(all, resp.Response.OrderList...)
		if !resp.Response.More {
			return all, nil
		}
		query.Cursor = resp.Response.NextCursor
	}
}

// GetOrderDetail 批量拉取订单详情（order_sn 逗号拼接）
// 超过单次上限时截断到前 MaxOrderDetailBatch 条，分批由调用方负责
func (c *Client) GetOrderDetail(ctx context.Context, accessToken string, shopID int64, orderSNs []string) (*OrderDetailResponse, error) {
	if len(orderSNs) > MaxOrderDetailBatch {
		orderSNs = orderSNs[:MaxOrderDetailBatch]
	}
	params := map[string]string{
		"order_sn_list":            strings.Join(orderSNs, ","),
		"response_optional_fields": orderDetailOptionalFields,
	}

	var resp OrderDetailResponse
	if err := c.Do(ctx, http.MethodGet, "/order/get_order_detail", params, nil, accessToken, shopID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetShipmentList 拉取一页待发货列表
func (c *Client) GetShipmentList(ctx context.Context, accessToken string, shopID int64, cursor string, pageSize int) (*ShipmentListResponse, error) {
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}
	params := map[string]string{
		"page_size": strconv.Itoa(pageSize),
	}
	if cursor != "" {
		params["cursor"] = cursor
	}

	var resp ShipmentListResponse
	if err := c.Do(ctx, http.MethodGet, "/order/get_shipment_list", params, nil, accessToken, shopID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ==================== 物流端点 ====================

// GetTrackingNumber 获取订单运单号
// packageNumber 是包裹选择器，允许为空；它不是运单号
func (c *Client) GetTrackingNumber(ctx context.Context, accessToken string, shopID int64, orderSN, packageNumber string) (*TrackingNumberResponse, error) {
	params := map[string]string{
		"order_sn":                 orderSN,
		"response_optional_fields": trackingNumberOptionalFields,
	}
	if packageNumber != "" {
		params["package_number"] = packageNumber
	}

	var resp TrackingNumberResponse
	if err := c.Do(ctx, http.MethodGet, "/logistics/get_tracking_number", params, nil, accessToken, shopID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetTrackingInfo 按运单号获取物流轨迹
func (c *Client) GetTrackingInfo(ctx context.Context, accessToken string, shopID int64, trackingNumber string) (*TrackingInfoResponse, error) {
	params := map[string]string{
		"tracking_number": trackingNumber,
	}

	var resp TrackingInfoResponse
	if err := c.Do(ctx, http.MethodGet, "/logistics/get_tracking_info", params, nil, accessToken, shopID, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

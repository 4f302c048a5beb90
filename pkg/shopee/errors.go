package shopee

import (
	"errors"
	"fmt"
	"strings"
)

// ==================== 错误分类 ====================

// TransportError 网络层错误（超时 / 连接重置 / DNS）
// 策略：调用方在步骤内做有限重试，预算耗尽后交给队列重试
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("网络层错误: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError 非 2xx 响应
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("Shopee API HTTP %d: %s", e.StatusCode, e.Body)
}

// APIError 平台业务错误（响应 envelope 的 error 字段非空）
type APIError struct {
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("Shopee 业务错误 [%s]: %s (request_id=%s)", e.Code, e.Message, e.RequestID)
}

// IsAuthError 鉴权类错误不可重试，对当前店铺周期是致命的
func (e *APIError) IsAuthError() bool {
	return strings.Contains(e.Code, "auth") || e.Code == "invalid_access_token"
}

// IsTransport 判断是否网络层错误
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAPIError 判断是否平台业务错误
func IsAPIError(err error) bool {
	var ae *APIError
	return errors.As(err, &ae)
}

package service

import "fmt"

// ==================== 错误分类 ====================
// 网络层 / 平台业务错误定义在 pkg/shopee，这里是采集流程自身的错误类别

// TokenError Token 刷新失败或缺少 refresh_token
// 对当前店铺周期是致命的，等下一轮调度或人工介入
type TokenError struct {
	ShopID int64
	Err    error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("店铺 %d Token 错误: %v", e.ShopID, e.Err)
}

func (e *TokenError) Unwrap() error { return e.Err }

// ConfigError 店铺配置缺失（company_id、partner key 等），周期开始时快速失败
type ConfigError struct {
	ShopID int64
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("店铺 %d 配置错误: %s", e.ShopID, e.Reason)
}

// DataError 响应缺少必要字段，告警并跳过该订单，批次继续
type DataError struct {
	OrderSN string
	Reason  string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("订单 %q 数据错误: %s", e.OrderSN, e.Reason)
}

// StorageError 事务写入失败，该订单回滚，批次继续
type StorageError struct {
	OrderSN string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("订单 %q 落库失败: %v", e.OrderSN, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

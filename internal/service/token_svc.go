package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"shopee_dev_v1_202608/internal/model"
	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/pkg/shopee"

	"go.uber.org/zap"
)

// tokenExpiryMargin 过期前多久开始刷新
const tokenExpiryMargin = 300 * time.Second

// ==================== TokenService ====================

// TokenService Token 管理
// 按值接收店铺、按值返回更新后的副本，调用方拿到的永远是可用 Token
type TokenService struct {
	shopRepo repository.ShopRepository
	logger   *zap.SugaredLogger
}

// NewTokenService 创建 Token 服务
func NewTokenService(shopRepo repository.ShopRepository, logger *zap.SugaredLogger) *TokenService {
	return &TokenService{shopRepo: shopRepo, logger: logger}
}

// Ensure 确保店铺持有未过期的 access_token
// 缺失或 300 秒内过期就刷新；刷新失败返回 TokenError，当前周期终止
func (s *TokenService) Ensure(ctx context.Context, client *shopee.Client, shop model.Shop) (model.Shop, error) {
	if !shop.TokenExpiring(tokenExpiryMargin) {
		return shop, nil
	}

	if shop.RefreshToken == "" {
		return shop, &TokenError{ShopID: shop.ShopID, Err: errors.New("缺少 refresh_token，需要重新授权")}
	}

	s.logger.Infof("[Token] 店铺 %d Token 缺失或即将过期，开始刷新", shop.ShopID)

	resp, err := client.RefreshAccessToken(ctx, shop.RefreshToken, shop.ShopID)
	if err != nil {
		// 网络抖动与平台拒绝都终止当前周期，下一轮调度再试
		return shop, &TokenError{ShopID: shop.ShopID, Err: err}
	}
	if resp.AccessToken == "" {
		return shop, &TokenError{ShopID: shop.ShopID, Err: fmt.Errorf("刷新响应缺少 access_token (request_id=%s)", resp.RequestID)}
	}

	expireAt := time.Now().Add(time.Duration(resp.ExpireIn) * time.Second)
	if err := s.shopRepo.UpdateToken(ctx, shop.ID, resp.AccessToken, resp.RefreshToken, expireAt); err != nil {
		return shop, &TokenError{ShopID: shop.ShopID, Err: fmt.Errorf("Token 入库失败: %w", err)}
	}

	shop.AccessToken = resp.AccessToken
	shop.RefreshToken = resp.RefreshToken
	shop.TokenExpireAt = &expireAt

	s.logger.Infof("[Token] 店铺 %d Token 刷新成功，有效期至 %s", shop.ShopID, expireAt.Format(time.RFC3339))
	return shop, nil
}

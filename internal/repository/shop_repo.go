package repository

import (
	"context"
	"time"

	"shopee_dev_v1_202608/internal/model"

	"gorm.io/gorm"
)

// ==================== ShopRepository 店铺仓库 ====================

// ShopRepository 店铺仓库接口
type ShopRepository interface {
	Create(ctx context.Context, shop *model.Shop) error
	GetByID(ctx context.Context, id int64) (*model.Shop, error)
	GetByShopID(ctx context.Context, shopID int64) (*model.Shop, error)
	GetWithCompany(ctx context.Context, id int64) (*model.Shop, error)
	ListActive(ctx context.Context, sandbox bool) ([]model.Shop, error)
	UpdateToken(ctx context.Context, id int64, accessToken, refreshToken string, expireAt time.Time) error
}

type shopRepository struct {
	db *gorm.DB
}

// NewShopRepository 创建店铺仓库
func NewShopRepository(db *gorm.DB) ShopRepository {
	return &shopRepository{db: db}
}

func (r *shopRepository) Create(ctx context.Context, shop *model.Shop) error {
	return r.db.WithContext(ctx).Create(shop).Error
}

func (r *shopRepository) GetByID(ctx context.Context, id int64) (*model.Shop, error) {
	var shop model.Shop
	err := r.db.WithContext(ctx).First(&shop, id).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *shopRepository) GetByShopID(ctx context.Context, shopID int64) (*model.Shop, error) {
	var shop model.Shop
	err := r.db.WithContext(ctx).Where("shop_id = ?", shopID).First(&shop).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *shopRepository) GetWithCompany(ctx context.Context, id int64) (*model.Shop, error) {
	var shop model.Shop
	err := r.db.WithContext(ctx).Preload("Company").First(&shop, id).Error
	if err != nil {
		return nil, err
	}
	return &shop, nil
}

func (r *shopRepository) ListActive(ctx context.Context, sandbox bool) ([]model.Shop, error) {
	var shops []model.Shop
	err := r.db.WithContext(ctx).
		Preload("Company").
		Where("active = ?", true).
		Where("is_sandbox = ?", sandbox).
		Order("id ASC").
		Find(&shops).Error
	return shops, err
}

// UpdateToken 只更新 Token 相关字段，避免覆盖并发修改的其他列
func (r *shopRepository) UpdateToken(ctx context.Context, id int64, accessToken, refreshToken string, expireAt time.Time) error {
	return r.db.WithContext(ctx).Model(&model.Shop{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"access_token":    accessToken,
			"refresh_token":   refreshToken,
			"token_expire_at": expireAt,
			"updated_at":      time.Now(),
		}).Error
}

package model

import (
	"time"

	"gorm.io/gorm"
)

// ==================== Company 公司 ====================

// Company 公司（租户）
// 沙箱选择以本表的 is_sandbox 为准，进程级旗标只用于调度过滤
type Company struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:255"`

	IsSandbox bool `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Company) TableName() string {
	return "companies"
}

// ==================== Shop 店铺 ====================

// Shop 店铺绑定
// (shop_id, partner_id) 唯一标识一个店铺，软删后允许重建
type Shop struct {
	ID int64 `gorm:"primaryKey;autoIncrement"`

	// 平台身份
	ShopID     int64  `gorm:"uniqueIndex:idx_shop_partner;not null"` // Shopee 平台 shop_id
	PartnerID  int64  `gorm:"uniqueIndex:idx_shop_partner;not null"` // 开发者 partner_id
	PartnerKey string `gorm:"size:255"`                              // HMAC 签名密钥

	// API Token
	AccessToken   string     `gorm:"size:512"`
	RefreshToken  string     `gorm:"size:512"`
	TokenExpireAt *time.Time // Token 具体的过期时间点

	// 采集配置
	Active          bool `gorm:"default:true;index"`
	OrderPollWindow int  `gorm:"default:0"` // 分钟，0 表示用默认窗口
	IsSandbox       bool `gorm:"default:false"`

	// 归属公司
	CompanyID int64    `gorm:"index"`
	Company   *Company `gorm:"foreignKey:CompanyID"`

	// 审计
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

func (Shop) TableName() string {
	return "shops"
}

// TokenExpiring 检查 Token 是否缺失或即将过期
func (s *Shop) TokenExpiring(margin time.Duration) bool {
	if s.AccessToken == "" || s.TokenExpireAt == nil {
		return true
	}
	return time.Until(*s.TokenExpireAt) < margin
}

// SandboxMode 返回该店铺实际生效的沙箱模式
// 公司列优先于进程级旗标，两者不做合并
func (s *Shop) SandboxMode(processFlag bool) bool {
	if s.Company != nil {
		return s.Company.IsSandbox
	}
	return processFlag
}

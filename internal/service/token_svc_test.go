package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopee_dev_v1_202608/internal/model"
	"shopee_dev_v1_202608/internal/repository"
	"shopee_dev_v1_202608/pkg/shopee"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 测试辅助 ====================

func setupServiceTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&model.Company{}, &model.Shop{},
		&model.Order{}, &model.Logistic{}, &model.LogisticHistory{}, &model.OrderItem{},
	); err != nil {
		t.Fatalf("自动建表失败: %v", err)
	}
	return db
}

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// ==================== 单元测试 ====================

func TestTokenService_SkipWhenFresh(t *testing.T) {
	db := setupServiceTestDB(t)
	svc := NewTokenService(repository.NewShopRepository(db), testLogger())

	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	expireAt := time.Now().Add(2 * time.Hour)
	shop := model.Shop{ID: 1, ShopID: 900001, AccessToken: "fresh-at", RefreshToken: "rt", TokenExpireAt: &expireAt}

	client := shopee.NewClient(&shopee.Config{BaseURL: server.URL, PartnerID: 1, PartnerKey: "k"})
	got, err := svc.Ensure(context.Background(), client, shop)
	if err != nil {
		t.Fatalf("不应报错: %v", err)
	}
	if called {
		t.Errorf("Token 未到期不应发起刷新请求")
	}
	if got.AccessToken != "fresh-at" {
		t.Errorf("access_token 不应改变: %s", got.AccessToken)
	}
}

func TestTokenService_MissingRefreshToken(t *testing.T) {
	db := setupServiceTestDB(t)
	svc := NewTokenService(repository.NewShopRepository(db), testLogger())

	shop := model.Shop{ID: 1, ShopID: 900001} // 无任何 Token
	client := shopee.NewClient(&shopee.Config{BaseURL: "http://127.0.0.1:1", PartnerID: 1, PartnerKey: "k"})

	_, err := svc.Ensure(context.Background(), client, shop)
	var tokenErr *TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("错误类型 = %T, want *TokenError", err)
	}
	if tokenErr.ShopID != 900001 {
		t.Errorf("shop_id = %d, want 900001", tokenErr.ShopID)
	}
}

func TestTokenService_RefreshAndPersist(t *testing.T) {
	db := setupServiceTestDB(t)
	shopRepo := repository.NewShopRepository(db)
	svc := NewTokenService(shopRepo, testLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"request_id":"t1","error":"","message":"","access_token":"new-at","refresh_token":"new-rt","expire_in":14400}`)
	}))
	defer server.Close()

	expired := time.Now().Add(-time.Minute)
	shop := model.Shop{ID: 1, ShopID: 900001, PartnerID: 1,
		AccessToken: "old-at", RefreshToken: "old-rt", TokenExpireAt: &expired}
	if err := db.Create(&shop).Error; err != nil {
		t.Fatalf("写入店铺失败: %v", err)
	}

	client := shopee.NewClient(&shopee.Config{BaseURL: server.URL, PartnerID: 1, PartnerKey: "k"})
	got, err := svc.Ensure(context.Background(), client, shop)
	if err != nil {
		t.Fatalf("刷新失败: %v", err)
	}

	if got.AccessToken != "new-at" || got.RefreshToken != "new-rt" {
		t.Errorf("返回副本未更新: %+v", got)
	}
	if got.TokenExpireAt == nil || time.Until(*got.TokenExpireAt) < 3*time.Hour {
		t.Errorf("过期时间未按 expire_in 推算")
	}

	// 新 Token 必须已落库
	stored, err := shopRepo.GetByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("查询店铺失败: %v", err)
	}
	if stored.AccessToken != "new-at" || stored.RefreshToken != "new-rt" {
		t.Errorf("Token 未持久化: %+v", stored)
	}
}

func TestTokenService_RefreshFailure(t *testing.T) {
	db := setupServiceTestDB(t)
	svc := NewTokenService(repository.NewShopRepository(db), testLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"request_id":"t2","error":"error_auth","message":"refresh token expired"}`)
	}))
	defer server.Close()

	shop := model.Shop{ID: 1, ShopID: 900001, RefreshToken: "dead-rt"}
	client := shopee.NewClient(&shopee.Config{BaseURL: server.URL, PartnerID: 1, PartnerKey: "k"})

	_, err := svc.Ensure(context.Background(), client, shop)
	var tokenErr *TokenError
	if !errors.As(err, &tokenErr) {
		t.Fatalf("错误类型 = %T, want *TokenError", err)
	}
}

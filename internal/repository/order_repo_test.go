package repository

import (
	"context"
	"testing"
	"time"

	"shopee_dev_v1_202608/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ==================== 测试辅助 ====================

func setupOrderTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("连接测试数据库失败: %v", err)
	}

	if err := db.AutoMigrate(
		&model.Order{}, &model.Logistic{}, &model.LogisticHistory{}, &model.OrderItem{},
	); err != nil {
		t.Fatalf("自动建表失败: %v", err)
	}
	return db
}

func sampleRecord(sn, status string) *OrderRecord {
	orderTime := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	return &OrderRecord{
		OrderSN:         sn,
		Status:          status,
		Country:         "SG",
		Currency:        "SGD",
		OrderTime:       &orderTime,
		DayToShip:       3,
		TotalAmount:     decimal.NewFromFloat(25.90),
		FulfillmentFlag: model.FulfillmentBySeller,
		Items: []ItemRecord{
			{ItemID: 1001, SKU: "SKU-A", Name: "商品A", Qty: 2, Price: decimal.NewFromFloat(10.00)},
			{ItemID: 1002, SKU: "SKU-B", Name: "商品B", Qty: 1, Price: decimal.NewFromFloat(5.90)},
		},
	}
}

// ==================== 单元测试 ====================

func TestOrderRepository_UpsertCreatesFourTables(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1001", model.OrderStatusReadyToShip)
	orderID, err := repo.Upsert(ctx, rec, 1, 900001)
	if err != nil {
		t.Fatalf("upsert 失败: %v", err)
	}
	if orderID == "" {
		t.Fatal("应当返回订单主键")
	}

	order, err := repo.GetByOrderNum(ctx, "SN-1001")
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if order.Status != model.OrderStatusReadyToShip {
		t.Errorf("status = %s, want READY_TO_SHIP", order.Status)
	}
	if order.ActionStatus != model.ActionStatusReadyToPrint {
		t.Errorf("action_status = %s, want READY_TO_PRINT", order.ActionStatus)
	}
	if order.Logistic == nil {
		t.Fatal("无物流数据也应当落合成物流行")
	}
	if len(order.Items) != 2 {
		t.Fatalf("订单项 = %d, want 2", len(order.Items))
	}
	if order.Items[0].TomsLogisticID != order.Logistic.ID {
		t.Errorf("订单项应当指向物流行")
	}
}

func TestOrderRepository_UpsertIdempotent(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1002", model.OrderStatusUnpaid)
	firstID, err := repo.Upsert(ctx, rec, 1, 900001)
	if err != nil {
		t.Fatalf("首次 upsert 失败: %v", err)
	}

	// 同一订单再来一次，主键不变、不产生重复行
	rec2 := sampleRecord("SN-1002", model.OrderStatusReadyToShip)
	secondID, err := repo.Upsert(ctx, rec2, 1, 900001)
	if err != nil {
		t.Fatalf("二次 upsert 失败: %v", err)
	}
	if firstID != secondID {
		t.Errorf("订单主键变化: %s -> %s", firstID, secondID)
	}

	var orderCount, logisticCount int64
	db.Model(&model.Order{}).Count(&orderCount)
	db.Model(&model.Logistic{}).Count(&logisticCount)
	if orderCount != 1 || logisticCount != 1 {
		t.Errorf("orders = %d, logistics = %d, want 1/1", orderCount, logisticCount)
	}

	order, _ := repo.GetByOrderNum(ctx, "SN-1002")
	if order.Status != model.OrderStatusReadyToShip {
		t.Errorf("状态未推进: %s", order.Status)
	}
}

func TestOrderRepository_ItemsRewritten(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1003", model.OrderStatusUnpaid)
	if _, err := repo.Upsert(ctx, rec, 1, 900001); err != nil {
		t.Fatalf("upsert 失败: %v", err)
	}

	// 第二次详情里只剩一个商品，整组重写
	rec2 := sampleRecord("SN-1003", model.OrderStatusReadyToShip)
	rec2.Items = rec2.Items[:1]
	if _, err := repo.Upsert(ctx, rec2, 1, 900001); err != nil {
		t.Fatalf("二次 upsert 失败: %v", err)
	}

	order, _ := repo.GetByOrderNum(ctx, "SN-1003")
	if len(order.Items) != 1 {
		t.Fatalf("订单项 = %d, want 1", len(order.Items))
	}
	if order.Items[0].Index != 0 {
		t.Errorf("index = %d, want 0", order.Items[0].Index)
	}
}

func TestOrderRepository_CarrierNotOverwrittenByEmpty(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1004", model.OrderStatusProcessed)
	rec.CarrierName = "Shopee Xpress"
	if _, err := repo.Upsert(ctx, rec, 1, 900001); err != nil {
		t.Fatalf("upsert 失败: %v", err)
	}

	// 后续详情承运商为空，已有值不能被抹掉
	rec2 := sampleRecord("SN-1004", model.OrderStatusProcessed)
	rec2.CarrierName = ""
	if _, err := repo.Upsert(ctx, rec2, 1, 900001); err != nil {
		t.Fatalf("二次 upsert 失败: %v", err)
	}

	order, _ := repo.GetByOrderNum(ctx, "SN-1004")
	if order.Logistic.Name != "Shopee Xpress" {
		t.Errorf("承运商被空值覆盖: %q", order.Logistic.Name)
	}
}

func TestOrderRepository_UpdateTracking(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1005", model.OrderStatusProcessed)
	orderID, err := repo.Upsert(ctx, rec, 1, 900001)
	if err != nil {
		t.Fatalf("upsert 失败: %v", err)
	}

	if err := repo.UpdateTracking(ctx, orderID, "SPX123456789", "Shopee Xpress"); err != nil {
		t.Fatalf("运单号写入失败: %v", err)
	}

	order, _ := repo.GetByOrderNum(ctx, "SN-1005")
	if order.Logistic.TrackingNo != "SPX123456789" {
		t.Errorf("tracking_no = %s, want SPX123456789", order.Logistic.TrackingNo)
	}
	// 未发货订单拿到运单号后推进到已发货
	if order.Status != model.OrderStatusShipped {
		t.Errorf("status = %s, want SHIPPED", order.Status)
	}
	if order.ActionStatus != model.ActionStatusExported {
		t.Errorf("action_status = %s, want EXPORTED", order.ActionStatus)
	}
	// 订单项镜像同步
	for _, item := range order.Items {
		if item.TrackingNo != "SPX123456789" {
			t.Errorf("订单项运单号未同步: %q", item.TrackingNo)
		}
	}
}

func TestOrderRepository_UpdateTrackingKeepsCompleted(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1006", model.OrderStatusCompleted)
	orderID, err := repo.Upsert(ctx, rec, 1, 900001)
	if err != nil {
		t.Fatalf("upsert 失败: %v", err)
	}

	if err := repo.UpdateTracking(ctx, orderID, "SPX000", "Carrier"); err != nil {
		t.Fatalf("运单号写入失败: %v", err)
	}

	order, _ := repo.GetByOrderNum(ctx, "SN-1006")
	// 已完成订单不能回退到已发货
	if order.Status != model.OrderStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", order.Status)
	}
}

func TestOrderRepository_HistoriesDeduped(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	rec := sampleRecord("SN-1007", model.OrderStatusShipped)
	orderID, err := repo.Upsert(ctx, rec, 1, 900001)
	if err != nil {
		t.Fatalf("upsert 失败: %v", err)
	}

	eventTime := time.Date(2026, 8, 2, 8, 0, 0, 0, time.UTC)
	histories := []HistoryRecord{
		{TrackingNo: "SPX1", EventTime: &eventTime, Location: "仓库A", Status: "PICKED_UP"},
	}
	if err := repo.AppendHistories(ctx, orderID, histories); err != nil {
		t.Fatalf("轨迹写入失败: %v", err)
	}

	// 同一事件再次观察，只更新 location，不新增行
	histories[0].Location = "仓库B"
	if err := repo.AppendHistories(ctx, orderID, histories); err != nil {
		t.Fatalf("轨迹二次写入失败: %v", err)
	}

	var count int64
	db.Model(&model.LogisticHistory{}).Count(&count)
	if count != 1 {
		t.Fatalf("轨迹行数 = %d, want 1", count)
	}

	var h model.LogisticHistory
	db.First(&h)
	if h.Location != "仓库B" {
		t.Errorf("location = %s, want 仓库B", h.Location)
	}
}

func TestOrderRepository_ReconcileQueries(t *testing.T) {
	db := setupOrderTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()

	// 有运单号缺承运商
	rec1 := sampleRecord("SN-2001", model.OrderStatusShipped)
	id1, _ := repo.Upsert(ctx, rec1, 1, 900001)
	repo.UpdateTracking(ctx, id1, "SPX-A", "")

	// 有承运商缺运单号
	rec2 := sampleRecord("SN-2002", model.OrderStatusProcessed)
	rec2.CarrierName = "J&T Express"
	repo.Upsert(ctx, rec2, 1, 900001)

	// 待对账候选：PROCESSED / SHIPPED / COMPLETED
	rec3 := sampleRecord("SN-2003", model.OrderStatusUnpaid)
	repo.Upsert(ctx, rec3, 1, 900001)

	missingCarrier, err := repo.ListMissingCarrier(ctx, 900001, 10)
	if err != nil {
		t.Fatalf("缺承运商查询失败: %v", err)
	}
	if len(missingCarrier) != 1 || missingCarrier[0].OrderNum != "SN-2001" {
		t.Errorf("缺承运商结果不符: %+v", missingCarrier)
	}

	missingTracking, err := repo.ListMissingTracking(ctx, 900001, 10)
	if err != nil {
		t.Fatalf("缺运单号查询失败: %v", err)
	}
	if len(missingTracking) != 1 || missingTracking[0].OrderNum != "SN-2002" {
		t.Errorf("缺运单号结果不符: %+v", missingTracking)
	}

	candidates, err := repo.ListTrackingCandidates(ctx, 900001, nil, 0)
	if err != nil {
		t.Fatalf("对账候选查询失败: %v", err)
	}
	// UNPAID 不在候选里
	for _, o := range candidates {
		if o.OrderNum == "SN-2003" {
			t.Errorf("UNPAID 订单不应进入对账候选")
		}
	}
	if len(candidates) != 2 {
		t.Errorf("候选数 = %d, want 2", len(candidates))
	}
}

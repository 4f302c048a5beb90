package model

import (
	"testing"
	"time"
)

// ==================== 单元测试 ====================

func TestMapActionStatus(t *testing.T) {
	cases := []struct {
		status    string
		want      string
		wantKnown bool
	}{
		{OrderStatusReadyToShip, ActionStatusReadyToPrint, true},
		{OrderStatusShipped, ActionStatusExported, true},
		{OrderStatusCancelled, ActionStatusRequestCancel, true},
		{OrderStatusUnpaid, ActionStatusOrder, true},
		{OrderStatusProcessed, ActionStatusOrder, true},
		{OrderStatusCompleted, ActionStatusOrder, true},
		{OrderStatusInCancel, ActionStatusOrder, true},
		{"RETRY_SHIP", ActionStatusOrder, false},
		{"", ActionStatusOrder, false},
	}

	for _, c := range cases {
		got, known := MapActionStatus(c.status)
		if got != c.want || known != c.wantKnown {
			t.Errorf("MapActionStatus(%q) = (%s, %v), want (%s, %v)",
				c.status, got, known, c.want, c.wantKnown)
		}
	}
}

func TestMapFulfillmentFlag(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"fulfilled_by_cb_seller", FulfillmentBySeller},
		{"fulfilled_by_local_seller", FulfillmentBySeller},
		{"fulfilled_by_shopee", FulfillmentByShopee},
		{"", FulfillmentBySeller},
		{"unknown_value", FulfillmentBySeller},
	}
	for _, c := range cases {
		if got := MapFulfillmentFlag(c.raw); got != c.want {
			t.Errorf("MapFulfillmentFlag(%q) = %s, want %s", c.raw, got, c.want)
		}
	}
}

func TestEpochToTime(t *testing.T) {
	if EpochToTime(0) != nil {
		t.Errorf("epoch 0 应当返回 nil")
	}
	if EpochToTime(-1) != nil {
		t.Errorf("负 epoch 应当返回 nil")
	}

	got := EpochToTime(1700000000)
	if got == nil {
		t.Fatal("正常 epoch 不应返回 nil")
	}
	if got.Location() != time.UTC {
		t.Errorf("时区 = %v, want UTC", got.Location())
	}
	if got.Unix() != 1700000000 {
		t.Errorf("Unix = %d, want 1700000000", got.Unix())
	}
}

func TestOrder_TrackingEligible(t *testing.T) {
	eligible := []string{OrderStatusProcessed, OrderStatusShipped, OrderStatusCompleted}
	for _, st := range eligible {
		o := Order{Status: st}
		if !o.TrackingEligible() {
			t.Errorf("状态 %s 应当可对账运单号", st)
		}
	}

	notEligible := []string{OrderStatusUnpaid, OrderStatusReadyToShip, OrderStatusInCancel, OrderStatusCancelled}
	for _, st := range notEligible {
		o := Order{Status: st}
		if o.TrackingEligible() {
			t.Errorf("状态 %s 不应对账运单号", st)
		}
	}
}

func TestShop_TokenExpiring(t *testing.T) {
	future := time.Now().Add(time.Hour)
	soon := time.Now().Add(time.Minute)
	margin := 300 * time.Second

	cases := []struct {
		name string
		shop Shop
		want bool
	}{
		{"无 Token", Shop{}, true},
		{"无过期时间", Shop{AccessToken: "at"}, true},
		{"远未过期", Shop{AccessToken: "at", TokenExpireAt: &future}, false},
		{"即将过期", Shop{AccessToken: "at", TokenExpireAt: &soon}, true},
	}
	for _, c := range cases {
		if got := c.shop.TokenExpiring(margin); got != c.want {
			t.Errorf("%s: TokenExpiring = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestShop_SandboxMode(t *testing.T) {
	// 公司列优先于进程旗标
	shop := Shop{Company: &Company{IsSandbox: true}}
	if !shop.SandboxMode(false) {
		t.Errorf("公司沙箱列为真时应当进沙箱")
	}

	shop = Shop{Company: &Company{IsSandbox: false}}
	if shop.SandboxMode(true) {
		t.Errorf("公司列为假时进程旗标不应生效")
	}

	// 无公司时退回进程旗标
	shop = Shop{}
	if !shop.SandboxMode(true) {
		t.Errorf("无公司时应当跟随进程旗标")
	}
}

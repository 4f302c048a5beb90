package config

import (
	"strings"
	"testing"
)

// ==================== 单元测试 ====================

func TestConfig_DSNWithSchema(t *testing.T) {
	cfg := Load()
	if strings.Contains(cfg.DSN(), "search_path") {
		t.Errorf("未配置 schema 时 DSN 不应携带 search_path: %s", cfg.DSN())
	}

	t.Setenv("DB_SCHEMA", "shopee")
	cfg = Load()
	if !strings.Contains(cfg.DSN(), "search_path=shopee") {
		t.Errorf("DSN 未携带 search_path: %s", cfg.DSN())
	}
}

func TestConfig_WorkersPrecedence(t *testing.T) {
	t.Setenv("JOB_CONCURRENCY", "2")
	cfg := Load()
	if cfg.Workers() != 2 {
		t.Errorf("未配置 CLUSTER_WORKERS 时应当回落到 JOB_CONCURRENCY: %d", cfg.Workers())
	}

	t.Setenv("CLUSTER_WORKERS", "8")
	cfg = Load()
	if cfg.Workers() != 8 {
		t.Errorf("CLUSTER_WORKERS 应当优先: %d", cfg.Workers())
	}
}

func TestConfig_ShopeeAPIURL(t *testing.T) {
	cfg := Load()
	if cfg.ShopeeAPIURL != "" {
		t.Errorf("默认网关覆盖应当为空: %s", cfg.ShopeeAPIURL)
	}

	t.Setenv("SHOPEE_API_URL", "https://gateway.internal:8443")
	cfg = Load()
	if cfg.ShopeeAPIURL != "https://gateway.internal:8443" {
		t.Errorf("SHOPEE_API_URL 未生效: %s", cfg.ShopeeAPIURL)
	}
}

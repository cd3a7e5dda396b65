package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/zoeyai/belottracker/pkg/store"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv("BELOT_LOG_LEVEL", "debug")
	t.Setenv("BELOT_STORE_DRIVER", "postgres")
	t.Setenv("BELOT_STORE_DSN", "postgres://u:p@localhost/belot?sslmode=disable")
	t.Setenv("BELOT_FEED_ENABLED", "true")
	t.Setenv("BELOT_FEED_URL", "feed.example.com")
	t.Setenv("BELOT_OCR_ENABLED", "0")

	cfg := Default()
	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv 失败: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level 应被覆盖, 实际 %s", cfg.Log.Level)
	}
	if cfg.Store.Driver != store.DriverPostgres || cfg.Store.DSN == "" {
		t.Errorf("Store 应被覆盖: %+v", cfg.Store)
	}
	if !cfg.Feed.Enabled || cfg.Feed.ServerURL != "feed.example.com" {
		t.Errorf("Feed 应被覆盖: %+v", cfg.Feed)
	}
	if cfg.OCR.Enabled {
		t.Error("OCR 应被关闭")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("覆盖后的配置应合法: %v", err)
	}
}

func TestApplyEnvInvalidBool(t *testing.T) {
	t.Setenv("BELOT_API_ENABLED", "maybe")

	cfg := Default()
	if err := ApplyEnv(cfg); err == nil {
		t.Error("非法布尔值应返回错误")
	}
	if !cfg.API.Enabled {
		t.Error("非法值不应修改配置")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".env")
	data := "BELOT_TEST_DOTENV_A=from-file\nBELOT_TEST_DOTENV_B=from-file\n"
	if err := os.WriteFile(file, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("BELOT_TEST_DOTENV_B", "from-env")
	t.Cleanup(func() { os.Unsetenv("BELOT_TEST_DOTENV_A") })

	if err := LoadDotEnv(file, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv 失败: %v", err)
	}
	if v := os.Getenv("BELOT_TEST_DOTENV_A"); v != "from-file" {
		t.Errorf("应从文件加载, 实际 %q", v)
	}
	if v := os.Getenv("BELOT_TEST_DOTENV_B"); v != "from-env" {
		t.Errorf("已存在的环境变量不应被覆盖, 实际 %q", v)
	}
}

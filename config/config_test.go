package config_test

import (
	"os"
	"testing"

	"github.com/sescanella/spoolflow/config"
)

func TestLoadConfigFromEnv(t *testing.T) {
	os.Setenv("SHEETS_STORE_ID", "shop-floor-2026")
	os.Setenv("LOCK_BACKEND_URL", "redis://localhost:6379")
	os.Setenv("ENV", "test")
	defer func() {
		os.Unsetenv("SHEETS_STORE_ID")
		os.Unsetenv("LOCK_BACKEND_URL")
		os.Unsetenv("ENV")
	}()

	cfg := config.Load()
	if cfg.SheetsStoreID != "shop-floor-2026" {
		t.Fatalf("expected SHEETS_STORE_ID to be loaded, got %s", cfg.SheetsStoreID)
	}
	if cfg.LockBackendURL != "redis://localhost:6379" {
		t.Fatalf("expected LOCK_BACKEND_URL to be loaded, got %s", cfg.LockBackendURL)
	}
	if cfg.Env != "test" {
		t.Fatalf("expected ENV=test, got %s", cfg.Env)
	}
}

func TestConfigDefaults(t *testing.T) {
	os.Unsetenv("RATE_MONITOR_TARGET_RPM")
	os.Unsetenv("AUDIT_BATCH_MAX_ROWS")

	cfg := config.Load()
	if cfg.RateMonitorTargetRPM != 30 {
		t.Fatalf("expected default target RPM 30, got %d", cfg.RateMonitorTargetRPM)
	}
	if cfg.AuditBatchMaxRows != 900 {
		t.Fatalf("expected default audit batch max rows 900, got %d", cfg.AuditBatchMaxRows)
	}
}

package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must be valid: %v", err)
	}
	if cfg.App.HTTPAddr != ":8080" {
		t.Errorf("unexpected default http addr: %s", cfg.App.HTTPAddr)
	}
	if cfg.Checkout.LowStockThreshold != 10 {
		t.Errorf("unexpected default low stock threshold: %d", cfg.Checkout.LowStockThreshold)
	}
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load without file: %v", err)
	}
	if cfg.Outbox.PollInterval != time.Second {
		t.Errorf("unexpected poll interval: %s", cfg.Outbox.PollInterval)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("CHECKOUT_APP__HTTP_ADDR", ":18080")
	t.Setenv("CHECKOUT_POSTGRES__DSN", "postgres://localhost/checkout")
	t.Setenv("CHECKOUT_KAFKA__BROKERS", "k1:9092, k2:9092")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":18080" {
		t.Errorf("env http addr not applied: %s", cfg.App.HTTPAddr)
	}
	if cfg.Postgres.DSN != "postgres://localhost/checkout" {
		t.Errorf("env dsn not applied: %s", cfg.Postgres.DSN)
	}
	brokers := cfg.KafkaBrokers()
	if len(brokers) != 2 || brokers[0] != "k1:9092" || brokers[1] != "k2:9092" {
		t.Errorf("unexpected brokers: %v", brokers)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
app:
  http_addr: ":7070"
  log_level: debug
checkout:
  low_stock_threshold: 25
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.App.HTTPAddr != ":7070" {
		t.Errorf("file http addr not applied: %s", cfg.App.HTTPAddr)
	}
	if cfg.Checkout.LowStockThreshold != 25 {
		t.Errorf("file threshold not applied: %d", cfg.Checkout.LowStockThreshold)
	}
	// Неуказанные поля остаются дефолтными.
	if cfg.App.MetricsAddr != ":9090" {
		t.Errorf("default metrics addr lost: %s", cfg.App.MetricsAddr)
	}
}

func TestLoad_MissingFileFails(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidate_Failures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.HTTPAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty http addr")
	}

	cfg = DefaultConfig()
	cfg.Security.JWTSecret = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty jwt secret")
	}

	cfg = DefaultConfig()
	cfg.Checkout.LowStockThreshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero threshold")
	}
}

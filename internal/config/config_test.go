package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WARDEX_CONFIG", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/wardex")
	t.Setenv("AUTH_JWT_SECRET", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.IngestAuthMode != "device-id" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.IngestMaxSkew != 300*time.Second || cfg.HubTimeout != 10*time.Second {
		t.Fatalf("unexpected durations: %+v", cfg)
	}
	if cfg.HistoryDefaultLimit != 200 || cfg.HistoryMaxLimit != 1000 {
		t.Fatalf("unexpected history limits: %+v", cfg)
	}
}

func TestLoadFallsBackToLegacyKeys(t *testing.T) {
	t.Setenv("WARDEX_CONFIG", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_DSN", "postgres://legacy/wardex")
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "legacy")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://legacy/wardex" || cfg.JWTSecret != "legacy" {
		t.Fatalf("legacy keys not honoured: %+v", cfg)
	}
}

func TestLoadRequiresSecrets(t *testing.T) {
	setRequired(t)
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without jwt secret")
	}

	setRequired(t)
	t.Setenv("INGEST_AUTH_MODE", "hmac")
	t.Setenv("INGEST_HMAC_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for hmac mode without secret")
	}

	t.Setenv("INGEST_AUTH_MODE", "magic")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown ingest mode")
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	setRequired(t)
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	path := filepath.Join(t.TempDir(), "wardex.yaml")
	data := []byte(`
http_addr: ":7000"
hub_timeout: 3s
history_default_limit: 5000
history_max_limit: 500
alarm_webhook_url: https://hooks.example/alarm
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("WARDEX_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("yaml should override env, got %q", cfg.HTTPAddr)
	}
	if cfg.HubTimeout != 3*time.Second {
		t.Fatalf("expected 3s hub timeout, got %s", cfg.HubTimeout)
	}
	if cfg.HistoryMaxLimit != 500 || cfg.HistoryDefaultLimit != 200 {
		t.Fatalf("unexpected history limits: %d/%d", cfg.HistoryDefaultLimit, cfg.HistoryMaxLimit)
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.AlarmWebhookURL != "https://hooks.example/alarm" {
		t.Fatalf("unexpected webhook: %q", cfg.AlarmWebhookURL)
	}
}

func TestLoadMissingOverlayFile(t *testing.T) {
	setRequired(t)
	t.Setenv("WARDEX_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing overlay")
	}
}

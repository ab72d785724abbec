package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "3000" {
		t.Fatalf("expected default port 3000, got %q", cfg.Port)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected sqlite driver, got %q", cfg.Database.Driver)
	}
	if cfg.Retention.MeasurementDays != 365 || cfg.Retention.EventDays != 90 {
		t.Fatalf("unexpected retention: %+v", cfg.Retention)
	}
	if cfg.OnlineWindow != 2*time.Minute || cfg.ActiveWindow != 10*time.Minute {
		t.Fatalf("unexpected windows: online=%s active=%s", cfg.OnlineWindow, cfg.ActiveWindow)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
	if cfg.API.DeviceIDPrefix != "rosaiq:" {
		t.Fatalf("expected rosaiq: device id prefix, got %q", cfg.API.DeviceIDPrefix)
	}
	if cfg.DeviceDefaults != Defaults() {
		t.Fatalf("device defaults differ: %+v", cfg.DeviceDefaults)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("PORT", "8080")
	t.Setenv("DEVICE_DEFAULT_LED_BAR_MODE", "co2")
	t.Setenv("RETENTION_EVENT_DAYS", "30")
	t.Setenv("ONLINE_WINDOW", "90s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.DeviceDefaults.LEDBarMode != "co2" {
		t.Fatalf("expected led bar mode co2, got %q", cfg.DeviceDefaults.LEDBarMode)
	}
	if cfg.Retention.EventDays != 30 {
		t.Fatalf("expected 30 event days, got %d", cfg.Retention.EventDays)
	}
	if cfg.OnlineWindow != 90*time.Second {
		t.Fatalf("expected 90s online window, got %s", cfg.OnlineWindow)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected cors origins: %v", cfg.CORSOrigins)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	path := filepath.Join(t.TempDir(), "rosaiq.yaml")
	if err := os.WriteFile(path, []byte("FIRMWARE_DIR: /srv/firmware\nDEVICE_ID_PREFIX: \"lab:\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Firmware.Dir != "/srv/firmware" {
		t.Fatalf("expected firmware dir from file, got %q", cfg.Firmware.Dir)
	}
	if cfg.API.DeviceIDPrefix != "lab:" {
		t.Fatalf("expected prefix from file, got %q", cfg.API.DeviceIDPrefix)
	}
}

func TestLoadRejectsAuthWithoutKey(t *testing.T) {
	t.Setenv("SESSION_SECRET", "test-secret")
	t.Setenv("ENABLE_AUTH", "true")
	t.Setenv("API_KEY", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error when auth is enabled without a key")
	}
}

func TestLoadRequiresSessionSecret(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error without session secret")
	}
}

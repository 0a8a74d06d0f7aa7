package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// writeTempConfig creates a minimal configuration file required for LoadConfig
// and returns its path.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "cfg-*.yml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close temp file: %v", err)
	}
	return f.Name()
}

const minimalYAML = `driverlink:
  name: "TestApp"
  version: "1.0"
realtime:
  base_url: "https://dispatch.example.com"
  tenant_id: "sirajjunior"
  tenant_host: "sirajjunior.example.com"
  driver_id: "driver-7"
  transports:
    socket: true
    poll: true
    primary: "socket"
  socket:
    endpoint: "ws/orders"
  poll:
    endpoint: "api/orders/pending"
`

func TestLoadConfig(t *testing.T) {
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Driverlink.Name != "TestApp" {
		t.Errorf("unexpected name: %s", cfg.Driverlink.Name)
	}
	if cfg.Realtime.TenantID != "sirajjunior" {
		t.Errorf("unexpected tenant: %s", cfg.Realtime.TenantID)
	}
	if cfg.Realtime.Dedup.Window != DefaultDedupWindow {
		t.Errorf("dedup window default not applied: %v", cfg.Realtime.Dedup.Window)
	}
	if cfg.Realtime.Poll.FailureThreshold != DefaultFailureThreshold {
		t.Errorf("failure threshold default not applied: %d", cfg.Realtime.Poll.FailureThreshold)
	}
}

func TestLoadConfigRequiresTenant(t *testing.T) {
	path := writeTempConfig(t, strings.Replace(minimalYAML, `  tenant_id: "sirajjunior"`+"\n", "", 1))
	defer os.Remove(path)

	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error for missing tenant_id")
	}
}

func TestLoadConfigAuthTokenFromEnv(t *testing.T) {
	t.Setenv("DRIVERLINK_AUTH_TOKEN", "env-token")
	path := writeTempConfig(t, minimalYAML)
	defer os.Remove(path)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Realtime.AuthToken != "env-token" {
		t.Errorf("auth token not taken from environment: %q", cfg.Realtime.AuthToken)
	}
}

func TestApplyDefaultsClampsPollInterval(t *testing.T) {
	r := RealtimeConfig{}
	r.Poll.Interval = 5 * time.Second
	r.ApplyDefaults()
	if r.Poll.Interval != MinPollInterval {
		t.Errorf("poll interval not clamped: %v", r.Poll.Interval)
	}
}

func TestValidateRejectsNoTransports(t *testing.T) {
	r := RealtimeConfig{
		BaseURL:  "https://dispatch.example.com",
		TenantID: "t",
		DriverID: "d",
	}
	r.ApplyDefaults()
	if err := r.Validate(); err == nil {
		t.Fatal("expected error when no transport is enabled")
	}
}

func TestValidateRejectsUnknownPrimary(t *testing.T) {
	r := RealtimeConfig{
		BaseURL:  "https://dispatch.example.com",
		TenantID: "t",
		DriverID: "d",
	}
	r.Transports = TransportsConfig{Poll: true, Primary: "carrier-pigeon"}
	r.Poll.Endpoint = "api/orders/pending"
	r.ApplyDefaults()
	if err := r.Validate(); err == nil {
		t.Fatal("expected error for unknown primary transport")
	}
}

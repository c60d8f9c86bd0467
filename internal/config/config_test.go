package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"GATEWAY_ID", "SERIAL_PORT", "SERIAL_BAUDRATE", "MQTT_BROKER", "MQTT_PORT",
		"MQTT_KEEPALIVE", "MQTT_CLIENT_ID", "MQTT_USERNAME", "MQTT_PASSWORD",
		"MQTT_TLS_ENABLED", "MQTT_TLS_INSECURE", "ADMIN_JWT_SECRET",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_ID", "G100101")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.GatewayID != "G100101" {
		t.Fatalf("GatewayID = %q", cfg.GatewayID)
	}
	if cfg.SerialBaudRate != 115200 {
		t.Fatalf("SerialBaudRate = %d, want default 115200", cfg.SerialBaudRate)
	}
	if cfg.MQTTClientID != "gateway_G100101" {
		t.Fatalf("MQTTClientID = %q, want derived default", cfg.MQTTClientID)
	}
	if cfg.Tuning.CommandAcquireTimeout != 9*time.Second {
		t.Fatalf("CommandAcquireTimeout = %v, want 9s default", cfg.Tuning.CommandAcquireTimeout)
	}
}

func TestLoadRejectsInvalidGatewayID(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_ID", "short")

	if _, err := Load(""); err == nil {
		t.Fatal("Load should reject a gateway id that is not 7 characters")
	}
}

func TestLoadAppliesTuningOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_ID", "G100101")

	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("poll_acquire_timeout: 2s\n"), 0644); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error = %v", err)
	}
	if cfg.Tuning.PollAcquireTimeout != 2*time.Second {
		t.Fatalf("PollAcquireTimeout = %v, want 2s from overlay", cfg.Tuning.PollAcquireTimeout)
	}
	if cfg.Tuning.EmptyRosterSleep != DefaultTuning().EmptyRosterSleep {
		t.Fatalf("EmptyRosterSleep = %v, want default unaffected by overlay", cfg.Tuning.EmptyRosterSleep)
	}
}

func TestLoadMissingTuningFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	t.Setenv("GATEWAY_ID", "G100101")

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err != nil {
		t.Fatalf("Load error = %v, want nil for a missing overlay file", err)
	}
}

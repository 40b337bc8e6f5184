package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoadConfiguration_YAML(t *testing.T) {
	path := writeConfig(t, "duco.yaml", `
duco:
  host: "192.168.1.20"
  browse_timeout: 2s
mqtt:
  ip_address: "192.168.1.10"
  username: "ha"
  password: "secret"
influxdb:
  enabled: true
  url: "http://localhost:8086"
  bucket: "duco"
logging:
  level: debug
`)

	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}

	if cfg.Duco.Host != "192.168.1.20" {
		t.Errorf("Duco.Host = %q", cfg.Duco.Host)
	}
	if cfg.Duco.BrowseTimeout != 2*time.Second {
		t.Errorf("Duco.BrowseTimeout = %v, want 2s", cfg.Duco.BrowseTimeout)
	}
	if cfg.Mqtt.IpAddress != "192.168.1.10" || cfg.Mqtt.Username != "ha" {
		t.Errorf("Mqtt = %+v", cfg.Mqtt)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if !cfg.InfluxDB.Enabled || cfg.InfluxDB.Bucket != "duco" {
		t.Errorf("InfluxDB = %+v", cfg.InfluxDB)
	}
}

func TestLoadConfiguration_JSONAndDefaults(t *testing.T) {
	path := writeConfig(t, "duco.json", `{"mqtt": {"ip_address": "10.0.0.2"}}`)

	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}

	if cfg.Duco.Service != "_http._tcp" || cfg.Duco.NamePrefix != "DUCO " {
		t.Errorf("Duco defaults = %+v", cfg.Duco)
	}
	if cfg.Mqtt.Port != 1883 || cfg.Http.Address != ":8080" || cfg.Store.Path != "duco.db" {
		t.Errorf("defaults not applied: %+v", cfg)
	}

	opts := cfg.Mqtt.ClientOptions()
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://10.0.0.2:1883" {
		t.Errorf("ClientOptions().Servers = %v", opts.Servers)
	}
}

func TestLoadConfiguration_Invalid(t *testing.T) {
	if _, err := LoadConfiguration("/nonexistent/duco.yaml"); err == nil {
		t.Error("LoadConfiguration() expected error for missing file")
	}

	path := writeConfig(t, "duco.yaml", "duco:\n  host: \"x\"\n")
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("LoadConfiguration() expected error without mqtt.ip_address")
	}

	path = writeConfig(t, "duco.yaml", "mqtt:\n  ip_address: a\ninfluxdb:\n  enabled: true\n")
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("LoadConfiguration() expected error for incomplete influxdb section")
	}
}

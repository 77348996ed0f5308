package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes content to a temporary config.yaml and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
controller:
  host: "10.0.1.6"
  port: 3000
  secure: true
  username: "pool"
  password: "secret"
  scan_interval: 15
  timeout: 4
bridge:
  id: "pool-test"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Controller.Host != "10.0.1.6" {
		t.Errorf("Controller.Host = %q, want %q", cfg.Controller.Host, "10.0.1.6")
	}
	if cfg.Controller.Port != 3000 {
		t.Errorf("Controller.Port = %d, want 3000", cfg.Controller.Port)
	}
	if !cfg.Controller.Secure {
		t.Error("Controller.Secure = false, want true")
	}
	if cfg.GetScanInterval() != 15*time.Second {
		t.Errorf("GetScanInterval() = %v, want 15s", cfg.GetScanInterval())
	}
	if cfg.GetRequestTimeout() != 4*time.Second {
		t.Errorf("GetRequestTimeout() = %v, want 4s", cfg.GetRequestTimeout())
	}
	if cfg.Bridge.ID != "pool-test" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "pool-test")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
controller:
  host: "pool.local"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Controller.Port != 0 {
		t.Errorf("Controller.Port = %d, want 0", cfg.Controller.Port)
	}
	if cfg.GetScanInterval() != 10*time.Second {
		t.Errorf("GetScanInterval() = %v, want 10s", cfg.GetScanInterval())
	}
	if cfg.GetPollInterval() != 5*time.Second {
		t.Errorf("GetPollInterval() = %v, want 5s", cfg.GetPollInterval())
	}
	if cfg.GetHistoryRetention() != 30*24*time.Hour {
		t.Errorf("GetHistoryRetention() = %v, want 720h", cfg.GetHistoryRetention())
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
controller:
  host: ""
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for empty controller.host, got nil")
	}
	if !strings.Contains(err.Error(), "controller.host") {
		t.Errorf("error = %v, want mention of controller.host", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
controller:
  host: "from-file"
`)

	t.Setenv("POOLBRIDGE_CONTROLLER_HOST", "from-env")
	t.Setenv("POOLBRIDGE_CONTROLLER_PORT", "8080")
	t.Setenv("POOLBRIDGE_CONTROLLER_PASSWORD", "env-pass")
	t.Setenv("POOLBRIDGE_MQTT_HOST", "mqtt-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Controller.Host != "from-env" {
		t.Errorf("Controller.Host = %q, want from-env", cfg.Controller.Host)
	}
	if cfg.Controller.Port != 8080 {
		t.Errorf("Controller.Port = %d, want 8080", cfg.Controller.Port)
	}
	if cfg.Controller.Password != "env-pass" {
		t.Error("Controller.Password not overridden from environment")
	}
	if cfg.MQTT.Broker.Host != "mqtt-env" {
		t.Errorf("MQTT.Broker.Host = %q, want mqtt-env", cfg.MQTT.Broker.Host)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Controller.Host = "pool.local"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(_ *Config) {},
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.Controller.Host = "" },
			wantErr: "controller.host",
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.Controller.Port = 70000 },
			wantErr: "controller.port",
		},
		{
			name:    "zero scan interval",
			mutate:  func(c *Config) { c.Controller.ScanInterval = 0 },
			wantErr: "controller.scan_interval",
		},
		{
			name:    "zero timeout",
			mutate:  func(c *Config) { c.Controller.Timeout = 0 },
			wantErr: "controller.timeout",
		},
		{
			name:    "empty bridge id",
			mutate:  func(c *Config) { c.Bridge.ID = "" },
			wantErr: "bridge.id",
		},
		{
			name:    "negative discovery interval",
			mutate:  func(c *Config) { c.Bridge.DiscoveryInterval = -1 },
			wantErr: "bridge.discovery_interval",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "database enabled without path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name: "database disabled without path",
			mutate: func(c *Config) {
				c.Database.Enabled = false
				c.Database.Path = ""
			},
		},
		{
			name:    "api port invalid",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: "api.port",
		},
		{
			name: "influxdb enabled without url",
			mutate: func(c *Config) {
				c.InfluxDB.Enabled = true
			},
			wantErr: "influxdb.url",
		},
		{
			name:    "file logging without path",
			mutate:  func(c *Config) { c.Logging.Output = "file" },
			wantErr: "logging.file.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_APITimeouts(t *testing.T) {
	cfg := defaultConfig()

	if cfg.GetReadTimeout() != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", cfg.GetReadTimeout())
	}
	if cfg.GetWriteTimeout() != 30*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 30s", cfg.GetWriteTimeout())
	}
	if cfg.GetIdleTimeout() != 60*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 60s", cfg.GetIdleTimeout())
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/nodekeeper/internal/node"
)

// validJWTSecret meets the 32-character minimum.
const validJWTSecret = "test-secret-key-at-least-32-chars!"

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
node:
  binary: "/opt/shinkai/shinkai-node"
  storage_path: "/var/lib/shinkai"
  work_dir: "/opt/shinkai"
  graceful_timeout: 8s
  autostart: true
  health:
    timeout: 45s
    poll_interval: 250ms
  options:
    node_api_port: "9551"
    rpc_url: "https://rpc.example.com"
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Node.Binary != "/opt/shinkai/shinkai-node" {
		t.Errorf("Node.Binary = %q", cfg.Node.Binary)
	}
	if cfg.Node.WorkDir != "/opt/shinkai" {
		t.Errorf("Node.WorkDir = %q", cfg.Node.WorkDir)
	}
	if cfg.Node.GracefulTimeout != 8*time.Second {
		t.Errorf("Node.GracefulTimeout = %v, want 8s", cfg.Node.GracefulTimeout)
	}
	if cfg.Node.Health.Timeout != 45*time.Second || cfg.Node.Health.PollInterval != 250*time.Millisecond {
		t.Errorf("Node.Health = %+v", cfg.Node.Health)
	}
	if cfg.Node.Health.Path != node.DefaultHealthPath {
		t.Errorf("Node.Health.Path = %q, want default", cfg.Node.Health.Path)
	}
	if !cfg.Node.Autostart {
		t.Error("Node.Autostart = false, want true")
	}
	if p := cfg.Node.Options.NodeAPIPort; p == nil || *p != "9551" {
		t.Errorf("Node.Options.NodeAPIPort = %v, want 9551", p)
	}
	if cfg.Node.Options.NodeIP != nil {
		t.Error("unset option decoded as set")
	}
	if cfg.Node.Name != "shinkai-node" {
		t.Errorf("Node.Name = %q, want default", cfg.Node.Name)
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if !cfg.MQTT.Enabled || cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT = %+v", cfg.MQTT)
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
node:
  binary: ""
database:
  path: "/tmp/test.db"
`)

	_, err := Load(configPath)
	if err == nil || !strings.Contains(err.Error(), "node.binary") {
		t.Errorf("Load() error = %v, want node.binary validation error", err)
	}
}

func validConfig() *Config {
	cfg := defaultConfig()
	cfg.Node.Binary = "/opt/shinkai/shinkai-node"
	return cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid config", func(*Config) {}, ""},
		{"valid with jwt secret", func(c *Config) { c.Security.JWT.Secret = validJWTSecret }, ""},
		{"missing binary", func(c *Config) { c.Node.Binary = "" }, "node.binary"},
		{"missing storage path", func(c *Config) { c.Node.StoragePath = "" }, "node.storage_path"},
		{"negative log buffer", func(c *Config) { c.Node.LogBufferSize = -1 }, "log_buffer_size"},
		{"negative health timeout", func(c *Config) { c.Node.Health.Timeout = -time.Second }, "node.health"},
		{"missing database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"invalid QoS", func(c *Config) { c.MQTT.QoS = 3 }, "mqtt.qos"},
		{"invalid port low", func(c *Config) { c.API.Port = 0 }, "api.port"},
		{"invalid port high", func(c *Config) { c.API.Port = 70000 }, "api.port"},
		{"influxdb without url", func(c *Config) { c.InfluxDB.Enabled = true }, "influxdb.url"},
		{"JWT secret too short", func(c *Config) { c.Security.JWT.Secret = "short" }, "security.jwt.secret"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Validate_ReportsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Node.Binary = ""
	cfg.API.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"node.binary", "api.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}
	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}
	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("NODEKEEPER_NODE_BINARY", "/usr/local/bin/shinkai-node")
	t.Setenv("NODEKEEPER_NODE_STORAGE_PATH", "/srv/shinkai")
	t.Setenv("NODEKEEPER_DATABASE_PATH", "/custom/path.db")
	t.Setenv("NODEKEEPER_MQTT_HOST", "mqtt.example.com")
	t.Setenv("NODEKEEPER_MQTT_USERNAME", "testuser")
	t.Setenv("NODEKEEPER_MQTT_PASSWORD", "testpass")
	t.Setenv("NODEKEEPER_API_HOST", "192.168.1.1")
	t.Setenv("NODEKEEPER_API_PORT", "9700")
	t.Setenv("NODEKEEPER_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("NODEKEEPER_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Node.Binary", cfg.Node.Binary, "/usr/local/bin/shinkai-node"},
		{"Node.StoragePath", cfg.Node.StoragePath, "/srv/shinkai"},
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"API.Host", cfg.API.Host, "192.168.1.1"},
		{"API.Port", cfg.API.Port, 9700},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestApplyEnvOverrides_BadPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("NODEKEEPER_API_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.API.Port != 9650 {
		t.Errorf("API.Port = %d, want default 9650", cfg.API.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Node.Name != node.ProcessName {
		t.Errorf("Node.Name = %q, want %q", cfg.Node.Name, node.ProcessName)
	}
	if cfg.Node.StoragePath == "" || cfg.Database.Path == "" {
		t.Error("defaultConfig should have storage and database paths")
	}
	if cfg.Node.Health.Timeout != node.DefaultHealthTimeout {
		t.Errorf("Node.Health.Timeout = %v", cfg.Node.Health.Timeout)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT should be disabled by default")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.API.Port != 9650 {
		t.Errorf("API.Port = %d, want 9650", cfg.API.Port)
	}
	if cfg.Security.JWT.Secret != "" {
		t.Error("authentication should be off by default")
	}
}

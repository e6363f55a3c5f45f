package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/aimx-core/internal/binding"
	"github.com/nerrad567/aimx-core/internal/records"
)

func TestLoad_ValidConfig(t *testing.T) {
	content := `
logging:
  level: "debug"
  format: "text"
mqtt:
  broker:
    host: "broker.local"
    port: 1883
    client_id: "test-client"
  qos: 1
knx:
  knxd_host: "knxd.local"
  knxd_port: 6720
bindings:
  - key: lamp_state
    address: 2/3/4
    dpt: "1.001"
    topic: knx/lamp/state
    direction: monitor
console:
  socket_path: "/tmp/test-aimx.sock"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}

	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}

	if cfg.KNX.KNXDHost != "knxd.local" {
		t.Errorf("KNX.KNXDHost = %q, want %q", cfg.KNX.KNXDHost, "knxd.local")
	}

	if cfg.Console.SocketPath != "/tmp/test-aimx.sock" {
		t.Errorf("Console.SocketPath = %q, want %q", cfg.Console.SocketPath, "/tmp/test-aimx.sock")
	}

	// A declared bindings list replaces the defaults wholesale.
	if len(cfg.Bindings) != 1 {
		t.Fatalf("len(Bindings) = %d, want 1", len(cfg.Bindings))
	}
	want := records.Address{Main: 2, Middle: 3, Sub: 4}
	if cfg.Bindings[0].Address != want {
		t.Errorf("Bindings[0].Address = %s, want %s", cfg.Bindings[0].Address, want)
	}
	if cfg.Bindings[0].Direction != binding.DirectionMonitor {
		t.Errorf("Bindings[0].Direction = %q, want monitor", cfg.Bindings[0].Direction)
	}
}

func TestLoad_DefaultBindings(t *testing.T) {
	content := `
mqtt:
  broker:
    host: "localhost"
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Bindings) != 3 {
		t.Fatalf("len(Bindings) = %d, want the 3 defaults", len(cfg.Bindings))
	}
	if _, err := binding.NewTable(cfg.Bindings); err != nil {
		t.Errorf("default bindings should build a valid table: %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_BadBindingAddress(t *testing.T) {
	content := `
bindings:
  - key: lamp
    address: 99/0/0
    dpt: "1.001"
    topic: knx/lamp/state
    direction: monitor
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for out-of-range binding address, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing broker host",
			mutate:  func(c *Config) { c.MQTT.Broker.Host = "" },
			wantErr: "mqtt.broker.host",
		},
		{
			name:    "invalid broker port",
			mutate:  func(c *Config) { c.MQTT.Broker.Port = 0 },
			wantErr: "mqtt.broker.port",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "reconnect ceiling below floor",
			mutate:  func(c *Config) { c.MQTT.Reconnect.MaxDelay = 0 },
			wantErr: "mqtt.reconnect.max_delay",
		},
		{
			name:    "missing knxd host",
			mutate:  func(c *Config) { c.KNX.KNXDHost = "" },
			wantErr: "knx.knxd_host",
		},
		{
			name:    "invalid knxd port",
			mutate:  func(c *Config) { c.KNX.KNXDPort = 70000 },
			wantErr: "knx.knxd_port",
		},
		{
			name:    "zero connect timeout",
			mutate:  func(c *Config) { c.KNX.ConnectTimeout = 0 },
			wantErr: "knx.connect_timeout",
		},
		{
			name:    "backoff ceiling below floor",
			mutate:  func(c *Config) { c.KNX.Backoff.MaxMS = 100 },
			wantErr: "knx.backoff.max_ms",
		},
		{
			name:    "zero inflight cap",
			mutate:  func(c *Config) { c.KNX.MaxInflight = 0 },
			wantErr: "knx.max_inflight",
		},
		{
			name:    "missing socket path",
			mutate:  func(c *Config) { c.Console.SocketPath = "" },
			wantErr: "console.socket_path",
		},
		{
			name:    "zero max connections",
			mutate:  func(c *Config) { c.Console.MaxConnections = 0 },
			wantErr: "console.max_connections",
		},
		{
			name:    "zero subscription queue",
			mutate:  func(c *Config) { c.Console.SubscriptionQueueSize = 0 },
			wantErr: "console.subscription_queue_size",
		},
		{
			name: "history enabled without path",
			mutate: func(c *Config) {
				c.Console.History.Enabled = true
				c.Console.History.Path = ""
			},
			wantErr: "console.history.path",
		},
		{
			name: "telemetry enabled without token",
			mutate: func(c *Config) {
				c.Console.Telemetry.Enabled = true
				c.Console.Telemetry.URL = "http://localhost:8086"
				c.Console.Telemetry.Org = "aimx"
				c.Console.Telemetry.Bucket = "records"
			},
			wantErr: "console.telemetry.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want substring %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want substring %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DurationGetters(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.KNX.GetConnectTimeout(); got != 10*time.Second {
		t.Errorf("GetConnectTimeout() = %v, want 10s", got)
	}
	if got := cfg.KNX.Backoff.GetInitial(); got != 500*time.Millisecond {
		t.Errorf("Backoff.GetInitial() = %v, want 500ms", got)
	}
	if got := cfg.KNX.Backoff.GetMax(); got != 120*time.Second {
		t.Errorf("Backoff.GetMax() = %v, want 2m", got)
	}
	if got := cfg.MQTT.Reconnect.GetInitialDelay(); got != time.Second {
		t.Errorf("Reconnect.GetInitialDelay() = %v, want 1s", got)
	}
	if got := cfg.MQTT.Reconnect.GetMaxDelay(); got != 60*time.Second {
		t.Errorf("Reconnect.GetMaxDelay() = %v, want 1m", got)
	}
	if got := cfg.Console.Telemetry.GetFlushInterval(); got != 10*time.Second {
		t.Errorf("Telemetry.GetFlushInterval() = %v, want 10s", got)
	}
}

func TestConfig_GetQoS(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.MQTT.GetQoS(); got != 1 {
		t.Errorf("GetQoS() = %d, want 1", got)
	}

	cfg.MQTT.QoS = 2
	if got := cfg.MQTT.GetQoS(); got != 2 {
		t.Errorf("GetQoS() = %d, want 2", got)
	}
}

func TestConfig_Endpoint(t *testing.T) {
	cfg := defaultConfig()
	if got := cfg.KNX.Endpoint(); got != "localhost:6720" {
		t.Errorf("Endpoint() = %q, want localhost:6720", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("AIMX_MQTT_HOST", "mqtt.example.com")
	t.Setenv("AIMX_MQTT_USERNAME", "testuser")
	t.Setenv("AIMX_MQTT_PASSWORD", "testpass")
	t.Setenv("AIMX_KNXD_HOST", "192.168.1.50")
	t.Setenv("AIMX_SOCKET_PATH", "/run/aimx/console.sock")
	t.Setenv("AIMX_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.KNX.KNXDHost != "192.168.1.50" {
		t.Errorf("KNX.KNXDHost = %q, want %q", cfg.KNX.KNXDHost, "192.168.1.50")
	}

	if cfg.Console.SocketPath != "/run/aimx/console.sock" {
		t.Errorf("Console.SocketPath = %q, want %q", cfg.Console.SocketPath, "/run/aimx/console.sock")
	}

	if cfg.Console.Telemetry.Token != "secret-token" {
		t.Errorf("Console.Telemetry.Token = %q, want %q", cfg.Console.Telemetry.Token, "secret-token")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.KNX.KNXDPort != 6720 {
		t.Errorf("defaultConfig KNX.KNXDPort = %d, want 6720", cfg.KNX.KNXDPort)
	}

	if cfg.Console.SocketPath != "/tmp/aimx.sock" {
		t.Errorf("defaultConfig Console.SocketPath = %q, want /tmp/aimx.sock", cfg.Console.SocketPath)
	}

	if cfg.Console.MaxConnections != 5 {
		t.Errorf("defaultConfig Console.MaxConnections = %d, want 5", cfg.Console.MaxConnections)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}
}

func TestMQTTAuthRedaction(t *testing.T) {
	auth := MQTTAuthConfig{Username: "user", Password: "hunter2"}

	if s := auth.String(); strings.Contains(s, "hunter2") {
		t.Errorf("String() leaked password: %s", s)
	}

	data, err := json.Marshal(auth)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if strings.Contains(string(data), "hunter2") {
		t.Errorf("MarshalJSON() leaked password: %s", data)
	}
}

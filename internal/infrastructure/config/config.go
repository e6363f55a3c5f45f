package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/aimx-core/internal/binding"
)

// Config is the root configuration structure for AimX Core.
// One file serves both binaries: the gateway consumes logging, mqtt, knx and
// bindings; the console consumes logging, mqtt, bindings and console.
// All configuration is loaded from YAML and can be overridden by environment
// variables.
type Config struct {
	Logging  LoggingConfig     `yaml:"logging"`
	MQTT     MQTTConfig        `yaml:"mqtt"`
	KNX      KNXConfig         `yaml:"knx"`
	Bindings []binding.Binding `yaml:"bindings"`
	Console  ConsoleConfig     `yaml:"console"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// GetQoS returns the publish/subscribe QoS as the byte the client
// expects. Validate has already confirmed the range.
func (m MQTTConfig) GetQoS() byte {
	return byte(m.QoS)
}

// MQTTBrokerConfig contains MQTT broker connection details.
// An empty ClientID gets a generated one at connect time so the two
// binaries never collide on the broker.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// String implements fmt.Stringer with the password redacted.
func (a MQTTAuthConfig) String() string {
	password := ""
	if a.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("{Username:%s Password:%s}", a.Username, password)
}

// MarshalJSON redacts the password when auth settings end up in logs.
func (a MQTTAuthConfig) MarshalJSON() ([]byte, error) {
	password := ""
	if a.Password != "" {
		password = "[REDACTED]"
	}
	return json.Marshal(struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}{
		Username: a.Username,
		Password: password,
	})
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
// Reconnect attempts continue indefinitely; there is no attempt cap.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// GetInitialDelay returns the initial reconnect delay as a Duration.
func (r MQTTReconnectConfig) GetInitialDelay() time.Duration {
	return time.Duration(r.InitialDelay) * time.Second
}

// GetMaxDelay returns the reconnect delay ceiling as a Duration.
func (r MQTTReconnectConfig) GetMaxDelay() time.Duration {
	return time.Duration(r.MaxDelay) * time.Second
}

// KNXConfig contains field-bus tunnel settings for the gateway.
type KNXConfig struct {
	KNXDHost       string        `yaml:"knxd_host"`
	KNXDPort       int           `yaml:"knxd_port"`
	ConnectTimeout int           `yaml:"connect_timeout"` // seconds
	Backoff        BackoffConfig `yaml:"backoff"`
	MaxInflight    int           `yaml:"max_inflight"`
	ReadOnStart    bool          `yaml:"read_on_start"`
}

// GetConnectTimeout returns the tunnel connect timeout as a Duration.
func (k KNXConfig) GetConnectTimeout() time.Duration {
	return time.Duration(k.ConnectTimeout) * time.Second
}

// Endpoint returns the knxd host:port string.
func (k KNXConfig) Endpoint() string {
	return fmt.Sprintf("%s:%d", k.KNXDHost, k.KNXDPort)
}

// BackoffConfig contains retry backoff bounds in milliseconds.
type BackoffConfig struct {
	InitialMS int `yaml:"initial_ms"`
	MaxMS     int `yaml:"max_ms"`
}

// GetInitial returns the starting backoff delay as a Duration.
func (b BackoffConfig) GetInitial() time.Duration {
	return time.Duration(b.InitialMS) * time.Millisecond
}

// GetMax returns the backoff delay ceiling as a Duration.
func (b BackoffConfig) GetMax() time.Duration {
	return time.Duration(b.MaxMS) * time.Millisecond
}

// ConsoleConfig contains local protocol server settings for the console.
type ConsoleConfig struct {
	SocketPath            string          `yaml:"socket_path"`
	MaxConnections        int             `yaml:"max_connections"`
	SubscriptionQueueSize int             `yaml:"subscription_queue_size"`
	WriteEnabled          bool            `yaml:"write_enabled"`
	History               HistoryConfig   `yaml:"history"`
	Telemetry             TelemetryConfig `yaml:"telemetry"`
}

// HistoryConfig contains SQLite record history settings.
type HistoryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

// TelemetryConfig contains InfluxDB telemetry sink settings.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// GetFlushInterval returns the telemetry flush interval as a Duration.
func (t TelemetryConfig) GetFlushInterval() time.Duration {
	return time.Duration(t.FlushInterval) * time.Second
}

// Load reads configuration from a YAML file and applies environment variable
// overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AIMX_SECTION_KEY
// For example: AIMX_MQTT_HOST, AIMX_SOCKET_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
// The binding table defaults to the reference deployment entries and is
// replaced wholesale when the file declares its own bindings list.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host: "localhost",
				Port: 1883,
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		KNX: KNXConfig{
			KNXDHost:       "localhost",
			KNXDPort:       6720,
			ConnectTimeout: 10,
			Backoff: BackoffConfig{
				InitialMS: 500,
				MaxMS:     120000,
			},
			MaxInflight: 4,
			ReadOnStart: true,
		},
		Bindings: binding.Default(),
		Console: ConsoleConfig{
			SocketPath:            "/tmp/aimx.sock",
			MaxConnections:        5,
			SubscriptionQueueSize: 100,
			WriteEnabled:          true,
			History: HistoryConfig{
				Path:          "./data/aimx-history.db",
				RetentionDays: 30,
			},
			Telemetry: TelemetryConfig{
				BatchSize:     100,
				FlushInterval: 10,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern: AIMX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("AIMX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AIMX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AIMX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Field bus
	if v := os.Getenv("AIMX_KNXD_HOST"); v != "" {
		cfg.KNX.KNXDHost = v
	}

	// Console
	if v := os.Getenv("AIMX_SOCKET_PATH"); v != "" {
		cfg.Console.SocketPath = v
	}
	if v := os.Getenv("AIMX_INFLUXDB_TOKEN"); v != "" {
		cfg.Console.Telemetry.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Binding-table semantics (duplicate keys, DPT conflicts) are validated by
// binding.NewTable when the table is built; Validate covers everything else.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Reconnect.InitialDelay < 1 {
		errs = append(errs, "mqtt.reconnect.initial_delay must be at least 1 second")
	}
	if c.MQTT.Reconnect.MaxDelay < c.MQTT.Reconnect.InitialDelay {
		errs = append(errs, "mqtt.reconnect.max_delay must be >= initial_delay")
	}

	// Field bus validation
	if c.KNX.KNXDHost == "" {
		errs = append(errs, "knx.knxd_host is required")
	}
	if c.KNX.KNXDPort < 1 || c.KNX.KNXDPort > 65535 {
		errs = append(errs, "knx.knxd_port must be between 1 and 65535")
	}
	if c.KNX.ConnectTimeout < 1 {
		errs = append(errs, "knx.connect_timeout must be at least 1 second")
	}
	if c.KNX.Backoff.InitialMS < 1 {
		errs = append(errs, "knx.backoff.initial_ms must be at least 1")
	}
	if c.KNX.Backoff.MaxMS < c.KNX.Backoff.InitialMS {
		errs = append(errs, "knx.backoff.max_ms must be >= initial_ms")
	}
	if c.KNX.MaxInflight < 1 {
		errs = append(errs, "knx.max_inflight must be at least 1")
	}

	// Console validation
	if c.Console.SocketPath == "" {
		errs = append(errs, "console.socket_path is required")
	}
	if c.Console.MaxConnections < 1 {
		errs = append(errs, "console.max_connections must be at least 1")
	}
	if c.Console.SubscriptionQueueSize < 1 {
		errs = append(errs, "console.subscription_queue_size must be at least 1")
	}
	if c.Console.History.Enabled && c.Console.History.Path == "" {
		errs = append(errs, "console.history.path is required when history is enabled")
	}
	if c.Console.History.RetentionDays < 0 {
		errs = append(errs, "console.history.retention_days must not be negative")
	}
	if c.Console.Telemetry.Enabled {
		if c.Console.Telemetry.URL == "" {
			errs = append(errs, "console.telemetry.url is required when telemetry is enabled")
		}
		if c.Console.Telemetry.Token == "" {
			errs = append(errs, "console.telemetry.token is required when telemetry is enabled (set AIMX_INFLUXDB_TOKEN environment variable)")
		}
		if c.Console.Telemetry.Org == "" {
			errs = append(errs, "console.telemetry.org is required when telemetry is enabled")
		}
		if c.Console.Telemetry.Bucket == "" {
			errs = append(errs, "console.telemetry.bucket is required when telemetry is enabled")
		}
		if c.Console.Telemetry.BatchSize < 1 {
			errs = append(errs, "console.telemetry.batch_size must be at least 1")
		}
		if c.Console.Telemetry.FlushInterval < 1 {
			errs = append(errs, "console.telemetry.flush_interval must be at least 1 second")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the pool bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Bridge     BridgeConfig     `yaml:"bridge"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	API        APIConfig        `yaml:"api"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig describes how to reach the pool controller's HTTP API.
type ControllerConfig struct {
	// Host is the controller hostname or IP address.
	Host string `yaml:"host"`

	// Port is optional. Zero means the scheme default.
	Port int `yaml:"port"`

	// Secure selects https instead of http.
	Secure bool `yaml:"secure"`

	// Username and Password enable HTTP Basic auth when either is set.
	// WARNING: Never log Password.
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ScanInterval is the minimum number of seconds between full refreshes.
	// Default: 10
	ScanInterval int `yaml:"scan_interval"`

	// Timeout is the per-request timeout in seconds.
	// Default: 10
	Timeout int `yaml:"timeout"`
}

// BridgeConfig contains bridge identity and scheduling settings.
type BridgeConfig struct {
	ID string `yaml:"id"`

	// PollInterval is how often the bridge asks every circuit to update (seconds).
	// Default: 5
	PollInterval int `yaml:"poll_interval"`

	// HealthInterval is how often health status is published (seconds).
	// Default: 30
	HealthInterval int `yaml:"health_interval"`

	// DiscoveryInterval is how often the full circuit list is rebuilt (seconds).
	// 0 disables periodic rediscovery.
	// Default: 3600
	DiscoveryInterval int `yaml:"discovery_interval"`

	// HistoryRetentionDays bounds the circuit state history table.
	// Default: 30
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains the status API listener settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig is used when Output is "file".
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: POOLBRIDGE_SECTION_KEY
// For example: POOLBRIDGE_CONTROLLER_HOST, POOLBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			ScanInterval: 10,
			Timeout:      10,
		},
		Bridge: BridgeConfig{
			ID:                   "pool-bridge-01",
			PollInterval:         5,
			HealthInterval:       30,
			DiscoveryInterval:    3600,
			HistoryRetentionDays: 30,
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/poolbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "pool-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: POOLBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("POOLBRIDGE_CONTROLLER_HOST"); v != "" {
		cfg.Controller.Host = v
	}
	if v := os.Getenv("POOLBRIDGE_CONTROLLER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Controller.Port = port
		}
	}
	if v := os.Getenv("POOLBRIDGE_CONTROLLER_USERNAME"); v != "" {
		cfg.Controller.Username = v
	}
	if v := os.Getenv("POOLBRIDGE_CONTROLLER_PASSWORD"); v != "" {
		cfg.Controller.Password = v
	}

	// Database
	if v := os.Getenv("POOLBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("POOLBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("POOLBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("POOLBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("POOLBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Controller validation
	if c.Controller.Host == "" {
		errs = append(errs, "controller.host is required (set POOLBRIDGE_CONTROLLER_HOST)")
	}
	if c.Controller.Port < 0 || c.Controller.Port > 65535 {
		errs = append(errs, "controller.port must be between 0 and 65535")
	}
	if c.Controller.ScanInterval < 1 {
		errs = append(errs, "controller.scan_interval must be at least 1 second")
	}
	if c.Controller.Timeout < 1 {
		errs = append(errs, "controller.timeout must be at least 1 second")
	}

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.PollInterval < 1 {
		errs = append(errs, "bridge.poll_interval must be at least 1 second")
	}
	if c.Bridge.HealthInterval < 1 {
		errs = append(errs, "bridge.health_interval must be at least 1 second")
	}
	if c.Bridge.DiscoveryInterval < 0 {
		errs = append(errs, "bridge.discovery_interval cannot be negative")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Logging.Output == "file" && c.Logging.File.Path == "" {
		errs = append(errs, "logging.file.path is required when logging.output is file")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetScanInterval returns the controller scan interval as a Duration.
func (c *Config) GetScanInterval() time.Duration {
	return time.Duration(c.Controller.ScanInterval) * time.Second
}

// GetRequestTimeout returns the per-request controller timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Controller.Timeout) * time.Second
}

// GetPollInterval returns the bridge poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Second
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetDiscoveryInterval returns the rediscovery interval as a Duration (0 = disabled).
func (c *Config) GetDiscoveryInterval() time.Duration {
	return time.Duration(c.Bridge.DiscoveryInterval) * time.Second
}

// GetHistoryRetention returns how long circuit history is kept.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Bridge.HistoryRetentionDays) * 24 * time.Hour
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

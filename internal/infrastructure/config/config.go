package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic AV bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BridgeConfig identifies this bridge instance on the message bus.
type BridgeConfig struct {
	// ID is the bridge identifier used in topics and health messages.
	ID string `yaml:"id"`

	// HealthInterval is the health publish cadence in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Keepalive int                 `yaml:"keepalive"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// Telemetry is optional; the bridge runs fully without it.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	CORS      CORSConfig       `yaml:"cors"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// DiscoveryConfig contains SSDP discovery settings.
type DiscoveryConfig struct {
	// Enabled turns network discovery on.
	Enabled bool `yaml:"enabled"`

	// SearchTargets are the SSDP ST values to search for.
	// Default: ["ssdp:all"].
	SearchTargets []string `yaml:"search_targets"`

	// MX is the response spread advertised in searches, seconds (1-5).
	MX int `yaml:"mx"`

	// Interval is the re-search cadence in seconds. 0 searches once at
	// startup only.
	Interval int `yaml:"interval"`
}

// DeviceConfig describes one statically configured device.
type DeviceConfig struct {
	// ID is the device identifier used in topics. Must match
	// [a-z0-9_-]+.
	ID string `yaml:"id"`

	// Type is the device protocol type: "pioneer_vsx1021" or
	// "sony_bravia".
	Type string `yaml:"type"`

	// Host is the device's network address.
	Host string `yaml:"host"`

	// Port overrides the protocol default (23 for Pioneer, 20060 for
	// Sony). 0 uses the default.
	Port int `yaml:"port"`

	// Name is a human-readable label. Defaults to the ID.
	Name string `yaml:"name"`

	// LivenessInterval enables periodic liveness probes in seconds.
	// 0 disables probing. Only meaningful for sony_bravia devices;
	// the Pioneer client always heartbeats.
	LivenessInterval int `yaml:"liveness_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Device types accepted in configuration.
const (
	DeviceTypePioneerVSX1021 = "pioneer_vsx1021"
	DeviceTypeSonyBravia     = "sony_bravia"
)

// deviceIDPattern matches identifiers safe for use in MQTT topics.
var deviceIDPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// redactedPlaceholder replaces secret values in String() and JSON output.
const redactedPlaceholder = "[redacted]"

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AVBRIDGE_SECTION_KEY
// For example: AVBRIDGE_DATABASE_PATH, AVBRIDGE_MQTT_PASSWORD
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
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "av",
			HealthInterval: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-av",
			},
			QoS:       1,
			Keepalive: 60,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/graylogic-av.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Discovery: DiscoveryConfig{
			Enabled:       true,
			SearchTargets: []string{"ssdp:all"},
			MX:            3,
			Interval:      300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AVBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bridge
	if v := os.Getenv("AVBRIDGE_BRIDGE_ID"); v != "" {
		cfg.Bridge.ID = v
	}

	// Database
	if v := os.Getenv("AVBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("AVBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AVBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AVBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("AVBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("AVBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("AVBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Bridge validation
	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if c.Bridge.HealthInterval < 0 {
		errs = append(errs, "bridge.health_interval must not be negative")
	}

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
	if c.MQTT.Keepalive < 1 {
		errs = append(errs, "mqtt.keepalive must be at least 1 second")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// InfluxDB validation (only when enabled)
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Token == "" {
			errs = append(errs, "influxdb.token is required when influxdb is enabled (set AVBRIDGE_INFLUXDB_TOKEN environment variable)")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Discovery validation
	if c.Discovery.MX < 1 || c.Discovery.MX > 5 {
		errs = append(errs, "discovery.mx must be between 1 and 5")
	}
	if c.Discovery.Interval < 0 {
		errs = append(errs, "discovery.interval must not be negative")
	}

	// Device validation
	errs = append(errs, c.validateDevices()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks the static device list for errors.
func (c *Config) validateDevices() []string {
	var errs []string

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.ID == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].id is required", i))
			continue
		}
		if !deviceIDPattern.MatchString(d.ID) {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q must match [a-z0-9_-]+", i, d.ID))
		}
		if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("devices[%d].id %q is duplicated", i, d.ID))
		}
		seen[d.ID] = true

		switch d.Type {
		case DeviceTypePioneerVSX1021, DeviceTypeSonyBravia:
		default:
			errs = append(errs, fmt.Sprintf("devices[%d].type %q must be %q or %q",
				i, d.Type, DeviceTypePioneerVSX1021, DeviceTypeSonyBravia))
		}

		if d.Host == "" {
			errs = append(errs, fmt.Sprintf("devices[%d].host is required", i))
		}
		if d.Port < 0 || d.Port > 65535 {
			errs = append(errs, fmt.Sprintf("devices[%d].port must be between 0 and 65535", i))
		}
		if d.LivenessInterval < 0 {
			errs = append(errs, fmt.Sprintf("devices[%d].liveness_interval must not be negative", i))
		}
	}

	return errs
}

// redacted returns a copy of the configuration with secrets masked.
// Used by String() and MarshalJSON() so credentials never reach logs.
func (c Config) redacted() Config {
	if c.MQTT.Auth.Password != "" {
		c.MQTT.Auth.Password = redactedPlaceholder
	}
	if c.InfluxDB.Token != "" {
		c.InfluxDB.Token = redactedPlaceholder
	}
	return c
}

// String renders the configuration with secrets masked.
func (c Config) String() string {
	type plain Config // Alias without methods so %+v does not recurse
	return fmt.Sprintf("%+v", plain(c.redacted()))
}

// MarshalJSON renders the configuration with secrets masked.
func (c Config) MarshalJSON() ([]byte, error) {
	type plain Config // Alias without methods to avoid recursion
	return json.Marshal(plain(c.redacted()))
}

// HealthInterval returns the bridge health publish cadence as a Duration.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// DiscoveryInterval returns the SSDP re-search cadence as a Duration.
// Zero means search once at startup only.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Discovery.Interval) * time.Second
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

// Liveness returns the device's liveness probe cadence as a Duration.
// Zero disables probing.
func (d DeviceConfig) Liveness() time.Duration {
	return time.Duration(d.LivenessInterval) * time.Second
}

// DisplayName returns the configured name, falling back to the ID.
func (d DeviceConfig) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Auth store backends.
const (
	AuthStoreFile   = "file"
	AuthStoreSQLite = "sqlite"
)

// Config is the root configuration structure for the Freebox bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Freebox  FreeboxConfig  `yaml:"freebox"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bridge   BridgeConfig   `yaml:"bridge"`
}

// FreeboxConfig contains the gateway connection settings.
type FreeboxConfig struct {
	// Address is the host (and optional port) of the box on the LAN.
	Address string `yaml:"address"`

	// HTTPS selects the https base URL advertised by the box.
	HTTPS bool `yaml:"https"`

	// CAFile is a PEM bundle used to verify the box certificate.
	CAFile string `yaml:"ca_file"`

	// RequestTimeout bounds one HTTP call (seconds).
	RequestTimeout int `yaml:"request_timeout"`

	// MinRequestInterval is the minimum gap between two gateway calls
	// (milliseconds). 0 disables pacing.
	MinRequestInterval int `yaml:"min_request_interval"`

	// App identifies this client to the box. It is shown on the front
	// panel when authorization is requested.
	App FreeboxAppConfig `yaml:"app"`
}

// FreeboxAppConfig contains the app identity sent with authorization requests.
type FreeboxAppConfig struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Version    string `yaml:"version"`
	DeviceName string `yaml:"device_name"`
}

// AuthConfig selects where the app token is persisted.
type AuthConfig struct {
	// Store is "file" or "sqlite".
	Store string `yaml:"store"`

	// File is the JSON file used by the file store.
	File string `yaml:"file"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
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
	MaxAttempts  int `yaml:"max_attempts"`
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
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// BridgeConfig contains settings of the MQTT bridge.
type BridgeConfig struct {
	// ID identifies this bridge instance in health messages.
	ID string `yaml:"id"`

	// PollInterval is the state polling period (seconds).
	PollInterval int `yaml:"poll_interval"`

	// HealthInterval is the health publishing period (seconds).
	HealthInterval int `yaml:"health_interval"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FBXBRIDGE_SECTION_KEY
// For example: FBXBRIDGE_FREEBOX_ADDRESS, FBXBRIDGE_MQTT_PASSWORD
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
		Freebox: FreeboxConfig{
			Address:            "mafreebox.freebox.fr",
			RequestTimeout:     10,
			MinRequestInterval: 500,
			App: FreeboxAppConfig{
				ID:         "gl.fbx-bridge",
				Name:       "Gray Logic Freebox Bridge",
				Version:    "1.0",
				DeviceName: "server",
			},
		},
		Auth: AuthConfig{
			Store: AuthStoreFile,
			File:  "./data/freebox-auth.json",
		},
		Database: DatabaseConfig{
			Path:        "./data/fbxbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-fbxbridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		InfluxDB: InfluxDBConfig{
			Org:           "graylogic",
			Bucket:        "freebox",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Bridge: BridgeConfig{
			ID:             "freebox",
			PollInterval:   30,
			HealthInterval: 30,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: FBXBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Freebox
	if v := os.Getenv("FBXBRIDGE_FREEBOX_ADDRESS"); v != "" {
		cfg.Freebox.Address = v
	}
	if v := os.Getenv("FBXBRIDGE_FREEBOX_HTTPS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Freebox.HTTPS = b
		}
	}
	if v := os.Getenv("FBXBRIDGE_FREEBOX_CA_FILE"); v != "" {
		cfg.Freebox.CAFile = v
	}

	// Auth
	if v := os.Getenv("FBXBRIDGE_AUTH_STORE"); v != "" {
		cfg.Auth.Store = v
	}
	if v := os.Getenv("FBXBRIDGE_AUTH_FILE"); v != "" {
		cfg.Auth.File = v
	}

	// Database
	if v := os.Getenv("FBXBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FBXBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("FBXBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FBXBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("FBXBRIDGE_INFLUXDB_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("FBXBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("FBXBRIDGE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Freebox validation
	if c.Freebox.Address == "" {
		errs = append(errs, "freebox.address is required")
	}
	if c.Freebox.RequestTimeout < 1 {
		errs = append(errs, "freebox.request_timeout must be at least 1 second")
	}
	if c.Freebox.MinRequestInterval < 0 {
		errs = append(errs, "freebox.min_request_interval must not be negative")
	}
	if c.Freebox.App.ID == "" || c.Freebox.App.Name == "" || c.Freebox.App.Version == "" {
		errs = append(errs, "freebox.app id, name and version are required")
	}

	// Auth validation
	switch c.Auth.Store {
	case AuthStoreFile:
		if c.Auth.File == "" {
			errs = append(errs, "auth.file is required for the file store")
		}
	case AuthStoreSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite store")
		}
	default:
		errs = append(errs, fmt.Sprintf("auth.store must be %q or %q", AuthStoreFile, AuthStoreSQLite))
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

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
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

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the gateway request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Freebox.RequestTimeout) * time.Second
}

// GetMinRequestInterval returns the gateway pacing interval as a Duration.
func (c *Config) GetMinRequestInterval() time.Duration {
	return time.Duration(c.Freebox.MinRequestInterval) * time.Millisecond
}

// GetPollInterval returns the bridge polling period as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Bridge.PollInterval) * time.Second
}

// GetHealthInterval returns the bridge health period as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

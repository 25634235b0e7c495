package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the hwreg daemon.
type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// RegistryConfig controls how committed device records are named.
type RegistryConfig struct {
	// BlockPrefix is prepended to "<major>_<minor>" to form block identifiers.
	BlockPrefix string `yaml:"block_prefix"`

	// BusPrefix is prepended to the sanitised sysfs path of physical devices
	// that the scanner registers on behalf of block nodes.
	BusPrefix string `yaml:"bus_prefix"`
}

// DiscoveryConfig contains sysfs enumeration settings.
type DiscoveryConfig struct {
	// SysfsRoot is the mount point of sysfs. Tests point it at a fixture tree.
	SysfsRoot string `yaml:"sysfs_root"`

	// ParentTimeout bounds how long a hotplugged node waits for its parent
	// to be registered before it is dropped.
	ParentTimeout time.Duration `yaml:"parent_timeout"`

	// ProbeParentTimeout is the same bound used during a full scan, where
	// each disk is visited before its partitions. Zero means a single
	// lookup with no wait.
	ProbeParentTimeout time.Duration `yaml:"probe_parent_timeout"`

	// Workers is the number of nodes visited concurrently during a scan.
	Workers int `yaml:"workers"`

	// RescanInterval triggers periodic rescans. Zero disables them.
	RescanInterval time.Duration `yaml:"rescan_interval"`

	// IDEModelPath and IDEMediaPath are printf templates taking the
	// bus-local drive name (e.g. "hda").
	IDEModelPath string `yaml:"ide_model_path"`
	IDEMediaPath string `yaml:"ide_media_path"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
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

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP query API settings.
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

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// Load reads configuration from a YAML file and applies environment overrides.
//
// Order: defaults, then the file, then HWREG_* variables, then Validate.
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

// Default returns the built-in configuration with environment overrides
// applied. It is used when the daemon runs without a config file.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

func defaultConfig() *Config {
	return &Config{
		Registry: RegistryConfig{
			BlockPrefix: "block_",
			BusPrefix:   "bus_",
		},
		Discovery: DiscoveryConfig{
			SysfsRoot:          "/sys",
			ParentTimeout:      60 * time.Second,
			ProbeParentTimeout: 0,
			Workers:            4,
			RescanInterval:     0,
			IDEModelPath:       "/proc/ide/%s/model",
			IDEMediaPath:       "/proc/ide/%s/media",
		},
		Database: DatabaseConfig{
			Path:        "./data/hwreg.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: false,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "hwreg",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8420,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies HWREG_SECTION_KEY environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HWREG_SYSFS_ROOT"); v != "" {
		cfg.Discovery.SysfsRoot = v
	}
	if v := os.Getenv("HWREG_PARENT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Discovery.ParentTimeout = d
		}
	}
	if v := os.Getenv("HWREG_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Discovery.Workers = n
		}
	}

	if v := os.Getenv("HWREG_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("HWREG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HWREG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HWREG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	if v := os.Getenv("HWREG_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	if v := os.Getenv("HWREG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Registry.BlockPrefix == "" {
		errs = append(errs, "registry.block_prefix is required")
	}
	if c.Registry.BusPrefix == "" {
		errs = append(errs, "registry.bus_prefix is required")
	}
	if !validIDPrefix(c.Registry.BlockPrefix) {
		errs = append(errs, "registry.block_prefix must not contain whitespace or '/'")
	}
	if !validIDPrefix(c.Registry.BusPrefix) {
		errs = append(errs, "registry.bus_prefix must not contain whitespace or '/'")
	}
	if c.Registry.BlockPrefix == c.Registry.BusPrefix {
		errs = append(errs, "registry.block_prefix and registry.bus_prefix must differ")
	}

	if c.Discovery.SysfsRoot == "" {
		errs = append(errs, "discovery.sysfs_root is required")
	}
	if c.Discovery.ParentTimeout < 0 || c.Discovery.ProbeParentTimeout < 0 {
		errs = append(errs, "discovery parent timeouts must not be negative")
	}
	if c.Discovery.Workers < 1 {
		errs = append(errs, "discovery.workers must be at least 1")
	}
	if c.Discovery.RescanInterval < 0 {
		errs = append(errs, "discovery.rescan_interval must not be negative")
	}
	if !strings.Contains(c.Discovery.IDEModelPath, "%s") || !strings.Contains(c.Discovery.IDEMediaPath, "%s") {
		errs = append(errs, "discovery IDE side-channel paths must contain %s")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validIDPrefix applies the identifier character rule of device records to
// a prefix.
func validIDPrefix(prefix string) bool {
	return strings.IndexFunc(prefix, unicode.IsSpace) < 0 && !strings.Contains(prefix, "/")
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

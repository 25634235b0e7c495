package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
registry:
  block_prefix: "ns_"
discovery:
  sysfs_root: "/tmp/sys"
  parent_timeout: 250ms
  probe_parent_timeout: 2s
  workers: 2
database:
  path: "/tmp/test.db"
mqtt:
  enabled: true
  broker:
    host: "broker.local"
    port: 1883
    client_id: "hwreg-test"
  qos: 1
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "ns_", cfg.Registry.BlockPrefix)
	assert.Equal(t, "bus_", cfg.Registry.BusPrefix, "unset keys keep defaults")
	assert.Equal(t, "/tmp/sys", cfg.Discovery.SysfsRoot)
	assert.Equal(t, 250*time.Millisecond, cfg.Discovery.ParentTimeout)
	assert.Equal(t, 2*time.Second, cfg.Discovery.ProbeParentTimeout)
	assert.Equal(t, 2, cfg.Discovery.Workers)
	assert.Equal(t, "/tmp/test.db", cfg.Database.Path)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "broker.local", cfg.MQTT.Broker.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
discovery:
  workers: 0
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.workers")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty block prefix", mutate: func(c *Config) { c.Registry.BlockPrefix = "" }, wantErr: true},
		{name: "block prefix with slash", mutate: func(c *Config) { c.Registry.BlockPrefix = "/org/freedesktop/Hal/devices/block_" }, wantErr: true},
		{name: "bus prefix with space", mutate: func(c *Config) { c.Registry.BusPrefix = "bus " }, wantErr: true},
		{name: "same prefixes", mutate: func(c *Config) { c.Registry.BusPrefix = c.Registry.BlockPrefix }, wantErr: true},
		{name: "missing sysfs root", mutate: func(c *Config) { c.Discovery.SysfsRoot = "" }, wantErr: true},
		{name: "negative timeout", mutate: func(c *Config) { c.Discovery.ParentTimeout = -time.Second }, wantErr: true},
		{name: "zero probe timeout", mutate: func(c *Config) { c.Discovery.ProbeParentTimeout = 0 }},
		{name: "zero workers", mutate: func(c *Config) { c.Discovery.Workers = 0 }, wantErr: true},
		{name: "negative rescan", mutate: func(c *Config) { c.Discovery.RescanInterval = -time.Minute }, wantErr: true},
		{name: "model template without verb", mutate: func(c *Config) { c.Discovery.IDEModelPath = "/proc/ide/model" }, wantErr: true},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "invalid port", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "port ignored when API disabled", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 60},
		},
	}

	assert.Equal(t, 30*time.Second, cfg.GetReadTimeout())
	assert.Equal(t, 45*time.Second, cfg.GetWriteTimeout())
	assert.Equal(t, 60*time.Second, cfg.GetIdleTimeout())
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HWREG_SYSFS_ROOT", "/fixture/sys")
	t.Setenv("HWREG_PARENT_TIMEOUT", "5s")
	t.Setenv("HWREG_WORKERS", "8")
	t.Setenv("HWREG_DATABASE_PATH", "/custom/path.db")
	t.Setenv("HWREG_MQTT_HOST", "mqtt.example.com")
	t.Setenv("HWREG_MQTT_USERNAME", "testuser")
	t.Setenv("HWREG_MQTT_PASSWORD", "testpass")
	t.Setenv("HWREG_API_HOST", "192.168.1.1")
	t.Setenv("HWREG_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	assert.Equal(t, "/fixture/sys", cfg.Discovery.SysfsRoot)
	assert.Equal(t, 5*time.Second, cfg.Discovery.ParentTimeout)
	assert.Equal(t, 8, cfg.Discovery.Workers)
	assert.Equal(t, "/custom/path.db", cfg.Database.Path)
	assert.Equal(t, "mqtt.example.com", cfg.MQTT.Broker.Host)
	assert.Equal(t, "testuser", cfg.MQTT.Auth.Username)
	assert.Equal(t, "testpass", cfg.MQTT.Auth.Password)
	assert.Equal(t, "192.168.1.1", cfg.API.Host)
	assert.Equal(t, "secret-token", cfg.InfluxDB.Token)
}

func TestApplyEnvOverrides_IgnoresMalformedNumbers(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("HWREG_PARENT_TIMEOUT", "soon")
	t.Setenv("HWREG_WORKERS", "many")

	applyEnvOverrides(cfg)

	assert.Equal(t, 60*time.Second, cfg.Discovery.ParentTimeout)
	assert.Equal(t, 4, cfg.Discovery.Workers)
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	assert.Equal(t, "block_", cfg.Registry.BlockPrefix)
	assert.Equal(t, "/sys", cfg.Discovery.SysfsRoot)
	assert.Equal(t, 60*time.Second, cfg.Discovery.ParentTimeout)
	assert.Equal(t, time.Duration(0), cfg.Discovery.ProbeParentTimeout)
	assert.Equal(t, "/proc/ide/%s/model", cfg.Discovery.IDEModelPath)
	assert.Equal(t, "/proc/ide/%s/media", cfg.Discovery.IDEMediaPath)
	assert.Equal(t, 1883, cfg.MQTT.Broker.Port)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RejectsPathPrefix(t *testing.T) {
	path := writeConfig(t, `
registry:
  block_prefix: "/org/freedesktop/Hal/devices/block_"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry.block_prefix")
}

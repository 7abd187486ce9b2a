package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"PRINTER_HOST", "PRINTER_PORT", "NATS_URL", "MQTT_BROKER", "DATABASE_URL", "JWT_SECRET", "LOG_LEVEL"} {
		t.Setenv(k, "")
	}
}

func TestParseDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, "192.168.178.34", cfg.Printer.Host)
	assert.Equal(t, 3030, cfg.Printer.Port)
	assert.Equal(t, 3031, cfg.Printer.CameraPort)
	assert.Equal(t, 10*time.Second, cfg.Printer.PollInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Printer.HeartbeatInterval.Duration)
	assert.Equal(t, 30*time.Second, cfg.Printer.ReconnectInterval.Duration)
	assert.Equal(t, 5*time.Second, cfg.Printer.ValidationTimeout.Duration)
	assert.Equal(t, 30*time.Second, cfg.Printer.CommandTimeout.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.ClearAfter.Duration)
	assert.Equal(t, 40.0, cfg.Alerts.CooldownThreshold)
	assert.Equal(t, 10.0, cfg.Alerts.TemperatureDelta)
	assert.Equal(t, 2*time.Second, cfg.Discovery.Timeout.Duration)
	assert.Equal(t, 16, cfg.Discovery.Concurrency)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

func TestParseDurations(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte(`
printer:
  host: 10.0.0.7
  poll_interval: 3s
alerts:
  clear_after: 1m
`))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.7", cfg.Printer.Host)
	assert.Equal(t, 3*time.Second, cfg.Printer.PollInterval.Duration)
	assert.Equal(t, time.Minute, cfg.Alerts.ClearAfter.Duration)

	_, err = Parse([]byte("printer:\n  poll_interval: soon\n"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PRINTER_HOST", "printer.lan")
	t.Setenv("PRINTER_PORT", "4040")
	t.Setenv("NATS_URL", "nats://nats:4222")
	t.Setenv("MQTT_BROKER", "tcp://mqtt:1883")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Parse([]byte("printer:\n  host: 10.0.0.7\n"))
	require.NoError(t, err)
	assert.Equal(t, "printer.lan", cfg.Printer.Host)
	assert.Equal(t, 4040, cfg.Printer.Port)
	assert.Equal(t, "nats://nats:4222", cfg.NATS.URL)
	assert.Equal(t, "tcp://mqtt:1883", cfg.MQTT.Broker)
	assert.Equal(t, "debug", cfg.Log.Level)

	t.Setenv("PRINTER_PORT", "abc")
	_, err = Parse([]byte("{}"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	cfg.Printer.Port = 70000
	cfg.Printer.PollInterval.Duration = -time.Second
	cfg.MQTT.QoS = 3

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "printer.port 70000 out of range")
	assert.Contains(t, err.Error(), "printer.poll_interval must be positive")
	assert.Contains(t, err.Error(), "mqtt.qos 3")
}

func TestLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bridge.yml")
	require.NoError(t, os.WriteFile(path, []byte("printer:\n  port: 3031\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3031, cfg.Printer.Port)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestLoadShippedConfig(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join("..", "..", "config", "sdcp-bridge.yml"))
	require.NoError(t, err)
	assert.NoError(t, cfg.Validate())
}

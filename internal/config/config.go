package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Printer   PrinterConfig   `yaml:"printer"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	NATS      NATSConfig      `yaml:"nats"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Database  DatabaseConfig  `yaml:"database"`
	API       APIConfig       `yaml:"api"`
	JWT       JWTConfig       `yaml:"jwt"`
	Log       LogConfig       `yaml:"log"`
}

// Duration is a time.Duration written as "10s" or "5m" in YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Duration = v
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// PrinterConfig represents the printer connection
type PrinterConfig struct {
	Host              string   `yaml:"host"`
	Port              int      `yaml:"port"`
	CameraPort        int      `yaml:"camera_port"`
	PollInterval      Duration `yaml:"poll_interval"`
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
	ValidationTimeout Duration `yaml:"validation_timeout"`
	CommandTimeout    Duration `yaml:"command_timeout"`
	DialTimeout       Duration `yaml:"dial_timeout"`
	PrintFile         string   `yaml:"print_file"`
}

// AlertsConfig represents alert thresholds
type AlertsConfig struct {
	ClearAfter        Duration `yaml:"clear_after"`
	CooldownThreshold float64  `yaml:"cooldown_threshold"`
	TemperatureDelta  float64  `yaml:"temperature_delta"`
}

// DiscoveryConfig represents subnet discovery
type DiscoveryConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Timeout     Duration `yaml:"timeout"`
	Concurrency int      `yaml:"concurrency"`
}

// NATSConfig represents NATS configuration. An empty URL disables NATS.
type NATSConfig struct {
	URL               string   `yaml:"url"`
	ClientID          string   `yaml:"client_id"`
	Username          string   `yaml:"username"`
	Password          string   `yaml:"password"`
	SubjectPrefix     string   `yaml:"subject_prefix"`
	Bucket            string   `yaml:"bucket"`
	MaxReconnects     int      `yaml:"max_reconnects"`
	ReconnectInterval Duration `yaml:"reconnect_interval"`
}

// MQTTConfig represents MQTT configuration. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TLS         bool   `yaml:"tls"`
	QoS         int    `yaml:"qos"`
	TopicPrefix string `yaml:"topic_prefix"`
}

// DatabaseConfig represents database configuration. An empty DSN disables
// event history.
type DatabaseConfig struct {
	DSN       string   `yaml:"dsn"`
	QueueSize int      `yaml:"queue_size"`
	Retention Duration `yaml:"retention"`
}

// APIConfig represents API configuration. Port 0 disables the REST server.
type APIConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

// JWTConfig represents JWT configuration. An empty secret leaves the control
// routes open.
type JWTConfig struct {
	Secret            string   `yaml:"secret"`
	AccessTokenTTL    Duration `yaml:"access_token_ttl"`
	AdminUser         string   `yaml:"admin_user"`
	AdminPasswordHash string   `yaml:"admin_password_hash"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load loads configuration from file
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, then applies environment overrides and defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.setDefaults()

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() error {
	if host := os.Getenv("PRINTER_HOST"); host != "" {
		c.Printer.Host = host
	}

	if port := os.Getenv("PRINTER_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("PRINTER_PORT: %w", err)
		}
		c.Printer.Port = p
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		c.NATS.URL = natsURL
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Database.DSN = dsn
	}

	if jwtSecret := os.Getenv("JWT_SECRET"); jwtSecret != "" {
		c.JWT.Secret = jwtSecret
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		c.Log.Level = logLevel
	}

	return nil
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration == 0 {
		d.Duration = def
	}
}

// setDefaults fills every unset value
func (c *Config) setDefaults() {
	if c.Printer.Host == "" {
		c.Printer.Host = "192.168.178.34"
	}
	if c.Printer.Port == 0 {
		c.Printer.Port = 3030
	}
	if c.Printer.CameraPort == 0 {
		c.Printer.CameraPort = 3031
	}
	setDuration(&c.Printer.PollInterval, 10*time.Second)
	setDuration(&c.Printer.HeartbeatInterval, 30*time.Second)
	setDuration(&c.Printer.ReconnectInterval, 30*time.Second)
	setDuration(&c.Printer.ValidationTimeout, 5*time.Second)
	setDuration(&c.Printer.CommandTimeout, 30*time.Second)
	setDuration(&c.Printer.DialTimeout, 10*time.Second)

	setDuration(&c.Alerts.ClearAfter, 300*time.Second)
	if c.Alerts.CooldownThreshold == 0 {
		c.Alerts.CooldownThreshold = 40
	}
	if c.Alerts.TemperatureDelta == 0 {
		c.Alerts.TemperatureDelta = 10
	}

	setDuration(&c.Discovery.Timeout, 2*time.Second)
	if c.Discovery.Concurrency == 0 {
		c.Discovery.Concurrency = 16
	}

	if c.NATS.ClientID == "" {
		c.NATS.ClientID = "sdcp-bridge"
	}
	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = "sdcp"
	}
	if c.NATS.Bucket == "" {
		c.NATS.Bucket = "sdcp_state"
	}
	if c.NATS.MaxReconnects == 0 {
		c.NATS.MaxReconnects = -1
	}
	setDuration(&c.NATS.ReconnectInterval, 2*time.Second)

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "sdcp-bridge"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "sdcp"
	}

	if c.Database.QueueSize == 0 {
		c.Database.QueueSize = 128
	}

	if c.API.Host == "" {
		c.API.Host = "0.0.0.0"
	}

	setDuration(&c.JWT.AccessTokenTTL, 12*time.Hour)
	if c.JWT.AdminUser == "" {
		c.JWT.AdminUser = "admin"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
}

// Validate reports every invalid setting
func (c *Config) Validate() error {
	var errs []error

	if c.Printer.Host == "" {
		errs = append(errs, errors.New("printer.host is required"))
	}
	if c.Printer.Port < 1 || c.Printer.Port > 65535 {
		errs = append(errs, fmt.Errorf("printer.port %d out of range", c.Printer.Port))
	}

	intervals := []struct {
		name string
		d    Duration
	}{
		{"printer.poll_interval", c.Printer.PollInterval},
		{"printer.heartbeat_interval", c.Printer.HeartbeatInterval},
		{"printer.reconnect_interval", c.Printer.ReconnectInterval},
		{"printer.validation_timeout", c.Printer.ValidationTimeout},
		{"printer.command_timeout", c.Printer.CommandTimeout},
		{"alerts.clear_after", c.Alerts.ClearAfter},
		{"discovery.timeout", c.Discovery.Timeout},
	}
	for _, iv := range intervals {
		if iv.d.Duration <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", iv.name))
		}
	}

	if c.Alerts.TemperatureDelta < 0 {
		errs = append(errs, errors.New("alerts.temperature_delta must not be negative"))
	}
	if c.Discovery.Concurrency < 1 {
		errs = append(errs, errors.New("discovery.concurrency must be at least 1"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos %d must be 0, 1 or 2", c.MQTT.QoS))
	}
	if c.Printer.CameraPort < 0 || c.Printer.CameraPort > 65535 {
		errs = append(errs, fmt.Errorf("printer.camera_port %d out of range", c.Printer.CameraPort))
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port %d out of range", c.API.Port))
	}
	if c.JWT.AdminPasswordHash != "" && c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required when jwt.admin_password_hash is set"))
	}

	return errors.Join(errs...)
}

// PrintConfigSummary prints the effective configuration without secrets.
func (c *Config) PrintConfigSummary() {
	fmt.Printf("=== SDCP Bridge Configuration ===\n")
	fmt.Printf("Printer: %s:%d\n", c.Printer.Host, c.Printer.Port)
	fmt.Printf("  Poll: %s, Heartbeat: %s, Reconnect: %s\n",
		c.Printer.PollInterval, c.Printer.HeartbeatInterval, c.Printer.ReconnectInterval)
	fmt.Printf("  Validation timeout: %s, Command timeout: %s\n",
		c.Printer.ValidationTimeout, c.Printer.CommandTimeout)
	fmt.Printf("Alerts: clear after %s, cooldown %.1f°C, delta %.1f°C\n",
		c.Alerts.ClearAfter, c.Alerts.CooldownThreshold, c.Alerts.TemperatureDelta)
	fmt.Printf("Discovery: enabled=%v timeout=%s concurrency=%d\n",
		c.Discovery.Enabled, c.Discovery.Timeout, c.Discovery.Concurrency)

	fmt.Printf("NATS: %s\n", enabled(c.NATS.URL, c.NATS.URL+" ("+c.NATS.SubjectPrefix+".*)"))
	fmt.Printf("MQTT: %s\n", enabled(c.MQTT.Broker, c.MQTT.Broker+" ("+c.MQTT.TopicPrefix+"/#)"))
	fmt.Printf("Event history: %s\n", enabled(c.Database.DSN, "postgres"))

	if c.API.Port > 0 {
		fmt.Printf("API: %s:%d (auth=%v)\n", c.API.Host, c.API.Port, c.JWT.Secret != "")
	} else {
		fmt.Printf("API: disabled\n")
	}
	fmt.Printf("Log: %s/%s\n", c.Log.Level, c.Log.Format)
	fmt.Printf("=================================\n")
}

func enabled(setting, desc string) string {
	if setting == "" {
		return "disabled"
	}
	return desc
}

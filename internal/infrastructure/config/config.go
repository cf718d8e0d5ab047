package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the session manager configuration, one field per top-level
// section of config.yaml.
type Config struct {
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// MQTTConfig contains the broker session settings.
type MQTTConfig struct {
	Broker        MQTTBrokerConfig         `yaml:"broker"`
	Auth          MQTTAuthConfig           `yaml:"auth"`
	Session       MQTTSessionConfig        `yaml:"session"`
	Subscriptions []MQTTSubscriptionConfig `yaml:"subscriptions"`

	// WildcardDispatch enables +/# matching in the dispatch router when no
	// subscription matches an inbound topic exactly.
	WildcardDispatch bool `yaml:"wildcard_dispatch"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`

	// ProtocolVersion is one of "3.1", "3.1.1" or "5".
	ProtocolVersion string `yaml:"protocol_version"`

	// Transport is "tcp" or "websockets".
	Transport string `yaml:"transport"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTSessionConfig contains session continuation and reconnect settings.
type MQTTSessionConfig struct {
	// KeepAlive is the keepalive interval in seconds.
	KeepAlive int `yaml:"keepalive"`

	// SessionExpiry is the MQTT 5 session expiry interval in seconds.
	// Ignored for 3.1 and 3.1.1.
	SessionExpiry int `yaml:"session_expiry"`

	// AutoReconnect re-issues a connect after every unexpected disconnect.
	// There is no backoff between attempts.
	AutoReconnect bool `yaml:"auto_reconnect"`
}

// MQTTSubscriptionConfig declares a subscription registered at startup.
type MQTTSubscriptionConfig struct {
	Topic string `yaml:"topic"`
	QoS   int    `yaml:"qos"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
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

// APIConfig contains the status HTTP server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the session event stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the YAML file at path over the defaults, applies GRAYLOGIC_*
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:            "localhost",
				Port:            1883,
				ProtocolVersion: "3.1.1",
				Transport:       "tcp",
			},
			Session: MQTTSessionConfig{
				KeepAlive:     60,
				SessionExpiry: 1800,
				AutoReconnect: true,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/graysession.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{BatchSize: 100, FlushInterval: 10},
		API: APIConfig{
			Host:     "127.0.0.1",
			Port:     8081,
			Timeouts: APITimeoutConfig{Read: 10, Write: 10, Idle: 60},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30,
				PongTimeout:    10,
			},
		},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// envOverride binds one environment variable to a config field.
type envOverride struct {
	name  string
	apply func(cfg *Config, value string)
}

// envOverrides lists the supported variables. Values that do not parse are
// ignored.
var envOverrides = []envOverride{
	{"GRAYLOGIC_MQTT_HOST", func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{"GRAYLOGIC_MQTT_PORT", func(c *Config, v string) {
		if port, err := strconv.Atoi(v); err == nil {
			c.MQTT.Broker.Port = port
		}
	}},
	{"GRAYLOGIC_MQTT_CLIENT_ID", func(c *Config, v string) { c.MQTT.Broker.ClientID = v }},
	{"GRAYLOGIC_MQTT_PROTOCOL_VERSION", func(c *Config, v string) { c.MQTT.Broker.ProtocolVersion = v }},
	{"GRAYLOGIC_MQTT_TRANSPORT", func(c *Config, v string) { c.MQTT.Broker.Transport = v }},
	{"GRAYLOGIC_MQTT_USERNAME", func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{"GRAYLOGIC_MQTT_PASSWORD", func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{"GRAYLOGIC_DATABASE_PATH", func(c *Config, v string) { c.Database.Path = v }},
	{"GRAYLOGIC_INFLUXDB_TOKEN", func(c *Config, v string) { c.InfluxDB.Token = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(o.name); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem found, joined into one error. Sections of
// disabled subsystems are not checked.
func (c *Config) Validate() error {
	var errs []string
	errs = c.MQTT.validate(errs)

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.API.Enabled {
		errs = c.API.validate(errs)
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (m MQTTConfig) validate(errs []string) []string {
	b := m.Broker
	if b.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if !validPort(b.Port) {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	switch b.ProtocolVersion {
	case "3.1", "3.1.1", "5":
	default:
		errs = append(errs, `mqtt.broker.protocol_version must be "3.1", "3.1.1" or "5"`)
	}
	switch strings.ToLower(b.Transport) {
	case "tcp", "websockets":
	default:
		errs = append(errs, `mqtt.broker.transport must be "tcp" or "websockets"`)
	}

	if ka := m.Session.KeepAlive; ka < 0 || ka > 65535 {
		errs = append(errs, "mqtt.session.keepalive must be between 0 and 65535")
	}
	if m.Session.SessionExpiry < 0 {
		errs = append(errs, "mqtt.session.session_expiry must not be negative")
	}

	for i, sub := range m.Subscriptions {
		if sub.Topic == "" {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].topic is required", i))
		}
		if sub.QoS < 0 || sub.QoS > 2 {
			errs = append(errs, fmt.Sprintf("mqtt.subscriptions[%d].qos must be 0, 1, or 2", i))
		}
	}
	return errs
}

func (a APIConfig) validate(errs []string) []string {
	if !validPort(a.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if a.WebSocket.PingInterval < 1 || a.WebSocket.PongTimeout < 1 {
		errs = append(errs, "api.websocket ping_interval and pong_timeout must be positive")
	}
	return errs
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}

// KeepAlive returns the MQTT keepalive interval as a Duration.
func (c MQTTConfig) KeepAlive() time.Duration {
	return time.Duration(c.Session.KeepAlive) * time.Second
}

// SessionExpiry returns the MQTT 5 session expiry interval as a Duration.
func (c MQTTConfig) SessionExpiry() time.Duration {
	return time.Duration(c.Session.SessionExpiry) * time.Second
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

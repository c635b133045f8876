// Package config handles configuration persistence for the fieldlink
// gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"fieldlink/channel"
	"fieldlink/driver"
)

// Config holds the complete gateway configuration.
type Config struct {
	Namespace string          `yaml:"namespace"` // instance namespace for topic/key isolation
	Device    DeviceConfig    `yaml:"device"`
	Channels  []ChannelConfig `yaml:"channels"`
	PollRate  time.Duration   `yaml:"poll_rate"`
	Web       WebConfig       `yaml:"web"`
	MQTT      []MQTTConfig    `yaml:"mqtt,omitempty"`
	Valkey    []ValkeyConfig  `yaml:"valkey,omitempty"`
	Kafka     []KafkaConfig   `yaml:"kafka,omitempty"`

	// Data mutex protects config fields against concurrent access when the
	// gateway mutates and saves at runtime.
	dataMu sync.Mutex `yaml:"-"`
}

// DeviceConfig holds the remote device connection parameters.
type DeviceConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	UID            string        `yaml:"uid"` // device instance identifier
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`
	Simulate       bool          `yaml:"simulate,omitempty"` // back the gateway with the simulated device
}

// Properties converts the device configuration into the untyped properties
// map consumed by the driver lifecycle hooks.
func (d DeviceConfig) Properties() map[string]interface{} {
	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = driver.DefaultConnectTimeout
	}
	return map[string]interface{}{
		"host":               d.Host,
		"port":               d.Port,
		"device.uid":         d.UID,
		"connect.timeout.ms": int(timeout / time.Millisecond),
	}
}

// ChannelConfig describes one channel exposed by the gateway.
type ChannelConfig struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // BOOLEAN, INTEGER, LONG, FLOAT, DOUBLE, STRING, BYTE_ARRAY
	Enabled  bool   `yaml:"enabled"`
	Writable bool   `yaml:"writable,omitempty"`
}

// DataType returns the parsed channel value type.
func (c ChannelConfig) DataType() (channel.DataType, error) {
	return channel.ParseDataType(c.Type)
}

// Properties converts the channel configuration into the raw channel config
// map used for listener registration and prepared reads.
func (c ChannelConfig) Properties() map[string]interface{} {
	return map[string]interface{}{
		driver.ChannelNameKey:      c.Name,
		driver.ChannelValueTypeKey: c.Type,
	}
}

// WebConfig holds the REST API server configuration.
type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// MQTTConfig holds MQTT republisher configuration.
type MQTTConfig struct {
	Name         string `yaml:"name"`
	Enabled      bool   `yaml:"enabled"`
	Broker       string `yaml:"broker"`
	Port         int    `yaml:"port"`
	Username     string `yaml:"username,omitempty"`
	Password     string `yaml:"password,omitempty"`
	ClientID     string `yaml:"client_id"`
	UseTLS       bool   `yaml:"use_tls,omitempty"`
	Retain       bool   `yaml:"retain,omitempty"`
	EnableWrites bool   `yaml:"enable_writes,omitempty"` // consume write requests from the write topic
}

// ValkeyConfig holds Valkey/Redis cache publisher configuration.
type ValkeyConfig struct {
	Name           string        `yaml:"name"`
	Enabled        bool          `yaml:"enabled"`
	Address        string        `yaml:"address"` // host:port
	Password       string        `yaml:"password,omitempty"`
	Database       int           `yaml:"database"`
	UseTLS         bool          `yaml:"use_tls,omitempty"`
	KeyTTL         time.Duration `yaml:"key_ttl,omitempty"`         // 0 = no expiry
	PublishChanges bool          `yaml:"publish_changes,omitempty"` // also publish to Pub/Sub
}

// KafkaConfig holds Kafka producer configuration.
type KafkaConfig struct {
	Name          string        `yaml:"name"`
	Enabled       bool          `yaml:"enabled"`
	Brokers       []string      `yaml:"brokers"`
	Topic         string        `yaml:"topic"`
	UseTLS        bool          `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool          `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string        `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	RequiredAcks  int           `yaml:"required_acks,omitempty"` // -1=all, 0=none, 1=leader
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	RetryBackoff  time.Duration `yaml:"retry_backoff,omitempty"`
}

// DefaultConfig returns a config with sane defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Namespace: "fieldlink",
		Device: DeviceConfig{
			Host:           "127.0.0.1",
			Port:           4223,
			UID:            "dev0",
			ConnectTimeout: driver.DefaultConnectTimeout,
			Simulate:       true,
		},
		PollRate: time.Second,
		Web: WebConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8735,
		},
	}
}

// DefaultPath returns the default configuration file location.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".fieldlink", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults; a malformed file is an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a sparse YAML file.
func (c *Config) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = "fieldlink"
	}
	if c.PollRate <= 0 {
		c.PollRate = time.Second
	}
	if c.Device.ConnectTimeout <= 0 {
		c.Device.ConnectTimeout = driver.DefaultConnectTimeout
	}
}

// Validate checks cross-field constraints that YAML parsing cannot.
func (c *Config) Validate() error {
	if c.Device.Host == "" {
		return fmt.Errorf("device: host is required")
	}
	if c.Device.Port <= 0 || c.Device.Port > 65535 {
		return fmt.Errorf("device: port %d out of range", c.Device.Port)
	}
	if c.Device.UID == "" {
		return fmt.Errorf("device: uid is required")
	}

	seen := make(map[string]bool, len(c.Channels))
	for i := range c.Channels {
		ch := &c.Channels[i]
		if ch.Name == "" {
			return fmt.Errorf("channels[%d]: name is required", i)
		}
		if seen[ch.Name] {
			return fmt.Errorf("channels[%d]: duplicate channel %q", i, ch.Name)
		}
		seen[ch.Name] = true
		if _, err := ch.DataType(); err != nil {
			return fmt.Errorf("channel %q: %w", ch.Name, err)
		}
	}

	for i := range c.Kafka {
		k := &c.Kafka[i]
		if k.Enabled && len(k.Brokers) == 0 {
			return fmt.Errorf("kafka %q: at least one broker is required", k.Name)
		}
	}
	return nil
}

// Save marshals the configuration and writes it to path.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindChannel returns the channel config with the given name, or nil.
func (c *Config) FindChannel(name string) *ChannelConfig {
	for i := range c.Channels {
		if c.Channels[i].Name == name {
			return &c.Channels[i]
		}
	}
	return nil
}

// EnabledChannels returns the channels the gateway should poll and expose.
func (c *Config) EnabledChannels() []ChannelConfig {
	out := make([]ChannelConfig, 0, len(c.Channels))
	for _, ch := range c.Channels {
		if ch.Enabled {
			out = append(out, ch)
		}
	}
	return out
}

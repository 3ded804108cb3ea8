// Package config loads the stockwatch YAML configuration.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/viant/stockwatch/alert"
	"github.com/viant/stockwatch/inventory"
)

// Config represents the complete stockwatch configuration
type Config struct {
	Database         string            `yaml:"database"`
	Stream           string            `yaml:"stream"` // stream id; random when empty
	Tables           TablesConfig      `yaml:"tables"`
	Vocabulary       []string          `yaml:"vocabulary"`
	Thresholds       []ThresholdConfig `yaml:"thresholds"` // declared order is kept
	Detector         DetectorConfig    `yaml:"detector"`
	History          HistoryConfig     `yaml:"history"`
	Alert            AlertConfig       `yaml:"alert"`
	MQTT             MQTTConfig        `yaml:"mqtt"`
	HTTP             HTTPConfig        `yaml:"http"`
	Metrics          MetricsConfig     `yaml:"metrics"`
	Log              LogConfig         `yaml:"log"`
	ShutdownTimeoutS int               `yaml:"shutdown_timeout_s"` // default: 5
}

// TablesConfig names the SQLite tables
type TablesConfig struct {
	Observations string `yaml:"observations"`
	Thresholds   string `yaml:"thresholds"`
}

// ThresholdConfig is one configured minimum
type ThresholdConfig struct {
	Item    string `yaml:"item"`
	Minimum int    `yaml:"minimum"`
}

// DetectorConfig contains detection settings
type DetectorConfig struct {
	Confidence float64 `yaml:"confidence"` // (0,1], default 0.40
}

// HistoryConfig contains history view settings
type HistoryConfig struct {
	Size int `yaml:"size"` // records shown by default, default 30
}

// AlertConfig contains alerting settings
type AlertConfig struct {
	UnobservedDeficient bool  `yaml:"unobserved_deficient"`
	Log                 *bool `yaml:"log"` // log deficient items, default true
}

// MQTTConfig contains MQTT broker settings; an empty broker disables MQTT
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// HTTPConfig contains the inventory API settings; an empty addr disables it
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig contains the Prometheus endpoint settings
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, inventory.Configurationf("failed to read config file: %v", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML configuration data
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, inventory.Configurationf("failed to parse config: %v", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// VocabularySet returns the configured vocabulary.
func (c *Config) VocabularySet() (inventory.Vocabulary, error) {
	return inventory.NewVocabulary(c.Vocabulary...)
}

// ThresholdTable returns the configured thresholds in declared order.
func (c *Config) ThresholdTable() (inventory.ThresholdTable, error) {
	entries := make([]inventory.Threshold, len(c.Thresholds))
	for i, th := range c.Thresholds {
		entries[i] = inventory.Threshold{Item: inventory.ItemClass(th.Item), Minimum: th.Minimum}
	}
	return inventory.NewThresholdTable(entries...)
}

// MQTTOptions returns the alert sink options.
func (c *Config) MQTTOptions() alert.MQTTOptions {
	return alert.MQTTOptions{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         c.MQTT.QoS,
	}
}

// LogDeficient reports whether deficient items are logged.
func (c *Config) LogDeficient() bool {
	return c.Alert.Log == nil || *c.Alert.Log
}

// ShutdownTimeout returns the graceful shutdown timeout.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutS) * time.Second
}

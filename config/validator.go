package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/viant/stockwatch/inventory"
	"github.com/viant/stockwatch/store"
)

const (
	DefaultDatabase    = "warehouse.db"
	DefaultConfidence  = 0.40
	DefaultHistorySize = 30
	DefaultTopicPrefix = "stockwatch"
)

// Validate checks the configuration and fills in defaults. Every failure is
// an *inventory.ConfigurationError.
func Validate(cfg *Config) error {
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}
	if cfg.Tables.Observations == "" {
		cfg.Tables.Observations = store.DefaultObservationTable
	}
	if cfg.Tables.Thresholds == "" {
		cfg.Tables.Thresholds = store.DefaultThresholdTable
	}

	// Vocabulary
	vocab, err := cfg.VocabularySet()
	if err != nil {
		return err
	}
	if err := store.CheckVocabulary(vocab); err != nil {
		return err
	}

	// Thresholds may be empty here; the run command reads them from the
	// database and the seed command requires them.
	if _, err := cfg.ThresholdTable(); err != nil {
		return err
	}

	if cfg.Detector.Confidence == 0 {
		cfg.Detector.Confidence = DefaultConfidence
	}
	if cfg.Detector.Confidence < 0 || cfg.Detector.Confidence > 1 {
		return inventory.Configurationf("detector.confidence must be in (0, 1], got %v", cfg.Detector.Confidence)
	}

	if cfg.History.Size == 0 {
		cfg.History.Size = DefaultHistorySize
	}
	if cfg.History.Size < 0 {
		return inventory.Configurationf("history.size must be > 0")
	}

	// MQTT is optional
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = "stockwatch-" + uuid.NewString()[:8]
		}
		if cfg.MQTT.TopicPrefix == "" {
			cfg.MQTT.TopicPrefix = DefaultTopicPrefix
		}
		if cfg.MQTT.QoS > 2 {
			return inventory.Configurationf("mqtt.qos must be 0, 1 or 2")
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "":
		cfg.Log.Level = "info"
	case "debug", "info", "warn", "error":
		cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	default:
		return inventory.Configurationf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "":
		cfg.Log.Format = "json"
	case "json", "text":
		cfg.Log.Format = strings.ToLower(cfg.Log.Format)
	default:
		return inventory.Configurationf("log.format must be json or text, got %q", cfg.Log.Format)
	}

	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 5
	}
	if cfg.HTTP.Addr != "" && cfg.HTTP.Addr == cfg.Metrics.Addr {
		return inventory.Configurationf("http.addr and metrics.addr must differ, both are %s", cfg.HTTP.Addr)
	}
	return nil
}

// RequireThresholds fails when no threshold is configured.
func (c *Config) RequireThresholds() error {
	if len(c.Thresholds) == 0 {
		return inventory.Configurationf("no thresholds configured")
	}
	return nil
}

// String summarises the configuration for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("database=%s items=%d thresholds=%d confidence=%.2f", c.Database, len(c.Vocabulary), len(c.Thresholds), c.Detector.Confidence)
}

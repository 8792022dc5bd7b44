// Package config loads the service configuration from YAML. Everything
// has a production default; an empty file is a valid configuration.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/safetrade/escrowd/internal/escrow"
	"github.com/safetrade/escrowd/internal/reconcile"
	"github.com/safetrade/escrowd/internal/schedule"
)

// Config is the full service configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Windows  WindowsConfig  `yaml:"windows"`
	Jobs     JobsConfig     `yaml:"jobs"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WindowsConfig holds the timeout windows as Go duration strings, e.g.
// "168h".
type WindowsConfig struct {
	Shipped    Duration `yaml:"shipped"`
	Delivered  Duration `yaml:"delivered"`
	Inspection Duration `yaml:"inspection"`
	Completed  Duration `yaml:"completed"`
}

// JobsConfig tunes the reconciliation jobs.
type JobsConfig struct {
	// BatchSize bounds rows touched per job run.
	BatchSize int `yaml:"batch_size"`

	// MaxAge bounds the frequent ensure-scheduling scan. The daily
	// comprehensive sweep covers older rows.
	MaxAge Duration `yaml:"max_age"`

	// Retention is how long terminal transactions keep scheduling
	// bookkeeping before cleanup clears it.
	Retention Duration `yaml:"retention"`

	// StalledAfter is the validator's staleness horizon.
	StalledAfter Duration `yaml:"stalled_after"`
}

// KafkaConfig enables the Kafka notification bridge when Broker is set.
type KafkaConfig struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// RedisConfig enables the Redis health reporter when Addr is set.
type RedisConfig struct {
	Addr   string   `yaml:"addr"`
	Prefix string   `yaml:"prefix"`
	TTL    Duration `yaml:"ttl"`
}

// Default returns the production defaults.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: "escrowd.db"},
		Windows: WindowsConfig{
			Shipped:    Duration(schedule.DefaultShippedWindow),
			Delivered:  Duration(schedule.DefaultDeliveredWindow),
			Inspection: Duration(schedule.DefaultInspectionWindow),
			Completed:  Duration(schedule.DefaultCompletedWindow),
		},
		Jobs: JobsConfig{
			BatchSize:    reconcile.DefaultBatchSize,
			MaxAge:       Duration(2 * time.Hour),
			Retention:    Duration(reconcile.DefaultRetention),
			StalledAfter: Duration(reconcile.DefaultStalledAfter),
		},
		Kafka: KafkaConfig{Topic: "escrow-notifications"},
		Redis: RedisConfig{Prefix: "escrowd", TTL: Duration(8 * time.Hour)},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged. Unknown fields are rejected to catch typos.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if err := c.ScheduleWindows().Validate(); err != nil {
		return fmt.Errorf("windows: %w", err)
	}
	if c.Jobs.BatchSize <= 0 {
		return fmt.Errorf("jobs.batch_size must be positive")
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("jobs.retention must be positive")
	}
	if c.Kafka.Broker != "" && c.Kafka.Topic == "" {
		return fmt.Errorf("kafka.topic is required when kafka.broker is set")
	}
	return nil
}

// ScheduleWindows converts the config shape to scheduler windows.
func (c Config) ScheduleWindows() schedule.Windows {
	return schedule.Windows{
		escrow.StatusShipped:    c.Windows.Shipped.Std(),
		escrow.StatusDelivered:  c.Windows.Delivered.Std(),
		escrow.StatusInspection: c.Windows.Inspection.Std(),
		escrow.StatusCompleted:  c.Windows.Completed.Std(),
	}
}

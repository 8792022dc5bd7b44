package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/safetrade/escrowd/internal/escrow"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "escrowd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /var/lib/escrowd/prod.db
windows:
  shipped: 240h
jobs:
  batch_size: 100
  retention: 1440h
kafka:
  broker: kafka-1:9092
  topic: escrow-events
redis:
  addr: redis-1:6379
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/escrowd/prod.db", cfg.Database.Path)
	assert.Equal(t, 240*time.Hour, cfg.Windows.Shipped.Std())
	// Untouched fields keep their defaults.
	assert.Equal(t, 72*time.Hour, cfg.Windows.Delivered.Std())
	assert.Equal(t, 100, cfg.Jobs.BatchSize)
	assert.Equal(t, 60*24*time.Hour, cfg.Jobs.Retention.Std())
	assert.Equal(t, "kafka-1:9092", cfg.Kafka.Broker)
	assert.Equal(t, "escrow-events", cfg.Kafka.Topic)
	assert.Equal(t, "redis-1:6379", cfg.Redis.Addr)
	assert.Equal(t, "escrowd", cfg.Redis.Prefix)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
database:
  pth: typo.db
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadWindows(t *testing.T) {
	path := writeConfig(t, `
windows:
  shipped: 0h
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsKafkaWithoutTopic(t *testing.T) {
	path := writeConfig(t, `
kafka:
  broker: kafka-1:9092
  topic: ""
`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestScheduleWindows(t *testing.T) {
	w := Default().ScheduleWindows()

	assert.Equal(t, 7*24*time.Hour, w[escrow.StatusShipped])
	assert.Equal(t, 3*24*time.Hour, w[escrow.StatusDelivered])
	assert.Equal(t, 7*24*time.Hour, w[escrow.StatusInspection])
	assert.Equal(t, 24*time.Hour, w[escrow.StatusCompleted])
	require.NoError(t, w.Validate())
}

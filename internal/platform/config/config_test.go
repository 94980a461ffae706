package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg := FromEnv()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 60*time.Second, cfg.SLA.SweepInterval)
	assert.Equal(t, time.Hour, cfg.SLA.DedupWindow)
	assert.False(t, cfg.Approval.StrictSequential, "permissive sequencing by default")
	assert.False(t, cfg.Approval.CascadeSkip)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("AUDITFLOW_ADDR", ":9090")
	t.Setenv("SLA_SWEEP_INTERVAL", "15s")
	t.Setenv("SLA_SWEEP_CONCURRENCY", "32")
	t.Setenv("APPROVAL_STRICT_SEQUENTIAL", "true")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")

	cfg := FromEnv()

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.SLA.SweepInterval)
	assert.Equal(t, 32, cfg.SLA.SweepConcurrency)
	assert.True(t, cfg.Approval.StrictSequential)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("SLA_SWEEP_INTERVAL", "soon")
	t.Setenv("NOTIFY_WORKERS", "-2")

	cfg := FromEnv()

	assert.Equal(t, 60*time.Second, cfg.SLA.SweepInterval)
	assert.Equal(t, 4, cfg.Notification.Workers)
}

func TestFromEnv_ZeroRetriesAllowed(t *testing.T) {
	t.Setenv("NOTIFY_MAX_RETRIES", "0")

	cfg := FromEnv()

	assert.Equal(t, 0, cfg.Notification.MaxRetries)
}

func TestFromEnv_OutOfRangeKafkaSizingFallsBack(t *testing.T) {
	t.Run("partitions beyond int32", func(t *testing.T) {
		t.Setenv("KAFKA_NOTIFICATION_PARTITIONS", "4294967297")
		assert.Equal(t, int32(3), FromEnv().Kafka.Partitions)
	})

	t.Run("replication factor beyond int16", func(t *testing.T) {
		t.Setenv("KAFKA_REPLICATION_FACTOR", "65537")
		assert.Equal(t, int16(1), FromEnv().Kafka.ReplicationFactor)
	})

	t.Run("negative retries", func(t *testing.T) {
		t.Setenv("NOTIFY_MAX_RETRIES", "-1")
		assert.Equal(t, 5, FromEnv().Notification.MaxRetries)
	})

	t.Run("in range values pass through", func(t *testing.T) {
		t.Setenv("KAFKA_NOTIFICATION_PARTITIONS", "12")
		t.Setenv("KAFKA_REPLICATION_FACTOR", "3")
		cfg := FromEnv()
		assert.Equal(t, int32(12), cfg.Kafka.Partitions)
		assert.Equal(t, int16(3), cfg.Kafka.ReplicationFactor)
	})
}

//go:build integration

package kafka_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"auditflow/internal/notification/kafka"
	"auditflow/internal/notification/models"
	"auditflow/pkg/testutil/containers"
)

func TestPublisher_ProducesKeyedIntent(t *testing.T) {
	broker := containers.NewRedpandaContainer(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	topic := "sla.notifications.test"
	pub, err := kafka.NewPublisher(ctx, kafka.Config{
		Brokers: []string{broker.Broker},
		Topic:   topic,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pub.Close(context.Background()) })

	require.NoError(t, pub.EnsureTopic(ctx, 1, 1))
	// Second call hits TopicAlreadyExists and is tolerated.
	require.NoError(t, pub.EnsureTopic(ctx, 1, 1))

	subjectID := uuid.NewString()
	intent := models.Intent{
		ID:           uuid.New(),
		Kind:         models.KindEscalation,
		SubjectID:    subjectID,
		Level:        1,
		Recipients:   []string{"team_lead"},
		Message:      "escalated to level 1",
		AutoEscalate: true,
		CreatedAt:    time.Date(2026, 1, 1, 2, 6, 0, 0, time.UTC),
	}
	require.NoError(t, pub.Publish(ctx, intent))

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(broker.Broker),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer consumer.Close()

	var records []*kgo.Record
	for len(records) == 0 && ctx.Err() == nil {
		fetches := consumer.PollFetches(ctx)
		require.Empty(t, fetches.Errors())
		fetches.EachRecord(func(r *kgo.Record) {
			records = append(records, r)
		})
	}
	require.Len(t, records, 1)
	assert.Equal(t, subjectID, string(records[0].Key))

	var got models.Intent
	require.NoError(t, json.Unmarshal(records[0].Value, &got))
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, models.KindEscalation, got.Kind)
	assert.Equal(t, 1, got.Level)
	assert.True(t, got.AutoEscalate)
	assert.Equal(t, []string{"team_lead"}, got.Recipients)
}

package dedup_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditflow/internal/sla/dedup"
	"auditflow/internal/sla/models"
	"auditflow/internal/sla/store"
	id "auditflow/pkg/domain"
)

func alertAt(subjectID id.SubjectID, t models.AlertType, at time.Time) *models.SLAAlert {
	return &models.SLAAlert{
		ID:        id.AlertID(uuid.New()),
		SubjectID: subjectID,
		AlertType: t,
		Severity:  t.Severity(),
		Message:   "test",
		SentAt:    at,
	}
}

func TestShouldEmit(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	subjectID := id.SubjectID(uuid.New())

	s := store.NewInMemoryStore()
	d := dedup.New(s, time.Hour)
	_, err := d.Emit(ctx, s, alertAt(subjectID, models.AlertResponseWarning, t0))
	require.NoError(t, err)

	tests := []struct {
		name      string
		alertType models.AlertType
		now       time.Time
		want      bool
	}{
		{"same type inside window is suppressed", models.AlertResponseWarning, t0.Add(30 * time.Minute), false},
		{"same type exactly one window later is allowed", models.AlertResponseWarning, t0.Add(time.Hour), true},
		{"different type is allowed", models.AlertResponseBreach, t0.Add(time.Minute), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.ShouldEmit(ctx, subjectID, tt.alertType, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmitIsAtomicCheckAndInsert(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	subjectID := id.SubjectID(uuid.New())
	s := store.NewInMemoryStore()
	d := dedup.New(s, 0)
	assert.Equal(t, dedup.DefaultWindow, d.Window())

	first, err := d.Emit(ctx, s, alertAt(subjectID, models.AlertResolutionBreach, t0))
	require.NoError(t, err)
	second, err := d.Emit(ctx, s, alertAt(subjectID, models.AlertResolutionBreach, t0.Add(10*time.Minute)))
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	alerts, err := s.ListAlerts(ctx, subjectID, time.Time{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

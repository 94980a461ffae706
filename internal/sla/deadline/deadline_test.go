package deadline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"auditflow/internal/sla/models"
)

func TestCompute_IsAdditive(t *testing.T) {
	policy := &models.SLAPolicy{ResponseTimeHours: 1, ResolutionTimeHours: 4}
	created := []time.Time{
		time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 29, 0, 30, 0, 0, time.UTC),
		time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
	}

	for _, c := range created {
		d := Compute(c, policy)
		assert.Equal(t, time.Hour, d.Response.Sub(c))
		assert.Equal(t, 4*time.Hour, d.Resolution.Sub(c))
	}
}

func TestCompute_FractionalHours(t *testing.T) {
	c := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	d := Compute(c, &models.SLAPolicy{ResponseTimeHours: 0.25, ResolutionTimeHours: 1.5})

	assert.Equal(t, c.Add(15*time.Minute), d.Response)
	assert.Equal(t, c.Add(90*time.Minute), d.Resolution)
}

func TestThresholds(t *testing.T) {
	c := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	deadline := c.Add(4 * time.Hour)

	assert.Equal(t, c, WarningThreshold(deadline, 4*time.Hour))
	assert.Equal(t, c.Add(2*time.Hour), EscalationThreshold(c, models.EscalationLevel{Level: 1, TimeHours: 2}))
}

func TestMet_BoundaryCountsAsMet(t *testing.T) {
	d := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	assert.True(t, Met(d, d))
	assert.True(t, Met(d.Add(-time.Second), d))
	assert.False(t, Met(d.Add(time.Second), d))
}

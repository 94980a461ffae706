package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

var t0 = time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)

func ptr[T any](v T) *T { return &v }

func TestMonitoringApply_Invariants(t *testing.T) {
	t.Run("escalation level only increases", func(t *testing.T) {
		m := &SLAMonitoring{CurrentEscalationLevel: 2}
		err := m.Apply(MonitoringUpdate{EscalationLevel: ptr(2)}, t0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
		assert.Equal(t, 2, m.CurrentEscalationLevel)

		require.NoError(t, m.Apply(MonitoringUpdate{EscalationLevel: ptr(3)}, t0))
		assert.Equal(t, 3, m.CurrentEscalationLevel)
	})

	t.Run("actuals are write-once", func(t *testing.T) {
		m := &SLAMonitoring{ActualResponseTime: ptr(t0)}
		err := m.Apply(MonitoringUpdate{ActualResponseTime: ptr(t0.Add(time.Hour))}, t0)
		require.Error(t, err)
		assert.Equal(t, t0, *m.ActualResponseTime)
	})

	t.Run("frozen record rejects every change", func(t *testing.T) {
		m := &SLAMonitoring{Frozen: true}
		err := m.Apply(MonitoringUpdate{AddAlerts: []string{"response_warning"}}, t0)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
		assert.Empty(t, m.AlertsSent)
	})

	t.Run("empty update on frozen record is a no-op", func(t *testing.T) {
		m := &SLAMonitoring{Frozen: true}
		require.NoError(t, m.Apply(MonitoringUpdate{}, t0))
	})

	t.Run("alerts sent behaves as a set", func(t *testing.T) {
		m := &SLAMonitoring{AlertsSent: []string{"response_warning"}}
		require.NoError(t, m.Apply(MonitoringUpdate{AddAlerts: []string{"response_warning", "escalation:1"}}, t0))
		assert.Equal(t, []string{"response_warning", "escalation:1"}, m.AlertsSent)
		assert.Equal(t, t0, m.UpdatedAt)
	})
}

func TestSubject_Lifecycle(t *testing.T) {
	subject, err := NewSubject(id.SubjectID(uuid.New()), SubjectIncident, "db outage", SeverityCritical, t0)
	require.NoError(t, err)
	assert.False(t, subject.IsTerminal())

	t.Run("response before creation is rejected", func(t *testing.T) {
		_, err := subject.RecordResponse(t0.Add(-time.Minute))
		require.Error(t, err)
	})

	t.Run("first response wins", func(t *testing.T) {
		changed, err := subject.RecordResponse(t0.Add(30 * time.Minute))
		require.NoError(t, err)
		assert.True(t, changed)

		changed, err = subject.RecordResponse(t0.Add(45 * time.Minute))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, t0.Add(30*time.Minute), *subject.RespondedAt)
	})

	t.Run("resolution is terminal and single-shot", func(t *testing.T) {
		require.NoError(t, subject.RecordResolution(t0.Add(2*time.Hour)))
		assert.True(t, subject.IsTerminal())

		err := subject.RecordResolution(t0.Add(3 * time.Hour))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

func TestSubject_ResolutionImpliesResponse(t *testing.T) {
	subject, err := NewSubject(id.SubjectID(uuid.New()), SubjectApprovalRequest, "", SeverityLow, t0)
	require.NoError(t, err)

	require.NoError(t, subject.RecordResolution(t0.Add(time.Hour)))
	require.NotNil(t, subject.RespondedAt)
	assert.Equal(t, t0.Add(time.Hour), *subject.RespondedAt)
}

func TestNewSubject_Validation(t *testing.T) {
	_, err := NewSubject(id.SubjectID{}, SubjectIncident, "", SeverityLow, t0)
	require.Error(t, err)

	_, err = NewSubject(id.SubjectID(uuid.New()), SubjectIncident, "", Severity("urgent"), t0)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func TestPolicy_Validate(t *testing.T) {
	valid := func() *SLAPolicy {
		return &SLAPolicy{
			ID:                  "critical",
			Severity:            SeverityCritical,
			ResponseTimeHours:   1,
			ResolutionTimeHours: 4,
			EscalationLevels: []EscalationLevel{
				{Level: 1, TimeHours: 2, NotifyRoles: []string{"supervisor"}},
				{Level: 2, TimeHours: 3, NotifyRoles: []string{"director"}},
			},
			IsActive: true,
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(p *SLAPolicy)
	}{
		{"non-positive response", func(p *SLAPolicy) { p.ResponseTimeHours = 0 }},
		{"unknown severity", func(p *SLAPolicy) { p.Severity = "p1" }},
		{"hours not increasing", func(p *SLAPolicy) { p.EscalationLevels[1].TimeHours = 2 }},
		{"duplicate level", func(p *SLAPolicy) { p.EscalationLevels[1].Level = 1 }},
		{"level zero", func(p *SLAPolicy) { p.EscalationLevels[0].Level = 0 }},
		{"negative lead", func(p *SLAPolicy) { p.ResolutionWarningLeadHours = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			err := p.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestPolicy_EscalationAt(t *testing.T) {
	p := &SLAPolicy{EscalationLevels: []EscalationLevel{
		{Level: 2, TimeHours: 4},
		{Level: 1, TimeHours: 2},
		{Level: 3, TimeHours: 8},
	}}

	assert.Nil(t, p.EscalationAt(time.Hour))
	assert.Equal(t, 1, p.EscalationAt(2*time.Hour).Level, "threshold is inclusive")
	assert.Equal(t, 2, p.EscalationAt(5*time.Hour).Level)
	assert.Equal(t, 3, p.EscalationAt(100*time.Hour).Level, "picks the highest reached level")
}

func TestPolicy_WarningLeadDefaults(t *testing.T) {
	p := &SLAPolicy{}
	assert.Equal(t, 2*time.Hour, p.ResponseWarningLead())
	assert.Equal(t, 4*time.Hour, p.ResolutionWarningLead())

	p.ResponseWarningLeadHours = 0.5
	assert.Equal(t, 30*time.Minute, p.ResponseWarningLead())
}

func TestAlert_AcknowledgeOnce(t *testing.T) {
	alert := &SLAAlert{AlertType: AlertResponseBreach}
	by := id.UserID(uuid.New())

	require.NoError(t, alert.Acknowledge(by, t0))
	assert.True(t, alert.Acknowledged)
	assert.Equal(t, by, *alert.AcknowledgedBy)

	err := alert.Acknowledge(by, t0.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func TestAlertKey(t *testing.T) {
	assert.Equal(t, "response_breach", AlertKey(AlertResponseBreach, 0))
	assert.Equal(t, "escalation:2", AlertKey(AlertEscalation, 2))
	assert.Equal(t, SeverityCritical, AlertResolutionBreach.Severity())
	assert.Equal(t, SeverityHigh, AlertEscalation.Severity())
}

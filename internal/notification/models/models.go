// Package models holds the notification intent handed from the SLA engine to
// delivery publishers.
package models

import (
	"time"

	"github.com/google/uuid"

	slamodels "auditflow/internal/sla/models"
)

// Kind distinguishes escalation notices from SLA alerts.
type Kind string

const (
	KindEscalation Kind = "sla.escalation"
	KindAlert      Kind = "sla.alert"
)

// Intent is one notification to deliver. It is immutable once built and is
// serialized as-is by the Kafka publisher.
type Intent struct {
	ID           uuid.UUID `json:"id"`
	Kind         Kind      `json:"kind"`
	SubjectID    string    `json:"subject_id"`
	AlertID      string    `json:"alert_id,omitempty"`
	AlertType    string    `json:"alert_type,omitempty"`
	Severity     string    `json:"severity,omitempty"`
	Level        int       `json:"level,omitempty"`
	Recipients   []string  `json:"recipients"`
	Message      string    `json:"message"`
	AutoEscalate bool      `json:"auto_escalate,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// FromEscalation builds an intent addressed to the level's notify roles.
func FromEscalation(notice slamodels.EscalationNotice) Intent {
	return Intent{
		ID:           uuid.New(),
		Kind:         KindEscalation,
		SubjectID:    notice.SubjectID.String(),
		Level:        notice.Level,
		Recipients:   append([]string(nil), notice.NotifyRoles...),
		Message:      notice.Message,
		AutoEscalate: notice.AutoEscalate,
		CreatedAt:    notice.At,
	}
}

// FromAlert builds an intent for a committed SLA alert.
func FromAlert(alert *slamodels.SLAAlert, recipients []string) Intent {
	return Intent{
		ID:         uuid.New(),
		Kind:       KindAlert,
		SubjectID:  alert.SubjectID.String(),
		AlertID:    alert.ID.String(),
		AlertType:  string(alert.AlertType),
		Severity:   string(alert.Severity),
		Level:      alert.Level,
		Recipients: append([]string(nil), recipients...),
		Message:    alert.Message,
		CreatedAt:  alert.SentAt,
	}
}

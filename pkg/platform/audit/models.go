package audit

import (
	"context"
	"time"

	id "auditflow/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
// This enables different retention policies, storage backends, and routing.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: approval
	// decisions and the terminal outcome of a request. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers SLA bookkeeping: alerts, escalations,
	// acknowledgements. Useful for operational review, shorter retention.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the tracked entity: an approval request or SLA subject ID.
	Subject  string
	Action   string
	Decision string
	Reason   string
	// ActorID is the user who performed the action. Nil for engine-driven
	// events such as escalations.
	ActorID   id.UserID
	RequestID string
}

type AuditEvent string

const (
	// Approval events
	EventApprovalRequestCreated   AuditEvent = "approval_request_created"
	EventApprovalStepDecided      AuditEvent = "approval_step_decided"
	EventApprovalRequestTerminal  AuditEvent = "approval_request_terminal"
	EventApprovalRequestCancelled AuditEvent = "approval_request_cancelled"

	// SLA events
	EventSLAMonitoringStarted AuditEvent = "sla_monitoring_started"
	EventSLAAlertRaised       AuditEvent = "sla_alert_raised"
	EventSLAEscalated         AuditEvent = "sla_escalated"
	EventSLAAlertAcknowledged AuditEvent = "sla_alert_acknowledged"
	EventSLAFrozen            AuditEvent = "sla_frozen"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventApprovalRequestCreated:   CategoryCompliance,
	EventApprovalStepDecided:      CategoryCompliance,
	EventApprovalRequestTerminal:  CategoryCompliance,
	EventApprovalRequestCancelled: CategoryCompliance,
	EventSLAEscalated:             CategoryCompliance,

	EventSLAMonitoringStarted: CategoryOperations,
	EventSLAAlertRaised:       CategoryOperations,
	EventSLAAlertAcknowledged: CategoryOperations,
	EventSLAFrozen:            CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

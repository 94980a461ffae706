package models

import (
	"slices"
	"strconv"
	"time"

	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

// Severity ranks subjects and alerts. Policies are keyed by subject severity.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is one of the supported enum values.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity creates a Severity from external input.
func ParseSeverity(s string) (Severity, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "severity cannot be empty")
	}
	sev := Severity(s)
	if !sev.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid severity: must be low, medium, high or critical")
	}
	return sev, nil
}

// AlertType names the threshold an alert reports on.
type AlertType string

const (
	AlertResponseWarning   AlertType = "response_warning"
	AlertResponseBreach    AlertType = "response_breach"
	AlertResolutionWarning AlertType = "resolution_warning"
	AlertResolutionBreach  AlertType = "resolution_breach"
	AlertEscalation        AlertType = "escalation"
)

// IsValid checks if the alert type is one of the supported enum values.
func (t AlertType) IsValid() bool {
	switch t {
	case AlertResponseWarning, AlertResponseBreach, AlertResolutionWarning, AlertResolutionBreach, AlertEscalation:
		return true
	}
	return false
}

// Severity is the fixed severity attached to alerts of this type.
func (t AlertType) Severity() Severity {
	switch t {
	case AlertResponseBreach, AlertResolutionBreach:
		return SeverityCritical
	default:
		return SeverityHigh
	}
}

// SubjectKind distinguishes what is being tracked.
type SubjectKind string

const (
	SubjectApprovalRequest SubjectKind = "approval_request"
	SubjectIncident        SubjectKind = "incident"
)

func (k SubjectKind) IsValid() bool {
	return k == SubjectApprovalRequest || k == SubjectIncident
}

// Subject is anything with SLA obligations. The engine only reads subjects;
// their owners record response and resolution.
type Subject struct {
	ID          id.SubjectID `json:"id"`
	Kind        SubjectKind  `json:"kind"`
	Title       string       `json:"title"`
	Severity    Severity     `json:"severity"`
	CreatedAt   time.Time    `json:"created_at"`
	RespondedAt *time.Time   `json:"responded_at,omitempty"`
	ResolvedAt  *time.Time   `json:"resolved_at,omitempty"`
}

// NewSubject validates and constructs a subject.
func NewSubject(subjectID id.SubjectID, kind SubjectKind, title string, severity Severity, createdAt time.Time) (*Subject, error) {
	if subjectID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject ID cannot be nil")
	}
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid subject kind")
	}
	if !severity.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid severity")
	}
	if createdAt.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject creation time is required")
	}
	return &Subject{
		ID:        subjectID,
		Kind:      kind,
		Title:     title,
		Severity:  severity,
		CreatedAt: createdAt,
	}, nil
}

// IsTerminal reports whether the subject is resolved.
func (s *Subject) IsTerminal() bool {
	return s.ResolvedAt != nil
}

// RecordResponse stamps the first response. Later calls are no-ops and report false.
func (s *Subject) RecordResponse(at time.Time) (bool, error) {
	if s.RespondedAt != nil {
		return false, nil
	}
	if at.Before(s.CreatedAt) {
		return false, dErrors.New(dErrors.CodeInvalidInput, "response time precedes subject creation")
	}
	s.RespondedAt = &at
	return true, nil
}

// RecordResolution stamps resolution. Resolving an unanswered subject counts
// as its response too.
func (s *Subject) RecordResolution(at time.Time) error {
	if s.ResolvedAt != nil {
		return dErrors.New(dErrors.CodeInvalidTransition, "subject already resolved")
	}
	if at.Before(s.CreatedAt) {
		return dErrors.New(dErrors.CodeInvalidInput, "resolution time precedes subject creation")
	}
	if s.RespondedAt == nil {
		s.RespondedAt = &at
	}
	s.ResolvedAt = &at
	return nil
}

func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	c := *s
	c.RespondedAt = cloneTime(s.RespondedAt)
	c.ResolvedAt = cloneTime(s.ResolvedAt)
	return &c
}

// SLAMonitoring is the per-subject SLA state. Version guards concurrent
// writers: stores only accept an update carrying the version they last saw.
type SLAMonitoring struct {
	ID                     id.MonitoringID `json:"id"`
	SubjectID              id.SubjectID    `json:"subject_id"`
	SLAPolicyID            string          `json:"sla_policy_id"`
	ResponseDeadline       time.Time       `json:"response_deadline"`
	ResolutionDeadline     time.Time       `json:"resolution_deadline"`
	ActualResponseTime     *time.Time      `json:"actual_response_time,omitempty"`
	ActualResolutionTime   *time.Time      `json:"actual_resolution_time,omitempty"`
	ResponseSLAMet         bool            `json:"response_sla_met"`
	ResolutionSLAMet       bool            `json:"resolution_sla_met"`
	CurrentEscalationLevel int             `json:"current_escalation_level"`
	LastEscalationAt       *time.Time      `json:"last_escalation_at,omitempty"`
	AlertsSent             []string        `json:"alerts_sent"`
	Frozen                 bool            `json:"frozen"`
	Version                int64           `json:"version"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

// HasSent reports whether an alert key was ever recorded for this subject.
func (m *SLAMonitoring) HasSent(key string) bool {
	return slices.Contains(m.AlertsSent, key)
}

func (m *SLAMonitoring) Clone() *SLAMonitoring {
	if m == nil {
		return nil
	}
	c := *m
	c.ActualResponseTime = cloneTime(m.ActualResponseTime)
	c.ActualResolutionTime = cloneTime(m.ActualResolutionTime)
	c.LastEscalationAt = cloneTime(m.LastEscalationAt)
	c.AlertsSent = slices.Clone(m.AlertsSent)
	return &c
}

// MonitoringUpdate is a typed partial update. Nil fields are left untouched.
type MonitoringUpdate struct {
	ActualResponseTime   *time.Time
	ActualResolutionTime *time.Time
	ResponseSLAMet       *bool
	ResolutionSLAMet     *bool
	EscalationLevel      *int
	LastEscalationAt     *time.Time
	AddAlerts            []string
	Freeze               bool
}

// IsEmpty reports whether applying the update would change nothing.
func (u MonitoringUpdate) IsEmpty() bool {
	return u.ActualResponseTime == nil &&
		u.ActualResolutionTime == nil &&
		u.ResponseSLAMet == nil &&
		u.ResolutionSLAMet == nil &&
		u.EscalationLevel == nil &&
		u.LastEscalationAt == nil &&
		len(u.AddAlerts) == 0 &&
		!u.Freeze
}

// Apply validates u against the record's invariants and merges it in place.
// A frozen record accepts nothing, actuals are write-once, and the
// escalation level only moves up.
func (m *SLAMonitoring) Apply(u MonitoringUpdate, now time.Time) error {
	if u.IsEmpty() {
		return nil
	}
	if m.Frozen {
		return dErrors.New(dErrors.CodeInvalidTransition, "monitoring record is frozen")
	}
	if u.ActualResponseTime != nil && m.ActualResponseTime != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "actual response time already recorded")
	}
	if u.ActualResolutionTime != nil && m.ActualResolutionTime != nil {
		return dErrors.New(dErrors.CodeInvariantViolation, "actual resolution time already recorded")
	}
	if u.EscalationLevel != nil && *u.EscalationLevel <= m.CurrentEscalationLevel {
		return dErrors.New(dErrors.CodeInvariantViolation, "escalation level must increase")
	}

	if u.ActualResponseTime != nil {
		m.ActualResponseTime = cloneTime(u.ActualResponseTime)
	}
	if u.ActualResolutionTime != nil {
		m.ActualResolutionTime = cloneTime(u.ActualResolutionTime)
	}
	if u.ResponseSLAMet != nil {
		m.ResponseSLAMet = *u.ResponseSLAMet
	}
	if u.ResolutionSLAMet != nil {
		m.ResolutionSLAMet = *u.ResolutionSLAMet
	}
	if u.EscalationLevel != nil {
		m.CurrentEscalationLevel = *u.EscalationLevel
	}
	if u.LastEscalationAt != nil {
		m.LastEscalationAt = cloneTime(u.LastEscalationAt)
	}
	for _, key := range u.AddAlerts {
		if !m.HasSent(key) {
			m.AlertsSent = append(m.AlertsSent, key)
		}
	}
	if u.Freeze {
		m.Frozen = true
	}
	m.UpdatedAt = now
	return nil
}

// SLAAlert is an emitted alert. Alerts are never deleted and only change
// through acknowledgement.
type SLAAlert struct {
	ID             id.AlertID   `json:"id"`
	SubjectID      id.SubjectID `json:"subject_id"`
	AlertType      AlertType    `json:"alert_type"`
	Level          int          `json:"level,omitempty"`
	Severity       Severity     `json:"severity"`
	Message        string       `json:"message"`
	SentAt         time.Time    `json:"sent_at"`
	Acknowledged   bool         `json:"acknowledged"`
	AcknowledgedBy *id.UserID   `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time   `json:"acknowledged_at,omitempty"`
}

// Key is the identifier recorded in SLAMonitoring.AlertsSent.
func (a *SLAAlert) Key() string {
	return AlertKey(a.AlertType, a.Level)
}

// AlertKey builds the AlertsSent identifier: the type, suffixed with the
// level for escalations.
func AlertKey(t AlertType, level int) string {
	if t == AlertEscalation {
		return string(t) + ":" + strconv.Itoa(level)
	}
	return string(t)
}

// Acknowledge marks the alert as seen by an operator.
func (a *SLAAlert) Acknowledge(by id.UserID, at time.Time) error {
	if a.Acknowledged {
		return dErrors.New(dErrors.CodeInvalidTransition, "alert already acknowledged")
	}
	if by.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "acknowledging user is required")
	}
	a.Acknowledged = true
	a.AcknowledgedBy = &by
	a.AcknowledgedAt = &at
	return nil
}

func (a *SLAAlert) Clone() *SLAAlert {
	if a == nil {
		return nil
	}
	c := *a
	if a.AcknowledgedBy != nil {
		by := *a.AcknowledgedBy
		c.AcknowledgedBy = &by
	}
	c.AcknowledgedAt = cloneTime(a.AcknowledgedAt)
	return &c
}

// EscalationNotice is handed to the notification layer after an escalation commits.
type EscalationNotice struct {
	SubjectID    id.SubjectID
	Level        int
	NotifyRoles  []string
	Message      string
	AutoEscalate bool
	At           time.Time
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

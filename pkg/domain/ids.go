// Package domain holds typed identifiers shared across modules.
//
// Each ID wraps a UUID so the compiler rejects passing a step ID where a
// request ID is expected. Parse functions are the trust-boundary constructors:
// they reject empty, malformed and nil UUIDs with CodeInvalidInput.
package domain

import (
	"github.com/google/uuid"

	dErrors "auditflow/pkg/domain-errors"
)

type (
	// UserID identifies a human actor (requester, approver, acknowledger).
	UserID uuid.UUID
	// ApprovalRequestID identifies an approval request.
	ApprovalRequestID uuid.UUID
	// StepID identifies one step instance of an approval request.
	StepID uuid.UUID
	// SubjectID identifies anything the SLA engine tracks: an approval request or an incident.
	SubjectID uuid.UUID
	// MonitoringID identifies an SLA monitoring record.
	MonitoringID uuid.UUID
	// AlertID identifies an SLA alert.
	AlertID uuid.UUID
)

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" cannot be nil")
	}
	return u, nil
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseUUID(s, "user ID")
	return UserID(u), err
}

func ParseApprovalRequestID(s string) (ApprovalRequestID, error) {
	u, err := parseUUID(s, "approval request ID")
	return ApprovalRequestID(u), err
}

func ParseStepID(s string) (StepID, error) {
	u, err := parseUUID(s, "step ID")
	return StepID(u), err
}

func ParseSubjectID(s string) (SubjectID, error) {
	u, err := parseUUID(s, "subject ID")
	return SubjectID(u), err
}

func ParseMonitoringID(s string) (MonitoringID, error) {
	u, err := parseUUID(s, "monitoring ID")
	return MonitoringID(u), err
}

func ParseAlertID(s string) (AlertID, error) {
	u, err := parseUUID(s, "alert ID")
	return AlertID(u), err
}

func (id UserID) String() string            { return uuid.UUID(id).String() }
func (id ApprovalRequestID) String() string { return uuid.UUID(id).String() }
func (id StepID) String() string            { return uuid.UUID(id).String() }
func (id SubjectID) String() string         { return uuid.UUID(id).String() }
func (id MonitoringID) String() string      { return uuid.UUID(id).String() }
func (id AlertID) String() string           { return uuid.UUID(id).String() }

func (id UserID) IsNil() bool            { return uuid.UUID(id) == uuid.Nil }
func (id ApprovalRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id StepID) IsNil() bool            { return uuid.UUID(id) == uuid.Nil }
func (id SubjectID) IsNil() bool         { return uuid.UUID(id) == uuid.Nil }
func (id MonitoringID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id AlertID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }

// SubjectFor projects an approval request onto the SLA subject sharing its UUID.
func SubjectFor(requestID ApprovalRequestID) SubjectID {
	return SubjectID(requestID)
}

// MarshalText lets typed IDs serialize as plain UUID strings in JSON.
func (id UserID) MarshalText() ([]byte, error)            { return []byte(id.String()), nil }
func (id ApprovalRequestID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id StepID) MarshalText() ([]byte, error)            { return []byte(id.String()), nil }
func (id SubjectID) MarshalText() ([]byte, error)         { return []byte(id.String()), nil }
func (id MonitoringID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id AlertID) MarshalText() ([]byte, error)           { return []byte(id.String()), nil }

func unmarshalUUID(text []byte, dst *uuid.UUID) error {
	u, err := uuid.ParseBytes(text)
	if err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid UUID")
	}
	*dst = u
	return nil
}

func (id *UserID) UnmarshalText(b []byte) error            { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *ApprovalRequestID) UnmarshalText(b []byte) error { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *StepID) UnmarshalText(b []byte) error            { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *SubjectID) UnmarshalText(b []byte) error         { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *MonitoringID) UnmarshalText(b []byte) error      { return unmarshalUUID(b, (*uuid.UUID)(id)) }
func (id *AlertID) UnmarshalText(b []byte) error           { return unmarshalUUID(b, (*uuid.UUID)(id)) }

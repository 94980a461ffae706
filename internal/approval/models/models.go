// Package models holds approval workflow definitions, requests and steps.
package models

import (
	"time"

	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

// RequestStatus is the aggregate state of an approval request.
type RequestStatus string

const (
	RequestPending    RequestStatus = "pending"
	RequestInProgress RequestStatus = "in_progress"
	RequestApproved   RequestStatus = "approved"
	RequestRejected   RequestStatus = "rejected"
	RequestCancelled  RequestStatus = "cancelled"
)

// IsTerminal reports whether no further decision can change the request.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestApproved || s == RequestRejected || s == RequestCancelled
}

// CanTransitionTo encodes the request state machine:
// pending -> in_progress -> approved|rejected, with cancelled reachable
// from either open state. A single-step workflow may skip in_progress.
func (s RequestStatus) CanTransitionTo(next RequestStatus) bool {
	switch s {
	case RequestPending:
		return next == RequestInProgress || next == RequestApproved ||
			next == RequestRejected || next == RequestCancelled
	case RequestInProgress:
		return next == RequestApproved || next == RequestRejected || next == RequestCancelled
	default:
		return false
	}
}

// StepStatus is the state of one step instance.
type StepStatus string

const (
	StepPending  StepStatus = "pending"
	StepApproved StepStatus = "approved"
	StepRejected StepStatus = "rejected"
	StepSkipped  StepStatus = "skipped"
)

// Priority ranks approval requests. It maps onto SLA severity.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// ParsePriority creates a Priority from external input. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityMedium, nil
	}
	p := Priority(s)
	if !p.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid priority: must be low, medium, high or critical")
	}
	return p, nil
}

// ApprovalRequest asks for a chain of approvals on some entity.
type ApprovalRequest struct {
	ID          id.ApprovalRequestID `json:"id"`
	EntityType  string               `json:"entity_type"`
	EntityID    string               `json:"entity_id"`
	WorkflowID  string               `json:"workflow_id"`
	RequesterID id.UserID            `json:"requester_id"`
	Title       string               `json:"title"`
	Priority    Priority             `json:"priority"`
	Status      RequestStatus        `json:"status"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ApprovalRequestStep is one instantiated step of a request. A step leaves
// pending exactly once.
type ApprovalRequestStep struct {
	ID                id.StepID            `json:"id"`
	ApprovalRequestID id.ApprovalRequestID `json:"approval_request_id"`
	StepOrder         int                  `json:"step_order"`
	StepName          string               `json:"step_name"`
	AssigneeRole      string               `json:"assignee_role"`
	AssigneeID        *id.UserID           `json:"assignee_id,omitempty"`
	Status            StepStatus           `json:"status"`
	Required          bool                 `json:"required"`
	CompletedBy       *id.UserID           `json:"completed_by,omitempty"`
	CompletedAt       *time.Time           `json:"completed_at,omitempty"`
	Comments          string               `json:"comments,omitempty"`
}

func (s *ApprovalRequestStep) Clone() *ApprovalRequestStep {
	if s == nil {
		return nil
	}
	c := *s
	if s.AssigneeID != nil {
		v := *s.AssigneeID
		c.AssigneeID = &v
	}
	if s.CompletedBy != nil {
		v := *s.CompletedBy
		c.CompletedBy = &v
	}
	if s.CompletedAt != nil {
		v := *s.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

// RequestUpdate is a typed partial update of a request. Nil fields are
// left untouched.
type RequestUpdate struct {
	Status   *RequestStatus
	Title    *string
	Priority *Priority
}

func (u RequestUpdate) IsEmpty() bool {
	return u.Status == nil && u.Title == nil && u.Priority == nil
}

// Apply validates u and merges it into r. Terminal requests accept nothing;
// a status equal to the current one is not a transition.
func (r *ApprovalRequest) Apply(u RequestUpdate, now time.Time) error {
	if u.IsEmpty() {
		return nil
	}
	if r.Status.IsTerminal() {
		return dErrors.New(dErrors.CodeInvalidTransition, "request is already "+string(r.Status))
	}
	if u.Status != nil && *u.Status != r.Status && !r.Status.CanTransitionTo(*u.Status) {
		return dErrors.New(dErrors.CodeInvalidTransition,
			"cannot move request from "+string(r.Status)+" to "+string(*u.Status))
	}
	if u.Title != nil && *u.Title == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "title cannot be empty")
	}
	if u.Priority != nil && !u.Priority.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid priority")
	}

	if u.Status != nil {
		r.Status = *u.Status
	}
	if u.Title != nil {
		r.Title = *u.Title
	}
	if u.Priority != nil {
		r.Priority = *u.Priority
	}
	r.UpdatedAt = now
	return nil
}

// DecisionKind is what an approver does with a step.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
)

func (k DecisionKind) IsValid() bool {
	return k == DecisionApprove || k == DecisionReject
}

// Decision is one approver action on one step.
type Decision struct {
	Kind    DecisionKind
	Actor   id.UserID
	Comment string
	At      time.Time
}

// StepResult describes what a decision changed.
type StepResult struct {
	Step                  *ApprovalRequestStep
	PreviousStatus        StepStatus
	PreviousRequestStatus RequestStatus
	RequestStatus         RequestStatus
	// Terminal is set when this decision moved the request to a terminal status.
	Terminal bool
	// FirstResponse is set when this is the first decision on the request.
	FirstResponse bool
	// Skipped lists sibling steps closed by a cascading rejection.
	Skipped []*ApprovalRequestStep
}

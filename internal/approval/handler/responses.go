package handler

import (
	"time"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/service"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/audit"
)

// RequestResponse is a request with its steps.
type RequestResponse struct {
	Request *models.ApprovalRequest       `json:"request"`
	Steps   []*models.ApprovalRequestStep `json:"steps"`
}

// DecisionResponse adds what the decision changed.
type DecisionResponse struct {
	RequestResponse
	StepOrder             int                  `json:"step_order"`
	PreviousRequestStatus models.RequestStatus `json:"previous_request_status"`
	Terminal              bool                 `json:"terminal"`
	SkippedSteps          []int                `json:"skipped_steps,omitempty"`
}

// PendingResponse lists actionable steps for a role.
type PendingResponse struct {
	Role  string                        `json:"role"`
	Steps []*models.ApprovalRequestStep `json:"steps"`
}

// HistoryEvent is one audit entry of a request.
type HistoryEvent struct {
	Action    string    `json:"action"`
	Category  string    `json:"category"`
	Timestamp time.Time `json:"timestamp"`
	Decision  string    `json:"decision,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
}

// HistoryResponse is the audit trail of a request.
type HistoryResponse struct {
	RequestID string         `json:"request_id"`
	Events    []HistoryEvent `json:"events"`
}

func toHistoryResponse(requestID id.ApprovalRequestID, events []audit.Event) HistoryResponse {
	resp := HistoryResponse{RequestID: requestID.String(), Events: make([]HistoryEvent, 0, len(events))}
	for _, e := range events {
		ev := HistoryEvent{
			Action:    e.Action,
			Category:  string(e.Category),
			Timestamp: e.Timestamp,
			Decision:  e.Decision,
			Reason:    e.Reason,
		}
		if !e.ActorID.IsNil() {
			ev.ActorID = e.ActorID.String()
		}
		resp.Events = append(resp.Events, ev)
	}
	return resp
}

func toRequestResponse(view *service.RequestView) RequestResponse {
	steps := view.Steps
	if steps == nil {
		steps = []*models.ApprovalRequestStep{}
	}
	return RequestResponse{Request: view.Request, Steps: steps}
}

func toDecisionResponse(out *service.DecisionOutcome) DecisionResponse {
	resp := DecisionResponse{
		RequestResponse:       toRequestResponse(&out.RequestView),
		StepOrder:             out.Result.Step.StepOrder,
		PreviousRequestStatus: out.Result.PreviousRequestStatus,
		Terminal:              out.Result.Terminal,
	}
	for _, step := range out.Result.Skipped {
		resp.SkippedSteps = append(resp.SkippedSteps, step.StepOrder)
	}
	return resp
}

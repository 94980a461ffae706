package handler

import (
	"strconv"
	"strings"

	"auditflow/internal/approval/models"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

// CreateRequest is the body for POST /approvals.
type CreateRequest struct {
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	WorkflowID string            `json:"workflow_id"`
	Title      string            `json:"title"`
	Priority   string            `json:"priority,omitempty"`
	Assignees  map[string]string `json:"assignees,omitempty"`

	parsedPriority  models.Priority
	parsedAssignees map[int]id.UserID
}

// Validate normalizes the request. Assignees maps step order to user ID.
func (r *CreateRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.EntityType = strings.TrimSpace(r.EntityType)
	r.EntityID = strings.TrimSpace(r.EntityID)
	r.WorkflowID = strings.TrimSpace(r.WorkflowID)
	r.Title = strings.TrimSpace(r.Title)

	if r.WorkflowID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "workflow_id is required")
	}
	if len(r.Title) > 500 {
		return dErrors.New(dErrors.CodeInvalidInput, "title must be at most 500 characters")
	}
	priority, err := models.ParsePriority(strings.ToLower(strings.TrimSpace(r.Priority)))
	if err != nil {
		return err
	}
	r.parsedPriority = priority

	if len(r.Assignees) > 0 {
		r.parsedAssignees = make(map[int]id.UserID, len(r.Assignees))
		for rawOrder, rawUser := range r.Assignees {
			order, err := strconv.Atoi(rawOrder)
			if err != nil {
				return dErrors.New(dErrors.CodeInvalidInput, "assignees must be keyed by step order")
			}
			userID, err := id.ParseUserID(rawUser)
			if err != nil {
				return err
			}
			r.parsedAssignees[order] = userID
		}
	}
	return nil
}

// DecisionRequest is the body for POST /approvals/{id}/steps/{order}/decision.
type DecisionRequest struct {
	Decision string `json:"decision"`
	Comment  string `json:"comment,omitempty"`

	parsedKind models.DecisionKind
}

func (r *DecisionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	kind := models.DecisionKind(strings.ToLower(strings.TrimSpace(r.Decision)))
	if !kind.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "decision must be approve or reject")
	}
	if len(r.Comment) > 2000 {
		return dErrors.New(dErrors.CodeInvalidInput, "comment must be at most 2000 characters")
	}
	r.parsedKind = kind
	return nil
}

// CancelRequest is the optional body for POST /approvals/{id}/cancel.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r *CancelRequest) Validate() error {
	if len(r.Reason) > 2000 {
		return dErrors.New(dErrors.CodeInvalidInput, "reason must be at most 2000 characters")
	}
	return nil
}

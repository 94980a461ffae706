// Package sequencer instantiates workflow steps for a request and applies
// approver decisions to them, keeping the request status a function of its
// steps.
package sequencer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"auditflow/internal/approval/models"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

// Config holds sequencing options. The zero value lets any pending step be
// decided in any order and leaves siblings of a rejected step pending.
type Config struct {
	// StrictSequential requires every lower-order required step to be
	// approved before a step can be decided.
	StrictSequential bool
	// CascadeSkip marks the remaining pending steps skipped when a required
	// step is rejected.
	CascadeSkip bool
}

// Sequencer applies decisions under a fixed Config.
type Sequencer struct {
	cfg Config
}

func New(cfg Config) *Sequencer {
	return &Sequencer{cfg: cfg}
}

func (s *Sequencer) Config() Config {
	return s.cfg
}

// InstantiateSteps creates one pending step per definition step, ordered by
// StepOrder.
func InstantiateSteps(requestID id.ApprovalRequestID, def *models.WorkflowDefinition) ([]*models.ApprovalRequestStep, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	templates := def.OrderedSteps()
	steps := make([]*models.ApprovalRequestStep, 0, len(templates))
	for _, t := range templates {
		steps = append(steps, &models.ApprovalRequestStep{
			ID:                id.StepID(uuid.New()),
			ApprovalRequestID: requestID,
			StepOrder:         t.StepOrder,
			StepName:          t.StepName,
			AssigneeRole:      t.AssigneeRole,
			Status:            models.StepPending,
			Required:          t.Required,
		})
	}
	return steps, nil
}

// Aggregate derives the request status from its steps: rejected as soon as
// a required step is rejected, approved once every required step is
// approved, in_progress once any step has left pending, else pending.
// Cancellation is never derived.
func Aggregate(steps []*models.ApprovalRequestStep) models.RequestStatus {
	allRequiredApproved := true
	anyDecided := false
	for _, step := range steps {
		if step.Required {
			if step.Status == models.StepRejected {
				return models.RequestRejected
			}
			if step.Status != models.StepApproved {
				allRequiredApproved = false
			}
		}
		if step.Status != models.StepPending {
			anyDecided = true
		}
	}
	switch {
	case allRequiredApproved && len(steps) > 0:
		return models.RequestApproved
	case anyDecided:
		return models.RequestInProgress
	default:
		return models.RequestPending
	}
}

// ApplyDecision decides the step with the given order. On success request
// and the affected steps are modified in place and the result describes
// the change; on error nothing is modified.
func (s *Sequencer) ApplyDecision(
	request *models.ApprovalRequest,
	steps []*models.ApprovalRequestStep,
	stepOrder int,
	decision models.Decision,
) (*models.StepResult, error) {
	if !decision.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "decision must be approve or reject")
	}
	if decision.Actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "deciding user is required")
	}
	if request.Status.IsTerminal() {
		return nil, dErrors.New(dErrors.CodeInvalidTransition, "request is already "+string(request.Status))
	}

	step := findStep(steps, stepOrder)
	if step == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("step %d not found", stepOrder))
	}
	if step.Status != models.StepPending {
		return nil, dErrors.New(dErrors.CodeInvalidTransition,
			fmt.Sprintf("step %d is not pending (status: %s)", stepOrder, step.Status))
	}
	if step.AssigneeID != nil && *step.AssigneeID != decision.Actor {
		return nil, dErrors.New(dErrors.CodeForbidden,
			fmt.Sprintf("step %d is assigned to another user", stepOrder))
	}
	if s.cfg.StrictSequential {
		for _, prior := range steps {
			if prior.StepOrder < stepOrder && prior.Required && prior.Status != models.StepApproved {
				return nil, dErrors.New(dErrors.CodeStepNotReady,
					fmt.Sprintf("step %d is waiting on step %d", stepOrder, prior.StepOrder))
			}
		}
	}

	// Compute the outcome on copies so a rejected transition leaves the
	// caller's values untouched.
	decided := step.Clone()
	decided.Status = models.StepApproved
	if decision.Kind == models.DecisionReject {
		decided.Status = models.StepRejected
	}
	at := decision.At
	actor := decision.Actor
	decided.CompletedBy = &actor
	decided.CompletedAt = &at
	decided.Comments = decision.Comment

	projected := make([]*models.ApprovalRequestStep, len(steps))
	for i, st := range steps {
		projected[i] = st
		if st == step {
			projected[i] = decided
		}
	}
	next := Aggregate(projected)

	var skipped []*models.ApprovalRequestStep
	if next == models.RequestRejected && s.cfg.CascadeSkip {
		for i, st := range projected {
			if st.Status != models.StepPending {
				continue
			}
			sk := st.Clone()
			sk.Status = models.StepSkipped
			sk.CompletedAt = &at
			projected[i] = sk
			skipped = append(skipped, sk)
		}
	}

	updated := request.Clone()
	if err := updated.Apply(models.RequestUpdate{Status: &next}, at); err != nil {
		return nil, err
	}

	result := &models.StepResult{
		Step:                  step,
		PreviousStatus:        step.Status,
		PreviousRequestStatus: request.Status,
		RequestStatus:         next,
		Terminal:              next.IsTerminal(),
		FirstResponse:         request.Status == models.RequestPending,
	}

	*request = *updated
	for i, st := range steps {
		if st != projected[i] {
			*st = *projected[i]
		}
	}
	for i, sk := range skipped {
		skipped[i] = findStep(steps, sk.StepOrder)
	}
	result.Skipped = skipped
	return result, nil
}

func findStep(steps []*models.ApprovalRequestStep, order int) *models.ApprovalRequestStep {
	for _, step := range steps {
		if step.StepOrder == order {
			return step
		}
	}
	return nil
}

package sequencer

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"auditflow/internal/approval/models"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

// Justification: the sequencer owns the request state machine; these tests
// pin step transitions, aggregation and both sequencing options.
type SequencerSuite struct {
	suite.Suite
	t0        time.Time
	requestID id.ApprovalRequestID
	approver  id.UserID
}

func TestSequencerSuite(t *testing.T) {
	suite.Run(t, new(SequencerSuite))
}

func (s *SequencerSuite) SetupTest() {
	s.t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.requestID = id.ApprovalRequestID(uuid.New())
	s.approver = id.UserID(uuid.New())
}

func (s *SequencerSuite) newRequest(defSteps ...models.WorkflowStepDefinition) (*models.ApprovalRequest, []*models.ApprovalRequestStep) {
	steps, err := InstantiateSteps(s.requestID, &models.WorkflowDefinition{ID: "wf", Name: "wf", Steps: defSteps})
	s.Require().NoError(err)
	return &models.ApprovalRequest{
		ID:         s.requestID,
		WorkflowID: "wf",
		Status:     models.RequestPending,
		CreatedAt:  s.t0,
		UpdatedAt:  s.t0,
	}, steps
}

func (s *SequencerSuite) twoRequired() (*models.ApprovalRequest, []*models.ApprovalRequestStep) {
	return s.newRequest(
		models.WorkflowStepDefinition{StepOrder: 1, StepName: "Manager", AssigneeRole: "manager", Required: true},
		models.WorkflowStepDefinition{StepOrder: 2, StepName: "Compliance", AssigneeRole: "compliance", Required: true},
	)
}

func (s *SequencerSuite) decide(kind models.DecisionKind, hours int) models.Decision {
	return models.Decision{Kind: kind, Actor: s.approver, At: s.t0.Add(time.Duration(hours) * time.Hour)}
}

// =============================================================================
// InstantiateSteps / Aggregate
// =============================================================================

func (s *SequencerSuite) TestInstantiateStepsOrdersAndPends() {
	_, steps := s.newRequest(
		models.WorkflowStepDefinition{StepOrder: 20, StepName: "Legal", AssigneeRole: "legal", Required: true},
		models.WorkflowStepDefinition{StepOrder: 10, StepName: "Manager", AssigneeRole: "manager", Required: false},
	)
	s.Require().Len(steps, 2)
	s.Equal(10, steps[0].StepOrder)
	s.Equal(20, steps[1].StepOrder)
	for _, step := range steps {
		s.Equal(models.StepPending, step.Status)
		s.Equal(s.requestID, step.ApprovalRequestID)
		s.False(step.ID.IsNil())
	}
	s.False(steps[0].Required)
}

func (s *SequencerSuite) TestInstantiateStepsRejectsInvalidDefinition() {
	_, err := InstantiateSteps(s.requestID, &models.WorkflowDefinition{ID: "empty"})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *SequencerSuite) TestAggregate() {
	step := func(status models.StepStatus, required bool) *models.ApprovalRequestStep {
		return &models.ApprovalRequestStep{Status: status, Required: required}
	}
	tests := []struct {
		name  string
		steps []*models.ApprovalRequestStep
		want  models.RequestStatus
	}{
		{"all pending", []*models.ApprovalRequestStep{step(models.StepPending, true), step(models.StepPending, true)}, models.RequestPending},
		{"one approved", []*models.ApprovalRequestStep{step(models.StepApproved, true), step(models.StepPending, true)}, models.RequestInProgress},
		{"all required approved", []*models.ApprovalRequestStep{step(models.StepApproved, true), step(models.StepPending, false)}, models.RequestApproved},
		{"required rejected", []*models.ApprovalRequestStep{step(models.StepApproved, true), step(models.StepRejected, true)}, models.RequestRejected},
		{"optional rejected", []*models.ApprovalRequestStep{step(models.StepRejected, false), step(models.StepPending, true)}, models.RequestInProgress},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.Equal(tt.want, Aggregate(tt.steps))
		})
	}
}

// =============================================================================
// ApplyDecision
// =============================================================================

func (s *SequencerSuite) TestTwoStepApprovalThenResubmission() {
	seq := New(Config{})
	req, steps := s.twoRequired()

	res, err := seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionApprove, 1))
	s.Require().NoError(err)
	s.Equal(models.RequestInProgress, req.Status)
	s.Equal(models.RequestInProgress, res.RequestStatus)
	s.True(res.FirstResponse)
	s.False(res.Terminal)
	s.Equal(models.StepPending, res.PreviousStatus)
	s.Equal(models.StepApproved, steps[0].Status)
	s.Require().NotNil(steps[0].CompletedBy)
	s.Equal(s.approver, *steps[0].CompletedBy)

	res, err = seq.ApplyDecision(req, steps, 2, s.decide(models.DecisionApprove, 2))
	s.Require().NoError(err)
	s.Equal(models.RequestApproved, req.Status)
	s.True(res.Terminal)
	s.False(res.FirstResponse)
	s.Equal(s.t0.Add(2*time.Hour), req.UpdatedAt)

	_, err = seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionApprove, 3))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *SequencerSuite) TestDecidedStepCannotBeDecidedAgain() {
	seq := New(Config{})
	req, steps := s.twoRequired()
	_, err := seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionApprove, 1))
	s.Require().NoError(err)

	_, err = seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionReject, 2))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	s.Equal(models.StepApproved, steps[0].Status)
	s.Equal(models.RequestInProgress, req.Status)
}

func (s *SequencerSuite) TestRequiredRejectionIsTerminal() {
	seq := New(Config{})
	req, steps := s.twoRequired()

	res, err := seq.ApplyDecision(req, steps, 2, s.decide(models.DecisionReject, 1))
	s.Require().NoError(err)
	s.Equal(models.RequestRejected, req.Status)
	s.True(res.Terminal)
	s.Empty(res.Skipped)
	s.Equal(models.StepPending, steps[0].Status, "siblings stay pending without cascade")

	_, err = seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionApprove, 2))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *SequencerSuite) TestCascadeSkipClosesSiblings() {
	seq := New(Config{CascadeSkip: true})
	req, steps := s.newRequest(
		models.WorkflowStepDefinition{StepOrder: 1, StepName: "Manager", AssigneeRole: "manager", Required: true},
		models.WorkflowStepDefinition{StepOrder: 2, StepName: "Finance", AssigneeRole: "finance", Required: false},
		models.WorkflowStepDefinition{StepOrder: 3, StepName: "Legal", AssigneeRole: "legal", Required: true},
	)

	res, err := seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionReject, 1))
	s.Require().NoError(err)
	s.Equal(models.RequestRejected, req.Status)
	s.Require().Len(res.Skipped, 2)
	s.Equal(models.StepSkipped, steps[1].Status)
	s.Equal(models.StepSkipped, steps[2].Status)
	s.Same(steps[1], res.Skipped[0])
}

func (s *SequencerSuite) TestOptionalRejectionKeepsRequestOpen() {
	seq := New(Config{})
	req, steps := s.newRequest(
		models.WorkflowStepDefinition{StepOrder: 1, StepName: "Peer", AssigneeRole: "peer", Required: false},
		models.WorkflowStepDefinition{StepOrder: 2, StepName: "Manager", AssigneeRole: "manager", Required: true},
	)

	res, err := seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionReject, 1))
	s.Require().NoError(err)
	s.Equal(models.RequestInProgress, res.RequestStatus)
	s.False(res.Terminal)

	res, err = seq.ApplyDecision(req, steps, 2, s.decide(models.DecisionApprove, 2))
	s.Require().NoError(err)
	s.Equal(models.RequestApproved, res.RequestStatus)
}

func (s *SequencerSuite) TestStrictSequentialGatesLaterSteps() {
	req, steps := s.twoRequired()

	_, err := New(Config{StrictSequential: true}).ApplyDecision(req, steps, 2, s.decide(models.DecisionApprove, 1))
	s.True(dErrors.HasCode(err, dErrors.CodeStepNotReady))
	s.Equal(models.StepPending, steps[1].Status)
	s.Equal(models.RequestPending, req.Status)

	_, err = New(Config{}).ApplyDecision(req, steps, 2, s.decide(models.DecisionApprove, 1))
	s.NoError(err, "permissive mode allows out-of-order decisions")
}

func (s *SequencerSuite) TestAssignedStepOnlyDecidedByAssignee() {
	seq := New(Config{})
	req, steps := s.twoRequired()
	assignee := id.UserID(uuid.New())
	steps[0].AssigneeID = &assignee

	_, err := seq.ApplyDecision(req, steps, 1, s.decide(models.DecisionApprove, 1))
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = seq.ApplyDecision(req, steps, 1, models.Decision{Kind: models.DecisionApprove, Actor: assignee, At: s.t0})
	s.NoError(err)
}

func (s *SequencerSuite) TestRejectsBadDecisions() {
	seq := New(Config{})
	req, steps := s.twoRequired()

	s.Run("unknown step", func() {
		_, err := seq.ApplyDecision(req, steps, 9, s.decide(models.DecisionApprove, 1))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
	s.Run("unknown kind", func() {
		_, err := seq.ApplyDecision(req, steps, 1, s.decide("defer", 1))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
	s.Run("no actor", func() {
		_, err := seq.ApplyDecision(req, steps, 1, models.Decision{Kind: models.DecisionApprove, At: s.t0})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
	s.Run("cancelled request", func() {
		cancelled := req.Clone()
		cancelled.Status = models.RequestCancelled
		_, err := seq.ApplyDecision(cancelled, steps, 1, s.decide(models.DecisionApprove, 1))
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
	})
}

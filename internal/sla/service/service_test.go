package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"auditflow/internal/sla/evaluator"
	"auditflow/internal/sla/models"
	"auditflow/internal/sla/policy"
	"auditflow/internal/sla/ports/mocks"
	"auditflow/internal/sla/store"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/audit"
	"auditflow/pkg/requestcontext"
)

// Justification: the service wires subject bookkeeping to eager evaluation;
// these tests pin the error translation and the first-tick side effects.
type ServiceSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	auditor *mocks.MockAuditPublisher
	store   *store.InMemoryStore
	service *Service
	t0      time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.auditor = mocks.NewMockAuditPublisher(s.ctrl)
	s.store = store.NewInMemoryStore()
	s.t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	policies, err := policy.New(&models.SLAPolicy{
		ID:                  "high-default",
		Severity:            models.SeverityHigh,
		ResponseTimeHours:   4,
		ResolutionTimeHours: 24,
		IsActive:            true,
	})
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eval, err := evaluator.New(s.store, policies, evaluator.WithLogger(logger))
	s.Require().NoError(err)
	s.service, err = New(s.store, eval, WithLogger(logger), WithAuditPublisher(s.auditor))
	s.Require().NoError(err)
}

func (s *ServiceSuite) ctxAt(hours float64) context.Context {
	return requestcontext.WithTime(context.Background(), s.t0.Add(models.Hours(hours)))
}

func (s *ServiceSuite) track() *models.Subject {
	subject, err := s.service.Track(s.ctxAt(0), TrackInput{
		Kind:     models.SubjectIncident,
		Title:    "checkout latency",
		Severity: models.SeverityHigh,
	})
	s.Require().NoError(err)
	return subject
}

func (s *ServiceSuite) TestTrackStampsDeadlines() {
	subject := s.track()
	s.Equal(s.t0, subject.CreatedAt)

	record, err := s.service.Monitoring(s.ctxAt(0), subject.ID)
	s.Require().NoError(err)
	s.Equal(s.t0.Add(4*time.Hour), record.ResponseDeadline)
	s.Equal(s.t0.Add(24*time.Hour), record.ResolutionDeadline)
}

func (s *ServiceSuite) TestTrackRejectsDuplicatesAndBadInput() {
	subject := s.track()

	_, err := s.service.Track(s.ctxAt(0), TrackInput{
		ID:       subject.ID,
		Kind:     models.SubjectIncident,
		Severity: models.SeverityHigh,
	})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.service.Track(s.ctxAt(0), TrackInput{Kind: "ticket", Severity: models.SeverityHigh})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ServiceSuite) TestResponseAndResolution() {
	subject := s.track()

	first, err := s.service.RecordResponse(s.ctxAt(1), subject.ID, s.t0.Add(time.Hour))
	s.Require().NoError(err)
	again, err := s.service.RecordResponse(s.ctxAt(2), subject.ID, s.t0.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(*first.RespondedAt, *again.RespondedAt, "first response wins")

	_, err = s.service.RecordResolution(s.ctxAt(3), subject.ID, s.t0.Add(3*time.Hour))
	s.Require().NoError(err)

	record, err := s.service.Monitoring(s.ctxAt(3), subject.ID)
	s.Require().NoError(err)
	s.True(record.Frozen)
	s.True(record.ResponseSLAMet)
	s.True(record.ResolutionSLAMet)

	_, err = s.service.RecordResolution(s.ctxAt(4), subject.ID, s.t0.Add(4*time.Hour))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))
}

func (s *ServiceSuite) TestUnknownSubject() {
	unknown := id.SubjectID(uuid.New())

	_, err := s.service.RecordResponse(s.ctxAt(1), unknown, s.t0)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Monitoring(s.ctxAt(1), unknown)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.service.Alerts(s.ctxAt(1), unknown)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAcknowledge() {
	subject := s.track()
	outcome, err := s.service.EvaluateNow(s.ctxAt(5), subject.ID)
	s.Require().NoError(err)
	s.Require().NotEmpty(outcome.Alerts)
	alertID := outcome.Alerts[0].ID
	actor := id.UserID(uuid.New())

	s.auditor.EXPECT().Emit(gomock.Any(), gomock.Cond(func(e audit.Event) bool {
		return e.Action == string(audit.EventSLAAlertAcknowledged) && e.ActorID == actor
	})).Return(nil).Times(1)

	acked, err := s.service.Acknowledge(s.ctxAt(5.5), alertID, actor)
	s.Require().NoError(err)
	s.True(acked.Acknowledged)
	s.Equal(actor, *acked.AcknowledgedBy)

	_, err = s.service.Acknowledge(s.ctxAt(6), alertID, actor)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidTransition))

	_, err = s.service.Acknowledge(s.ctxAt(6), id.AlertID(uuid.New()), actor)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	alerts, err := s.service.Alerts(s.ctxAt(6), subject.ID)
	s.Require().NoError(err)
	s.Len(alerts, len(outcome.Alerts))
}

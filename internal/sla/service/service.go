// Package service is the SLA module's application layer: it registers
// subjects, records their response and resolution, and exposes monitoring
// state and alert acknowledgement.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auditflow/internal/sla/evaluator"
	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/audit"
	"auditflow/pkg/platform/sentinel"
	"auditflow/pkg/requestcontext"
)

// Evaluator runs an SLA tick for one subject.
type Evaluator interface {
	Evaluate(ctx context.Context, subjectID id.SubjectID, now time.Time) (*evaluator.Outcome, error)
}

// Service orchestrates SLA subject bookkeeping.
type Service struct {
	store     ports.TransactionalStore
	evaluator Evaluator
	auditor   ports.AuditPublisher
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

// New constructs a Service.
func New(store ports.TransactionalStore, eval Evaluator, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("sla store is required")
	}
	if eval == nil {
		return nil, errors.New("evaluator is required")
	}
	s := &Service{store: store, evaluator: eval}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// TrackInput describes a subject to register. A nil ID gets a fresh one;
// a zero CreatedAt means now.
type TrackInput struct {
	ID        id.SubjectID
	Kind      models.SubjectKind
	Title     string
	Severity  models.Severity
	CreatedAt time.Time
}

// Track registers a subject and runs its first tick so deadlines are stamped
// right away. The first tick is best-effort; the sweep retries it.
func (s *Service) Track(ctx context.Context, in TrackInput) (*models.Subject, error) {
	subjectID := in.ID
	if subjectID.IsNil() {
		subjectID = id.SubjectID(uuid.New())
	}
	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = requestcontext.Now(ctx)
	}

	subject, err := models.NewSubject(subjectID, in.Kind, in.Title, in.Severity, createdAt)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateSubject(ctx, subject); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "subject already tracked")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to track subject")
	}
	s.logger.InfoContext(ctx, "sla subject tracked",
		"subject_id", subject.ID.String(),
		"kind", subject.Kind,
		"severity", subject.Severity,
	)

	s.evaluateBestEffort(ctx, subject.ID)
	return subject, nil
}

// RecordResponse stamps the subject's first response. Repeated calls keep
// the first stamp.
func (s *Service) RecordResponse(ctx context.Context, subjectID id.SubjectID, at time.Time) (*models.Subject, error) {
	return s.mutateSubject(ctx, subjectID, func(subject *models.Subject) (bool, error) {
		return subject.RecordResponse(at)
	})
}

// RecordResolution marks the subject resolved, which ends its SLA clock.
func (s *Service) RecordResolution(ctx context.Context, subjectID id.SubjectID, at time.Time) (*models.Subject, error) {
	return s.mutateSubject(ctx, subjectID, func(subject *models.Subject) (bool, error) {
		if err := subject.RecordResolution(at); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (s *Service) mutateSubject(ctx context.Context, subjectID id.SubjectID, mutate func(*models.Subject) (bool, error)) (*models.Subject, error) {
	var result *models.Subject
	changed := false
	err := s.store.RunInTx(ctx, subjectID.String(), func(ctx context.Context, tx ports.Store) error {
		subject, err := tx.GetSubject(ctx, subjectID)
		if err != nil {
			return err
		}
		if subject == nil {
			return sentinel.ErrNotFound
		}
		changed, err = mutate(subject)
		if err != nil {
			return err
		}
		result = subject
		if !changed {
			return nil
		}
		return tx.SaveSubject(ctx, subject)
	})
	if err != nil {
		return nil, translateStoreErr(err, "failed to update subject")
	}
	if changed {
		s.evaluateBestEffort(ctx, subjectID)
	}
	return result, nil
}

// Acknowledge marks an alert as seen by actor.
func (s *Service) Acknowledge(ctx context.Context, alertID id.AlertID, actor id.UserID) (*models.SLAAlert, error) {
	alert, err := s.store.GetAlert(ctx, alertID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load alert")
	}
	if alert == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "alert not found")
	}

	now := requestcontext.Now(ctx)
	err = s.store.RunInTx(ctx, alert.SubjectID.String(), func(ctx context.Context, tx ports.Store) error {
		current, err := tx.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if current == nil {
			return sentinel.ErrNotFound
		}
		if err := current.Acknowledge(actor, now); err != nil {
			return err
		}
		alert = current
		return tx.UpdateAlert(ctx, current)
	})
	if err != nil {
		return nil, translateStoreErr(err, "failed to acknowledge alert")
	}

	ports.LogAudit(ctx, s.logger, s.auditor, audit.Event{
		Subject: alert.SubjectID.String(),
		Action:  string(audit.EventSLAAlertAcknowledged),
		Reason:  alert.Key(),
		ActorID: actor,
	}, "alert_id", alertID.String())
	return alert, nil
}

// Monitoring returns the subject's SLA record.
func (s *Service) Monitoring(ctx context.Context, subjectID id.SubjectID) (*models.SLAMonitoring, error) {
	record, err := s.store.LoadMonitoring(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load monitoring")
	}
	if record == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "subject is not monitored")
	}
	return record, nil
}

// Alerts lists every alert raised for the subject, oldest first.
func (s *Service) Alerts(ctx context.Context, subjectID id.SubjectID) ([]*models.SLAAlert, error) {
	subject, err := s.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	if subject == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
	}
	alerts, err := s.store.ListAlerts(ctx, subjectID, time.Time{})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list alerts")
	}
	return alerts, nil
}

// EvaluateNow runs a tick for the subject at the request time.
func (s *Service) EvaluateNow(ctx context.Context, subjectID id.SubjectID) (*evaluator.Outcome, error) {
	return s.evaluator.Evaluate(ctx, subjectID, requestcontext.Now(ctx))
}

func (s *Service) evaluateBestEffort(ctx context.Context, subjectID id.SubjectID) {
	if _, err := s.EvaluateNow(ctx, subjectID); err != nil {
		s.logger.WarnContext(ctx, "immediate sla evaluation failed, sweep will retry",
			"subject_id", subjectID.String(),
			"error", err,
		)
	}
}

func translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "concurrent update, retry")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

// Package service is the approval module's application layer: it creates
// requests from catalog workflows, applies approver decisions through the
// sequencer and notifies lifecycle observers after each commit.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditflow/internal/approval/metrics"
	"auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	"auditflow/internal/approval/sequencer"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/audit"
	"auditflow/pkg/platform/sentinel"
	"auditflow/pkg/requestcontext"
)

// Service orchestrates approval requests.
type Service struct {
	store     ports.TransactionalStore
	catalog   ports.WorkflowCatalog
	sequencer *sequencer.Sequencer
	observers []ports.Observer
	auditor   ports.AuditPublisher
	txAudit   ports.TxAuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Service)

// WithSequencing sets the sequencing options. The default is permissive
// ordering without cascade skip.
func WithSequencing(cfg sequencer.Config) Option {
	return func(s *Service) {
		s.sequencer = sequencer.New(cfg)
	}
}

// WithObservers registers lifecycle observers, called in order.
func WithObservers(observers ...ports.Observer) Option {
	return func(s *Service) {
		s.observers = append(s.observers, observers...)
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = publisher
	}
}

// WithTransactionalAudit writes decision, cancellation and terminal events
// inside the request transaction instead of publishing them after commit.
func WithTransactionalAudit(publisher ports.TxAuditPublisher) Option {
	return func(s *Service) {
		s.txAudit = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service.
func New(store ports.TransactionalStore, catalog ports.WorkflowCatalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("approval store is required")
	}
	if catalog == nil {
		return nil, errors.New("workflow catalog is required")
	}
	s := &Service{
		store:     store,
		catalog:   catalog,
		sequencer: sequencer.New(sequencer.Config{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer("auditflow/approval/service")
	}
	return s, nil
}

// RequestView is a request with its steps ordered by StepOrder.
type RequestView struct {
	Request *models.ApprovalRequest
	Steps   []*models.ApprovalRequestStep
}

// DecisionOutcome is the state after a decision plus what it changed.
type DecisionOutcome struct {
	RequestView
	Result *models.StepResult
}

// CreateInput describes a new approval request. Assignees optionally pins
// a user to a step order.
type CreateInput struct {
	EntityType  string
	EntityID    string
	WorkflowID  string
	RequesterID id.UserID
	Title       string
	Priority    models.Priority
	Assignees   map[int]id.UserID
}

func (in *CreateInput) validate() error {
	in.EntityType = strings.TrimSpace(in.EntityType)
	in.EntityID = strings.TrimSpace(in.EntityID)
	in.Title = strings.TrimSpace(in.Title)
	switch {
	case in.EntityType == "":
		return dErrors.New(dErrors.CodeInvalidInput, "entity type is required")
	case in.EntityID == "":
		return dErrors.New(dErrors.CodeInvalidInput, "entity ID is required")
	case in.Title == "":
		return dErrors.New(dErrors.CodeInvalidInput, "title is required")
	case in.RequesterID.IsNil():
		return dErrors.New(dErrors.CodeInvalidInput, "requester is required")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !in.Priority.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid priority")
	}
	return nil
}

// Create instantiates the workflow's steps and stores a pending request.
func (s *Service) Create(ctx context.Context, in CreateInput) (*RequestView, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	def, err := s.catalog.Workflow(ctx, in.WorkflowID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load workflow")
	}
	if def == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "workflow not found")
	}

	now := requestcontext.Now(ctx)
	request := &models.ApprovalRequest{
		ID:          id.ApprovalRequestID(uuid.New()),
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		WorkflowID:  def.ID,
		RequesterID: in.RequesterID,
		Title:       in.Title,
		Priority:    in.Priority,
		Status:      models.RequestPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	steps, err := sequencer.InstantiateSteps(request.ID, def)
	if err != nil {
		return nil, err
	}
	if err := assign(steps, in.Assignees); err != nil {
		return nil, err
	}

	if err := s.store.CreateRequest(ctx, request, steps); err != nil {
		return nil, translateStoreErr(err, "failed to create approval request")
	}

	s.metrics.IncrementCreated(string(request.Priority))
	s.logAudit(ctx, audit.Event{
		Subject:  request.ID.String(),
		Action:   string(audit.EventApprovalRequestCreated),
		Decision: string(request.Status),
		ActorID:  request.RequesterID,
	}, "workflow_id", request.WorkflowID, "priority", request.Priority)
	for _, o := range s.observers {
		o.OnRequestCreated(ctx, request.Clone())
	}
	return &RequestView{Request: request, Steps: steps}, nil
}

func assign(steps []*models.ApprovalRequestStep, assignees map[int]id.UserID) error {
	for order, user := range assignees {
		if user.IsNil() {
			return dErrors.New(dErrors.CodeInvalidInput, "assignee cannot be nil")
		}
		found := false
		for _, step := range steps {
			if step.StepOrder == order {
				u := user
				step.AssigneeID = &u
				found = true
			}
		}
		if !found {
			return dErrors.New(dErrors.CodeInvalidInput, "assignee given for unknown step")
		}
	}
	return nil
}

// Get returns a request and its steps.
func (s *Service) Get(ctx context.Context, requestID id.ApprovalRequestID) (*RequestView, error) {
	request, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval request")
	}
	if request == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "approval request not found")
	}
	steps, err := s.store.ListSteps(ctx, requestID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load approval steps")
	}
	return &RequestView{Request: request, Steps: steps}, nil
}

// Decide applies actor's decision to one step. Decisions on the same
// request are serialized; InvalidTransition and StepNotReady are returned
// unchanged for the caller.
func (s *Service) Decide(
	ctx context.Context,
	requestID id.ApprovalRequestID,
	stepOrder int,
	kind models.DecisionKind,
	actor id.UserID,
	comment string,
) (*DecisionOutcome, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "approval.decide",
		trace.WithAttributes(
			attribute.String("request_id", requestID.String()),
			attribute.Int("step_order", stepOrder),
			attribute.String("decision", string(kind)),
		))
	defer span.End()
	defer s.metrics.ObserveDecision(start)

	decision := models.Decision{
		Kind:    kind,
		Actor:   actor,
		Comment: strings.TrimSpace(comment),
		At:      requestcontext.Now(ctx),
	}

	var outcome DecisionOutcome
	err := s.store.RunInTx(ctx, requestID, func(ctx context.Context, tx ports.Store) error {
		request, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return sentinel.ErrNotFound
		}
		steps, err := tx.ListSteps(ctx, requestID)
		if err != nil {
			return err
		}
		result, err := s.sequencer.ApplyDecision(request, steps, stepOrder, decision)
		if err != nil {
			return err
		}
		if err := tx.SaveSteps(ctx, append([]*models.ApprovalRequestStep{result.Step}, result.Skipped...)...); err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, request); err != nil {
			return err
		}
		events := []audit.Event{decisionEvent(requestID, result, decision)}
		if result.Terminal {
			events = append(events, terminalEvent(request))
		}
		if err := s.auditInTx(ctx, events...); err != nil {
			return err
		}
		outcome = DecisionOutcome{RequestView: RequestView{Request: request, Steps: steps}, Result: result}
		return nil
	})
	if err != nil {
		err = translateStoreErr(err, "failed to apply decision")
		s.metrics.IncrementRefused(string(dErrors.CodeOf(err)))
		span.RecordError(err)
		span.SetStatus(codes.Error, "decision refused")
		return nil, err
	}

	result := outcome.Result
	span.SetAttributes(attribute.String("request_status", string(result.RequestStatus)))
	s.metrics.IncrementDecision(string(kind))
	s.logCommittedAudit(ctx, decisionEvent(requestID, result, decision),
		"step_order", stepOrder, "request_status", result.RequestStatus)

	if result.FirstResponse {
		for _, o := range s.observers {
			o.OnFirstResponse(ctx, requestID, decision.At)
		}
	}
	if result.Terminal {
		s.closed(ctx, outcome.Request, decision.At)
	}
	return &outcome, nil
}

// Cancel withdraws an open request. Only the requester may cancel.
func (s *Service) Cancel(ctx context.Context, requestID id.ApprovalRequestID, actor id.UserID, reason string) (*RequestView, error) {
	now := requestcontext.Now(ctx)
	var view RequestView
	err := s.store.RunInTx(ctx, requestID, func(ctx context.Context, tx ports.Store) error {
		request, err := tx.GetRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if request == nil {
			return sentinel.ErrNotFound
		}
		if request.RequesterID != actor {
			return dErrors.New(dErrors.CodeForbidden, "only the requester can cancel a request")
		}
		cancelled := models.RequestCancelled
		if err := request.Apply(models.RequestUpdate{Status: &cancelled}, now); err != nil {
			return err
		}
		if err := tx.SaveRequest(ctx, request); err != nil {
			return err
		}
		if err := s.auditInTx(ctx, cancelEvent(requestID, actor, reason), terminalEvent(request)); err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, requestID)
		if err != nil {
			return err
		}
		view = RequestView{Request: request, Steps: steps}
		return nil
	})
	if err != nil {
		return nil, translateStoreErr(err, "failed to cancel approval request")
	}

	s.logCommittedAudit(ctx, cancelEvent(requestID, actor, reason))
	s.closed(ctx, view.Request, now)
	return &view, nil
}

// PendingForRole lists the pending steps a role can act on.
func (s *Service) PendingForRole(ctx context.Context, role string) ([]*models.ApprovalRequestStep, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "role is required")
	}
	steps, err := s.store.ListPendingSteps(ctx, role)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list pending steps")
	}
	return steps, nil
}

func (s *Service) closed(ctx context.Context, request *models.ApprovalRequest, at time.Time) {
	s.metrics.IncrementClosed(string(request.Status))
	s.logCommittedAudit(ctx, terminalEvent(request))
	for _, o := range s.observers {
		o.OnRequestTerminal(ctx, request.ID, request.Status, at)
	}
}

func decisionEvent(requestID id.ApprovalRequestID, result *models.StepResult, decision models.Decision) audit.Event {
	return audit.Event{
		Subject:  requestID.String(),
		Action:   string(audit.EventApprovalStepDecided),
		Decision: string(result.Step.Status),
		Reason:   decision.Comment,
		ActorID:  decision.Actor,
	}
}

func cancelEvent(requestID id.ApprovalRequestID, actor id.UserID, reason string) audit.Event {
	return audit.Event{
		Subject:  requestID.String(),
		Action:   string(audit.EventApprovalRequestCancelled),
		Decision: string(models.RequestCancelled),
		Reason:   strings.TrimSpace(reason),
		ActorID:  actor,
	}
}

func terminalEvent(request *models.ApprovalRequest) audit.Event {
	return audit.Event{
		Subject:  request.ID.String(),
		Action:   string(audit.EventApprovalRequestTerminal),
		Decision: string(request.Status),
	}
}

// auditInTx appends events through the transactional publisher, if any.
func (s *Service) auditInTx(ctx context.Context, events ...audit.Event) error {
	if s.txAudit == nil {
		return nil
	}
	for _, event := range events {
		if err := s.txAudit.EmitTx(ctx, event); err != nil {
			return fmt.Errorf("append audit event %s: %w", event.Action, err)
		}
	}
	return nil
}

// logCommittedAudit logs an event that auditInTx may already have written,
// publishing it only when transactional audit is off.
func (s *Service) logCommittedAudit(ctx context.Context, event audit.Event, attrs ...any) {
	if s.txAudit == nil {
		s.logAudit(ctx, event, attrs...)
		return
	}
	s.logAuditLine(ctx, event, attrs...)
}

func (s *Service) logAudit(ctx context.Context, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		event.RequestID = requestID
	}
	s.logAuditLine(ctx, event, attrs...)
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}

func (s *Service) logAuditLine(ctx context.Context, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	attrs = append(attrs, "event", event.Action, "subject", event.Subject, "log_type", "audit")
	s.logger.InfoContext(ctx, event.Action, attrs...)
}

func translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "approval request not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.New(dErrors.CodeConflict, "approval request already exists")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, msg)
}

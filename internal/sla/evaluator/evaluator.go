// Package evaluator runs the SLA tick for one subject: response and
// resolution checks, escalation, and the terminal freeze, in that order.
//
// A tick decides on a snapshot and commits in a store transaction serialized
// per subject. The commit re-checks the subject's terminal state and the
// monitoring version; notifications go out only after commit.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auditflow/internal/sla/deadline"
	"auditflow/internal/sla/dedup"
	"auditflow/internal/sla/metrics"
	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/audit"
	"auditflow/pkg/platform/sentinel"
)

// Status describes what a tick did.
type Status string

const (
	// StatusNoop means the tick found nothing to change.
	StatusNoop Status = "noop"
	// StatusUpdated means the tick committed changes.
	StatusUpdated Status = "updated"
	// StatusDeferred means a concurrent writer won; the next tick retries.
	StatusDeferred Status = "deferred"
	// StatusDiscarded means the subject turned terminal between decide and commit.
	StatusDiscarded Status = "discarded"
	// StatusUnmonitored means no policy covers the subject's severity.
	StatusUnmonitored Status = "unmonitored"
	// StatusFrozen means the monitoring record is final.
	StatusFrozen Status = "frozen"
)

// Outcome reports a tick's result. Alerts holds only committed alerts.
type Outcome struct {
	SubjectID  id.SubjectID
	Status     Status
	Monitoring *models.SLAMonitoring
	Alerts     []*models.SLAAlert
	Escalation *models.EscalationNotice
	Frozen     bool
}

// Evaluator runs SLA ticks.
type Evaluator struct {
	store    ports.TransactionalStore
	policies ports.PolicyStore
	dedup    *dedup.Deduplicator
	notifier ports.Notifier
	auditor  ports.AuditPublisher
	txAudit  ports.TxAuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Evaluator)

func WithNotifier(n ports.Notifier) Option {
	return func(e *Evaluator) {
		e.notifier = n
	}
}

func WithAuditPublisher(p ports.AuditPublisher) Option {
	return func(e *Evaluator) {
		e.auditor = p
	}
}

// WithTransactionalAudit writes alert, escalation and freeze events inside
// the tick's commit transaction instead of publishing them after commit.
func WithTransactionalAudit(p ports.TxAuditPublisher) Option {
	return func(e *Evaluator) {
		e.txAudit = p
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Evaluator) {
		e.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Evaluator) {
		e.tracer = t
	}
}

// WithDedupWindow overrides the alert suppression window.
func WithDedupWindow(window time.Duration) Option {
	return func(e *Evaluator) {
		e.dedup = dedup.New(e.store, window)
	}
}

// New constructs an Evaluator.
func New(store ports.TransactionalStore, policies ports.PolicyStore, opts ...Option) (*Evaluator, error) {
	if store == nil {
		return nil, errors.New("sla store is required")
	}
	if policies == nil {
		return nil, errors.New("policy store is required")
	}
	e := &Evaluator{
		store:    store,
		policies: policies,
		dedup:    dedup.New(store, dedup.DefaultWindow),
		logger:   slog.Default(),
		tracer:   otel.Tracer("auditflow/sla/evaluator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer("auditflow/sla/evaluator")
	}
	return e, nil
}

// plan is the set of changes a tick wants to commit.
type plan struct {
	update     models.MonitoringUpdate
	alerts     []*models.SLAAlert
	escalation *models.EscalationLevel
}

func (p *plan) isEmpty() bool {
	return p.update.IsEmpty() && len(p.alerts) == 0
}

// Evaluate runs one tick for subjectID at now.
func (e *Evaluator) Evaluate(ctx context.Context, subjectID id.SubjectID, now time.Time) (*Outcome, error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "sla.evaluate",
		trace.WithAttributes(attribute.String("subject_id", subjectID.String())))
	defer span.End()

	outcome, err := e.evaluate(ctx, subjectID, now)
	e.metrics.ObserveTick(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("outcome", string(outcome.Status)))
	e.metrics.IncrementTick(string(outcome.Status))
	return outcome, nil
}

func (e *Evaluator) evaluate(ctx context.Context, subjectID id.SubjectID, now time.Time) (*Outcome, error) {
	subject, err := e.store.GetSubject(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load subject")
	}
	if subject == nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
	}

	record, err := e.store.LoadMonitoring(ctx, subjectID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load monitoring")
	}
	if record != nil && record.Frozen {
		return &Outcome{SubjectID: subjectID, Status: StatusFrozen, Monitoring: record, Frozen: true}, nil
	}

	policy, err := e.resolvePolicy(ctx, subject, record)
	if err != nil {
		return nil, err
	}
	if policy == nil {
		e.logger.DebugContext(ctx, "no active sla policy for subject",
			"subject_id", subjectID.String(),
			"severity", subject.Severity,
		)
		return &Outcome{SubjectID: subjectID, Status: StatusUnmonitored}, nil
	}

	if record == nil {
		record, err = e.startMonitoring(ctx, subject, policy, now)
		if err != nil {
			return nil, err
		}
		if record.Frozen {
			return &Outcome{SubjectID: subjectID, Status: StatusFrozen, Monitoring: record, Frozen: true}, nil
		}
	}

	p, err := e.decide(ctx, subject, record, policy, now)
	if err != nil {
		return nil, err
	}
	if p.isEmpty() {
		return &Outcome{SubjectID: subjectID, Status: StatusNoop, Monitoring: record}, nil
	}
	return e.commit(ctx, subject, record, policy, p, now)
}

// resolvePolicy prefers the policy a record was started under, so deadlines
// and escalation ladders stay consistent for the record's lifetime.
func (e *Evaluator) resolvePolicy(ctx context.Context, subject *models.Subject, record *models.SLAMonitoring) (*models.SLAPolicy, error) {
	if record != nil {
		policy, err := e.policies.Get(ctx, record.SLAPolicyID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load sla policy")
		}
		if policy != nil {
			return policy, nil
		}
	}
	policy, err := e.policies.ActivePolicy(ctx, subject.Severity)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load sla policy")
	}
	return policy, nil
}

func (e *Evaluator) startMonitoring(ctx context.Context, subject *models.Subject, policy *models.SLAPolicy, now time.Time) (*models.SLAMonitoring, error) {
	deadlines := deadline.Compute(subject.CreatedAt, policy)
	record := &models.SLAMonitoring{
		ID:                 id.MonitoringID(uuid.New()),
		SubjectID:          subject.ID,
		SLAPolicyID:        policy.ID,
		ResponseDeadline:   deadlines.Response,
		ResolutionDeadline: deadlines.Resolution,
		ResponseSLAMet:     true,
		ResolutionSLAMet:   true,
		AlertsSent:         []string{},
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	stored, created, err := e.store.CreateMonitoring(ctx, record)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create monitoring")
	}
	if created {
		e.logger.InfoContext(ctx, "sla monitoring started",
			"subject_id", subject.ID.String(),
			"policy_id", policy.ID,
			"response_deadline", deadlines.Response,
			"resolution_deadline", deadlines.Resolution,
		)
		ports.LogAudit(ctx, e.logger, e.auditor,
			auditEvent(audit.EventSLAMonitoringStarted, subject.ID, "policy "+policy.ID),
			"subject_id", subject.ID.String())
	}
	return stored, nil
}

// decide builds the tick's plan from a snapshot. The order of checks is
// fixed: response, resolution, escalation, then the terminal freeze.
func (e *Evaluator) decide(ctx context.Context, subject *models.Subject, record *models.SLAMonitoring, policy *models.SLAPolicy, now time.Time) (*plan, error) {
	p := &plan{}

	responded := record.ActualResponseTime
	if responded == nil && subject.RespondedAt != nil {
		t := *subject.RespondedAt
		p.update.ActualResponseTime = &t
		responded = &t
	}
	resolved := record.ActualResolutionTime
	if resolved == nil && subject.ResolvedAt != nil {
		t := *subject.ResolvedAt
		p.update.ActualResolutionTime = &t
		resolved = &t
	}

	if responded != nil && resolved != nil {
		responseMet := deadline.Met(*responded, record.ResponseDeadline)
		resolutionMet := deadline.Met(*resolved, record.ResolutionDeadline)
		p.update.ResponseSLAMet = &responseMet
		p.update.ResolutionSLAMet = &resolutionMet
		p.update.Freeze = true
		return p, nil
	}

	var candidates []*models.SLAAlert

	// 1. response
	if responded == nil {
		switch {
		case now.After(record.ResponseDeadline):
			candidates = append(candidates, newAlert(subject.ID, models.AlertResponseBreach, 0, now,
				"response deadline passed at "+record.ResponseDeadline.Format(time.RFC3339)))
			if record.ResponseSLAMet {
				p.update.ResponseSLAMet = boolPtr(false)
			}
		case now.After(deadline.WarningThreshold(record.ResponseDeadline, policy.ResponseWarningLead())):
			candidates = append(candidates, newAlert(subject.ID, models.AlertResponseWarning, 0, now,
				"response due by "+record.ResponseDeadline.Format(time.RFC3339)))
		}
	} else if met := deadline.Met(*responded, record.ResponseDeadline); met != record.ResponseSLAMet {
		p.update.ResponseSLAMet = &met
	}

	// 2. resolution
	switch {
	case now.After(record.ResolutionDeadline):
		candidates = append(candidates, newAlert(subject.ID, models.AlertResolutionBreach, 0, now,
			"resolution deadline passed at "+record.ResolutionDeadline.Format(time.RFC3339)))
		if record.ResolutionSLAMet {
			p.update.ResolutionSLAMet = boolPtr(false)
		}
	case now.After(deadline.WarningThreshold(record.ResolutionDeadline, policy.ResolutionWarningLead())):
		candidates = append(candidates, newAlert(subject.ID, models.AlertResolutionWarning, 0, now,
			"resolution due by "+record.ResolutionDeadline.Format(time.RFC3339)))
	}

	for _, candidate := range candidates {
		ok, err := e.dedup.ShouldEmit(ctx, subject.ID, candidate.AlertType, now)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check alert history")
		}
		if !ok {
			e.metrics.IncrementSuppressed(string(candidate.AlertType))
			continue
		}
		p.alerts = append(p.alerts, candidate)
	}

	// 3. escalation
	if level := policy.EscalationAt(now.Sub(subject.CreatedAt)); level != nil && level.Level > record.CurrentEscalationLevel {
		lvl := *level
		at := now
		p.escalation = &lvl
		p.update.EscalationLevel = &lvl.Level
		p.update.LastEscalationAt = &at
		p.alerts = append(p.alerts, newAlert(subject.ID, models.AlertEscalation, lvl.Level, now,
			"escalated to level "+strconv.Itoa(lvl.Level)))
	}

	return p, nil
}

// commit applies p inside a per-subject transaction. Escalation alerts skip
// the time window: the version check already makes them once per level.
func (e *Evaluator) commit(ctx context.Context, subject *models.Subject, snapshot *models.SLAMonitoring, policy *models.SLAPolicy, p *plan, now time.Time) (*Outcome, error) {
	var (
		committed []*models.SLAAlert
		updated   *models.SLAMonitoring
		discarded bool
	)
	err := e.store.RunInTx(ctx, subject.ID.String(), func(ctx context.Context, tx ports.Store) error {
		current, err := tx.GetSubject(ctx, subject.ID)
		if err != nil {
			return fmt.Errorf("reload subject: %w", err)
		}
		if current == nil {
			return sentinel.ErrNotFound
		}
		if current.IsTerminal() && !subject.IsTerminal() {
			discarded = true
			return nil
		}

		record, err := tx.LoadMonitoring(ctx, subject.ID)
		if err != nil {
			return fmt.Errorf("reload monitoring: %w", err)
		}
		if record == nil || record.Version != snapshot.Version {
			return sentinel.ErrConflict
		}

		update := p.update
		update.AddAlerts = nil
		committed = committed[:0]
		for _, alert := range p.alerts {
			var inserted bool
			if alert.AlertType == models.AlertEscalation {
				inserted, err = tx.InsertAlertIfAbsent(ctx, alert, 0)
			} else {
				inserted, err = e.dedup.Emit(ctx, tx, alert)
			}
			if err != nil {
				return err
			}
			if !inserted {
				e.metrics.IncrementSuppressed(string(alert.AlertType))
				continue
			}
			committed = append(committed, alert)
			update.AddAlerts = append(update.AddAlerts, alert.Key())
		}
		if update.IsEmpty() {
			return nil
		}

		if err := record.Apply(update, now); err != nil {
			return err
		}
		if err := tx.UpdateMonitoring(ctx, record, snapshot.Version); err != nil {
			return err
		}
		if e.txAudit != nil {
			for _, event := range tickEvents(subject.ID, committed, p, record) {
				if err := e.txAudit.EmitTx(ctx, event); err != nil {
					return fmt.Errorf("append audit event %s: %w", event.Action, err)
				}
			}
		}
		updated = record
		return nil
	})

	switch {
	case errors.Is(err, sentinel.ErrConflict):
		e.logger.WarnContext(ctx, "sla tick deferred after concurrent modification",
			"subject_id", subject.ID.String(),
			"version", snapshot.Version,
		)
		return &Outcome{SubjectID: subject.ID, Status: StatusDeferred, Monitoring: snapshot}, nil
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.New(dErrors.CodeNotFound, "subject not found")
	case err != nil:
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to commit sla tick")
	}

	if discarded {
		e.logger.InfoContext(ctx, "sla tick discarded, subject reached terminal state",
			"subject_id", subject.ID.String(),
		)
		return &Outcome{SubjectID: subject.ID, Status: StatusDiscarded, Monitoring: snapshot}, nil
	}
	if updated == nil {
		return &Outcome{SubjectID: subject.ID, Status: StatusNoop, Monitoring: snapshot}, nil
	}

	outcome := &Outcome{
		SubjectID:  subject.ID,
		Status:     StatusUpdated,
		Monitoring: updated,
		Alerts:     committed,
		Frozen:     p.update.Freeze,
	}
	if p.escalation != nil {
		outcome.Escalation = &models.EscalationNotice{
			SubjectID:    subject.ID,
			Level:        p.escalation.Level,
			NotifyRoles:  append([]string(nil), p.escalation.NotifyRoles...),
			Message:      fmt.Sprintf("%s escalated to level %d", subject.Title, p.escalation.Level),
			AutoEscalate: p.escalation.AutoEscalate,
			At:           now,
		}
	}
	e.afterCommit(ctx, outcome, policy)
	return outcome, nil
}

// tickEvents lists the audit events for a committed tick, in the order
// afterCommit reports them.
func tickEvents(subjectID id.SubjectID, alerts []*models.SLAAlert, p *plan, record *models.SLAMonitoring) []audit.Event {
	events := make([]audit.Event, 0, len(alerts)+2)
	for _, alert := range alerts {
		events = append(events, auditEvent(audit.EventSLAAlertRaised, subjectID, alert.Key()))
	}
	if p.escalation != nil {
		events = append(events, auditEvent(audit.EventSLAEscalated, subjectID, "level "+strconv.Itoa(p.escalation.Level)))
	}
	if p.update.Freeze {
		events = append(events, auditEvent(audit.EventSLAFrozen, subjectID, frozenReason(record)))
	}
	return events
}

func auditEvent(event audit.AuditEvent, subjectID id.SubjectID, reason string) audit.Event {
	return audit.Event{
		Subject: subjectID.String(),
		Action:  string(event),
		Reason:  reason,
	}
}

func frozenReason(record *models.SLAMonitoring) string {
	return fmt.Sprintf("response_met=%t resolution_met=%t", record.ResponseSLAMet, record.ResolutionSLAMet)
}

// afterCommit hands committed effects to notification and audit. Nothing
// here can undo the commit.
func (e *Evaluator) afterCommit(ctx context.Context, outcome *Outcome, policy *models.SLAPolicy) {
	for _, alert := range outcome.Alerts {
		e.metrics.IncrementAlert(string(alert.AlertType))
		e.logger.InfoContext(ctx, "sla alert raised",
			"subject_id", alert.SubjectID.String(),
			"alert_type", alert.AlertType,
			"severity", alert.Severity,
		)
		e.emitAudit(ctx, audit.EventSLAAlertRaised, alert.SubjectID, alert.Key())
		if alert.AlertType != models.AlertEscalation && e.notifier != nil {
			e.notifier.OnAlert(ctx, alert, policy.AlertRoles)
		}
	}

	if notice := outcome.Escalation; notice != nil {
		e.metrics.IncrementEscalation(strconv.Itoa(notice.Level))
		e.logger.WarnContext(ctx, "sla escalated",
			"subject_id", notice.SubjectID.String(),
			"level", notice.Level,
			"notify_roles", notice.NotifyRoles,
			"auto_escalate", notice.AutoEscalate,
		)
		e.emitAudit(ctx, audit.EventSLAEscalated, notice.SubjectID, "level "+strconv.Itoa(notice.Level))
		if e.notifier != nil {
			e.notifier.OnEscalation(ctx, *notice)
		}
	}

	if outcome.Frozen {
		e.metrics.IncrementFrozen()
		e.emitAudit(ctx, audit.EventSLAFrozen, outcome.SubjectID, frozenReason(outcome.Monitoring))
	}
}

// emitAudit logs the event and publishes it unless the commit already
// appended it.
func (e *Evaluator) emitAudit(ctx context.Context, event audit.AuditEvent, subjectID id.SubjectID, reason string) {
	var publisher ports.AuditPublisher = e.auditor
	if e.txAudit != nil {
		publisher = nil
	}
	ports.LogAudit(ctx, e.logger, publisher, auditEvent(event, subjectID, reason), "subject_id", subjectID.String())
}

func newAlert(subjectID id.SubjectID, t models.AlertType, level int, now time.Time, message string) *models.SLAAlert {
	return &models.SLAAlert{
		ID:        id.AlertID(uuid.New()),
		SubjectID: subjectID,
		AlertType: t,
		Level:     level,
		Severity:  t.Severity(),
		Message:   message,
		SentAt:    now,
	}
}

func boolPtr(b bool) *bool {
	return &b
}

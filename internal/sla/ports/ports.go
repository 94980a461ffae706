// Package ports defines shared interfaces for the SLA module.
// Interfaces are placed here when consumed by more than one package
// (evaluator, scheduler, service, handler) to avoid duplication.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Notifier,Locker,AuditPublisher

import (
	"context"
	"log/slog"
	"time"

	"auditflow/internal/sla/models"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/audit"
	"auditflow/pkg/requestcontext"
)

// PolicyStore is the read-only policy lookup.
type PolicyStore interface {
	// ActivePolicy returns the active policy for a severity, or nil when none
	// is configured. A missing policy is not an error: the subject is simply
	// not monitored.
	ActivePolicy(ctx context.Context, severity models.Severity) (*models.SLAPolicy, error)

	// Get returns a policy by ID, or nil when unknown.
	Get(ctx context.Context, policyID string) (*models.SLAPolicy, error)

	// List returns all configured policies.
	List(ctx context.Context) ([]*models.SLAPolicy, error)
}

// Store persists subjects, monitoring records and alerts. Reads return
// copies; nil, nil means not found.
type Store interface {
	GetSubject(ctx context.Context, subjectID id.SubjectID) (*models.Subject, error)

	// CreateSubject inserts a subject. Returns sentinel.ErrConflict if it exists.
	CreateSubject(ctx context.Context, subject *models.Subject) error

	// SaveSubject overwrites response/resolution stamps of an existing subject.
	SaveSubject(ctx context.Context, subject *models.Subject) error

	// ListOpenSubjects returns unresolved subjects.
	ListOpenSubjects(ctx context.Context) ([]*models.Subject, error)

	LoadMonitoring(ctx context.Context, subjectID id.SubjectID) (*models.SLAMonitoring, error)

	// CreateMonitoring inserts a record unless one exists for the subject and
	// returns whichever record is stored, with created reporting which.
	CreateMonitoring(ctx context.Context, record *models.SLAMonitoring) (stored *models.SLAMonitoring, created bool, err error)

	// UpdateMonitoring replaces the record if its stored version equals
	// expectedVersion, bumping the version. Returns sentinel.ErrConflict otherwise.
	UpdateMonitoring(ctx context.Context, record *models.SLAMonitoring, expectedVersion int64) error

	// ListActiveMonitoring returns records that are not frozen.
	ListActiveMonitoring(ctx context.Context) ([]*models.SLAMonitoring, error)

	// ListAlerts returns a subject's alerts sent at or after since, oldest first.
	// A zero since returns all alerts.
	ListAlerts(ctx context.Context, subjectID id.SubjectID, since time.Time) ([]*models.SLAAlert, error)

	// InsertAlertIfAbsent inserts the alert unless one of the same type for
	// the subject was sent within the window before alert.SentAt. Check and
	// insert are atomic. A zero window always inserts.
	InsertAlertIfAbsent(ctx context.Context, alert *models.SLAAlert, within time.Duration) (bool, error)

	GetAlert(ctx context.Context, alertID id.AlertID) (*models.SLAAlert, error)

	// UpdateAlert persists acknowledgement fields.
	UpdateAlert(ctx context.Context, alert *models.SLAAlert) error
}

// TxStore runs fn in a transaction serialized per key (the subject ID).
// Either every write in fn is applied or none is. Writes made through the ctx
// passed to fn join the transaction where the backend supports it.
type TxStore interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context, store Store) error) error
}

// TransactionalStore is a Store that can also open transactions.
type TransactionalStore interface {
	Store
	TxStore
}

// Notifier receives post-commit notification intents. Implementations must
// not block and must not report delivery failures back to the engine.
type Notifier interface {
	OnEscalation(ctx context.Context, notice models.EscalationNotice)
	OnAlert(ctx context.Context, alert *models.SLAAlert, recipients []string)
}

// Locker serializes work on a key across processes. TryLock never waits:
// ok is false when another holder has the key.
type Locker interface {
	TryLock(ctx context.Context, key string) (unlock func(), ok bool, err error)
}

// AuditPublisher emits audit events for SLA operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxAuditPublisher appends audit events synchronously inside the tick's
// transaction. A failed append aborts the transaction.
type TxAuditPublisher interface {
	EmitTx(ctx context.Context, event audit.Event) error
}

// LogAudit is a shared helper for logging audit events across SLA packages.
// It logs to both the structured logger and the audit publisher if available.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.Event, attrs ...any) {
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	args := append(attrs, "event", event.Action, "subject", event.Subject, "log_type", "audit")

	if logger != nil {
		logger.InfoContext(ctx, event.Action, args...)
	}
	if publisher == nil {
		return
	}
	if err := publisher.Emit(ctx, event); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", event.Action, "error", err)
	}
}

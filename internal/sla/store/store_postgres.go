package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/sentinel"
	txcontext "auditflow/pkg/platform/tx"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists SLA state in PostgreSQL. Transactions take a
// transaction-scoped advisory lock on the key so writers for one subject
// queue behind each other across processes.
type PostgresStore struct {
	db *sql.DB
	q  dbtx
}

var _ ports.TransactionalStore = (*PostgresStore)(nil)

// NewPostgres constructs a PostgreSQL-backed SLA store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// RunInTx runs fn inside a database transaction holding an advisory lock on key.
// fn gets a context carrying the *sql.Tx, so the audit store appends in the
// same transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, store ports.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sla transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("acquire subject lock: %w", err)
	}

	if err := fn(txcontext.WithTx(ctx, tx), &PostgresStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sla transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetSubject(ctx context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	query := `
		SELECT id, kind, title, severity, created_at, responded_at, resolved_at
		FROM sla_subjects
		WHERE id = $1
	`
	subject, err := scanSubject(s.q.QueryRowContext(ctx, query, uuid.UUID(subjectID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}
	return subject, nil
}

func (s *PostgresStore) CreateSubject(ctx context.Context, subject *models.Subject) error {
	query := `
		INSERT INTO sla_subjects (id, kind, title, severity, created_at, responded_at, resolved_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.q.ExecContext(ctx, query,
		uuid.UUID(subject.ID),
		string(subject.Kind),
		subject.Title,
		string(subject.Severity),
		subject.CreatedAt,
		nullTime(subject.RespondedAt),
		nullTime(subject.ResolvedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create subject: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveSubject(ctx context.Context, subject *models.Subject) error {
	query := `
		UPDATE sla_subjects
		SET responded_at = $2, resolved_at = $3
		WHERE id = $1
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(subject.ID),
		nullTime(subject.RespondedAt),
		nullTime(subject.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("save subject: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func (s *PostgresStore) ListOpenSubjects(ctx context.Context) ([]*models.Subject, error) {
	query := `
		SELECT id, kind, title, severity, created_at, responded_at, resolved_at
		FROM sla_subjects
		WHERE resolved_at IS NULL
		ORDER BY created_at
	`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list open subjects: %w", err)
	}
	defer rows.Close()

	var out []*models.Subject
	for rows.Next() {
		subject, err := scanSubject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		out = append(out, subject)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subjects: %w", err)
	}
	return out, nil
}

const monitoringColumns = `
	id, subject_id, sla_policy_id, response_deadline, resolution_deadline,
	actual_response_time, actual_resolution_time, response_sla_met, resolution_sla_met,
	current_escalation_level, last_escalation_at, alerts_sent, frozen, version,
	created_at, updated_at
`

func (s *PostgresStore) LoadMonitoring(ctx context.Context, subjectID id.SubjectID) (*models.SLAMonitoring, error) {
	query := `SELECT ` + monitoringColumns + ` FROM sla_monitoring WHERE subject_id = $1`
	record, err := scanMonitoring(s.q.QueryRowContext(ctx, query, uuid.UUID(subjectID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load monitoring: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) CreateMonitoring(ctx context.Context, record *models.SLAMonitoring) (*models.SLAMonitoring, bool, error) {
	query := `
		INSERT INTO sla_monitoring (` + monitoringColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
		ON CONFLICT (subject_id) DO NOTHING
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(record.ID),
		uuid.UUID(record.SubjectID),
		record.SLAPolicyID,
		record.ResponseDeadline,
		record.ResolutionDeadline,
		nullTime(record.ActualResponseTime),
		nullTime(record.ActualResolutionTime),
		record.ResponseSLAMet,
		record.ResolutionSLAMet,
		record.CurrentEscalationLevel,
		nullTime(record.LastEscalationAt),
		pq.Array(alertsOrEmpty(record.AlertsSent)),
		record.Frozen,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create monitoring: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("create monitoring: %w", err)
	}

	stored, err := s.LoadMonitoring(ctx, record.SubjectID)
	if err != nil {
		return nil, false, err
	}
	if stored == nil {
		return nil, false, fmt.Errorf("create monitoring: record vanished after insert")
	}
	if affected == 1 {
		record.Version = stored.Version
	}
	return stored, affected == 1, nil
}

func (s *PostgresStore) UpdateMonitoring(ctx context.Context, record *models.SLAMonitoring, expectedVersion int64) error {
	query := `
		UPDATE sla_monitoring SET
			actual_response_time = $3,
			actual_resolution_time = $4,
			response_sla_met = $5,
			resolution_sla_met = $6,
			current_escalation_level = $7,
			last_escalation_at = $8,
			alerts_sent = $9,
			frozen = $10,
			updated_at = $11,
			version = version + 1
		WHERE subject_id = $1 AND version = $2
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(record.SubjectID),
		expectedVersion,
		nullTime(record.ActualResponseTime),
		nullTime(record.ActualResolutionTime),
		record.ResponseSLAMet,
		record.ResolutionSLAMet,
		record.CurrentEscalationLevel,
		nullTime(record.LastEscalationAt),
		pq.Array(alertsOrEmpty(record.AlertsSent)),
		record.Frozen,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update monitoring: %w", err)
	}
	if err := expectOneRow(res, sentinel.ErrConflict); err != nil {
		return err
	}
	record.Version = expectedVersion + 1
	return nil
}

func (s *PostgresStore) ListActiveMonitoring(ctx context.Context) ([]*models.SLAMonitoring, error) {
	query := `SELECT ` + monitoringColumns + ` FROM sla_monitoring WHERE frozen = FALSE`
	rows, err := s.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active monitoring: %w", err)
	}
	defer rows.Close()

	var out []*models.SLAMonitoring
	for rows.Next() {
		record, err := scanMonitoring(rows)
		if err != nil {
			return nil, fmt.Errorf("scan monitoring: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monitoring: %w", err)
	}
	return out, nil
}

const alertColumns = `
	id, subject_id, alert_type, level, severity, message, sent_at,
	acknowledged, acknowledged_by, acknowledged_at
`

func (s *PostgresStore) ListAlerts(ctx context.Context, subjectID id.SubjectID, since time.Time) ([]*models.SLAAlert, error) {
	query := `
		SELECT ` + alertColumns + `
		FROM sla_alerts
		WHERE subject_id = $1 AND sent_at >= $2
		ORDER BY sent_at
	`
	rows, err := s.q.QueryContext(ctx, query, uuid.UUID(subjectID), since)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.SLAAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}
	return out, nil
}

// InsertAlertIfAbsent inserts the alert unless one of the same type for the
// subject was sent after alert.SentAt - within. Check and insert are one
// statement.
func (s *PostgresStore) InsertAlertIfAbsent(ctx context.Context, alert *models.SLAAlert, within time.Duration) (bool, error) {
	query := `
		INSERT INTO sla_alerts (` + alertColumns + `)
		SELECT $1::UUID, $2::UUID, $3::TEXT, $4::INT, $5::TEXT, $6::TEXT,
			$7::TIMESTAMPTZ, $8::BOOLEAN, $9::UUID, $10::TIMESTAMPTZ
		WHERE $11::BIGINT <= 0 OR NOT EXISTS (
			SELECT 1 FROM sla_alerts
			WHERE subject_id = $2::UUID
			  AND alert_type = $3::TEXT
			  AND sent_at > $7::TIMESTAMPTZ - ($11::BIGINT * INTERVAL '1 microsecond')
		)
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(alert.ID),
		uuid.UUID(alert.SubjectID),
		string(alert.AlertType),
		alert.Level,
		string(alert.Severity),
		alert.Message,
		alert.SentAt,
		alert.Acknowledged,
		nullUserID(alert.AcknowledgedBy),
		nullTime(alert.AcknowledgedAt),
		within.Microseconds(),
	)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return affected == 1, nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, alertID id.AlertID) (*models.SLAAlert, error) {
	query := `SELECT ` + alertColumns + ` FROM sla_alerts WHERE id = $1`
	alert, err := scanAlert(s.q.QueryRowContext(ctx, query, uuid.UUID(alertID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, alert *models.SLAAlert) error {
	query := `
		UPDATE sla_alerts
		SET acknowledged = $2, acknowledged_by = $3, acknowledged_at = $4
		WHERE id = $1
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(alert.ID),
		alert.Acknowledged,
		nullUserID(alert.AcknowledgedBy),
		nullTime(alert.AcknowledgedAt),
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubject(row rowScanner) (*models.Subject, error) {
	var (
		subjectID   uuid.UUID
		kind        string
		severity    string
		subject     models.Subject
		respondedAt sql.NullTime
		resolvedAt  sql.NullTime
	)
	if err := row.Scan(&subjectID, &kind, &subject.Title, &severity, &subject.CreatedAt, &respondedAt, &resolvedAt); err != nil {
		return nil, err
	}
	subject.ID = id.SubjectID(subjectID)
	subject.Kind = models.SubjectKind(kind)
	subject.Severity = models.Severity(severity)
	subject.RespondedAt = timePtr(respondedAt)
	subject.ResolvedAt = timePtr(resolvedAt)
	return &subject, nil
}

func scanMonitoring(row rowScanner) (*models.SLAMonitoring, error) {
	var (
		recordID       uuid.UUID
		subjectID      uuid.UUID
		record         models.SLAMonitoring
		actualResponse sql.NullTime
		actualResolve  sql.NullTime
		lastEscalation sql.NullTime
		alertsSent     pq.StringArray
	)
	err := row.Scan(
		&recordID,
		&subjectID,
		&record.SLAPolicyID,
		&record.ResponseDeadline,
		&record.ResolutionDeadline,
		&actualResponse,
		&actualResolve,
		&record.ResponseSLAMet,
		&record.ResolutionSLAMet,
		&record.CurrentEscalationLevel,
		&lastEscalation,
		&alertsSent,
		&record.Frozen,
		&record.Version,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.ID = id.MonitoringID(recordID)
	record.SubjectID = id.SubjectID(subjectID)
	record.ActualResponseTime = timePtr(actualResponse)
	record.ActualResolutionTime = timePtr(actualResolve)
	record.LastEscalationAt = timePtr(lastEscalation)
	record.AlertsSent = []string(alertsSent)
	return &record, nil
}

func scanAlert(row rowScanner) (*models.SLAAlert, error) {
	var (
		alertID        uuid.UUID
		subjectID      uuid.UUID
		alertType      string
		severity       string
		alert          models.SLAAlert
		acknowledgedBy uuid.NullUUID
		acknowledgedAt sql.NullTime
	)
	err := row.Scan(
		&alertID,
		&subjectID,
		&alertType,
		&alert.Level,
		&severity,
		&alert.Message,
		&alert.SentAt,
		&alert.Acknowledged,
		&acknowledgedBy,
		&acknowledgedAt,
	)
	if err != nil {
		return nil, err
	}
	alert.ID = id.AlertID(alertID)
	alert.SubjectID = id.SubjectID(subjectID)
	alert.AlertType = models.AlertType(alertType)
	alert.Severity = models.Severity(severity)
	if acknowledgedBy.Valid {
		by := id.UserID(acknowledgedBy.UUID)
		alert.AcknowledgedBy = &by
	}
	alert.AcknowledgedAt = timePtr(acknowledgedAt)
	return &alert, nil
}

func expectOneRow(res sql.Result, missing error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return missing
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func alertsOrEmpty(keys []string) []string {
	if keys == nil {
		return []string{}
	}
	return keys
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/sentinel"
	txcontext "auditflow/pkg/platform/tx"
)

const uniqueViolation = "23505"

const stepColumns = `id, approval_request_id, step_order, step_name, assignee_role, assignee_id,
		status, required, completed_by, completed_at, comments`

type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists approval requests in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
	q  dbtx
}

var _ ports.TransactionalStore = (*PostgresStore)(nil)

// NewPostgres constructs a PostgreSQL-backed approval store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, q: db}
}

// RunInTx runs fn in a transaction holding an advisory lock on the request.
// fn gets a context carrying the *sql.Tx, so the audit store appends in the
// same transaction.
func (s *PostgresStore) RunInTx(ctx context.Context, requestID id.ApprovalRequestID, fn func(ctx context.Context, store ports.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin approval transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('approval:' || $1::TEXT))`, requestID.String()); err != nil {
		return fmt.Errorf("acquire request lock: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, tx), &PostgresStore{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit approval transaction: %w", err)
	}
	return nil
}

// CreateRequest inserts the request and its steps atomically. Called on the
// base store it opens its own transaction.
func (s *PostgresStore) CreateRequest(ctx context.Context, request *models.ApprovalRequest, steps []*models.ApprovalRequestStep) error {
	if s.q == s.db {
		return s.RunInTx(ctx, request.ID, func(ctx context.Context, tx ports.Store) error {
			return tx.CreateRequest(ctx, request, steps)
		})
	}

	q := s.q
	_, err := q.ExecContext(ctx, `
		INSERT INTO approval_requests
			(id, entity_type, entity_id, workflow_id, requester_id, title, priority, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		uuid.UUID(request.ID),
		request.EntityType,
		request.EntityID,
		request.WorkflowID,
		uuid.UUID(request.RequesterID),
		request.Title,
		string(request.Priority),
		string(request.Status),
		request.CreatedAt,
		request.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create approval request: %w", err)
	}

	for _, step := range steps {
		_, err := q.ExecContext(ctx, `
			INSERT INTO approval_request_steps (`+stepColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`,
			uuid.UUID(step.ID),
			uuid.UUID(step.ApprovalRequestID),
			step.StepOrder,
			step.StepName,
			step.AssigneeRole,
			nullUserID(step.AssigneeID),
			string(step.Status),
			step.Required,
			nullUserID(step.CompletedBy),
			nullTime(step.CompletedAt),
			nullString(step.Comments),
		)
		if err != nil {
			return fmt.Errorf("create approval step %d: %w", step.StepOrder, err)
		}
	}
	return nil
}

func (s *PostgresStore) GetRequest(ctx context.Context, requestID id.ApprovalRequestID) (*models.ApprovalRequest, error) {
	query := `
		SELECT id, entity_type, entity_id, workflow_id, requester_id, title, priority, status, created_at, updated_at
		FROM approval_requests
		WHERE id = $1
	`
	var (
		rawID       uuid.UUID
		requesterID uuid.UUID
		priority    string
		status      string
		req         models.ApprovalRequest
	)
	err := s.q.QueryRowContext(ctx, query, uuid.UUID(requestID)).Scan(
		&rawID,
		&req.EntityType,
		&req.EntityID,
		&req.WorkflowID,
		&requesterID,
		&req.Title,
		&priority,
		&status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get approval request: %w", err)
	}
	req.ID = id.ApprovalRequestID(rawID)
	req.RequesterID = id.UserID(requesterID)
	req.Priority = models.Priority(priority)
	req.Status = models.RequestStatus(status)
	return &req, nil
}

func (s *PostgresStore) ListSteps(ctx context.Context, requestID id.ApprovalRequestID) ([]*models.ApprovalRequestStep, error) {
	query := `SELECT ` + stepColumns + `
		FROM approval_request_steps
		WHERE approval_request_id = $1
		ORDER BY step_order
	`
	return s.querySteps(ctx, "list approval steps", query, uuid.UUID(requestID))
}

func (s *PostgresStore) SaveRequest(ctx context.Context, request *models.ApprovalRequest) error {
	query := `
		UPDATE approval_requests
		SET title = $2, priority = $3, status = $4, updated_at = $5
		WHERE id = $1
	`
	res, err := s.q.ExecContext(ctx, query,
		uuid.UUID(request.ID),
		request.Title,
		string(request.Priority),
		string(request.Status),
		request.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save approval request: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func (s *PostgresStore) SaveSteps(ctx context.Context, steps ...*models.ApprovalRequestStep) error {
	query := `
		UPDATE approval_request_steps
		SET assignee_id = $2, status = $3, completed_by = $4, completed_at = $5, comments = $6
		WHERE id = $1
	`
	for _, step := range steps {
		res, err := s.q.ExecContext(ctx, query,
			uuid.UUID(step.ID),
			nullUserID(step.AssigneeID),
			string(step.Status),
			nullUserID(step.CompletedBy),
			nullTime(step.CompletedAt),
			nullString(step.Comments),
		)
		if err != nil {
			return fmt.Errorf("save approval step %d: %w", step.StepOrder, err)
		}
		if err := expectOneRow(res, sentinel.ErrNotFound); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListPendingSteps(ctx context.Context, role string) ([]*models.ApprovalRequestStep, error) {
	query := `
		SELECT s.id, s.approval_request_id, s.step_order, s.step_name, s.assignee_role, s.assignee_id,
			s.status, s.required, s.completed_by, s.completed_at, s.comments
		FROM approval_request_steps s
		JOIN approval_requests r ON r.id = s.approval_request_id
		WHERE s.status = 'pending'
			AND s.assignee_role = $1
			AND r.status = ANY($2)
		ORDER BY r.created_at, s.step_order
	`
	open := pq.StringArray{string(models.RequestPending), string(models.RequestInProgress)}
	return s.querySteps(ctx, "list pending steps", query, role, open)
}

func (s *PostgresStore) querySteps(ctx context.Context, op, query string, args ...any) ([]*models.ApprovalRequestStep, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var steps []*models.ApprovalRequestStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return steps, nil
}

func scanStep(rows *sql.Rows) (*models.ApprovalRequestStep, error) {
	var (
		stepID      uuid.UUID
		requestID   uuid.UUID
		assigneeID  uuid.NullUUID
		status      string
		completedBy uuid.NullUUID
		completedAt sql.NullTime
		comments    sql.NullString
		step        models.ApprovalRequestStep
	)
	err := rows.Scan(
		&stepID,
		&requestID,
		&step.StepOrder,
		&step.StepName,
		&step.AssigneeRole,
		&assigneeID,
		&status,
		&step.Required,
		&completedBy,
		&completedAt,
		&comments,
	)
	if err != nil {
		return nil, err
	}
	step.ID = id.StepID(stepID)
	step.ApprovalRequestID = id.ApprovalRequestID(requestID)
	step.Status = models.StepStatus(status)
	step.AssigneeID = userIDPtr(assigneeID)
	step.CompletedBy = userIDPtr(completedBy)
	if completedAt.Valid {
		at := completedAt.Time
		step.CompletedAt = &at
	}
	step.Comments = comments.String
	return &step, nil
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUserID(u *id.UserID) uuid.NullUUID {
	if u == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*u), Valid: true}
}

func userIDPtr(u uuid.NullUUID) *id.UserID {
	if !u.Valid {
		return nil
	}
	v := id.UserID(u.UUID)
	return &v
}

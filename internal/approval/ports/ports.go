// Package ports defines the interfaces the approval module consumes and
// the observer hooks it exposes.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Observer,AuditPublisher

import (
	"context"
	"time"

	"auditflow/internal/approval/models"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/audit"
)

// WorkflowCatalog resolves workflow definitions. Unknown IDs return nil, nil.
type WorkflowCatalog interface {
	Workflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error)
}

// Store persists requests and their steps. Reads return copies; nil, nil
// means not found.
type Store interface {
	// CreateRequest inserts a request with its steps. Returns
	// sentinel.ErrConflict if the request ID exists.
	CreateRequest(ctx context.Context, request *models.ApprovalRequest, steps []*models.ApprovalRequestStep) error

	GetRequest(ctx context.Context, requestID id.ApprovalRequestID) (*models.ApprovalRequest, error)

	// ListSteps returns a request's steps ordered by StepOrder.
	ListSteps(ctx context.Context, requestID id.ApprovalRequestID) ([]*models.ApprovalRequestStep, error)

	// SaveRequest overwrites status, title, priority and updated_at.
	SaveRequest(ctx context.Context, request *models.ApprovalRequest) error

	// SaveSteps overwrites the decision fields of existing steps.
	SaveSteps(ctx context.Context, steps ...*models.ApprovalRequestStep) error

	// ListPendingSteps returns pending steps assigned to role on open requests.
	ListPendingSteps(ctx context.Context, role string) ([]*models.ApprovalRequestStep, error)
}

// TransactionalStore runs fn in a transaction serialized per request. Either
// every write in fn is applied or none is. Writes made through the ctx passed
// to fn join the transaction where the backend supports it.
type TransactionalStore interface {
	Store
	RunInTx(ctx context.Context, requestID id.ApprovalRequestID, fn func(ctx context.Context, store Store) error) error
}

// TerminalObserver is told when a request reaches a terminal status.
type TerminalObserver interface {
	OnRequestTerminal(ctx context.Context, requestID id.ApprovalRequestID, finalStatus models.RequestStatus, at time.Time)
}

// Observer follows a request through its lifecycle. Hooks run after the
// change is committed; implementations handle their own failures.
type Observer interface {
	TerminalObserver
	OnRequestCreated(ctx context.Context, request *models.ApprovalRequest)
	OnFirstResponse(ctx context.Context, requestID id.ApprovalRequestID, at time.Time)
}

// AuditPublisher emits audit events for approval operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// TxAuditPublisher appends audit events synchronously inside the state
// transaction. A failed append aborts the transaction.
type TxAuditPublisher interface {
	EmitTx(ctx context.Context, event audit.Event) error
}

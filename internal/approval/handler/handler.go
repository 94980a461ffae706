// Package handler exposes approval requests over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/service"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/audit"
	"auditflow/pkg/platform/httputil"
	"auditflow/pkg/requestcontext"
)

// Service defines the approval operations the handler needs.
type Service interface {
	Create(ctx context.Context, in service.CreateInput) (*service.RequestView, error)
	Get(ctx context.Context, requestID id.ApprovalRequestID) (*service.RequestView, error)
	Decide(ctx context.Context, requestID id.ApprovalRequestID, stepOrder int, kind models.DecisionKind, actor id.UserID, comment string) (*service.DecisionOutcome, error)
	Cancel(ctx context.Context, requestID id.ApprovalRequestID, actor id.UserID, reason string) (*service.RequestView, error)
	PendingForRole(ctx context.Context, role string) ([]*models.ApprovalRequestStep, error)
}

// AuditTrail reads the audit events recorded for a request.
type AuditTrail interface {
	List(ctx context.Context, subject string) ([]audit.Event, error)
}

// Handler handles approval endpoints.
type Handler struct {
	service Service
	trail   AuditTrail
	logger  *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithAuditTrail enables GET /approvals/{id}/history.
func WithAuditTrail(trail AuditTrail) Option {
	return func(h *Handler) {
		h.trail = trail
	}
}

func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts approval endpoints. Every route expects an authenticated user.
func (h *Handler) Register(r chi.Router) {
	r.Route("/approvals", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/pending", h.HandlePending)
		r.Get("/{id}", h.HandleGet)
		if h.trail != nil {
			r.Get("/{id}/history", h.HandleHistory)
		}
		r.Post("/{id}/steps/{order}/decision", h.HandleDecide)
		r.Post("/{id}/cancel", h.HandleCancel)
	})
}

// HandleCreate handles POST /approvals. The caller is the requester.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	view, err := h.service.Create(ctx, service.CreateInput{
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		WorkflowID:  req.WorkflowID,
		RequesterID: userID,
		Title:       req.Title,
		Priority:    req.parsedPriority,
		Assignees:   req.parsedAssignees,
	})
	if err != nil {
		h.writeServiceError(ctx, w, "create approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toRequestResponse(view))
}

// HandleGet handles GET /approvals/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, err := id.ParseApprovalRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	view, err := h.service.Get(ctx, approvalID)
	if err != nil {
		h.writeServiceError(ctx, w, "get approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(view))
}

// HandleHistory handles GET /approvals/{id}/history, oldest event first.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	approvalID, err := id.ParseApprovalRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if _, err := h.service.Get(ctx, approvalID); err != nil {
		h.writeServiceError(ctx, w, "get approval request", err)
		return
	}
	events, err := h.trail.List(ctx, approvalID.String())
	if err != nil {
		h.writeServiceError(ctx, w, "list audit events", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load history"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toHistoryResponse(approvalID, events))
}

// HandleDecide handles POST /approvals/{id}/steps/{order}/decision.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	approvalID, err := id.ParseApprovalRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	order, err := strconv.Atoi(chi.URLParam(r, "order"))
	if err != nil || order <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "step order must be a positive integer"))
		return
	}

	req, ok := httputil.DecodeAndPrepare[DecisionRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	out, err := h.service.Decide(ctx, approvalID, order, req.parsedKind, userID, req.Comment)
	if err != nil {
		h.writeServiceError(ctx, w, "decide approval step", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toDecisionResponse(out))
}

// HandleCancel handles POST /approvals/{id}/cancel.
func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	userID, ok := h.requireUser(w, ctx)
	if !ok {
		return
	}
	approvalID, err := id.ParseApprovalRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	reason := ""
	if r.ContentLength > 0 {
		req, ok := httputil.DecodeAndPrepare[CancelRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		reason = req.Reason
	}
	view, err := h.service.Cancel(ctx, approvalID, userID, reason)
	if err != nil {
		h.writeServiceError(ctx, w, "cancel approval request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestResponse(view))
}

// HandlePending handles GET /approvals/pending?role=.
func (h *Handler) HandlePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	role := r.URL.Query().Get("role")
	steps, err := h.service.PendingForRole(ctx, role)
	if err != nil {
		h.writeServiceError(ctx, w, "list pending steps", err)
		return
	}
	if steps == nil {
		steps = []*models.ApprovalRequestStep{}
	}
	httputil.WriteJSON(w, http.StatusOK, PendingResponse{Role: role, Steps: steps})
}

func (h *Handler) requireUser(w http.ResponseWriter, ctx context.Context) (id.UserID, bool) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return id.UserID{}, false
	}
	return userID, true
}

func (h *Handler) writeServiceError(ctx context.Context, w http.ResponseWriter, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, op+" failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

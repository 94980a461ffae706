// Package handler exposes the SLA service over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"auditflow/internal/sla/evaluator"
	"auditflow/internal/sla/models"
	"auditflow/internal/sla/service"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/httputil"
	"auditflow/pkg/requestcontext"
)

// Service defines the SLA operations the handler needs.
type Service interface {
	Track(ctx context.Context, in service.TrackInput) (*models.Subject, error)
	RecordResponse(ctx context.Context, subjectID id.SubjectID, at time.Time) (*models.Subject, error)
	RecordResolution(ctx context.Context, subjectID id.SubjectID, at time.Time) (*models.Subject, error)
	Acknowledge(ctx context.Context, alertID id.AlertID, actor id.UserID) (*models.SLAAlert, error)
	Monitoring(ctx context.Context, subjectID id.SubjectID) (*models.SLAMonitoring, error)
	Alerts(ctx context.Context, subjectID id.SubjectID) ([]*models.SLAAlert, error)
	EvaluateNow(ctx context.Context, subjectID id.SubjectID) (*evaluator.Outcome, error)
}

// Handler wires SLA endpoints to the SLA service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an SLA handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts SLA endpoints on the router. Callers are expected to
// have authenticated the request.
func (h *Handler) Register(r chi.Router) {
	r.Route("/sla", func(r chi.Router) {
		r.Post("/subjects", h.HandleTrack)
		r.Post("/subjects/{id}/response", h.HandleRecordResponse)
		r.Post("/subjects/{id}/resolution", h.HandleRecordResolution)
		r.Post("/subjects/{id}/evaluate", h.HandleEvaluate)
		r.Get("/subjects/{id}/monitoring", h.HandleMonitoring)
		r.Get("/subjects/{id}/alerts", h.HandleAlerts)
		r.Post("/alerts/{id}/acknowledge", h.HandleAcknowledge)
	})
}

// HandleTrack handles POST /sla/subjects.
func (h *Handler) HandleTrack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[TrackRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	in := service.TrackInput{
		ID:       req.parsedID,
		Kind:     req.parsedKind,
		Title:    req.Title,
		Severity: req.parsedSeverity,
	}
	if req.CreatedAt != nil {
		in.CreatedAt = *req.CreatedAt
	}

	subject, err := h.service.Track(ctx, in)
	if err != nil {
		h.writeServiceError(ctx, w, "track subject", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, subject)
}

// HandleRecordResponse handles POST /sla/subjects/{id}/response.
func (h *Handler) HandleRecordResponse(w http.ResponseWriter, r *http.Request) {
	h.handleStamp(w, r, "record response", h.service.RecordResponse)
}

// HandleRecordResolution handles POST /sla/subjects/{id}/resolution.
func (h *Handler) HandleRecordResolution(w http.ResponseWriter, r *http.Request) {
	h.handleStamp(w, r, "record resolution", h.service.RecordResolution)
}

func (h *Handler) handleStamp(
	w http.ResponseWriter,
	r *http.Request,
	op string,
	stamp func(context.Context, id.SubjectID, time.Time) (*models.Subject, error),
) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	at := requestcontext.Now(ctx)
	if r.ContentLength > 0 {
		req, ok := httputil.DecodeAndPrepare[TimestampRequest](w, r, h.logger, ctx, requestID)
		if !ok {
			return
		}
		if req.At != nil {
			at = *req.At
		}
	}

	subject, err := stamp(ctx, subjectID, at)
	if err != nil {
		h.writeServiceError(ctx, w, op, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, subject)
}

// HandleEvaluate handles POST /sla/subjects/{id}/evaluate.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	outcome, err := h.service.EvaluateNow(ctx, subjectID)
	if err != nil {
		h.writeServiceError(ctx, w, "evaluate subject", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, fromOutcome(outcome))
}

// HandleMonitoring handles GET /sla/subjects/{id}/monitoring.
func (h *Handler) HandleMonitoring(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	record, err := h.service.Monitoring(ctx, subjectID)
	if err != nil {
		h.writeServiceError(ctx, w, "load monitoring", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, record)
}

// HandleAlerts handles GET /sla/subjects/{id}/alerts.
func (h *Handler) HandleAlerts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subjectID, err := id.ParseSubjectID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	alerts, err := h.service.Alerts(ctx, subjectID)
	if err != nil {
		h.writeServiceError(ctx, w, "list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []*models.SLAAlert{}
	}
	httputil.WriteJSON(w, http.StatusOK, AlertsResponse{Alerts: alerts})
}

// HandleAcknowledge handles POST /sla/alerts/{id}/acknowledge.
func (h *Handler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor := requestcontext.UserID(ctx)
	if actor.IsNil() {
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
		return
	}
	alertID, err := id.ParseAlertID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	alert, err := h.service.Acknowledge(ctx, alertID, actor)
	if err != nil {
		h.writeServiceError(ctx, w, "acknowledge alert", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, alert)
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

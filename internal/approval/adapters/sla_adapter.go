package adapters

import (
	"context"
	"log/slog"
	"time"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	slaModels "auditflow/internal/sla/models"
	slaService "auditflow/internal/sla/service"
	id "auditflow/pkg/domain"
)

// SubjectTracker is the slice of the SLA service the adapter drives.
type SubjectTracker interface {
	Track(ctx context.Context, in slaService.TrackInput) (*slaModels.Subject, error)
	RecordResponse(ctx context.Context, subjectID id.SubjectID, at time.Time) (*slaModels.Subject, error)
	RecordResolution(ctx context.Context, subjectID id.SubjectID, at time.Time) (*slaModels.Subject, error)
}

// SLAAdapter projects approval requests onto SLA subjects: creation starts
// the clock, the first decision is the response and a terminal status is
// the resolution. The subject shares the request's UUID.
type SLAAdapter struct {
	tracker SubjectTracker
	logger  *slog.Logger
}

var _ ports.Observer = (*SLAAdapter)(nil)

// NewSLAAdapter creates an observer feeding the SLA engine.
func NewSLAAdapter(tracker SubjectTracker, logger *slog.Logger) *SLAAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SLAAdapter{tracker: tracker, logger: logger}
}

// SeverityFor maps a request priority onto the SLA severity scale.
func SeverityFor(p models.Priority) slaModels.Severity {
	switch p {
	case models.PriorityLow:
		return slaModels.SeverityLow
	case models.PriorityHigh:
		return slaModels.SeverityHigh
	case models.PriorityCritical:
		return slaModels.SeverityCritical
	default:
		return slaModels.SeverityMedium
	}
}

func (a *SLAAdapter) OnRequestCreated(ctx context.Context, request *models.ApprovalRequest) {
	_, err := a.tracker.Track(ctx, slaService.TrackInput{
		ID:        id.SubjectFor(request.ID),
		Kind:      slaModels.SubjectApprovalRequest,
		Title:     request.Title,
		Severity:  SeverityFor(request.Priority),
		CreatedAt: request.CreatedAt,
	})
	if err != nil {
		a.logger.WarnContext(ctx, "failed to start sla tracking for approval request",
			"approval_request_id", request.ID.String(),
			"error", err,
		)
	}
}

func (a *SLAAdapter) OnFirstResponse(ctx context.Context, requestID id.ApprovalRequestID, at time.Time) {
	if _, err := a.tracker.RecordResponse(ctx, id.SubjectFor(requestID), at); err != nil {
		a.logger.WarnContext(ctx, "failed to record sla response for approval request",
			"approval_request_id", requestID.String(),
			"error", err,
		)
	}
}

func (a *SLAAdapter) OnRequestTerminal(ctx context.Context, requestID id.ApprovalRequestID, finalStatus models.RequestStatus, at time.Time) {
	if _, err := a.tracker.RecordResolution(ctx, id.SubjectFor(requestID), at); err != nil {
		a.logger.WarnContext(ctx, "failed to record sla resolution for approval request",
			"approval_request_id", requestID.String(),
			"final_status", finalStatus,
			"error", err,
		)
	}
}

package handler

import (
	"auditflow/internal/sla/evaluator"
	"auditflow/internal/sla/models"
)

// OutcomeResponse is returned by POST /sla/subjects/{id}/evaluate.
type OutcomeResponse struct {
	SubjectID       string             `json:"subject_id"`
	Status          string             `json:"status"`
	EscalationLevel int                `json:"escalation_level"`
	Frozen          bool               `json:"frozen"`
	Alerts          []*models.SLAAlert `json:"alerts"`
}

func fromOutcome(o *evaluator.Outcome) OutcomeResponse {
	resp := OutcomeResponse{
		SubjectID: o.SubjectID.String(),
		Status:    string(o.Status),
		Alerts:    o.Alerts,
	}
	if resp.Alerts == nil {
		resp.Alerts = []*models.SLAAlert{}
	}
	if o.Monitoring != nil {
		resp.EscalationLevel = o.Monitoring.CurrentEscalationLevel
		resp.Frozen = o.Monitoring.Frozen
	}
	return resp
}

// AlertsResponse is returned by GET /sla/subjects/{id}/alerts.
type AlertsResponse struct {
	Alerts []*models.SLAAlert `json:"alerts"`
}

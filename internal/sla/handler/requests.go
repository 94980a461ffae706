package handler

import (
	"strings"
	"time"

	"auditflow/internal/sla/models"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
)

// TrackRequest is the body for POST /sla/subjects.
type TrackRequest struct {
	ID        string     `json:"id,omitempty"`
	Kind      string     `json:"kind"`
	Title     string     `json:"title"`
	Severity  string     `json:"severity"`
	CreatedAt *time.Time `json:"created_at,omitempty"`

	parsedID       id.SubjectID
	parsedKind     models.SubjectKind
	parsedSeverity models.Severity
}

// Validate normalizes and parses the request.
func (r *TrackRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Title) > 500 {
		return dErrors.New(dErrors.CodeInvalidInput, "title must be at most 500 characters")
	}
	r.Title = strings.TrimSpace(r.Title)

	if r.ID = strings.TrimSpace(r.ID); r.ID != "" {
		subjectID, err := id.ParseSubjectID(r.ID)
		if err != nil {
			return err
		}
		r.parsedID = subjectID
	}

	kind := models.SubjectKind(strings.TrimSpace(r.Kind))
	if kind == "" {
		kind = models.SubjectIncident
	}
	if !kind.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "kind must be incident or approval_request")
	}
	r.parsedKind = kind

	severity, err := models.ParseSeverity(strings.TrimSpace(strings.ToLower(r.Severity)))
	if err != nil {
		return err
	}
	r.parsedSeverity = severity
	return nil
}

// TimestampRequest is the optional body for response and resolution
// endpoints. A missing timestamp means the request time.
type TimestampRequest struct {
	At *time.Time `json:"at,omitempty"`
}

func (r *TimestampRequest) Validate() error {
	if r.At != nil && r.At.IsZero() {
		return dErrors.New(dErrors.CodeInvalidInput, "at must be a valid timestamp")
	}
	return nil
}

// Package deadline computes SLA deadlines and warning thresholds. Everything
// here is pure and additive: a deadline is the creation time plus a policy
// duration, never adjusted for calendars or business hours.
package deadline

import (
	"time"

	"auditflow/internal/sla/models"
)

// Deadlines are the two SLA objectives stamped on a monitoring record.
type Deadlines struct {
	Response   time.Time
	Resolution time.Time
}

// Compute derives deadlines from the subject's creation time.
func Compute(createdAt time.Time, policy *models.SLAPolicy) Deadlines {
	return Deadlines{
		Response:   createdAt.Add(models.Hours(policy.ResponseTimeHours)),
		Resolution: createdAt.Add(models.Hours(policy.ResolutionTimeHours)),
	}
}

// WarningThreshold is the instant after which a warning is due.
func WarningThreshold(deadline time.Time, lead time.Duration) time.Time {
	return deadline.Add(-lead)
}

// EscalationThreshold is the instant at which a level applies.
func EscalationThreshold(createdAt time.Time, level models.EscalationLevel) time.Time {
	return createdAt.Add(level.Threshold())
}

// Met reports whether an actual time satisfied its deadline. Meeting the
// deadline exactly counts as met.
func Met(actual, deadline time.Time) bool {
	return !actual.After(deadline)
}

package models

import (
	"sort"
	"time"

	dErrors "auditflow/pkg/domain-errors"
)

const (
	// DefaultResponseWarningLead applies when a policy leaves the response lead unset.
	DefaultResponseWarningLead = 2 * time.Hour
	// DefaultResolutionWarningLead applies when a policy leaves the resolution lead unset.
	DefaultResolutionWarningLead = 4 * time.Hour
)

// EscalationLevel is one tier of a policy's escalation ladder.
type EscalationLevel struct {
	Level       int      `json:"level" mapstructure:"level"`
	TimeHours   float64  `json:"time_hours" mapstructure:"time_hours"`
	NotifyRoles []string `json:"notify_roles" mapstructure:"notify_roles"`
	// AutoEscalate asks the notification consumer to hand ownership to
	// NotifyRoles; false means notify only.
	AutoEscalate bool `json:"auto_escalate" mapstructure:"auto_escalate"`
}

// Threshold is the elapsed time at which this level applies.
func (l EscalationLevel) Threshold() time.Duration {
	return Hours(l.TimeHours)
}

// SLAPolicy defines response and resolution objectives for one severity.
type SLAPolicy struct {
	ID                         string            `json:"id" mapstructure:"id"`
	Name                       string            `json:"name" mapstructure:"name"`
	Severity                   Severity          `json:"severity" mapstructure:"severity"`
	ResponseTimeHours          float64           `json:"response_time_hours" mapstructure:"response_time_hours"`
	ResolutionTimeHours        float64           `json:"resolution_time_hours" mapstructure:"resolution_time_hours"`
	ResponseWarningLeadHours   float64           `json:"response_warning_lead_hours,omitempty" mapstructure:"response_warning_lead_hours"`
	ResolutionWarningLeadHours float64           `json:"resolution_warning_lead_hours,omitempty" mapstructure:"resolution_warning_lead_hours"`
	EscalationLevels           []EscalationLevel `json:"escalation_levels" mapstructure:"escalation_levels"`
	AlertRoles                 []string          `json:"alert_roles,omitempty" mapstructure:"alert_roles"`
	IsActive                   bool              `json:"is_active" mapstructure:"is_active"`
}

// ResponseWarningLead is how long before the response deadline a warning fires.
func (p *SLAPolicy) ResponseWarningLead() time.Duration {
	if p.ResponseWarningLeadHours > 0 {
		return Hours(p.ResponseWarningLeadHours)
	}
	return DefaultResponseWarningLead
}

// ResolutionWarningLead is how long before the resolution deadline a warning fires.
func (p *SLAPolicy) ResolutionWarningLead() time.Duration {
	if p.ResolutionWarningLeadHours > 0 {
		return Hours(p.ResolutionWarningLeadHours)
	}
	return DefaultResolutionWarningLead
}

// EscalationAt returns the highest level whose threshold has been reached
// after elapsed, or nil if none has.
func (p *SLAPolicy) EscalationAt(elapsed time.Duration) *EscalationLevel {
	var best *EscalationLevel
	for i := range p.EscalationLevels {
		lvl := &p.EscalationLevels[i]
		if lvl.Threshold() <= elapsed && (best == nil || lvl.Level > best.Level) {
			best = lvl
		}
	}
	return best
}

// Validate enforces policy invariants: positive objectives, positive level
// numbers, and escalation hours strictly increasing with level.
func (p *SLAPolicy) Validate() error {
	if p.ID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "policy id is required")
	}
	if !p.Severity.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": invalid severity")
	}
	if p.ResponseTimeHours <= 0 || p.ResolutionTimeHours <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": response and resolution hours must be positive")
	}
	if p.ResponseWarningLeadHours < 0 || p.ResolutionWarningLeadHours < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": warning leads cannot be negative")
	}

	levels := make([]EscalationLevel, len(p.EscalationLevels))
	copy(levels, p.EscalationLevels)
	sort.Slice(levels, func(i, j int) bool { return levels[i].Level < levels[j].Level })
	for i, lvl := range levels {
		if lvl.Level <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": escalation levels start at 1")
		}
		if lvl.TimeHours < 0 {
			return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": escalation hours cannot be negative")
		}
		if i > 0 {
			prev := levels[i-1]
			if lvl.Level == prev.Level {
				return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": duplicate escalation level")
			}
			if lvl.TimeHours <= prev.TimeHours {
				return dErrors.New(dErrors.CodeInvalidInput, "policy "+p.ID+": escalation hours must strictly increase with level")
			}
		}
	}
	return nil
}

func (p *SLAPolicy) Clone() *SLAPolicy {
	if p == nil {
		return nil
	}
	c := *p
	c.EscalationLevels = make([]EscalationLevel, len(p.EscalationLevels))
	for i, lvl := range p.EscalationLevels {
		lvl.NotifyRoles = append([]string(nil), lvl.NotifyRoles...)
		c.EscalationLevels[i] = lvl
	}
	c.AlertRoles = append([]string(nil), p.AlertRoles...)
	return &c
}

// Hours converts fractional hours to a duration.
func Hours(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"auditflow/internal/catalog"
	"auditflow/internal/sla/deadline"
	"auditflow/internal/sla/models"
)

type escalationPreview struct {
	Level        int       `json:"level"`
	At           time.Time `json:"at"`
	NotifyRoles  []string  `json:"notify_roles"`
	AutoEscalate bool      `json:"auto_escalate"`
}

type deadlinePreview struct {
	PolicyID           string              `json:"policy_id"`
	Severity           string              `json:"severity"`
	CreatedAt          time.Time           `json:"created_at"`
	ResponseDeadline   time.Time           `json:"response_deadline"`
	ResponseWarning    time.Time           `json:"response_warning"`
	ResolutionDeadline time.Time           `json:"resolution_deadline"`
	ResolutionWarning  time.Time           `json:"resolution_warning"`
	Escalations        []escalationPreview `json:"escalations"`
}

// NewDeadlinesCommand previews the deadlines a subject would receive.
func NewDeadlinesCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		severity  string
		createdAt string
	)
	cmd := &cobra.Command{
		Use:   "deadlines",
		Short: "Show deadlines and escalation times for a severity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sev, err := models.ParseSeverity(severity)
			if err != nil {
				return err
			}
			created := time.Now().UTC()
			if createdAt != "" {
				created, err = time.Parse(time.RFC3339, createdAt)
				if err != nil {
					return fmt.Errorf("invalid --created-at: %w", err)
				}
			}

			cat, err := catalog.Load(rootOpts.Catalog)
			if err != nil {
				return err
			}
			policy, err := cat.Policies().ActivePolicy(context.Background(), sev)
			if err != nil {
				return err
			}
			if policy == nil {
				return fmt.Errorf("no active policy for severity %s", sev)
			}

			preview := buildPreview(policy, created)
			lines := []string{
				fmt.Sprintf("policy %s (%s), created %s", preview.PolicyID, preview.Severity, created.Format(time.RFC3339)),
				fmt.Sprintf("  response warning    %s", preview.ResponseWarning.Format(time.RFC3339)),
				fmt.Sprintf("  response deadline   %s", preview.ResponseDeadline.Format(time.RFC3339)),
				fmt.Sprintf("  resolution warning  %s", preview.ResolutionWarning.Format(time.RFC3339)),
				fmt.Sprintf("  resolution deadline %s", preview.ResolutionDeadline.Format(time.RFC3339)),
			}
			for _, e := range preview.Escalations {
				lines = append(lines, fmt.Sprintf("  escalation L%d      %s -> %v", e.Level, e.At.Format(time.RFC3339), e.NotifyRoles))
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).print(preview, lines...)
		},
	}
	cmd.Flags().StringVar(&severity, "severity", "", "subject severity (low|medium|high|critical)")
	cmd.Flags().StringVar(&createdAt, "created-at", "", "creation time in RFC3339 (defaults to now)")
	_ = cmd.MarkFlagRequired("severity")
	return cmd
}

func buildPreview(policy *models.SLAPolicy, created time.Time) deadlinePreview {
	d := deadline.Compute(created, policy)
	preview := deadlinePreview{
		PolicyID:           policy.ID,
		Severity:           string(policy.Severity),
		CreatedAt:          created,
		ResponseDeadline:   d.Response,
		ResponseWarning:    deadline.WarningThreshold(d.Response, policy.ResponseWarningLead()),
		ResolutionDeadline: d.Resolution,
		ResolutionWarning:  deadline.WarningThreshold(d.Resolution, policy.ResolutionWarningLead()),
	}
	for _, lvl := range policy.EscalationLevels {
		preview.Escalations = append(preview.Escalations, escalationPreview{
			Level:        lvl.Level,
			At:           deadline.EscalationThreshold(created, lvl),
			NotifyRoles:  lvl.NotifyRoles,
			AutoEscalate: lvl.AutoEscalate,
		})
	}
	return preview
}

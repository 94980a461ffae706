package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"auditflow/internal/catalog"
)

type catalogSummary struct {
	Valid     bool     `json:"valid"`
	Policies  []string `json:"policies"`
	Workflows []string `json:"workflows"`
}

// NewCatalogCommand groups catalog subcommands.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect the policy and workflow catalog",
	}
	cmd.AddCommand(newCatalogValidateCommand(rootOpts))
	return cmd
}

func newCatalogValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load the catalog and check every policy and workflow",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				path = rootOpts.Catalog
			}
			cat, err := catalog.Load(path)
			if err != nil {
				return err
			}

			policies, err := cat.Policies().List(context.Background())
			if err != nil {
				return err
			}
			summary := catalogSummary{Valid: true}
			lines := []string{fmt.Sprintf("catalog %s is valid", path)}
			for _, p := range policies {
				summary.Policies = append(summary.Policies, p.ID)
				state := "inactive"
				if p.IsActive {
					state = "active"
				}
				lines = append(lines, fmt.Sprintf("  policy %s (%s, %s): response %gh, resolution %gh, %d escalation level(s)",
					p.ID, p.Severity, state, p.ResponseTimeHours, p.ResolutionTimeHours, len(p.EscalationLevels)))
			}
			for _, wf := range cat.Workflows() {
				summary.Workflows = append(summary.Workflows, wf.ID)
				lines = append(lines, fmt.Sprintf("  workflow %s: %d step(s)", wf.ID, len(wf.Steps)))
			}
			return newPrinter(rootOpts, cmd.OutOrStdout()).print(summary, lines...)
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "catalog file (defaults to --catalog)")
	return cmd
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"auditflow/internal/app"
	"auditflow/internal/platform/config"
	"auditflow/internal/platform/logger"
)

type sweepSummary struct {
	StartedAt time.Time      `json:"started_at"`
	Subjects  int            `json:"subjects"`
	Skipped   int            `json:"skipped"`
	Failed    int            `json:"failed"`
	Outcomes  map[string]int `json:"outcomes"`
}

// NewSweepCommand runs a single SLA sweep against the configured stores.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate every open subject once",
		Long: `Evaluate every open subject once using the stores, lock and notification
publisher selected by the environment (DATABASE_URL, REDIS_URL, KAFKA_BROKERS).
Notifications raised by the sweep are delivered before the command exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			if f := cmd.Flag("catalog"); f != nil && f.Changed {
				cfg.CatalogPath = rootOpts.Catalog
			}
			log := logger.New(cfg.Log).With("component", "slactl")
			return runSweep(cmd, rootOpts, cfg, log, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "abort the sweep after this long")
	return cmd
}

func runSweep(cmd *cobra.Command, rootOpts *RootOptions, cfg config.Config, log *slog.Logger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.Dispatcher.Start(ctx)

	report, sweepErr := a.Sweeper.RunOnce(ctx)
	if err := a.Close(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "close:", err)
	}
	if sweepErr != nil {
		return sweepErr
	}

	summary := sweepSummary{
		StartedAt: report.StartedAt,
		Subjects:  report.Subjects,
		Skipped:   report.Skipped,
		Failed:    report.Failed,
		Outcomes:  make(map[string]int, len(report.Outcomes)),
	}
	lines := []string{fmt.Sprintf("swept %d subject(s): %d skipped, %d failed",
		report.Subjects, report.Skipped, report.Failed)}
	for status, n := range report.Outcomes {
		summary.Outcomes[string(status)] = n
		lines = append(lines, fmt.Sprintf("  %s: %d", status, n))
	}
	return newPrinter(rootOpts, cmd.OutOrStdout()).print(summary, lines...)
}

package notification

import (
	"context"
	"log/slog"

	"auditflow/internal/notification/models"
)

// LogPublisher writes intents to the structured log. It is used when no
// broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, intent models.Intent) error {
	p.logger.InfoContext(ctx, "notification",
		"intent_id", intent.ID.String(),
		"kind", intent.Kind,
		"subject_id", intent.SubjectID,
		"alert_type", intent.AlertType,
		"level", intent.Level,
		"recipients", intent.Recipients,
		"auto_escalate", intent.AutoEscalate,
		"message", intent.Message,
	)
	return nil
}

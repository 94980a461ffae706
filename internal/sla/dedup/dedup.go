// Package dedup suppresses repeated SLA alerts of the same type for a
// subject inside a rolling window.
package dedup

import (
	"context"
	"fmt"
	"time"

	"auditflow/internal/sla/models"
	id "auditflow/pkg/domain"
)

// DefaultWindow is the suppression window applied when none is configured.
const DefaultWindow = time.Hour

// AlertStore is the subset of the SLA store the deduplicator needs.
type AlertStore interface {
	ListAlerts(ctx context.Context, subjectID id.SubjectID, since time.Time) ([]*models.SLAAlert, error)
	InsertAlertIfAbsent(ctx context.Context, alert *models.SLAAlert, within time.Duration) (bool, error)
}

// Deduplicator decides whether an alert may be emitted. ShouldEmit is a
// cheap pre-check on a snapshot; Emit is the authoritative atomic
// check-and-insert and must be used for the actual write.
type Deduplicator struct {
	reader AlertStore
	window time.Duration
}

// New creates a deduplicator. A non-positive window falls back to DefaultWindow.
func New(reader AlertStore, window time.Duration) *Deduplicator {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Deduplicator{reader: reader, window: window}
}

// Window returns the suppression window.
func (d *Deduplicator) Window() time.Duration {
	return d.window
}

// ShouldEmit reports false when an alert of alertType was sent for the
// subject within the window before now.
func (d *Deduplicator) ShouldEmit(ctx context.Context, subjectID id.SubjectID, alertType models.AlertType, now time.Time) (bool, error) {
	cutoff := now.Add(-d.window)
	recent, err := d.reader.ListAlerts(ctx, subjectID, cutoff)
	if err != nil {
		return false, fmt.Errorf("list recent alerts: %w", err)
	}
	for _, a := range recent {
		if a.AlertType == alertType && a.SentAt.After(cutoff) {
			return false, nil
		}
	}
	return true, nil
}

// Emit inserts alert through store unless the window suppresses it. Pass
// the transactional store when called inside a transaction.
func (d *Deduplicator) Emit(ctx context.Context, store AlertStore, alert *models.SLAAlert) (bool, error) {
	inserted, err := store.InsertAlertIfAbsent(ctx, alert, d.window)
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	return inserted, nil
}

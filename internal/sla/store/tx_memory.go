package store

import (
	"context"
	"sort"
	"time"

	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/sentinel"
)

// memoryTx stages writes over an InMemoryStore. Reads see staged values
// first. Nothing reaches the base store until commit re-validates every
// staged write against it.
type memoryTx struct {
	base *InMemoryStore

	subjects    map[id.SubjectID]*models.Subject
	newSubjects map[id.SubjectID]bool

	monitorings map[id.SubjectID]*models.SLAMonitoring
	// baseVersion is the stored version a staged record replaces; zero
	// means the record is created by this transaction.
	baseVersion map[id.SubjectID]int64

	newAlerts     []*models.SLAAlert
	alertWindows  map[id.AlertID]time.Duration
	updatedAlerts map[id.AlertID]*models.SLAAlert
}

var _ ports.Store = (*memoryTx)(nil)

func newMemoryTx(base *InMemoryStore) *memoryTx {
	return &memoryTx{
		base:          base,
		subjects:      make(map[id.SubjectID]*models.Subject),
		newSubjects:   make(map[id.SubjectID]bool),
		monitorings:   make(map[id.SubjectID]*models.SLAMonitoring),
		baseVersion:   make(map[id.SubjectID]int64),
		alertWindows:  make(map[id.AlertID]time.Duration),
		updatedAlerts: make(map[id.AlertID]*models.SLAAlert),
	}
}

func (t *memoryTx) GetSubject(ctx context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	if s, ok := t.subjects[subjectID]; ok {
		return s.Clone(), nil
	}
	return t.base.GetSubject(ctx, subjectID)
}

func (t *memoryTx) CreateSubject(ctx context.Context, subject *models.Subject) error {
	existing, err := t.GetSubject(ctx, subject.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return sentinel.ErrConflict
	}
	t.subjects[subject.ID] = subject.Clone()
	t.newSubjects[subject.ID] = true
	return nil
}

func (t *memoryTx) SaveSubject(ctx context.Context, subject *models.Subject) error {
	existing, err := t.GetSubject(ctx, subject.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return sentinel.ErrNotFound
	}
	t.subjects[subject.ID] = subject.Clone()
	return nil
}

func (t *memoryTx) ListOpenSubjects(ctx context.Context) ([]*models.Subject, error) {
	base, err := t.base.ListOpenSubjects(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.Subject, 0, len(base)+len(t.subjects))
	for _, s := range base {
		if _, staged := t.subjects[s.ID]; !staged {
			out = append(out, s)
		}
	}
	for _, s := range t.subjects {
		if !s.IsTerminal() {
			out = append(out, s.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (t *memoryTx) LoadMonitoring(ctx context.Context, subjectID id.SubjectID) (*models.SLAMonitoring, error) {
	if m, ok := t.monitorings[subjectID]; ok {
		return m.Clone(), nil
	}
	return t.base.LoadMonitoring(ctx, subjectID)
}

func (t *memoryTx) CreateMonitoring(ctx context.Context, record *models.SLAMonitoring) (*models.SLAMonitoring, bool, error) {
	existing, err := t.LoadMonitoring(ctx, record.SubjectID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}
	stored := record.Clone()
	stored.Version = 1
	t.monitorings[record.SubjectID] = stored
	t.baseVersion[record.SubjectID] = 0
	record.Version = 1
	return stored.Clone(), true, nil
}

func (t *memoryTx) UpdateMonitoring(ctx context.Context, record *models.SLAMonitoring, expectedVersion int64) error {
	current, err := t.LoadMonitoring(ctx, record.SubjectID)
	if err != nil {
		return err
	}
	if current == nil {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	if _, staged := t.monitorings[record.SubjectID]; !staged {
		t.baseVersion[record.SubjectID] = expectedVersion
	}
	stored := record.Clone()
	stored.Version = expectedVersion + 1
	t.monitorings[record.SubjectID] = stored
	record.Version = stored.Version
	return nil
}

func (t *memoryTx) ListActiveMonitoring(ctx context.Context) ([]*models.SLAMonitoring, error) {
	base, err := t.base.ListActiveMonitoring(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*models.SLAMonitoring, 0, len(base)+len(t.monitorings))
	for _, m := range base {
		if _, staged := t.monitorings[m.SubjectID]; !staged {
			out = append(out, m)
		}
	}
	for _, m := range t.monitorings {
		if !m.Frozen {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (t *memoryTx) ListAlerts(ctx context.Context, subjectID id.SubjectID, since time.Time) ([]*models.SLAAlert, error) {
	base, err := t.base.ListAlerts(ctx, subjectID, since)
	if err != nil {
		return nil, err
	}
	for i, a := range base {
		if updated, ok := t.updatedAlerts[a.ID]; ok {
			base[i] = updated.Clone()
		}
	}
	staged := make([]*models.SLAAlert, 0, len(t.newAlerts))
	for _, a := range t.newAlerts {
		if a.SubjectID == subjectID {
			staged = append(staged, a)
		}
	}
	return append(base, filterAlerts(staged, since)...), nil
}

func (t *memoryTx) InsertAlertIfAbsent(ctx context.Context, alert *models.SLAAlert, within time.Duration) (bool, error) {
	existing, err := t.ListAlerts(ctx, alert.SubjectID, time.Time{})
	if err != nil {
		return false, err
	}
	if recentlySent(existing, alert, within) {
		return false, nil
	}
	t.newAlerts = append(t.newAlerts, alert.Clone())
	t.alertWindows[alert.ID] = within
	return true, nil
}

func (t *memoryTx) GetAlert(ctx context.Context, alertID id.AlertID) (*models.SLAAlert, error) {
	if a, ok := t.updatedAlerts[alertID]; ok {
		return a.Clone(), nil
	}
	for _, a := range t.newAlerts {
		if a.ID == alertID {
			return a.Clone(), nil
		}
	}
	return t.base.GetAlert(ctx, alertID)
}

func (t *memoryTx) UpdateAlert(ctx context.Context, alert *models.SLAAlert) error {
	for i, a := range t.newAlerts {
		if a.ID == alert.ID {
			t.newAlerts[i] = alert.Clone()
			return nil
		}
	}
	existing, err := t.base.GetAlert(ctx, alert.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return sentinel.ErrNotFound
	}
	t.updatedAlerts[alert.ID] = alert.Clone()
	return nil
}

// commit validates every staged write against the base store and applies
// them under one lock. On conflict nothing is applied.
func (t *memoryTx) commit() error {
	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	for subjectID := range t.newSubjects {
		if _, exists := b.subjects[subjectID]; exists {
			return sentinel.ErrConflict
		}
	}
	for subjectID := range t.monitorings {
		current, exists := b.monitorings[subjectID]
		expected := t.baseVersion[subjectID]
		if expected == 0 && exists {
			return sentinel.ErrConflict
		}
		if expected != 0 && (!exists || current.Version != expected) {
			return sentinel.ErrConflict
		}
	}
	for _, a := range t.newAlerts {
		if recentlySent(b.alerts[a.SubjectID], a, t.alertWindows[a.ID]) {
			return sentinel.ErrConflict
		}
	}
	for alertID := range t.updatedAlerts {
		if _, ok := b.alertOwner[alertID]; !ok {
			return sentinel.ErrNotFound
		}
	}

	for subjectID, s := range t.subjects {
		b.subjects[subjectID] = s
	}
	for subjectID, m := range t.monitorings {
		b.monitorings[subjectID] = m
	}
	for _, a := range t.newAlerts {
		b.appendAlertLocked(a)
	}
	for _, a := range t.updatedAlerts {
		if err := b.replaceAlertLocked(a); err != nil {
			return err
		}
	}
	return nil
}

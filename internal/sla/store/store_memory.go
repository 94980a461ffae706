// Package store persists SLA subjects, monitoring records and alerts.
// This store is pure I/O; thresholds, deduplication windows and freeze
// rules belong to the evaluator.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	id "auditflow/pkg/domain"
	pkgerrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/sentinel"
)

// numShards spreads per-subject transactions over independent mutexes.
const numShards = 128

// defaultTxTimeout is the maximum duration for a transaction.
const defaultTxTimeout = 5 * time.Second

// InMemoryStore keeps SLA state in maps. Transactions lock one shard per
// subject and buffer their writes, applying them only when fn succeeds.
type InMemoryStore struct {
	mu          sync.RWMutex
	subjects    map[id.SubjectID]*models.Subject
	monitorings map[id.SubjectID]*models.SLAMonitoring
	alerts      map[id.SubjectID][]*models.SLAAlert
	alertOwner  map[id.AlertID]id.SubjectID

	shards  [numShards]sync.Mutex
	timeout time.Duration
}

var _ ports.TransactionalStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		subjects:    make(map[id.SubjectID]*models.Subject),
		monitorings: make(map[id.SubjectID]*models.SLAMonitoring),
		alerts:      make(map[id.SubjectID][]*models.SLAAlert),
		alertOwner:  make(map[id.AlertID]id.SubjectID),
	}
}

func (s *InMemoryStore) GetSubject(_ context.Context, subjectID id.SubjectID) (*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subjects[subjectID].Clone(), nil
}

func (s *InMemoryStore) CreateSubject(_ context.Context, subject *models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subject.ID]; ok {
		return sentinel.ErrConflict
	}
	s.subjects[subject.ID] = subject.Clone()
	return nil
}

func (s *InMemoryStore) SaveSubject(_ context.Context, subject *models.Subject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subjects[subject.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.subjects[subject.ID] = subject.Clone()
	return nil
}

func (s *InMemoryStore) ListOpenSubjects(_ context.Context) ([]*models.Subject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Subject, 0, len(s.subjects))
	for _, subj := range s.subjects {
		if !subj.IsTerminal() {
			out = append(out, subj.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) LoadMonitoring(_ context.Context, subjectID id.SubjectID) (*models.SLAMonitoring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.monitorings[subjectID].Clone(), nil
}

func (s *InMemoryStore) CreateMonitoring(_ context.Context, record *models.SLAMonitoring) (*models.SLAMonitoring, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.monitorings[record.SubjectID]; ok {
		return existing.Clone(), false, nil
	}
	stored := record.Clone()
	stored.Version = 1
	s.monitorings[record.SubjectID] = stored
	record.Version = 1
	return stored.Clone(), true, nil
}

func (s *InMemoryStore) UpdateMonitoring(_ context.Context, record *models.SLAMonitoring, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.monitorings[record.SubjectID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	stored := record.Clone()
	stored.Version = expectedVersion + 1
	s.monitorings[record.SubjectID] = stored
	record.Version = stored.Version
	return nil
}

func (s *InMemoryStore) ListActiveMonitoring(_ context.Context) ([]*models.SLAMonitoring, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SLAMonitoring, 0, len(s.monitorings))
	for _, m := range s.monitorings {
		if !m.Frozen {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListAlerts(_ context.Context, subjectID id.SubjectID, since time.Time) ([]*models.SLAAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterAlerts(s.alerts[subjectID], since), nil
}

func (s *InMemoryStore) InsertAlertIfAbsent(_ context.Context, alert *models.SLAAlert, within time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if recentlySent(s.alerts[alert.SubjectID], alert, within) {
		return false, nil
	}
	s.appendAlertLocked(alert.Clone())
	return true, nil
}

func (s *InMemoryStore) GetAlert(_ context.Context, alertID id.AlertID) (*models.SLAAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subjectID, ok := s.alertOwner[alertID]
	if !ok {
		return nil, nil
	}
	for _, a := range s.alerts[subjectID] {
		if a.ID == alertID {
			return a.Clone(), nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) UpdateAlert(_ context.Context, alert *models.SLAAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceAlertLocked(alert)
}

func (s *InMemoryStore) appendAlertLocked(alert *models.SLAAlert) {
	s.alerts[alert.SubjectID] = append(s.alerts[alert.SubjectID], alert)
	s.alertOwner[alert.ID] = alert.SubjectID
}

func (s *InMemoryStore) replaceAlertLocked(alert *models.SLAAlert) error {
	list := s.alerts[alert.SubjectID]
	for i, a := range list {
		if a.ID == alert.ID {
			list[i] = alert.Clone()
			return nil
		}
	}
	return sentinel.ErrNotFound
}

// RunInTx serializes fn with other transactions on the same key and applies
// its buffered writes atomically when fn returns nil.
func (s *InMemoryStore) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := s.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	shard := hashString(key) % numShards
	s.shards[shard].Lock()
	defer s.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := newMemoryTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func filterAlerts(list []*models.SLAAlert, since time.Time) []*models.SLAAlert {
	out := make([]*models.SLAAlert, 0, len(list))
	for _, a := range list {
		if since.IsZero() || !a.SentAt.Before(since) {
			out = append(out, a.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	return out
}

// recentlySent reports whether list holds an alert of candidate's type sent
// strictly within the window before candidate.SentAt.
func recentlySent(list []*models.SLAAlert, candidate *models.SLAAlert, within time.Duration) bool {
	if within <= 0 {
		return false
	}
	cutoff := candidate.SentAt.Add(-within)
	for _, a := range list {
		if a.AlertType == candidate.AlertType && a.SentAt.After(cutoff) {
			return true
		}
	}
	return false
}

// hashString uses FNV-1a for better hash distribution than simple multiply-add.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}

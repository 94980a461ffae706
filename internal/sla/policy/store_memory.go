// Package policy holds the configured SLA policies. Policies are read-only
// at runtime; they are loaded from the catalog at startup.
package policy

import (
	"context"
	"sort"
	"sync"

	"auditflow/internal/sla/models"
	"auditflow/internal/sla/ports"
	dErrors "auditflow/pkg/domain-errors"
	pkgstrings "auditflow/pkg/platform/strings"
)

// InMemoryStore serves policies by ID and by severity.
type InMemoryStore struct {
	mu         sync.RWMutex
	byID       map[string]*models.SLAPolicy
	bySeverity map[models.Severity]*models.SLAPolicy
}

var _ ports.PolicyStore = (*InMemoryStore)(nil)

// New validates the policies and indexes them. At most one active policy
// may exist per severity.
func New(policies ...*models.SLAPolicy) (*InMemoryStore, error) {
	s := &InMemoryStore{
		byID:       make(map[string]*models.SLAPolicy, len(policies)),
		bySeverity: make(map[models.Severity]*models.SLAPolicy),
	}
	for _, p := range policies {
		if err := s.add(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *InMemoryStore) add(p *models.SLAPolicy) error {
	if p == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "policy cannot be nil")
	}
	if err := p.Validate(); err != nil {
		return err
	}
	if _, dup := s.byID[p.ID]; dup {
		return dErrors.New(dErrors.CodeConflict, "duplicate policy id: "+p.ID)
	}

	stored := p.Clone()
	stored.AlertRoles = pkgstrings.NormalizeRoles(stored.AlertRoles)
	for i := range stored.EscalationLevels {
		stored.EscalationLevels[i].NotifyRoles = pkgstrings.NormalizeRoles(stored.EscalationLevels[i].NotifyRoles)
	}

	if stored.IsActive {
		if existing, ok := s.bySeverity[stored.Severity]; ok {
			return dErrors.New(dErrors.CodeConflict,
				"policies "+existing.ID+" and "+stored.ID+" are both active for severity "+string(stored.Severity))
		}
		s.bySeverity[stored.Severity] = stored
	}
	s.byID[stored.ID] = stored
	return nil
}

func (s *InMemoryStore) ActivePolicy(_ context.Context, severity models.Severity) (*models.SLAPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bySeverity[severity].Clone(), nil
}

func (s *InMemoryStore) Get(_ context.Context, policyID string) (*models.SLAPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[policyID].Clone(), nil
}

// List returns all policies ordered by ID.
func (s *InMemoryStore) List(_ context.Context) ([]*models.SLAPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.SLAPolicy, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

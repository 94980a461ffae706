// Package store persists approval requests and their steps.
package store

import (
	"context"
	"encoding/binary"
	"slices"
	"sync"
	"time"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	id "auditflow/pkg/domain"
	pkgerrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/sentinel"
)

const (
	numShards        = 64
	defaultTxTimeout = 5 * time.Second
)

// InMemoryStore keeps requests and steps in maps. Transactions lock one
// shard per request and buffer writes until fn returns.
type InMemoryStore struct {
	mu       sync.RWMutex
	requests map[id.ApprovalRequestID]*models.ApprovalRequest
	steps    map[id.ApprovalRequestID][]*models.ApprovalRequestStep

	shards [numShards]sync.Mutex
}

var _ ports.TransactionalStore = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		requests: make(map[id.ApprovalRequestID]*models.ApprovalRequest),
		steps:    make(map[id.ApprovalRequestID][]*models.ApprovalRequestStep),
	}
}

func (s *InMemoryStore) CreateRequest(_ context.Context, request *models.ApprovalRequest, steps []*models.ApprovalRequestStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[request.ID]; ok {
		return sentinel.ErrConflict
	}
	s.requests[request.ID] = request.Clone()
	s.steps[request.ID] = cloneSteps(steps)
	sortSteps(s.steps[request.ID])
	return nil
}

func (s *InMemoryStore) GetRequest(_ context.Context, requestID id.ApprovalRequestID) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.requests[requestID].Clone(), nil
}

func (s *InMemoryStore) ListSteps(_ context.Context, requestID id.ApprovalRequestID) ([]*models.ApprovalRequestStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneSteps(s.steps[requestID]), nil
}

func (s *InMemoryStore) SaveRequest(_ context.Context, request *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveRequestLocked(request)
}

func (s *InMemoryStore) SaveSteps(_ context.Context, steps ...*models.ApprovalRequestStep) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, step := range steps {
		if s.findStepLocked(step) < 0 {
			return sentinel.ErrNotFound
		}
	}
	for _, step := range steps {
		s.steps[step.ApprovalRequestID][s.findStepLocked(step)] = step.Clone()
	}
	return nil
}

func (s *InMemoryStore) ListPendingSteps(_ context.Context, role string) ([]*models.ApprovalRequestStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.ApprovalRequestStep
	for requestID, steps := range s.steps {
		if req := s.requests[requestID]; req == nil || req.Status.IsTerminal() {
			continue
		}
		for _, step := range steps {
			if step.Status == models.StepPending && step.AssigneeRole == role {
				out = append(out, step.Clone())
			}
		}
	}
	slices.SortFunc(out, func(a, b *models.ApprovalRequestStep) int {
		ra, rb := s.requests[a.ApprovalRequestID], s.requests[b.ApprovalRequestID]
		if c := ra.CreatedAt.Compare(rb.CreatedAt); c != 0 {
			return c
		}
		return a.StepOrder - b.StepOrder
	})
	return out, nil
}

// RunInTx serializes fn with other transactions on the same request.
func (s *InMemoryStore) RunInTx(ctx context.Context, requestID id.ApprovalRequestID, fn func(ctx context.Context, store ports.Store) error) error {
	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTxTimeout)
		defer cancel()
	}

	shard := binary.BigEndian.Uint32(requestID[:4]) % numShards
	s.shards[shard].Lock()
	defer s.shards[shard].Unlock()

	if err := ctx.Err(); err != nil {
		return pkgerrors.Wrap(err, pkgerrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	tx := &memoryTx{
		base:     s,
		requests: make(map[id.ApprovalRequestID]*models.ApprovalRequest),
		steps:    make(map[id.StepID]*models.ApprovalRequestStep),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return tx.commit()
}

func (s *InMemoryStore) saveRequestLocked(request *models.ApprovalRequest) error {
	if _, ok := s.requests[request.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.requests[request.ID] = request.Clone()
	return nil
}

func (s *InMemoryStore) findStepLocked(step *models.ApprovalRequestStep) int {
	return slices.IndexFunc(s.steps[step.ApprovalRequestID], func(st *models.ApprovalRequestStep) bool {
		return st.ID == step.ID
	})
}

// memoryTx stages writes over the base store. Reads see staged values first.
type memoryTx struct {
	base     *InMemoryStore
	requests map[id.ApprovalRequestID]*models.ApprovalRequest
	steps    map[id.StepID]*models.ApprovalRequestStep
	created  []createdRequest
}

type createdRequest struct {
	request *models.ApprovalRequest
	steps   []*models.ApprovalRequestStep
}

func (t *memoryTx) CreateRequest(ctx context.Context, request *models.ApprovalRequest, steps []*models.ApprovalRequestStep) error {
	if existing, _ := t.GetRequest(ctx, request.ID); existing != nil {
		return sentinel.ErrConflict
	}
	t.created = append(t.created, createdRequest{request: request.Clone(), steps: cloneSteps(steps)})
	return nil
}

func (t *memoryTx) GetRequest(ctx context.Context, requestID id.ApprovalRequestID) (*models.ApprovalRequest, error) {
	if staged, ok := t.requests[requestID]; ok {
		return staged.Clone(), nil
	}
	for _, c := range t.created {
		if c.request.ID == requestID {
			return c.request.Clone(), nil
		}
	}
	return t.base.GetRequest(ctx, requestID)
}

func (t *memoryTx) ListSteps(ctx context.Context, requestID id.ApprovalRequestID) ([]*models.ApprovalRequestStep, error) {
	steps, err := t.base.ListSteps(ctx, requestID)
	if err != nil {
		return nil, err
	}
	for _, c := range t.created {
		if c.request.ID == requestID {
			steps = cloneSteps(c.steps)
		}
	}
	for i, step := range steps {
		if staged, ok := t.steps[step.ID]; ok {
			steps[i] = staged.Clone()
		}
	}
	sortSteps(steps)
	return steps, nil
}

func (t *memoryTx) SaveRequest(ctx context.Context, request *models.ApprovalRequest) error {
	existing, err := t.GetRequest(ctx, request.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return sentinel.ErrNotFound
	}
	t.requests[request.ID] = request.Clone()
	return nil
}

func (t *memoryTx) SaveSteps(_ context.Context, steps ...*models.ApprovalRequestStep) error {
	for _, step := range steps {
		t.steps[step.ID] = step.Clone()
	}
	return nil
}

func (t *memoryTx) ListPendingSteps(ctx context.Context, role string) ([]*models.ApprovalRequestStep, error) {
	return t.base.ListPendingSteps(ctx, role)
}

// commit validates every staged write against the base store before
// applying any of them.
func (t *memoryTx) commit() error {
	b := t.base
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range t.created {
		if _, ok := b.requests[c.request.ID]; ok {
			return sentinel.ErrConflict
		}
	}
	isCreated := func(requestID id.ApprovalRequestID) bool {
		return slices.ContainsFunc(t.created, func(c createdRequest) bool { return c.request.ID == requestID })
	}
	for requestID := range t.requests {
		if _, ok := b.requests[requestID]; !ok && !isCreated(requestID) {
			return sentinel.ErrNotFound
		}
	}
	for _, step := range t.steps {
		if b.findStepLocked(step) < 0 && !isCreated(step.ApprovalRequestID) {
			return sentinel.ErrNotFound
		}
	}

	for _, c := range t.created {
		b.requests[c.request.ID] = c.request
		b.steps[c.request.ID] = c.steps
		sortSteps(c.steps)
	}
	for requestID, req := range t.requests {
		b.requests[requestID] = req
	}
	for _, step := range t.steps {
		if i := b.findStepLocked(step); i >= 0 {
			b.steps[step.ApprovalRequestID][i] = step
		}
	}
	return nil
}

func cloneSteps(steps []*models.ApprovalRequestStep) []*models.ApprovalRequestStep {
	if steps == nil {
		return nil
	}
	out := make([]*models.ApprovalRequestStep, len(steps))
	for i, step := range steps {
		out[i] = step.Clone()
	}
	return out
}

func sortSteps(steps []*models.ApprovalRequestStep) {
	slices.SortFunc(steps, func(a, b *models.ApprovalRequestStep) int { return a.StepOrder - b.StepOrder })
}

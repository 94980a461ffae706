package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	id "auditflow/pkg/domain"
	dErrors "auditflow/pkg/domain-errors"
	"auditflow/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
	t0    time.Time
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
	s.t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *MemoryStoreSuite) newRequest(created time.Time, roles ...string) (*models.ApprovalRequest, []*models.ApprovalRequestStep) {
	req := &models.ApprovalRequest{
		ID:          id.ApprovalRequestID(uuid.New()),
		EntityType:  "vendor",
		EntityID:    "v-1",
		WorkflowID:  "wf",
		RequesterID: id.UserID(uuid.New()),
		Title:       "Onboard vendor",
		Priority:    models.PriorityHigh,
		Status:      models.RequestPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	steps := make([]*models.ApprovalRequestStep, 0, len(roles))
	for i := len(roles) - 1; i >= 0; i-- {
		steps = append(steps, &models.ApprovalRequestStep{
			ID:                id.StepID(uuid.New()),
			ApprovalRequestID: req.ID,
			StepOrder:         i + 1,
			StepName:          roles[i],
			AssigneeRole:      roles[i],
			Status:            models.StepPending,
			Required:          true,
		})
	}
	s.Require().NoError(s.store.CreateRequest(s.ctx, req, steps))
	return req, steps
}

// =============================================================================
// Requests and steps
// =============================================================================

func (s *MemoryStoreSuite) TestCreateAndRead() {
	req, _ := s.newRequest(s.t0, "manager", "legal")

	got, err := s.store.GetRequest(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req, got)
	got.Title = "mutated"
	again, _ := s.store.GetRequest(s.ctx, req.ID)
	s.Equal("Onboard vendor", again.Title, "reads return copies")

	steps, err := s.store.ListSteps(s.ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 2)
	s.Equal(1, steps[0].StepOrder, "steps come back ordered")
	s.Equal("manager", steps[0].AssigneeRole)

	missing, err := s.store.GetRequest(s.ctx, id.ApprovalRequestID(uuid.New()))
	s.NoError(err)
	s.Nil(missing)

	s.ErrorIs(s.store.CreateRequest(s.ctx, req, nil), sentinel.ErrConflict)
}

func (s *MemoryStoreSuite) TestSaveUnknownIsNotFound() {
	s.ErrorIs(s.store.SaveRequest(s.ctx, &models.ApprovalRequest{ID: id.ApprovalRequestID(uuid.New())}), sentinel.ErrNotFound)
	s.ErrorIs(s.store.SaveSteps(s.ctx, &models.ApprovalRequestStep{ID: id.StepID(uuid.New())}), sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestListPendingSteps() {
	older, _ := s.newRequest(s.t0, "manager", "legal")
	newer, _ := s.newRequest(s.t0.Add(time.Hour), "legal")
	closed, closedSteps := s.newRequest(s.t0.Add(-time.Hour), "legal")

	closed.Status = models.RequestCancelled
	s.Require().NoError(s.store.SaveRequest(s.ctx, closed))
	s.Require().Len(closedSteps, 1)

	pending, err := s.store.ListPendingSteps(s.ctx, "legal")
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(older.ID, pending[0].ApprovalRequestID)
	s.Equal(newer.ID, pending[1].ApprovalRequestID)
}

// =============================================================================
// Transactions
// =============================================================================

func (s *MemoryStoreSuite) TestRunInTxRollsBackOnError() {
	req, steps := s.newRequest(s.t0, "manager")
	boom := errors.New("boom")

	err := s.store.RunInTx(s.ctx, req.ID, func(ctx context.Context, tx ports.Store) error {
		updated := req.Clone()
		updated.Status = models.RequestApproved
		s.Require().NoError(tx.SaveRequest(s.ctx, updated))

		step := steps[0].Clone()
		step.Status = models.StepApproved
		s.Require().NoError(tx.SaveSteps(s.ctx, step))

		seen, _ := tx.GetRequest(s.ctx, req.ID)
		s.Equal(models.RequestApproved, seen.Status, "tx reads its own writes")
		return boom
	})
	s.ErrorIs(err, boom)

	got, _ := s.store.GetRequest(s.ctx, req.ID)
	s.Equal(models.RequestPending, got.Status)
	stored, _ := s.store.ListSteps(s.ctx, req.ID)
	s.Equal(models.StepPending, stored[0].Status)
}

func (s *MemoryStoreSuite) TestRunInTxCommitsAllOrNothing() {
	req, steps := s.newRequest(s.t0, "manager")

	err := s.store.RunInTx(s.ctx, req.ID, func(ctx context.Context, tx ports.Store) error {
		step := steps[0].Clone()
		step.Status = models.StepApproved
		ghost := &models.ApprovalRequestStep{ID: id.StepID(uuid.New()), ApprovalRequestID: req.ID}
		return tx.SaveSteps(s.ctx, step, ghost)
	})
	s.ErrorIs(err, sentinel.ErrNotFound)

	stored, _ := s.store.ListSteps(s.ctx, req.ID)
	s.Equal(models.StepPending, stored[0].Status)
}

func (s *MemoryStoreSuite) TestRunInTxCancelledContext() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	err := s.store.RunInTx(ctx, id.ApprovalRequestID(uuid.New()), func(context.Context, ports.Store) error { return nil })
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *MemoryStoreSuite) TestRunInTxSerializesPerRequest() {
	req, _ := s.newRequest(s.t0, "manager")
	var inside, maxInside atomic.Int32

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.store.RunInTx(s.ctx, req.ID, func(ctx context.Context, tx ports.Store) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()
	s.Equal(int32(1), maxInside.Load())
}

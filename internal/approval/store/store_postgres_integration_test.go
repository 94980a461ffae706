//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/ports"
	"auditflow/internal/approval/store"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/audit"
	auditpostgres "auditflow/pkg/platform/audit/store/postgres"
	"auditflow/pkg/platform/sentinel"
	"auditflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.Truncate(context.Background()))
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
}

func (s *PostgresStoreSuite) createRequest() (*models.ApprovalRequest, []*models.ApprovalRequestStep) {
	req := &models.ApprovalRequest{
		ID:          id.ApprovalRequestID(uuid.New()),
		EntityType:  "contract",
		EntityID:    "c-42",
		WorkflowID:  "contract-review",
		RequesterID: id.UserID(uuid.New()),
		Title:       "Renew hosting contract",
		Priority:    models.PriorityCritical,
		Status:      models.RequestPending,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
	steps := []*models.ApprovalRequestStep{
		{ID: id.StepID(uuid.New()), ApprovalRequestID: req.ID, StepOrder: 1, StepName: "Manager", AssigneeRole: "manager", Status: models.StepPending, Required: true},
		{ID: id.StepID(uuid.New()), ApprovalRequestID: req.ID, StepOrder: 2, StepName: "Legal", AssigneeRole: "legal", Status: models.StepPending, Required: false},
	}
	s.Require().NoError(s.store.CreateRequest(context.Background(), req, steps))
	return req, steps
}

func (s *PostgresStoreSuite) TestRequestRoundTrip() {
	ctx := context.Background()
	req, _ := s.createRequest()

	got, err := s.store.GetRequest(ctx, req.ID)
	s.Require().NoError(err)
	s.Equal(req.Title, got.Title)
	s.Equal(req.RequesterID, got.RequesterID)
	s.Equal(models.PriorityCritical, got.Priority)
	s.True(req.CreatedAt.Equal(got.CreatedAt))

	steps, err := s.store.ListSteps(ctx, req.ID)
	s.Require().NoError(err)
	s.Require().Len(steps, 2)
	s.Equal("manager", steps[0].AssigneeRole)
	s.False(steps[1].Required)

	s.ErrorIs(s.store.CreateRequest(ctx, req, nil), sentinel.ErrConflict)
}

func (s *PostgresStoreSuite) TestDecisionInTransaction() {
	ctx := context.Background()
	req, steps := s.createRequest()
	actor := id.UserID(uuid.New())
	at := s.now.Add(time.Hour)

	err := s.store.RunInTx(ctx, req.ID, func(ctx context.Context, tx ports.Store) error {
		step := steps[0].Clone()
		step.Status = models.StepApproved
		step.CompletedBy = &actor
		step.CompletedAt = &at
		step.Comments = "looks good"
		if err := tx.SaveSteps(ctx, step); err != nil {
			return err
		}
		updated := req.Clone()
		updated.Status = models.RequestApproved
		updated.UpdatedAt = at
		return tx.SaveRequest(ctx, updated)
	})
	s.Require().NoError(err)

	got, _ := s.store.GetRequest(ctx, req.ID)
	s.Equal(models.RequestApproved, got.Status)
	stored, _ := s.store.ListSteps(ctx, req.ID)
	s.Equal(models.StepApproved, stored[0].Status)
	s.Require().NotNil(stored[0].CompletedBy)
	s.Equal(actor, *stored[0].CompletedBy)
	s.Equal("looks good", stored[0].Comments)

	pending, err := s.store.ListPendingSteps(ctx, "legal")
	s.Require().NoError(err)
	s.Empty(pending, "approved requests have no actionable steps")
}

func (s *PostgresStoreSuite) TestRunInTxSerializesPerRequest() {
	ctx := context.Background()
	req, _ := s.createRequest()

	var (
		mu     sync.Mutex
		order  []int
		wg     sync.WaitGroup
		inside bool
	)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.RunInTx(ctx, req.ID, func(ctx context.Context, tx ports.Store) error {
				mu.Lock()
				s.False(inside, "two transactions held the request lock")
				inside = true
				mu.Unlock()

				time.Sleep(20 * time.Millisecond)

				mu.Lock()
				inside = false
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			s.NoError(err)
		}()
	}
	wg.Wait()
	s.Len(order, 4)
}

// =============================================================================
// Audit appends join the store transaction
// =============================================================================
// Justification: decision events must commit or roll back with the step
// they describe. The audit store picks up the *sql.Tx from the RunInTx ctx.

func (s *PostgresStoreSuite) TestAuditAppendJoinsTransaction() {
	ctx := context.Background()
	req, _ := s.createRequest()
	trail := auditpostgres.New(s.postgres.DB)
	event := audit.Event{
		Category:  audit.CategoryCompliance,
		Timestamp: s.now,
		Subject:   req.ID.String(),
		Action:    string(audit.EventApprovalStepDecided),
		Decision:  "approved",
	}

	s.Run("rollback discards the audit row", func() {
		err := s.store.RunInTx(ctx, req.ID, func(ctx context.Context, _ ports.Store) error {
			if err := trail.Append(ctx, event); err != nil {
				return err
			}
			return errors.New("abort")
		})
		s.Require().Error(err)

		events, err := trail.ListBySubject(ctx, req.ID.String())
		s.Require().NoError(err)
		s.Empty(events)
	})

	s.Run("commit keeps the audit row", func() {
		err := s.store.RunInTx(ctx, req.ID, func(ctx context.Context, _ ports.Store) error {
			return trail.Append(ctx, event)
		})
		s.Require().NoError(err)

		events, err := trail.ListBySubject(ctx, req.ID.String())
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventApprovalStepDecided), events[0].Action)
	})
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"auditflow/internal/approval/models"
	"auditflow/internal/approval/service"
	"auditflow/internal/approval/store"
	id "auditflow/pkg/domain"
	"auditflow/pkg/platform/audit"
	auditpublisher "auditflow/pkg/platform/audit/publisher"
	auditmemory "auditflow/pkg/platform/audit/store/memory"
	"auditflow/pkg/requestcontext"
)

const testUserHeader = "X-Test-User"

type workflows map[string]*models.WorkflowDefinition

func (w workflows) Workflow(_ context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	return w[workflowID], nil
}

// HandlerSuite drives the approval endpoints through chi with real
// in-memory components.
// Justification: handler tests pin parsing, auth and status mapping.
type HandlerSuite struct {
	suite.Suite
	router    http.Handler
	now       time.Time
	requester string
	approver  string
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	s.requester = uuid.NewString()
	s.approver = uuid.NewString()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	trail := auditpublisher.NewPublisher(auditmemory.NewInMemoryStore(), auditpublisher.WithLogger(logger))
	svc, err := service.New(store.NewInMemoryStore(), workflows{
		"purchase": {
			ID:   "purchase",
			Name: "Purchase approval",
			Steps: []models.WorkflowStepDefinition{
				{StepOrder: 1, StepName: "Manager", AssigneeRole: "manager", Required: true},
				{StepOrder: 2, StepName: "Finance", AssigneeRole: "finance", Required: true},
			},
		},
	}, service.WithLogger(logger), service.WithAuditPublisher(trail))
	require.NoError(s.T(), err)

	r := chi.NewRouter()
	r.Use(s.testContext)
	New(svc, logger, WithAuditTrail(trail)).Register(r)
	s.router = r
}

func (s *HandlerSuite) testContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestcontext.WithTime(r.Context(), s.now)
		if raw := r.Header.Get(testUserHeader); raw != "" {
			userID, err := id.ParseUserID(raw)
			require.NoError(s.T(), err)
			ctx = requestcontext.WithUserID(ctx, userID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *HandlerSuite) do(method, path string, body any, user string) *httptest.ResponseRecorder {
	var reader io.Reader = http.NoBody
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.T(), err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequestWithContext(context.Background(), method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(testUserHeader, user)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) create() RequestResponse {
	rec := s.do(http.MethodPost, "/approvals", map[string]any{
		"entity_type": "purchase_order",
		"entity_id":   "po-77",
		"workflow_id": "purchase",
		"title":       "Laptops for new hires",
		"priority":    "high",
	}, s.requester)
	require.Equal(s.T(), http.StatusCreated, rec.Code, rec.Body.String())

	var resp RequestResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func (s *HandlerSuite) decide(requestID id.ApprovalRequestID, order string, decision string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/approvals/"+requestID.String()+"/steps/"+order+"/decision",
		map[string]any{"decision": decision}, s.approver)
}

// =============================================================================
// Create / Get
// =============================================================================

func (s *HandlerSuite) TestCreateAndGet() {
	created := s.create()
	assert.Equal(s.T(), models.RequestPending, created.Request.Status)
	assert.Equal(s.T(), s.requester, created.Request.RequesterID.String())
	require.Len(s.T(), created.Steps, 2)

	rec := s.do(http.MethodGet, "/approvals/"+created.Request.ID.String(), nil, s.requester)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	var got RequestResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(s.T(), created.Request.ID, got.Request.ID)
}

func (s *HandlerSuite) TestCreateRequiresUser() {
	rec := s.do(http.MethodPost, "/approvals", map[string]any{"workflow_id": "purchase", "title": "x"}, "")
	assert.Equal(s.T(), http.StatusUnauthorized, rec.Code)
}

func (s *HandlerSuite) TestCreateRejectsBadInput() {
	cases := []struct {
		name string
		body map[string]any
		code int
	}{
		{"missing workflow", map[string]any{"entity_type": "po", "entity_id": "1", "title": "x"}, http.StatusBadRequest},
		{"bad priority", map[string]any{"entity_type": "po", "entity_id": "1", "workflow_id": "purchase", "title": "x", "priority": "asap"}, http.StatusBadRequest},
		{"bad assignee key", map[string]any{"entity_type": "po", "entity_id": "1", "workflow_id": "purchase", "title": "x", "assignees": map[string]string{"first": uuid.NewString()}}, http.StatusBadRequest},
		{"unknown workflow", map[string]any{"entity_type": "po", "entity_id": "1", "workflow_id": "travel", "title": "x"}, http.StatusNotFound},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			rec := s.do(http.MethodPost, "/approvals", tc.body, s.requester)
			assert.Equal(s.T(), tc.code, rec.Code, rec.Body.String())
		})
	}
}

// =============================================================================
// Decide
// =============================================================================

func (s *HandlerSuite) TestDecisionFlow() {
	created := s.create()
	requestID := created.Request.ID

	rec := s.decide(requestID, "1", "approve")
	require.Equal(s.T(), http.StatusOK, rec.Code, rec.Body.String())
	var first DecisionResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&first))
	assert.Equal(s.T(), models.RequestInProgress, first.Request.Status)
	assert.Equal(s.T(), models.RequestPending, first.PreviousRequestStatus)
	assert.False(s.T(), first.Terminal)

	rec = s.decide(requestID, "2", "APPROVE")
	require.Equal(s.T(), http.StatusOK, rec.Code, rec.Body.String())
	var second DecisionResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&second))
	assert.Equal(s.T(), models.RequestApproved, second.Request.Status)
	assert.True(s.T(), second.Terminal)

	rec = s.decide(requestID, "1", "approve")
	assert.Equal(s.T(), http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestDecisionValidation() {
	created := s.create()
	requestID := created.Request.ID

	assert.Equal(s.T(), http.StatusBadRequest, s.decide(requestID, "zero", "approve").Code)
	assert.Equal(s.T(), http.StatusBadRequest, s.decide(requestID, "1", "maybe").Code)
	assert.Equal(s.T(), http.StatusNotFound, s.decide(requestID, "9", "approve").Code)
	assert.Equal(s.T(), http.StatusNotFound, s.decide(id.ApprovalRequestID(uuid.New()), "1", "approve").Code)
}

// =============================================================================
// Cancel / pending
// =============================================================================

func (s *HandlerSuite) TestCancel() {
	created := s.create()
	path := "/approvals/" + created.Request.ID.String() + "/cancel"

	rec := s.do(http.MethodPost, path, nil, s.approver)
	assert.Equal(s.T(), http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, path, map[string]any{"reason": "ordered elsewhere"}, s.requester)
	require.Equal(s.T(), http.StatusOK, rec.Code, rec.Body.String())
	var resp RequestResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(s.T(), models.RequestCancelled, resp.Request.Status)

	rec = s.do(http.MethodPost, path, nil, s.requester)
	assert.Equal(s.T(), http.StatusConflict, rec.Code)
}

func (s *HandlerSuite) TestPendingForRole() {
	created := s.create()

	rec := s.do(http.MethodGet, "/approvals/pending?role=finance", nil, s.approver)
	require.Equal(s.T(), http.StatusOK, rec.Code)
	var resp PendingResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(s.T(), resp.Steps, 1)
	assert.Equal(s.T(), created.Request.ID, resp.Steps[0].ApprovalRequestID)

	rec = s.do(http.MethodGet, "/approvals/pending", nil, s.approver)
	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

// =============================================================================
// History
// =============================================================================

func (s *HandlerSuite) TestHistory() {
	created := s.create()
	rec := s.decide(created.Request.ID, "1", "approve")
	require.Equal(s.T(), http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(http.MethodGet, "/approvals/"+created.Request.ID.String()+"/history", nil, s.requester)
	require.Equal(s.T(), http.StatusOK, rec.Code, rec.Body.String())
	var resp HistoryResponse
	require.NoError(s.T(), json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(s.T(), created.Request.ID.String(), resp.RequestID)
	require.Len(s.T(), resp.Events, 2)
	assert.Equal(s.T(), string(audit.EventApprovalRequestCreated), resp.Events[0].Action)
	assert.Equal(s.T(), s.requester, resp.Events[0].ActorID)
	assert.Equal(s.T(), string(audit.EventApprovalStepDecided), resp.Events[1].Action)
	assert.Equal(s.T(), string(models.StepApproved), resp.Events[1].Decision)
	assert.Equal(s.T(), string(audit.CategoryCompliance), resp.Events[1].Category)
	assert.Equal(s.T(), s.approver, resp.Events[1].ActorID)

	rec = s.do(http.MethodGet, "/approvals/"+uuid.NewString()+"/history", nil, s.requester)
	assert.Equal(s.T(), http.StatusNotFound, rec.Code)
}

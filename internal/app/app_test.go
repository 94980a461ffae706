package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	approvalhandler "auditflow/internal/approval/handler"
	approvalmodels "auditflow/internal/approval/models"
	jwttoken "auditflow/internal/jwt_token"
	"auditflow/internal/platform/config"
	slamodels "auditflow/internal/sla/models"
	id "auditflow/pkg/domain"
	"auditflow/pkg/testutil"
)

// =============================================================================
// App Wiring Test Suite
// =============================================================================
// Justification: the composition root decides which observer, store and
// notifier each service receives. Driving the full router with in-memory
// infrastructure proves an approval request is tracked by the SLA engine
// from creation to terminal decision.

type AppSuite struct {
	suite.Suite
	app       *App
	requester id.UserID
	approver  id.UserID
	tokens    *jwttoken.JWTService
}

func TestAppSuite(t *testing.T) {
	suite.Run(t, new(AppSuite))
}

func (s *AppSuite) SetupTest() {
	cfg := config.Config{
		Server: config.Server{
			JWTSigningKey: "test-signing-key",
			JWTIssuer:     "auditflow",
			JWTAudience:   "auditflow-api",
		},
		SLA:          config.SLA{DedupWindow: time.Hour},
		Notification: config.Notification{QueueSize: 16, Workers: 1, MaxRetries: 1},
		CatalogPath:  "../../configs/catalog.yaml",
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), cfg, logger, WithRegistry(prometheus.NewRegistry()))
	s.Require().NoError(err)
	s.app = a
	s.T().Cleanup(func() { _ = a.Close(context.Background()) })

	s.tokens = jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
	s.requester = id.UserID(uuid.New())
	s.approver = id.UserID(uuid.New())
}

func (s *AppSuite) do(method, path string, user *id.UserID, body any) *httptest.ResponseRecorder {
	var token string
	if user != nil {
		token = testutil.BearerToken(s.T(), s.tokens, *user, "manager")
	}
	return testutil.DoRequest(s.app.Router, testutil.AuthedJSONRequest(s.T(), method, path, token, body))
}

func (s *AppSuite) TestOperationalEndpoints() {
	s.Run("health is open", func() {
		rec := s.do(http.MethodGet, "/health", nil, nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("metrics are open", func() {
		rec := s.do(http.MethodGet, "/metrics", nil, nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("module routes need a token", func() {
		rec := s.do(http.MethodGet, "/approvals/pending?role=manager", nil, nil)
		testutil.AssertStatusAndError(s.T(), rec, http.StatusUnauthorized, "unauthorized")
	})
}

func (s *AppSuite) TestApprovalLifecycleDrivesSLA() {
	rec := s.do(http.MethodPost, "/approvals", &s.requester, map[string]any{
		"entity_type": "purchase_order",
		"entity_id":   "PO-1001",
		"workflow_id": "purchase-order",
		"title":       "Laptops for new hires",
		"priority":    "critical",
	})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	created := testutil.UnmarshalResponse[approvalhandler.RequestResponse](s.T(), rec)
	s.Equal(approvalmodels.RequestPending, created.Request.Status)
	s.Require().Len(created.Steps, 2)
	requestID := created.Request.ID.String()

	monitoring := s.monitoring(requestID)
	s.Equal("critical-default", monitoring.SLAPolicyID)
	s.Equal(3*time.Hour, monitoring.ResolutionDeadline.Sub(monitoring.ResponseDeadline))
	s.Nil(monitoring.ActualResponseTime)

	rec = s.do(http.MethodPost, "/approvals/"+requestID+"/steps/1/decision", &s.approver,
		map[string]string{"decision": "approve"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	monitoring = s.monitoring(requestID)
	s.NotNil(monitoring.ActualResponseTime)
	s.True(monitoring.ResponseSLAMet)
	s.False(monitoring.Frozen)

	rec = s.do(http.MethodPost, "/approvals/"+requestID+"/steps/2/decision", &s.approver,
		map[string]string{"decision": "approve"})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	decided := testutil.UnmarshalResponse[approvalhandler.DecisionResponse](s.T(), rec)
	s.True(decided.Terminal)
	s.Equal(approvalmodels.RequestApproved, decided.Request.Status)

	monitoring = s.monitoring(requestID)
	s.True(monitoring.Frozen)
	s.True(monitoring.ResolutionSLAMet)

	rec = s.do(http.MethodPost, "/approvals/"+requestID+"/steps/1/decision", &s.approver,
		map[string]string{"decision": "approve"})
	testutil.AssertStatusAndError(s.T(), rec, http.StatusConflict, "invalid_transition")
}

func (s *AppSuite) monitoring(subjectID string) slamodels.SLAMonitoring {
	rec := s.do(http.MethodGet, "/sla/subjects/"+subjectID+"/monitoring", &s.requester, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	return *testutil.UnmarshalResponse[slamodels.SLAMonitoring](s.T(), rec)
}

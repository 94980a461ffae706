package testutil

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "auditflow/pkg/domain"
)

type recordingIssuer struct {
	user  id.UserID
	roles []string
	ttl   time.Duration
}

func (r *recordingIssuer) GenerateAccessToken(userID id.UserID, roles []string, ttl time.Duration) (string, error) {
	r.user, r.roles, r.ttl = userID, roles, ttl
	return "signed-" + userID.String(), nil
}

func TestBearerToken(t *testing.T) {
	issuer := &recordingIssuer{}
	user := id.UserID(uuid.New())

	token := BearerToken(t, issuer, user, "manager", "legal")

	assert.Equal(t, "signed-"+user.String(), token)
	assert.Equal(t, user, issuer.user)
	assert.Equal(t, []string{"manager", "legal"}, issuer.roles)
	assert.Equal(t, BearerTTL, issuer.ttl)
}

func TestWithBearer(t *testing.T) {
	t.Run("sets authorization header", func(t *testing.T) {
		req := WithBearer(NewRequest(t, http.MethodGet, "/approvals/pending"), "abc")
		assert.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
	})

	t.Run("empty token stays anonymous", func(t *testing.T) {
		req := WithBearer(NewRequest(t, http.MethodGet, "/approvals/pending"), "")
		assert.Empty(t, req.Header.Get("Authorization"))
	})
}

func TestAuthedJSONRequest(t *testing.T) {
	req := AuthedJSONRequest(t, http.MethodPost, "/approvals/r-1/steps/1/decision", "abc",
		map[string]string{"decision": "approve"})

	assert.Equal(t, "Bearer abc", req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `{"decision":"approve"}`, string(body))
}

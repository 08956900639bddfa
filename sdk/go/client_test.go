package venturegatesdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsAuthAndDecodes(t *testing.T) {
	var gotAuth, gotActor string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotActor = r.Header.Get("X-Actor-Id")
		require.Equal(t, "/v1/hitl/approve", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"resumed","next_phase":1}`))
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", "tok")
	c.ActorID = "alice"
	res, err := c.Approve(context.Background(), "run-1", "approve_founders_brief", "approved", "")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "alice", gotActor)
	assert.Equal(t, "run-1", gotBody["run_id"])
	assert.NotContains(t, gotBody, "feedback")
	assert.Equal(t, "resumed", res.Status)
	require.NotNil(t, res.NextPhase)
	assert.Equal(t, 1, *res.NextPhase)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":{"code":"checkpoint_mismatch","message":"wrong checkpoint"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Status(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusConflict))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "checkpoint_mismatch", apiErr.Code)
	assert.Equal(t, "wrong checkpoint", apiErr.Message)
}

func TestRunsEncodesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`[{"run_id":"r1","status":"paused"}]`))
	}))
	defer srv.Close()

	runs, err := New(srv.URL, "tok").Runs(context.Background(), "proj 1", "paused", 5)
	require.NoError(t, err)
	assert.Equal(t, "limit=5&project_id=proj+1&status=paused", gotQuery)
	require.Len(t, runs, 1)
	assert.Equal(t, "r1", runs[0].RunID)
}

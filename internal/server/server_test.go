package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"venturegate/internal/adplatform"
	"venturegate/internal/bandit"
	"venturegate/internal/budget"
	"venturegate/internal/checkpoint"
	"venturegate/internal/config"
	"venturegate/internal/crew"
	"venturegate/internal/domain"
	"venturegate/internal/engine"
	"venturegate/internal/repo"
	"venturegate/internal/scheduler"
	"venturegate/internal/testutil"
)

const (
	testToken  = "test-token"
	testSecret = "test-jwt-secret"
)

type testServer struct {
	URL    string
	client *http.Client
	Engine engine.Engine
	Fake   *adplatform.Fake
}

func (s *testServer) Client() *http.Client { return s.client }

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	conn := testutil.OpenDB(t)
	cfg := config.Default()
	eng := engine.New(conn, checkpoint.SQLStore{Repo: repo.Repo{DB: conn}}, crew.NewScripted(testutil.CrewFixtures()), cfg, zap.NewNop())
	sched := scheduler.NewInline(func(ctx context.Context, runID string) error {
		_, err := eng.Drive(ctx, runID)
		return err
	}, nil)
	guard := budget.Guard{DB: conn, Repo: eng.Repo, Events: eng.Events, Config: cfg.Budget}
	fake := adplatform.NewFake("meta")
	syncer := &adplatform.Syncer{
		Guard:    guard,
		Repo:     eng.Repo,
		Adapters: map[string]adplatform.Adapter{"meta": adplatform.NewRateLimited(fake, 100, 10)},
	}
	handler, err := New(Config{
		Engine:    eng,
		Scheduler: sched,
		Budget:    guard,
		Bandit:    bandit.Selector{Repo: eng.Repo, Events: eng.Events, Config: cfg.Bandit},
		Syncer:    syncer,
		BasePath:  "/v1",
		Auth:      AuthConfig{Token: testToken, JWTSecret: testSecret},
	})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		sched.Close()
	})
	return &testServer{URL: "http://" + ln.Addr().String(), client: &http.Client{}, Engine: eng, Fake: fake}
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

// fetchStatus never fails the test so it can run inside require.Eventually.
func fetchStatus(srv *testServer, runID string) (engine.StatusView, bool) {
	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/status/"+runID, nil)
	if err != nil {
		return engine.StatusView{}, false
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	res, err := srv.client.Do(req)
	if err != nil {
		return engine.StatusView{}, false
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return engine.StatusView{}, false
	}
	var view engine.StatusView
	if err := json.NewDecoder(res.Body).Decode(&view); err != nil {
		return engine.StatusView{}, false
	}
	return view, true
}

func waitForCheckpoint(t *testing.T, srv *testServer, runID, name string) engine.StatusView {
	t.Helper()
	var view engine.StatusView
	require.Eventually(t, func() bool {
		v, ok := fetchStatus(srv, runID)
		if !ok {
			return false
		}
		view = v
		return v.Status == domain.RunPaused && v.HITLPending != nil && v.HITLPending.Name == name
	}, 5*time.Second, 10*time.Millisecond, "run %s never paused at %s", runID, name)
	return view
}

func kickoff(t *testing.T, srv *testServer, headers map[string]string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/kickoff", map[string]any{
		"project_id":         "proj-1",
		"user_id":            "founder-1",
		"entrepreneur_input": "compost pickup for apartments",
	}, headers)
	require.Equal(t, http.StatusAccepted, res.StatusCode, string(data))
	var out KickoffResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "started", out.Status)
	require.NotEmpty(t, out.RunID)
	return out.RunID
}

func TestHealthAndAuth(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"status":"healthy"}`, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, bearer("wrong-token"))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, map[string]string{"Authorization": "Basic abc"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs", nil, bearer(testToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `[]`, string(data))
}

func TestNewRequiresCredentialsAndScheduler(t *testing.T) {
	_, err := New(Config{Auth: AuthConfig{Token: testToken}})
	assert.ErrorContains(t, err, "scheduler")
	_, err = New(Config{Scheduler: scheduler.NewInline(nil, nil)})
	assert.ErrorContains(t, err, "api token or a jwt secret")
}

func TestKickoffApproveRejectRestart(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	alice := bearer(testToken)
	alice["X-Actor-Id"] = "alice"

	runID := kickoff(t, srv, alice)
	view := waitForCheckpoint(t, srv, runID, "approve_founders_brief")
	assert.Equal(t, 0, view.CurrentPhase)
	assert.Equal(t, "onboarding", view.PhaseName)
	assert.Equal(t, "approve", view.HITLPending.RecommendedOption)
	require.NotEmpty(t, view.Progress)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/hitl/approve", map[string]any{
		"run_id": runID, "checkpoint": "approve_discovery_output", "decision": "approved",
	}, alice)
	assert.Equal(t, http.StatusConflict, res.StatusCode)
	assert.Equal(t, "checkpoint_mismatch", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/hitl/approve", map[string]any{
		"run_id": runID, "checkpoint": "approve_founders_brief", "decision": "approved",
	}, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var approved engine.ApproveResult
	require.NoError(t, json.Unmarshal(data, &approved))
	assert.Equal(t, engine.ApprovalResumed, approved.Status)
	require.NotNil(t, approved.NextPhase)
	assert.Equal(t, 1, *approved.NextPhase)

	waitForCheckpoint(t, srv, runID, "approve_discovery_output")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/hitl/approve", map[string]any{
		"run_id": runID, "checkpoint": "approve_discovery_output", "decision": "rejected", "feedback": "segment too broad",
	}, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rejected engine.ApproveResult
	require.NoError(t, json.Unmarshal(data, &rejected))
	assert.Equal(t, engine.ApprovalRejected, rejected.Status)
	assert.Nil(t, rejected.NextPhase)

	view, ok := fetchStatus(srv, runID)
	require.True(t, ok)
	assert.Equal(t, domain.RunPaused, view.Status)
	assert.Equal(t, "rejected_approve_discovery_output", view.HITLState)
	assert.Nil(t, view.HITLPending)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs/"+runID+"/checkpoints", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var cps []domain.HITLCheckpoint
	require.NoError(t, json.Unmarshal(data, &cps))
	require.Len(t, cps, 2)
	byName := map[string]domain.HITLCheckpoint{}
	for _, cp := range cps {
		byName[cp.Name] = cp
	}
	assert.Equal(t, "alice", byName["approve_founders_brief"].DecidedBy)
	assert.Equal(t, "approved", byName["approve_founders_brief"].Decision)
	assert.Equal(t, "segment too broad", byName["approve_discovery_output"].Feedback)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs/"+runID+"/restart", map[string]any{
		"phase": "viability",
	}, alice)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/runs/"+runID+"/restart", map[string]any{
		"phase": "discovery", "reason": "narrow the segment",
	}, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	waitForCheckpoint(t, srv, runID, "approve_discovery_output")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/runs?project_id=proj-1", nil, alice)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var runs []RunSummary
	require.NoError(t, json.Unmarshal(data, &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, runID, runs[0].RunID)
}

func TestKickoffValidationAndNotFound(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/kickoff", map[string]any{
		"project_id": "proj-1",
		"user_id":    "founder-1",
	}, bearer(testToken))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "bad_request", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/status/does-not-exist", nil, bearer(testToken))
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/hitl/approve", map[string]any{
		"run_id": "does-not-exist", "checkpoint": "approve_founders_brief", "decision": "approved",
	}, bearer(testToken))
	assert.Equal(t, http.StatusNotFound, res.StatusCode, string(data))
}

func TestJWTSubjectBecomesActor(t *testing.T) {
	srv := newTestServer(t)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "founder-7",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"human_founder"},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	runID := kickoff(t, srv, bearer(token))
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events?type=run.kickoff&run_id="+runID, nil, bearer(token))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts []domain.Event
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts, 1)
	assert.Equal(t, "founder-7", evts[0].ActorID)

	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "founder-7"},
	}).SignedString([]byte("other-secret"))
	require.NoError(t, err)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/runs", nil, bearer(forged))
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	waitForCheckpoint(t, srv, runID, "approve_founders_brief")
}

func TestPolicyEndpoints(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	h := bearer(testToken)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/founder-1/DESIRABILITY", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var p domain.GatePolicy
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, 3, p.MinExperiments)
	assert.True(t, p.RequiresApproval)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v1/policies/founder-1/DESIRABILITY", map[string]any{
		"min_experiments":   5,
		"requires_approval": false,
		"override_roles":    []string{"admin"},
	}, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/founder-1/DESIRABILITY", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	p = domain.GatePolicy{}
	require.NoError(t, json.Unmarshal(data, &p))
	assert.Equal(t, 5, p.MinExperiments)
	assert.False(t, p.RequiresApproval)
	assert.Equal(t, []string{"admin"}, p.OverrideRoles)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/founder-1", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var list []domain.GatePolicy
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 1)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v1/policies/founder-1/SCALE", nil, h)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestBudgetEndpoints(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	h := bearer(testToken)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/check", map[string]any{
		"user_id": "founder-1", "current_spend": 50, "proposed_spend": 40, "limit": 100,
	}, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var check CheckResponse
	require.NoError(t, json.Unmarshal(data, &check))
	assert.True(t, check.Allowed)
	assert.Equal(t, "warning", check.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/override", map[string]any{
		"actor_type": "human_founder", "reason": "too short",
	}, h)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, budget.CodeRationaleShort, errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/override", map[string]any{
		"actor_type": "intern", "reason": strings.Repeat("x", 60),
	}, h)
	assert.Equal(t, http.StatusForbidden, res.StatusCode)
	assert.Equal(t, budget.CodeNotAuthorized, errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/pools/founder-1/fund", map[string]any{"amount": 1000}, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/campaigns", map[string]any{
		"user_id": "founder-1", "platform": "meta", "budget": 6000,
	}, h)
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
	assert.Equal(t, "allocation_rejected", errorCode(t, data))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/campaigns", map[string]any{
		"user_id": "founder-1", "platform": "meta", "budget": 100, "daily_budget": 20,
	}, h)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var c domain.Campaign
	require.NoError(t, json.Unmarshal(data, &c))

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/campaigns/"+c.ID+"/launch", map[string]any{"name": "smoke test"}, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &c))
	require.NotEmpty(t, c.ExternalID)

	require.NoError(t, srv.Fake.SetPerformance(c.ExternalID, adplatform.Performance{Spend: 130}))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/budget/campaigns/"+c.ID+"/sync", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var synced SyncResponse
	require.NoError(t, json.Unmarshal(data, &synced))
	assert.True(t, synced.Paused)
	assert.InDelta(t, 130, synced.Delta, 1e-9)
	require.NotNil(t, synced.Check)
	assert.Equal(t, "kill_switch", synced.Check.Status)
	assert.Equal(t, "paused", synced.Campaign.Status)
	assert.True(t, srv.Fake.Paused(c.ExternalID))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/budget/pools/founder-1", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var pool domain.BudgetPool
	require.NoError(t, json.Unmarshal(data, &pool))
	assert.InDelta(t, 130, pool.TotalSpent, 1e-9)
	assert.InDelta(t, 870, pool.AvailableBalance, 1e-9)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/budget/audit?user_id=founder-1", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var audit []domain.BudgetDecision
	require.NoError(t, json.Unmarshal(data, &audit))
	assert.Len(t, audit, 2)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/budget/platforms", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var limits []adplatform.RateLimitStatus
	require.NoError(t, json.Unmarshal(data, &limits))
	require.Len(t, limits, 1)
	assert.Equal(t, "meta", limits[0].Platform)
}

func TestBanditEndpoints(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	h := bearer(testToken)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/bandit/select", map[string]any{"experiment_type": "ad_creative"}, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sel bandit.Selection
	require.NoError(t, json.Unmarshal(data, &sel))
	assert.Equal(t, "yaml_baseline", sel.Policy)
	assert.Equal(t, bandit.ReasonExploration, sel.Reason)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bandit/outcomes", map[string]any{
		"experiment_type": "ad_creative",
		"policy":          sel.Policy,
		"experiment_id":   "exp-1",
		"primary_metric":  "ctr",
		"primary_value":   1.7,
	}, h)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var o domain.ExperimentOutcome
	require.NoError(t, json.Unmarshal(data, &o))
	assert.Equal(t, 1.0, o.Reward, "reward is clamped to [0,1]")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/bandit/ad_creative/weights", nil, h)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var w WeightsResponse
	require.NoError(t, json.Unmarshal(data, &w))
	require.Len(t, w.Weights, 2)
	assert.Equal(t, "yaml_baseline", w.Weights[0].Policy)
	assert.Equal(t, 1, w.Weights[0].SampleCount)
	assert.Equal(t, 0, w.Weights[1].SampleCount)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/bandit/select", map[string]any{"experiment_type": "pricing"}, h)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "bad_request", errorCode(t, data))
}

func TestMetricsAndOpenAPI(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "go_goroutines")

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas map[string]any
	require.NoError(t, json.Unmarshal(data, &oas))
	paths, ok := oas["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v1/kickoff")
	assert.Contains(t, paths, "/v1/hitl/approve")
}

func TestSweepExpiresStaleCheckpoints(t *testing.T) {
	srv := newTestServer(t)
	runID := kickoff(t, srv, bearer(testToken))
	waitForCheckpoint(t, srv, runID, "approve_founders_brief")

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/hitl/sweep", map[string]any{"ttl": "soon"}, bearer(testToken))
	assert.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/hitl/sweep", nil, bearer(testToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out SweepResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "168h0m0s", out.TTL)
	assert.Empty(t, out.Expired)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/hitl", nil, bearer(testToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var pending []domain.HITLCheckpoint
	require.NoError(t, json.Unmarshal(data, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, runID, pending[0].RunID)
}

func TestWebhookDispatcherDeliversFilteredEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []webhookEvent
		secrets  []string
	)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, evt)
		secrets = append(secrets, r.Header.Get("X-Venturegate-Secret"))
		mu.Unlock()
	}))
	defer hook.Close()

	conn := testutil.OpenDB(t)
	eng := engine.New(conn, checkpoint.SQLStore{Repo: repo.Repo{DB: conn}}, crew.NewScripted(testutil.CrewFixtures()), config.Default(), zap.NewNop())
	ctx := context.Background()
	run, err := eng.Kickoff(ctx, engine.KickoffRequest{ProjectID: "proj-1", UserID: "founder-1", EntrepreneurInput: "idea"}, "founder-1")
	require.NoError(t, err)

	d := NewWebhookDispatcher(eng.Repo, []config.WebhookConfig{{
		URL:    hook.URL,
		Events: []string{"hitl.requested"},
		Secret: "shh",
	}}, nil)
	// The first poll only positions the cursor at the log head.
	d.DispatchAll(ctx)

	_, err = eng.Drive(ctx, run.RunID)
	require.NoError(t, err)
	d.DispatchAll(ctx)
	d.DispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "hitl.requested", received[0].Type)
	assert.Equal(t, run.RunID, received[0].RunID)
	assert.Equal(t, "shh", secrets[0])
}

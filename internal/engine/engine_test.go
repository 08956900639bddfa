package engine_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"venturegate/internal/checkpoint"
	"venturegate/internal/config"
	"venturegate/internal/crew"
	"venturegate/internal/domain"
	"venturegate/internal/engine"
	"venturegate/internal/engine/auth"
	"venturegate/internal/events"
	"venturegate/internal/repo"
	"venturegate/internal/testutil"
)

type testEnv struct {
	Engine engine.Engine
	Config *config.Config
	Clock  *testutil.Clock
	Ctx    context.Context
}

func fixtures() map[string][]any {
	return testutil.CrewFixtures()
}

func newTestEnv(t *testing.T, fx map[string][]any) testEnv {
	t.Helper()
	conn := testutil.OpenDB(t)
	clock := testutil.NewClock()
	cfg := config.Default()
	eng := engine.New(conn, checkpoint.SQLStore{Repo: repo.Repo{DB: conn}}, crew.NewScripted(fx), cfg, zap.NewNop())
	eng.Now = clock.Now
	eng.Checkpoints.Now = clock.Now
	eng.Events.Now = clock.Now
	eng.Checkpoints.Events.Now = clock.Now
	return testEnv{Engine: eng, Config: cfg, Clock: clock, Ctx: context.Background()}
}

func (env testEnv) kickoff(t *testing.T) string {
	t.Helper()
	run, err := env.Engine.Kickoff(env.Ctx, engine.KickoffRequest{
		ProjectID:         "proj-1",
		UserID:            "founder-1",
		EntrepreneurInput: "compost pickup for apartments",
	}, "founder-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, run.Status)
	return run.RunID
}

func (env testEnv) approve(t *testing.T, runID, checkpointName, decision string, roles ...string) engine.ApproveResult {
	t.Helper()
	res, err := env.Engine.Approve(env.Ctx, engine.ApproveRequest{
		RunID:      runID,
		Checkpoint: checkpointName,
		Decision:   decision,
		ActorID:    "founder-1",
		Roles:      roles,
	})
	require.NoError(t, err)
	return res
}

// stepTo steps and approves recommended options until the run sits at phase.
func (env testEnv) stepTo(t *testing.T, runID string, phase domain.Phase) {
	t.Helper()
	for i := 0; i < 10; i++ {
		run, err := env.Engine.Checkpoints.Resume(env.Ctx, runID)
		require.NoError(t, err)
		if run.CurrentPhase == phase && run.Status != domain.RunPaused {
			return
		}
		res, err := env.Engine.Step(env.Ctx, runID)
		require.NoError(t, err)
		require.NotNil(t, res.Checkpoint, "phase %s did not pause", res.Phase.Name())
		env.approve(t, runID, res.Checkpoint.Name, engine.DecisionApproved)
	}
	t.Fatalf("run %s never reached %s", runID, phase.Name())
}

func TestEndToEndValidation(t *testing.T) {
	env := newTestEnv(t, fixtures())
	runID := env.kickoff(t)

	want := []struct {
		phase      domain.Phase
		decision   domain.Decision
		checkpoint string
	}{
		{domain.PhaseOnboarding, domain.DecisionBriefReady, "approve_founders_brief"},
		{domain.PhaseDiscovery, domain.DecisionDiscoveryComplete, "approve_discovery_output"},
		{domain.PhaseDesirability, domain.DecisionProceedToFeasibility, "approve_desirability_gate"},
		{domain.PhaseFeasibility, domain.DecisionProceedToViability, "approve_feasibility_gate"},
		{domain.PhaseViability, domain.DecisionValidationComplete, "approve_final_validation"},
	}
	for i, w := range want {
		res, err := env.Engine.Step(env.Ctx, runID)
		require.NoError(t, err)
		require.Nil(t, res.Failure)
		assert.Equal(t, w.phase, res.Phase)
		assert.Equal(t, w.decision, res.Decision)
		require.NotNil(t, res.Checkpoint)
		assert.Equal(t, w.checkpoint, res.Checkpoint.Name)
		assert.Equal(t, domain.RunPaused, res.Run.Status)
		assert.Equal(t, w.checkpoint, res.Run.HITLState)
		if res.Gate != nil {
			assert.True(t, res.Gate.GateReady, "%v", res.Gate.Blockers)
		}

		out := env.approve(t, runID, w.checkpoint, engine.DecisionApproved)
		if i < len(want)-1 {
			assert.Equal(t, engine.ApprovalResumed, out.Status)
			require.NotNil(t, out.NextPhase)
			assert.Equal(t, int(w.phase)+1, *out.NextPhase)
			assert.True(t, out.Schedule)
		} else {
			assert.Equal(t, engine.ApprovalCompleted, out.Status)
			assert.False(t, out.Schedule)
		}
		env.Clock.Advance(1)
	}

	st, err := env.Engine.Status(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunCompleted, st.Status)
	assert.Equal(t, domain.FinalDecisionValidated, st.FinalDecision)
	assert.Equal(t, string(domain.ViabilityProfitable), st.ViabilitySignal)
	assert.Equal(t, string(domain.DesirabilityStrongCommitment), st.DesirabilitySignal)
	assert.Nil(t, st.HITLPending)
	assert.Len(t, st.Progress, 10)

	_, err = env.Engine.Step(env.Ctx, runID)
	assert.ErrorIs(t, err, engine.ErrRunNotRunnable)
}

func TestStatusShowsPendingCheckpoint(t *testing.T) {
	env := newTestEnv(t, fixtures())
	runID := env.kickoff(t)

	st, err := env.Engine.Status(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunPending, st.Status)
	assert.Empty(t, st.Progress)

	_, err = env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	st, err = env.Engine.Status(env.Ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, st.HITLPending)
	assert.Equal(t, "approve_founders_brief", st.HITLPending.Name)
	assert.Equal(t, "approve", st.HITLPending.RecommendedOption)
	assert.Equal(t, "onboarding", st.PhaseName)

	_, err = env.Engine.Status(env.Ctx, "missing")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestDesirabilityFallbackRoutesToSegmentPivot(t *testing.T) {
	fx := fixtures()
	fx["desirability"] = []any{"{not json"}
	env := newTestEnv(t, fx)
	runID := env.kickoff(t)
	env.stepTo(t, runID, domain.PhaseDesirability)

	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionSegmentPivotRequired, res.Decision)
	assert.Equal(t, "approve_segment_pivot", res.Checkpoint.Name)
	assert.True(t, res.Run.DesirabilityEvidence.Fallback)
	assert.Equal(t, domain.DesirabilityNoInterest, res.Run.DesirabilitySignal)
	assert.Contains(t, res.Run.PivotRecommendation, "segment_pivot")
	assert.Equal(t, res.Run.PivotRecommendation, res.Checkpoint.Context["pivot_recommendation"])

	st, err := env.Engine.Status(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, res.Run.PivotRecommendation, st.PivotRecommendation)

	out := env.approve(t, runID, "approve_segment_pivot", engine.DecisionApproved)
	assert.Equal(t, engine.ApprovalResumed, out.Status)
	assert.Equal(t, domain.PhaseDiscovery, out.Run.CurrentPhase)
	assert.NotNil(t, out.Run.FoundersBrief, "segment pivot keeps the brief")
	assert.Nil(t, out.Run.CustomerProfile)
	assert.Nil(t, out.Run.DesirabilityEvidence)
	require.Len(t, out.Run.PivotHistory, 1)
	assert.Equal(t, domain.PivotSegment, out.Run.PivotHistory[0].Type)
	assert.Equal(t, 1, out.Run.RetryCounts[domain.PhaseDiscovery])
}

func TestRepeatedPivotsEscalateToKill(t *testing.T) {
	fx := fixtures()
	fx["desirability"] = []any{map[string]any{"problem_resonance": 0.1, "zombie_ratio": 0.2}}
	env := newTestEnv(t, fx)
	runID := env.kickoff(t)

	var out engine.ApproveResult
	for i := 0; i < 3; i++ {
		env.stepTo(t, runID, domain.PhaseDesirability)
		res, err := env.Engine.Step(env.Ctx, runID)
		require.NoError(t, err)
		require.Equal(t, "approve_segment_pivot", res.Checkpoint.Name)
		out = env.approve(t, runID, "approve_segment_pivot", string(domain.PivotSegment))
	}
	assert.Equal(t, engine.ApprovalCompleted, out.Status)
	assert.Equal(t, domain.RunCompleted, out.Run.Status)
	assert.Equal(t, domain.FinalDecisionKill, out.Run.FinalDecision)
	assert.Contains(t, out.Run.DecisionRationale, "retry ceiling")
}

func TestGateBlockersRequireOverrideRole(t *testing.T) {
	fx := fixtures()
	fx["desirability"] = []any{map[string]any{"problem_resonance": 0.72, "zombie_ratio": 0.21, "conversion_rate": 0.15}}
	env := newTestEnv(t, fx)
	runID := env.kickoff(t)
	env.stepTo(t, runID, domain.PhaseDesirability)

	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionInsufficientEvidence, res.Decision)
	assert.Equal(t, "approve_additional_desirability_experiments", res.Checkpoint.Name)
	require.NotNil(t, res.Gate)
	assert.False(t, res.Gate.GateReady)
	assert.NotEmpty(t, res.Gate.Blockers)
	assert.Contains(t, res.Checkpoint.Context, "gate")

	_, err = env.Engine.Approve(env.Ctx, engine.ApproveRequest{
		RunID: runID, Checkpoint: res.Checkpoint.Name, Decision: "override_proceed", ActorID: "intern", Roles: []string{"viewer"},
	})
	var forbidden auth.ForbiddenOverrideError
	require.True(t, errors.As(err, &forbidden), "got %v", err)
	assert.Equal(t, string(domain.GateDesirability), forbidden.Gate)

	out := env.approve(t, runID, res.Checkpoint.Name, "override_proceed", "admin")
	assert.Equal(t, engine.ApprovalResumed, out.Status)
	assert.Equal(t, domain.PhaseFeasibility, out.Run.CurrentPhase)
}

func TestGateWithoutApprovalAdvancesAutomatically(t *testing.T) {
	env := newTestEnv(t, fixtures())
	p := env.Config.Gates[domain.GateDesirability]
	p.RequiresApproval = false
	env.Config.Gates[domain.GateDesirability] = p

	runID := env.kickoff(t)
	env.stepTo(t, runID, domain.PhaseDesirability)

	res, err := env.Engine.Drive(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFeasibility, res.Phase)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, "approve_feasibility_gate", res.Checkpoint.Name)

	cps, err := env.Engine.Repo.ListCheckpoints(env.Ctx, repo.CheckpointFilter{RunID: runID})
	require.NoError(t, err)
	for _, cp := range cps {
		assert.NotEqual(t, "approve_desirability_gate", cp.Name)
	}
}

func TestRejectionStopsRunUntilRestart(t *testing.T) {
	env := newTestEnv(t, fixtures())
	runID := env.kickoff(t)
	_, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)

	out := env.approve(t, runID, "approve_founders_brief", engine.DecisionRejected)
	assert.Equal(t, engine.ApprovalRejected, out.Status)
	assert.Nil(t, out.NextPhase)
	assert.False(t, out.Schedule)
	assert.Equal(t, domain.RunPaused, out.Run.Status)
	assert.Equal(t, "rejected_approve_founders_brief", out.Run.HITLState)

	_, err = env.Engine.Step(env.Ctx, runID)
	assert.ErrorIs(t, err, engine.ErrRunNotRunnable)
	_, err = env.Engine.Approve(env.Ctx, engine.ApproveRequest{RunID: runID, Checkpoint: "approve_founders_brief", Decision: engine.DecisionApproved})
	assert.ErrorIs(t, err, engine.ErrCheckpointMismatch, "a resolved checkpoint cannot be approved again")

	run, err := env.Engine.Restart(env.Ctx, runID, domain.PhaseOnboarding, "ops", "rewrite the brief")
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Empty(t, run.HITLState)

	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, "approve_founders_brief", res.Checkpoint.Name)
}

func TestCrewFailureMarksRunFailed(t *testing.T) {
	fx := fixtures()
	fx["feasibility"] = []any{map[string]any{"error": "estimator timed out"}, fx["feasibility"][0]}
	env := newTestEnv(t, fx)
	runID := env.kickoff(t)
	env.stepTo(t, runID, domain.PhaseFeasibility)

	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err, "crew failures are reported in the result")
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureCrew, res.Failure.Kind)
	assert.True(t, res.Failure.Recoverable)
	assert.False(t, res.Continue)

	st, err := env.Engine.Status(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunFailed, st.Status)
	assert.Contains(t, st.ErrorMessage, "estimator timed out")
	assert.Equal(t, domain.ProgressFailed, st.Progress[len(st.Progress)-1].Status)

	_, err = env.Engine.Step(env.Ctx, runID)
	assert.ErrorIs(t, err, engine.ErrRunNotRunnable, "failed runs are not retried automatically")

	_, err = env.Engine.Restart(env.Ctx, runID, domain.PhaseFeasibility, "ops", "")
	require.NoError(t, err)
	res, err = env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	assert.Nil(t, res.Failure)
	assert.Equal(t, domain.DecisionProceedToViability, res.Decision)
}

func TestContractViolationFails(t *testing.T) {
	fx := fixtures()
	fx["onboarding"] = []any{map[string]any{"idea": "no problem statement"}}
	env := newTestEnv(t, fx)
	runID := env.kickoff(t)

	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureContract, res.Failure.Kind)
	assert.False(t, res.Failure.Recoverable)
	assert.Equal(t, domain.RunFailed, res.Run.Status)
}

func TestMalformedFeasibilityOutputIsFatal(t *testing.T) {
	fx := fixtures()
	fx["feasibility"] = []any{map[string]any{"core_features_feasible": "maybe"}}
	env := newTestEnv(t, fx)
	runID := env.kickoff(t)
	env.stepTo(t, runID, domain.PhaseFeasibility)

	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, res.Failure)
	assert.Equal(t, domain.FailureContract, res.Failure.Kind)
	assert.Equal(t, domain.PhaseFeasibility, res.Failure.Phase)
	assert.False(t, res.Failure.Recoverable, "contract violations are not transient")
	assert.False(t, res.Continue)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, repo.EventFilter{RunID: runID, Type: events.PhaseFailed})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Contains(t, evts[0].Payload, `"recoverable":false`)
}

func TestPhaseCompletionCommitsWithCheckpoint(t *testing.T) {
	env := newTestEnv(t, fixtures())
	runID := env.kickoff(t)
	_, err := env.Engine.Checkpoints.DB.ExecContext(env.Ctx, `CREATE TRIGGER fail_hitl BEFORE INSERT ON hitl_requests
BEGIN SELECT RAISE(ABORT, 'hitl insert refused'); END`)
	require.NoError(t, err)

	_, err = env.Engine.Step(env.Ctx, runID)
	require.ErrorContains(t, err, "hitl insert refused")

	progress, err := env.Engine.Repo.ListProgress(env.Ctx, runID)
	require.NoError(t, err)
	for _, p := range progress {
		assert.NotEqual(t, domain.ProgressCompleted, p.Status, "completion rolled back with the checkpoint")
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{RunID: runID, Type: events.PhaseCompleted})
	require.NoError(t, err)
	assert.Empty(t, evts)
	run, err := env.Engine.Checkpoints.Resume(env.Ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRunning, run.Status, "still runnable")

	_, err = env.Engine.Checkpoints.DB.ExecContext(env.Ctx, `DROP TRIGGER fail_hitl`)
	require.NoError(t, err)
	res, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)
	require.NotNil(t, res.Checkpoint)
	assert.Equal(t, "approve_founders_brief", res.Checkpoint.Name)
	evts, err = env.Engine.Repo.LatestEvents(env.Ctx, 10, repo.EventFilter{RunID: runID, Type: events.PhaseCompleted})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestApproveValidation(t *testing.T) {
	env := newTestEnv(t, fixtures())
	runID := env.kickoff(t)
	_, err := env.Engine.Step(env.Ctx, runID)
	require.NoError(t, err)

	_, err = env.Engine.Approve(env.Ctx, engine.ApproveRequest{RunID: runID, Checkpoint: "approve_discovery_output", Decision: engine.DecisionApproved})
	assert.ErrorIs(t, err, engine.ErrCheckpointMismatch)

	_, err = env.Engine.Approve(env.Ctx, engine.ApproveRequest{RunID: runID, Checkpoint: "approve_founders_brief", Decision: "segment_pivot"})
	assert.ErrorIs(t, err, engine.ErrUnknownOption)

	_, err = env.Engine.Approve(env.Ctx, engine.ApproveRequest{RunID: "nope", Checkpoint: "approve_founders_brief", Decision: engine.DecisionApproved})
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)

	out := env.approve(t, runID, "approve_founders_brief", "revise_brief")
	assert.Equal(t, engine.ApprovalResumed, out.Status)
	assert.Equal(t, domain.PhaseOnboarding, out.Run.CurrentPhase)
	assert.Nil(t, out.Run.FoundersBrief)
}

func TestKickoffValidation(t *testing.T) {
	env := newTestEnv(t, fixtures())
	_, err := env.Engine.Kickoff(env.Ctx, engine.KickoffRequest{ProjectID: "p"}, "")
	assert.Error(t, err)
}

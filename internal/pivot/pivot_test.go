package pivot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venturegate/internal/domain"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func populatedRun() domain.ValidationRun {
	return domain.ValidationRun{
		RunID:                "run-1",
		CurrentPhase:         domain.PhaseDesirability,
		Status:               domain.RunPaused,
		HITLState:            "approve_segment_pivot",
		FoundersBrief:        &domain.FoundersBrief{Idea: "meal kits for climbers", ProblemStatement: "no fuel on the wall"},
		CustomerProfile:      &domain.CustomerProfile{Segment: "boulderers"},
		ValueMap:             &domain.ValueMap{ValueProposition: "light food"},
		FitAssessment:        &domain.FitAssessment{FitScore: 0.4, FitType: "problem_solution"},
		DesirabilityEvidence: &domain.DesirabilityEvidence{ProblemResonance: 0.1, ZombieRatio: 0.9},
		DesirabilitySignal:   domain.DesirabilityNoInterest,
	}
}

func TestSegmentPivotClearsDownstreamAndKeepsBrief(t *testing.T) {
	run := populatedRun()
	brief := *run.FoundersBrief

	out, err := Apply(&run, domain.PivotSegment, "wrong segment", 2, now)
	require.NoError(t, err)
	assert.False(t, out.Killed)

	assert.Nil(t, run.CustomerProfile)
	assert.Nil(t, run.ValueMap)
	assert.Nil(t, run.FitAssessment)
	assert.Nil(t, run.DesirabilityEvidence)
	assert.Empty(t, run.DesirabilitySignal)
	require.NotNil(t, run.FoundersBrief)
	assert.Equal(t, brief, *run.FoundersBrief)

	assert.Equal(t, domain.PhaseDiscovery, run.CurrentPhase)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Empty(t, run.HITLState)
	require.Len(t, run.PivotHistory, 1)
	assert.Equal(t, domain.PivotRecord{
		Type: domain.PivotSegment, Reason: "wrong segment",
		FromPhase: domain.PhaseDesirability, ToPhase: domain.PhaseDiscovery,
		Timestamp: "2026-01-02T03:04:05Z",
	}, run.PivotHistory[0])
	assert.Equal(t, 1, run.RetryCounts[domain.PhaseDiscovery])
}

func TestValuePivotKeepsCustomerProfile(t *testing.T) {
	run := populatedRun()
	_, err := Apply(&run, domain.PivotValue, "zombies", 2, now)
	require.NoError(t, err)
	assert.NotNil(t, run.CustomerProfile)
	assert.Nil(t, run.ValueMap)
	assert.Nil(t, run.FitAssessment)
	assert.Equal(t, domain.PhaseDiscovery, run.CurrentPhase)
}

func TestRetryCeilingEscalatesToKill(t *testing.T) {
	run := populatedRun()
	for i := 1; i <= 2; i++ {
		out, err := Apply(&run, domain.PivotSegment, "again", 2, now)
		require.NoError(t, err)
		require.False(t, out.Killed, "pivot %d", i)
		run.CurrentPhase = domain.PhaseDesirability
	}

	out, err := Apply(&run, domain.PivotSegment, "again", 2, now)
	require.NoError(t, err)
	assert.True(t, out.Escalated)
	assert.True(t, out.Killed)
	assert.Equal(t, domain.RunCompleted, run.Status)
	assert.Equal(t, domain.FinalDecisionKill, run.FinalDecision)
	assert.Contains(t, run.DecisionRationale, "retry ceiling of 2")
	assert.Equal(t, domain.PhaseDesirability, run.CurrentPhase, "escalation does not loop back")
	require.Len(t, run.PivotHistory, 3)
	assert.Equal(t, domain.PivotKill, run.PivotHistory[2].Type)
}

func TestRetryCountsArePerPhase(t *testing.T) {
	run := populatedRun()
	run.CurrentPhase = domain.PhaseViability
	_, err := Apply(&run, domain.PivotPrice, "", 1, now)
	require.NoError(t, err)
	run.CurrentPhase = domain.PhaseViability
	out, err := Apply(&run, domain.PivotCost, "", 1, now)
	require.NoError(t, err)
	assert.False(t, out.Killed)
	assert.Equal(t, map[domain.Phase]int{domain.PhaseDesirability: 1, domain.PhaseFeasibility: 1}, run.RetryCounts)
}

func TestRetryRepeatsCurrentPhase(t *testing.T) {
	run := populatedRun()
	out := Retry(&run, "more experiments", 2, now)
	assert.False(t, out.Killed)
	assert.Equal(t, domain.PhaseDesirability, run.CurrentPhase)
	assert.Nil(t, run.DesirabilityEvidence)
	assert.NotNil(t, run.FitAssessment)
	assert.Equal(t, 1, run.RetryCounts[domain.PhaseDesirability])
}

func TestApplyRejectsUnknownAndForwardPivots(t *testing.T) {
	run := populatedRun()
	_, err := Apply(&run, domain.PivotType("teleport"), "", 2, now)
	assert.Error(t, err)

	run.CurrentPhase = domain.PhaseDiscovery
	_, err = Apply(&run, domain.PivotCost, "", 2, now)
	assert.Error(t, err)
	assert.Empty(t, run.PivotHistory)
}

func TestKillPivotIsTerminal(t *testing.T) {
	run := populatedRun()
	out, err := Apply(&run, domain.PivotKill, "founder walked away", 2, now)
	require.NoError(t, err)
	assert.True(t, out.Killed)
	assert.False(t, out.Escalated)
	assert.True(t, run.Status.Terminal())
	assert.NotNil(t, run.DesirabilityEvidence, "kill keeps evidence for audit")
}

func TestRewind(t *testing.T) {
	run := populatedRun()
	run.Status = domain.RunFailed
	run.ErrorMessage = "crew timeout"
	require.NoError(t, Rewind(&run, domain.PhaseDiscovery, "operator restart", now))
	assert.Equal(t, domain.PhaseDiscovery, run.CurrentPhase)
	assert.Equal(t, domain.RunRunning, run.Status)
	assert.Empty(t, run.ErrorMessage)
	assert.Nil(t, run.CustomerProfile)
	assert.NotNil(t, run.FoundersBrief)
	assert.Empty(t, run.RetryCounts)

	assert.Error(t, Rewind(&run, domain.PhaseViability, "", now))
}

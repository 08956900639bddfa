package router

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venturegate/internal/config"
	"venturegate/internal/domain"
)

func TestDesirabilityResonanceTakesPriority(t *testing.T) {
	r := DefaultThresholds().Desirability(domain.DesirabilityEvidence{ProblemResonance: 0.1, ZombieRatio: 0.9})
	assert.Equal(t, domain.DecisionSegmentPivotRequired, r.Decision)
	assert.Equal(t, domain.DesirabilityNoInterest, r.Signal)
}

func TestDesirabilityRoutes(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		name      string
		resonance float64
		zombie    float64
		want      domain.Decision
	}{
		{"resonance just below", 0.29, 0.1, domain.DecisionSegmentPivotRequired},
		{"resonance at bound", 0.3, 0.1, domain.DecisionProceedToFeasibility},
		{"zombie at bound", 0.5, 0.7, domain.DecisionValuePivotRequired},
		{"zombie just below", 0.5, 0.69, domain.DecisionProceedToFeasibility},
		{"scenario", 0.72, 0.21, domain.DecisionProceedToFeasibility},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := th.Desirability(domain.DesirabilityEvidence{ProblemResonance: tc.resonance, ZombieRatio: tc.zombie, ConversionRate: 0.15})
			assert.Equal(t, tc.want, got.Decision)
		})
	}
}

func TestDesirabilityFallbackPivots(t *testing.T) {
	r := DefaultThresholds().Desirability(domain.FallbackDesirabilityEvidence())
	assert.Equal(t, domain.DecisionSegmentPivotRequired, r.Decision)
}

func TestFeasibilityRoutes(t *testing.T) {
	th := DefaultThresholds()
	red := th.Feasibility(domain.FeasibilityEvidence{CoreFeaturesFeasible: false, DowngradeRequired: true})
	assert.Equal(t, domain.FeasibilityRedImpossible, red.Signal)
	assert.Equal(t, domain.DecisionDowngradeAndRetest, red.Decision)

	orange := th.Feasibility(domain.FeasibilityEvidence{CoreFeaturesFeasible: true, DowngradeRequired: true})
	assert.Equal(t, domain.FeasibilityOrangeConstrained, orange.Signal)
	assert.Equal(t, domain.DecisionTestDegradedDesirability, orange.Decision)

	green := th.Feasibility(domain.FeasibilityEvidence{CoreFeaturesFeasible: true})
	assert.Equal(t, domain.FeasibilityGreen, green.Signal)
	assert.Equal(t, domain.DecisionProceedToViability, green.Decision)

	assert.True(t, strings.HasPrefix(red.PivotRecommendation, string(domain.PivotFeature)))
	assert.True(t, strings.HasPrefix(orange.PivotRecommendation, string(domain.PivotFeature)))
	assert.Empty(t, green.PivotRecommendation)
}

func TestDesirabilityPivotsCarryRecommendation(t *testing.T) {
	th := DefaultThresholds()
	segment := th.Desirability(domain.DesirabilityEvidence{ProblemResonance: 0.1, ZombieRatio: 0.1})
	assert.True(t, strings.HasPrefix(segment.PivotRecommendation, string(domain.PivotSegment)))
	value := th.Desirability(domain.DesirabilityEvidence{ProblemResonance: 0.5, ZombieRatio: 0.8})
	assert.True(t, strings.HasPrefix(value.PivotRecommendation, string(domain.PivotValue)))
	proceed := th.Desirability(domain.DesirabilityEvidence{ProblemResonance: 0.5, ZombieRatio: 0.2})
	assert.Empty(t, proceed.PivotRecommendation)
}

func TestViabilityRoutes(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		ratio, tam float64
		signal     domain.ViabilitySignal
		decision   domain.Decision
	}{
		{4.0, 50_000_000, domain.ViabilityProfitable, domain.DecisionValidationComplete},
		{3.0, 10, domain.ViabilityProfitable, domain.DecisionValidationComplete},
		{2.0, 500_000, domain.ViabilityZombieMarket, domain.DecisionStrategicPivotRequired},
		{1.0, 999_999, domain.ViabilityZombieMarket, domain.DecisionStrategicPivotRequired},
		{2.0, 50_000_000, domain.ViabilityMarginal, domain.DecisionStrategicPivotRequired},
		{0.99, 50_000_000, domain.ViabilityUnderwater, domain.DecisionStrategicPivotRequired},
		{0.5, 10, domain.ViabilityUnderwater, domain.DecisionStrategicPivotRequired},
	}
	for _, tc := range cases {
		got := th.Viability(domain.ViabilityEvidence{LTVCACRatio: tc.ratio, TAM: tc.tam})
		assert.Equal(t, tc.signal, got.Signal, "ratio=%v tam=%v", tc.ratio, tc.tam)
		assert.Equal(t, tc.decision, got.Decision)
		if tc.decision == domain.DecisionStrategicPivotRequired {
			assert.NotEmpty(t, got.PivotRecommendation)
		}
	}
}

func TestThresholdsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Routing.Viability.ProfitableLTVCAC = 5
	th := ThresholdsFromConfig(cfg.Routing)
	assert.Equal(t, domain.ViabilityMarginal, th.Viability(domain.ViabilityEvidence{LTVCACRatio: 4, TAM: 50_000_000}).Signal)
	assert.Equal(t, 0.3, th.MinProblemResonance)
}

func TestEveryDecisionHasExactlyOneRecommendedOption(t *testing.T) {
	names := map[string]domain.Decision{}
	for _, d := range Decisions {
		plan, err := PlanFor(domain.PhaseDesirability, d)
		require.NoError(t, err, d)
		require.NotEmpty(t, plan.Checkpoint)
		if prev, dup := names[plan.Checkpoint]; dup {
			t.Fatalf("checkpoint %s shared by %s and %s", plan.Checkpoint, prev, d)
		}
		names[plan.Checkpoint] = d
		matches := 0
		ids := map[string]bool{}
		for _, o := range plan.Options {
			assert.False(t, ids[o.ID], "duplicate option %s in %s", o.ID, d)
			ids[o.ID] = true
			if o.ID == plan.Recommended {
				matches++
			}
			if o.Action == ActionPivot {
				assert.NotEmpty(t, o.Pivot)
			}
		}
		assert.Equal(t, 1, matches, "decision %s", d)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	a, err := PlanFor(domain.PhaseViability, domain.DecisionStrategicPivotRequired)
	require.NoError(t, err)
	b, err := PlanFor(domain.PhaseViability, domain.DecisionStrategicPivotRequired)
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Equal(t, "price_pivot", a.Recommended)
}

func TestInsufficientEvidenceIsPhaseQualified(t *testing.T) {
	p2, err := PlanFor(domain.PhaseDesirability, domain.DecisionInsufficientEvidence)
	require.NoError(t, err)
	p4, err := PlanFor(domain.PhaseViability, domain.DecisionInsufficientEvidence)
	require.NoError(t, err)
	assert.NotEqual(t, p2.Checkpoint, p4.Checkpoint)
	_, err = PlanFor(domain.PhaseOnboarding, domain.DecisionInsufficientEvidence)
	assert.Error(t, err)
	_, err = PlanFor(domain.PhaseOnboarding, domain.Decision("bogus"))
	assert.Error(t, err)
}

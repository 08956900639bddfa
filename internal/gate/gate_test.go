package gate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venturegate/internal/domain"
)

func desirabilityPolicy() domain.GatePolicy {
	return domain.GatePolicy{
		Gate:              domain.GateDesirability,
		MinExperiments:    3,
		MinWeakEvidence:   1,
		MinMediumEvidence: 1,
		MinStrongEvidence: 1,
		RequiredFitTypes:  []string{"problem_solution"},
		Thresholds: map[string]float64{
			"problem_resonance": 0.3,
			"zombie_ratio_max":  0.7,
			"conversion_rate":   0.05,
		},
	}
}

func readySummary() EvidenceSummary {
	return EvidenceSummary{
		ExperimentsRun: 3,
		WeakEvidence:   1,
		MediumEvidence: 1,
		StrongEvidence: 1,
		FitTypes:       []string{"problem_solution"},
		Metrics: map[string]float64{
			"problem_resonance": 0.72,
			"zombie_ratio":      0.21,
			"conversion_rate":   0.15,
		},
	}
}

func TestEvaluateReady(t *testing.T) {
	res := Evaluate(desirabilityPolicy(), readySummary(), "strong_commitment")
	assert.True(t, res.GateReady)
	assert.Empty(t, res.Blockers)
	assert.Equal(t, 1.0, res.ReadinessScore)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	s := readySummary()
	s.ExperimentsRun = 1
	s.Metrics["zombie_ratio"] = 0.95
	s.Metrics["conversion_rate"] = 0
	first := Evaluate(desirabilityPolicy(), s, "no_interest")
	for i := 0; i < 20; i++ {
		again := Evaluate(desirabilityPolicy(), s, "no_interest")
		require.Equal(t, first, again)
	}
	assert.False(t, first.GateReady)
}

func TestEvaluateCollectsEveryBlocker(t *testing.T) {
	res := Evaluate(desirabilityPolicy(), EvidenceSummary{}, "weak_interest")
	assert.False(t, res.GateReady)
	// experiments, three tiers, fit types, two lower bounds, signal; the upper bound passes on absent data.
	assert.Len(t, res.Blockers, 8)
	assert.Contains(t, res.Blockers, "experiments_run 0 < min_experiments 3")
	assert.Contains(t, res.Blockers, "missing fit types: problem_solution")
	assert.Contains(t, res.Blockers, "signal weak_interest not accepted by DESIRABILITY gate")
}

func TestThresholdBoundaries(t *testing.T) {
	policy := domain.GatePolicy{
		Gate:       domain.GateViability,
		Thresholds: map[string]float64{"ltv_cac_ratio": 3, "cac_max": 100},
	}
	at := EvidenceSummary{Metrics: map[string]float64{"ltv_cac_ratio": 3, "cac": 100}}
	assert.True(t, Evaluate(policy, at, "").GateReady, "values equal to bounds pass")

	below := EvidenceSummary{Metrics: map[string]float64{"ltv_cac_ratio": 2, "cac": 100}}
	res := Evaluate(policy, below, "")
	assert.False(t, res.GateReady)
	assert.Equal(t, []string{"ltv_cac_ratio 2 < min 3"}, res.Blockers)

	above := EvidenceSummary{Metrics: map[string]float64{"ltv_cac_ratio": 3, "cac": 101}}
	res = Evaluate(policy, above, "")
	assert.False(t, res.GateReady)
	assert.Equal(t, []string{"cac 101 > max 100"}, res.Blockers)
}

func TestUpperBoundPassesOnMissingMetric(t *testing.T) {
	policy := domain.GatePolicy{Gate: domain.GateFeasibility, Thresholds: map[string]float64{"build_cost_max": 10}}
	assert.True(t, Evaluate(policy, EvidenceSummary{}, "").GateReady)
}

func TestSignalWhitelist(t *testing.T) {
	policy := domain.GatePolicy{Gate: domain.GateViability}
	for _, ok := range []string{"profitable", "green", "proceed"} {
		assert.True(t, Evaluate(policy, EvidenceSummary{}, ok).GateReady, ok)
	}
	for _, bad := range []string{"marginal", "underwater", "zombie_market"} {
		assert.False(t, Evaluate(policy, EvidenceSummary{}, bad).GateReady, bad)
	}
}

func TestReadinessNeverExceedsOne(t *testing.T) {
	s := readySummary()
	s.ExperimentsRun = 50
	s.StrongEvidence = 40
	s.Metrics["problem_resonance"] = 1
	assert.Equal(t, 1.0, Readiness(desirabilityPolicy(), s, ""))
}

func TestReadinessPartial(t *testing.T) {
	policy := domain.GatePolicy{Gate: domain.GateDesirability, MinExperiments: 4, Thresholds: map[string]float64{"problem_resonance": 0.5}}
	s := EvidenceSummary{ExperimentsRun: 2, Metrics: map[string]float64{"problem_resonance": 0.25}}
	assert.InDelta(t, 0.5, Readiness(policy, s, ""), 1e-9)
	assert.Equal(t, 1.0, Readiness(domain.GatePolicy{}, EvidenceSummary{}, ""))
}

func TestSummarize(t *testing.T) {
	run := domain.ValidationRun{
		FitAssessment: &domain.FitAssessment{FitScore: 0.8, FitType: "problem_solution"},
		DesirabilityEvidence: &domain.DesirabilityEvidence{
			ProblemResonance: 0.72, ZombieRatio: 0.21, ConversionRate: 0.15,
			Experiments: []domain.Experiment{
				{Name: "interviews", Strength: domain.StrengthWeak},
				{Name: "landing page", Strength: domain.StrengthMedium, Metric: "conversion_rate", Value: 0.5},
				{Name: "preorders", Strength: domain.StrengthStrong, Metric: "preorders", Value: 12},
			},
		},
		DesirabilitySignal: domain.DesirabilityStrongCommitment,
	}
	s := Summarize(run, domain.GateDesirability)
	assert.Equal(t, 3, s.ExperimentsRun)
	assert.Equal(t, 1, s.StrongEvidence)
	assert.Equal(t, 0.15, s.Metrics["conversion_rate"], "core field wins over experiment metric")
	assert.Equal(t, 12.0, s.Metrics["preorders"])
	assert.Equal(t, []string{"problem_solution"}, s.FitTypes)
	assert.Equal(t, "strong_commitment", SignalFor(run, domain.GateDesirability))
}

type stubStore struct {
	policy domain.GatePolicy
	err    error
}

func (s stubStore) GetGatePolicy(context.Context, string, domain.Gate) (domain.GatePolicy, error) {
	return s.policy, s.err
}

func TestPoliciesFailOpen(t *testing.T) {
	def := domain.GatePolicy{MinExperiments: 7, RequiresApproval: true}
	p := Policies{
		Store:    stubStore{err: errors.New("disk on fire")},
		Defaults: func(domain.Gate) domain.GatePolicy { return def },
	}
	got := p.For(context.Background(), "user-1", domain.GateFeasibility)
	assert.Equal(t, 7, got.MinExperiments)
	assert.Equal(t, domain.GateFeasibility, got.Gate)

	p.Store = stubStore{policy: domain.GatePolicy{MinExperiments: 1}}
	assert.Equal(t, 1, p.For(context.Background(), "user-1", domain.GateFeasibility).MinExperiments)
	assert.Equal(t, 7, p.For(context.Background(), "", domain.GateFeasibility).MinExperiments)
}

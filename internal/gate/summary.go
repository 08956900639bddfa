package gate

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"venturegate/internal/domain"
)

// Summarize flattens the run evidence relevant to a gate.
func Summarize(run domain.ValidationRun, g domain.Gate) EvidenceSummary {
	s := EvidenceSummary{Metrics: map[string]float64{}}
	switch g {
	case domain.GateDesirability:
		if run.FitAssessment != nil {
			s.FitTypes = append(s.FitTypes, run.FitAssessment.FitType)
			s.Metrics["fit_score"] = run.FitAssessment.FitScore
		}
		if ev := run.DesirabilityEvidence; ev != nil {
			countExperiments(&s, ev.Experiments)
			s.Metrics["problem_resonance"] = ev.ProblemResonance
			s.Metrics["zombie_ratio"] = ev.ZombieRatio
			s.Metrics["conversion_rate"] = ev.ConversionRate
		}
	case domain.GateFeasibility:
		if ev := run.FeasibilityEvidence; ev != nil {
			countExperiments(&s, ev.Experiments)
			s.Metrics["build_cost"] = ev.BuildCost
			s.Metrics["core_features_feasible"] = boolMetric(ev.CoreFeaturesFeasible)
			s.Metrics["downgrade_required"] = boolMetric(ev.DowngradeRequired)
			s.Metrics["constraint_count"] = float64(len(ev.Constraints))
		}
	case domain.GateViability:
		if ev := run.ViabilityEvidence; ev != nil {
			countExperiments(&s, ev.Experiments)
			s.Metrics["ltv_cac_ratio"] = ev.LTVCACRatio
			s.Metrics["tam"] = ev.TAM
			s.Metrics["cac"] = ev.CAC
			s.Metrics["ltv"] = ev.LTV
		}
	}
	return s
}

// SignalFor returns the run's derived signal for the phase a gate guards.
func SignalFor(run domain.ValidationRun, g domain.Gate) string {
	switch g {
	case domain.GateDesirability:
		return string(run.DesirabilitySignal)
	case domain.GateFeasibility:
		return string(run.FeasibilitySignal)
	case domain.GateViability:
		return string(run.ViabilitySignal)
	}
	return ""
}

func countExperiments(s *EvidenceSummary, exps []domain.Experiment) {
	for _, e := range exps {
		s.ExperimentsRun++
		switch e.Strength {
		case domain.StrengthWeak:
			s.WeakEvidence++
		case domain.StrengthMedium:
			s.MediumEvidence++
		case domain.StrengthStrong:
			s.StrongEvidence++
		}
		// Core evidence fields are written after this and take precedence.
		if e.Metric != "" {
			if _, exists := s.Metrics[e.Metric]; !exists {
				s.Metrics[e.Metric] = e.Value
			}
		}
	}
}

func boolMetric(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// PolicyStore reads user-specific gate policies.
type PolicyStore interface {
	GetGatePolicy(ctx context.Context, userID string, gate domain.Gate) (domain.GatePolicy, error)
}

// Policies resolves the policy that applies to a user, falling back to system defaults.
type Policies struct {
	Store    PolicyStore
	Defaults func(domain.Gate) domain.GatePolicy
	Logger   *zap.Logger
	// NotFound identifies the store's missing-row error so it is not logged as a failure.
	NotFound error
}

// For never fails: lookup errors log and return the default policy.
func (p Policies) For(ctx context.Context, userID string, g domain.Gate) domain.GatePolicy {
	def := p.defaultFor(g)
	if p.Store == nil || userID == "" {
		return def
	}
	policy, err := p.Store.GetGatePolicy(ctx, userID, g)
	if err != nil {
		if p.NotFound == nil || !errors.Is(err, p.NotFound) {
			p.logger().Warn("gate policy lookup failed; using default",
				zap.String("user_id", userID), zap.String("gate", string(g)), zap.Error(err))
		}
		return def
	}
	policy.Gate = g
	return policy
}

func (p Policies) defaultFor(g domain.Gate) domain.GatePolicy {
	if p.Defaults != nil {
		d := p.Defaults(g)
		d.Gate = g
		return d
	}
	return domain.GatePolicy{Gate: g, RequiresApproval: true}
}

func (p Policies) logger() *zap.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return zap.NewNop()
}

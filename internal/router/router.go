// Package router encodes the phase routing rules: evidence in, signal and decision out.
package router

import (
	"fmt"

	"venturegate/internal/config"
	"venturegate/internal/domain"
)

type Thresholds struct {
	MinProblemResonance float64
	MaxZombieRatio      float64
	ProfitableLTVCAC    float64
	BreakevenLTVCAC     float64
	MinTAM              float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinProblemResonance: 0.3,
		MaxZombieRatio:      0.7,
		ProfitableLTVCAC:    3.0,
		BreakevenLTVCAC:     1.0,
		MinTAM:              1_000_000,
	}
}

func ThresholdsFromConfig(c config.RoutingConfig) Thresholds {
	return Thresholds{
		MinProblemResonance: c.Desirability.MinProblemResonance,
		MaxZombieRatio:      c.Desirability.MaxZombieRatio,
		ProfitableLTVCAC:    c.Viability.ProfitableLTVCAC,
		BreakevenLTVCAC:     c.Viability.BreakevenLTVCAC,
		MinTAM:              c.Viability.MinTAM,
	}
}

type DesirabilityRoute struct {
	Signal              domain.DesirabilitySignal
	Decision            domain.Decision
	PivotRecommendation string
	Rationale           string
}

// Desirability checks resonance before zombie ratio: a segment with no interest is a segment problem.
func (t Thresholds) Desirability(ev domain.DesirabilityEvidence) DesirabilityRoute {
	switch {
	case ev.ProblemResonance < t.MinProblemResonance:
		return DesirabilityRoute{
			Signal:              domain.DesirabilityNoInterest,
			Decision:            domain.DecisionSegmentPivotRequired,
			PivotRecommendation: "segment_pivot: the problem does not resonate; interview a different customer segment",
			Rationale: fmt.Sprintf("problem resonance %.2f below %.2f: the customer segment does not feel the problem", ev.ProblemResonance, t.MinProblemResonance),
		}
	case ev.ZombieRatio >= t.MaxZombieRatio:
		return DesirabilityRoute{
			Signal:              domain.DesirabilityWeakInterest,
			Decision:            domain.DecisionValuePivotRequired,
			PivotRecommendation: "value_pivot: interest does not turn into commitment; rework the value proposition and re-test",
			Rationale: fmt.Sprintf("zombie ratio %.2f at or above %.2f: interest without commitment points at the value proposition", ev.ZombieRatio, t.MaxZombieRatio),
		}
	default:
		return DesirabilityRoute{
			Signal:    domain.DesirabilityStrongCommitment,
			Decision:  domain.DecisionProceedToFeasibility,
			Rationale: fmt.Sprintf("resonance %.2f and zombie ratio %.2f show committed demand", ev.ProblemResonance, ev.ZombieRatio),
		}
	}
}

type FeasibilityRoute struct {
	Signal              domain.FeasibilitySignal
	Decision            domain.Decision
	PivotRecommendation string
	Rationale           string
}

func (t Thresholds) Feasibility(ev domain.FeasibilityEvidence) FeasibilityRoute {
	switch {
	case !ev.CoreFeaturesFeasible:
		return FeasibilityRoute{
			Signal:              domain.FeasibilityRedImpossible,
			Decision:            domain.DecisionDowngradeAndRetest,
			PivotRecommendation: "feature_pivot: replace the infeasible core features and re-test desirability on what can be built",
			Rationale: "core features cannot be built; desirability must be re-tested on a downgraded offering",
		}
	case ev.DowngradeRequired:
		return FeasibilityRoute{
			Signal:              domain.FeasibilityOrangeConstrained,
			Decision:            domain.DecisionTestDegradedDesirability,
			PivotRecommendation: "feature_pivot: re-test demand for the constrained offering before committing to build",
			Rationale: "buildable only with a downgrade; demand for the degraded offering is unproven",
		}
	default:
		return FeasibilityRoute{
			Signal:    domain.FeasibilityGreen,
			Decision:  domain.DecisionProceedToViability,
			Rationale: "core features are feasible as designed",
		}
	}
}

type ViabilityRoute struct {
	Signal              domain.ViabilitySignal
	Decision            domain.Decision
	PivotRecommendation string
	Rationale           string
}

// Viability classifies unit economics four ways. Profitable wins regardless of market size.
func (t Thresholds) Viability(ev domain.ViabilityEvidence) ViabilityRoute {
	switch {
	case ev.LTVCACRatio >= t.ProfitableLTVCAC:
		return ViabilityRoute{
			Signal:    domain.ViabilityProfitable,
			Decision:  domain.DecisionValidationComplete,
			Rationale: fmt.Sprintf("LTV/CAC %.2f meets %.2f", ev.LTVCACRatio, t.ProfitableLTVCAC),
		}
	case ev.LTVCACRatio >= t.BreakevenLTVCAC && ev.TAM < t.MinTAM:
		return ViabilityRoute{
			Signal:              domain.ViabilityZombieMarket,
			Decision:            domain.DecisionStrategicPivotRequired,
			PivotRecommendation: "segment_pivot: unit economics hold but the market is too small; look for a larger segment or raise price",
			Rationale:           fmt.Sprintf("LTV/CAC %.2f is positive but TAM %.0f is under %.0f", ev.LTVCACRatio, ev.TAM, t.MinTAM),
		}
	case ev.LTVCACRatio >= t.BreakevenLTVCAC:
		return ViabilityRoute{
			Signal:              domain.ViabilityMarginal,
			Decision:            domain.DecisionStrategicPivotRequired,
			PivotRecommendation: "price_pivot: margins are thin; test a higher price point before scaling",
			Rationale:           fmt.Sprintf("LTV/CAC %.2f is between %.2f and %.2f", ev.LTVCACRatio, t.BreakevenLTVCAC, t.ProfitableLTVCAC),
		}
	default:
		return ViabilityRoute{
			Signal:              domain.ViabilityUnderwater,
			Decision:            domain.DecisionStrategicPivotRequired,
			PivotRecommendation: "cost_pivot: each customer loses money; cut acquisition or delivery cost, raise price, or stop",
			Rationale:           fmt.Sprintf("LTV/CAC %.2f below %.2f", ev.LTVCACRatio, t.BreakevenLTVCAC),
		}
	}
}

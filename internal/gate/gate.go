// Package gate decides whether phase evidence clears a gate policy.
package gate

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"venturegate/internal/domain"
)

// EvidenceSummary is the flattened view of a run's evidence that policies are checked against.
type EvidenceSummary struct {
	ExperimentsRun int                `json:"experiments_run"`
	WeakEvidence   int                `json:"weak_evidence"`
	MediumEvidence int                `json:"medium_evidence"`
	StrongEvidence int                `json:"strong_evidence"`
	FitTypes       []string           `json:"fit_types,omitempty"`
	Metrics        map[string]float64 `json:"metrics,omitempty"`
}

type Result struct {
	Gate           domain.Gate `json:"gate"`
	GateReady      bool        `json:"gate_ready"`
	Blockers       []string    `json:"blockers"`
	ReadinessScore float64     `json:"readiness_score"`
}

const maxSuffix = "_max"

var acceptableSignals = map[domain.Gate][]string{
	domain.GateDesirability: {string(domain.DesirabilityStrongCommitment), "proceed"},
	domain.GateFeasibility:  {string(domain.FeasibilityGreen), "proceed"},
	domain.GateViability:    {string(domain.ViabilityProfitable), string(domain.FeasibilityGreen), "proceed"},
}

// AcceptsSignal reports whether signal is on the gate's whitelist.
func AcceptsSignal(g domain.Gate, signal string) bool {
	for _, s := range acceptableSignals[g] {
		if s == signal {
			return true
		}
	}
	return false
}

// Evaluate runs every check and collects all blockers. An empty signal skips the signal check.
func Evaluate(policy domain.GatePolicy, s EvidenceSummary, signal string) Result {
	blockers := []string{}
	if s.ExperimentsRun < policy.MinExperiments {
		blockers = append(blockers, fmt.Sprintf("experiments_run %d < min_experiments %d", s.ExperimentsRun, policy.MinExperiments))
	}
	for _, tier := range tiers(policy, s) {
		if tier.have < tier.want {
			blockers = append(blockers, fmt.Sprintf("%s evidence %d < required %d", tier.name, tier.have, tier.want))
		}
	}
	if missing := missingFitTypes(policy.RequiredFitTypes, s.FitTypes); len(missing) > 0 {
		blockers = append(blockers, "missing fit types: "+strings.Join(missing, ", "))
	}
	for _, key := range sortedKeys(policy.Thresholds) {
		bound := policy.Thresholds[key]
		if metric, ok := strings.CutSuffix(key, maxSuffix); ok {
			if v := s.Metrics[metric]; v > bound {
				blockers = append(blockers, fmt.Sprintf("%s %g > max %g", metric, v, bound))
			}
			continue
		}
		if v := s.Metrics[key]; v < bound {
			blockers = append(blockers, fmt.Sprintf("%s %g < min %g", key, v, bound))
		}
	}
	if signal != "" && !AcceptsSignal(policy.Gate, signal) {
		blockers = append(blockers, fmt.Sprintf("signal %s not accepted by %s gate", signal, policy.Gate))
	}
	return Result{
		Gate:           policy.Gate,
		GateReady:      len(blockers) == 0,
		Blockers:       blockers,
		ReadinessScore: Readiness(policy, s, signal),
	}
}

// Readiness is the mean of per-criterion progress ratios, each clamped to [0,1].
// Criteria the policy does not require are left out; no criteria means fully ready.
func Readiness(policy domain.GatePolicy, s EvidenceSummary, signal string) float64 {
	var ratios []float64
	if policy.MinExperiments > 0 {
		ratios = append(ratios, ratio(float64(s.ExperimentsRun), float64(policy.MinExperiments)))
	}
	for _, tier := range tiers(policy, s) {
		if tier.want > 0 {
			ratios = append(ratios, ratio(float64(tier.have), float64(tier.want)))
		}
	}
	if n := len(policy.RequiredFitTypes); n > 0 {
		missing := missingFitTypes(policy.RequiredFitTypes, s.FitTypes)
		ratios = append(ratios, float64(n-len(missing))/float64(n))
	}
	for _, key := range sortedKeys(policy.Thresholds) {
		bound := policy.Thresholds[key]
		if metric, ok := strings.CutSuffix(key, maxSuffix); ok {
			v := s.Metrics[metric]
			switch {
			case v <= bound:
				ratios = append(ratios, 1)
			case v > 0:
				ratios = append(ratios, clamp(bound/v))
			default:
				ratios = append(ratios, 0)
			}
			continue
		}
		v := s.Metrics[key]
		if bound <= 0 {
			if v >= bound {
				ratios = append(ratios, 1)
			} else {
				ratios = append(ratios, 0)
			}
			continue
		}
		ratios = append(ratios, ratio(v, bound))
	}
	if signal != "" {
		if AcceptsSignal(policy.Gate, signal) {
			ratios = append(ratios, 1)
		} else {
			ratios = append(ratios, 0)
		}
	}
	if len(ratios) == 0 {
		return 1
	}
	var sum float64
	for _, r := range ratios {
		sum += r
	}
	return clamp(sum / float64(len(ratios)))
}

type tierCount struct {
	name       string
	have, want int
}

func tiers(policy domain.GatePolicy, s EvidenceSummary) []tierCount {
	return []tierCount{
		{"weak", s.WeakEvidence, policy.MinWeakEvidence},
		{"medium", s.MediumEvidence, policy.MinMediumEvidence},
		{"strong", s.StrongEvidence, policy.MinStrongEvidence},
	}
}

func missingFitTypes(required, have []string) []string {
	present := make(map[string]bool, len(have))
	for _, f := range have {
		present[f] = true
	}
	var missing []string
	for _, f := range required {
		if !present[f] {
			missing = append(missing, f)
		}
	}
	return missing
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func ratio(have, want float64) float64 {
	if want <= 0 {
		return 1
	}
	return clamp(have / want)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

package domain

import "fmt"

// Phase is one of the five sequential validation stages.
type Phase int

const (
	PhaseOnboarding Phase = iota
	PhaseDiscovery
	PhaseDesirability
	PhaseFeasibility
	PhaseViability
)

// FinalPhase is the last phase of a validation run.
const FinalPhase = PhaseViability

var phaseNames = [...]string{"onboarding", "discovery", "desirability", "feasibility", "viability"}

func (p Phase) Valid() bool { return p >= PhaseOnboarding && p <= FinalPhase }

// Name returns the lowercase phase name, or "unknown" when out of range.
func (p Phase) Name() string {
	if !p.Valid() {
		return "unknown"
	}
	return phaseNames[p]
}

func (p Phase) String() string { return fmt.Sprintf("%d:%s", int(p), p.Name()) }

// ParsePhase accepts a phase name.
func ParsePhase(s string) (Phase, error) {
	for i, n := range phaseNames {
		if n == s {
			return Phase(i), nil
		}
	}
	return 0, fmt.Errorf("invalid phase %q", s)
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

func (s RunStatus) Terminal() bool { return s == RunCompleted }

type DesirabilitySignal string

const (
	DesirabilityNoSignal         DesirabilitySignal = "no_signal"
	DesirabilityNoInterest       DesirabilitySignal = "no_interest"
	DesirabilityWeakInterest     DesirabilitySignal = "weak_interest"
	DesirabilityStrongCommitment DesirabilitySignal = "strong_commitment"
)

type FeasibilitySignal string

const (
	FeasibilityUnknown           FeasibilitySignal = "unknown"
	FeasibilityGreen             FeasibilitySignal = "green"
	FeasibilityOrangeConstrained FeasibilitySignal = "orange_constrained"
	FeasibilityRedImpossible     FeasibilitySignal = "red_impossible"
)

type ViabilitySignal string

const (
	ViabilityUnknown      ViabilitySignal = "unknown"
	ViabilityProfitable   ViabilitySignal = "profitable"
	ViabilityMarginal     ViabilitySignal = "marginal"
	ViabilityZombieMarket ViabilitySignal = "zombie_market"
	ViabilityUnderwater   ViabilitySignal = "underwater"
)

// ParseDesirabilitySignal normalizes an external signal string once at the boundary.
func ParseDesirabilitySignal(s string) (DesirabilitySignal, error) {
	switch v := DesirabilitySignal(s); v {
	case DesirabilityNoSignal, DesirabilityNoInterest, DesirabilityWeakInterest, DesirabilityStrongCommitment:
		return v, nil
	}
	return "", fmt.Errorf("invalid desirability signal %q", s)
}

func ParseFeasibilitySignal(s string) (FeasibilitySignal, error) {
	switch v := FeasibilitySignal(s); v {
	case FeasibilityUnknown, FeasibilityGreen, FeasibilityOrangeConstrained, FeasibilityRedImpossible:
		return v, nil
	}
	return "", fmt.Errorf("invalid feasibility signal %q", s)
}

func ParseViabilitySignal(s string) (ViabilitySignal, error) {
	switch v := ViabilitySignal(s); v {
	case ViabilityUnknown, ViabilityProfitable, ViabilityMarginal, ViabilityZombieMarket, ViabilityUnderwater:
		return v, nil
	}
	return "", fmt.Errorf("invalid viability signal %q", s)
}

// Decision is the named outcome of a phase router.
type Decision string

const (
	DecisionBriefReady               Decision = "brief_ready"
	DecisionDiscoveryComplete        Decision = "discovery_complete"
	DecisionProceedToFeasibility     Decision = "proceed_to_feasibility"
	DecisionSegmentPivotRequired     Decision = "segment_pivot_required"
	DecisionValuePivotRequired       Decision = "value_pivot_required"
	DecisionDowngradeAndRetest       Decision = "downgrade_and_retest"
	DecisionTestDegradedDesirability Decision = "test_degraded_desirability"
	DecisionProceedToViability       Decision = "proceed_to_viability"
	DecisionValidationComplete       Decision = "validation_complete"
	DecisionStrategicPivotRequired   Decision = "strategic_pivot_required"
	DecisionInsufficientEvidence     Decision = "insufficient_evidence"
)

type PivotType string

const (
	PivotSegment PivotType = "segment_pivot"
	PivotValue   PivotType = "value_pivot"
	PivotFeature PivotType = "feature_pivot"
	PivotPrice   PivotType = "price_pivot"
	PivotCost    PivotType = "cost_pivot"
	PivotKill    PivotType = "kill"
)

// Gate names a per-phase quality bar.
type Gate string

const (
	GateDesirability Gate = "DESIRABILITY"
	GateFeasibility  Gate = "FEASIBILITY"
	GateViability    Gate = "VIABILITY"
)

// Gates lists gates in phase order.
var Gates = []Gate{GateDesirability, GateFeasibility, GateViability}

func ParseGate(s string) (Gate, error) {
	switch g := Gate(s); g {
	case GateDesirability, GateFeasibility, GateViability:
		return g, nil
	}
	return "", fmt.Errorf("invalid gate %q", s)
}

// GateForPhase returns the gate guarding the exit of a phase, if any.
func GateForPhase(p Phase) (Gate, bool) {
	switch p {
	case PhaseDesirability:
		return GateDesirability, true
	case PhaseFeasibility:
		return GateFeasibility, true
	case PhaseViability:
		return GateViability, true
	}
	return "", false
}

const (
	FinalDecisionValidated = "validated"
	FinalDecisionKill      = "kill"
)

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	RunID      string `json:"run_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

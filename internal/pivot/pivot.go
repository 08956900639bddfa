// Package pivot applies pivots, retries and rewinds to a ValidationRun.
package pivot

import (
	"fmt"
	"time"

	"venturegate/internal/domain"
)

// Slot is an evidence field of the run, in production order.
type Slot int

const (
	SlotFoundersBrief Slot = iota
	SlotCustomerProfile
	SlotValueMap
	SlotFitAssessment
	SlotDesirability
	SlotFeasibility
	SlotViability
)

// Target is where a pivot sends the run and the first slot it discards.
type Target struct {
	Phase     domain.Phase
	ClearFrom Slot
}

var targets = map[domain.PivotType]Target{
	domain.PivotSegment: {Phase: domain.PhaseDiscovery, ClearFrom: SlotCustomerProfile},
	domain.PivotValue:   {Phase: domain.PhaseDiscovery, ClearFrom: SlotValueMap},
	domain.PivotFeature: {Phase: domain.PhaseDesirability, ClearFrom: SlotDesirability},
	domain.PivotPrice:   {Phase: domain.PhaseDesirability, ClearFrom: SlotDesirability},
	domain.PivotCost:    {Phase: domain.PhaseFeasibility, ClearFrom: SlotFeasibility},
}

func TargetFor(p domain.PivotType) (Target, bool) {
	t, ok := targets[p]
	return t, ok
}

// FirstSlot returns the first slot a phase produces.
func FirstSlot(p domain.Phase) Slot {
	switch p {
	case domain.PhaseOnboarding:
		return SlotFoundersBrief
	case domain.PhaseDiscovery:
		return SlotCustomerProfile
	case domain.PhaseDesirability:
		return SlotDesirability
	case domain.PhaseFeasibility:
		return SlotFeasibility
	default:
		return SlotViability
	}
}

// Clear drops every evidence slot from s onward together with the signals derived from them.
func Clear(run *domain.ValidationRun, s Slot) {
	if s <= SlotFoundersBrief {
		run.FoundersBrief = nil
	}
	if s <= SlotCustomerProfile {
		run.CustomerProfile = nil
	}
	if s <= SlotValueMap {
		run.ValueMap = nil
	}
	if s <= SlotFitAssessment {
		run.FitAssessment = nil
	}
	if s <= SlotDesirability {
		run.DesirabilityEvidence = nil
		run.DesirabilitySignal = ""
	}
	if s <= SlotFeasibility {
		run.FeasibilityEvidence = nil
		run.FeasibilitySignal = ""
	}
	if s <= SlotViability {
		run.ViabilityEvidence = nil
		run.ViabilitySignal = ""
	}
}

// Outcome reports what Apply or Retry did.
type Outcome struct {
	Record    domain.PivotRecord
	Escalated bool
	Killed    bool
}

// Apply executes a pivot in place. When the retry counter of the target phase passes ceiling the run
// is killed instead of looping back again.
func Apply(run *domain.ValidationRun, kind domain.PivotType, reason string, ceiling int, now time.Time) (Outcome, error) {
	if kind == domain.PivotKill {
		return Kill(run, reason, now), nil
	}
	target, ok := TargetFor(kind)
	if !ok {
		return Outcome{}, fmt.Errorf("unknown pivot type %q", kind)
	}
	if target.Phase > run.CurrentPhase {
		return Outcome{}, fmt.Errorf("%s cannot move run forward from %s to %s", kind, run.CurrentPhase.Name(), target.Phase.Name())
	}
	return loop(run, kind, target, reason, ceiling, now), nil
}

// Retry repeats the current phase, counted against the same ceiling as pivots.
func Retry(run *domain.ValidationRun, reason string, ceiling int, now time.Time) Outcome {
	target := Target{Phase: run.CurrentPhase, ClearFrom: FirstSlot(run.CurrentPhase)}
	return loop(run, "retry", target, reason, ceiling, now)
}

func loop(run *domain.ValidationRun, kind domain.PivotType, target Target, reason string, ceiling int, now time.Time) Outcome {
	if run.RetryCounts == nil {
		run.RetryCounts = map[domain.Phase]int{}
	}
	run.RetryCounts[target.Phase]++
	if n := run.RetryCounts[target.Phase]; n > ceiling {
		why := fmt.Sprintf("%s to %s would be attempt %d, over the retry ceiling of %d", kind, target.Phase.Name(), n, ceiling)
		if reason != "" {
			why += ": " + reason
		}
		out := Kill(run, why, now)
		out.Escalated = true
		return out
	}

	rec := domain.PivotRecord{
		Type:      kind,
		Reason:    reason,
		FromPhase: run.CurrentPhase,
		ToPhase:   target.Phase,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	run.PivotHistory = append(run.PivotHistory, rec)
	Clear(run, target.ClearFrom)
	run.CurrentPhase = target.Phase
	run.Status = domain.RunRunning
	run.HITLState = ""
	run.LastDecision = ""
	run.ErrorMessage = ""
	return Outcome{Record: rec}
}

// Kill ends the run with a kill decision. Evidence is retained for audit.
func Kill(run *domain.ValidationRun, reason string, now time.Time) Outcome {
	rec := domain.PivotRecord{
		Type:      domain.PivotKill,
		Reason:    reason,
		FromPhase: run.CurrentPhase,
		ToPhase:   run.CurrentPhase,
		Timestamp: now.UTC().Format(time.RFC3339),
	}
	run.PivotHistory = append(run.PivotHistory, rec)
	run.Status = domain.RunCompleted
	run.FinalDecision = domain.FinalDecisionKill
	run.DecisionRationale = reason
	run.HITLState = ""
	return Outcome{Record: rec, Killed: true}
}

// Rewind moves the run back to phase for an operator restart. It does not count against the ceiling.
func Rewind(run *domain.ValidationRun, phase domain.Phase, reason string, now time.Time) error {
	if !phase.Valid() {
		return fmt.Errorf("invalid phase %d", int(phase))
	}
	if phase > run.CurrentPhase {
		return fmt.Errorf("cannot restart forward from %s to %s", run.CurrentPhase.Name(), phase.Name())
	}
	run.PivotHistory = append(run.PivotHistory, domain.PivotRecord{
		Type:      "restart",
		Reason:    reason,
		FromPhase: run.CurrentPhase,
		ToPhase:   phase,
		Timestamp: now.UTC().Format(time.RFC3339),
	})
	Clear(run, FirstSlot(phase))
	run.CurrentPhase = phase
	run.Status = domain.RunRunning
	run.HITLState = ""
	run.LastDecision = ""
	run.ErrorMessage = ""
	run.FinalDecision = ""
	return nil
}

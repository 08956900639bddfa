package router

import (
	"fmt"

	"venturegate/internal/domain"
)

// Action is what approving an option does to the run.
type Action string

const (
	ActionProceed         Action = "proceed"
	ActionRetry           Action = "retry"
	ActionPivot           Action = "pivot"
	ActionComplete        Action = "complete"
	ActionKill            Action = "kill"
	ActionOverrideProceed Action = "override_proceed"
)

type Option struct {
	domain.CheckpointOption
	Action Action           `json:"action"`
	Pivot  domain.PivotType `json:"pivot,omitempty"`
}

// Plan is the checkpoint a decision opens, with its ordered options.
type Plan struct {
	Checkpoint  string
	Title       string
	Description string
	Options     []Option
	Recommended string
}

func (p Plan) Option(id string) (Option, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

func (p Plan) CheckpointOptions() []domain.CheckpointOption {
	out := make([]domain.CheckpointOption, len(p.Options))
	for i, o := range p.Options {
		out[i] = o.CheckpointOption
	}
	return out
}

func opt(id, label, desc string, action Action) Option {
	return Option{CheckpointOption: domain.CheckpointOption{ID: id, Label: label, Description: desc}, Action: action}
}

func pivotOpt(p domain.PivotType, label, desc string) Option {
	o := opt(string(p), label, desc, ActionPivot)
	o.Pivot = p
	return o
}

var (
	optKill     = opt("kill", "Stop the idea", "End validation with a kill decision", ActionKill)
	optOverride = opt("override_proceed", "Proceed anyway", "Advance despite the recommendation; requires an override role", ActionOverrideProceed)
	optSegment  = pivotOpt(domain.PivotSegment, "Segment pivot", "Pick a different customer segment and redo discovery")
	optValue    = pivotOpt(domain.PivotValue, "Value pivot", "Rework the value proposition for the same segment")
	optFeature  = pivotOpt(domain.PivotFeature, "Feature downgrade", "Downgrade the offering and re-test desirability")
	optPrice    = pivotOpt(domain.PivotPrice, "Price pivot", "Change pricing and re-test demand")
	optCost     = pivotOpt(domain.PivotCost, "Cost pivot", "Reduce build or delivery cost and re-check feasibility")
)

// PlanFor derives the checkpoint and options for a decision taken at a phase.
func PlanFor(phase domain.Phase, d domain.Decision) (Plan, error) {
	switch d {
	case domain.DecisionBriefReady:
		return Plan{
			Checkpoint: "approve_founders_brief", Title: "Review founder's brief",
			Description: "Confirm the idea, problem statement and assumptions before discovery.",
			Options: []Option{
				opt("approve", "Approve brief", "Start customer discovery", ActionProceed),
				opt("revise_brief", "Revise brief", "Re-run onboarding with feedback", ActionRetry),
			},
			Recommended: "approve",
		}, nil
	case domain.DecisionDiscoveryComplete:
		return Plan{
			Checkpoint: "approve_discovery_output", Title: "Review customer profile and value map",
			Description: "Confirm the target segment, value map and fit before testing demand.",
			Options: []Option{
				opt("approve", "Approve discovery", "Start desirability experiments", ActionProceed),
				opt("retry_discovery", "Redo discovery", "Re-run discovery with feedback", ActionRetry),
				optKill,
			},
			Recommended: "approve",
		}, nil
	case domain.DecisionProceedToFeasibility:
		return Plan{
			Checkpoint: "approve_desirability_gate", Title: "Desirability gate passed",
			Description: "Demand evidence clears the desirability gate.",
			Options: []Option{
				opt("proceed", "Proceed to feasibility", "Assess whether the offering can be built", ActionProceed),
				optValue, optSegment, optKill,
			},
			Recommended: "proceed",
		}, nil
	case domain.DecisionSegmentPivotRequired:
		return Plan{
			Checkpoint: "approve_segment_pivot", Title: "Segment pivot recommended",
			Description: "The segment shows too little problem resonance.",
			Options:     []Option{optSegment, optOverride, optKill},
			Recommended: string(domain.PivotSegment),
		}, nil
	case domain.DecisionValuePivotRequired:
		return Plan{
			Checkpoint: "approve_value_pivot", Title: "Value pivot recommended",
			Description: "Interest does not convert into commitment.",
			Options:     []Option{optValue, optSegment, optOverride, optKill},
			Recommended: string(domain.PivotValue),
		}, nil
	case domain.DecisionDowngradeAndRetest:
		return Plan{
			Checkpoint: "approve_feature_downgrade", Title: "Core features not feasible",
			Description: "The offering must be downgraded and desirability re-tested.",
			Options:     []Option{optFeature, optKill},
			Recommended: string(domain.PivotFeature),
		}, nil
	case domain.DecisionTestDegradedDesirability:
		return Plan{
			Checkpoint: "approve_degraded_retest", Title: "Feasible only with constraints",
			Description: "Re-test demand for the constrained offering.",
			Options:     []Option{optFeature, optOverride, optKill},
			Recommended: string(domain.PivotFeature),
		}, nil
	case domain.DecisionProceedToViability:
		return Plan{
			Checkpoint: "approve_feasibility_gate", Title: "Feasibility gate passed",
			Description: "The offering can be built as designed.",
			Options: []Option{
				opt("proceed", "Proceed to viability", "Test unit economics", ActionProceed),
				optCost, optKill,
			},
			Recommended: "proceed",
		}, nil
	case domain.DecisionValidationComplete:
		return Plan{
			Checkpoint: "approve_final_validation", Title: "Validation complete",
			Description: "Unit economics are profitable.",
			Options: []Option{
				opt("complete", "Accept validation", "Close the run as validated", ActionComplete),
				optPrice,
			},
			Recommended: "complete",
		}, nil
	case domain.DecisionStrategicPivotRequired:
		return Plan{
			Checkpoint: "approve_strategic_pivot", Title: "Strategic pivot required",
			Description: "Unit economics or market size do not support the business.",
			Options:     []Option{optPrice, optCost, optSegment, optKill},
			Recommended: string(domain.PivotPrice),
		}, nil
	case domain.DecisionInsufficientEvidence:
		if _, ok := domain.GateForPhase(phase); !ok {
			return Plan{}, fmt.Errorf("decision %s has no gate at phase %s", d, phase)
		}
		return Plan{
			Checkpoint: fmt.Sprintf("approve_additional_%s_experiments", phase.Name()), Title: "Gate not cleared",
			Description: fmt.Sprintf("Evidence does not yet clear the %s gate.", phase.Name()),
			Options: []Option{
				opt("run_more_experiments", "Run more experiments", "Repeat the phase to gather more evidence", ActionRetry),
				optOverride, optKill,
			},
			Recommended: "run_more_experiments",
		}, nil
	}
	return Plan{}, fmt.Errorf("no checkpoint for decision %q", d)
}

// Decisions lists every decision that opens a checkpoint.
var Decisions = []domain.Decision{
	domain.DecisionBriefReady,
	domain.DecisionDiscoveryComplete,
	domain.DecisionProceedToFeasibility,
	domain.DecisionSegmentPivotRequired,
	domain.DecisionValuePivotRequired,
	domain.DecisionDowngradeAndRetest,
	domain.DecisionTestDegradedDesirability,
	domain.DecisionProceedToViability,
	domain.DecisionValidationComplete,
	domain.DecisionStrategicPivotRequired,
	domain.DecisionInsufficientEvidence,
}

// IsProceed reports whether a decision lets the run advance without a pivot.
func IsProceed(d domain.Decision) bool {
	switch d {
	case domain.DecisionBriefReady, domain.DecisionDiscoveryComplete, domain.DecisionProceedToFeasibility,
		domain.DecisionProceedToViability, domain.DecisionValidationComplete:
		return true
	}
	return false
}

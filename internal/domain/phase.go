package domain

import "fmt"

type FailureKind string

const (
	// FailureCrew covers crew errors, timeouts and transport failures.
	FailureCrew FailureKind = "crew_failure"
	// FailureContract covers crew output that does not match the phase schema.
	FailureContract FailureKind = "contract_violation"
)

// PhaseFailure is the error arm of a phase result.
type PhaseFailure struct {
	Kind        FailureKind `json:"error_kind"`
	Phase       Phase       `json:"phase"`
	Message     string      `json:"message"`
	Recoverable bool        `json:"recoverable"`
}

func (f *PhaseFailure) Error() string {
	return fmt.Sprintf("phase %s %s: %s", f.Phase.Name(), f.Kind, f.Message)
}

// PhaseOutput is the success arm. Exactly the field for the executed phase is set.
type PhaseOutput struct {
	FoundersBrief *FoundersBrief        `json:"founders_brief,omitempty"`
	Discovery     *DiscoveryOutput      `json:"discovery,omitempty"`
	Desirability  *DesirabilityEvidence `json:"desirability,omitempty"`
	Feasibility   *FeasibilityEvidence  `json:"feasibility,omitempty"`
	Viability     *ViabilityEvidence    `json:"viability,omitempty"`
}

// PhaseResult is either an Output or a Failure.
type PhaseResult struct {
	Output  *PhaseOutput
	Failure *PhaseFailure
}

func (r PhaseResult) OK() bool { return r.Failure == nil && r.Output != nil }

// Apply copies the output into the run's evidence slot for phase.
func (o PhaseOutput) Apply(run *ValidationRun) {
	if o.FoundersBrief != nil {
		run.FoundersBrief = o.FoundersBrief
	}
	if d := o.Discovery; d != nil {
		cp, vm, fa := d.CustomerProfile, d.ValueMap, d.FitAssessment
		run.CustomerProfile, run.ValueMap, run.FitAssessment = &cp, &vm, &fa
	}
	if o.Desirability != nil {
		run.DesirabilityEvidence = o.Desirability
	}
	if o.Feasibility != nil {
		run.FeasibilityEvidence = o.Feasibility
	}
	if o.Viability != nil {
		run.ViabilityEvidence = o.Viability
	}
}

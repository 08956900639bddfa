// Package crew talks to the external agent crews that produce phase evidence.
package crew

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"venturegate/internal/domain"
)

// Inputs is what a crew sees for one phase execution.
type Inputs struct {
	RunID             string                  `json:"run_id"`
	ProjectID         string                  `json:"project_id"`
	UserID            string                  `json:"user_id"`
	Phase             string                  `json:"phase"`
	EntrepreneurInput string                  `json:"entrepreneur_input"`
	Feedback          string                  `json:"feedback,omitempty"`
	PivotHistory      []domain.PivotRecord    `json:"pivot_history,omitempty"`
	FoundersBrief     *domain.FoundersBrief   `json:"founders_brief,omitempty"`
	CustomerProfile   *domain.CustomerProfile `json:"customer_profile,omitempty"`
	ValueMap          *domain.ValueMap        `json:"value_map,omitempty"`
}

func InputsFor(run domain.ValidationRun, feedback string) Inputs {
	return Inputs{
		RunID:             run.RunID,
		ProjectID:         run.ProjectID,
		UserID:            run.UserID,
		Phase:             run.CurrentPhase.Name(),
		EntrepreneurInput: run.EntrepreneurInput,
		Feedback:          feedback,
		PivotHistory:      run.PivotHistory,
		FoundersBrief:     run.FoundersBrief,
		CustomerProfile:   run.CustomerProfile,
		ValueMap:          run.ValueMap,
	}
}

// Crew runs one phase to completion and returns its structured output as JSON.
type Crew interface {
	Run(ctx context.Context, phase domain.Phase, in Inputs) (json.RawMessage, error)
}

// Decode parses and validates crew output for a phase. Desirability output that fails either step is
// replaced by the conservative fallback evidence; every other phase returns the error.
func Decode(phase domain.Phase, raw json.RawMessage) (domain.PhaseOutput, error) {
	switch phase {
	case domain.PhaseOnboarding:
		var v domain.FoundersBrief
		if err := decodeStrict(raw, &v); err != nil {
			return domain.PhaseOutput{}, err
		}
		return domain.PhaseOutput{FoundersBrief: &v}, nil
	case domain.PhaseDiscovery:
		var v domain.DiscoveryOutput
		if err := decodeStrict(raw, &v); err != nil {
			return domain.PhaseOutput{}, err
		}
		return domain.PhaseOutput{Discovery: &v}, nil
	case domain.PhaseDesirability:
		var v domain.DesirabilityEvidence
		if err := decodeStrict(raw, &v); err != nil {
			fb := domain.FallbackDesirabilityEvidence()
			return domain.PhaseOutput{Desirability: &fb}, nil
		}
		v.Fallback = false
		return domain.PhaseOutput{Desirability: &v}, nil
	case domain.PhaseFeasibility:
		var v domain.FeasibilityEvidence
		if err := decodeStrict(raw, &v); err != nil {
			return domain.PhaseOutput{}, err
		}
		return domain.PhaseOutput{Feasibility: &v}, nil
	case domain.PhaseViability:
		var v domain.ViabilityEvidence
		if err := decodeStrict(raw, &v); err != nil {
			return domain.PhaseOutput{}, err
		}
		return domain.PhaseOutput{Viability: &v}, nil
	}
	return domain.PhaseOutput{}, fmt.Errorf("no crew contract for phase %d", int(phase))
}

func decodeStrict(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("empty crew output")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode crew output: %w", err)
	}
	return domain.Validate(v)
}

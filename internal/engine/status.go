package engine

import (
	"context"

	"venturegate/internal/domain"
)

// StatusView is the read model behind GET /status. It never runs phase logic.
type StatusView struct {
	RunID               string                 `json:"run_id"`
	ProjectID           string                 `json:"project_id"`
	UserID              string                 `json:"user_id"`
	Status              domain.RunStatus       `json:"status"`
	CurrentPhase        int                    `json:"current_phase"`
	PhaseName           string                 `json:"phase_name"`
	HITLState           string                 `json:"hitl_state,omitempty"`
	Progress            []domain.ProgressEntry `json:"progress"`
	HITLPending         *domain.HITLCheckpoint `json:"hitl_pending,omitempty"`
	DesirabilitySignal  string                 `json:"desirability_signal,omitempty"`
	FeasibilitySignal   string                 `json:"feasibility_signal,omitempty"`
	ViabilitySignal     string                 `json:"viability_signal,omitempty"`
	PivotRecommendation string                 `json:"pivot_recommendation,omitempty"`
	FinalDecision       string                 `json:"final_decision,omitempty"`
	DecisionRationale   string                 `json:"decision_rationale,omitempty"`
	PivotHistory        []domain.PivotRecord   `json:"pivot_history,omitempty"`
	RetryCounts         map[string]int         `json:"retry_counts,omitempty"`
	ErrorMessage        string                 `json:"error_message,omitempty"`
	StartedAt           string                 `json:"started_at"`
	UpdatedAt           string                 `json:"updated_at"`
}

func (e Engine) Status(ctx context.Context, runID string) (StatusView, error) {
	run, err := e.Checkpoints.Resume(ctx, runID)
	if err != nil {
		return StatusView{}, err
	}
	progress, err := e.Repo.ListProgress(ctx, runID)
	if err != nil {
		return StatusView{}, err
	}
	if progress == nil {
		progress = []domain.ProgressEntry{}
	}
	pending, err := e.Checkpoints.Pending(ctx, runID)
	if err != nil {
		return StatusView{}, err
	}
	v := StatusView{
		RunID:               run.RunID,
		ProjectID:           run.ProjectID,
		UserID:              run.UserID,
		Status:              run.Status,
		CurrentPhase:        int(run.CurrentPhase),
		PhaseName:           run.CurrentPhase.Name(),
		HITLState:           run.HITLState,
		Progress:            progress,
		HITLPending:         pending,
		DesirabilitySignal:  string(run.DesirabilitySignal),
		FeasibilitySignal:   string(run.FeasibilitySignal),
		ViabilitySignal:     string(run.ViabilitySignal),
		PivotRecommendation: run.PivotRecommendation,
		FinalDecision:       run.FinalDecision,
		DecisionRationale:   run.DecisionRationale,
		PivotHistory:        run.PivotHistory,
		ErrorMessage:        run.ErrorMessage,
		StartedAt:           run.StartedAt,
		UpdatedAt:           run.UpdatedAt,
	}
	if len(run.RetryCounts) > 0 {
		v.RetryCounts = make(map[string]int, len(run.RetryCounts))
		for p, n := range run.RetryCounts {
			v.RetryCounts[p.Name()] = n
		}
	}
	return v, nil
}

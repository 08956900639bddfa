package server

import (
	"venturegate/internal/adplatform"
	"venturegate/internal/budget"
	"venturegate/internal/domain"
)

// Request payloads

type RestartRequest struct {
	Phase  string `json:"phase" enum:"onboarding,discovery,desirability,feasibility,viability"`
	Reason string `json:"reason,omitempty"`
}

type SweepRequest struct {
	// TTL overrides checkpoints.ttl, e.g. "24h".
	TTL string `json:"ttl,omitempty"`
}

type GatePolicyRequest struct {
	MinExperiments    int                `json:"min_experiments,omitempty" minimum:"0"`
	RequiredFitTypes  []string           `json:"required_fit_types,omitempty"`
	MinWeakEvidence   int                `json:"min_weak_evidence,omitempty" minimum:"0"`
	MinMediumEvidence int                `json:"min_medium_evidence,omitempty" minimum:"0"`
	MinStrongEvidence int                `json:"min_strong_evidence,omitempty" minimum:"0"`
	Thresholds        map[string]float64 `json:"thresholds,omitempty"`
	OverrideRoles     []string           `json:"override_roles,omitempty"`
	RequiresApproval  *bool              `json:"requires_approval,omitempty"`
}

type BudgetCheckRequest struct {
	UserID        string  `json:"user_id,omitempty"`
	CampaignID    string  `json:"campaign_id,omitempty"`
	CurrentSpend  float64 `json:"current_spend"`
	ProposedSpend float64 `json:"proposed_spend"`
	Limit         float64 `json:"limit"`
	Mode          string  `json:"mode,omitempty"`
}

type BudgetOverrideRequest struct {
	UserID     string `json:"user_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
	// ActorID defaults to the authenticated caller.
	ActorID   string `json:"actor_id,omitempty"`
	ActorType string `json:"actor_type"`
	Reason    string `json:"reason"`
	Mode      string `json:"mode,omitempty"`
}

type FundPoolRequest struct {
	Amount            float64 `json:"amount" minimum:"0"`
	Rollover          float64 `json:"rollover,omitempty" minimum:"0"`
	RolloverExpiresAt string  `json:"rollover_expires_at,omitempty" format:"date-time"`
}

type AllocateCampaignRequest struct {
	UserID      string  `json:"user_id"`
	RunID       string  `json:"run_id,omitempty"`
	Platform    string  `json:"platform"`
	Budget      float64 `json:"budget"`
	DailyBudget float64 `json:"daily_budget,omitempty"`
}

type LaunchCampaignRequest struct {
	Name string `json:"name,omitempty"`
}

type RecordSpendRequest struct {
	UserID     string  `json:"user_id"`
	CampaignID string  `json:"campaign_id"`
	Amount     float64 `json:"amount" minimum:"0"`
}

type SelectPolicyRequest struct {
	ExperimentType string `json:"experiment_type"`
}

type RecordOutcomeRequest struct {
	ExperimentType string         `json:"experiment_type"`
	Policy         string         `json:"policy"`
	ExperimentID   string         `json:"experiment_id"`
	PrimaryMetric  string         `json:"primary_metric"`
	PrimaryValue   float64        `json:"primary_value"`
	Reward         *float64       `json:"reward,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Response payloads

type KickoffResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status" example:"started"`
}

type RunSummary struct {
	RunID         string `json:"run_id"`
	ProjectID     string `json:"project_id"`
	UserID        string `json:"user_id"`
	Status        string `json:"status"`
	CurrentPhase  int    `json:"current_phase"`
	PhaseName     string `json:"phase_name"`
	HITLState     string `json:"hitl_state,omitempty"`
	FinalDecision string `json:"final_decision,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
	StartedAt     string `json:"started_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type SweepResponse struct {
	TTL     string                  `json:"ttl"`
	Expired []domain.HITLCheckpoint `json:"expired"`
}

type CheckResponse struct {
	Allowed bool    `json:"allowed"`
	Status  string  `json:"status" enum:"ok,warning,kill_switch,critical"`
	Mode    string  `json:"mode"`
	Percent float64 `json:"utilization_pct"`
	Message string  `json:"message"`
}

type SyncResponse struct {
	Campaign domain.Campaign `json:"campaign"`
	Delta    float64         `json:"delta"`
	Check    *CheckResponse  `json:"check,omitempty"`
	Paused   bool            `json:"paused"`
}

type WeightsResponse struct {
	ExperimentType string                `json:"experiment_type"`
	Weights        []domain.PolicyWeight `json:"weights"`
}

func mapRun(run domain.ValidationRun) RunSummary {
	return RunSummary{
		RunID:         run.RunID,
		ProjectID:     run.ProjectID,
		UserID:        run.UserID,
		Status:        string(run.Status),
		CurrentPhase:  int(run.CurrentPhase),
		PhaseName:     run.CurrentPhase.Name(),
		HITLState:     run.HITLState,
		FinalDecision: run.FinalDecision,
		ErrorMessage:  run.ErrorMessage,
		StartedAt:     run.StartedAt,
		UpdatedAt:     run.UpdatedAt,
	}
}

func mapRuns(items []domain.ValidationRun) []RunSummary {
	out := make([]RunSummary, 0, len(items))
	for _, r := range items {
		out = append(out, mapRun(r))
	}
	return out
}

func mapCheck(c budget.Check) CheckResponse {
	return CheckResponse{
		Allowed: c.Allowed,
		Status:  string(c.Tier),
		Mode:    string(c.Mode),
		Percent: c.Percent,
		Message: c.Message,
	}
}

func mapSync(res adplatform.SyncResult) SyncResponse {
	out := SyncResponse{Campaign: res.Campaign, Delta: res.Delta, Paused: res.Paused}
	if res.Check != nil {
		c := mapCheck(*res.Check)
		out.Check = &c
	}
	return out
}

func (r GatePolicyRequest) toDomain(userID string, gate domain.Gate) domain.GatePolicy {
	p := domain.GatePolicy{
		UserID:            userID,
		Gate:              gate,
		MinExperiments:    r.MinExperiments,
		RequiredFitTypes:  r.RequiredFitTypes,
		MinWeakEvidence:   r.MinWeakEvidence,
		MinMediumEvidence: r.MinMediumEvidence,
		MinStrongEvidence: r.MinStrongEvidence,
		Thresholds:        r.Thresholds,
		OverrideRoles:     r.OverrideRoles,
		RequiresApproval:  true,
	}
	if r.RequiresApproval != nil {
		p.RequiresApproval = *r.RequiresApproval
	}
	return p
}

package domain

// GatePolicy holds per-user thresholds for one gate. A zero UserID marks the system default.
type GatePolicy struct {
	UserID            string             `json:"user_id,omitempty" yaml:"-"`
	Gate              Gate               `json:"gate" yaml:"gate" validate:"oneof=DESIRABILITY FEASIBILITY VIABILITY"`
	MinExperiments    int                `json:"min_experiments" yaml:"min_experiments" validate:"gte=0"`
	RequiredFitTypes  []string           `json:"required_fit_types,omitempty" yaml:"required_fit_types"`
	MinWeakEvidence   int                `json:"min_weak_evidence" yaml:"min_weak_evidence" validate:"gte=0"`
	MinMediumEvidence int                `json:"min_medium_evidence" yaml:"min_medium_evidence" validate:"gte=0"`
	MinStrongEvidence int                `json:"min_strong_evidence" yaml:"min_strong_evidence" validate:"gte=0"`
	Thresholds        map[string]float64 `json:"thresholds,omitempty" yaml:"thresholds"`
	OverrideRoles     []string           `json:"override_roles,omitempty" yaml:"override_roles"`
	RequiresApproval  bool               `json:"requires_approval" yaml:"requires_approval"`
	UpdatedAt         string             `json:"updated_at,omitempty" yaml:"-"`
}

type BudgetPool struct {
	UserID         string  `json:"user_id"`
	TotalAllocated float64 `json:"total_allocated"`
	TotalSpent     float64 `json:"total_spent"`
	// Reserved is the unspent budget still committed to active and paused campaigns.
	Reserved float64 `json:"reserved"`
	// AvailableBalance is allocated minus spent minus reserved, derived on every read.
	AvailableBalance  float64 `json:"available_balance"`
	RolloverAmount    float64 `json:"rollover_amount"`
	RolloverExpiresAt string  `json:"rollover_expires_at,omitempty" format:"date-time"`
	UpdatedAt         string  `json:"updated_at" format:"date-time"`
}

type Campaign struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	RunID       string  `json:"run_id,omitempty"`
	Platform    string  `json:"platform"`
	ExternalID  string  `json:"external_id,omitempty"`
	Status      string  `json:"status" enum:"active,paused,ended"`
	Budget      float64 `json:"budget"`
	DailyBudget float64 `json:"daily_budget"`
	Spent       float64 `json:"spent"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type BudgetDecision struct {
	ID            int64   `json:"id"`
	UserID        string  `json:"user_id,omitempty"`
	CampaignID    string  `json:"campaign_id,omitempty"`
	CurrentSpend  float64 `json:"current_spend"`
	ProposedSpend float64 `json:"proposed_spend"`
	Limit         float64 `json:"limit"`
	Utilization   float64 `json:"utilization_pct"`
	Tier          string  `json:"tier"`
	Mode          string  `json:"mode"`
	Allowed       bool    `json:"allowed"`
	Message       string  `json:"message"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type BudgetOverride struct {
	ID         int64  `json:"id"`
	UserID     string `json:"user_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
	ActorID    string `json:"actor_id"`
	ActorType  string `json:"actor_type"`
	Mode       string `json:"mode"`
	Reason     string `json:"reason"`
	CreatedAt  string `json:"created_at" format:"date-time"`
}

type ExperimentOutcome struct {
	ID             string         `json:"id"`
	ExperimentType string         `json:"experiment_type" validate:"required"`
	Policy         string         `json:"policy" validate:"required"`
	ExperimentID   string         `json:"experiment_id" validate:"required"`
	PrimaryMetric  string         `json:"primary_metric" validate:"required"`
	PrimaryValue   float64        `json:"primary_value"`
	Reward         float64        `json:"reward"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      string         `json:"created_at" format:"date-time"`
}

type PolicySelection struct {
	ID             int64  `json:"id"`
	ExperimentType string `json:"experiment_type"`
	Policy         string `json:"policy"`
	Reason         string `json:"reason"`
	CreatedAt      string `json:"created_at" format:"date-time"`
}

// PolicyWeight is a projection of the outcome log for one policy.
type PolicyWeight struct {
	Policy      string  `json:"policy"`
	SampleCount int     `json:"sample_count"`
	MeanReward  float64 `json:"mean_reward"`
	UCBScore    float64 `json:"ucb_score"`
}

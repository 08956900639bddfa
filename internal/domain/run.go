package domain

// ValidationRun is the aggregate root for one founder's validation journey.
// It serializes to JSON and carries everything needed to resume.
type ValidationRun struct {
	RunID             string `json:"run_id"`
	ProjectID         string `json:"project_id"`
	UserID            string `json:"user_id"`
	SessionID         string `json:"session_id,omitempty"`
	EntrepreneurInput string `json:"entrepreneur_input"`

	CurrentPhase Phase     `json:"current_phase"`
	Status       RunStatus `json:"status" enum:"pending,running,paused,completed,failed"`
	HITLState    string    `json:"hitl_state,omitempty"`

	FoundersBrief        *FoundersBrief        `json:"founders_brief,omitempty"`
	CustomerProfile      *CustomerProfile      `json:"customer_profile,omitempty"`
	ValueMap             *ValueMap             `json:"value_map,omitempty"`
	FitAssessment        *FitAssessment        `json:"fit_assessment,omitempty"`
	DesirabilityEvidence *DesirabilityEvidence `json:"desirability_evidence,omitempty"`
	FeasibilityEvidence  *FeasibilityEvidence  `json:"feasibility_evidence,omitempty"`
	ViabilityEvidence    *ViabilityEvidence    `json:"viability_evidence,omitempty"`

	DesirabilitySignal DesirabilitySignal `json:"desirability_signal,omitempty"`
	FeasibilitySignal  FeasibilitySignal  `json:"feasibility_signal,omitempty"`
	ViabilitySignal    ViabilitySignal    `json:"viability_signal,omitempty"`

	// LastDecision is the router decision behind the pending checkpoint.
	LastDecision        Decision `json:"last_decision,omitempty"`
	PivotRecommendation string   `json:"pivot_recommendation,omitempty"`
	FinalDecision       string   `json:"final_decision,omitempty"`
	DecisionRationale   string   `json:"decision_rationale,omitempty"`

	PivotHistory []PivotRecord `json:"pivot_history,omitempty"`
	RetryCounts  map[Phase]int `json:"retry_counts,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
	StartedAt    string `json:"started_at" format:"date-time"`
	UpdatedAt    string `json:"updated_at" format:"date-time"`
}

type PivotRecord struct {
	Type      PivotType `json:"pivot_type"`
	Reason    string    `json:"reason"`
	FromPhase Phase     `json:"from_phase"`
	ToPhase   Phase     `json:"to_phase"`
	Timestamp string    `json:"timestamp" format:"date-time"`
}

// Clone returns a deep copy so callers can mutate without aliasing persisted state.
func (r ValidationRun) Clone() ValidationRun {
	out := r
	if r.FoundersBrief != nil {
		v := *r.FoundersBrief
		out.FoundersBrief = &v
	}
	if r.CustomerProfile != nil {
		v := *r.CustomerProfile
		out.CustomerProfile = &v
	}
	if r.ValueMap != nil {
		v := *r.ValueMap
		out.ValueMap = &v
	}
	if r.FitAssessment != nil {
		v := *r.FitAssessment
		out.FitAssessment = &v
	}
	if r.DesirabilityEvidence != nil {
		v := *r.DesirabilityEvidence
		out.DesirabilityEvidence = &v
	}
	if r.FeasibilityEvidence != nil {
		v := *r.FeasibilityEvidence
		out.FeasibilityEvidence = &v
	}
	if r.ViabilityEvidence != nil {
		v := *r.ViabilityEvidence
		out.ViabilityEvidence = &v
	}
	if r.PivotHistory != nil {
		out.PivotHistory = append([]PivotRecord(nil), r.PivotHistory...)
	}
	if r.RetryCounts != nil {
		out.RetryCounts = make(map[Phase]int, len(r.RetryCounts))
		for k, v := range r.RetryCounts {
			out.RetryCounts[k] = v
		}
	}
	return out
}

type ProgressEntry struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	Phase     Phase  `json:"phase"`
	PhaseName string `json:"phase_name"`
	Status    string `json:"status" enum:"started,completed,failed"`
	Decision  string `json:"decision,omitempty"`
	Message   string `json:"message,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

const (
	ProgressStarted   = "started"
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
)

type CheckpointStatus string

const (
	CheckpointPending    CheckpointStatus = "pending"
	CheckpointResolved   CheckpointStatus = "resolved"
	CheckpointExpired    CheckpointStatus = "expired"
	CheckpointSuperseded CheckpointStatus = "superseded"
)

type CheckpointOption struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// HITLCheckpoint is a request for human approval at a phase boundary.
type HITLCheckpoint struct {
	ID                string             `json:"id"`
	RunID             string             `json:"run_id"`
	Name              string             `json:"checkpoint_name"`
	Phase             Phase              `json:"phase"`
	Title             string             `json:"title"`
	Description       string             `json:"description,omitempty"`
	Context           map[string]any     `json:"context,omitempty"`
	Options           []CheckpointOption `json:"options"`
	RecommendedOption string             `json:"recommended_option"`
	Status            CheckpointStatus   `json:"status" enum:"pending,resolved,expired,superseded"`
	Decision          string             `json:"decision,omitempty"`
	Feedback          string             `json:"feedback,omitempty"`
	DecidedBy         string             `json:"decided_by,omitempty"`
	DecidedAt         string             `json:"decided_at,omitempty" format:"date-time"`
	CreatedAt         string             `json:"created_at" format:"date-time"`
}

// HasOption reports whether id is one of the checkpoint's options.
func (c HITLCheckpoint) HasOption(id string) bool {
	for _, o := range c.Options {
		if o.ID == id {
			return true
		}
	}
	return false
}

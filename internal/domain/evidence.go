package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Validate checks struct tags on evidence, policies and requests.
func Validate(v any) error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

type FoundersBrief struct {
	Idea             string   `json:"idea" yaml:"idea" validate:"required"`
	ProblemStatement string   `json:"problem_statement" yaml:"problem_statement" validate:"required"`
	TargetCustomers  []string `json:"target_customers,omitempty" yaml:"target_customers"`
	Assumptions      []string `json:"assumptions,omitempty" yaml:"assumptions"`
	Founder          string   `json:"founder,omitempty" yaml:"founder"`
}

type CustomerProfile struct {
	Segment string   `json:"segment" yaml:"segment" validate:"required"`
	Jobs    []string `json:"jobs,omitempty" yaml:"jobs"`
	Pains   []string `json:"pains,omitempty" yaml:"pains"`
	Gains   []string `json:"gains,omitempty" yaml:"gains"`
}

type ValueMap struct {
	ValueProposition string   `json:"value_proposition" yaml:"value_proposition" validate:"required"`
	Products         []string `json:"products,omitempty" yaml:"products"`
	PainRelievers    []string `json:"pain_relievers,omitempty" yaml:"pain_relievers"`
	GainCreators     []string `json:"gain_creators,omitempty" yaml:"gain_creators"`
}

type FitAssessment struct {
	FitScore float64 `json:"fit_score" yaml:"fit_score" validate:"gte=0,lte=1"`
	FitType  string  `json:"fit_type" yaml:"fit_type" validate:"required"`
	Notes    string  `json:"notes,omitempty" yaml:"notes"`
}

// DiscoveryOutput is the combined phase 1 result.
type DiscoveryOutput struct {
	CustomerProfile CustomerProfile `json:"customer_profile" yaml:"customer_profile"`
	ValueMap        ValueMap        `json:"value_map" yaml:"value_map"`
	FitAssessment   FitAssessment   `json:"fit_assessment" yaml:"fit_assessment"`
}

type EvidenceStrength string

const (
	StrengthWeak   EvidenceStrength = "weak"
	StrengthMedium EvidenceStrength = "medium"
	StrengthStrong EvidenceStrength = "strong"
)

type Experiment struct {
	ID       string           `json:"id,omitempty" yaml:"id"`
	Name     string           `json:"name" yaml:"name" validate:"required"`
	Strength EvidenceStrength `json:"strength" yaml:"strength" validate:"oneof=weak medium strong"`
	Metric   string           `json:"metric,omitempty" yaml:"metric"`
	Value    float64          `json:"value,omitempty" yaml:"value"`
}

type DesirabilityEvidence struct {
	ProblemResonance float64      `json:"problem_resonance" yaml:"problem_resonance" validate:"gte=0,lte=1"`
	ZombieRatio      float64      `json:"zombie_ratio" yaml:"zombie_ratio" validate:"gte=0,lte=1"`
	ConversionRate   float64      `json:"conversion_rate" yaml:"conversion_rate" validate:"gte=0,lte=1"`
	Experiments      []Experiment `json:"experiments,omitempty" yaml:"experiments" validate:"dive"`
	// Fallback marks the conservative default substituted for unparseable crew output.
	Fallback bool `json:"fallback,omitempty" yaml:"-"`
}

// FallbackDesirabilityEvidence routes to a segment pivot rather than proceeding on bad data.
func FallbackDesirabilityEvidence() DesirabilityEvidence {
	return DesirabilityEvidence{ProblemResonance: 0.1, ZombieRatio: 0.9, Fallback: true}
}

type FeasibilityEvidence struct {
	CoreFeaturesFeasible bool         `json:"core_features_feasible" yaml:"core_features_feasible"`
	DowngradeRequired    bool         `json:"downgrade_required" yaml:"downgrade_required"`
	Constraints          []string     `json:"constraints,omitempty" yaml:"constraints"`
	BuildCost            float64      `json:"build_cost,omitempty" yaml:"build_cost" validate:"gte=0"`
	Experiments          []Experiment `json:"experiments,omitempty" yaml:"experiments" validate:"dive"`
}

type ViabilityEvidence struct {
	LTVCACRatio float64      `json:"ltv_cac_ratio" yaml:"ltv_cac_ratio" validate:"gte=0"`
	TAM         float64      `json:"tam" yaml:"tam" validate:"gte=0"`
	CAC         float64      `json:"cac,omitempty" yaml:"cac" validate:"gte=0"`
	LTV         float64      `json:"ltv,omitempty" yaml:"ltv" validate:"gte=0"`
	Experiments []Experiment `json:"experiments,omitempty" yaml:"experiments" validate:"dive"`
}

package bandit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"venturegate/internal/config"
	"venturegate/internal/domain"
	"venturegate/internal/events"
	"venturegate/internal/repo"
)

const (
	ReasonExploration = "exploration"
	ReasonUCB         = "ucb"
	ReasonFallback    = "fallback_default"
)

var ErrUnknownExperiment = errors.New("unknown experiment type")

var selectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "venturegate_bandit_selections_total",
	Help: "Policy selections by experiment type, policy and reason.",
}, []string{"experiment_type", "policy", "reason"})

type Selector struct {
	Repo   repo.Repo
	Events events.Writer
	Config config.BanditConfig
	Logger *zap.Logger
	Now    func() time.Time
}

func (s Selector) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (s Selector) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s Selector) scorer() Scorer {
	sc := DefaultScorer()
	if s.Config.ExplorationBonus > 0 {
		sc.ExplorationConst = s.Config.ExplorationBonus
	}
	if s.Config.UnseenBonus > 0 {
		sc.UnseenBonus = s.Config.UnseenBonus
	}
	return sc
}

func (s Selector) candidates(experimentType string) ([]string, error) {
	policies := s.Config.Experiments[experimentType]
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExperiment, experimentType)
	}
	return policies, nil
}

func (s Selector) arms(ctx context.Context, experimentType string, policies []string) ([]Arm, error) {
	stats, err := s.Repo.OutcomeStatsByPolicy(ctx, experimentType)
	if err != nil {
		return nil, err
	}
	arms := make([]Arm, len(policies))
	for i, p := range policies {
		st := stats[p]
		arms[i] = Arm{Policy: p, Samples: st.Samples, RewardSum: st.RewardSum}
	}
	return arms, nil
}

type Selection struct {
	ExperimentType string `json:"experiment_type"`
	Policy         string `json:"policy"`
	Reason         string `json:"reason"`
}

// Select picks a policy. Below min_samples total outcomes it rotates over the least sampled policies,
// using the persisted selection count so rotation survives restarts. Read failures fall back to the
// first configured policy.
func (s Selector) Select(ctx context.Context, experimentType string) (Selection, error) {
	policies, err := s.candidates(experimentType)
	if err != nil {
		return Selection{}, err
	}
	sel := Selection{ExperimentType: experimentType}
	arms, err := s.arms(ctx, experimentType, policies)
	if err != nil {
		s.logger().Warn("outcome log unavailable; using default policy", zap.String("experiment_type", experimentType), zap.Error(err))
		sel.Policy, sel.Reason = policies[0], ReasonFallback
		selectionsTotal.WithLabelValues(experimentType, sel.Policy, sel.Reason).Inc()
		return sel, nil
	}
	total := 0
	for _, a := range arms {
		total += a.Samples
	}
	if total < s.Config.MinSamples {
		tied := LeastSampled(arms)
		prior, err := s.Repo.CountSelections(ctx, experimentType)
		if err != nil {
			s.logger().Warn("selection count unavailable", zap.Error(err))
			prior = 0
		}
		sel.Policy, sel.Reason = arms[tied[prior%len(tied)]].Policy, ReasonExploration
	} else {
		sel.Policy, sel.Reason = arms[s.scorer().Best(arms)].Policy, ReasonUCB
	}

	if err := s.Repo.InsertSelection(ctx, domain.PolicySelection{
		ExperimentType: experimentType, Policy: sel.Policy, Reason: sel.Reason, CreatedAt: s.now(),
	}); err != nil {
		s.logger().Warn("selection not recorded", zap.Error(err))
	}
	if err := s.Events.Append(ctx, nil, events.PolicySelected, "", "experiment_type", experimentType, "", events.EventPayload{
		"policy": sel.Policy, "reason": sel.Reason, "samples": total,
	}); err != nil {
		s.logger().Warn("selection event not recorded", zap.Error(err))
	}
	selectionsTotal.WithLabelValues(experimentType, sel.Policy, sel.Reason).Inc()
	s.logger().Debug("policy selected", zap.String("experiment_type", experimentType), zap.String("policy", sel.Policy), zap.String("reason", sel.Reason))
	return sel, nil
}

type OutcomeInput struct {
	ExperimentType string         `json:"experiment_type" validate:"required"`
	Policy         string         `json:"policy" validate:"required"`
	ExperimentID   string         `json:"experiment_id" validate:"required"`
	PrimaryMetric  string         `json:"primary_metric" validate:"required"`
	PrimaryValue   float64        `json:"primary_value"`
	Reward         *float64       `json:"reward,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// RecordOutcome appends to the outcome log. Weights are never cached; the next Select recomputes them.
func (s Selector) RecordOutcome(ctx context.Context, in OutcomeInput) (domain.ExperimentOutcome, error) {
	if err := domain.Validate(in); err != nil {
		return domain.ExperimentOutcome{}, err
	}
	reward := Clamp01(in.PrimaryValue)
	if in.Reward != nil {
		reward = Clamp01(*in.Reward)
	}
	o := domain.ExperimentOutcome{
		ID:             uuid.NewString(),
		ExperimentType: in.ExperimentType,
		Policy:         in.Policy,
		ExperimentID:   in.ExperimentID,
		PrimaryMetric:  in.PrimaryMetric,
		PrimaryValue:   in.PrimaryValue,
		Reward:         reward,
		Metadata:       in.Metadata,
		CreatedAt:      s.now(),
	}
	if err := s.Repo.InsertOutcome(ctx, o); err != nil {
		return o, fmt.Errorf("record outcome: %w", err)
	}
	if err := s.Events.Append(ctx, nil, events.OutcomeRecorded, "", "experiment_outcome", o.ID, "", events.EventPayload{
		"experiment_type": o.ExperimentType, "policy": o.Policy, "reward": o.Reward,
	}); err != nil {
		s.logger().Warn("outcome event not recorded", zap.Error(err))
	}
	return o, nil
}

// Weights projects the outcome log into per-policy statistics. Policies seen in the log but no longer
// configured are listed after the configured ones.
func (s Selector) Weights(ctx context.Context, experimentType string) ([]domain.PolicyWeight, error) {
	stats, err := s.Repo.OutcomeStatsByPolicy(ctx, experimentType)
	if err != nil {
		return nil, err
	}
	policies := append([]string(nil), s.Config.Experiments[experimentType]...)
	known := map[string]bool{}
	for _, p := range policies {
		known[p] = true
	}
	var extra []string
	for p := range stats {
		if !known[p] {
			extra = append(extra, p)
		}
	}
	sort.Strings(extra)
	policies = append(policies, extra...)
	if len(policies) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExperiment, experimentType)
	}

	total := 0
	for _, st := range stats {
		total += st.Samples
	}
	sc := s.scorer()
	out := make([]domain.PolicyWeight, 0, len(policies))
	for _, p := range policies {
		a := Arm{Policy: p, Samples: stats[p].Samples, RewardSum: stats[p].RewardSum}
		out = append(out, domain.PolicyWeight{
			Policy:      p,
			SampleCount: a.Samples,
			MeanReward:  a.Mean(),
			UCBScore:    sc.Score(a, total),
		})
	}
	return out, nil
}

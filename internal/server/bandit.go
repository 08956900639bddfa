package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"venturegate/internal/bandit"
	"venturegate/internal/domain"
)

func registerBandit(api huma.API, cfg Config) {
	s := cfg.Bandit
	huma.Register(api, huma.Operation{
		OperationID: "bandit-select",
		Method:      http.MethodPost,
		Path:        "/bandit/select",
		Summary:     "Pick a policy for an experiment type",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Body SelectPolicyRequest `json:"body"`
	}) (*struct {
		Body bandit.Selection `json:"body"`
	}, error) {
		sel, err := s.Select(ctx, input.Body.ExperimentType)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body bandit.Selection `json:"body"`
		}{Body: sel}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "bandit-record-outcome",
		Method:        http.MethodPost,
		Path:          "/bandit/outcomes",
		Summary:       "Append an experiment outcome",
		DefaultStatus: http.StatusCreated,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body RecordOutcomeRequest `json:"body"`
	}) (*struct {
		Body domain.ExperimentOutcome `json:"body"`
	}, error) {
		b := input.Body
		o, err := s.RecordOutcome(ctx, bandit.OutcomeInput{
			ExperimentType: b.ExperimentType,
			Policy:         b.Policy,
			ExperimentID:   b.ExperimentID,
			PrimaryMetric:  b.PrimaryMetric,
			PrimaryValue:   b.PrimaryValue,
			Reward:         b.Reward,
			Metadata:       b.Metadata,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ExperimentOutcome `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "bandit-weights",
		Method:      http.MethodGet,
		Path:        "/bandit/{experiment_type}/weights",
		Summary:     "Per-policy statistics projected from the outcome log",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ExperimentType string `path:"experiment_type"`
	}) (*struct {
		Body WeightsResponse `json:"body"`
	}, error) {
		weights, err := s.Weights(ctx, input.ExperimentType)
		if err != nil {
			return nil, handleError(err)
		}
		if weights == nil {
			weights = []domain.PolicyWeight{}
		}
		return &struct {
			Body WeightsResponse `json:"body"`
		}{Body: WeightsResponse{ExperimentType: input.ExperimentType, Weights: weights}}, nil
	})
}

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"venturegate/internal/domain"
)

type policyPath struct {
	UserID string `path:"user_id"`
	Gate   string `path:"gate" enum:"DESIRABILITY,FEASIBILITY,VIABILITY"`
}

func registerPolicies(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "get-gate-policy",
		Method:      http.MethodGet,
		Path:        "/policies/{user_id}/{gate}",
		Summary:     "Effective gate policy for a user",
		Description: "Falls back to the system default when the user has no stored policy or the lookup fails.",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *policyPath) (*struct {
		Body domain.GatePolicy `json:"body"`
	}, error) {
		gate, err := domain.ParseGate(input.Gate)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GatePolicy `json:"body"`
		}{Body: e.Policies.For(ctx, input.UserID, gate)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-gate-policy",
		Method:      http.MethodPut,
		Path:        "/policies/{user_id}/{gate}",
		Summary:     "Store a user's gate policy",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		policyPath
		Body GatePolicyRequest `json:"body"`
	}) (*struct {
		Body domain.GatePolicy `json:"body"`
	}, error) {
		gate, err := domain.ParseGate(input.Gate)
		if err != nil {
			return nil, handleError(err)
		}
		p := input.Body.toDomain(input.UserID, gate)
		if err := domain.Validate(p); err != nil {
			return nil, handleError(err)
		}
		now := time.Now
		if e.Now != nil {
			now = e.Now
		}
		p.UpdatedAt = now().UTC().Format(time.RFC3339)
		if err := e.Repo.UpsertGatePolicy(ctx, p); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GatePolicy `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-gate-policies",
		Method:      http.MethodGet,
		Path:        "/policies/{user_id}",
		Summary:     "Stored gate policies of a user",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body []domain.GatePolicy `json:"body"`
	}, error) {
		items, err := e.Repo.ListGatePolicies(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.GatePolicy{}
		}
		return &struct {
			Body []domain.GatePolicy `json:"body"`
		}{Body: items}, nil
	})
}

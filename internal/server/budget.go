package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"venturegate/internal/budget"
	"venturegate/internal/domain"
)

func registerBudget(api huma.API, cfg Config) {
	g := cfg.Budget
	huma.Register(api, huma.Operation{
		OperationID: "budget-check",
		Method:      http.MethodPost,
		Path:        "/budget/check",
		Summary:     "Evaluate a proposed spend against guardrails",
		Description: "Every check is audited. If the audit write fails the spend is reported as blocked.",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Body BudgetCheckRequest `json:"body"`
	}) (*struct {
		Body CheckResponse `json:"body"`
	}, error) {
		b := input.Body
		c, err := g.CheckBudget(ctx, budget.CheckRequest{
			UserID:        b.UserID,
			CampaignID:    b.CampaignID,
			CurrentSpend:  b.CurrentSpend,
			ProposedSpend: b.ProposedSpend,
			Limit:         b.Limit,
			Mode:          budget.Mode(b.Mode),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CheckResponse `json:"body"`
		}{Body: mapCheck(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "budget-override",
		Method:        http.MethodPost,
		Path:          "/budget/override",
		Summary:       "Authorize a guardrail override",
		DefaultStatus: http.StatusCreated,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body BudgetOverrideRequest `json:"body"`
	}) (*struct {
		Body domain.BudgetOverride `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		actor := b.ActorID
		if actor == "" {
			actor = principal.ActorID
		}
		o, err := g.Override(ctx, budget.OverrideRequest{
			UserID:     b.UserID,
			CampaignID: b.CampaignID,
			ActorID:    actor,
			ActorType:  b.ActorType,
			Reason:     b.Reason,
			Mode:       budget.Mode(b.Mode),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetOverride `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-pool",
		Method:      http.MethodGet,
		Path:        "/budget/pools/{user_id}",
		Summary:     "Budget pool of a user",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `path:"user_id"`
	}) (*struct {
		Body domain.BudgetPool `json:"body"`
	}, error) {
		pool, err := g.Pool(ctx, input.UserID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetPool `json:"body"`
		}{Body: pool}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-pool",
		Method:      http.MethodPost,
		Path:        "/budget/pools/{user_id}/fund",
		Summary:     "Add funds to a user's pool",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		UserID string          `path:"user_id"`
		Body   FundPoolRequest `json:"body"`
	}) (*struct {
		Body domain.BudgetPool `json:"body"`
	}, error) {
		pool, err := g.FundPool(ctx, input.UserID, input.Body.Amount, input.Body.Rollover, input.Body.RolloverExpiresAt)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetPool `json:"body"`
		}{Body: pool}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "allocate-campaign",
		Method:        http.MethodPost,
		Path:          "/budget/campaigns",
		Summary:       "Reserve a campaign budget from a pool",
		DefaultStatus: http.StatusCreated,
		Errors:        append([]int{http.StatusUnprocessableEntity}, clientErrors...),
	}, func(ctx context.Context, input *struct {
		Body AllocateCampaignRequest `json:"body"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		b := input.Body
		c, err := g.AllocateCampaign(ctx, budget.AllocationRequest{
			UserID:      b.UserID,
			RunID:       b.RunID,
			Platform:    b.Platform,
			Budget:      b.Budget,
			DailyBudget: b.DailyBudget,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-campaigns",
		Method:      http.MethodGet,
		Path:        "/budget/campaigns",
		Summary:     "List campaigns",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Status string `query:"status"`
	}) (*struct {
		Body []domain.Campaign `json:"body"`
	}, error) {
		items, err := g.Campaigns(ctx, input.UserID, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Campaign{}
		}
		return &struct {
			Body []domain.Campaign `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "record-spend",
		Method:      http.MethodPost,
		Path:        "/budget/spend",
		Summary:     "Record spend against a pool and campaign",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Body RecordSpendRequest `json:"body"`
	}) (*struct {
		Body domain.BudgetPool `json:"body"`
	}, error) {
		pool, err := g.RecordSpend(ctx, input.Body.UserID, input.Body.CampaignID, input.Body.Amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.BudgetPool `json:"body"`
		}{Body: pool}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "budget-audit",
		Method:      http.MethodGet,
		Path:        "/budget/audit",
		Summary:     "Budget decision audit log",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		UserID string `query:"user_id"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.BudgetDecision `json:"body"`
	}, error) {
		items, err := g.Audit(ctx, input.UserID, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.BudgetDecision{}
		}
		return &struct {
			Body []domain.BudgetDecision `json:"body"`
		}{Body: items}, nil
	})

	if cfg.Syncer != nil {
		registerCampaignSync(api, *cfg.Syncer)
	}
}

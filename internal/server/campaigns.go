package server

import (
	"context"
	"net/http"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"venturegate/internal/adplatform"
	"venturegate/internal/domain"
)

func registerCampaignSync(api huma.API, s adplatform.Syncer) {
	huma.Register(api, huma.Operation{
		OperationID: "launch-campaign",
		Method:      http.MethodPost,
		Path:        "/budget/campaigns/{campaign_id}/launch",
		Summary:     "Create an allocated campaign on its ad platform",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		CampaignID string                `path:"campaign_id"`
		Body       LaunchCampaignRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Campaign `json:"body"`
	}, error) {
		name := input.Body.Name
		if name == "" {
			name = input.CampaignID
		}
		c, err := s.Launch(ctx, input.CampaignID, name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Campaign `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-campaign",
		Method:      http.MethodPost,
		Path:        "/budget/campaigns/{campaign_id}/sync",
		Summary:     "Pull platform spend and apply guardrails",
		Description: "Spend reported by the platform is always recorded. A blocked check pauses the campaign.",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		CampaignID string `path:"campaign_id"`
	}) (*struct {
		Body SyncResponse `json:"body"`
	}, error) {
		res, err := s.SyncSpend(ctx, input.CampaignID)
		// A failed audit blocks the check; the campaign is paused and reported rather than failed.
		if err != nil && !res.Paused {
			return nil, handleError(err)
		}
		return &struct {
			Body SyncResponse `json:"body"`
		}{Body: mapSync(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "platform-rate-limits",
		Method:      http.MethodGet,
		Path:        "/budget/platforms",
		Summary:     "Rate limit status of each ad platform adapter",
		Errors:      clientErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []adplatform.RateLimitStatus `json:"body"`
	}, error) {
		names := make([]string, 0, len(s.Adapters))
		for name := range s.Adapters {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]adplatform.RateLimitStatus, 0, len(names))
		for _, name := range names {
			st, err := s.Adapters[name].GetRateLimitStatus(ctx)
			if err != nil {
				return nil, handleError(err)
			}
			out = append(out, st)
		}
		return &struct {
			Body []adplatform.RateLimitStatus `json:"body"`
		}{Body: out}, nil
	})
}

// Package adplatform puts ad networks behind one adapter interface and keeps pool spend in sync with
// what the platforms report.
package adplatform

import (
	"context"
	"errors"
)

var ErrUnknownCampaign = errors.New("unknown platform campaign")

type CampaignSpec struct {
	CampaignID  string  `json:"campaign_id"`
	Name        string  `json:"name"`
	Budget      float64 `json:"budget"`
	DailyBudget float64 `json:"daily_budget"`
}

// Performance is cumulative for the campaign's lifetime.
type Performance struct {
	ExternalID  string  `json:"external_id"`
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	Conversions int64   `json:"conversions"`
	Spend       float64 `json:"spend"`
}

type RateLimitStatus struct {
	Platform        string  `json:"platform"`
	RequestsPerSec  float64 `json:"requests_per_second"`
	Burst           int     `json:"burst"`
	TokensAvailable float64 `json:"tokens_available"`
}

// Adapter is the uniform surface every ad platform integration implements.
type Adapter interface {
	Platform() string
	CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error)
	Pause(ctx context.Context, externalID string) error
	Resume(ctx context.Context, externalID string) error
	GetPerformance(ctx context.Context, externalID string) (Performance, error)
	GetRateLimitStatus(ctx context.Context) (RateLimitStatus, error)
}

package adplatform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"venturegate/internal/budget"
	"venturegate/internal/domain"
	"venturegate/internal/repo"
)

const (
	CampaignActive = "active"
	CampaignPaused = "paused"
)

// Syncer launches allocated campaigns on their platform and pulls reported spend back into the pool.
type Syncer struct {
	Guard    budget.Guard
	Repo     repo.Repo
	Adapters map[string]Adapter
	Logger   *zap.Logger
	Now      func() time.Time
}

func (s Syncer) now() string {
	if s.Now != nil {
		return s.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (s Syncer) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s Syncer) adapter(platform string) (Adapter, error) {
	a, ok := s.Adapters[platform]
	if !ok {
		return nil, fmt.Errorf("no adapter for platform %q", platform)
	}
	return a, nil
}

// Launch creates the campaign on its platform and stores the external id.
func (s Syncer) Launch(ctx context.Context, campaignID, name string) (domain.Campaign, error) {
	c, err := s.Repo.GetCampaign(ctx, nil, campaignID)
	if err != nil {
		return c, err
	}
	if c.ExternalID != "" {
		return c, nil
	}
	a, err := s.adapter(c.Platform)
	if err != nil {
		return c, err
	}
	ext, err := a.CreateCampaign(ctx, CampaignSpec{CampaignID: c.ID, Name: name, Budget: c.Budget, DailyBudget: c.DailyBudget})
	if err != nil {
		return c, fmt.Errorf("launch campaign %s: %w", c.ID, err)
	}
	if err := s.Repo.UpdateCampaignStatus(ctx, c.ID, CampaignActive, ext, s.now()); err != nil {
		return c, err
	}
	return s.Repo.GetCampaign(ctx, nil, c.ID)
}

type SyncResult struct {
	Campaign domain.Campaign `json:"campaign"`
	Delta    float64         `json:"delta"`
	Check    *budget.Check   `json:"check,omitempty"`
	Paused   bool            `json:"paused"`
}

// SyncSpend records the spend reported since the last sync. The platform's lifetime figure is applied
// in storage, so concurrent syncs count it once. Spend that already happened is always recorded; a
// blocked guardrail check pauses the campaign on the platform.
func (s Syncer) SyncSpend(ctx context.Context, campaignID string) (SyncResult, error) {
	c, err := s.Repo.GetCampaign(ctx, nil, campaignID)
	if err != nil {
		return SyncResult{}, err
	}
	res := SyncResult{Campaign: c}
	if c.ExternalID == "" {
		return res, nil
	}
	a, err := s.adapter(c.Platform)
	if err != nil {
		return res, err
	}
	perf, err := a.GetPerformance(ctx, c.ExternalID)
	if err != nil {
		return res, fmt.Errorf("performance for %s: %w", c.ID, err)
	}
	upd, err := s.Guard.ApplyReportedSpend(ctx, c.ID, perf.Spend)
	if err != nil {
		return res, err
	}
	res.Campaign = upd.Campaign
	if upd.Delta <= 0 {
		return res, nil
	}
	delta := upd.Delta
	res.Delta = delta

	check, checkErr := s.Guard.CheckBudget(ctx, budget.CheckRequest{
		UserID:        c.UserID,
		CampaignID:    c.ID,
		CurrentSpend:  upd.Previous,
		ProposedSpend: delta,
		Limit:         c.Budget,
	})
	res.Check = &check
	log := s.logger().With(zap.String("campaign_id", c.ID), zap.String("platform", c.Platform), zap.Float64("delta", delta))
	if !check.Allowed && c.Status == CampaignActive {
		if err := a.Pause(ctx, c.ExternalID); err != nil {
			return res, errors.Join(checkErr, fmt.Errorf("pause %s: %w", c.ID, err))
		}
		if err := s.Repo.UpdateCampaignStatus(ctx, c.ID, CampaignPaused, "", s.now()); err != nil {
			return res, err
		}
		res.Paused = true
		log.Warn("campaign paused by budget guardrail", zap.String("tier", string(check.Tier)), zap.Float64("utilization", check.Percent))
	} else {
		log.Debug("campaign spend synced")
	}
	updated, err := s.Repo.GetCampaign(ctx, nil, c.ID)
	if err != nil {
		return res, err
	}
	res.Campaign = updated
	return res, checkErr
}

// SyncUser syncs every active campaign of a user and stops at the first error.
func (s Syncer) SyncUser(ctx context.Context, userID string) ([]SyncResult, error) {
	campaigns, err := s.Repo.ListCampaigns(ctx, userID, CampaignActive)
	if err != nil {
		return nil, err
	}
	out := make([]SyncResult, 0, len(campaigns))
	for _, c := range campaigns {
		r, err := s.SyncSpend(ctx, c.ID)
		out = append(out, r)
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

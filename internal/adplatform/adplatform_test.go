package adplatform

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venturegate/internal/budget"
	"venturegate/internal/config"
	"venturegate/internal/events"
	"venturegate/internal/repo"
	"venturegate/internal/testutil"
)

func newSyncer(t *testing.T) (Syncer, *Fake) {
	t.Helper()
	conn := testutil.OpenDB(t)
	clock := testutil.NewClock()
	r := repo.Repo{DB: conn}
	guard := budget.Guard{
		DB:     conn,
		Repo:   r,
		Events: events.Writer{DB: conn, Now: clock.Now},
		Config: config.Default().Budget,
		Now:    clock.Now,
	}
	fake := NewFake("meta")
	return Syncer{
		Guard:    guard,
		Repo:     r,
		Adapters: map[string]Adapter{"meta": NewRateLimited(fake, 1000, 10)},
		Now:      clock.Now,
	}, fake
}

func TestSyncSpendRecordsDeltaAndPauses(t *testing.T) {
	ctx := context.Background()
	s, fake := newSyncer(t)
	_, err := s.Guard.FundPool(ctx, "u1", 1000, 0, "")
	require.NoError(t, err)
	c, err := s.Guard.AllocateCampaign(ctx, budget.AllocationRequest{UserID: "u1", Platform: "meta", Budget: 100, DailyBudget: 20})
	require.NoError(t, err)

	c, err = s.Launch(ctx, c.ID, "compost pickup smoke test")
	require.NoError(t, err)
	require.NotEmpty(t, c.ExternalID)

	require.NoError(t, fake.SetPerformance(c.ExternalID, Performance{Impressions: 4000, Clicks: 90, Spend: 50}))
	res, err := s.SyncSpend(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Delta)
	assert.False(t, res.Paused)
	assert.Equal(t, 50.0, res.Campaign.Spent)

	res, err = s.SyncSpend(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Delta, "no new spend since the last sync")

	require.NoError(t, fake.SetPerformance(c.ExternalID, Performance{Spend: 130}))
	res, err = s.SyncSpend(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 80.0, res.Delta)
	require.NotNil(t, res.Check)
	assert.Equal(t, budget.TierKillSwitch, res.Check.Tier)
	assert.True(t, res.Paused)
	assert.Equal(t, CampaignPaused, res.Campaign.Status)
	assert.Equal(t, 130.0, res.Campaign.Spent, "spend already incurred is still recorded")
	assert.True(t, fake.Paused(c.ExternalID))

	pool, err := s.Guard.Pool(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 130.0, pool.TotalSpent)

	audit, err := s.Guard.Audit(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestConcurrentSyncsCountLifetimeSpendOnce(t *testing.T) {
	ctx := context.Background()
	s, fake := newSyncer(t)
	_, err := s.Guard.FundPool(ctx, "u1", 1000, 0, "")
	require.NoError(t, err)
	c, err := s.Guard.AllocateCampaign(ctx, budget.AllocationRequest{UserID: "u1", Platform: "meta", Budget: 500})
	require.NoError(t, err)
	c, err = s.Launch(ctx, c.ID, "test")
	require.NoError(t, err)
	require.NoError(t, fake.SetPerformance(c.ExternalID, Performance{Spend: 100}))

	const workers = 8
	var wg sync.WaitGroup
	deltas := make(chan float64, workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.SyncSpend(ctx, c.ID)
			if err != nil {
				errs <- err
				return
			}
			deltas <- res.Delta
		}()
	}
	wg.Wait()
	close(errs)
	close(deltas)
	for err := range errs {
		require.NoError(t, err)
	}
	var applied float64
	for d := range deltas {
		applied += d
	}
	assert.Equal(t, 100.0, applied)

	got, err := s.Repo.GetCampaign(ctx, nil, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 100.0, got.Spent)
	pool, err := s.Guard.Pool(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, pool.TotalSpent)

	require.NoError(t, fake.SetPerformance(c.ExternalID, Performance{Spend: 60}))
	res, err := s.SyncSpend(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Delta, "a lower lifetime figure never reduces recorded spend")
	assert.Equal(t, 100.0, res.Campaign.Spent)
}

func TestSyncUserSkipsPausedCampaigns(t *testing.T) {
	ctx := context.Background()
	s, fake := newSyncer(t)
	_, err := s.Guard.FundPool(ctx, "u1", 1000, 0, "")
	require.NoError(t, err)
	var ids []string
	for i := 0; i < 2; i++ {
		c, err := s.Guard.AllocateCampaign(ctx, budget.AllocationRequest{UserID: "u1", Platform: "meta", Budget: 100})
		require.NoError(t, err)
		c, err = s.Launch(ctx, c.ID, "test")
		require.NoError(t, err)
		require.NoError(t, fake.SetPerformance(c.ExternalID, Performance{Spend: 10}))
		ids = append(ids, c.ID)
	}
	require.NoError(t, s.Repo.UpdateCampaignStatus(ctx, ids[1], CampaignPaused, "", "2026-03-01T09:00:00Z"))

	res, err := s.SyncUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, ids[0], res[0].Campaign.ID)
}

func TestSyncUnknownPlatform(t *testing.T) {
	ctx := context.Background()
	s, _ := newSyncer(t)
	_, err := s.Guard.FundPool(ctx, "u1", 1000, 0, "")
	require.NoError(t, err)
	c, err := s.Guard.AllocateCampaign(ctx, budget.AllocationRequest{UserID: "u1", Platform: "tiktok", Budget: 100})
	require.NoError(t, err)
	_, err = s.Launch(ctx, c.ID, "test")
	assert.ErrorContains(t, err, "no adapter")
}

func TestRateLimitedWaitsAndReports(t *testing.T) {
	fake := NewFake("google")
	rl := NewRateLimited(fake, 0.001, 1)

	status, err := rl.GetRateLimitStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "google", status.Platform)
	assert.Equal(t, 1, status.Burst)
	assert.InDelta(t, 1.0, status.TokensAvailable, 0.01)

	_, err = rl.CreateCampaign(context.Background(), CampaignSpec{Name: "a"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = rl.CreateCampaign(ctx, CampaignSpec{Name: "b"})
	assert.ErrorContains(t, err, "rate limit")
}

func TestFakeUnknownCampaign(t *testing.T) {
	fake := NewFake("meta")
	assert.ErrorIs(t, fake.Pause(context.Background(), "nope"), ErrUnknownCampaign)
	_, err := fake.GetPerformance(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownCampaign)
}

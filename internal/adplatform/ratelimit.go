package adplatform

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

const (
	defaultRatePerSecond = 5
	defaultBurst         = 10
)

// RateLimited throttles every outbound call to the wrapped adapter.
type RateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

func NewRateLimited(inner Adapter, perSecond float64, burst int) *RateLimited {
	if perSecond <= 0 {
		perSecond = defaultRatePerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s rate limit: %w", r.inner.Platform(), err)
	}
	return nil
}

func (r *RateLimited) Platform() string { return r.inner.Platform() }

func (r *RateLimited) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := r.wait(ctx); err != nil {
		return "", err
	}
	return r.inner.CreateCampaign(ctx, spec)
}

func (r *RateLimited) Pause(ctx context.Context, externalID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Pause(ctx, externalID)
}

func (r *RateLimited) Resume(ctx context.Context, externalID string) error {
	if err := r.wait(ctx); err != nil {
		return err
	}
	return r.inner.Resume(ctx, externalID)
}

func (r *RateLimited) GetPerformance(ctx context.Context, externalID string) (Performance, error) {
	if err := r.wait(ctx); err != nil {
		return Performance{}, err
	}
	return r.inner.GetPerformance(ctx, externalID)
}

// GetRateLimitStatus reports the local limiter; it does not consume a token.
func (r *RateLimited) GetRateLimitStatus(_ context.Context) (RateLimitStatus, error) {
	return RateLimitStatus{
		Platform:        r.inner.Platform(),
		RequestsPerSec:  float64(r.limiter.Limit()),
		Burst:           r.limiter.Burst(),
		TokensAvailable: r.limiter.Tokens(),
	}, nil
}

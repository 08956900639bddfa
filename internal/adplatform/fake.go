package adplatform

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory platform for tests and local runs. Spend is set by the caller.
type Fake struct {
	Name string

	mu        sync.Mutex
	seq       int
	campaigns map[string]*fakeCampaign
}

type fakeCampaign struct {
	spec   CampaignSpec
	paused bool
	perf   Performance
}

func NewFake(name string) *Fake {
	return &Fake{Name: name, campaigns: map[string]*fakeCampaign{}}
}

func (f *Fake) Platform() string { return f.Name }

func (f *Fake) CreateCampaign(ctx context.Context, spec CampaignSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("%s-%d", f.Name, f.seq)
	f.campaigns[id] = &fakeCampaign{spec: spec, perf: Performance{ExternalID: id}}
	return id, nil
}

func (f *Fake) setPaused(id string, paused bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, id)
	}
	c.paused = paused
	return nil
}

func (f *Fake) Pause(_ context.Context, externalID string) error {
	return f.setPaused(externalID, true)
}

func (f *Fake) Resume(_ context.Context, externalID string) error {
	return f.setPaused(externalID, false)
}

func (f *Fake) GetPerformance(_ context.Context, externalID string) (Performance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[externalID]
	if !ok {
		return Performance{}, fmt.Errorf("%w: %s", ErrUnknownCampaign, externalID)
	}
	return c.perf, nil
}

func (f *Fake) GetRateLimitStatus(_ context.Context) (RateLimitStatus, error) {
	return RateLimitStatus{Platform: f.Name}, nil
}

// SetPerformance replaces the reported lifetime performance of a campaign.
func (f *Fake) SetPerformance(externalID string, p Performance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[externalID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCampaign, externalID)
	}
	p.ExternalID = externalID
	c.perf = p
	return nil
}

func (f *Fake) Paused(externalID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.campaigns[externalID]
	return ok && c.paused
}

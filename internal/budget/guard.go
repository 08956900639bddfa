package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"venturegate/internal/config"
	"venturegate/internal/domain"
	"venturegate/internal/engine/auth"
	"venturegate/internal/events"
	"venturegate/internal/repo"
)

var (
	decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venturegate_budget_decisions_total",
		Help: "Budget guardrail decisions by tier and outcome.",
	}, []string{"tier", "allowed"})
	spendTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "venturegate_budget_spend_recorded_total",
		Help: "Ad spend recorded against budget pools.",
	})
)

// Guard applies guardrails and owns pool arithmetic. Every check is audited.
type Guard struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config config.BudgetConfig
	Logger *zap.Logger
	Now    func() time.Time
}

func (g Guard) now() string {
	if g.Now != nil {
		return g.Now().UTC().Format(time.RFC3339)
	}
	return time.Now().UTC().Format(time.RFC3339)
}

func (g Guard) logger() *zap.Logger {
	if g.Logger != nil {
		return g.Logger
	}
	return zap.NewNop()
}

func (g Guard) thresholds() Thresholds {
	t := Thresholds{Warning: g.Config.WarningThreshold, KillSwitch: g.Config.KillSwitchThreshold, Critical: g.Config.CriticalThreshold}
	if t.Warning <= 0 || t.KillSwitch <= 0 || t.Critical <= 0 {
		return DefaultThresholds()
	}
	return t
}

func (g Guard) mode(m Mode) Mode {
	if m != "" {
		return m
	}
	if g.Config.Mode != "" {
		return Mode(g.Config.Mode)
	}
	return ModeHard
}

type CheckRequest struct {
	UserID        string  `json:"user_id,omitempty"`
	CampaignID    string  `json:"campaign_id,omitempty"`
	CurrentSpend  float64 `json:"current_spend"`
	ProposedSpend float64 `json:"proposed_spend"`
	Limit         float64 `json:"limit"`
	Mode          Mode    `json:"mode,omitempty"`
}

// CheckBudget evaluates and audits a spend. If the audit write fails the spend is refused.
func (g Guard) CheckBudget(ctx context.Context, req CheckRequest) (Check, error) {
	c := Evaluate(req.CurrentSpend, req.ProposedSpend, req.Limit, g.mode(req.Mode), g.thresholds())
	d := domain.BudgetDecision{
		UserID:        req.UserID,
		CampaignID:    req.CampaignID,
		CurrentSpend:  req.CurrentSpend,
		ProposedSpend: req.ProposedSpend,
		Limit:         req.Limit,
		Utilization:   c.Percent,
		Tier:          string(c.Tier),
		Mode:          string(c.Mode),
		Allowed:       c.Allowed,
		Message:       c.Message,
		CreatedAt:     g.now(),
	}
	err := g.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := g.Repo.InsertBudgetDecision(ctx, tx, d); err != nil {
			return err
		}
		return g.Events.Append(ctx, tx, events.BudgetDecision, "", "budget_decision", req.CampaignID, req.UserID, events.EventPayload{
			"tier":            d.Tier,
			"mode":            d.Mode,
			"allowed":         d.Allowed,
			"utilization_pct": d.Utilization,
		})
	})
	if err != nil {
		g.logger().Error("budget audit failed; blocking spend", zap.String("user_id", req.UserID), zap.Error(err))
		decisionsTotal.WithLabelValues(string(TierCritical), "false").Inc()
		return Check{Tier: TierCritical, Mode: c.Mode, Percent: c.Percent, Message: "audit log unavailable; spend blocked"}, fmt.Errorf("record budget decision: %w", err)
	}
	decisionsTotal.WithLabelValues(string(c.Tier), strconv.FormatBool(c.Allowed)).Inc()
	log := g.logger().With(zap.String("user_id", req.UserID), zap.String("tier", string(c.Tier)), zap.Float64("utilization", c.Percent), zap.Bool("allowed", c.Allowed))
	if c.Tier == TierOK {
		log.Debug("budget check")
	} else {
		log.Warn("budget check over threshold")
	}
	return c, nil
}

type OverrideRequest struct {
	UserID     string `json:"user_id,omitempty"`
	CampaignID string `json:"campaign_id,omitempty"`
	ActorID    string `json:"actor_id" validate:"required"`
	ActorType  string `json:"actor_type" validate:"required"`
	Reason     string `json:"reason"`
	Mode       Mode   `json:"mode,omitempty"`
}

// Override authorizes a guardrail bypass. The actor type must be allow-listed for the mode and the
// reason must meet the configured minimum length.
func (g Guard) Override(ctx context.Context, req OverrideRequest) (domain.BudgetOverride, error) {
	mode, err := ParseMode(string(g.mode(req.Mode)))
	if err != nil {
		return domain.BudgetOverride{}, err
	}
	if req.ActorID == "" || !auth.HasAnyRole([]string{req.ActorType}, g.Config.OverrideActors[string(mode)]) {
		return domain.BudgetOverride{}, &OverrideError{
			Code:    CodeNotAuthorized,
			Message: fmt.Sprintf("actor type %q may not override in %s mode", req.ActorType, mode),
		}
	}
	minLen := g.Config.MinOverrideReason
	if n := utf8.RuneCountInString(strings.TrimSpace(req.Reason)); n < minLen {
		return domain.BudgetOverride{}, &OverrideError{
			Code:    CodeRationaleShort,
			Message: fmt.Sprintf("reason has %d characters, at least %d required", n, minLen),
		}
	}
	o := domain.BudgetOverride{
		UserID:     req.UserID,
		CampaignID: req.CampaignID,
		ActorID:    req.ActorID,
		ActorType:  req.ActorType,
		Mode:       string(mode),
		Reason:     strings.TrimSpace(req.Reason),
		CreatedAt:  g.now(),
	}
	if err := g.Repo.InsertOverride(ctx, o); err != nil {
		return o, fmt.Errorf("record override: %w", err)
	}
	if err := g.Events.Append(ctx, nil, events.BudgetOverride, "", "budget_override", req.CampaignID, req.ActorID, events.EventPayload{
		"actor_type": req.ActorType,
		"mode":       string(mode),
		"user_id":    req.UserID,
	}); err != nil {
		g.logger().Warn("override event append failed", zap.Error(err))
	}
	g.logger().Warn("budget override granted", zap.String("actor_id", req.ActorID), zap.String("actor_type", req.ActorType), zap.String("mode", string(mode)))
	return o, nil
}

func (g Guard) Pool(ctx context.Context, userID string) (domain.BudgetPool, error) {
	return g.Repo.GetPool(ctx, nil, userID)
}

// FundPool adds money to a user's pool, creating it on first use.
func (g Guard) FundPool(ctx context.Context, userID string, amount, rollover float64, rolloverExpiresAt string) (domain.BudgetPool, error) {
	if userID == "" {
		return domain.BudgetPool{}, errors.New("user_id is required")
	}
	if amount < 0 || rollover < 0 {
		return domain.BudgetPool{}, errors.New("amounts must not be negative")
	}
	var pool domain.BudgetPool
	err := g.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := g.Repo.FundPool(ctx, tx, userID, amount+rollover, rollover, rolloverExpiresAt, g.now()); err != nil {
			return err
		}
		var err error
		pool, err = g.Repo.GetPool(ctx, tx, userID)
		return err
	})
	return pool, err
}

type AllocationRequest struct {
	UserID      string  `json:"user_id" validate:"required"`
	RunID       string  `json:"run_id,omitempty"`
	Platform    string  `json:"platform" validate:"required"`
	Budget      float64 `json:"budget" validate:"gt=0"`
	DailyBudget float64 `json:"daily_budget" validate:"gte=0"`
}

// AllocateCampaign reserves a campaign budget out of the pool's available balance.
func (g Guard) AllocateCampaign(ctx context.Context, req AllocationRequest) (domain.Campaign, error) {
	if err := domain.Validate(req); err != nil {
		return domain.Campaign{}, err
	}
	if limit := g.Config.MaxPerCampaign; limit > 0 && req.Budget > limit {
		return domain.Campaign{}, &AllocationError{Reason: fmt.Sprintf("budget %.2f exceeds max_per_campaign %.2f", req.Budget, limit)}
	}
	if limit := g.Config.MaxPerDay; limit > 0 && req.DailyBudget > limit {
		return domain.Campaign{}, &AllocationError{Reason: fmt.Sprintf("daily budget %.2f exceeds max_per_day %.2f", req.DailyBudget, limit)}
	}
	now := g.now()
	c := domain.Campaign{
		ID:          uuid.NewString(),
		UserID:      req.UserID,
		RunID:       req.RunID,
		Platform:    req.Platform,
		Status:      "active",
		Budget:      req.Budget,
		DailyBudget: req.DailyBudget,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := g.Repo.InTx(ctx, func(tx *sql.Tx) error {
		pool, err := g.Repo.GetPool(ctx, tx, req.UserID)
		if errors.Is(err, repo.ErrNotFound) {
			return &AllocationError{Reason: "no budget pool for user " + req.UserID}
		}
		if err != nil {
			return err
		}
		ok, err := g.Repo.InsertCampaignIfAffordable(ctx, tx, c)
		if err != nil {
			return err
		}
		if !ok {
			return &AllocationError{Reason: fmt.Sprintf("budget %.2f exceeds available balance %.2f", req.Budget, pool.AvailableBalance)}
		}
		return nil
	})
	if err != nil {
		return domain.Campaign{}, err
	}
	return c, nil
}

// RecordSpend increments pool and campaign spend with a single storage-level update each.
func (g Guard) RecordSpend(ctx context.Context, userID, campaignID string, amount float64) (domain.BudgetPool, error) {
	if amount < 0 {
		return domain.BudgetPool{}, errors.New("spend must not be negative")
	}
	var pool domain.BudgetPool
	err := g.Repo.InTx(ctx, func(tx *sql.Tx) error {
		if err := g.Repo.AddSpend(ctx, tx, userID, campaignID, amount, g.now()); err != nil {
			return err
		}
		var err error
		pool, err = g.Repo.GetPool(ctx, tx, userID)
		return err
	})
	if err != nil {
		return pool, fmt.Errorf("record spend for %s: %w", userID, err)
	}
	spendTotal.Add(amount)
	return pool, nil
}

// SpendUpdate is the outcome of applying a platform's lifetime spend figure.
type SpendUpdate struct {
	Campaign domain.Campaign `json:"campaign"`
	Previous float64         `json:"previous_spent"`
	Delta    float64         `json:"delta"`
}

const maxSpendAttempts = 3

// ApplyReportedSpend raises a campaign's spend to the lifetime figure its platform reports and charges the
// difference to the pool. Figures at or below the stored spend leave everything unchanged.
func (g Guard) ApplyReportedSpend(ctx context.Context, campaignID string, lifetime float64) (SpendUpdate, error) {
	if lifetime < 0 {
		return SpendUpdate{}, errors.New("spend must not be negative")
	}
	var upd SpendUpdate
	var err error
	for attempt := 1; attempt <= maxSpendAttempts; attempt++ {
		upd = SpendUpdate{}
		err = g.Repo.InTx(ctx, func(tx *sql.Tx) error {
			prev, delta, err := g.Repo.RaiseCampaignSpend(ctx, tx, campaignID, lifetime, g.now())
			if err != nil {
				return err
			}
			upd.Previous, upd.Delta = prev, delta
			upd.Campaign, err = g.Repo.GetCampaign(ctx, tx, campaignID)
			return err
		})
		if !errors.Is(err, repo.ErrConflict) {
			break
		}
		g.logger().Debug("campaign spend moved during update; retrying", zap.String("campaign_id", campaignID), zap.Int("attempt", attempt))
	}
	if err != nil {
		return upd, fmt.Errorf("apply reported spend for %s: %w", campaignID, err)
	}
	spendTotal.Add(upd.Delta)
	return upd, nil
}

func (g Guard) Campaigns(ctx context.Context, userID, status string) ([]domain.Campaign, error) {
	return g.Repo.ListCampaigns(ctx, userID, status)
}

func (g Guard) Audit(ctx context.Context, userID string, limit int) ([]domain.BudgetDecision, error) {
	return g.Repo.ListBudgetDecisions(ctx, userID, limit)
}

// Package budget enforces ad spend guardrails and keeps per-user budget pools.
package budget

import (
	"fmt"
	"math"
)

type Tier string

const (
	TierOK         Tier = "ok"
	TierWarning    Tier = "warning"
	TierKillSwitch Tier = "kill_switch"
	TierCritical   Tier = "critical"
)

type Mode string

const (
	ModeHard Mode = "hard"
	ModeSoft Mode = "soft"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeHard, ModeSoft:
		return m, nil
	}
	return "", &OverrideError{Code: CodeInvalidMode, Message: fmt.Sprintf("unknown enforcement mode %q", s)}
}

// Thresholds are utilization ratios, 0.8 meaning 80%.
type Thresholds struct {
	Warning    float64
	KillSwitch float64
	Critical   float64
}

func DefaultThresholds() Thresholds {
	return Thresholds{Warning: 0.8, KillSwitch: 1.2, Critical: 1.5}
}

func (t Thresholds) Tier(utilization float64) Tier {
	switch {
	case utilization >= t.Critical:
		return TierCritical
	case utilization >= t.KillSwitch:
		return TierKillSwitch
	case utilization >= t.Warning:
		return TierWarning
	}
	return TierOK
}

type Check struct {
	Allowed bool    `json:"allowed"`
	Tier    Tier    `json:"status"`
	Mode    Mode    `json:"mode"`
	Percent float64 `json:"utilization_pct"`
	Message string  `json:"message"`
}

// Evaluate classifies (current+proposed)/limit. Critical always blocks; kill_switch blocks only in
// hard mode. Malformed input blocks.
func Evaluate(current, proposed, limit float64, mode Mode, t Thresholds) Check {
	if mode != ModeHard && mode != ModeSoft {
		return Check{Tier: TierCritical, Mode: mode, Message: fmt.Sprintf("unknown enforcement mode %q; spend blocked", mode)}
	}
	if limit <= 0 || current < 0 || proposed < 0 || math.IsNaN(current+proposed+limit) || math.IsInf(current+proposed+limit, 0) {
		return Check{Tier: TierCritical, Mode: mode, Message: fmt.Sprintf("invalid budget input (current=%g proposed=%g limit=%g); spend blocked", current, proposed, limit)}
	}
	util := (current + proposed) / limit
	pct := math.Round(util*10000) / 100
	c := Check{Tier: t.Tier(util), Mode: mode, Percent: pct}
	switch c.Tier {
	case TierCritical:
		c.Message = fmt.Sprintf("critical: %.2f%% of limit; spend blocked in every mode", pct)
	case TierKillSwitch:
		if mode == ModeHard {
			c.Message = fmt.Sprintf("kill switch: %.2f%% of limit; spend blocked in hard mode", pct)
		} else {
			c.Allowed = true
			c.Message = fmt.Sprintf("warning: kill switch reached at %.2f%% of limit; allowed in soft mode and logged", pct)
		}
	case TierWarning:
		c.Allowed = true
		c.Message = fmt.Sprintf("warning: %.2f%% of limit; escalation recommended", pct)
	default:
		c.Allowed = true
		c.Message = fmt.Sprintf("ok: %.2f%% of limit", pct)
	}
	return c
}

const (
	CodeNotAuthorized  = "OVERRIDE_NOT_AUTHORIZED"
	CodeRationaleShort = "RATIONALE_TOO_SHORT"
	CodeInvalidMode    = "INVALID_ENFORCEMENT_MODE"
)

// OverrideError carries a machine-readable rejection code.
type OverrideError struct {
	Code    string
	Message string
}

func (e *OverrideError) Error() string { return e.Code + ": " + e.Message }

// AllocationError reports why a campaign budget could not be reserved.
type AllocationError struct {
	Reason string
}

func (e *AllocationError) Error() string { return "campaign allocation rejected: " + e.Reason }

package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"venturegate/internal/domain"
	"venturegate/internal/engine/auth"
	"venturegate/internal/events"
	"venturegate/internal/pivot"
	"venturegate/internal/router"
)

const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Approval outcomes.
const (
	ApprovalResumed   = "resumed"
	ApprovalRejected  = "rejected"
	ApprovalCompleted = "completed"
)

type ApproveRequest struct {
	RunID      string `json:"run_id" validate:"required"`
	Checkpoint string `json:"checkpoint" validate:"required"`
	// Decision is "approved", "rejected" or the id of one of the checkpoint options.
	Decision string   `json:"decision" validate:"required"`
	Feedback string   `json:"feedback,omitempty"`
	ActorID  string   `json:"-"`
	Roles    []string `json:"-"`
}

type ApproveResult struct {
	Status    string               `json:"status"`
	Option    string               `json:"option,omitempty"`
	NextPhase *int                 `json:"next_phase,omitempty"`
	Run       domain.ValidationRun `json:"-"`
	// Schedule is true when a resume unit must be dispatched for the run.
	Schedule bool `json:"-"`
}

// Approve resolves the pending checkpoint of a paused run.
func (e Engine) Approve(ctx context.Context, req ApproveRequest) (ApproveResult, error) {
	if err := domain.Validate(req); err != nil {
		return ApproveResult{}, err
	}
	run, err := e.Checkpoints.Resume(ctx, req.RunID)
	if err != nil {
		return ApproveResult{}, err
	}
	cp, err := e.Checkpoints.Pending(ctx, req.RunID)
	if err != nil {
		return ApproveResult{}, err
	}
	if cp == nil || cp.Name != req.Checkpoint || run.Status != domain.RunPaused {
		pending := "none"
		if cp != nil {
			pending = cp.Name
		}
		return ApproveResult{}, fmt.Errorf("%w: %s requested, pending %s", ErrCheckpointMismatch, req.Checkpoint, pending)
	}
	log := e.logger().With(zap.String("run_id", run.RunID), zap.String("checkpoint", cp.Name), zap.String("actor_id", req.ActorID))

	if req.Decision == DecisionRejected {
		run.Status = domain.RunPaused
		run.HITLState = "rejected_" + cp.Name
		err := e.Checkpoints.Resolve(ctx, &run, *cp, DecisionRejected, req.Feedback, req.ActorID, func(tx *sql.Tx) error {
			return e.Events.Append(ctx, tx, events.HITLRejected, run.RunID, "hitl_request", cp.ID, req.ActorID, events.EventPayload{
				"checkpoint_name": cp.Name,
				"feedback":        req.Feedback,
			})
		})
		if err != nil {
			return ApproveResult{}, err
		}
		log.Info("checkpoint rejected")
		return ApproveResult{Status: ApprovalRejected, Run: run}, nil
	}

	plan, err := router.PlanFor(cp.Phase, run.LastDecision)
	if err != nil {
		return ApproveResult{}, err
	}
	if plan.Checkpoint != cp.Name {
		return ApproveResult{}, fmt.Errorf("%w: run decision %s opens %s", ErrCheckpointMismatch, run.LastDecision, plan.Checkpoint)
	}
	optionID := req.Decision
	if optionID == DecisionApproved {
		optionID = plan.Recommended
	}
	opt, ok := plan.Option(optionID)
	if !ok {
		return ApproveResult{}, fmt.Errorf("%w: %q at %s", ErrUnknownOption, optionID, cp.Name)
	}
	if opt.Action == router.ActionOverrideProceed {
		g, _ := domain.GateForPhase(cp.Phase)
		policy := e.Policies.For(ctx, run.UserID, g)
		if err := auth.RequireOverrideRole(string(g), req.Roles, policy.OverrideRoles); err != nil {
			log.Warn("override refused", zap.Strings("roles", req.Roles))
			return ApproveResult{}, err
		}
	}

	reason := strings.TrimSpace(req.Feedback)
	if reason == "" {
		reason = fmt.Sprintf("%s chosen at %s", opt.ID, cp.Name)
	}
	evt, payload, err := e.apply(&run, opt, reason)
	if err != nil {
		return ApproveResult{}, err
	}
	err = e.Checkpoints.Resolve(ctx, &run, *cp, req.Decision, req.Feedback, req.ActorID, func(tx *sql.Tx) error {
		if err := e.Events.Append(ctx, tx, events.HITLApproved, run.RunID, "hitl_request", cp.ID, req.ActorID, events.EventPayload{
			"checkpoint_name": cp.Name,
			"option":          opt.ID,
			"action":          string(opt.Action),
		}); err != nil {
			return err
		}
		if evt == "" {
			return nil
		}
		return e.Events.Append(ctx, tx, evt, run.RunID, "run", run.RunID, req.ActorID, payload)
	})
	if err != nil {
		return ApproveResult{}, err
	}

	out := ApproveResult{Option: opt.ID, Run: run}
	if run.Status == domain.RunCompleted {
		out.Status = ApprovalCompleted
		log.Info("run finished by approval", zap.String("option", opt.ID), zap.String("final_decision", run.FinalDecision))
		return out, nil
	}
	next := int(run.CurrentPhase)
	out.Status = ApprovalResumed
	out.NextPhase = &next
	out.Schedule = true
	log.Info("checkpoint approved", zap.String("option", opt.ID), zap.String("next_phase", run.CurrentPhase.Name()))
	return out, nil
}

// apply performs an option's action on run and returns the run event to record.
func (e Engine) apply(run *domain.ValidationRun, opt router.Option, reason string) (string, events.EventPayload, error) {
	ceiling := e.config().Pivots.RetryCeiling
	now := e.now()
	from := run.CurrentPhase
	switch opt.Action {
	case router.ActionProceed, router.ActionOverrideProceed:
		evt := advance(run)
		if evt != "" {
			run.DecisionRationale = reason
		}
		return evt, events.EventPayload{"final_decision": run.FinalDecision}, nil
	case router.ActionComplete:
		complete(run)
		run.DecisionRationale = reason
		return events.RunCompleted, events.EventPayload{"final_decision": run.FinalDecision}, nil
	case router.ActionKill:
		pivot.Kill(run, reason, now)
		return events.RunKilled, events.EventPayload{"reason": reason}, nil
	case router.ActionRetry:
		return loopEvent(run, pivot.Retry(run, reason, ceiling, now), from)
	case router.ActionPivot:
		out, err := pivot.Apply(run, opt.Pivot, reason, ceiling, now)
		if err != nil {
			return "", nil, err
		}
		return loopEvent(run, out, from)
	}
	return "", nil, fmt.Errorf("option %s has no action", opt.ID)
}

func loopEvent(run *domain.ValidationRun, out pivot.Outcome, from domain.Phase) (string, events.EventPayload, error) {
	if out.Killed {
		return events.RunKilled, events.EventPayload{"reason": out.Record.Reason, "escalated": out.Escalated}, nil
	}
	return events.RunPivoted, events.EventPayload{
		"pivot_type": string(out.Record.Type),
		"from_phase": from.Name(),
		"to_phase":   run.CurrentPhase.Name(),
		"retries":    run.RetryCounts[run.CurrentPhase],
	}, nil
}

// Restart rewinds a paused, failed or finished run to phase and makes it runnable again. Any pending
// checkpoint is superseded.
func (e Engine) Restart(ctx context.Context, runID string, phase domain.Phase, actorID, reason string) (domain.ValidationRun, error) {
	run, err := e.Checkpoints.Resume(ctx, runID)
	if err != nil {
		return run, err
	}
	if run.Status == domain.RunPending || run.Status == domain.RunRunning {
		return run, fmt.Errorf("%w: %s is %s", ErrRunNotRunnable, runID, run.Status)
	}
	if reason == "" {
		reason = "operator restart"
	}
	from := run.CurrentPhase
	if err := pivot.Rewind(&run, phase, reason, e.now()); err != nil {
		return run, err
	}
	err = e.Checkpoints.Commit(ctx, &run, func(tx *sql.Tx) error {
		if _, err := e.Repo.SupersedePending(ctx, tx, run.RunID, ""); err != nil {
			return err
		}
		return e.Events.Append(ctx, tx, events.RunRestarted, run.RunID, "run", run.RunID, actorID, events.EventPayload{
			"from_phase": from.Name(),
			"to_phase":   phase.Name(),
			"reason":     reason,
		})
	})
	if err != nil {
		return run, err
	}
	e.logger().Info("run restarted", zap.String("run_id", run.RunID), zap.String("phase", phase.Name()), zap.String("actor_id", actorID))
	return run, nil
}

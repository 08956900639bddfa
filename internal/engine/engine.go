// Package engine drives validation runs one phase at a time. Every unit of work loads the run, executes
// a single phase and saves it again; callers decide whether to continue.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"venturegate/internal/checkpoint"
	"venturegate/internal/config"
	"venturegate/internal/crew"
	"venturegate/internal/domain"
	"venturegate/internal/events"
	"venturegate/internal/gate"
	"venturegate/internal/repo"
	"venturegate/internal/router"
)

var (
	ErrCheckpointMismatch = errors.New("checkpoint is not the pending checkpoint of the run")
	ErrRunNotRunnable     = errors.New("run is not runnable")
	ErrUnknownOption      = errors.New("unknown checkpoint option")
)

var (
	tracer = otel.Tracer("venturegate/engine")

	phaseRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "venturegate_phase_runs_total",
		Help: "Phase executions by phase and outcome.",
	}, []string{"phase", "outcome"})
	phaseDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "venturegate_phase_duration_seconds",
		Help:    "Wall time of a phase execution including the crew call.",
		Buckets: []float64{0.1, 1, 10, 60, 300, 900, 1800, 3600},
	}, []string{"phase"})
)

type Engine struct {
	Checkpoints checkpoint.Service
	Repo        repo.Repo
	Events      events.Writer
	Crew        crew.Crew
	Config      *config.Config
	Policies    gate.Policies
	Logger      *zap.Logger
	Now         func() time.Time
}

// New wires an engine over one sqlite database and a run-state store.
func New(db *sql.DB, runs checkpoint.Store, c crew.Crew, cfg *config.Config, logger *zap.Logger) Engine {
	r := repo.Repo{DB: db}
	w := events.Writer{DB: db}
	return Engine{
		Checkpoints: checkpoint.Service{DB: db, Repo: r, Runs: runs, Events: w, Logger: logger},
		Repo:        r,
		Events:      w,
		Crew:        c,
		Config:      cfg,
		Policies:    gate.Policies{Store: r, Defaults: cfg.GatePolicy, Logger: logger, NotFound: repo.ErrNotFound},
		Logger:      logger,
		Now:         time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func (e Engine) thresholds() router.Thresholds {
	return router.ThresholdsFromConfig(e.config().Routing)
}

type KickoffRequest struct {
	ProjectID         string `json:"project_id" validate:"required"`
	UserID            string `json:"user_id" validate:"required"`
	EntrepreneurInput string `json:"entrepreneur_input" validate:"required"`
	SessionID         string `json:"session_id,omitempty"`
}

// Kickoff creates a pending run at phase 0. Scheduling its first unit is up to the caller.
func (e Engine) Kickoff(ctx context.Context, req KickoffRequest, actorID string) (domain.ValidationRun, error) {
	if err := domain.Validate(req); err != nil {
		return domain.ValidationRun{}, err
	}
	run := domain.ValidationRun{
		RunID:             uuid.NewString(),
		ProjectID:         req.ProjectID,
		UserID:            req.UserID,
		SessionID:         req.SessionID,
		EntrepreneurInput: req.EntrepreneurInput,
		CurrentPhase:      domain.PhaseOnboarding,
		Status:            domain.RunPending,
	}
	err := e.Checkpoints.Commit(ctx, &run, func(tx *sql.Tx) error {
		return e.Events.Append(ctx, tx, events.RunKickoff, run.RunID, "run", run.RunID, actorID, events.EventPayload{
			"project_id": run.ProjectID,
			"user_id":    run.UserID,
		})
	})
	if err != nil {
		return domain.ValidationRun{}, fmt.Errorf("kickoff: %w", err)
	}
	e.logger().Info("run kicked off", zap.String("run_id", run.RunID), zap.String("project_id", run.ProjectID))
	return run, nil
}

// StepResult describes one executed phase.
type StepResult struct {
	Run        domain.ValidationRun
	Phase      domain.Phase
	Decision   domain.Decision
	Gate       *gate.Result
	Checkpoint *domain.HITLCheckpoint
	Failure    *domain.PhaseFailure
	// Continue is true when the run advanced without a human pause and the next phase may run now.
	Continue bool
}

// Step executes the current phase of a runnable run and persists the outcome. Crew failures are not
// returned as errors: they mark the run failed and show up in StepResult.Failure.
func (e Engine) Step(ctx context.Context, runID string) (StepResult, error) {
	ctx, span := tracer.Start(ctx, "engine.Step", trace.WithAttributes(attribute.String("run_id", runID)))
	defer span.End()

	res, err := e.step(ctx, runID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}
	span.SetAttributes(
		attribute.String("phase", res.Phase.Name()),
		attribute.String("decision", string(res.Decision)),
		attribute.Bool("continue", res.Continue),
	)
	if res.Failure != nil {
		span.SetStatus(codes.Error, res.Failure.Error())
	}
	return res, nil
}

func (e Engine) step(ctx context.Context, runID string) (StepResult, error) {
	run, err := e.Checkpoints.Resume(ctx, runID)
	if err != nil {
		return StepResult{}, err
	}
	if run.Status != domain.RunPending && run.Status != domain.RunRunning {
		return StepResult{Run: run}, fmt.Errorf("%w: %s is %s", ErrRunNotRunnable, runID, run.Status)
	}
	phase := run.CurrentPhase
	res := StepResult{Phase: phase}
	log := e.logger().With(zap.String("run_id", run.RunID), zap.String("phase", phase.Name()))

	run.Status = domain.RunRunning
	if err := e.Checkpoints.Commit(ctx, &run, func(tx *sql.Tx) error {
		return e.progress(ctx, tx, run, domain.ProgressStarted, "", "")
	}); err != nil {
		return res, err
	}
	log.Info("phase started")

	start := time.Now()
	result := e.runPhase(ctx, run, phase)
	phaseDuration.WithLabelValues(phase.Name()).Observe(time.Since(start).Seconds())

	if !result.OK() {
		res.Failure = result.Failure
		res.Run = run
		phaseRuns.WithLabelValues(phase.Name(), "failed").Inc()
		log.Error("phase failed", zap.String("error_kind", string(result.Failure.Kind)), zap.String("error", result.Failure.Message))
		run.Status = domain.RunFailed
		run.ErrorMessage = result.Failure.Error()
		err := e.Checkpoints.Commit(ctx, &run, func(tx *sql.Tx) error {
			if err := e.progress(ctx, tx, run, domain.ProgressFailed, "", result.Failure.Message); err != nil {
				return err
			}
			return e.Events.Append(ctx, tx, events.PhaseFailed, run.RunID, "run", run.RunID, "", events.EventPayload{
				"phase":       phase.Name(),
				"error_kind":  string(result.Failure.Kind),
				"message":     result.Failure.Message,
				"recoverable": result.Failure.Recoverable,
			})
		})
		res.Run = run
		return res, err
	}

	result.Output.Apply(&run)
	run.ErrorMessage = ""
	decision := e.route(&run, phase)
	if g, ok := domain.GateForPhase(phase); ok && router.IsProceed(decision) {
		policy := e.Policies.For(ctx, run.UserID, g)
		gr := gate.Evaluate(policy, gate.Summarize(run, g), gate.SignalFor(run, g))
		res.Gate = &gr
		switch {
		case !gr.GateReady:
			decision = domain.DecisionInsufficientEvidence
			run.DecisionRationale = fmt.Sprintf("%s gate not cleared: %v", g, gr.Blockers)
		case !policy.RequiresApproval:
			res.Decision = decision
			return e.autoAdvance(ctx, run, res, log)
		}
	}
	res.Decision = decision
	run.LastDecision = decision

	plan, err := router.PlanFor(phase, decision)
	if err != nil {
		return res, err
	}
	hitl := &domain.HITLCheckpoint{
		Name:              plan.Checkpoint,
		Title:             plan.Title,
		Description:       plan.Description,
		Options:           plan.CheckpointOptions(),
		RecommendedOption: plan.Recommended,
		Context:           hitlContext(run, phase, decision, res.Gate),
	}
	if err := e.Checkpoints.CheckpointWith(ctx, &run, hitl, func(tx *sql.Tx) error {
		if err := e.progress(ctx, tx, run, domain.ProgressCompleted, string(decision), run.DecisionRationale); err != nil {
			return err
		}
		return e.phaseCompleted(ctx, tx, run, phase, decision)
	}); err != nil {
		return res, err
	}
	phaseRuns.WithLabelValues(phase.Name(), "paused").Inc()
	log.Info("phase completed; awaiting approval", zap.String("decision", string(decision)), zap.String("checkpoint", hitl.Name))
	res.Run = run
	res.Checkpoint = hitl
	return res, nil
}

// autoAdvance takes the recommended option of a cleared gate whose policy waives approval.
func (e Engine) autoAdvance(ctx context.Context, run domain.ValidationRun, res StepResult, log *zap.Logger) (StepResult, error) {
	phase := res.Phase
	decision := res.Decision
	completed := run
	evt := advance(&run)
	err := e.Checkpoints.Commit(ctx, &run, func(tx *sql.Tx) error {
		if err := e.progress(ctx, tx, completed, domain.ProgressCompleted, string(decision), completed.DecisionRationale); err != nil {
			return err
		}
		if err := e.phaseCompleted(ctx, tx, completed, phase, decision); err != nil {
			return err
		}
		if evt == "" {
			return nil
		}
		return e.Events.Append(ctx, tx, evt, run.RunID, "run", run.RunID, "", events.EventPayload{
			"final_decision": run.FinalDecision,
		})
	})
	if err != nil {
		return res, err
	}
	phaseRuns.WithLabelValues(phase.Name(), "advanced").Inc()
	log.Info("phase completed; gate waives approval", zap.String("decision", string(decision)))
	res.Run = run
	res.Continue = run.Status == domain.RunRunning
	return res, nil
}

// Drive runs steps until the run pauses, fails, completes or ctx ends.
func (e Engine) Drive(ctx context.Context, runID string) (StepResult, error) {
	for {
		res, err := e.Step(ctx, runID)
		if err != nil || !res.Continue {
			return res, err
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
	}
}

func (e Engine) runPhase(ctx context.Context, run domain.ValidationRun, phase domain.Phase) domain.PhaseResult {
	if e.Crew == nil {
		return domain.PhaseResult{Failure: &domain.PhaseFailure{Kind: domain.FailureCrew, Phase: phase, Message: "no crew configured"}}
	}
	raw, err := e.Crew.Run(ctx, phase, crew.InputsFor(run, feedbackFor(run)))
	if err != nil {
		return domain.PhaseResult{Failure: &domain.PhaseFailure{Kind: domain.FailureCrew, Phase: phase, Message: err.Error(), Recoverable: true}}
	}
	out, err := crew.Decode(phase, raw)
	if err != nil {
		return domain.PhaseResult{Failure: &domain.PhaseFailure{Kind: domain.FailureContract, Phase: phase, Message: err.Error()}}
	}
	return domain.PhaseResult{Output: &out}
}

// feedbackFor returns the reviewer note that sent the run back to its current phase.
func feedbackFor(run domain.ValidationRun) string {
	if n := len(run.PivotHistory); n > 0 {
		last := run.PivotHistory[n-1]
		if last.ToPhase == run.CurrentPhase {
			return last.Reason
		}
	}
	return ""
}

// route sets the phase signal and rationale on run and returns the router decision.
func (e Engine) route(run *domain.ValidationRun, phase domain.Phase) domain.Decision {
	t := e.thresholds()
	switch phase {
	case domain.PhaseOnboarding:
		run.DecisionRationale = "founder's brief drafted"
		return domain.DecisionBriefReady
	case domain.PhaseDiscovery:
		run.DecisionRationale = "customer profile and value map drafted"
		return domain.DecisionDiscoveryComplete
	case domain.PhaseDesirability:
		r := t.Desirability(*run.DesirabilityEvidence)
		run.DesirabilitySignal = r.Signal
		run.PivotRecommendation = r.PivotRecommendation
		run.DecisionRationale = r.Rationale
		if run.DesirabilityEvidence.Fallback {
			run.DecisionRationale += " (crew output unusable; conservative fallback evidence applied)"
		}
		return r.Decision
	case domain.PhaseFeasibility:
		r := t.Feasibility(*run.FeasibilityEvidence)
		run.FeasibilitySignal = r.Signal
		run.PivotRecommendation = r.PivotRecommendation
		run.DecisionRationale = r.Rationale
		return r.Decision
	default:
		r := t.Viability(*run.ViabilityEvidence)
		run.ViabilitySignal = r.Signal
		run.PivotRecommendation = r.PivotRecommendation
		run.DecisionRationale = r.Rationale
		return r.Decision
	}
}

func (e Engine) progress(ctx context.Context, tx *sql.Tx, run domain.ValidationRun, status, decision, message string) error {
	return e.Repo.AppendProgress(ctx, tx, domain.ProgressEntry{
		RunID:     run.RunID,
		Phase:     run.CurrentPhase,
		PhaseName: run.CurrentPhase.Name(),
		Status:    status,
		Decision:  decision,
		Message:   message,
		CreatedAt: e.now().Format(time.RFC3339),
	})
}

func (e Engine) phaseCompleted(ctx context.Context, tx *sql.Tx, run domain.ValidationRun, phase domain.Phase, decision domain.Decision) error {
	payload := events.EventPayload{"phase": phase.Name(), "decision": string(decision)}
	switch phase {
	case domain.PhaseDesirability:
		payload["signal"] = string(run.DesirabilitySignal)
	case domain.PhaseFeasibility:
		payload["signal"] = string(run.FeasibilitySignal)
	case domain.PhaseViability:
		payload["signal"] = string(run.ViabilitySignal)
	}
	return e.Events.Append(ctx, tx, events.PhaseCompleted, run.RunID, "run", run.RunID, "", payload)
}

func hitlContext(run domain.ValidationRun, phase domain.Phase, decision domain.Decision, gr *gate.Result) map[string]any {
	c := map[string]any{
		"phase":     phase.Name(),
		"decision":  string(decision),
		"rationale": run.DecisionRationale,
	}
	if run.PivotRecommendation != "" {
		c["pivot_recommendation"] = run.PivotRecommendation
	}
	if gr != nil {
		c["gate"] = map[string]any{
			"gate":            string(gr.Gate),
			"gate_ready":      gr.GateReady,
			"blockers":        gr.Blockers,
			"readiness_score": gr.ReadinessScore,
		}
	}
	if n := run.RetryCounts[phase]; n > 0 {
		c["retries"] = n
	}
	return c
}

// advance moves the run one phase forward, completing it past the last phase. It returns the run event
// to record, if any.
func advance(run *domain.ValidationRun) string {
	run.HITLState = ""
	run.LastDecision = ""
	if run.CurrentPhase >= domain.FinalPhase {
		complete(run)
		return events.RunCompleted
	}
	run.CurrentPhase++
	run.Status = domain.RunRunning
	return ""
}

func complete(run *domain.ValidationRun) {
	run.Status = domain.RunCompleted
	run.FinalDecision = domain.FinalDecisionValidated
	run.HITLState = ""
	run.LastDecision = ""
}

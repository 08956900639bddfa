package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"venturegate/internal/checkpoint"
	"venturegate/internal/domain"
	"venturegate/internal/engine"
	"venturegate/internal/repo"
)

var clientErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusInternalServerError,
}

func registerRuns(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID:   "kickoff",
		Method:        http.MethodPost,
		Path:          "/kickoff",
		Summary:       "Start a validation run",
		DefaultStatus: http.StatusAccepted,
		Errors:        clientErrors,
	}, func(ctx context.Context, input *struct {
		Body engine.KickoffRequest `json:"body"`
	}) (*struct {
		Body KickoffResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		run, err := e.Kickoff(ctx, input.Body, principal.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := schedule(ctx, cfg, run.RunID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KickoffResponse `json:"body"`
		}{Body: KickoffResponse{RunID: run.RunID, Status: "started"}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status/{run_id}",
		Summary:     "Run status",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body engine.StatusView `json:"body"`
	}, error) {
		view, err := e.Status(ctx, input.RunID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.StatusView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List runs",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		UserID    string `query:"user_id"`
		Status    string `query:"status"`
		Limit     int    `query:"limit"`
	}) (*struct {
		Body []RunSummary `json:"body"`
	}, error) {
		runs, err := e.Checkpoints.Runs.List(ctx, checkpoint.ListFilter{
			ProjectID: input.ProjectID,
			UserID:    input.UserID,
			Status:    domain.RunStatus(input.Status),
			Limit:     normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []RunSummary `json:"body"`
		}{Body: mapRuns(runs)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-run-checkpoints",
		Method:      http.MethodGet,
		Path:        "/runs/{run_id}/checkpoints",
		Summary:     "List a run's checkpoints",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		RunID string `path:"run_id"`
	}) (*struct {
		Body []domain.HITLCheckpoint `json:"body"`
	}, error) {
		if _, err := e.Checkpoints.Resume(ctx, input.RunID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListCheckpoints(ctx, repo.CheckpointFilter{RunID: input.RunID})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.HITLCheckpoint{}
		}
		return &struct {
			Body []domain.HITLCheckpoint `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restart-run",
		Method:      http.MethodPost,
		Path:        "/runs/{run_id}/restart",
		Summary:     "Rewind a stopped run to a phase and resume it",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		RunID string         `path:"run_id"`
		Body  RestartRequest `json:"body"`
	}) (*struct {
		Body RunSummary `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		phase, err := domain.ParsePhase(input.Body.Phase)
		if err != nil {
			return nil, handleError(err)
		}
		run, err := e.Restart(ctx, input.RunID, phase, principal.ActorID, input.Body.Reason)
		if err != nil {
			return nil, handleError(err)
		}
		if err := schedule(ctx, cfg, run.RunID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunSummary `json:"body"`
		}{Body: mapRun(run)}, nil
	})
}

func registerHITL(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "hitl-approve",
		Method:      http.MethodPost,
		Path:        "/hitl/approve",
		Summary:     "Decide a pending checkpoint",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Body engine.ApproveRequest `json:"body"`
	}) (*struct {
		Body engine.ApproveResult `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req := input.Body
		req.ActorID = principal.ActorID
		req.Roles = principal.Roles
		res, err := e.Approve(ctx, req)
		if err != nil {
			return nil, handleError(err)
		}
		if res.Schedule {
			if err := schedule(ctx, cfg, req.RunID); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body engine.ApproveResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-checkpoints",
		Method:      http.MethodGet,
		Path:        "/hitl",
		Summary:     "List checkpoints across runs",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,resolved,expired,superseded" default:"pending"`
		Limit  int    `query:"limit"`
	}) (*struct {
		Body []domain.HITLCheckpoint `json:"body"`
	}, error) {
		items, err := e.Repo.ListCheckpoints(ctx, repo.CheckpointFilter{
			Status: domain.CheckpointStatus(input.Status),
			Limit:  normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.HITLCheckpoint{}
		}
		return &struct {
			Body []domain.HITLCheckpoint `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "hitl-sweep",
		Method:      http.MethodPost,
		Path:        "/hitl/sweep",
		Summary:     "Expire stale pending checkpoints",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		Body SweepRequest `json:"body" required:"false"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		ttl := e.Config.Checkpoints.TTL
		if input.Body.TTL != "" {
			d, err := time.ParseDuration(input.Body.TTL)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("invalid ttl %q", input.Body.TTL), nil)
			}
			ttl = d
		}
		expired, err := e.Checkpoints.Sweep(ctx, ttl)
		if err != nil {
			return nil, handleError(err)
		}
		if expired == nil {
			expired = []domain.HITLCheckpoint{}
		}
		cfg.logger().Info("checkpoint sweep", zap.Duration("ttl", ttl), zap.Int("expired", len(expired)))
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{TTL: ttl.String(), Expired: expired}}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Latest run log events",
		Errors:      clientErrors,
	}, func(ctx context.Context, input *struct {
		RunID string `query:"run_id"`
		Type  string `query:"type"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), repo.EventFilter{RunID: input.RunID, Type: input.Type})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

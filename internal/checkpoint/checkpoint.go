// Package checkpoint implements the checkpoint-and-resume protocol: run snapshots are saved at every
// HITL boundary so a paused run holds no memory or goroutines until a human decides.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"venturegate/internal/domain"
	"venturegate/internal/events"
	"venturegate/internal/repo"
)

var checkpointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "venturegate_hitl_checkpoints_total",
	Help: "HITL checkpoint lifecycle transitions.",
}, []string{"action"})

// Service owns run snapshots and the hitl_requests rows that pause them.
type Service struct {
	DB     *sql.DB
	Repo   repo.Repo
	Runs   Store
	Events events.Writer
	Logger *zap.Logger
	Now    func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s Service) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

// Commit stamps and saves run, running extra in the same sqlite transaction. When the run store cannot
// join the transaction the snapshot is written right after commit.
func (s Service) Commit(ctx context.Context, run *domain.ValidationRun, extra func(tx *sql.Tx) error) error {
	now := s.now().Format(time.RFC3339)
	if run.StartedAt == "" {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	txStore, joins := s.Runs.(TxStore)
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if extra != nil {
		if err := extra(tx); err != nil {
			return err
		}
	}
	if joins {
		if err := txStore.SaveTx(ctx, tx, *run); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	if !joins {
		if err := s.Runs.Save(ctx, *run); err != nil {
			return err
		}
	}
	return nil
}

// Checkpoint persists the run. With a HITL request the run is paused on it and any earlier pending
// request of the run is superseded; without one a paused run goes back to running. Re-checkpointing
// with an already stored pending request is a no-op apart from the snapshot write.
func (s Service) Checkpoint(ctx context.Context, run *domain.ValidationRun, hitl *domain.HITLCheckpoint) error {
	return s.CheckpointWith(ctx, run, hitl, nil)
}

// CheckpointWith is Checkpoint with extra writes committed in the same transaction as the request and
// the snapshot. extra is skipped when the request is a replay of a stored pending one.
func (s Service) CheckpointWith(ctx context.Context, run *domain.ValidationRun, hitl *domain.HITLCheckpoint, extra func(tx *sql.Tx) error) error {
	if run.RunID == "" {
		return errors.New("run_id is required")
	}
	if hitl == nil {
		if run.Status == domain.RunPaused || run.Status == domain.RunPending || run.Status == "" {
			run.Status = domain.RunRunning
		}
		run.HITLState = ""
		return s.Commit(ctx, run, extra)
	}
	if hitl.Name == "" {
		return errors.New("checkpoint name is required")
	}
	if hitl.RecommendedOption != "" && !hitl.HasOption(hitl.RecommendedOption) {
		return fmt.Errorf("recommended option %q is not among the options of %s", hitl.RecommendedOption, hitl.Name)
	}
	run.Status = domain.RunPaused
	run.HITLState = hitl.Name

	var superseded int64
	replay := false
	err := s.Commit(ctx, run, func(tx *sql.Tx) error {
		if hitl.ID != "" {
			existing, err := s.Repo.GetCheckpoint(ctx, tx, hitl.ID)
			switch {
			case err == nil && existing.Status == domain.CheckpointPending:
				replay = true
				*hitl = existing
				return nil
			case err == nil:
				return fmt.Errorf("checkpoint %s is %s: %w", hitl.ID, existing.Status, repo.ErrConflict)
			case !errors.Is(err, repo.ErrNotFound):
				return err
			}
		} else {
			hitl.ID = uuid.NewString()
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return err
			}
		}
		hitl.RunID = run.RunID
		hitl.Phase = run.CurrentPhase
		hitl.Status = domain.CheckpointPending
		hitl.CreatedAt = run.UpdatedAt

		n, err := s.Repo.SupersedePending(ctx, tx, run.RunID, "")
		if err != nil {
			return err
		}
		superseded = n
		if n > 0 {
			if err := s.Events.Append(ctx, tx, events.HITLSuperseded, run.RunID, "hitl_request", "", "", events.EventPayload{"count": n}); err != nil {
				return err
			}
		}
		if err := s.Repo.InsertCheckpoint(ctx, tx, *hitl); err != nil {
			return fmt.Errorf("insert checkpoint %s: %w", hitl.Name, err)
		}
		return s.Events.Append(ctx, tx, events.HITLRequested, run.RunID, "hitl_request", hitl.ID, "", events.EventPayload{
			"checkpoint_name":    hitl.Name,
			"phase":              hitl.Phase.Name(),
			"recommended_option": hitl.RecommendedOption,
		})
	})
	if err != nil {
		return err
	}
	if !replay {
		checkpointsTotal.WithLabelValues("requested").Inc()
		if superseded > 0 {
			checkpointsTotal.WithLabelValues("superseded").Add(float64(superseded))
		}
	}
	s.logger().Info("run checkpointed",
		zap.String("run_id", run.RunID),
		zap.String("phase", run.CurrentPhase.Name()),
		zap.String("checkpoint", hitl.Name),
		zap.Bool("replay", replay))
	return nil
}

// Resume loads the last persisted snapshot of a run.
func (s Service) Resume(ctx context.Context, runID string) (domain.ValidationRun, error) {
	return s.Runs.Load(ctx, runID)
}

// Pending returns the run's pending request or nil.
func (s Service) Pending(ctx context.Context, runID string) (*domain.HITLCheckpoint, error) {
	cp, err := s.Repo.PendingForRun(ctx, nil, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

// Resolve records a decision on a pending request and saves the run in the same transaction.
func (s Service) Resolve(ctx context.Context, run *domain.ValidationRun, cp domain.HITLCheckpoint, decision, feedback, actor string, extra func(tx *sql.Tx) error) error {
	err := s.Commit(ctx, run, func(tx *sql.Tx) error {
		if err := s.Repo.ResolveCheckpoint(ctx, tx, cp.ID, decision, feedback, actor, run.UpdatedAt); err != nil {
			return err
		}
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	checkpointsTotal.WithLabelValues("resolved").Inc()
	return nil
}

// Sweep expires pending requests older than ttl. Runs stay paused; the audit trail records the expiry.
func (s Service) Sweep(ctx context.Context, ttl time.Duration) ([]domain.HITLCheckpoint, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", ttl)
	}
	cutoff := s.now().Add(-ttl).Format(time.RFC3339)
	var expired []domain.HITLCheckpoint
	err := s.Repo.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		expired, err = s.Repo.ExpirePendingBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		for _, cp := range expired {
			if err := s.Events.Append(ctx, tx, events.HITLExpired, cp.RunID, "hitl_request", cp.ID, "", events.EventPayload{
				"checkpoint_name": cp.Name,
				"created_at":      cp.CreatedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(expired) > 0 {
		checkpointsTotal.WithLabelValues("expired").Add(float64(len(expired)))
		s.logger().Info("expired stale checkpoints", zap.Int("count", len(expired)), zap.Duration("ttl", ttl))
	}
	return expired, nil
}

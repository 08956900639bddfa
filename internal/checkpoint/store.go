package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"venturegate/internal/domain"
	"venturegate/internal/repo"
)

var ErrNotFound = errors.New("run not found")

type ListFilter struct {
	ProjectID string
	UserID    string
	Status    domain.RunStatus
	Limit     int
}

// Store persists run snapshots keyed by run_id. Save overwrites.
type Store interface {
	Save(ctx context.Context, run domain.ValidationRun) error
	Load(ctx context.Context, runID string) (domain.ValidationRun, error)
	List(ctx context.Context, f ListFilter) ([]domain.ValidationRun, error)
}

// TxStore is implemented by stores that can join the sqlite transaction writing checkpoint rows.
type TxStore interface {
	SaveTx(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) error
}

// SQLStore keeps run snapshots in the validation_runs table.
type SQLStore struct {
	Repo repo.Repo
}

func (s SQLStore) Save(ctx context.Context, run domain.ValidationRun) error {
	return s.SaveTx(ctx, nil, run)
}

func (s SQLStore) SaveTx(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) error {
	if err := s.Repo.UpsertRun(ctx, tx, run); err != nil {
		return fmt.Errorf("save run %s: %w", run.RunID, err)
	}
	return nil
}

func (s SQLStore) Load(ctx context.Context, runID string) (domain.ValidationRun, error) {
	run, err := s.Repo.GetRun(ctx, nil, runID)
	if errors.Is(err, repo.ErrNotFound) {
		return run, fmt.Errorf("%s: %w", runID, ErrNotFound)
	}
	return run, err
}

func (s SQLStore) List(ctx context.Context, f ListFilter) ([]domain.ValidationRun, error) {
	return s.Repo.ListRuns(ctx, repo.RunFilter{
		ProjectID: f.ProjectID,
		UserID:    f.UserID,
		Status:    string(f.Status),
		Limit:     f.Limit,
	})
}

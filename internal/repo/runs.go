package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"venturegate/internal/domain"
)

// UpsertRun writes the full run snapshot, overwriting any previous one for the run_id.
func (r Repo) UpsertRun(ctx context.Context, tx *sql.Tx, run domain.ValidationRun) error {
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO validation_runs(run_id,project_id,user_id,session_id,status,current_phase,hitl_state,error_message,state_json,started_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(run_id) DO UPDATE SET
  project_id=excluded.project_id,
  user_id=excluded.user_id,
  session_id=excluded.session_id,
  status=excluded.status,
  current_phase=excluded.current_phase,
  hitl_state=excluded.hitl_state,
  error_message=excluded.error_message,
  state_json=excluded.state_json,
  updated_at=excluded.updated_at`,
		run.RunID, run.ProjectID, run.UserID, nullable(run.SessionID), string(run.Status), int(run.CurrentPhase),
		nullable(run.HITLState), nullable(run.ErrorMessage), string(payload), run.StartedAt, run.UpdatedAt)
	return err
}

func (r Repo) GetRun(ctx context.Context, tx *sql.Tx, runID string) (domain.ValidationRun, error) {
	var payload string
	err := r.conn(tx).QueryRowContext(ctx, `SELECT state_json FROM validation_runs WHERE run_id=?`, runID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ValidationRun{}, ErrNotFound
	}
	if err != nil {
		return domain.ValidationRun{}, err
	}
	var run domain.ValidationRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return domain.ValidationRun{}, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, nil
}

type RunFilter struct {
	ProjectID string
	UserID    string
	Status    string
	Limit     int
}

// ListRuns returns run snapshots, most recently updated first.
func (r Repo) ListRuns(ctx context.Context, f RunFilter) ([]domain.ValidationRun, error) {
	query := `SELECT state_json FROM validation_runs WHERE 1=1`
	var args []any
	if f.ProjectID != "" {
		query += ` AND project_id=?`
		args = append(args, f.ProjectID)
	}
	if f.UserID != "" {
		query += ` AND user_id=?`
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += ` ORDER BY updated_at DESC, run_id LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ValidationRun
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var run domain.ValidationRun
		if err := json.Unmarshal([]byte(payload), &run); err != nil {
			return nil, err
		}
		res = append(res, run)
	}
	return res, rows.Err()
}

func (r Repo) AppendProgress(ctx context.Context, tx *sql.Tx, p domain.ProgressEntry) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO validation_progress(run_id,phase,phase_name,status,decision,message,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.RunID, int(p.Phase), p.PhaseName, p.Status, nullable(p.Decision), nullable(p.Message), p.CreatedAt)
	return err
}

func (r Repo) ListProgress(ctx context.Context, runID string) ([]domain.ProgressEntry, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,run_id,phase,phase_name,status,COALESCE(decision,''),COALESCE(message,''),created_at FROM validation_progress WHERE run_id=? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ProgressEntry
	for rows.Next() {
		var p domain.ProgressEntry
		var phase int
		if err := rows.Scan(&p.ID, &p.RunID, &phase, &p.PhaseName, &p.Status, &p.Decision, &p.Message, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Phase = domain.Phase(phase)
		res = append(res, p)
	}
	return res, rows.Err()
}

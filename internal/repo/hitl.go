package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"venturegate/internal/domain"
)

const checkpointColumns = `id,run_id,checkpoint_name,phase,title,COALESCE(description,''),COALESCE(context_json,''),options_json,recommended_option,status,COALESCE(decision,''),COALESCE(feedback,''),COALESCE(decided_by,''),COALESCE(decided_at,''),created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (domain.HITLCheckpoint, error) {
	var c domain.HITLCheckpoint
	var phase int
	var status, contextJSON, optionsJSON string
	err := row.Scan(&c.ID, &c.RunID, &c.Name, &phase, &c.Title, &c.Description, &contextJSON, &optionsJSON,
		&c.RecommendedOption, &status, &c.Decision, &c.Feedback, &c.DecidedBy, &c.DecidedAt, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	c.Phase = domain.Phase(phase)
	c.Status = domain.CheckpointStatus(status)
	if contextJSON != "" {
		if err := json.Unmarshal([]byte(contextJSON), &c.Context); err != nil {
			return c, fmt.Errorf("decode checkpoint context: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(optionsJSON), &c.Options); err != nil {
		return c, fmt.Errorf("decode checkpoint options: %w", err)
	}
	return c, nil
}

// SupersedePending marks pending requests of a run as superseded and returns how many were touched.
// An empty name matches every checkpoint of the run.
func (r Repo) SupersedePending(ctx context.Context, tx *sql.Tx, runID, name string) (int64, error) {
	query := `UPDATE hitl_requests SET status=? WHERE run_id=? AND status=?`
	args := []any{string(domain.CheckpointSuperseded), runID, string(domain.CheckpointPending)}
	if name != "" {
		query += ` AND checkpoint_name=?`
		args = append(args, name)
	}
	res, err := r.conn(tx).ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r Repo) InsertCheckpoint(ctx context.Context, tx *sql.Tx, c domain.HITLCheckpoint) error {
	var contextJSON any
	if len(c.Context) > 0 {
		b, err := json.Marshal(c.Context)
		if err != nil {
			return fmt.Errorf("marshal checkpoint context: %w", err)
		}
		contextJSON = string(b)
	}
	options, err := json.Marshal(c.Options)
	if err != nil {
		return fmt.Errorf("marshal checkpoint options: %w", err)
	}
	_, err = r.conn(tx).ExecContext(ctx, `INSERT INTO hitl_requests(id,run_id,checkpoint_name,phase,title,description,context_json,options_json,recommended_option,status,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.RunID, c.Name, int(c.Phase), c.Title, nullable(c.Description), contextJSON, string(options),
		c.RecommendedOption, string(c.Status), c.CreatedAt)
	return err
}

func (r Repo) GetCheckpoint(ctx context.Context, tx *sql.Tx, id string) (domain.HITLCheckpoint, error) {
	return scanCheckpoint(r.conn(tx).QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM hitl_requests WHERE id=?`, id))
}

func (r Repo) GetPendingCheckpoint(ctx context.Context, tx *sql.Tx, runID, name string) (domain.HITLCheckpoint, error) {
	return scanCheckpoint(r.conn(tx).QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM hitl_requests WHERE run_id=? AND checkpoint_name=? AND status=?`,
		runID, name, string(domain.CheckpointPending)))
}

type CheckpointFilter struct {
	RunID  string
	Name   string
	Status domain.CheckpointStatus
	Limit  int
}

func (r Repo) ListCheckpoints(ctx context.Context, f CheckpointFilter) ([]domain.HITLCheckpoint, error) {
	query := `SELECT ` + checkpointColumns + ` FROM hitl_requests WHERE 1=1`
	var args []any
	if f.RunID != "" {
		query += ` AND run_id=?`
		args = append(args, f.RunID)
	}
	if f.Name != "" {
		query += ` AND checkpoint_name=?`
		args = append(args, f.Name)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, string(f.Status))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY created_at, id LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.HITLCheckpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ResolveCheckpoint records a decision on a pending request. A request that is no longer pending yields ErrConflict.
func (r Repo) ResolveCheckpoint(ctx context.Context, tx *sql.Tx, id, decision, feedback, decidedBy, decidedAt string) error {
	res, err := r.conn(tx).ExecContext(ctx, `UPDATE hitl_requests SET status=?, decision=?, feedback=?, decided_by=?, decided_at=? WHERE id=? AND status=?`,
		string(domain.CheckpointResolved), decision, nullable(feedback), decidedBy, decidedAt, id, string(domain.CheckpointPending))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("checkpoint %s is not pending: %w", id, ErrConflict)
	}
	return nil
}

// ExpirePendingBefore moves pending requests created before cutoff to expired and returns them.
func (r Repo) ExpirePendingBefore(ctx context.Context, tx *sql.Tx, cutoff string) ([]domain.HITLCheckpoint, error) {
	q := r.conn(tx)
	rows, err := q.QueryContext(ctx, `SELECT `+checkpointColumns+` FROM hitl_requests WHERE status=? AND created_at<? ORDER BY created_at`,
		string(domain.CheckpointPending), cutoff)
	if err != nil {
		return nil, err
	}
	var stale []domain.HITLCheckpoint
	for rows.Next() {
		c, err := scanCheckpoint(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		stale = append(stale, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range stale {
		if _, err := q.ExecContext(ctx, `UPDATE hitl_requests SET status=? WHERE id=? AND status=?`,
			string(domain.CheckpointExpired), stale[i].ID, string(domain.CheckpointPending)); err != nil {
			return nil, err
		}
		stale[i].Status = domain.CheckpointExpired
	}
	return stale, nil
}

// PendingForRun returns the run's pending request, whatever its name.
func (r Repo) PendingForRun(ctx context.Context, tx *sql.Tx, runID string) (domain.HITLCheckpoint, error) {
	return scanCheckpoint(r.conn(tx).QueryRowContext(ctx, `SELECT `+checkpointColumns+` FROM hitl_requests WHERE run_id=? AND status=? ORDER BY created_at DESC, id LIMIT 1`,
		runID, string(domain.CheckpointPending)))
}

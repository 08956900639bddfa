package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"venturegate/internal/domain"
)

func (r Repo) InsertOutcome(ctx context.Context, o domain.ExperimentOutcome) error {
	var metadata any
	if len(o.Metadata) > 0 {
		b, err := json.Marshal(o.Metadata)
		if err != nil {
			return fmt.Errorf("marshal outcome metadata: %w", err)
		}
		metadata = string(b)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO experiment_outcomes(id,experiment_type,policy,experiment_id,primary_metric,primary_value,reward,metadata_json,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.ExperimentType, o.Policy, o.ExperimentID, o.PrimaryMetric, o.PrimaryValue, o.Reward, metadata, o.CreatedAt)
	return err
}

// OutcomeStats is the per-policy aggregate of the outcome log.
type OutcomeStats struct {
	Policy    string
	Samples   int
	RewardSum float64
}

// OutcomeStatsByPolicy aggregates the full outcome log for an experiment type.
func (r Repo) OutcomeStatsByPolicy(ctx context.Context, experimentType string) (map[string]OutcomeStats, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT policy, COUNT(*), COALESCE(SUM(reward),0) FROM experiment_outcomes WHERE experiment_type=? GROUP BY policy`, experimentType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]OutcomeStats{}
	for rows.Next() {
		var s OutcomeStats
		if err := rows.Scan(&s.Policy, &s.Samples, &s.RewardSum); err != nil {
			return nil, err
		}
		res[s.Policy] = s
	}
	return res, rows.Err()
}

func (r Repo) ListOutcomes(ctx context.Context, experimentType string, limit int) ([]domain.ExperimentOutcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,experiment_type,policy,experiment_id,primary_metric,primary_value,reward,COALESCE(metadata_json,''),created_at
FROM experiment_outcomes WHERE experiment_type=? ORDER BY created_at DESC, id LIMIT ?`, experimentType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ExperimentOutcome
	for rows.Next() {
		var o domain.ExperimentOutcome
		var metadata string
		if err := rows.Scan(&o.ID, &o.ExperimentType, &o.Policy, &o.ExperimentID, &o.PrimaryMetric, &o.PrimaryValue, &o.Reward, &metadata, &o.CreatedAt); err != nil {
			return nil, err
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &o.Metadata); err != nil {
				return nil, err
			}
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func (r Repo) InsertSelection(ctx context.Context, s domain.PolicySelection) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO policy_selections(experiment_type,policy,reason,created_at) VALUES (?,?,?,?)`,
		s.ExperimentType, s.Policy, s.Reason, s.CreatedAt)
	return err
}

func (r Repo) CountSelections(ctx context.Context, experimentType string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM policy_selections WHERE experiment_type=?`, experimentType).Scan(&n)
	return n, err
}

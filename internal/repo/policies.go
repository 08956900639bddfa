package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"venturegate/internal/domain"
)

func (r Repo) GetGatePolicy(ctx context.Context, userID string, gate domain.Gate) (domain.GatePolicy, error) {
	var payload, updatedAt string
	err := r.DB.QueryRowContext(ctx, `SELECT policy_json, updated_at FROM gate_policies WHERE user_id=? AND gate=?`, userID, string(gate)).Scan(&payload, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.GatePolicy{}, ErrNotFound
	}
	if err != nil {
		return domain.GatePolicy{}, err
	}
	var p domain.GatePolicy
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return domain.GatePolicy{}, fmt.Errorf("decode gate policy %s/%s: %w", userID, gate, err)
	}
	p.UserID = userID
	p.Gate = gate
	p.UpdatedAt = updatedAt
	return p, nil
}

func (r Repo) UpsertGatePolicy(ctx context.Context, p domain.GatePolicy) error {
	if p.UserID == "" {
		return errors.New("gate policy user_id is required")
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO gate_policies(user_id,gate,policy_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(user_id,gate) DO UPDATE SET policy_json=excluded.policy_json, updated_at=excluded.updated_at`,
		p.UserID, string(p.Gate), string(payload), p.UpdatedAt)
	return err
}

func (r Repo) ListGatePolicies(ctx context.Context, userID string) ([]domain.GatePolicy, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT gate, policy_json, updated_at FROM gate_policies WHERE user_id=? ORDER BY gate`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.GatePolicy
	for rows.Next() {
		var gate, payload, updatedAt string
		if err := rows.Scan(&gate, &payload, &updatedAt); err != nil {
			return nil, err
		}
		var p domain.GatePolicy
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil, err
		}
		p.UserID = userID
		p.Gate = domain.Gate(gate)
		p.UpdatedAt = updatedAt
		res = append(res, p)
	}
	return res, rows.Err()
}

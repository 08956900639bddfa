package repo

import (
	"context"
	"database/sql"
	"errors"

	"venturegate/internal/domain"
)

// reservedExpr sums the unspent budget of a pool's open campaigns.
const reservedExpr = `COALESCE((SELECT SUM(MAX(c.budget - c.spent, 0)) FROM ad_campaigns c
  WHERE c.user_id = ad_budget_pools.user_id AND c.status IN ('active','paused')), 0)`

const poolColumns = `user_id,total_allocated,total_spent,` + reservedExpr + `,total_allocated-total_spent-` + reservedExpr +
	`,rollover_amount,COALESCE(rollover_expires_at,''),updated_at`

func scanPool(row rowScanner) (domain.BudgetPool, error) {
	var p domain.BudgetPool
	err := row.Scan(&p.UserID, &p.TotalAllocated, &p.TotalSpent, &p.Reserved, &p.AvailableBalance, &p.RolloverAmount, &p.RolloverExpiresAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	return p, err
}

func (r Repo) GetPool(ctx context.Context, tx *sql.Tx, userID string) (domain.BudgetPool, error) {
	return scanPool(r.conn(tx).QueryRowContext(ctx, `SELECT `+poolColumns+` FROM ad_budget_pools WHERE user_id=?`, userID))
}

// FundPool adds to total_allocated, creating the pool on first use.
func (r Repo) FundPool(ctx context.Context, tx *sql.Tx, userID string, amount, rollover float64, rolloverExpiresAt, now string) error {
	q := r.conn(tx)
	if _, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO ad_budget_pools(user_id,total_allocated,total_spent,rollover_amount,updated_at) VALUES (?,0,0,0,?)`, userID, now); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `UPDATE ad_budget_pools SET total_allocated = total_allocated + ?, rollover_amount = rollover_amount + ?,
  rollover_expires_at = COALESCE(?, rollover_expires_at), updated_at=? WHERE user_id=?`,
		amount, rollover, nullable(rolloverExpiresAt), now, userID)
	return err
}

// InsertCampaignIfAffordable inserts the campaign only while its budget fits the pool's available balance,
// which already nets out budgets reserved by open campaigns. It reports false when the check rejected the insert.
func (r Repo) InsertCampaignIfAffordable(ctx context.Context, tx *sql.Tx, c domain.Campaign) (bool, error) {
	res, err := r.conn(tx).ExecContext(ctx, `INSERT INTO ad_campaigns(id,user_id,run_id,platform,external_id,status,budget,daily_budget,spent,created_at,updated_at)
SELECT ?,?,?,?,?,?,?,?,0,?,?
WHERE (SELECT total_allocated - total_spent - `+reservedExpr+` FROM ad_budget_pools WHERE user_id=?) >= ?`,
		c.ID, c.UserID, nullable(c.RunID), c.Platform, nullable(c.ExternalID), c.Status, c.Budget, c.DailyBudget, c.CreatedAt, c.UpdatedAt,
		c.UserID, c.Budget)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// AddSpend increments pool and campaign spend in place. Concurrent reporters never overwrite each other.
func (r Repo) AddSpend(ctx context.Context, tx *sql.Tx, userID, campaignID string, amount float64, now string) error {
	q := r.conn(tx)
	res, err := q.ExecContext(ctx, `UPDATE ad_budget_pools SET total_spent = total_spent + ?, updated_at=? WHERE user_id=?`, amount, now, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if campaignID == "" {
		return nil
	}
	res, err = q.ExecContext(ctx, `UPDATE ad_campaigns SET spent = spent + ?, updated_at=? WHERE id=? AND user_id=?`, amount, now, campaignID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RaiseCampaignSpend moves a campaign's spend up to lifetime and adds the difference to its pool. The
// campaign row is swapped only if its spend is unchanged since it was read, so two reporters holding the
// same lifetime figure count it once. It returns the spend before the update and the applied delta;
// ErrConflict means the row moved underneath and the caller should retry.
func (r Repo) RaiseCampaignSpend(ctx context.Context, tx *sql.Tx, campaignID string, lifetime float64, now string) (float64, float64, error) {
	q := r.conn(tx)
	var userID string
	var spent float64
	err := q.QueryRowContext(ctx, `SELECT user_id, spent FROM ad_campaigns WHERE id=?`, campaignID).Scan(&userID, &spent)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrNotFound
	}
	if err != nil {
		return 0, 0, err
	}
	delta := lifetime - spent
	if delta <= 0 {
		return spent, 0, nil
	}
	res, err := q.ExecContext(ctx, `UPDATE ad_campaigns SET spent=?, updated_at=? WHERE id=? AND spent=?`, lifetime, now, campaignID, spent)
	if err != nil {
		return spent, 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return spent, 0, ErrConflict
	}
	res, err = q.ExecContext(ctx, `UPDATE ad_budget_pools SET total_spent = total_spent + ?, updated_at=? WHERE user_id=?`, delta, now, userID)
	if err != nil {
		return spent, 0, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return spent, 0, ErrNotFound
	}
	return spent, delta, nil
}

const campaignColumns = `id,user_id,COALESCE(run_id,''),platform,COALESCE(external_id,''),status,budget,daily_budget,spent,created_at,updated_at`

func scanCampaign(row rowScanner) (domain.Campaign, error) {
	var c domain.Campaign
	err := row.Scan(&c.ID, &c.UserID, &c.RunID, &c.Platform, &c.ExternalID, &c.Status, &c.Budget, &c.DailyBudget, &c.Spent, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetCampaign(ctx context.Context, tx *sql.Tx, id string) (domain.Campaign, error) {
	return scanCampaign(r.conn(tx).QueryRowContext(ctx, `SELECT `+campaignColumns+` FROM ad_campaigns WHERE id=?`, id))
}

func (r Repo) ListCampaigns(ctx context.Context, userID, status string) ([]domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM ad_campaigns WHERE user_id=?`
	args := []any{userID}
	if status != "" {
		query += ` AND status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) UpdateCampaignStatus(ctx context.Context, id, status, externalID, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE ad_campaigns SET status=?, external_id=COALESCE(?, external_id), updated_at=? WHERE id=?`, status, nullable(externalID), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertBudgetDecision(ctx context.Context, tx *sql.Tx, d domain.BudgetDecision) error {
	_, err := r.conn(tx).ExecContext(ctx, `INSERT INTO budget_decisions(user_id,campaign_id,current_spend,proposed_spend,spend_limit,utilization_pct,tier,mode,allowed,message,created_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		nullable(d.UserID), nullable(d.CampaignID), d.CurrentSpend, d.ProposedSpend, d.Limit, d.Utilization, d.Tier, d.Mode, boolInt(d.Allowed), d.Message, d.CreatedAt)
	return err
}

func (r Repo) ListBudgetDecisions(ctx context.Context, userID string, limit int) ([]domain.BudgetDecision, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id,COALESCE(user_id,''),COALESCE(campaign_id,''),current_spend,proposed_spend,spend_limit,utilization_pct,tier,mode,allowed,message,created_at FROM budget_decisions`
	var args []any
	if userID != "" {
		query += ` WHERE user_id=?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BudgetDecision
	for rows.Next() {
		var d domain.BudgetDecision
		var allowed int
		if err := rows.Scan(&d.ID, &d.UserID, &d.CampaignID, &d.CurrentSpend, &d.ProposedSpend, &d.Limit, &d.Utilization, &d.Tier, &d.Mode, &allowed, &d.Message, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Allowed = allowed == 1
		res = append(res, d)
	}
	return res, rows.Err()
}

func (r Repo) InsertOverride(ctx context.Context, o domain.BudgetOverride) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO budget_overrides(user_id,campaign_id,actor_id,actor_type,mode,reason,created_at) VALUES (?,?,?,?,?,?,?)`,
		nullable(o.UserID), nullable(o.CampaignID), o.ActorID, o.ActorType, o.Mode, o.Reason, o.CreatedAt)
	return err
}

func (r Repo) ListOverrides(ctx context.Context, userID string) ([]domain.BudgetOverride, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,COALESCE(user_id,''),COALESCE(campaign_id,''),actor_id,actor_type,mode,reason,created_at FROM budget_overrides WHERE user_id=? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.BudgetOverride
	for rows.Next() {
		var o domain.BudgetOverride
		if err := rows.Scan(&o.ID, &o.UserID, &o.CampaignID, &o.ActorID, &o.ActorType, &o.Mode, &o.Reason, &o.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

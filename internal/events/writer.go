package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written to the run log.
const (
	RunKickoff      = "run.kickoff"
	RunPivoted      = "run.pivoted"
	RunCompleted    = "run.completed"
	RunKilled       = "run.killed"
	RunRestarted    = "run.restarted"
	PhaseCompleted  = "phase.completed"
	PhaseFailed     = "phase.failed"
	HITLRequested   = "hitl.requested"
	HITLApproved    = "hitl.approved"
	HITLRejected    = "hitl.rejected"
	HITLExpired     = "hitl.expired"
	HITLSuperseded  = "hitl.superseded"
	BudgetDecision  = "budget.decision"
	BudgetOverride  = "budget.override"
	PolicySelected  = "bandit.selected"
	OutcomeRecorded = "bandit.outcome"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Append inserts one event row. With a nil tx the write goes straight to the database.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, runID, entityKind, entityID, actorID string, payload EventPayload) error {
	now := w.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	const q = `INSERT INTO events(ts,type,run_id,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?,?)`
	args := []any{ts, evtType, nullable(runID), entityKind, nullable(entityID), actorID, string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, q, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, q, args...)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

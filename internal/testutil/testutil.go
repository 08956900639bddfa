// Package testutil opens migrated throwaway databases and provides crew fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"venturegate/internal/db"
	"venturegate/internal/migrate"
)

// OpenDB returns a migrated sqlite database under t.TempDir, closed on cleanup.
func OpenDB(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(context.Background(), conn))
	return conn
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *Clock) Now() time.Time { return c.T }

func (c *Clock) Advance(d time.Duration) { c.T = c.T.Add(d) }

// CrewFixtures scripts one output per phase. The evidence satisfies the default gate policies and every
// router recommends proceeding.
func CrewFixtures() map[string][]any {
	return map[string][]any{
		"onboarding": {map[string]any{
			"idea":              "Curbside compost pickup",
			"problem_statement": "Apartment renters have nowhere to compost",
		}},
		"discovery": {map[string]any{
			"customer_profile": map[string]any{"segment": "urban renters", "pains": []any{"no yard"}},
			"value_map":        map[string]any{"value_proposition": "weekly bucket swap"},
			"fit_assessment":   map[string]any{"fit_score": 0.7, "fit_type": "problem_solution"},
		}},
		"desirability": {map[string]any{
			"problem_resonance": 0.72,
			"zombie_ratio":      0.21,
			"conversion_rate":   0.15,
			"experiments": []any{
				map[string]any{"name": "landing page", "strength": "weak"},
				map[string]any{"name": "smoke ads", "strength": "medium"},
				map[string]any{"name": "preorders", "strength": "strong"},
			},
		}},
		"feasibility": {map[string]any{
			"core_features_feasible": true,
			"downgrade_required":     false,
			"experiments":            []any{map[string]any{"name": "route costing", "strength": "medium"}},
		}},
		"viability": {map[string]any{
			"ltv_cac_ratio": 4.0,
			"tam":           50_000_000,
			"experiments":   []any{map[string]any{"name": "pricing survey", "strength": "medium"}},
		}},
	}
}

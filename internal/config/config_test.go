package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"venturegate/internal/domain"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "/v1", cfg.Server.BasePath)
	assert.Equal(t, 168*time.Hour, cfg.Checkpoints.TTL)
	assert.Equal(t, []string{"yaml_baseline", "retrieval_v1"}, cfg.Bandit.Experiments["ad_creative"])
	assert.Equal(t, 50, cfg.Budget.MinOverrideReason)
}

func TestGatePolicyFallsBackForUnknownGate(t *testing.T) {
	cfg := Default()
	p := cfg.GatePolicy(domain.GateDesirability)
	assert.Equal(t, domain.GateDesirability, p.Gate)
	assert.Equal(t, 3, p.MinExperiments)

	delete(cfg.Gates, domain.GateViability)
	p = cfg.GatePolicy(domain.GateViability)
	assert.True(t, p.RequiresApproval)
	assert.Zero(t, p.MinExperiments)
}

func TestFromYAMLOverlaysDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("budget:\n  mode: soft\npivots:\n  retry_ceiling: 4\n"))
	require.NoError(t, err)
	assert.Equal(t, "soft", cfg.Budget.Mode)
	assert.Equal(t, 4, cfg.Pivots.RetryCeiling)
	assert.Equal(t, 0.8, cfg.Budget.WarningThreshold)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"budget mode":      "budget:\n  mode: lenient\n",
		"threshold order":  "budget:\n  warning_threshold: 1.3\n",
		"unknown gate":     "gates:\n  SCALE:\n    min_experiments: 1\n",
		"empty experiment": "bandit:\n  experiments:\n    pricing: []\n",
		"run backend":      "store:\n  run_backend: redis\n",
		"nats url":         "scheduler:\n  backend: nats\n",
		"crew url":         "crew:\n  backend: http\n",
		"webhook url":      "webhooks:\n  - events: [hitl.requested]\n",
		"resonance range":  "routing:\n  desirability:\n    min_problem_resonance: 1.5\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	ws := t.TempDir()
	cfg, err := LoadOptional(ws)
	require.NoError(t, err)
	assert.Equal(t, "inline", cfg.Scheduler.Backend)

	_, err = Load(ws)
	assert.ErrorContains(t, err, "vg config init")

	require.NoError(t, os.WriteFile(filepath.Join(ws, "venturegate.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err = Load(ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"meta", "google"}, cfg.AdPlatforms.Platforms)
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"venturegate/internal/domain"
)

// Config models venturegate.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Store struct {
		RunBackend string `yaml:"run_backend"`
		BadgerPath string `yaml:"badger_path"`
	} `yaml:"store"`
	Routing     RoutingConfig                     `yaml:"routing"`
	Gates       map[domain.Gate]domain.GatePolicy `yaml:"gates"`
	Pivots      PivotConfig                       `yaml:"pivots"`
	Checkpoints struct {
		TTL           time.Duration `yaml:"ttl"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"checkpoints"`
	Budget    BudgetConfig `yaml:"budget"`
	Bandit    BanditConfig `yaml:"bandit"`
	Scheduler struct {
		Backend string `yaml:"backend"`
		NATSURL string `yaml:"nats_url"`
		Subject string `yaml:"subject"`
		Queue   string `yaml:"queue"`
	} `yaml:"scheduler"`
	Crew struct {
		Backend  string        `yaml:"backend"`
		URL      string        `yaml:"url"`
		Timeout  time.Duration `yaml:"timeout"`
		Fixtures string        `yaml:"fixtures"`
	} `yaml:"crew"`
	AdPlatforms struct {
		Platforms     []string `yaml:"platforms"`
		RatePerSecond float64  `yaml:"rate_per_second"`
		Burst         int      `yaml:"burst"`
	} `yaml:"ad_platforms"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type RoutingConfig struct {
	Desirability struct {
		MinProblemResonance float64 `yaml:"min_problem_resonance"`
		MaxZombieRatio      float64 `yaml:"max_zombie_ratio"`
	} `yaml:"desirability"`
	Viability struct {
		ProfitableLTVCAC float64 `yaml:"profitable_ltv_cac"`
		BreakevenLTVCAC  float64 `yaml:"breakeven_ltv_cac"`
		MinTAM           float64 `yaml:"min_tam"`
	} `yaml:"viability"`
}

type PivotConfig struct {
	RetryCeiling int `yaml:"retry_ceiling"`
}

type BudgetConfig struct {
	Mode                string              `yaml:"mode"`
	WarningThreshold    float64             `yaml:"warning_threshold"`
	KillSwitchThreshold float64             `yaml:"kill_switch_threshold"`
	CriticalThreshold   float64             `yaml:"critical_threshold"`
	MinOverrideReason   int                 `yaml:"min_override_reason"`
	OverrideActors      map[string][]string `yaml:"override_actors"`
	MaxPerCampaign      float64             `yaml:"max_per_campaign"`
	MaxPerDay           float64             `yaml:"max_per_day"`
}

type BanditConfig struct {
	MinSamples       int                 `yaml:"min_samples"`
	ExplorationBonus float64             `yaml:"exploration_bonus"`
	UnseenBonus      float64             `yaml:"unseen_bonus"`
	Experiments      map[string][]string `yaml:"experiments"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vg config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	d := c.Routing.Desirability
	if d.MinProblemResonance <= 0 || d.MinProblemResonance > 1 {
		return fmt.Errorf("config.routing.desirability.min_problem_resonance must be in (0,1]")
	}
	if d.MaxZombieRatio <= 0 || d.MaxZombieRatio > 1 {
		return fmt.Errorf("config.routing.desirability.max_zombie_ratio must be in (0,1]")
	}
	v := c.Routing.Viability
	if v.BreakevenLTVCAC <= 0 || v.ProfitableLTVCAC < v.BreakevenLTVCAC {
		return fmt.Errorf("config.routing.viability requires 0 < breakeven_ltv_cac <= profitable_ltv_cac")
	}
	if v.MinTAM < 0 {
		return fmt.Errorf("config.routing.viability.min_tam must not be negative")
	}
	for name, p := range c.Gates {
		if _, err := domain.ParseGate(string(name)); err != nil {
			return fmt.Errorf("config.gates: %w", err)
		}
		if p.Gate != "" && p.Gate != name {
			return fmt.Errorf("config.gates.%s declares gate %s", name, p.Gate)
		}
	}
	if c.Pivots.RetryCeiling < 0 {
		return fmt.Errorf("config.pivots.retry_ceiling must not be negative")
	}
	if c.Checkpoints.TTL <= 0 {
		return fmt.Errorf("config.checkpoints.ttl is required")
	}
	b := c.Budget
	if b.Mode != "hard" && b.Mode != "soft" {
		return fmt.Errorf("config.budget.mode must be 'hard' or 'soft'")
	}
	if !(b.WarningThreshold > 0 && b.WarningThreshold <= b.KillSwitchThreshold && b.KillSwitchThreshold <= b.CriticalThreshold) {
		return fmt.Errorf("config.budget thresholds must satisfy 0 < warning <= kill_switch <= critical")
	}
	if b.MinOverrideReason < 0 {
		return fmt.Errorf("config.budget.min_override_reason must not be negative")
	}
	for mode := range b.OverrideActors {
		if mode != "hard" && mode != "soft" {
			return fmt.Errorf("config.budget.override_actors has unknown mode %s", mode)
		}
	}
	if c.Bandit.MinSamples < 0 || c.Bandit.ExplorationBonus < 0 {
		return fmt.Errorf("config.bandit min_samples and exploration_bonus must not be negative")
	}
	for kind, policies := range c.Bandit.Experiments {
		if len(policies) == 0 {
			return fmt.Errorf("config.bandit.experiments.%s has no policies", kind)
		}
		seen := map[string]bool{}
		for _, p := range policies {
			if p == "" || seen[p] {
				return fmt.Errorf("config.bandit.experiments.%s has empty or duplicate policy", kind)
			}
			seen[p] = true
		}
	}
	switch c.Store.RunBackend {
	case "sqlite":
	case "badger":
		if c.Store.BadgerPath == "" {
			return fmt.Errorf("config.store.badger_path is required for the badger backend")
		}
	default:
		return fmt.Errorf("config.store.run_backend must be 'sqlite' or 'badger'")
	}
	switch c.Scheduler.Backend {
	case "inline":
	case "nats":
		if c.Scheduler.NATSURL == "" || c.Scheduler.Subject == "" {
			return fmt.Errorf("config.scheduler.nats_url and subject are required for the nats backend")
		}
	default:
		return fmt.Errorf("config.scheduler.backend must be 'inline' or 'nats'")
	}
	switch c.Crew.Backend {
	case "scripted":
		if c.Crew.Fixtures == "" {
			return fmt.Errorf("config.crew.fixtures is required for the scripted backend")
		}
	case "http":
		if c.Crew.URL == "" {
			return fmt.Errorf("config.crew.url is required for the http backend")
		}
	default:
		return fmt.Errorf("config.crew.backend must be 'scripted' or 'http'")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "venturegate.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	cfg.normalizeGates()
	return &cfg
}

// FromYAML parses config over the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.normalizeGates()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// GatePolicy returns the system default policy for a gate.
func (c *Config) GatePolicy(g domain.Gate) domain.GatePolicy {
	if p, ok := c.Gates[g]; ok {
		return p
	}
	return domain.GatePolicy{Gate: g, RequiresApproval: true}
}

func (c *Config) normalizeGates() {
	for name, p := range c.Gates {
		p.Gate = name
		c.Gates[name] = p
	}
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1

logging:
  level: info
  format: console

store:
  run_backend: sqlite
  badger_path: .venturegate/runs

routing:
  desirability:
    min_problem_resonance: 0.3
    max_zombie_ratio: 0.7
  viability:
    profitable_ltv_cac: 3.0
    breakeven_ltv_cac: 1.0
    min_tam: 1000000

gates:
  DESIRABILITY:
    min_experiments: 3
    min_weak_evidence: 1
    min_medium_evidence: 1
    min_strong_evidence: 1
    required_fit_types: [problem_solution]
    thresholds:
      problem_resonance: 0.3
      conversion_rate: 0.05
      zombie_ratio_max: 0.7
    override_roles: [human_founder, admin]
    requires_approval: true
  FEASIBILITY:
    min_experiments: 1
    min_medium_evidence: 1
    override_roles: [human_founder, admin]
    requires_approval: true
  VIABILITY:
    min_experiments: 1
    thresholds:
      ltv_cac_ratio: 3.0
    override_roles: [admin]
    requires_approval: true

pivots:
  retry_ceiling: 2

checkpoints:
  ttl: 168h
  sweep_interval: 1h

budget:
  mode: hard
  warning_threshold: 0.8
  kill_switch_threshold: 1.2
  critical_threshold: 1.5
  min_override_reason: 50
  override_actors:
    hard: [human_founder, admin]
    soft: [human_founder, admin, guardian]
  max_per_campaign: 5000
  max_per_day: 500

bandit:
  min_samples: 10
  exploration_bonus: 1.4142135623730951
  unseen_bonus: 1000
  experiments:
    ad_creative: [yaml_baseline, retrieval_v1]
    landing_page: [yaml_baseline, retrieval_v1]

scheduler:
  backend: inline
  subject: venturegate.resume
  queue: venturegate-workers

crew:
  backend: scripted
  fixtures: crew.yml
  timeout: 10m

ad_platforms:
  platforms: [meta, google]
  rate_per_second: 5
  burst: 10
`

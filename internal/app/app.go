// Package app wires a workspace's config into a running engine and its collaborators.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"venturegate/internal/adplatform"
	"venturegate/internal/bandit"
	"venturegate/internal/budget"
	"venturegate/internal/checkpoint"
	"venturegate/internal/config"
	"venturegate/internal/crew"
	"venturegate/internal/db"
	"venturegate/internal/engine"
	"venturegate/internal/migrate"
	"venturegate/internal/repo"
	"venturegate/internal/scheduler"
)

type Options struct {
	Workspace string
	// Config overrides the workspace config file when set.
	Config    *config.Config
	Logger    *zap.Logger
	CrewToken string
	// Crew replaces the configured crew backend.
	Crew crew.Crew
	// Scheduler starts the configured scheduler backend.
	Scheduler bool
	// Worker also consumes resume units in this process when the backend is nats.
	Worker bool
}

type App struct {
	Config    *config.Config
	DB        *sql.DB
	Engine    engine.Engine
	Scheduler scheduler.Scheduler
	Budget    budget.Guard
	Bandit    bandit.Selector
	Syncer    *adplatform.Syncer
	Logger    *zap.Logger

	closers []func() error
}

// Open opens and migrates the workspace database and wires every service over it.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, Logger: logger}
	a.closers = append(a.closers, conn.Close)
	if err := migrate.Migrate(ctx, conn); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	runs, err := a.openRunStore(opts.Workspace)
	if err != nil {
		a.Close()
		return nil, err
	}
	c := opts.Crew
	if c == nil {
		c, err = openCrew(opts.Workspace, cfg, opts.CrewToken)
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	a.Engine = engine.New(conn, runs, c, cfg, logger)
	a.Budget = budget.Guard{DB: conn, Repo: a.Engine.Repo, Events: a.Engine.Events, Config: cfg.Budget, Logger: logger.Named("budget")}
	a.Bandit = bandit.Selector{Repo: a.Engine.Repo, Events: a.Engine.Events, Config: cfg.Bandit, Logger: logger.Named("bandit")}
	a.Syncer = &adplatform.Syncer{
		Guard:    a.Budget,
		Repo:     a.Engine.Repo,
		Adapters: adapters(cfg),
		Logger:   logger.Named("adplatform"),
	}

	if opts.Scheduler {
		if err := a.openScheduler(opts.Worker); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *App) openRunStore(workspace string) (checkpoint.Store, error) {
	if a.Config.Store.RunBackend != "badger" {
		return checkpoint.SQLStore{Repo: repo.Repo{DB: a.DB}}, nil
	}
	path := a.Config.Store.BadgerPath
	if !filepath.IsAbs(path) && workspace != "" {
		path = filepath.Join(workspace, path)
	}
	bcfg := checkpoint.DefaultBadgerConfig(path)
	bcfg.Logger = a.Logger.Named("badger")
	store, err := checkpoint.OpenBadger(bcfg)
	if err != nil {
		return nil, err
	}
	// Closed before the sqlite handle.
	a.closers = append(a.closers, store.Close)
	return store, nil
}

func openCrew(workspace string, cfg *config.Config, token string) (crew.Crew, error) {
	switch cfg.Crew.Backend {
	case "http":
		return crew.NewHTTP(cfg.Crew.URL, token, cfg.Crew.Timeout), nil
	default:
		path := cfg.Crew.Fixtures
		if !filepath.IsAbs(path) && workspace != "" {
			path = filepath.Join(workspace, path)
		}
		s, err := crew.LoadScripted(path)
		if err != nil {
			return nil, fmt.Errorf("load crew fixtures: %w", err)
		}
		return s, nil
	}
}

// adapters builds a rate-limited sandbox adapter per configured platform.
func adapters(cfg *config.Config) map[string]adplatform.Adapter {
	out := make(map[string]adplatform.Adapter, len(cfg.AdPlatforms.Platforms))
	for _, name := range cfg.AdPlatforms.Platforms {
		out[name] = adplatform.NewRateLimited(adplatform.NewFake(name), cfg.AdPlatforms.RatePerSecond, cfg.AdPlatforms.Burst)
	}
	return out
}

func (a *App) openScheduler(worker bool) error {
	log := a.Logger.Named("scheduler")
	switch a.Config.Scheduler.Backend {
	case "nats":
		nc, err := nats.Connect(a.Config.Scheduler.NATSURL, nats.Name("venturegate"))
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		a.closers = append(a.closers, func() error { nc.Close(); return nil })
		if worker {
			w, err := scheduler.StartWorker(nc, a.Config.Scheduler.Subject, a.Config.Scheduler.Queue, a.Drive, log)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, w.Close)
		}
		pub := &scheduler.NATS{Conn: nc, Subject: a.Config.Scheduler.Subject}
		a.closers = append(a.closers, pub.Close)
		a.Scheduler = pub
	default:
		inline := scheduler.NewInline(a.Drive, log)
		a.closers = append(a.closers, inline.Close)
		a.Scheduler = inline
	}
	return nil
}

// Drive advances a run until it pauses or finishes. A run that is no longer runnable was already
// handled by an earlier unit.
func (a *App) Drive(ctx context.Context, runID string) error {
	res, err := a.Engine.Drive(ctx, runID)
	if errors.Is(err, engine.ErrRunNotRunnable) {
		a.Logger.Debug("drive skipped", zap.String("run_id", runID), zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	a.Logger.Debug("drive finished", zap.String("run_id", runID), zap.String("status", string(res.Run.Status)))
	return nil
}

// RunSweeper expires stale checkpoints every interval until ctx ends.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		expired, err := a.Engine.Checkpoints.Sweep(ctx, a.Config.Checkpoints.TTL)
		if err != nil {
			a.Logger.Warn("checkpoint sweep failed", zap.Error(err))
			continue
		}
		if len(expired) > 0 {
			a.Logger.Info("expired stale checkpoints", zap.Int("count", len(expired)))
		}
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

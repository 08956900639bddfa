// Package scheduler dispatches resume units. A unit drives one run until it pauses, fails or finishes;
// at most one unit per run is in flight inside a process. A request for a run whose unit is still in
// flight is coalesced into a single rerun once that unit returns.
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrInFlight reports that the request was coalesced into the in-flight unit's rerun.
var ErrInFlight = errors.New("run already has a unit in flight")

var unitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "venturegate_scheduler_units_total",
	Help: "Resume units by backend and result.",
}, []string{"backend", "result"})

// DriveFunc executes one resume unit.
type DriveFunc func(ctx context.Context, runID string) error

type Scheduler interface {
	Schedule(ctx context.Context, runID string) error
	Close() error
}

// inflight maps a busy run to whether a rerun was requested while it ran.
type inflight struct {
	mu   sync.Mutex
	runs map[string]bool
}

func (g *inflight) acquire(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runs == nil {
		g.runs = map[string]bool{}
	}
	if _, busy := g.runs[runID]; busy {
		g.runs[runID] = true
		return false
	}
	g.runs[runID] = false
	return true
}

// release frees the run unless a rerun is pending, in which case the caller keeps it and drives again.
func (g *inflight) release(runID string) (rerun bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runs[runID] {
		g.runs[runID] = false
		return true
	}
	delete(g.runs, runID)
	return false
}

func (g *inflight) drop(runID string) {
	g.mu.Lock()
	delete(g.runs, runID)
	g.mu.Unlock()
}

// runner executes units on goroutines and tracks them for shutdown.
type runner struct {
	backend string
	drive   DriveFunc
	logger  *zap.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	guard   inflight
}

func newRunner(backend string, drive DriveFunc, logger *zap.Logger) *runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &runner{backend: backend, drive: drive, logger: logger, ctx: ctx, cancel: cancel}
}

func (r *runner) start(runID string) error {
	if !r.guard.acquire(runID) {
		unitsTotal.WithLabelValues(r.backend, "in_flight").Inc()
		return ErrInFlight
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		log := r.logger.With(zap.String("run_id", runID), zap.String("backend", r.backend))
		for {
			r.once(log, runID)
			if !r.guard.release(runID) {
				return
			}
			if r.ctx.Err() != nil {
				r.guard.drop(runID)
				return
			}
			log.Debug("rerunning coalesced resume unit")
		}
	}()
	return nil
}

func (r *runner) once(log *zap.Logger, runID string) {
	log.Debug("resume unit started")
	if err := r.drive(r.ctx, runID); err != nil {
		unitsTotal.WithLabelValues(r.backend, "error").Inc()
		log.Warn("resume unit failed", zap.Error(err))
		return
	}
	unitsTotal.WithLabelValues(r.backend, "ok").Inc()
	log.Debug("resume unit finished")
}

// wait blocks until in-flight units finish or ctx ends, then cancels whatever is left.
func (r *runner) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

// Inline runs units on goroutines of the current process.
type Inline struct {
	r *runner
}

func NewInline(drive DriveFunc, logger *zap.Logger) *Inline {
	return &Inline{r: newRunner("inline", drive, logger)}
}

func (s *Inline) Schedule(_ context.Context, runID string) error {
	return s.r.start(runID)
}

// Shutdown waits for in-flight units until ctx ends.
func (s *Inline) Shutdown(ctx context.Context) error {
	return s.r.wait(ctx)
}

func (s *Inline) Close() error {
	return s.r.wait(context.Background())
}

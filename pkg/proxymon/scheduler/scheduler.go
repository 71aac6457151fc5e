package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vpbank/proxymon/models"
)

// DefaultInterval is the cadence between cycle starts.
const DefaultInterval = 5 * time.Second

// ─────────────────────────────────────────────────────────────────────────────
// Sink
// ─────────────────────────────────────────────────────────────────────────────

// Sink receives the snapshots of every completed cycle. Deliver is called from
// the scheduling goroutine only, never concurrently.
type Sink interface {
	Deliver(ctx context.Context, snaps []models.ResourceSnapshot) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, snaps []models.ResourceSnapshot) error

func (f SinkFunc) Deliver(ctx context.Context, snaps []models.ResourceSnapshot) error {
	return f(ctx, snaps)
}

// CycleObserver is told about every completed cycle, e.g. for self-metrics.
type CycleObserver func(elapsed time.Duration, snaps []models.ResourceSnapshot, err error)

// Options configures a Scheduler.
type Options struct {
	// Interval between cycle starts (default 5s). A cycle that overruns it
	// delays the next one; cycles never overlap.
	Interval time.Duration

	// Observe, when set, is called after every cycle.
	Observe CycleObserver
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Scheduler
// ─────────────────────────────────────────────────────────────────────────────

// Scheduler runs a collection cycle over the current plans at each interval
// and delivers the snapshots to its Sink.
type Scheduler struct {
	collector *Collector
	sink      Sink
	opts      Options
	logger    *slog.Logger

	mu    sync.Mutex
	plans []Plan

	done chan struct{}
}

// New creates a Scheduler. Nothing runs until Start is called.
func New(collector *Collector, sink Sink, plans []Plan, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	opts.defaults()
	return &Scheduler{
		collector: collector,
		sink:      sink,
		opts:      opts,
		logger:    logger,
		plans:     plans,
		done:      make(chan struct{}),
	}
}

// Start runs the scheduling loop. The first cycle starts immediately. It
// blocks until ctx is cancelled; an in-flight cycle is cancelled with it.
func (s *Scheduler) Start(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		s.runCycle(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop waits for the scheduling loop to exit. The caller must cancel the
// context passed to Start before calling Stop.
func (s *Scheduler) Stop() {
	<-s.done
}

// Reload atomically replaces the plans. The change takes effect on the next
// cycle; a cycle already running finishes with the old plans.
func (s *Scheduler) Reload(plans []Plan) {
	s.mu.Lock()
	s.plans = plans
	s.mu.Unlock()
	s.logger.Info("scheduler: plans reloaded", "targets", len(plans))
}

// Entries returns the number of active plans (for monitoring / tests).
func (s *Scheduler) Entries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.plans)
}

// RunOnce runs a single cycle over the current plans and returns the
// snapshots without delivering them.
func (s *Scheduler) RunOnce(ctx context.Context) ([]models.ResourceSnapshot, error) {
	s.mu.Lock()
	plans := s.plans
	s.mu.Unlock()

	start := time.Now()
	snaps, err := s.collector.Cycle(ctx, plans)
	if s.opts.Observe != nil {
		s.opts.Observe(time.Since(start), snaps, err)
	}
	return snaps, err
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) runCycle(ctx context.Context) {
	start := time.Now()
	snaps, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("scheduler: cycle completed with errors", "error", err.Error())
	}
	if ctx.Err() != nil {
		return
	}

	failed := 0
	for _, snap := range snaps {
		failed += snap.Metadata.Failed
	}
	s.logger.Debug("scheduler: cycle completed",
		"targets", len(snaps),
		"failed", failed,
		"elapsed", time.Since(start),
	)

	if s.sink == nil || len(snaps) == 0 {
		return
	}
	if err := s.sink.Deliver(ctx, snaps); err != nil {
		s.logger.Error("scheduler: deliver failed", "error", err.Error())
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// Package app wires the proxy resource poller together and manages its
// lifecycle.
//
// Poll path:
//
//	Scheduler → Collector → (poller.Getter, memory.Collector) →
//	metrics.Producer → Sink → format/json | format/csv → transport/file
//
// Side paths: telemetry serves self-metrics over HTTP, and a config watcher
// re-resolves plans whenever the YAML trees change.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/config"
	"github.com/vpbank/proxymon/pkg/proxymon/memory"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/pkg/proxymon/scheduler"
	"github.com/vpbank/proxymon/pkg/proxymon/telemetry"
	"github.com/vpbank/proxymon/producer/metrics"
)

// SNMP engines selectable with Config.Engine.
const (
	EngineNative = "native"
	EngineGoSNMP = "gosnmp"
)

// DefaultRateMaxInterval is the longest sample spacing that still yields an
// interface rate.
const DefaultRateMaxInterval = 5 * time.Minute

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config holds the top-level settings for the poller application.
// Zero-value fields fall back to documented defaults.
type Config struct {
	// ConfigPaths are the directories for YAML configuration files.
	// Use config.PathsFromEnv() to populate from environment variables.
	ConfigPaths config.Paths

	// CollectorID identifies this instance in snapshot metadata.
	// Default: the hostname.
	CollectorID string

	// Interval between cycle starts. Default: scheduler.DefaultInterval.
	Interval time.Duration

	// MaxConcurrentTargets bounds targets collected at once. Zero = no limit.
	MaxConcurrentTargets int

	// Engine is EngineNative (default) or EngineGoSNMP.
	Engine string

	// PoolOptions configures the gosnmp connection pool (EngineGoSNMP only).
	PoolOptions poller.PoolOptions

	// RateMaxInterval is the longest gap between two counter samples that
	// still yields a rate. Default: DefaultRateMaxInterval.
	RateMaxInterval time.Duration

	// SSH configures the external memory collector.
	SSH memory.SSHOptions

	// Output selects the snapshot format and destination.
	Output OutputConfig

	// TelemetryListen is the self-metrics HTTP address. Empty disables it.
	TelemetryListen string

	// WatchConfig reloads the configuration when its files change.
	WatchConfig bool

	// ReloadDelay debounces config change events. Default: DefaultReloadDelay.
	ReloadDelay time.Duration
}

func (c *Config) withDefaults() {
	if c.CollectorID == "" {
		name, _ := os.Hostname()
		if name == "" {
			name = "proxymon"
		}
		c.CollectorID = name
	}
	if c.Engine == "" {
		c.Engine = EngineNative
	}
	if c.RateMaxInterval <= 0 {
		c.RateMaxInterval = DefaultRateMaxInterval
	}
	if c.ReloadDelay <= 0 {
		c.ReloadDelay = DefaultReloadDelay
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// App
// ─────────────────────────────────────────────────────────────────────────────

// App orchestrates the poller. Create one with New, start it with Start, and
// stop it with Stop. RunOnce runs a single cycle instead.
type App struct {
	cfg    Config
	logger *slog.Logger

	telemetry *telemetry.Metrics

	// Built by build.
	loadedCfg *config.LoadedConfig
	plans     []scheduler.Plan
	getter    poller.Getter
	connPool  *poller.ConnectionPool
	cache     *metrics.CounterCache
	producer  *metrics.Producer
	collector *scheduler.Collector
	sink      *outputSink
	sched     *scheduler.Scheduler

	// Started by Start.
	server  *telemetry.Server
	watcher *configWatcher

	reloadMu sync.Mutex
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New constructs an App. Nothing is loaded or started until Start or RunOnce.
func New(cfg Config, logger *slog.Logger) *App {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	cfg.withDefaults()
	return &App{
		cfg:       cfg,
		logger:    logger,
		telemetry: telemetry.New(),
	}
}

// Telemetry returns the self-metrics of this App.
func (a *App) Telemetry() *telemetry.Metrics { return a.telemetry }

// build loads the configuration and constructs every stage.
func (a *App) build() error {
	a.logger.Info("app: loading configuration")
	loaded, err := config.Load(a.cfg.ConfigPaths, a.logger)
	if err != nil {
		return fmt.Errorf("app: load config: %w", err)
	}
	a.loadedCfg = loaded

	switch a.cfg.Engine {
	case EngineNative:
		a.getter = poller.NewEngine(poller.EngineOptions{Observe: a.telemetry.ObserveExchange}, a.logger)
	case EngineGoSNMP:
		a.connPool = poller.NewConnectionPool(a.cfg.PoolOptions, a.logger)
		a.getter = poller.NewPooledGetter(a.connPool, a.telemetry.ObserveExchange, a.logger)
	default:
		return fmt.Errorf("app: unknown engine %q (expected %s|%s)", a.cfg.Engine, EngineNative, EngineGoSNMP)
	}

	mem, err := memory.NewSSHCollector(a.cfg.SSH, a.logger)
	if err != nil {
		return fmt.Errorf("app: memory collector: %w", err)
	}

	a.cache = metrics.NewCounterCache(metrics.CacheOptions{MaxInterval: a.cfg.RateMaxInterval})
	a.producer = metrics.New(metrics.Config{Thresholds: loaded.Resources.Thresholds}, a.cache, a.logger)
	a.collector = scheduler.NewCollector(a.getter, mem, a.producer, scheduler.CollectorOptions{
		MaxConcurrentTargets: a.cfg.MaxConcurrentTargets,
		CollectorID:          a.cfg.CollectorID,
	}, a.logger)

	a.sink, err = newOutputSink(a.cfg.Output, loaded, a.logger)
	if err != nil {
		return err
	}

	a.plans = scheduler.ResolvePlans(loaded, a.getter.MaxOIDs(), a.logger)
	a.sched = scheduler.New(a.collector, a.sink, a.plans, scheduler.Options{
		Interval: a.cfg.Interval,
		Observe:  a.observeCycle,
	}, a.logger)
	a.telemetry.SetTargets(len(a.plans))

	a.logger.Info("app: configuration loaded",
		"targets", len(loaded.Targets),
		"metrics", len(loaded.Resources.Metrics),
		"interfaces", len(loaded.Resources.Interfaces),
		"engine", a.cfg.Engine,
	)
	return nil
}

// Start loads configuration, builds all stages and launches the scheduler,
// the telemetry server and the config watcher. The caller must eventually
// call Stop.
func (a *App) Start(ctx context.Context) error {
	if err := a.build(); err != nil {
		a.release()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if a.cfg.TelemetryListen != "" {
		a.server = telemetry.NewServer(a.cfg.TelemetryListen, a.telemetry, a.logger)
		if err := a.server.Start(); err != nil {
			cancel()
			a.server = nil
			a.release()
			return fmt.Errorf("app: telemetry: %w", err)
		}
	}

	if a.cfg.WatchConfig {
		w, err := newConfigWatcher(a.cfg.ConfigPaths.Dirs(), a.cfg.ReloadDelay, a.reloadFromWatcher, a.logger)
		if err != nil {
			// Non-fatal: keep running on the loaded configuration.
			a.logger.Error("app: config watcher disabled", "error", err.Error())
		} else {
			a.watcher = w
			a.wg.Add(1)
			go func() {
				defer a.wg.Done()
				w.run(runCtx)
			}()
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.sched.Start(runCtx)
	}()

	a.logger.Info("app: poller running",
		"targets", a.sched.Entries(),
		"interval", a.cfg.Interval,
		"output", a.cfg.Output.Format,
		"telemetry", a.cfg.TelemetryListen,
		"watch_config", a.watcher != nil,
	)
	return nil
}

// Stop performs a graceful shutdown: the in-flight cycle is cancelled, the
// scheduler and watcher exit, then the telemetry server, the output and the
// connection pool are released.
func (a *App) Stop() {
	a.logger.Info("app: shutting down")

	if a.cancel != nil {
		a.cancel()
	}
	if a.watcher != nil {
		a.watcher.close()
	}
	a.wg.Wait()

	if a.server != nil {
		a.server.Stop()
	}
	a.release()

	a.logger.Info("app: shutdown complete")
}

// RunOnce loads configuration, runs a single cycle, writes its snapshots to
// the output and releases everything. The snapshots are also returned.
func (a *App) RunOnce(ctx context.Context) ([]models.ResourceSnapshot, error) {
	if err := a.build(); err != nil {
		a.release()
		return nil, err
	}
	defer a.release()

	snaps, cycleErr := a.sched.RunOnce(ctx)
	if len(snaps) > 0 {
		if err := a.sink.Deliver(ctx, snaps); err != nil {
			return snaps, fmt.Errorf("app: deliver: %w", err)
		}
	}
	if cycleErr != nil {
		return snaps, fmt.Errorf("app: cycle: %w", cycleErr)
	}
	return snaps, nil
}

// Reload re-reads the configuration, re-resolves the plans and swaps them
// into the scheduler. Counter cache entries and pooled sessions of removed
// targets are dropped. On error the running configuration is kept.
func (a *App) Reload() error {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	if a.sched == nil {
		return fmt.Errorf("app: reload: not started")
	}

	a.logger.Info("app: reloading configuration")
	loaded, err := config.Load(a.cfg.ConfigPaths, a.logger)
	a.telemetry.ObserveReload(err)
	if err != nil {
		return fmt.Errorf("app: reload config: %w", err)
	}

	plans := scheduler.ResolvePlans(loaded, a.getter.MaxOIDs(), a.logger)
	keep := scheduler.TargetNames(plans)

	a.producer.SetThresholds(loaded.Resources.Thresholds)
	a.sched.Reload(plans)

	removed := a.cache.RetainTargets(keep)
	if a.connPool != nil {
		for name := range scheduler.TargetNames(a.plans) {
			if !keep[name] {
				a.connPool.Forget(name)
			}
		}
	}
	if a.cfg.Output.Format == FormatCSV && !sameInterfaces(a.loadedCfg, loaded) {
		a.logger.Warn("app: interface columns changed; CSV layout is fixed until restart")
	}

	a.loadedCfg = loaded
	a.plans = plans
	a.telemetry.SetTargets(len(plans))
	a.telemetry.SetCacheEntries(a.cache.Len())

	a.logger.Info("app: configuration reloaded",
		"targets", len(loaded.Targets),
		"metrics", len(loaded.Resources.Metrics),
		"purged_counters", removed,
	)
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (a *App) reloadFromWatcher() {
	if err := a.Reload(); err != nil {
		a.logger.Error("app: reload failed; keeping previous configuration", "error", err.Error())
	}
}

// observeCycle feeds self-metrics and expires counters that can no longer
// produce a rate.
func (a *App) observeCycle(elapsed time.Duration, snaps []models.ResourceSnapshot, err error) {
	a.telemetry.ObserveCycle(elapsed, snaps, err)
	if n := a.cache.Purge(a.cfg.RateMaxInterval, time.Now()); n > 0 {
		a.logger.Debug("app: purged stale counters", "count", n)
	}
	a.telemetry.SetCacheEntries(a.cache.Len())
}

// release closes the output and the connection pool.
func (a *App) release() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Error("app: output close error", "error", err.Error())
		}
		a.sink = nil
	}
	if a.connPool != nil {
		if err := a.connPool.Close(); err != nil {
			a.logger.Error("app: connection pool close error", "error", err.Error())
		}
		a.connPool = nil
	}
}

func sameInterfaces(a, b *config.LoadedConfig) bool {
	if a == nil || b == nil || len(a.Resources.Interfaces) != len(b.Resources.Interfaces) {
		return false
	}
	for i := range a.Resources.Interfaces {
		if a.Resources.Interfaces[i].Name != b.Resources.Interfaces[i].Name {
			return false
		}
	}
	return true
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

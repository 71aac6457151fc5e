package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/memory"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/producer/metrics"
	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// CollectorOptions configures a Collector.
type CollectorOptions struct {
	// MaxConcurrentTargets bounds how many targets are collected at once.
	// Zero means no limit.
	MaxConcurrentTargets int

	// CollectorID is copied into every snapshot's metadata.
	CollectorID string

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func (o *CollectorOptions) defaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Collector
// ─────────────────────────────────────────────────────────────────────────────

// Collector runs one collection cycle over a set of plans. A slow or failing
// target never delays or alters another target's snapshot.
type Collector struct {
	getter   poller.Getter
	memory   memory.Collector
	producer *metrics.Producer
	opts     CollectorOptions
	logger   *slog.Logger
}

// NewCollector wires the SNMP engine, the optional memory collector and the
// producer together. mem may be nil, in which case external metrics fail.
func NewCollector(getter poller.Getter, mem memory.Collector, producer *metrics.Producer, opts CollectorOptions, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	opts.defaults()
	return &Collector{
		getter:   getter,
		memory:   mem,
		producer: producer,
		opts:     opts,
		logger:   logger,
	}
}

type targetResult struct {
	snap models.ResourceSnapshot
	err  error
}

// Cycle collects every plan concurrently and returns one snapshot per plan,
// sorted by target name. Every snapshot is complete: failures are folded into
// outcomes. The returned error joins failures outside the outcome taxonomy,
// such as socket exhaustion, for the caller to log.
func (c *Collector) Cycle(ctx context.Context, plans []Plan) ([]models.ResourceSnapshot, error) {
	p := pool.NewWithResults[targetResult]()
	if c.opts.MaxConcurrentTargets > 0 {
		p = p.WithMaxGoroutines(c.opts.MaxConcurrentTargets)
	}
	for _, plan := range plans {
		p.Go(func() targetResult {
			snap, err := c.collectTarget(ctx, plan)
			return targetResult{snap: snap, err: err}
		})
	}
	results := p.Wait()

	snaps := make([]models.ResourceSnapshot, 0, len(results))
	var errs []error
	for _, r := range results {
		snaps = append(snaps, r.snap)
		if r.err != nil {
			errs = append(errs, r.err)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Target.Name < snaps[j].Target.Name })
	return snaps, errors.Join(errs...)
}

// collectTarget runs every batch and external metric of one plan in parallel.
func (c *Collector) collectTarget(ctx context.Context, plan Plan) (models.ResourceSnapshot, error) {
	start := c.opts.Now()
	t := plan.Target

	var (
		mu      sync.Mutex
		scalars = make(map[string]models.Outcome, plan.MetricCount())
		ifaces  = make(map[string]map[metrics.Direction]models.Outcome, len(plan.Interfaces))
		errs    []error
	)
	set := func(ref Ref, o models.Outcome) {
		if !ref.IsInterface() {
			scalars[ref.Metric] = o
			return
		}
		if ifaces[ref.Metric] == nil {
			ifaces[ref.Metric] = make(map[metrics.Direction]models.Outcome, 2)
		}
		ifaces[ref.Metric][ref.Direction] = o
	}

	var wg conc.WaitGroup
	for _, batch := range plan.Batches {
		wg.Go(func() {
			c.collectBatch(ctx, t, batch, func(ref Ref, o models.Outcome) {
				mu.Lock()
				set(ref, o)
				mu.Unlock()
			}, func(err error) {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			})
		})
	}
	for _, name := range plan.External {
		wg.Go(func() {
			o := c.external(ctx, t, name)
			mu.Lock()
			scalars[name] = o
			mu.Unlock()
		})
	}
	wg.Wait()

	for _, name := range plan.Disabled {
		scalars[name] = models.DisabledOutcome()
	}

	snap := models.ResourceSnapshot{
		Timestamp: start,
		Target: models.TargetInfo{
			Name:    t.Name,
			ID:      t.ID,
			Address: t.Address,
		},
		Metrics: scalars,
	}
	if len(plan.Interfaces) > 0 {
		snap.Interfaces = make(map[string]models.InterfaceTraffic, len(plan.Interfaces))
	}
	for _, im := range plan.Interfaces {
		in, out := models.DisabledOutcome(), models.DisabledOutcome()
		if o, ok := ifaces[im.Name][metrics.DirectionIn]; ok {
			in = o
		}
		if o, ok := ifaces[im.Name][metrics.DirectionOut]; ok {
			out = o
		}
		snap.Interfaces[im.Name] = c.producer.Traffic(in, out)
	}
	snap.Metadata = models.SnapshotMetadata{
		CollectorID:     c.opts.CollectorID,
		CycleDurationMs: c.opts.Now().Sub(start).Milliseconds(),
		Failed:          snap.CountFailed(),
	}

	c.logger.Debug("scheduler: target collected",
		"target", t.Name,
		"failed", snap.Metadata.Failed,
		"duration_ms", snap.Metadata.CycleDurationMs,
	)
	return snap, errors.Join(errs...)
}

// collectBatch issues one GetRequest and records an outcome for every ref of
// the batch. An agent error pointing at one binding fails only that ref and
// the rest are re-issued. An agent error without a usable index (tooBig, or
// index 0) splits the batch in halves down to single OIDs. Any other error
// fails the whole batch.
func (c *Collector) collectBatch(ctx context.Context, t models.Target, batch Batch, record func(Ref, models.Outcome), report func(error)) {
	if len(batch.OIDs) == 0 {
		return
	}
	vbs, err := c.getter.Get(ctx, poller.Request{
		Target:    t,
		Community: t.Community,
		OIDs:      batch.OIDs,
		Timeout:   t.Timeout,
	})
	at := c.opts.Now()

	if err == nil {
		for i, ref := range batch.Refs {
			record(ref, c.outcome(t.Name, ref, vbs[i].Value, i+1, at))
		}
		return
	}

	f, foreign := failureFor(err)
	var agentErr *ber.AgentError
	if errors.As(err, &agentErr) && len(batch.OIDs) > 1 && ctx.Err() == nil {
		if k := agentErr.Index; k >= 1 && k <= len(batch.OIDs) {
			c.logger.Debug("scheduler: agent rejected binding, re-issuing the rest",
				"target", t.Name,
				"metric", batch.Refs[k-1].Metric,
				"status", f.Message,
			)
			record(batch.Refs[k-1], models.FailedOutcome(f))
			c.collectBatch(ctx, t, batch.without(k-1), record, report)
			return
		}
		c.logger.Debug("scheduler: agent rejected batch, splitting",
			"target", t.Name,
			"oids", len(batch.OIDs),
			"status", f.Message,
		)
		left, right := batch.halves()
		c.collectBatch(ctx, t, left, record, report)
		c.collectBatch(ctx, t, right, record, report)
		return
	}

	if foreign {
		report(fmt.Errorf("scheduler: %s: %w", t.Name, err))
	}
	c.logger.Warn("scheduler: snmp get failed",
		"target", t.Name,
		"oids", len(batch.OIDs),
		"reason", f.Reason,
		"error", err.Error(),
	)
	for _, ref := range batch.Refs {
		record(ref, models.FailedOutcome(f))
	}
}

func (c *Collector) outcome(target string, ref Ref, v ber.Value, index int, at time.Time) models.Outcome {
	if ref.IsInterface() {
		return c.producer.Interface(target, ref.Metric, ref.Direction, v, index, at)
	}
	return c.producer.Scalar(ref.Metric, v, index)
}

// external reads one metric from the memory collector.
func (c *Collector) external(ctx context.Context, t models.Target, name string) models.Outcome {
	if c.memory == nil {
		return models.FailedOutcome(models.Failure{
			Reason:  models.ReasonExternalCollector,
			Message: "no external collector configured",
		})
	}
	v, err := c.memory.MemoryPercent(ctx, t, t.Timeout)
	if err != nil {
		c.logger.Warn("scheduler: external collector failed",
			"target", t.Name,
			"metric", name,
			"kind", memory.KindName(err),
			"error", err.Error(),
		)
		return models.FailedOutcome(models.Failure{
			Reason:  models.ReasonExternalCollector,
			Message: memory.KindName(err) + ": " + err.Error(),
		})
	}
	return c.producer.External(name, v)
}

// failureFor maps an exchange error onto a Failure. foreign is true for
// errors outside the SNMP failure taxonomy, which the cycle also reports.
func failureFor(err error) (f models.Failure, foreign bool) {
	var agentErr *ber.AgentError
	switch {
	case errors.Is(err, poller.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return models.Failure{Reason: models.ReasonTimeout, Message: err.Error()}, false
	case errors.As(err, &agentErr):
		return models.Failure{
			Reason:      models.ReasonAgentError,
			Message:     ber.ErrorStatusName(agentErr.Status),
			AgentStatus: agentErr.Status,
			AgentIndex:  agentErr.Index,
		}, false
	case errors.Is(err, ber.ErrMalformedResponse):
		return models.Failure{Reason: models.ReasonMalformedResponse, Message: err.Error()}, false
	case errors.Is(err, context.Canceled):
		return models.Failure{Reason: models.ReasonTransport, Message: err.Error()}, false
	default:
		return models.Failure{Reason: models.ReasonTransport, Message: err.Error()}, true
	}
}

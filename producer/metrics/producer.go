// Package metrics turns raw readings into classified outcomes. It owns the
// interface counter cache, the bit-rate arithmetic and the threshold
// classifier.
package metrics

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/snmp/ber"
	"github.com/vpbank/proxymon/snmp/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds constructor options for Producer.
type Config struct {
	// Thresholds are looked up per metric name; missing entries fall back to
	// DefaultThresholds.
	Thresholds Thresholds
}

// ─────────────────────────────────────────────────────────────────────────────
// Producer
// ─────────────────────────────────────────────────────────────────────────────

// Producer converts readings into models.Outcome values. It is safe for
// concurrent use. The threshold table can be swapped while cycles run.
type Producer struct {
	thresholds atomic.Pointer[Thresholds]
	cache      *CounterCache
	logger     *slog.Logger
}

// New constructs a Producer around cache. Pass nil for a no-op logger.
func New(cfg Config, cache *CounterCache, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopProducerWriter{}, nil))
	}
	if cache == nil {
		cache = NewCounterCache(CacheOptions{})
	}
	p := &Producer{cache: cache, logger: logger}
	p.SetThresholds(cfg.Thresholds)
	return p
}

// Cache returns the counter cache the producer writes to.
func (p *Producer) Cache() *CounterCache { return p.cache }

// Thresholds returns the active threshold table.
func (p *Producer) Thresholds() Thresholds { return *p.thresholds.Load() }

// SetThresholds replaces the threshold table. Readings classified after the
// call use t.
func (p *Producer) SetThresholds(t Thresholds) {
	p.thresholds.Store(&t)
}

// Scalar classifies an SNMP-read scalar metric. index is the 1-based position
// of the binding in its request and is reported when the agent answered with
// an exception value.
func (p *Producer) Scalar(name string, v ber.Value, index int) models.Outcome {
	f, err := decoder.Gauge(v)
	if err != nil {
		return valueFailure(err, index)
	}
	return models.ValueOutcome(f, Classify(f, p.Thresholds().Lookup(name)))
}

// External classifies a metric read by an external collector.
func (p *Producer) External(name string, v float64) models.Outcome {
	return models.ValueOutcome(v, Classify(v, p.Thresholds().Lookup(name)))
}

// Interface feeds one interface counter into the cache and returns its rate
// outcome. The per-direction status uses the interface_traffic thresholds.
func (p *Producer) Interface(target, iface string, dir Direction, v ber.Value, index int, at time.Time) models.Outcome {
	raw, width, err := decoder.Counter(v)
	if err != nil {
		return valueFailure(err, index)
	}
	res := p.cache.Observe(CounterKey{Target: target, Interface: iface, Direction: dir}, Sample{Raw: raw, Width: width, At: at})
	if !res.Valid {
		return models.InsufficientOutcome()
	}
	p.logger.Debug("interface rate",
		"target", target,
		"interface", iface,
		"direction", dir,
		"delta", res.Delta,
		"elapsed", res.Elapsed,
		"bps", res.Rate,
	)
	return models.ValueOutcome(res.Rate, Classify(res.Rate, p.Thresholds().Lookup(InterfaceTrafficKey)))
}

// Traffic pairs the two directions of an interface. Its status classifies the
// larger rate among the directions that produced a value and is TierNone when
// neither did.
func (p *Producer) Traffic(in, out models.Outcome) models.InterfaceTraffic {
	t := models.InterfaceTraffic{In: in, Out: out}
	switch {
	case in.Kind == models.OutcomeValue && out.Kind == models.OutcomeValue:
		t.Status = ClassifyPair(in.Value, out.Value, p.Thresholds().Lookup(InterfaceTrafficKey))
	case in.Kind == models.OutcomeValue:
		t.Status = in.Status
	case out.Kind == models.OutcomeValue:
		t.Status = out.Status
	}
	return t
}

// valueFailure maps a reading that could not be used onto a failed outcome.
// Exception values mean the agent does not know the object, which is reported
// as noSuchName at the binding's position.
func valueFailure(err error, index int) models.Outcome {
	if errors.Is(err, decoder.ErrException) {
		return models.FailedOutcome(models.Failure{
			Reason:      models.ReasonAgentError,
			Message:     err.Error(),
			AgentStatus: 2,
			AgentIndex:  index,
		})
	}
	return models.FailedOutcome(models.Failure{
		Reason:  models.ReasonMalformedResponse,
		Message: err.Error(),
	})
}

// ─────────────────────────────────────────────────────────────────────────────
// no-op logger writer
// ─────────────────────────────────────────────────────────────────────────────

type noopProducerWriter struct{}

func (noopProducerWriter) Write(p []byte) (int, error) { return len(p), nil }

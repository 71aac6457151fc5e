// Package scheduler coordinates per-target collection cycles. It resolves the
// loaded configuration into one Plan per target, runs every target's plan
// concurrently on each cycle, and hands the resulting snapshots to a Sink at
// the configured cadence.
package scheduler

import (
	"log/slog"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/config"
	"github.com/vpbank/proxymon/producer/metrics"
	"github.com/vpbank/proxymon/snmp/ber"
)

// ScalarMetric is a metric read with a single OID.
type ScalarMetric struct {
	Name string
	OID  ber.OID
}

// InterfaceMetric holds an interface's counter OIDs. A nil direction is
// disabled.
type InterfaceMetric struct {
	Name string
	In   *ber.OID
	Out  *ber.OID
}

// Ref says which metric a batched OID feeds. Direction is empty for scalars.
type Ref struct {
	Metric    string
	Direction metrics.Direction
}

// IsInterface reports whether the ref feeds an interface counter.
func (r Ref) IsInterface() bool { return r.Direction != "" }

// Batch is one GetRequest worth of OIDs. Refs[i] names the metric OIDs[i]
// feeds.
type Batch struct {
	OIDs []ber.OID
	Refs []Ref
}

// without returns a copy of the batch minus the binding at i.
func (b Batch) without(i int) Batch {
	out := Batch{
		OIDs: make([]ber.OID, 0, len(b.OIDs)-1),
		Refs: make([]Ref, 0, len(b.Refs)-1),
	}
	out.OIDs = append(append(out.OIDs, b.OIDs[:i]...), b.OIDs[i+1:]...)
	out.Refs = append(append(out.Refs, b.Refs[:i]...), b.Refs[i+1:]...)
	return out
}

// halves splits the batch in two. The halves share the batch's backing arrays.
func (b Batch) halves() (Batch, Batch) {
	mid := len(b.OIDs) / 2
	return Batch{OIDs: b.OIDs[:mid:mid], Refs: b.Refs[:mid:mid]},
		Batch{OIDs: b.OIDs[mid:], Refs: b.Refs[mid:]}
}

// Plan is everything one cycle needs to know about one target. Plans are
// built once per configuration load and are read-only afterwards.
type Plan struct {
	Target     models.Target
	Scalars    []ScalarMetric
	External   []string // metrics served by the memory collector
	Disabled   []string
	Interfaces []InterfaceMetric
	Batches    []Batch
}

// MetricCount returns the number of scalar metrics the plan reports on.
func (p Plan) MetricCount() int {
	return len(p.Scalars) + len(p.External) + len(p.Disabled)
}

// ResolvePlans builds one Plan per configured target, sorted by target name.
// OID metrics are chunked into batches of at most maxOIDs. A target without a
// community has every OID metric disabled.
func ResolvePlans(cfg *config.LoadedConfig, maxOIDs int, logger *slog.Logger) []Plan {
	if cfg == nil {
		return nil
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if maxOIDs <= 0 {
		maxOIDs = 1
	}

	plans := make([]Plan, 0, len(cfg.Targets))
	for _, name := range cfg.TargetNames() {
		plan := resolvePlan(cfg.Targets[name], cfg.Resources, maxOIDs)
		logger.Debug("scheduler: resolved plan",
			"target", name,
			"scalars", len(plan.Scalars),
			"external", len(plan.External),
			"disabled", len(plan.Disabled),
			"interfaces", len(plan.Interfaces),
			"batches", len(plan.Batches),
		)
		plans = append(plans, plan)
	}
	return plans
}

func resolvePlan(t models.Target, res config.Resources, maxOIDs int) Plan {
	snmpOn := t.Community != ""
	plan := Plan{Target: t}

	var oids []ber.OID
	var refs []Ref

	for _, m := range res.Metrics {
		switch {
		case m.Source.Kind == models.SourceExternal:
			plan.External = append(plan.External, m.Name)
		case m.Source.Kind == models.SourceOID && snmpOn:
			plan.Scalars = append(plan.Scalars, ScalarMetric{Name: m.Name, OID: m.Source.OID})
			oids = append(oids, m.Source.OID)
			refs = append(refs, Ref{Metric: m.Name})
		default:
			plan.Disabled = append(plan.Disabled, m.Name)
		}
	}

	for _, spec := range res.Interfaces {
		im := InterfaceMetric{Name: spec.Name}
		if spec.In.Kind == models.SourceOID && snmpOn {
			o := spec.In.OID
			im.In = &o
			oids = append(oids, o)
			refs = append(refs, Ref{Metric: spec.Name, Direction: metrics.DirectionIn})
		}
		if spec.Out.Kind == models.SourceOID && snmpOn {
			o := spec.Out.OID
			im.Out = &o
			oids = append(oids, o)
			refs = append(refs, Ref{Metric: spec.Name, Direction: metrics.DirectionOut})
		}
		plan.Interfaces = append(plan.Interfaces, im)
	}

	for start := 0; start < len(oids); start += maxOIDs {
		end := min(start+maxOIDs, len(oids))
		plan.Batches = append(plan.Batches, Batch{OIDs: oids[start:end], Refs: refs[start:end]})
	}
	return plan
}

// TargetNames returns the set of target names across plans.
func TargetNames(plans []Plan) map[string]bool {
	names := make(map[string]bool, len(plans))
	for _, p := range plans {
		names[p.Target.Name] = true
	}
	return names
}

// Package models defines the data structures shared across all layers of
// proxymon: targets and metric sources as loaded from configuration, and the
// per-cycle ResourceSnapshot handed to formatters and transports. Apart from
// the OID type of the BER codec nothing here depends on another internal
// package.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ResourceSnapshot is the result of one collection cycle for one target. It
// has an entry for every configured metric and interface, including failed
// and disabled ones.
type ResourceSnapshot struct {
	Timestamp  time.Time                   `json:"timestamp"`
	Target     TargetInfo                  `json:"target"`
	Metrics    map[string]Outcome          `json:"metrics"`
	Interfaces map[string]InterfaceTraffic `json:"interfaces,omitempty"`
	Metadata   SnapshotMetadata            `json:"metadata"`
}

// TargetInfo identifies the snapshot's target in output.
type TargetInfo struct {
	Name    string `json:"name"`
	ID      string `json:"id"`
	Address string `json:"address"`
}

// SnapshotMetadata carries operational data about the cycle.
type SnapshotMetadata struct {
	CollectorID     string `json:"collector_id"`
	CycleDurationMs int64  `json:"cycle_duration_ms"`
	Failed          int    `json:"failed"` // number of failed outcomes
}

// InterfaceTraffic pairs the in and out rates of one interface. Status is the
// tier of the larger rate and is TierNone when neither direction has a value.
type InterfaceTraffic struct {
	In     Outcome `json:"in"`
	Out    Outcome `json:"out"`
	Status Tier    `json:"status,omitempty"`
}

// Status returns the worst tier across all metrics and interfaces.
func (s ResourceSnapshot) Status() Tier {
	worst := TierNone
	for _, o := range s.Metrics {
		if o.Kind == OutcomeValue && o.Status > worst {
			worst = o.Status
		}
	}
	for _, it := range s.Interfaces {
		if it.Status > worst {
			worst = it.Status
		}
	}
	return worst
}

// CountFailed returns the number of failed outcomes, counting each interface
// direction separately.
func (s ResourceSnapshot) CountFailed() int {
	n := 0
	for _, o := range s.Metrics {
		if o.Kind == OutcomeFailed {
			n++
		}
	}
	for _, it := range s.Interfaces {
		if it.In.Kind == OutcomeFailed {
			n++
		}
		if it.Out.Kind == OutcomeFailed {
			n++
		}
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Outcome
// ─────────────────────────────────────────────────────────────────────────────

// OutcomeKind discriminates Outcome.
type OutcomeKind string

const (
	OutcomeValue        OutcomeKind = "value"
	OutcomeInsufficient OutcomeKind = "insufficient" // rate not computable yet
	OutcomeFailed       OutcomeKind = "failed"
	OutcomeDisabled     OutcomeKind = "disabled"
)

// Outcome is the per-metric result of a cycle. Value and Status are meaningful
// only for OutcomeValue; Failure only for OutcomeFailed.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Value   float64     `json:"value"`
	Status  Tier        `json:"status,omitempty"`
	Failure *Failure    `json:"failure,omitempty"`
}

// MarshalJSON drops the value field for outcomes that carry none, so a
// failed metric is never mistaken for a reading of zero.
func (o Outcome) MarshalJSON() ([]byte, error) {
	type plain Outcome
	if o.Kind == OutcomeValue {
		return json.Marshal(plain(o))
	}
	return json.Marshal(struct {
		Kind    OutcomeKind `json:"kind"`
		Failure *Failure    `json:"failure,omitempty"`
	}{o.Kind, o.Failure})
}

func ValueOutcome(v float64, tier Tier) Outcome {
	return Outcome{Kind: OutcomeValue, Value: v, Status: tier}
}

func InsufficientOutcome() Outcome { return Outcome{Kind: OutcomeInsufficient} }

func DisabledOutcome() Outcome { return Outcome{Kind: OutcomeDisabled} }

func FailedOutcome(f Failure) Outcome { return Outcome{Kind: OutcomeFailed, Failure: &f} }

func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeValue:
		return fmt.Sprintf("%.2f (%s)", o.Value, o.Status)
	case OutcomeFailed:
		if o.Failure != nil {
			return "failed: " + o.Failure.String()
		}
		return "failed"
	default:
		return string(o.Kind)
	}
}

// FailureReason classifies why a metric could not be collected.
type FailureReason string

const (
	ReasonTimeout           FailureReason = "timeout"
	ReasonMalformedResponse FailureReason = "malformed_response"
	ReasonAgentError        FailureReason = "agent_error"
	ReasonExternalCollector FailureReason = "external_collector"
	ReasonTransport         FailureReason = "transport"
)

// Failure describes a failed outcome. AgentStatus and AgentIndex are set for
// ReasonAgentError only.
type Failure struct {
	Reason      FailureReason `json:"reason"`
	Message     string        `json:"message,omitempty"`
	AgentStatus int           `json:"agent_status,omitempty"`
	AgentIndex  int           `json:"agent_index,omitempty"`
}

func (f Failure) String() string {
	if f.Message == "" {
		return string(f.Reason)
	}
	return string(f.Reason) + ": " + f.Message
}

// ─────────────────────────────────────────────────────────────────────────────
// Tier
// ─────────────────────────────────────────────────────────────────────────────

// Tier is a classification result. Tiers are ordered so the worst of several
// can be picked with a plain comparison.
type Tier uint8

const (
	TierNone Tier = iota
	TierNormal
	TierWarning
	TierCritical
)

func (t Tier) String() string {
	switch t {
	case TierNormal:
		return "normal"
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	default:
		return "none"
	}
}

// MarshalText renders the tier name in JSON output.
func (t Tier) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText parses a tier name.
func (t *Tier) UnmarshalText(b []byte) error {
	switch string(b) {
	case "normal":
		*t = TierNormal
	case "warning":
		*t = TierWarning
	case "critical":
		*t = TierCritical
	case "none", "":
		*t = TierNone
	default:
		return fmt.Errorf("models: unknown tier %q", string(b))
	}
	return nil
}

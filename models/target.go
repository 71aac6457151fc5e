package models

import (
	"net"
	"strconv"
	"time"

	"github.com/vpbank/proxymon/snmp/ber"
)

// Target is one monitored proxy. It is owned by configuration and treated as
// read-only by the collection core.
type Target struct {
	// Name is the configuration key and the identity used for counter cache
	// entries, e.g. "proxy-seoul-01".
	Name string

	// ID is the operator-facing collection identity (proxy_id in CSV output).
	// Defaults to Name.
	ID string

	Address   string
	Port      int
	Community string // blank disables SNMP collection for this target

	// Timeout bounds each SNMP exchange and each external collector call.
	Timeout time.Duration

	SSH SSHCredentials
}

// SSHCredentials are used by the external memory collector.
type SSHCredentials struct {
	Port     int
	Username string
	Password string
}

// HostPort returns address:port suitable for net.Dial.
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// SSHHostPort returns address:ssh-port.
func (t Target) SSHHostPort() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.SSH.Port))
}

// ─────────────────────────────────────────────────────────────────────────────
// Metric sources
// ─────────────────────────────────────────────────────────────────────────────

// SourceKind says how a metric is collected.
type SourceKind uint8

const (
	SourceDisabled SourceKind = iota
	SourceOID
	SourceExternal
)

func (k SourceKind) String() string {
	switch k {
	case SourceOID:
		return "oid"
	case SourceExternal:
		return "external"
	default:
		return "disabled"
	}
}

// MetricSource is resolved once when configuration is loaded. OID is set only
// when Kind is SourceOID.
type MetricSource struct {
	Kind SourceKind
	OID  ber.OID
}

// OIDSource is shorthand for an SNMP-collected metric.
func OIDSource(o ber.OID) MetricSource { return MetricSource{Kind: SourceOID, OID: o} }

// ExternalSource marks a metric collected by the external memory collector.
func ExternalSource() MetricSource { return MetricSource{Kind: SourceExternal} }

// DisabledSource marks a metric that is never collected.
func DisabledSource() MetricSource { return MetricSource{Kind: SourceDisabled} }

func (s MetricSource) String() string {
	if s.Kind == SourceOID {
		return s.OID.String()
	}
	return s.Kind.String()
}

// MetricSpec binds a scalar metric name (cpu, mem, cc, …) to its source.
type MetricSpec struct {
	Name   string
	Source MetricSource
}

// InterfaceSpec binds an interface name to its in/out octet counters. Either
// direction may be disabled.
type InterfaceSpec struct {
	Name string
	In   MetricSource
	Out  MetricSource
}

// ThresholdPair holds the warning and critical levels for one metric.
// Warning <= Critical is expected but not enforced.
type ThresholdPair struct {
	Warning  float64 `yaml:"warning" json:"warning"`
	Critical float64 `yaml:"critical" json:"critical"`
}

// Inverted reports whether warning exceeds critical.
func (p ThresholdPair) Inverted() bool { return p.Warning > p.Critical }

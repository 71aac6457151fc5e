// Package poller implements the SNMP request/response stage. Two engines sit
// behind the Getter interface: Engine, a native GetRequest/GetResponse
// exchange over a fresh UDP socket per call, and PooledGetter, which reuses
// gosnmp sessions from a per-target connection pool.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/snmp/ber"
)

// DefaultMaxOIDs is the largest number of OIDs placed in one GetRequest.
// It matches gosnmp's default MaxOids.
const DefaultMaxOIDs = 60

// ErrTimeout is returned when no matching response arrives before the
// deadline. Test with errors.Is.
var ErrTimeout = errors.New("poller: timeout")

// ─────────────────────────────────────────────────────────────────────────────
// Getter
// ─────────────────────────────────────────────────────────────────────────────

// Request describes one GetRequest to one target.
type Request struct {
	Target    models.Target
	Community string
	OIDs      []ber.OID
	Timeout   time.Duration
}

// Getter performs one SNMP Get exchange. On success the returned bindings are
// in request order and their OIDs match the request one for one.
//
// Errors: ErrTimeout, anything matching ber.ErrMalformedResponse, or a
// *ber.AgentError. Any other error is a transport or resource failure.
type Getter interface {
	Get(ctx context.Context, req Request) ([]ber.VarBind, error)
	// MaxOIDs is the largest OID list Get accepts.
	MaxOIDs() int
}

// ExchangeObserver is told about every finished exchange. It is used for
// self-metrics and must be safe for concurrent use.
type ExchangeObserver func(target string, elapsed time.Duration, err error)

// matchBindings verifies that a response carries exactly the requested OIDs in
// the requested order.
func matchBindings(want []ber.OID, got []ber.VarBind) error {
	if len(got) != len(want) {
		return &ber.MalformedError{
			Reason: fmt.Sprintf("response has %d bindings, request had %d", len(got), len(want)),
		}
	}
	for i := range want {
		if !want[i].Equal(got[i].OID) {
			return &ber.MalformedError{
				Reason: fmt.Sprintf("binding %d is %s, requested %s", i+1, got[i].OID, want[i]),
			}
		}
	}
	return nil
}

func validate(req Request, max int) error {
	if len(req.OIDs) == 0 {
		return fmt.Errorf("poller: %s: empty OID list", req.Target.Name)
	}
	if len(req.OIDs) > max {
		return fmt.Errorf("poller: %s: %d OIDs exceeds limit of %d", req.Target.Name, len(req.OIDs), max)
	}
	if req.Timeout <= 0 {
		return fmt.Errorf("poller: %s: timeout must be positive", req.Target.Name)
	}
	return nil
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

// Package decoder turns variable bindings into the numeric readings the
// producer works with. It also bridges gosnmp PDUs into ber values so that
// both SNMP engines hand the rest of the pipeline the same typed bindings.
package decoder

import (
	"errors"
	"fmt"

	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrException is returned for noSuchObject, noSuchInstance and
	// endOfMibView bindings.
	ErrException = errors.New("decoder: exception value")

	// ErrNotNumeric is returned when a binding holds a value that cannot be
	// read as a number (OID, IpAddress, non-numeric OctetString, NULL).
	ErrNotNumeric = errors.New("decoder: value is not numeric")

	// ErrNegativeCounter is returned when an INTEGER used as a counter is
	// below zero.
	ErrNegativeCounter = errors.New("decoder: negative counter")
)

// ─────────────────────────────────────────────────────────────────────────────
// Readings
// ─────────────────────────────────────────────────────────────────────────────

// Gauge reads v as an instantaneous value. Every numeric kind is accepted, as
// is an OctetString holding a decimal number.
func Gauge(v ber.Value) (float64, error) {
	if v.IsException() {
		return 0, fmt.Errorf("%w: %s", ErrException, v.Kind())
	}
	f, ok := v.Float()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotNumeric, v)
	}
	return f, nil
}

// Counter reads v as a monotonically increasing counter and reports its wrap
// width in bits. Counter64 wraps at 64 bits; Counter32, Gauge32, TimeTicks and
// a non-negative INTEGER wrap at 32.
func Counter(v ber.Value) (raw uint64, width int, err error) {
	if v.IsException() {
		return 0, 0, fmt.Errorf("%w: %s", ErrException, v.Kind())
	}
	switch v.Kind() {
	case ber.KindCounter64:
		u, _ := v.Uint()
		return u, 64, nil
	case ber.KindCounter32, ber.KindGauge32, ber.KindTimeTicks:
		u, _ := v.Uint()
		return u, 32, nil
	case ber.KindInteger:
		i, _ := v.Int()
		if i < 0 {
			return 0, 0, fmt.Errorf("%w: %d", ErrNegativeCounter, i)
		}
		if i > 1<<32-1 {
			return uint64(i), 64, nil
		}
		return uint64(i), 32, nil
	}
	return 0, 0, fmt.Errorf("%w: %s", ErrNotNumeric, v)
}

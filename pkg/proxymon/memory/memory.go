// Package memory implements the external memory collector: it reads a
// target's memory usage percentage over SSH instead of SNMP.
package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vpbank/proxymon/models"
)

// Collector reads a memory usage percentage (0..100) from a target.
// Implementations must be safe for concurrent use.
type Collector interface {
	MemoryPercent(ctx context.Context, target models.Target, timeout time.Duration) (float64, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Errors
// ─────────────────────────────────────────────────────────────────────────────

// Failure kinds. Every error returned by a Collector matches exactly one of
// them via errors.Is.
var (
	ErrTimeout        = errors.New("memory: timeout")
	ErrAuthFailure    = errors.New("memory: authentication failed")
	ErrCommandFailure = errors.New("memory: command failed")
)

// Error carries the failure kind together with the underlying cause.
type Error struct {
	Kind   error // ErrTimeout, ErrAuthFailure or ErrCommandFailure
	Target string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v (%s)", e.Kind, e.Target)
	}
	return fmt.Sprintf("%v (%s): %v", e.Kind, e.Target, e.Err)
}

// Is reports whether target is this error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

// KindName returns a short label for err's kind: timeout, auth or command.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrAuthFailure):
		return "auth"
	default:
		return "command"
	}
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}

// noopWriter discards log output.
type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

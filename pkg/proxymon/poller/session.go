package poller

import (
	"fmt"
	"log/slog"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/proxymon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Session factory
// ─────────────────────────────────────────────────────────────────────────────

// NewSession creates and connects an SNMPv2c gosnmp session for target. The
// session never retries; the collection cycle decides what a timeout means.
func NewSession(target models.Target, logger *slog.Logger) (*gosnmp.GoSNMP, error) {
	if target.Community == "" {
		return nil, fmt.Errorf("snmp session %s: empty community", target.Name)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	g := &gosnmp.GoSNMP{
		Target:    target.Address,
		Port:      uint16(target.Port),
		Community: target.Community,
		Version:   gosnmp.Version2c,
		Timeout:   target.Timeout,
		Retries:   0,
		MaxOids:   DefaultMaxOIDs,
		Logger:    gosnmp.NewLogger(slogAdapter{logger}),
	}
	if err := g.Connect(); err != nil {
		return nil, fmt.Errorf("snmp connect %s: %w", target.HostPort(), err)
	}
	return g, nil
}

// slogAdapter bridges slog.Logger to gosnmp's Printf-style logger.
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Print(v ...interface{}) {
	a.l.Debug(fmt.Sprint(v...))
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(fmt.Sprintf(format, v...))
}

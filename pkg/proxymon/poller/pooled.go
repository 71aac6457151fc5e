package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/proxymon/snmp/ber"
	"github.com/vpbank/proxymon/snmp/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// PooledGetter
// ─────────────────────────────────────────────────────────────────────────────

// PooledGetter is a Getter that reuses gosnmp sessions from a ConnectionPool.
// Its results and errors follow the same contract as Engine.
type PooledGetter struct {
	pool    *ConnectionPool
	logger  *slog.Logger
	observe ExchangeObserver
}

// NewPooledGetter wraps pool. observe may be nil.
func NewPooledGetter(pool *ConnectionPool, observe ExchangeObserver, logger *slog.Logger) *PooledGetter {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &PooledGetter{pool: pool, logger: logger, observe: observe}
}

// MaxOIDs implements Getter.
func (g *PooledGetter) MaxOIDs() int { return DefaultMaxOIDs }

// Get implements Getter.
func (g *PooledGetter) Get(ctx context.Context, req Request) ([]ber.VarBind, error) {
	start := time.Now()
	vbs, err := g.get(ctx, req)
	if g.observe != nil {
		g.observe(req.Target.Name, time.Since(start), err)
	}
	return vbs, err
}

func (g *PooledGetter) get(ctx context.Context, req Request) ([]ber.VarBind, error) {
	if err := validate(req, DefaultMaxOIDs); err != nil {
		return nil, err
	}

	target := req.Target
	target.Community = req.Community
	target.Timeout = req.Timeout

	conn, err := g.pool.Get(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("pool get %s: %w", target.Name, err)
	}
	conn.Context = ctx
	conn.Timeout = req.Timeout
	conn.Community = req.Community

	oids := make([]string, len(req.OIDs))
	for i, o := range req.OIDs {
		oids[i] = "." + o.String()
	}

	pkt, err := conn.Get(oids)
	if err != nil {
		// The session may be unusable after a failed exchange.
		g.pool.Discard(conn)
		if isGoSNMPTimeout(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrTimeout, target.HostPort(), err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("snmp get %s: %w", target.HostPort(), err)
	}
	g.pool.Put(conn)

	if pkt.Error != gosnmp.NoError {
		return nil, &ber.AgentError{Status: int(pkt.Error), Index: int(pkt.ErrorIndex)}
	}

	vbs, err := decoder.FromPDUs(pkt.Variables)
	if err != nil {
		return nil, err
	}
	if err := matchBindings(req.OIDs, vbs); err != nil {
		return nil, fmt.Errorf("snmp get %s: %w", target.HostPort(), err)
	}

	g.logger.Debug("poll completed",
		"target", target.Name,
		"oid_count", len(oids),
	)
	return vbs, nil
}

// isGoSNMPTimeout recognises gosnmp's "request timeout (after N retries)"
// error, which is not a typed error.
func isGoSNMPTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return strings.Contains(err.Error(), "timeout")
}

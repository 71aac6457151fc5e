package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"sync/atomic"
	"time"

	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// Request ids
// ─────────────────────────────────────────────────────────────────────────────

// requestIDs is shared by every Engine in the process so that two concurrent
// exchanges never carry the same id, even to the same target.
var requestIDs atomic.Uint32

func init() {
	requestIDs.Store(rand.Uint32())
}

// nextRequestID returns a positive 31-bit id. Zero is skipped.
func nextRequestID() int32 {
	for {
		if v := requestIDs.Add(1) & 0x7fffffff; v != 0 {
			return int32(v)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// EngineOptions configures the native engine.
type EngineOptions struct {
	// MaxOIDs bounds the OID list of one request (default DefaultMaxOIDs).
	MaxOIDs int

	// BufferSize is the receive buffer size in bytes (default 65535, the
	// largest UDP payload).
	BufferSize int

	// Dial opens the datagram socket. Defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)

	// Observe, when set, is called after every exchange.
	Observe ExchangeObserver
}

func (o *EngineOptions) defaults() {
	if o.MaxOIDs <= 0 {
		o.MaxOIDs = DefaultMaxOIDs
	}
	if o.BufferSize <= 0 {
		o.BufferSize = 65535
	}
	if o.Dial == nil {
		var d net.Dialer
		o.Dial = d.DialContext
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Engine
// ─────────────────────────────────────────────────────────────────────────────

// Engine performs each exchange on a fresh connected UDP socket. It holds no
// per-target state and is safe for concurrent use.
type Engine struct {
	opts   EngineOptions
	logger *slog.Logger
}

// NewEngine returns a ready Engine.
func NewEngine(opts EngineOptions, logger *slog.Logger) *Engine {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Engine{opts: opts, logger: logger}
}

// MaxOIDs implements Getter.
func (e *Engine) MaxOIDs() int { return e.opts.MaxOIDs }

// Get implements Getter. It sends one GetRequest and waits for the response
// carrying the same request id. Responses with other ids are dropped. There is
// no retry.
func (e *Engine) Get(ctx context.Context, req Request) ([]ber.VarBind, error) {
	start := time.Now()
	vbs, err := e.get(ctx, req)
	if e.opts.Observe != nil {
		e.opts.Observe(req.Target.Name, time.Since(start), err)
	}
	return vbs, err
}

func (e *Engine) get(ctx context.Context, req Request) ([]ber.VarBind, error) {
	if err := validate(req, e.opts.MaxOIDs); err != nil {
		return nil, err
	}

	id := nextRequestID()
	packet, err := ber.EncodeGetRequest(req.Community, id, req.OIDs)
	if err != nil {
		return nil, fmt.Errorf("poller: %s: encode: %w", req.Target.Name, err)
	}

	addr := req.Target.HostPort()
	conn, err := e.opts.Dial(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("poller: dial %s: %w", addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(req.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("poller: %s: set deadline: %w", addr, err)
	}

	// Cancellation without a deadline still has to unblock Read.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	if _, err := conn.Write(packet); err != nil {
		return nil, fmt.Errorf("poller: send to %s: %w", addr, err)
	}

	buf := make([]byte, e.opts.BufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
					return nil, ctxErr
				}
				return nil, fmt.Errorf("%w: no response from %s (request id %d)", ErrTimeout, addr, id)
			}
			return nil, fmt.Errorf("poller: receive from %s: %w", addr, err)
		}

		msg, err := ber.DecodeGetResponse(buf[:n])
		var agentErr *ber.AgentError
		if err != nil && !errors.As(err, &agentErr) {
			return nil, fmt.Errorf("poller: %s: %w", addr, err)
		}
		if msg.PDU.RequestID != id {
			e.logger.Debug("poller: discarding response with foreign request id",
				"target", req.Target.Name,
				"want", id,
				"got", msg.PDU.RequestID,
			)
			continue
		}
		if agentErr != nil {
			return nil, agentErr
		}
		if err := matchBindings(req.OIDs, msg.PDU.Bindings); err != nil {
			return nil, fmt.Errorf("poller: %s: %w", addr, err)
		}
		return msg.PDU.Bindings, nil
	}
}

package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/proxymon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// PoolOptions configures the connection pool behaviour.
type PoolOptions struct {
	// MaxIdlePerTarget is the maximum number of idle sessions kept per target
	// (default 2). Excess sessions returned via Put are closed immediately.
	MaxIdlePerTarget int

	// MaxConcurrentPerTarget bounds in-flight sessions per target (default 4).
	MaxConcurrentPerTarget int

	// IdleTimeout is how long an idle session remains in the pool before being
	// discarded. Zero means no expiry.
	IdleTimeout time.Duration

	// Dial is the function used to create new gosnmp sessions.
	// Defaults to NewSession when nil.
	Dial func(models.Target, *slog.Logger) (*gosnmp.GoSNMP, error)
}

func (o *PoolOptions) defaults() {
	if o.MaxIdlePerTarget <= 0 {
		o.MaxIdlePerTarget = 2
	}
	if o.MaxConcurrentPerTarget <= 0 {
		o.MaxConcurrentPerTarget = 4
	}
	if o.Dial == nil {
		o.Dial = NewSession
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Connection pool
// ─────────────────────────────────────────────────────────────────────────────

type poolEntry struct {
	conn       *gosnmp.GoSNMP
	returnedAt time.Time
}

// targetPool is the per-target idle list + concurrency semaphore. A
// forgotten pool still owns the slots of its in-flight sessions.
type targetPool struct {
	mu        sync.Mutex
	idle      []poolEntry // LIFO stack
	sem       chan struct{}
	forgotten bool
}

// ConnectionPool manages gosnmp sessions keyed by target name.
// It enforces per-target concurrency limits and recycles idle sessions.
type ConnectionPool struct {
	opts   PoolOptions
	logger *slog.Logger

	mu    sync.RWMutex
	pools map[string]*targetPool
	lent  map[*gosnmp.GoSNMP]*targetPool // in-flight session -> slot owner

	closed chan struct{}
}

// NewConnectionPool creates a ready-to-use pool.
func NewConnectionPool(opts PoolOptions, logger *slog.Logger) *ConnectionPool {
	opts.defaults()
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &ConnectionPool{
		opts:   opts,
		logger: logger,
		pools:  make(map[string]*targetPool),
		lent:   make(map[*gosnmp.GoSNMP]*targetPool),
		closed: make(chan struct{}),
	}
}

// Get acquires a session for target. It blocks while the per-target
// concurrency limit is reached, and respects context cancellation.
func (p *ConnectionPool) Get(ctx context.Context, target models.Target) (*gosnmp.GoSNMP, error) {
	select {
	case <-p.closed:
		return nil, fmt.Errorf("pool closed")
	default:
	}

	tp := p.getOrCreatePool(target.Name)

	select {
	case tp.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.closed:
		return nil, fmt.Errorf("pool closed")
	}

	conn := p.popIdle(tp)
	if conn == nil {
		var err error
		if conn, err = p.opts.Dial(target, p.logger); err != nil {
			<-tp.sem
			return nil, err
		}
	}

	p.mu.Lock()
	p.lent[conn] = tp
	p.mu.Unlock()
	return conn, nil
}

// Put returns a session to the idle list of the pool it was taken from and
// releases that pool's concurrency slot. The session is closed instead when
// the idle list is full or its target has been forgotten.
func (p *ConnectionPool) Put(conn *gosnmp.GoSNMP) {
	tp := p.takeBack(conn)
	if tp == nil {
		closeSession(conn)
		return
	}
	defer func() { <-tp.sem }()

	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.forgotten || len(tp.idle) >= p.opts.MaxIdlePerTarget {
		closeSession(conn)
		return
	}
	select {
	case <-p.closed:
		closeSession(conn)
		return
	default:
	}
	tp.idle = append(tp.idle, poolEntry{conn: conn, returnedAt: time.Now()})
}

// Discard closes a session known to be broken and releases its slot.
func (p *ConnectionPool) Discard(conn *gosnmp.GoSNMP) {
	closeSession(conn)
	if tp := p.takeBack(conn); tp != nil {
		<-tp.sem
	}
}

// Forget closes the idle sessions of a target that left the configuration.
// In-flight sessions are closed when they are returned. A later Get for the
// same name starts a fresh pool.
func (p *ConnectionPool) Forget(name string) {
	p.mu.Lock()
	tp, ok := p.pools[name]
	delete(p.pools, name)
	p.mu.Unlock()
	if !ok {
		return
	}
	tp.mu.Lock()
	tp.forgotten = true
	for _, e := range tp.idle {
		closeSession(e.conn)
	}
	tp.idle = nil
	tp.mu.Unlock()
}

// InFlight returns the number of sessions handed out by Get and not yet
// returned.
func (p *ConnectionPool) InFlight() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.lent)
}

// Close drains all idle sessions and prevents new Get calls.
func (p *ConnectionPool) Close() error {
	select {
	case <-p.closed:
		return nil
	default:
	}
	close(p.closed)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, tp := range p.pools {
		tp.mu.Lock()
		for _, e := range tp.idle {
			closeSession(e.conn)
		}
		tp.idle = nil
		tp.mu.Unlock()
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ─────────────────────────────────────────────────────────────────────────────

func (p *ConnectionPool) getOrCreatePool(name string) *targetPool {
	p.mu.RLock()
	tp, ok := p.pools[name]
	p.mu.RUnlock()
	if ok {
		return tp
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if tp, ok = p.pools[name]; ok {
		return tp
	}
	tp = &targetPool{
		idle: make([]poolEntry, 0, p.opts.MaxIdlePerTarget),
		sem:  make(chan struct{}, p.opts.MaxConcurrentPerTarget),
	}
	p.pools[name] = tp
	return tp
}

// takeBack removes conn from the lent set and returns the pool that owns its
// slot, or nil for a session the pool never handed out.
func (p *ConnectionPool) takeBack(conn *gosnmp.GoSNMP) *targetPool {
	p.mu.Lock()
	defer p.mu.Unlock()
	tp, ok := p.lent[conn]
	if !ok {
		return nil
	}
	delete(p.lent, conn)
	return tp
}

func (p *ConnectionPool) popIdle(tp *targetPool) *gosnmp.GoSNMP {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	for len(tp.idle) > 0 {
		n := len(tp.idle) - 1
		entry := tp.idle[n]
		tp.idle = tp.idle[:n]

		if p.opts.IdleTimeout > 0 && time.Since(entry.returnedAt) > p.opts.IdleTimeout {
			closeSession(entry.conn)
			continue
		}
		return entry.conn
	}
	return nil
}

func closeSession(conn *gosnmp.GoSNMP) {
	if conn != nil && conn.Conn != nil {
		_ = conn.Conn.Close()
	}
}

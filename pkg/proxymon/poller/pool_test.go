package poller_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// Connection Pool tests
// ─────────────────────────────────────────────────────────────────────────────

func testTarget() models.Target {
	return models.Target{
		Name:      "proxy-a",
		Address:   "127.0.0.1",
		Port:      10161,
		Community: "public",
		Timeout:   500 * time.Millisecond,
	}
}

// fakeDialer returns sessions that are never connected; Put and Discard
// tolerate a nil Conn.
func fakeDialer() func(models.Target, *slog.Logger) (*gosnmp.GoSNMP, error) {
	return func(t models.Target, _ *slog.Logger) (*gosnmp.GoSNMP, error) {
		return &gosnmp.GoSNMP{
			Target:  t.Address,
			Port:    uint16(t.Port),
			Version: gosnmp.Version2c,
		}, nil
	}
}

func TestConnectionPool_GetPut(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{
		MaxIdlePerTarget: 2,
		Dial:             fakeDialer(),
	}, nil)
	defer p.Close()

	ctx := context.Background()
	conn1, err := p.Get(ctx, testTarget())
	require.NoError(t, err)
	require.NotNil(t, conn1)
	p.Put(conn1)

	// LIFO reuse.
	conn2, err := p.Get(ctx, testTarget())
	require.NoError(t, err)
	assert.Same(t, conn1, conn2)
	p.Put(conn2)
}

func TestConnectionPool_MaxIdleEviction(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{
		MaxIdlePerTarget: 1,
		Dial:             fakeDialer(),
	}, nil)
	defer p.Close()

	ctx := context.Background()
	c1, _ := p.Get(ctx, testTarget())
	c2, _ := p.Get(ctx, testTarget())

	p.Put(c1)
	p.Put(c2) // over the idle limit, closed

	got, _ := p.Get(ctx, testTarget())
	assert.Same(t, c1, got)
	p.Put(got)
}

func TestConnectionPool_ConcurrencyLimit(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{
		MaxConcurrentPerTarget: 2,
		Dial:                   fakeDialer(),
	}, nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	c1, err := p.Get(ctx, testTarget())
	require.NoError(t, err)
	c2, err := p.Get(ctx, testTarget())
	require.NoError(t, err)

	_, err = p.Get(ctx, testTarget())
	require.Error(t, err, "third Get should block until the context expires")

	p.Discard(c1)
	c3, err := p.Get(context.Background(), testTarget())
	require.NoError(t, err)
	p.Discard(c2)
	p.Discard(c3)
}

func TestConnectionPool_IdleTimeout(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{
		MaxIdlePerTarget: 4,
		IdleTimeout:      10 * time.Millisecond,
		Dial:             fakeDialer(),
	}, nil)
	defer p.Close()

	ctx := context.Background()
	c1, _ := p.Get(ctx, testTarget())
	p.Put(c1)

	time.Sleep(20 * time.Millisecond)

	c2, _ := p.Get(ctx, testTarget())
	assert.NotSame(t, c1, c2, "stale session should have been discarded")
	p.Discard(c2)
}

func TestConnectionPool_Forget(t *testing.T) {
	dials := 0
	p := poller.NewConnectionPool(poller.PoolOptions{
		Dial: func(tg models.Target, l *slog.Logger) (*gosnmp.GoSNMP, error) {
			dials++
			return fakeDialer()(tg, l)
		},
	}, nil)
	defer p.Close()

	c1, _ := p.Get(context.Background(), testTarget())
	p.Put(c1)
	p.Forget("proxy-a")

	c2, _ := p.Get(context.Background(), testTarget())
	assert.NotSame(t, c1, c2)
	assert.Equal(t, 2, dials)
	p.Put(c2)
}

func TestConnectionPool_ForgetWithSessionInFlight(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{
		MaxConcurrentPerTarget: 1,
		Dial:                   fakeDialer(),
	}, nil)
	defer p.Close()

	// Target removed by a reload while c1 is out, then re-added.
	c1, err := p.Get(context.Background(), testTarget())
	require.NoError(t, err)
	p.Forget("proxy-a")

	c2, err := p.Get(context.Background(), testTarget())
	require.NoError(t, err, "the re-added target starts with a free slot")
	assert.NotSame(t, c1, c2)

	// c1 releases the forgotten pool's slot, not c2's.
	p.Put(c1)
	assert.Equal(t, 1, p.InFlight())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Get(ctx, testTarget())
	assert.ErrorIs(t, err, context.DeadlineExceeded, "c2 still holds the only slot")

	p.Put(c2)
	c3, err := p.Get(context.Background(), testTarget())
	require.NoError(t, err)
	assert.Same(t, c2, c3, "c1 was closed rather than pooled")
	p.Discard(c3)
	assert.Equal(t, 0, p.InFlight())
}

func TestConnectionPool_PutUnknownSession(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{Dial: fakeDialer()}, nil)
	defer p.Close()

	stray := &gosnmp.GoSNMP{}
	assert.NotPanics(t, func() {
		p.Put(stray)
		p.Discard(stray)
	})
	assert.Equal(t, 0, p.InFlight())
}

func TestConnectionPool_Close(t *testing.T) {
	p := poller.NewConnectionPool(poller.PoolOptions{Dial: fakeDialer()}, nil)

	c1, _ := p.Get(context.Background(), testTarget())
	p.Put(c1)
	require.NoError(t, p.Close())

	_, err := p.Get(context.Background(), testTarget())
	assert.Error(t, err)
}

func TestConnectionPool_DialError(t *testing.T) {
	callCount := 0
	p := poller.NewConnectionPool(poller.PoolOptions{
		Dial: func(models.Target, *slog.Logger) (*gosnmp.GoSNMP, error) {
			callCount++
			return nil, fmt.Errorf("unreachable")
		},
	}, nil)
	defer p.Close()

	_, err := p.Get(context.Background(), testTarget())
	assert.Error(t, err)
	assert.Equal(t, 1, callCount)
}

func TestNewSession_RequiresCommunity(t *testing.T) {
	tg := testTarget()
	tg.Community = ""
	_, err := poller.NewSession(tg, nil)
	assert.Error(t, err)
}

// ─────────────────────────────────────────────────────────────────────────────
// PooledGetter against the fake agent
// ─────────────────────────────────────────────────────────────────────────────

func TestPooledGetter_Get(t *testing.T) {
	target := startAgent(t, func(req ber.Message) [][]byte {
		return [][]byte{response(t, req, req.PDU.RequestID, ber.Gauge32(45), ber.Counter32(4294967290))}
	})

	pool := poller.NewConnectionPool(poller.PoolOptions{}, nil)
	defer pool.Close()
	g := poller.NewPooledGetter(pool, nil, nil)

	vbs, err := g.Get(context.Background(), request(target, time.Second, cpuOID, ifInOID))
	require.NoError(t, err)
	require.Len(t, vbs, 2)
	assert.True(t, ber.Gauge32(45).Equal(vbs[0].Value))
	assert.True(t, ber.Counter32(4294967290).Equal(vbs[1].Value))
	assert.Equal(t, poller.DefaultMaxOIDs, g.MaxOIDs())
}

func TestPooledGetter_AgentError(t *testing.T) {
	target := startAgent(t, func(req ber.Message) [][]byte {
		b, err := ber.Marshal(ber.Message{
			Version:   ber.Version2c,
			Community: req.Community,
			PDU: ber.PDU{
				Type:        ber.GetResponse,
				RequestID:   req.PDU.RequestID,
				ErrorStatus: 5,
				ErrorIndex:  1,
				Bindings:    req.PDU.Bindings,
			},
		})
		require.NoError(t, err)
		return [][]byte{b}
	})

	pool := poller.NewConnectionPool(poller.PoolOptions{}, nil)
	defer pool.Close()

	_, err := poller.NewPooledGetter(pool, nil, nil).
		Get(context.Background(), request(target, time.Second, cpuOID))
	var agentErr *ber.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, 5, agentErr.Status)
}

func TestPooledGetter_Timeout(t *testing.T) {
	target := startAgent(t, func(ber.Message) [][]byte { return nil })

	pool := poller.NewConnectionPool(poller.PoolOptions{}, nil)
	defer pool.Close()

	_, err := poller.NewPooledGetter(pool, nil, nil).
		Get(context.Background(), request(target, 150*time.Millisecond, cpuOID))
	assert.ErrorIs(t, err, poller.ErrTimeout)
}

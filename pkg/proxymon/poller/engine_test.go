package poller_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fake agent
// ─────────────────────────────────────────────────────────────────────────────

// agentFunc returns the datagrams to send back for one decoded request.
type agentFunc func(req ber.Message) [][]byte

// startAgent runs a UDP responder on 127.0.0.1 and returns a target for it.
func startAgent(t *testing.T, handle agentFunc) models.Target {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 65535)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			req, err := ber.Unmarshal(buf[:n])
			if err != nil {
				continue
			}
			for _, out := range handle(req) {
				_, _ = pc.WriteTo(out, addr)
			}
		}
	}()
	t.Cleanup(func() {
		_ = pc.Close()
		wg.Wait()
	})

	return models.Target{
		Name:      "proxy-a",
		Address:   "127.0.0.1",
		Port:      pc.LocalAddr().(*net.UDPAddr).Port,
		Community: "public",
		Timeout:   time.Second,
	}
}

// response builds a GetResponse echoing req's id and OIDs with values.
func response(t *testing.T, req ber.Message, id int32, values ...ber.Value) []byte {
	t.Helper()
	binds := make([]ber.VarBind, len(req.PDU.Bindings))
	for i, vb := range req.PDU.Bindings {
		binds[i] = ber.VarBind{OID: vb.OID, Value: values[i%len(values)]}
	}
	b, err := ber.Marshal(ber.Message{
		Version:   ber.Version2c,
		Community: req.Community,
		PDU:       ber.PDU{Type: ber.GetResponse, RequestID: id, Bindings: binds},
	})
	require.NoError(t, err)
	return b
}

func request(target models.Target, timeout time.Duration, oids ...string) poller.Request {
	req := poller.Request{Target: target, Community: target.Community, Timeout: timeout}
	for _, s := range oids {
		req.OIDs = append(req.OIDs, ber.MustParseOID(s))
	}
	return req
}

const (
	cpuOID   = "1.3.6.1.4.1.2021.11.11.0"
	memOID   = "1.3.6.1.4.1.2021.4.6.0"
	ifInOID  = "1.3.6.1.2.1.2.2.1.10.2"
	ifOutOID = "1.3.6.1.2.1.2.2.1.16.2"
)

// ─────────────────────────────────────────────────────────────────────────────
// Engine tests
// ─────────────────────────────────────────────────────────────────────────────

func TestEngineGet_ReturnsBindingsInOrder(t *testing.T) {
	target := startAgent(t, func(req ber.Message) [][]byte {
		binds := make([]ber.Value, len(req.PDU.Bindings))
		for i := range binds {
			binds[i] = ber.Counter32(uint32(100 * (i + 1)))
		}
		return [][]byte{response(t, req, req.PDU.RequestID, binds...)}
	})

	e := poller.NewEngine(poller.EngineOptions{}, nil)
	vbs, err := e.Get(context.Background(), request(target, time.Second, cpuOID, ifInOID, ifOutOID))
	require.NoError(t, err)
	require.Len(t, vbs, 3)
	for i, want := range []string{cpuOID, ifInOID, ifOutOID} {
		assert.Equal(t, want, vbs[i].OID.String())
		u, ok := vbs[i].Value.Uint()
		require.True(t, ok)
		assert.Equal(t, uint64(100*(i+1)), u)
	}
}

func TestEngineGet_DiscardsForeignRequestID(t *testing.T) {
	target := startAgent(t, func(req ber.Message) [][]byte {
		return [][]byte{
			response(t, req, req.PDU.RequestID+1, ber.Gauge32(1)),
			response(t, req, req.PDU.RequestID, ber.Gauge32(45)),
		}
	})

	vbs, err := poller.NewEngine(poller.EngineOptions{}, nil).
		Get(context.Background(), request(target, time.Second, cpuOID))
	require.NoError(t, err)
	require.Len(t, vbs, 1)
	assert.True(t, ber.Gauge32(45).Equal(vbs[0].Value))
}

func TestEngineGet_Timeout(t *testing.T) {
	target := startAgent(t, func(ber.Message) [][]byte { return nil })

	start := time.Now()
	_, err := poller.NewEngine(poller.EngineOptions{}, nil).
		Get(context.Background(), request(target, 150*time.Millisecond, cpuOID))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, poller.ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
}

func TestEngineGet_OnlyForeignResponsesTimesOut(t *testing.T) {
	target := startAgent(t, func(req ber.Message) [][]byte {
		return [][]byte{response(t, req, req.PDU.RequestID^0x1000, ber.Gauge32(1))}
	})

	_, err := poller.NewEngine(poller.EngineOptions{}, nil).
		Get(context.Background(), request(target, 150*time.Millisecond, cpuOID))
	assert.ErrorIs(t, err, poller.ErrTimeout)
}

func TestEngineGet_AgentError(t *testing.T) {
	target := startAgent(t, func(req ber.Message) [][]byte {
		b, err := ber.Marshal(ber.Message{
			Version:   ber.Version2c,
			Community: req.Community,
			PDU: ber.PDU{
				Type:        ber.GetResponse,
				RequestID:   req.PDU.RequestID,
				ErrorStatus: 2,
				ErrorIndex:  2,
				Bindings:    req.PDU.Bindings,
			},
		})
		require.NoError(t, err)
		return [][]byte{b}
	})

	_, err := poller.NewEngine(poller.EngineOptions{}, nil).
		Get(context.Background(), request(target, time.Second, cpuOID, memOID))
	var agentErr *ber.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, 2, agentErr.Status)
	assert.Equal(t, 2, agentErr.Index)
	assert.False(t, errors.Is(err, ber.ErrMalformedResponse))
}

func TestEngineGet_Malformed(t *testing.T) {
	target := startAgent(t, func(ber.Message) [][]byte {
		return [][]byte{{0x30, 0x05, 0x02, 0x01}}
	})

	_, err := poller.NewEngine(poller.EngineOptions{}, nil).
		Get(context.Background(), request(target, time.Second, cpuOID))
	assert.ErrorIs(t, err, ber.ErrMalformedResponse)
}

func TestEngineGet_BindingMismatch(t *testing.T) {
	tests := map[string]func(req ber.Message) ber.PDU{
		"wrong oid": func(req ber.Message) ber.PDU {
			return ber.PDU{
				Type:      ber.GetResponse,
				RequestID: req.PDU.RequestID,
				Bindings:  []ber.VarBind{{OID: ber.MustParseOID(memOID), Value: ber.Gauge32(1)}},
			}
		},
		"missing binding": func(req ber.Message) ber.PDU {
			return ber.PDU{Type: ber.GetResponse, RequestID: req.PDU.RequestID}
		},
	}
	for name, build := range tests {
		t.Run(name, func(t *testing.T) {
			target := startAgent(t, func(req ber.Message) [][]byte {
				b, err := ber.Marshal(ber.Message{Version: ber.Version2c, Community: "public", PDU: build(req)})
				require.NoError(t, err)
				return [][]byte{b}
			})
			_, err := poller.NewEngine(poller.EngineOptions{}, nil).
				Get(context.Background(), request(target, time.Second, cpuOID))
			assert.ErrorIs(t, err, ber.ErrMalformedResponse)
		})
	}
}

func TestEngineGet_ContextCancel(t *testing.T) {
	target := startAgent(t, func(ber.Message) [][]byte { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	_, err := poller.NewEngine(poller.EngineOptions{}, nil).
		Get(ctx, request(target, 5*time.Second, cpuOID))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEngineGet_Validation(t *testing.T) {
	e := poller.NewEngine(poller.EngineOptions{MaxOIDs: 2}, nil)
	target := models.Target{Name: "x", Address: "127.0.0.1", Port: 161}

	_, err := e.Get(context.Background(), request(target, time.Second))
	assert.Error(t, err)

	_, err = e.Get(context.Background(), request(target, time.Second, cpuOID, memOID, ifInOID))
	assert.Error(t, err)

	_, err = e.Get(context.Background(), request(target, 0, cpuOID))
	assert.Error(t, err)
}

func TestEngineGet_ObserverAndUniqueIDs(t *testing.T) {
	var mu sync.Mutex
	seen := map[int32]bool{}
	target := startAgent(t, func(req ber.Message) [][]byte {
		mu.Lock()
		seen[req.PDU.RequestID] = true
		mu.Unlock()
		return [][]byte{response(t, req, req.PDU.RequestID, ber.Gauge32(7))}
	})

	var observed atomic.Int32
	e := poller.NewEngine(poller.EngineOptions{
		Observe: func(name string, _ time.Duration, err error) {
			assert.Equal(t, "proxy-a", name)
			assert.NoError(t, err)
			observed.Add(1)
		},
	}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.Get(context.Background(), request(target, time.Second, cpuOID))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(20), observed.Load())
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 20)
	for id := range seen {
		assert.Positive(t, id)
	}
}

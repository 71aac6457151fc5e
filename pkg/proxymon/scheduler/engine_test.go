package scheduler

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/proxymon/models"
	"github.com/vpbank/proxymon/pkg/proxymon/config"
	"github.com/vpbank/proxymon/pkg/proxymon/poller"
	"github.com/vpbank/proxymon/snmp/ber"
)

// udpAgent answers every GetRequest with value for each binding. A silent
// agent reads requests and never answers.
func udpAgent(t *testing.T, name string, silent bool, value ber.Value) models.Target {
	t.Helper()
	return serveAgent(t, name, func(req ber.PDU) (ber.PDU, bool) {
		if silent {
			return ber.PDU{}, false
		}
		binds := make([]ber.VarBind, len(req.Bindings))
		for i, vb := range req.Bindings {
			binds[i] = ber.VarBind{OID: vb.OID, Value: value}
		}
		return ber.PDU{Type: ber.GetResponse, RequestID: req.RequestID, Bindings: binds}, true
	})
}

// rejectingAgent answers with genErr at the index of reject whenever a
// request carries it, and with value for every binding otherwise.
func rejectingAgent(t *testing.T, name string, reject ber.OID, value ber.Value) models.Target {
	t.Helper()
	return serveAgent(t, name, func(req ber.PDU) (ber.PDU, bool) {
		resp := ber.PDU{Type: ber.GetResponse, RequestID: req.RequestID, Bindings: make([]ber.VarBind, len(req.Bindings))}
		for i, vb := range req.Bindings {
			resp.Bindings[i] = ber.VarBind{OID: vb.OID, Value: value}
			if vb.OID.Equal(reject) {
				resp.ErrorStatus = 5
				resp.ErrorIndex = i + 1
			}
		}
		if resp.ErrorStatus != 0 {
			for i := range resp.Bindings {
				resp.Bindings[i].Value = ber.Null()
			}
		}
		return resp, true
	})
}

func serveAgent(t *testing.T, name string, answer func(ber.PDU) (ber.PDU, bool)) models.Target {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
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
			pdu, ok := answer(req.PDU)
			if !ok {
				continue
			}
			out, err := ber.Marshal(ber.Message{
				Version:   ber.Version2c,
				Community: req.Community,
				PDU:       pdu,
			})
			if err != nil {
				continue
			}
			_, _ = pc.WriteTo(out, addr)
		}
	}()

	return models.Target{
		Name:      name,
		ID:        name,
		Address:   "127.0.0.1",
		Port:      pc.LocalAddr().(*net.UDPAddr).Port,
		Community: "public",
		Timeout:   200 * time.Millisecond,
	}
}

// A target that never answers must not delay or alter a healthy target's
// snapshot; the cycle takes as long as the slowest timeout.
func TestCycle_EngineTargetIsolation(t *testing.T) {
	a := udpAgent(t, "proxy-a", false, ber.Gauge32(45))
	b := udpAgent(t, "proxy-b", true, ber.Null())

	cfg := &config.LoadedConfig{
		Targets: map[string]models.Target{a.Name: a, b.Name: b},
		Resources: config.Resources{
			Metrics: []models.MetricSpec{{Name: "cpu", Source: models.OIDSource(cpuOID)}},
		},
	}
	engine := poller.NewEngine(poller.EngineOptions{}, nil)
	plans := ResolvePlans(cfg, engine.MaxOIDs(), nil)
	c := newTestCollector(engine, nil, nil)

	start := time.Now()
	snaps, err := c.Cycle(context.Background(), plans)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.Equal(t, models.ValueOutcome(45, models.TierNormal), snaps[0].Metrics["cpu"])
	assert.Less(t, snaps[0].Metadata.CycleDurationMs, int64(150))

	cpuB := snaps[1].Metrics["cpu"]
	require.Equal(t, models.OutcomeFailed, cpuB.Kind)
	assert.Equal(t, models.ReasonTimeout, cpuB.Failure.Reason)

	assert.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestCycle_EngineRejectedBindingKeepsBatchMates(t *testing.T) {
	a := rejectingAgent(t, "proxy-a", ccOID, ber.Gauge32(45))

	cfg := &config.LoadedConfig{
		Targets: map[string]models.Target{a.Name: a},
		Resources: config.Resources{
			Metrics: []models.MetricSpec{
				{Name: "cc", Source: models.OIDSource(ccOID)},
				{Name: "cpu", Source: models.OIDSource(cpuOID)},
			},
		},
	}
	engine := poller.NewEngine(poller.EngineOptions{}, nil)
	plans := ResolvePlans(cfg, engine.MaxOIDs(), nil)
	require.Len(t, plans[0].Batches, 1)
	c := newTestCollector(engine, nil, nil)

	snaps, err := c.Cycle(context.Background(), plans)
	require.NoError(t, err)

	cc := snaps[0].Metrics["cc"]
	require.Equal(t, models.OutcomeFailed, cc.Kind)
	assert.Equal(t, models.ReasonAgentError, cc.Failure.Reason)
	assert.Equal(t, "genErr", cc.Failure.Message)
	assert.Equal(t, models.ValueOutcome(45, models.TierNormal), snaps[0].Metrics["cpu"])
}

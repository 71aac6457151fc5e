package json_test

import (
	stdjson "encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fmtjson "github.com/vpbank/proxymon/format/json"
	"github.com/vpbank/proxymon/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// Shared fixtures
// ─────────────────────────────────────────────────────────────────────────────

var testTimestamp = time.Date(2026, 2, 26, 10, 30, 0, 123_000_000, time.UTC)

var fullSnapshot = models.ResourceSnapshot{
	Timestamp: testTimestamp,
	Target:    models.TargetInfo{Name: "proxy-seoul-01", ID: "SEOUL-01", Address: "192.0.2.10"},
	Metrics: map[string]models.Outcome{
		"cpu": models.ValueOutcome(45, models.TierNormal),
		"mem": models.FailedOutcome(models.Failure{Reason: models.ReasonExternalCollector, Message: "auth: denied"}),
		"cc":  models.FailedOutcome(models.Failure{Reason: models.ReasonAgentError, Message: "noSuchName", AgentStatus: 2, AgentIndex: 3}),
		"cs":  models.DisabledOutcome(),
	},
	Interfaces: map[string]models.InterfaceTraffic{
		"eth0": {
			In:     models.ValueOutcome(12.8, models.TierNormal),
			Out:    models.InsufficientOutcome(),
			Status: models.TierNormal,
		},
	},
	Metadata: models.SnapshotMetadata{CollectorID: "collector-01", CycleDurationMs: 42, Failed: 2},
}

func mustFormat(t *testing.T, f *fmtjson.JSONFormatter, s *models.ResourceSnapshot) []byte {
	t.Helper()
	data, err := f.Format(s)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	return data
}

func unmarshal(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, stdjson.Unmarshal(data, &out), "output: %s", data)
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_NilLoggerDoesNotPanic(t *testing.T) {
	f := fmtjson.New(fmtjson.Config{}, nil)
	assert.NotNil(t, f)
}

func TestFormat_NilSnapshotReturnsError(t *testing.T) {
	_, err := fmtjson.New(fmtjson.Config{}, nil).Format(nil)
	assert.Error(t, err)
}

func TestFormat_TopLevelKeys(t *testing.T) {
	out := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &fullSnapshot))
	for _, k := range []string{"timestamp", "target", "metrics", "interfaces", "metadata"} {
		assert.Contains(t, out, k)
	}
	assert.Equal(t, "2026-02-26T10:30:00.123Z", out["timestamp"])
}

func TestFormat_TargetAndMetadata(t *testing.T) {
	out := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &fullSnapshot))

	target := out["target"].(map[string]interface{})
	assert.Equal(t, "proxy-seoul-01", target["name"])
	assert.Equal(t, "SEOUL-01", target["id"])
	assert.Equal(t, "192.0.2.10", target["address"])

	meta := out["metadata"].(map[string]interface{})
	assert.Equal(t, "collector-01", meta["collector_id"])
	assert.Equal(t, 42.0, meta["cycle_duration_ms"])
	assert.Equal(t, 2.0, meta["failed"])
}

func TestFormat_OutcomeShapes(t *testing.T) {
	out := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &fullSnapshot))
	metrics := out["metrics"].(map[string]interface{})

	cpu := metrics["cpu"].(map[string]interface{})
	assert.Equal(t, "value", cpu["kind"])
	assert.Equal(t, 45.0, cpu["value"])
	assert.Equal(t, "normal", cpu["status"])

	mem := metrics["mem"].(map[string]interface{})
	assert.Equal(t, "failed", mem["kind"])
	assert.NotContains(t, mem, "value", "a failure must not read as zero")
	failure := mem["failure"].(map[string]interface{})
	assert.Equal(t, "external_collector", failure["reason"])

	cc := metrics["cc"].(map[string]interface{})["failure"].(map[string]interface{})
	assert.Equal(t, 2.0, cc["agent_status"])
	assert.Equal(t, 3.0, cc["agent_index"])

	cs := metrics["cs"].(map[string]interface{})
	assert.Equal(t, map[string]interface{}{"kind": "disabled"}, cs)
}

func TestFormat_InterfaceTraffic(t *testing.T) {
	out := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &fullSnapshot))
	eth0 := out["interfaces"].(map[string]interface{})["eth0"].(map[string]interface{})

	in := eth0["in"].(map[string]interface{})
	assert.Equal(t, 12.8, in["value"])
	outDir := eth0["out"].(map[string]interface{})
	assert.Equal(t, "insufficient", outDir["kind"])
	assert.Equal(t, "normal", eth0["status"])
}

func TestFormat_ZeroValueIsKept(t *testing.T) {
	s := fullSnapshot
	s.Metrics = map[string]models.Outcome{"cpu": models.ValueOutcome(0, models.TierNormal)}
	out := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &s))
	cpu := out["metrics"].(map[string]interface{})["cpu"].(map[string]interface{})
	assert.Equal(t, 0.0, cpu["value"])
}

func TestFormat_InterfacesOmittedWhenEmpty(t *testing.T) {
	s := fullSnapshot
	s.Interfaces = nil
	out := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &s))
	assert.NotContains(t, out, "interfaces")
}

func TestFormat_CompactHasNoNewlines(t *testing.T) {
	data := mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &fullSnapshot)
	assert.False(t, strings.Contains(string(data), "\n"))
}

func TestFormat_PrettyAndCompactEquivalent(t *testing.T) {
	compact := unmarshal(t, mustFormat(t, fmtjson.New(fmtjson.Config{}, nil), &fullSnapshot))
	prettyData := mustFormat(t, fmtjson.New(fmtjson.Config{PrettyPrint: true}, nil), &fullSnapshot)
	assert.Contains(t, string(prettyData), "\n  \"target\"")
	assert.Equal(t, compact, unmarshal(t, prettyData))
}

func TestFormat_CustomIndent(t *testing.T) {
	data := mustFormat(t, fmtjson.New(fmtjson.Config{PrettyPrint: true, Indent: "\t"}, nil), &fullSnapshot)
	assert.Contains(t, string(data), "\n\t\"target\"")
}

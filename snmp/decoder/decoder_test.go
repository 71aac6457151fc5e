package decoder_test

import (
	"testing"

	"github.com/gosnmp/gosnmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vpbank/proxymon/snmp/ber"
	"github.com/vpbank/proxymon/snmp/decoder"
)

// ─────────────────────────────────────────────────────────────────────────────
// Shared fixtures
// ─────────────────────────────────────────────────────────────────────────────

// testPDUs simulates a gosnmp Get response for one proxy.
var testPDUs = []gosnmp.SnmpPDU{
	{Name: ".1.3.6.1.4.1.2021.11.11.0", Type: gosnmp.Integer, Value: 87},
	{Name: ".1.3.6.1.2.1.25.2.3.1.6.1", Type: gosnmp.Gauge32, Value: uint(45)},
	{Name: ".1.3.6.1.2.1.2.2.1.10.2", Type: gosnmp.Counter32, Value: uint(4294967290)},
	{Name: ".1.3.6.1.2.1.31.1.1.1.6.2", Type: gosnmp.Counter64, Value: uint64(1 << 40)},
	{Name: ".1.3.6.1.2.1.1.3.0", Type: gosnmp.TimeTicks, Value: uint32(12345)},
	{Name: ".1.3.6.1.2.1.1.5.0", Type: gosnmp.OctetString, Value: []byte("proxy-01")},
	{Name: ".1.3.6.1.2.1.4.20.1.1.10.0.0.1", Type: gosnmp.IPAddress, Value: "10.0.0.1"},
	{Name: ".1.3.6.1.2.1.1.2.0", Type: gosnmp.ObjectIdentifier, Value: ".1.3.6.1.4.1.8072.3.2.10"},
	{Name: ".1.3.6.1.2.1.2.2.1.10.3", Type: gosnmp.NoSuchInstance, Value: nil},
}

// ─────────────────────────────────────────────────────────────────────────────
// FromPDUs
// ─────────────────────────────────────────────────────────────────────────────

func TestFromPDUs(t *testing.T) {
	got, err := decoder.FromPDUs(testPDUs)
	require.NoError(t, err)
	require.Len(t, got, len(testPDUs))

	want := []ber.Value{
		ber.Integer(87),
		ber.Gauge32(45),
		ber.Counter32(4294967290),
		ber.Counter64(1 << 40),
		ber.TimeTicks(12345),
		ber.OctetString([]byte("proxy-01")),
		ber.IPAddress([4]byte{10, 0, 0, 1}),
		ber.ObjectIdentifierValue(ber.MustParseOID("1.3.6.1.4.1.8072.3.2.10")),
		ber.NoSuchInstance(),
	}
	for i, vb := range got {
		assert.Equal(t, testPDUs[i].Name, "."+vb.OID.String())
		assert.True(t, want[i].Equal(vb.Value), "binding %d: want %s got %s", i, want[i], vb.Value)
	}
}

func TestFromPDU_UnsupportedType(t *testing.T) {
	_, err := decoder.FromPDU(gosnmp.SnmpPDU{Name: ".1.3.6.1.4.1.1.0", Type: gosnmp.OpaqueFloat, Value: float32(1.5)})
	assert.ErrorIs(t, err, ber.ErrMalformedResponse)
}

func TestPDUTypeString(t *testing.T) {
	assert.Equal(t, "Counter64", decoder.PDUTypeString(gosnmp.Counter64))
	assert.Equal(t, "NoSuchInstance", decoder.PDUTypeString(gosnmp.NoSuchInstance))
	assert.Equal(t, "Unknown(0x99)", decoder.PDUTypeString(gosnmp.Asn1BER(0x99)))
}

// ─────────────────────────────────────────────────────────────────────────────
// Readings
// ─────────────────────────────────────────────────────────────────────────────

func TestGauge(t *testing.T) {
	tests := []struct {
		name    string
		in      ber.Value
		want    float64
		wantErr error
	}{
		{"integer", ber.Integer(87), 87, nil},
		{"gauge", ber.Gauge32(45), 45, nil},
		{"counter64", ber.Counter64(1 << 40), 1 << 40, nil},
		{"numeric string", ber.OctetString([]byte("12.5")), 12.5, nil},
		{"text", ber.OctetString([]byte("up")), 0, decoder.ErrNotNumeric},
		{"null", ber.Null(), 0, decoder.ErrNotNumeric},
		{"exception", ber.NoSuchObject(), 0, decoder.ErrException},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decoder.Gauge(tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCounter(t *testing.T) {
	tests := []struct {
		name      string
		in        ber.Value
		wantRaw   uint64
		wantWidth int
		wantErr   error
	}{
		{"counter32", ber.Counter32(4294967290), 4294967290, 32, nil},
		{"gauge32", ber.Gauge32(10), 10, 32, nil},
		{"counter64", ber.Counter64(1 << 40), 1 << 40, 64, nil},
		{"integer", ber.Integer(1000), 1000, 32, nil},
		{"wide integer", ber.Integer(1 << 33), 1 << 33, 64, nil},
		{"negative integer", ber.Integer(-1), 0, 0, decoder.ErrNegativeCounter},
		{"string", ber.OctetString([]byte("10")), 0, 0, decoder.ErrNotNumeric},
		{"exception", ber.EndOfMibView(), 0, 0, decoder.ErrException},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			raw, width, err := decoder.Counter(tc.in)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantRaw, raw)
			assert.Equal(t, tc.wantWidth, width)
		})
	}
}

package decoder

import (
	"fmt"
	"math"
	"net"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/proxymon/snmp/ber"
)

// ─────────────────────────────────────────────────────────────────────────────
// SNMP PDU Type → String
// ─────────────────────────────────────────────────────────────────────────────

// PDUTypeString returns the human-readable name for a gosnmp Asn1BER type tag.
func PDUTypeString(t gosnmp.Asn1BER) string {
	switch t {
	case gosnmp.Integer:
		return "Integer"
	case gosnmp.BitString:
		return "BitString"
	case gosnmp.OctetString:
		return "OctetString"
	case gosnmp.Null:
		return "Null"
	case gosnmp.ObjectIdentifier:
		return "ObjectIdentifier"
	case gosnmp.IPAddress:
		return "IpAddress"
	case gosnmp.Counter32:
		return "Counter32"
	case gosnmp.Gauge32:
		return "Gauge32"
	case gosnmp.TimeTicks:
		return "TimeTicks"
	case gosnmp.Opaque:
		return "Opaque"
	case gosnmp.Counter64:
		return "Counter64"
	case gosnmp.Uinteger32:
		return "Unsigned32"
	case gosnmp.NoSuchObject:
		return "NoSuchObject"
	case gosnmp.NoSuchInstance:
		return "NoSuchInstance"
	case gosnmp.EndOfMibView:
		return "EndOfMibView"
	default:
		return fmt.Sprintf("Unknown(0x%02X)", uint8(t))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// gosnmp PDU → ber.VarBind
// ─────────────────────────────────────────────────────────────────────────────

// FromPDU converts one gosnmp variable binding. Types outside the SNMPv2c
// set handled by the ber package (Opaque, BitString, NsapAddress…) are
// rejected with an error wrapping ber.ErrMalformedResponse so both engines
// report them the same way.
func FromPDU(pdu gosnmp.SnmpPDU) (ber.VarBind, error) {
	oid, err := ber.ParseOID(pdu.Name)
	if err != nil {
		return ber.VarBind{}, fmt.Errorf("decoder: %w: %v", ber.ErrMalformedResponse, err)
	}
	v, err := fromValue(pdu.Type, pdu.Value)
	if err != nil {
		return ber.VarBind{}, fmt.Errorf("decoder: %s: %w", pdu.Name, err)
	}
	return ber.VarBind{OID: oid, Value: v}, nil
}

// FromPDUs converts a whole response, stopping at the first bad binding.
func FromPDUs(pdus []gosnmp.SnmpPDU) ([]ber.VarBind, error) {
	out := make([]ber.VarBind, 0, len(pdus))
	for _, p := range pdus {
		vb, err := FromPDU(p)
		if err != nil {
			return nil, err
		}
		out = append(out, vb)
	}
	return out, nil
}

func fromValue(t gosnmp.Asn1BER, raw interface{}) (ber.Value, error) {
	switch t {
	case gosnmp.Null:
		return ber.Null(), nil
	case gosnmp.NoSuchObject:
		return ber.NoSuchObject(), nil
	case gosnmp.NoSuchInstance:
		return ber.NoSuchInstance(), nil
	case gosnmp.EndOfMibView:
		return ber.EndOfMibView(), nil
	case gosnmp.Integer:
		i, err := toInt64(raw)
		if err != nil {
			return ber.Value{}, err
		}
		return ber.Integer(i), nil
	case gosnmp.Counter32, gosnmp.Gauge32, gosnmp.TimeTicks, gosnmp.Uinteger32:
		u, err := toUint64(raw)
		if err != nil {
			return ber.Value{}, err
		}
		if u > math.MaxUint32 {
			return ber.Value{}, fmt.Errorf("%w: %s value %d exceeds 32 bits", ber.ErrMalformedResponse, PDUTypeString(t), u)
		}
		switch t {
		case gosnmp.Counter32:
			return ber.Counter32(uint32(u)), nil
		case gosnmp.TimeTicks:
			return ber.TimeTicks(uint32(u)), nil
		default:
			return ber.Gauge32(uint32(u)), nil
		}
	case gosnmp.Counter64:
		u, err := toUint64(raw)
		if err != nil {
			return ber.Value{}, err
		}
		return ber.Counter64(u), nil
	case gosnmp.OctetString:
		switch x := raw.(type) {
		case []byte:
			return ber.OctetString(x), nil
		case string:
			return ber.OctetString([]byte(x)), nil
		}
		return ber.Value{}, fmt.Errorf("cannot convert %T to OctetString", raw)
	case gosnmp.ObjectIdentifier:
		s, ok := raw.(string)
		if !ok {
			return ber.Value{}, fmt.Errorf("cannot convert %T to ObjectIdentifier", raw)
		}
		o, err := ber.ParseOID(s)
		if err != nil {
			return ber.Value{}, err
		}
		return ber.ObjectIdentifierValue(o), nil
	case gosnmp.IPAddress:
		s, ok := raw.(string)
		if !ok {
			return ber.Value{}, fmt.Errorf("cannot convert %T to IpAddress", raw)
		}
		ip := net.ParseIP(s).To4()
		if ip == nil {
			return ber.Value{}, fmt.Errorf("%w: IpAddress %q", ber.ErrMalformedResponse, s)
		}
		return ber.IPAddress([4]byte{ip[0], ip[1], ip[2], ip[3]}), nil
	default:
		return ber.Value{}, fmt.Errorf("%w: unsupported value type %s", ber.ErrMalformedResponse, PDUTypeString(t))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Low-level conversion helpers
// ─────────────────────────────────────────────────────────────────────────────

// toInt64 converts the raw gosnmp value to int64.
// gosnmp returns integers as int / int32 / int64 depending on the PDU.
func toInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case uint:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return 0, fmt.Errorf("uint64 value %d overflows int64", x)
		}
		return int64(x), nil
	default:
		return 0, fmt.Errorf("cannot convert %T to int64", v)
	}
}

// toUint64 converts the raw gosnmp value to uint64.
func toUint64(v interface{}) (uint64, error) {
	switch x := v.(type) {
	case int:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d cannot be converted to uint64", x)
		}
		return uint64(x), nil
	case int64:
		if x < 0 {
			return 0, fmt.Errorf("negative value %d cannot be converted to uint64", x)
		}
		return uint64(x), nil
	case uint:
		return uint64(x), nil
	case uint32:
		return uint64(x), nil
	case uint64:
		return x, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to uint64", v)
	}
}

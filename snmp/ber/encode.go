package ber

import (
	"fmt"
)

// ─────────────────────────────────────────────────────────────────────────────
// Message model
// ─────────────────────────────────────────────────────────────────────────────

// VarBind is one (OID, value) pair of a PDU.
type VarBind struct {
	OID   OID
	Value Value
}

// PDU is the body of an SNMPv2c message. ErrorStatus and ErrorIndex occupy the
// non-repeaters / max-repetitions slots for GetBulkRequest.
type PDU struct {
	Type        PDUType
	RequestID   int32
	ErrorStatus int
	ErrorIndex  int
	Bindings    []VarBind
}

// Message is a community-based SNMP message.
type Message struct {
	Version   int
	Community string
	PDU       PDU
}

// ─────────────────────────────────────────────────────────────────────────────
// Encoding
// ─────────────────────────────────────────────────────────────────────────────

// EncodeGetRequest builds a v2c GetRequest with one (oid, NULL) binding per
// requested OID, in order.
func EncodeGetRequest(community string, requestID int32, oids []OID) ([]byte, error) {
	if len(oids) == 0 {
		return nil, fmt.Errorf("ber: GetRequest needs at least one OID")
	}
	binds := make([]VarBind, len(oids))
	for i, o := range oids {
		binds[i] = VarBind{OID: o, Value: Null()}
	}
	return Marshal(Message{
		Version:   Version2c,
		Community: community,
		PDU: PDU{
			Type:      GetRequest,
			RequestID: requestID,
			Bindings:  binds,
		},
	})
}

// Marshal encodes msg using definite, minimal-length BER.
func Marshal(msg Message) ([]byte, error) {
	if !msg.PDU.Type.valid() {
		return nil, fmt.Errorf("ber: unknown PDU type 0x%02x", byte(msg.PDU.Type))
	}

	var vbl []byte
	for i, vb := range msg.PDU.Bindings {
		item, err := appendVarBind(nil, vb)
		if err != nil {
			return nil, fmt.Errorf("ber: binding %d: %w", i, err)
		}
		vbl = append(vbl, item...)
	}

	var pdu []byte
	pdu = appendTLV(pdu, tagInteger, intContent(int64(msg.PDU.RequestID)))
	pdu = appendTLV(pdu, tagInteger, intContent(int64(msg.PDU.ErrorStatus)))
	pdu = appendTLV(pdu, tagInteger, intContent(int64(msg.PDU.ErrorIndex)))
	pdu = appendTLV(pdu, tagSequence, vbl)

	var body []byte
	body = appendTLV(body, tagInteger, intContent(int64(msg.Version)))
	body = appendTLV(body, tagOctetString, []byte(msg.Community))
	body = appendTLV(body, byte(msg.PDU.Type), pdu)

	return appendTLV(nil, tagSequence, body), nil
}

func appendVarBind(dst []byte, vb VarBind) ([]byte, error) {
	oid, err := appendOIDContent(nil, vb.OID)
	if err != nil {
		return dst, err
	}
	var inner []byte
	inner = appendTLV(inner, tagOID, oid)
	inner, err = appendValue(inner, vb.Value)
	if err != nil {
		return dst, err
	}
	return appendTLV(dst, tagSequence, inner), nil
}

func appendValue(dst []byte, v Value) ([]byte, error) {
	switch v.kind {
	case KindNull:
		return appendTLV(dst, tagNull, nil), nil
	case KindInteger:
		return appendTLV(dst, tagInteger, intContent(v.i)), nil
	case KindOctetString:
		return appendTLV(dst, tagOctetString, v.b), nil
	case KindObjectIdentifier:
		content, err := appendOIDContent(nil, v.oid)
		if err != nil {
			return dst, err
		}
		return appendTLV(dst, tagOID, content), nil
	case KindIPAddress:
		return appendTLV(dst, tagIPAddress, v.b), nil
	case KindCounter32:
		return appendTLV(dst, tagCounter32, uintContent(v.u)), nil
	case KindGauge32:
		return appendTLV(dst, tagGauge32, uintContent(v.u)), nil
	case KindTimeTicks:
		return appendTLV(dst, tagTimeTicks, uintContent(v.u)), nil
	case KindCounter64:
		return appendTLV(dst, tagCounter64, uintContent(v.u)), nil
	case KindNoSuchObject:
		return appendTLV(dst, tagNoSuchObject, nil), nil
	case KindNoSuchInstance:
		return appendTLV(dst, tagNoSuchInstance, nil), nil
	case KindEndOfMibView:
		return appendTLV(dst, tagEndOfMibView, nil), nil
	default:
		return dst, fmt.Errorf("ber: cannot encode value kind %s", v.kind)
	}
}

// appendTLV writes tag, minimal definite length and content.
func appendTLV(dst []byte, tag byte, content []byte) []byte {
	dst = append(dst, tag)
	dst = appendLength(dst, len(content))
	return append(dst, content...)
}

// appendLength uses the short form below 128 and the shortest long form
// otherwise.
func appendLength(dst []byte, n int) []byte {
	if n < 0x80 {
		return append(dst, byte(n))
	}
	var tmp [8]byte
	i := len(tmp)
	for v := uint64(n); v > 0; v >>= 8 {
		i--
		tmp[i] = byte(v)
	}
	dst = append(dst, 0x80|byte(len(tmp)-i))
	return append(dst, tmp[i:]...)
}

// intContent is the minimal two's-complement encoding of v.
func intContent(v int64) []byte {
	var tmp [8]byte
	for i := 7; i >= 0; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	start := 0
	for start < 7 {
		b, next := tmp[start], tmp[start+1]
		if (b == 0x00 && next&0x80 == 0) || (b == 0xff && next&0x80 != 0) {
			start++
			continue
		}
		break
	}
	out := make([]byte, 8-start)
	copy(out, tmp[start:])
	return out
}

// uintContent encodes an unsigned value, prepending 0x00 when the high bit of
// the first significant octet is set so the content never reads as negative.
func uintContent(v uint64) []byte {
	var tmp [9]byte
	for i := 8; i >= 1; i-- {
		tmp[i] = byte(v)
		v >>= 8
	}
	start := 1
	for start < 8 && tmp[start] == 0 {
		start++
	}
	if tmp[start]&0x80 != 0 {
		start--
	}
	out := make([]byte, 9-start)
	copy(out, tmp[start:])
	return out
}

package ber

import (
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"strconv"
	"unicode/utf8"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindOctetString
	KindObjectIdentifier
	KindIPAddress
	KindCounter32
	KindGauge32
	KindTimeTicks
	KindCounter64
	KindNoSuchObject
	KindNoSuchInstance
	KindEndOfMibView
)

// String returns the SMI name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "Null"
	case KindInteger:
		return "Integer"
	case KindOctetString:
		return "OctetString"
	case KindObjectIdentifier:
		return "ObjectIdentifier"
	case KindIPAddress:
		return "IpAddress"
	case KindCounter32:
		return "Counter32"
	case KindGauge32:
		return "Gauge32"
	case KindTimeTicks:
		return "TimeTicks"
	case KindCounter64:
		return "Counter64"
	case KindNoSuchObject:
		return "NoSuchObject"
	case KindNoSuchInstance:
		return "NoSuchInstance"
	case KindEndOfMibView:
		return "EndOfMibView"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Value is the decoded value of a variable binding. It is a closed variant:
// the only way to obtain one is through the constructors below or the
// decoder, and the decoder rejects every tag it has no Kind for.
type Value struct {
	kind Kind
	i    int64
	u    uint64
	b    []byte
	oid  OID
}

// Null is the placeholder value sent in GetRequest bindings.
func Null() Value { return Value{kind: KindNull} }

func Integer(v int64) Value    { return Value{kind: KindInteger, i: v} }
func Counter32(v uint32) Value { return Value{kind: KindCounter32, u: uint64(v)} }
func Gauge32(v uint32) Value   { return Value{kind: KindGauge32, u: uint64(v)} }
func TimeTicks(v uint32) Value { return Value{kind: KindTimeTicks, u: uint64(v)} }
func Counter64(v uint64) Value { return Value{kind: KindCounter64, u: v} }

// OctetString copies b into a new Value.
func OctetString(b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{kind: KindOctetString, b: cp}
}

// ObjectIdentifierValue wraps an OID as a value.
func ObjectIdentifierValue(o OID) Value { return Value{kind: KindObjectIdentifier, oid: o} }

// IPAddress holds an IPv4 address value.
func IPAddress(ip [4]byte) Value { return Value{kind: KindIPAddress, b: ip[:]} }

// Exception values, as returned by v2c agents for unknown objects.
func NoSuchObject() Value   { return Value{kind: KindNoSuchObject} }
func NoSuchInstance() Value { return Value{kind: KindNoSuchInstance} }
func EndOfMibView() Value   { return Value{kind: KindEndOfMibView} }

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsException reports whether v is one of the v2c exception markers.
func (v Value) IsException() bool {
	return v.kind == KindNoSuchObject || v.kind == KindNoSuchInstance || v.kind == KindEndOfMibView
}

// Int returns the INTEGER content. ok is false for other kinds.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInteger {
		return 0, false
	}
	return v.i, true
}

// Uint returns the content of Counter32, Gauge32, TimeTicks and Counter64.
func (v Value) Uint() (uint64, bool) {
	switch v.kind {
	case KindCounter32, KindGauge32, KindTimeTicks, KindCounter64:
		return v.u, true
	}
	return 0, false
}

// Bytes returns the OctetString or IpAddress content.
func (v Value) Bytes() ([]byte, bool) {
	if v.kind != KindOctetString && v.kind != KindIPAddress {
		return nil, false
	}
	cp := make([]byte, len(v.b))
	copy(cp, v.b)
	return cp, true
}

// OID returns the ObjectIdentifier content.
func (v Value) OID() (OID, bool) {
	if v.kind != KindObjectIdentifier {
		return OID{}, false
	}
	return v.oid, true
}

// Float returns a numeric view of the value. OctetStrings holding a decimal
// number (some proxy MIBs publish counters as DisplayString) are parsed;
// every other non-numeric kind reports ok=false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindInteger:
		return float64(v.i), true
	case KindCounter32, KindGauge32, KindTimeTicks, KindCounter64:
		return float64(v.u), true
	case KindOctetString:
		f, err := strconv.ParseFloat(string(v.b), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Equal compares kind and content.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindInteger:
		return v.i == other.i
	case KindCounter32, KindGauge32, KindTimeTicks, KindCounter64:
		return v.u == other.u
	case KindOctetString, KindIPAddress:
		return string(v.b) == string(other.b)
	case KindObjectIdentifier:
		return v.oid.Equal(other.oid)
	}
	return true
}

// String renders the value the way `snmpget` would, prefixed by its kind.
func (v Value) String() string {
	switch v.kind {
	case KindInteger:
		return "Integer: " + strconv.FormatInt(v.i, 10)
	case KindCounter32, KindGauge32, KindTimeTicks, KindCounter64:
		return v.kind.String() + ": " + strconv.FormatUint(v.u, 10)
	case KindOctetString:
		if utf8.Valid(v.b) {
			return fmt.Sprintf("OctetString: %q", string(v.b))
		}
		return "Hex-OctetString: " + hex.EncodeToString(v.b)
	case KindIPAddress:
		return "IpAddress: " + net.IP(v.b).String()
	case KindObjectIdentifier:
		return "ObjectIdentifier: " + v.oid.String()
	default:
		return v.kind.String()
	}
}

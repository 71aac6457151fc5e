// Package ber implements the subset of ASN.1 Basic Encoding Rules needed to
// speak SNMPv2c: the message envelope, the Get/Response PDU family, and the
// primitive value types carried in variable bindings.
//
// Decoding is strict. An unknown value tag, an indefinite length or a length
// that runs past its enclosing container is reported as a *MalformedError.
package ber

// ─────────────────────────────────────────────────────────────────────────────
// Tag constants
// ─────────────────────────────────────────────────────────────────────────────

// Universal class tags.
const (
	tagInteger     byte = 0x02
	tagOctetString byte = 0x04
	tagNull        byte = 0x05
	tagOID         byte = 0x06
	tagSequence    byte = 0x30 // constructed SEQUENCE
)

// Application class tags defined by RFC 2578 (SNMPv2-SMI).
const (
	tagIPAddress byte = 0x40
	tagCounter32 byte = 0x41
	tagGauge32   byte = 0x42
	tagTimeTicks byte = 0x43
	tagOpaque    byte = 0x44
	tagCounter64 byte = 0x46
)

// Context class primitive tags used as varbind exception markers (RFC 3416).
const (
	tagNoSuchObject   byte = 0x80
	tagNoSuchInstance byte = 0x81
	tagEndOfMibView   byte = 0x82
)

// Version2c is the msgVersion value carried by SNMPv2c messages.
const Version2c = 1

// PDUType is the context-specific constructed tag that opens a PDU.
type PDUType byte

// PDU types from RFC 3416. Only GetRequest and GetResponse are produced and
// consumed by the poller; the others are recognised so that a misrouted
// datagram decodes cleanly and is rejected by type rather than by framing.
const (
	GetRequest     PDUType = 0xa0
	GetNextRequest PDUType = 0xa1
	GetResponse    PDUType = 0xa2
	SetRequest     PDUType = 0xa3
	GetBulkRequest PDUType = 0xa5
	InformRequest  PDUType = 0xa6
	SNMPv2Trap     PDUType = 0xa7
	Report         PDUType = 0xa8
)

func (t PDUType) valid() bool {
	switch t {
	case GetRequest, GetNextRequest, GetResponse, SetRequest,
		GetBulkRequest, InformRequest, SNMPv2Trap, Report:
		return true
	}
	return false
}

// String returns the RFC 3416 PDU name.
func (t PDUType) String() string {
	switch t {
	case GetRequest:
		return "GetRequest"
	case GetNextRequest:
		return "GetNextRequest"
	case GetResponse:
		return "GetResponse"
	case SetRequest:
		return "SetRequest"
	case GetBulkRequest:
		return "GetBulkRequest"
	case InformRequest:
		return "InformRequest"
	case SNMPv2Trap:
		return "SNMPv2-Trap"
	case Report:
		return "Report"
	default:
		return "Unknown"
	}
}

package ber

// ─────────────────────────────────────────────────────────────────────────────
// Decoding
// ─────────────────────────────────────────────────────────────────────────────

// maxLengthOctets bounds the long length form. Four octets already describe
// far more than any UDP datagram can carry.
const maxLengthOctets = 4

// tlv is one decoded element. off is the absolute position of its tag octet
// and contentOff the absolute position of its first content octet.
type tlv struct {
	tag        byte
	content    []byte
	off        int
	contentOff int
}

// reader walks a byte slice whose first octet sits at absolute offset base in
// the received datagram.
type reader struct {
	buf  []byte
	pos  int
	base int
}

func newReader(buf []byte, base int) *reader {
	return &reader{buf: buf, base: base}
}

func (r *reader) abs() int    { return r.base + r.pos }
func (r *reader) empty() bool { return r.pos >= len(r.buf) }

// next reads one complete TLV from the reader.
func (r *reader) next() (tlv, error) {
	start := r.abs()
	if r.empty() {
		return tlv{}, malformed(start, "unexpected end of data, expected a tag")
	}
	tag := r.buf[r.pos]
	if tag&0x1f == 0x1f {
		return tlv{}, malformed(start, "multi-octet tags are not supported")
	}
	r.pos++

	if r.empty() {
		return tlv{}, malformed(r.abs(), "missing length after tag 0x%02x", tag)
	}
	first := r.buf[r.pos]
	r.pos++

	var length int
	switch {
	case first < 0x80:
		length = int(first)
	case first == 0x80:
		return tlv{}, malformed(r.abs()-1, "indefinite length form is not allowed")
	default:
		n := int(first & 0x7f)
		if n > maxLengthOctets {
			return tlv{}, malformed(r.abs()-1, "length uses %d octets (max %d)", n, maxLengthOctets)
		}
		if len(r.buf)-r.pos < n {
			return tlv{}, malformed(r.abs(), "truncated length")
		}
		for i := 0; i < n; i++ {
			length = length<<8 | int(r.buf[r.pos])
			r.pos++
		}
	}

	if length > len(r.buf)-r.pos {
		return tlv{}, malformed(start, "tag 0x%02x declares %d content octets but only %d remain", tag, length, len(r.buf)-r.pos)
	}
	t := tlv{
		tag:        tag,
		content:    r.buf[r.pos : r.pos+length],
		off:        start,
		contentOff: r.abs(),
	}
	r.pos += length
	return t, nil
}

// expect reads the next TLV and checks its tag.
func (r *reader) expect(tag byte, what string) (tlv, error) {
	t, err := r.next()
	if err != nil {
		return t, err
	}
	if t.tag != tag {
		return t, malformed(t.off, "expected %s (tag 0x%02x), got tag 0x%02x", what, tag, t.tag)
	}
	return t, nil
}

func (t tlv) children() *reader { return newReader(t.content, t.contentOff) }

// ─────────────────────────────────────────────────────────────────────────────
// Primitive content
// ─────────────────────────────────────────────────────────────────────────────

func parseInt(t tlv) (int64, error) {
	c := t.content
	if len(c) == 0 {
		return 0, malformed(t.off, "empty INTEGER")
	}
	if len(c) > 8 {
		return 0, malformed(t.off, "INTEGER of %d octets does not fit 64 bits", len(c))
	}
	v := int64(int8(c[0]))
	for _, b := range c[1:] {
		v = v<<8 | int64(b)
	}
	return v, nil
}

// parseUint decodes an unsigned application type whose value must fit in
// bits. One extra leading 0x00 octet is allowed but not required.
func parseUint(t tlv, bits int, name string) (uint64, error) {
	c := t.content
	if len(c) == 0 {
		return 0, malformed(t.off, "empty %s", name)
	}
	maxOctets := bits/8 + 1
	if len(c) > maxOctets || (len(c) == maxOctets && c[0] != 0) {
		return 0, malformed(t.off, "%s of %d octets exceeds %d bits", name, len(c), bits)
	}
	var v uint64
	for _, b := range c {
		v = v<<8 | uint64(b)
	}
	if bits < 64 && v>>bits != 0 {
		return 0, malformed(t.off, "%s value %d exceeds %d bits", name, v, bits)
	}
	return v, nil
}

func parseValue(t tlv) (Value, error) {
	switch t.tag {
	case tagNull:
		if len(t.content) != 0 {
			return Value{}, malformed(t.off, "NULL with %d content octets", len(t.content))
		}
		return Null(), nil
	case tagInteger:
		v, err := parseInt(t)
		if err != nil {
			return Value{}, err
		}
		return Integer(v), nil
	case tagOctetString:
		return OctetString(t.content), nil
	case tagOID:
		o, err := parseOIDContent(t.content, t.contentOff)
		if err != nil {
			return Value{}, err
		}
		return ObjectIdentifierValue(o), nil
	case tagIPAddress:
		if len(t.content) != 4 {
			return Value{}, malformed(t.off, "IpAddress of %d octets", len(t.content))
		}
		return IPAddress([4]byte{t.content[0], t.content[1], t.content[2], t.content[3]}), nil
	case tagCounter32, tagGauge32, tagTimeTicks:
		name := map[byte]string{tagCounter32: "Counter32", tagGauge32: "Gauge32", tagTimeTicks: "TimeTicks"}[t.tag]
		v, err := parseUint(t, 32, name)
		if err != nil {
			return Value{}, err
		}
		switch t.tag {
		case tagCounter32:
			return Counter32(uint32(v)), nil
		case tagGauge32:
			return Gauge32(uint32(v)), nil
		default:
			return TimeTicks(uint32(v)), nil
		}
	case tagCounter64:
		v, err := parseUint(t, 64, "Counter64")
		if err != nil {
			return Value{}, err
		}
		return Counter64(v), nil
	case tagNoSuchObject, tagNoSuchInstance, tagEndOfMibView:
		if len(t.content) != 0 {
			return Value{}, malformed(t.off, "exception value 0x%02x with content", t.tag)
		}
		switch t.tag {
		case tagNoSuchObject:
			return NoSuchObject(), nil
		case tagNoSuchInstance:
			return NoSuchInstance(), nil
		default:
			return EndOfMibView(), nil
		}
	default:
		return Value{}, malformed(t.off, "unsupported value tag 0x%02x", t.tag)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Message
// ─────────────────────────────────────────────────────────────────────────────

// Unmarshal decodes a complete SNMPv2c message. It accepts every PDU type and
// does not interpret error-status; see DecodeGetResponse for that.
func Unmarshal(b []byte) (Message, error) {
	var msg Message

	top := newReader(b, 0)
	outer, err := top.expect(tagSequence, "message SEQUENCE")
	if err != nil {
		return msg, err
	}
	if !top.empty() {
		return msg, malformed(top.abs(), "%d trailing octets after message", len(b)-top.pos)
	}

	body := outer.children()
	vt, err := body.expect(tagInteger, "version")
	if err != nil {
		return msg, err
	}
	version, err := parseInt(vt)
	if err != nil {
		return msg, err
	}
	if version != Version2c {
		return msg, malformed(vt.off, "version %d is not SNMPv2c", version)
	}
	msg.Version = int(version)

	ct, err := body.expect(tagOctetString, "community")
	if err != nil {
		return msg, err
	}
	msg.Community = string(ct.content)

	pt, err := body.next()
	if err != nil {
		return msg, err
	}
	if !PDUType(pt.tag).valid() {
		return msg, malformed(pt.off, "unknown PDU tag 0x%02x", pt.tag)
	}
	if !body.empty() {
		return msg, malformed(body.abs(), "trailing octets after PDU")
	}
	msg.PDU, err = parsePDU(pt)
	return msg, err
}

func parsePDU(pt tlv) (PDU, error) {
	pdu := PDU{Type: PDUType(pt.tag)}
	r := pt.children()

	ints := [3]int64{}
	for i, what := range []string{"request-id", "error-status", "error-index"} {
		t, err := r.expect(tagInteger, what)
		if err != nil {
			return pdu, err
		}
		ints[i], err = parseInt(t)
		if err != nil {
			return pdu, err
		}
	}
	if ints[0] < -1<<31 || ints[0] > 1<<31-1 {
		return pdu, malformed(pt.contentOff, "request-id %d out of 32-bit range", ints[0])
	}
	pdu.RequestID = int32(ints[0])
	pdu.ErrorStatus = int(ints[1])
	pdu.ErrorIndex = int(ints[2])

	lt, err := r.expect(tagSequence, "variable-bindings SEQUENCE")
	if err != nil {
		return pdu, err
	}
	if !r.empty() {
		return pdu, malformed(r.abs(), "trailing octets after variable-bindings")
	}

	list := lt.children()
	for !list.empty() {
		vbt, err := list.expect(tagSequence, "VarBind SEQUENCE")
		if err != nil {
			return pdu, err
		}
		vb, err := parseVarBind(vbt)
		if err != nil {
			return pdu, err
		}
		pdu.Bindings = append(pdu.Bindings, vb)
	}
	return pdu, nil
}

func parseVarBind(vbt tlv) (VarBind, error) {
	r := vbt.children()
	ot, err := r.expect(tagOID, "VarBind name")
	if err != nil {
		return VarBind{}, err
	}
	oid, err := parseOIDContent(ot.content, ot.contentOff)
	if err != nil {
		return VarBind{}, err
	}
	valT, err := r.next()
	if err != nil {
		return VarBind{}, err
	}
	val, err := parseValue(valT)
	if err != nil {
		return VarBind{}, err
	}
	if !r.empty() {
		return VarBind{}, malformed(r.abs(), "trailing octets inside VarBind")
	}
	return VarBind{OID: oid, Value: val}, nil
}

// DecodeGetResponse decodes b and checks that it is a GetResponse. When the
// agent reported a non-zero error-status the message is returned together
// with an *AgentError so the caller can still match the request id.
func DecodeGetResponse(b []byte) (Message, error) {
	msg, err := Unmarshal(b)
	if err != nil {
		return msg, err
	}
	if msg.PDU.Type != GetResponse {
		return msg, malformed(0, "expected GetResponse PDU, got %s", msg.PDU.Type)
	}
	if msg.PDU.ErrorStatus != 0 {
		return msg, &AgentError{Status: msg.PDU.ErrorStatus, Index: msg.PDU.ErrorIndex}
	}
	return msg, nil
}

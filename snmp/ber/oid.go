package ber

import (
	"fmt"
	"strconv"
	"strings"
)

// OID is an SNMP object identifier. The zero value is the empty OID, which is
// never produced by ParseOID or by the decoder.
type OID struct {
	arcs []uint32
}

// NewOID builds an OID from its arcs. The slice is copied.
func NewOID(arcs ...uint32) OID {
	cp := make([]uint32, len(arcs))
	copy(cp, arcs)
	return OID{arcs: cp}
}

// ParseOID parses dotted-decimal notation, e.g. "1.3.6.1.2.1.1.3.0". A single
// leading dot is accepted (".1.3.6…") because gosnmp and net-snmp emit it.
func ParseOID(s string) (OID, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, ".")
	if s == "" {
		return OID{}, fmt.Errorf("ber: empty OID")
	}
	parts := strings.Split(s, ".")
	arcs := make([]uint32, len(parts))
	for i, p := range parts {
		if p == "" {
			return OID{}, fmt.Errorf("ber: OID %q: empty component at position %d", s, i)
		}
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return OID{}, fmt.Errorf("ber: OID %q: component %q: %w", s, p, err)
		}
		arcs[i] = uint32(v)
	}
	return OID{arcs: arcs}, nil
}

// MustParseOID is ParseOID for constants; it panics on error.
func MustParseOID(s string) OID {
	oid, err := ParseOID(s)
	if err != nil {
		panic(err)
	}
	return oid
}

// Arcs returns a copy of the OID components.
func (o OID) Arcs() []uint32 {
	cp := make([]uint32, len(o.arcs))
	copy(cp, o.arcs)
	return cp
}

// Len returns the number of arcs.
func (o OID) Len() int { return len(o.arcs) }

// IsZero reports whether the OID has no arcs.
func (o OID) IsZero() bool { return len(o.arcs) == 0 }

// Equal reports whether o and other have identical arcs.
func (o OID) Equal(other OID) bool {
	if len(o.arcs) != len(other.arcs) {
		return false
	}
	for i := range o.arcs {
		if o.arcs[i] != other.arcs[i] {
			return false
		}
	}
	return true
}

// String renders dotted decimal without a leading dot.
func (o OID) String() string {
	var sb strings.Builder
	for i, a := range o.arcs {
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(strconv.FormatUint(uint64(a), 10))
	}
	return sb.String()
}

// ─────────────────────────────────────────────────────────────────────────────
// Wire form (X.690 §8.19)
// ─────────────────────────────────────────────────────────────────────────────

// appendOIDContent appends the encoded subidentifiers of o to dst.
func appendOIDContent(dst []byte, o OID) ([]byte, error) {
	if len(o.arcs) < 2 {
		return dst, fmt.Errorf("ber: OID %q needs at least two arcs to encode", o.String())
	}
	first, second := o.arcs[0], o.arcs[1]
	if first > 2 {
		return dst, fmt.Errorf("ber: OID %q: first arc must be 0, 1 or 2", o.String())
	}
	if first < 2 && second >= 40 {
		return dst, fmt.Errorf("ber: OID %q: second arc must be < 40 when first arc is %d", o.String(), first)
	}
	dst = appendBase128(dst, uint64(first)*40+uint64(second))
	for _, a := range o.arcs[2:] {
		dst = appendBase128(dst, uint64(a))
	}
	return dst, nil
}

func appendBase128(dst []byte, v uint64) []byte {
	if v == 0 {
		return append(dst, 0)
	}
	var tmp [10]byte
	n := 0
	for v > 0 {
		tmp[n] = byte(v & 0x7f)
		v >>= 7
		n++
	}
	for i := n - 1; i >= 0; i-- {
		b := tmp[i]
		if i > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// parseOIDContent decodes OID content octets. offset is used for error
// reporting only.
func parseOIDContent(content []byte, offset int) (OID, error) {
	if len(content) == 0 {
		return OID{}, malformed(offset, "empty OBJECT IDENTIFIER")
	}
	var arcs []uint32
	var acc uint64
	started := false
	for i, b := range content {
		if !started && b == 0x80 {
			return OID{}, malformed(offset+i, "non-minimal OID subidentifier")
		}
		started = true
		acc = acc<<7 | uint64(b&0x7f)
		if acc > 0xffffffff+80 {
			return OID{}, malformed(offset+i, "OID subidentifier overflows 32 bits")
		}
		if b&0x80 != 0 {
			continue
		}
		if len(arcs) == 0 {
			switch {
			case acc < 40:
				arcs = append(arcs, 0, uint32(acc))
			case acc < 80:
				arcs = append(arcs, 1, uint32(acc-40))
			default:
				arcs = append(arcs, 2, uint32(acc-80))
			}
		} else {
			if acc > 0xffffffff {
				return OID{}, malformed(offset+i, "OID subidentifier overflows 32 bits")
			}
			arcs = append(arcs, uint32(acc))
		}
		acc = 0
		started = false
	}
	if started {
		return OID{}, malformed(offset+len(content)-1, "truncated OID subidentifier")
	}
	return OID{arcs: arcs}, nil
}

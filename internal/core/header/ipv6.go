// Package header provides accessors for the IPv6 wire formats handled by the
// receive path: the base header, options headers, the Routing header and the
// Fragment header.
package header

import (
	"encoding/binary"
	"net/netip"
)

const (
	// IPv6MinimumSize is the size of the fixed IPv6 header.
	IPv6MinimumSize = 40

	// IPv6AddressSize is the size of an IPv6 address.
	IPv6AddressSize = 16

	// IPv6MaximumPayloadSize is the largest payload the 16-bit Payload Length
	// field can express. Anything larger needs a Jumbo Payload option.
	IPv6MaximumPayloadSize = 0xffff

	// IPv6MinimumMTU is the minimum link MTU, as per RFC 8200 section 5.
	IPv6MinimumMTU = 1280

	// IPv6Version is the value of the version nibble.
	IPv6Version = 6

	versTCFL   = 0
	payloadLen = 4
	nextHdr    = 6
	hopLimit   = 7
	v6SrcAddr  = 8
	v6DstAddr  = v6SrcAddr + IPv6AddressSize
)

// Byte offsets of base header fields. Parameter Problem pointers are measured
// from the start of the base header, so these double as pointer values.
const (
	IPv6PayloadLenOffset = payloadLen
	IPv6NextHeaderOffset = nextHdr
	IPv6DstAddrOffset    = v6DstAddr
)

// IPv6Fields contains the fields of an IPv6 base header. It is used to
// describe the fields of a packet that needs to be encoded.
type IPv6Fields struct {
	TrafficClass  uint8
	FlowLabel     uint32
	PayloadLength uint16
	NextHeader    uint8
	HopLimit      uint8
	SrcAddr       netip.Addr
	DstAddr       netip.Addr
}

// IPv6 represents an IPv6 base header stored in a byte slice.
type IPv6 []byte

// Version returns the value of the version nibble.
func (b IPv6) Version() int {
	return int(b[versTCFL] >> 4)
}

// PayloadLength returns the value of the Payload Length field.
func (b IPv6) PayloadLength() uint16 {
	return binary.BigEndian.Uint16(b[payloadLen:])
}

// NextHeader returns the value of the Next Header field.
func (b IPv6) NextHeader() uint8 {
	return b[nextHdr]
}

// HopLimit returns the value of the Hop Limit field.
func (b IPv6) HopLimit() uint8 {
	return b[hopLimit]
}

// SourceAddress returns the Source Address field.
func (b IPv6) SourceAddress() netip.Addr {
	return netip.AddrFrom16([IPv6AddressSize]byte(b[v6SrcAddr:][:IPv6AddressSize]))
}

// DestinationAddress returns the Destination Address field.
func (b IPv6) DestinationAddress() netip.Addr {
	return netip.AddrFrom16([IPv6AddressSize]byte(b[v6DstAddr:][:IPv6AddressSize]))
}

// SetPayloadLength sets the Payload Length field.
func (b IPv6) SetPayloadLength(v uint16) {
	binary.BigEndian.PutUint16(b[payloadLen:], v)
}

// SetNextHeader sets the Next Header field.
func (b IPv6) SetNextHeader(v uint8) {
	b[nextHdr] = v
}

// SetHopLimit sets the Hop Limit field.
func (b IPv6) SetHopLimit(v uint8) {
	b[hopLimit] = v
}

// SetSourceAddress sets the Source Address field.
func (b IPv6) SetSourceAddress(addr netip.Addr) {
	a := addr.As16()
	copy(b[v6SrcAddr:][:IPv6AddressSize], a[:])
}

// SetDestinationAddress sets the Destination Address field.
func (b IPv6) SetDestinationAddress(addr netip.Addr) {
	a := addr.As16()
	copy(b[v6DstAddr:][:IPv6AddressSize], a[:])
}

// Encode encodes all the fields of the IPv6 header.
func (b IPv6) Encode(f *IPv6Fields) {
	binary.BigEndian.PutUint32(b[versTCFL:], IPv6Version<<28|uint32(f.TrafficClass)<<20|f.FlowLabel&0xfffff)
	b.SetPayloadLength(f.PayloadLength)
	b.SetNextHeader(f.NextHeader)
	b.SetHopLimit(f.HopLimit)
	b.SetSourceAddress(f.SrcAddr)
	b.SetDestinationAddress(f.DstAddr)
}

// IsRoutableSource reports whether addr may appear as the source of a packet
// that is forwarded off-link.
func IsRoutableSource(addr netip.Addr) bool {
	return addr.IsValid() && !addr.IsUnspecified() && !addr.IsLoopback() && !addr.IsMulticast()
}

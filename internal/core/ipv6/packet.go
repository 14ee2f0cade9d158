// Package ipv6 implements the receive path for IPv6 datagrams: base header
// checks, extension header dispatch, option processing, source routing,
// fragment handling and forwarding.
package ipv6

import (
	"net/netip"

	"firestige.xyz/v6rx/internal/core/buffer"
	"firestige.xyz/v6rx/internal/core/header"
)

// Flags describe how a packet arrived and what it holds.
type Flags uint8

const (
	// FlagReassembled marks a datagram rebuilt from fragments.
	FlagReassembled Flags = 1 << iota
	// FlagJumbo marks a datagram carrying a valid Jumbo Payload option.
	FlagJumbo
	// FlagNotUnicast marks a frame received as link-layer multicast or
	// broadcast.
	FlagNotUnicast
	// FlagHoldsEntityRef marks a packet holding an Entity reference obtained
	// from the address table.
	FlagHoldsEntityRef
)

// Packet is one datagram in flight through the receive path. The cursor
// starts at the base header and advances header by header.
type Packet struct {
	Cursor    *buffer.Cursor
	Interface Interface
	Entity    Entity
	Flags     Flags

	// SecurityAssociations is passed through to the forwarder untouched.
	SecurityAssociations []any

	// HopByHop and DestinationOptions hold the last parsed result of each
	// options header kind.
	HopByHop           OptionResult
	DestinationOptions OptionResult

	base  int
	total int
	depth int
	next  uint8 // next header value being processed
}

// NewPacket returns a packet over the given chunks.
func NewPacket(chunks ...[]byte) *Packet {
	c := buffer.New(chunks...)
	return &Packet{Cursor: c, total: c.Size()}
}

// Has reports whether all of f are set.
func (p *Packet) Has(f Flags) bool { return p.Flags&f == f }

// Header returns a view of the base header. It copies when the header is
// split across chunks.
func (p *Packet) Header() header.IPv6 {
	b := make([]byte, header.IPv6MinimumSize)
	if p.Cursor.CopyAt(p.base, b) < header.IPv6MinimumSize {
		return nil
	}
	return b
}

// Source returns the base header source address.
func (p *Packet) Source() netip.Addr {
	var a [header.IPv6AddressSize]byte
	p.Cursor.CopyAt(p.base+8, a[:])
	return netip.AddrFrom16(a)
}

// Destination returns the base header destination address.
func (p *Packet) Destination() netip.Addr {
	var a [header.IPv6AddressSize]byte
	p.Cursor.CopyAt(p.base+header.IPv6DstAddrOffset, a[:])
	return netip.AddrFrom16(a)
}

// Offset returns the parse position relative to the base header.
func (p *Packet) Offset() int { return p.Cursor.Offset() - p.base }

// Total returns the datagram length from the base header through the
// declared payload.
func (p *Packet) Total() int { return p.total - p.base }

// Datagram returns a copy of the datagram from the base header.
func (p *Packet) Datagram() []byte {
	b := make([]byte, p.Total())
	p.Cursor.CopyAt(p.base, b)
	return b
}

// NextHeader returns the next header value being processed.
func (p *Packet) NextHeader() uint8 { return p.next }

// Depth returns how many reassemblies produced this packet.
func (p *Packet) Depth() int { return p.depth }

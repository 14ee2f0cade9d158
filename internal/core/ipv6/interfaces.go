package ipv6

import (
	"net/netip"

	"golang.org/x/net/ipv6"

	"firestige.xyz/v6rx/internal/core/header"
)

// Interface is the network interface a frame arrived on.
type Interface interface {
	Name() string
	Index() int
	// Forwarding reports whether datagrams received here may be forwarded.
	Forwarding() bool
}

// Entity is a local address owner. Entities returned by an AddressTable are
// referenced and must be released once.
type Entity interface {
	Address() netip.Addr
	Release()
}

// Resolution is the outcome of an address table lookup.
type Resolution int

const (
	NotForwardable Resolution = iota
	Local
	Forwardable
)

func (r Resolution) String() string {
	switch r {
	case Local:
		return "local"
	case Forwardable:
		return "forwardable"
	default:
		return "not_forwardable"
	}
}

// AddressTable maps a destination to a local entity or a forwarding verdict.
// The Entity is non-nil only for Local.
type AddressTable interface {
	Resolve(dst netip.Addr) (Resolution, Entity)
}

// SecurityPolicy is the inbound IPsec gate.
type SecurityPolicy interface {
	VerifyInbound(pkt *Packet, proto uint8, srcPort, dstPort uint16, iface Interface) bool
}

// Route is a resolved next hop.
type Route struct {
	Interface Interface
	NextHop   netip.Addr
	// LinkReserve is headroom the outgoing link needs ahead of the datagram.
	LinkReserve int
	// SecurityOverhead is room for outbound security transforms.
	SecurityOverhead int
}

// RouteResolver finds the route toward dst.
type RouteResolver interface {
	Route(dst netip.Addr) (*Route, error)
}

// ForwardRequest hands a re-emitted datagram to transmission.
type ForwardRequest struct {
	// Owner is the received packet the datagram was copied from.
	Owner *Packet
	// Buffer is the whole allocation; Datagram is the slice of it that holds
	// the datagram starting at the base header.
	Buffer   []byte
	Datagram []byte
	Route    *Route
	// AllowRedirect is false for source-routed datagrams.
	AllowRedirect bool
	// SecurityAssociations are carried over from Owner.
	SecurityAssociations []any
}

// Forwarder transmits datagrams after hop-limit handling.
type Forwarder interface {
	Forward(req *ForwardRequest) error
}

// ICMPSender builds and sends ICMPv6 error messages about pkt. pointer is
// only meaningful for Parameter Problem. allowMulticast permits an error in
// response to a multicast destination.
type ICMPSender interface {
	SendError(pkt *Packet, typ ipv6.ICMPType, code header.ICMPv6Code, pointer uint32, nextHeader uint8, allowMulticast bool) error
}

// Scheduler runs deferred work outside the receive call chain. Schedule
// must not block.
type Scheduler interface {
	Schedule(fn func()) error
}

// DeferPolicy decides whether a datagram reassembled while handling pkt is
// resubmitted through the Scheduler instead of synchronously.
type DeferPolicy func(pkt *Packet) bool

// DeferReassembled defers when the triggering packet was itself
// reassembled.
func DeferReassembled(pkt *Packet) bool { return pkt.Has(FlagReassembled) }

// Transport consumes an upper-layer protocol. The packet cursor is at the
// upper-layer header. Deliver returns true when it keeps a reference to the
// packet's buffer.
type Transport interface {
	Deliver(pkt *Packet) bool
}

// Mobility receives authenticated binding updates.
type Mobility interface {
	BindingUpdate(careOf, home netip.Addr, update []byte)
}

type allowAll struct{}

func (allowAll) VerifyInbound(*Packet, uint8, uint16, uint16, Interface) bool { return true }

package ipv6

import (
	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
)

// handleRouting processes a Type 0 Routing header. With segments left the
// datagram is rewritten toward the next address and forwarded.
func (e *Engine) handleRouting(p *Packet) (step, error) {
	off := p.Offset()
	b, err := e.extensionHeader(p)
	if err != nil {
		return step{}, err
	}
	rh := header.IPv6RoutingExtHdr(b)

	if rh.SegmentsLeft() == 0 {
		if err := p.Cursor.Advance(len(rh)); err != nil {
			return step{}, truncated()
		}
		return step{next: rh.NextHeader(), field: off}, nil
	}
	if rh.RoutingType() != 0 {
		return step{}, paramProblem(header.ICMPv6ErroneousHeader, off+header.IPv6RoutingExtHdrTypeOffset, core.DropParamProblem)
	}
	if rh.Length()%2 != 0 {
		return step{}, paramProblem(header.ICMPv6ErroneousHeader, off+header.IPv6ExtHdrLengthOffset, core.DropParamProblem)
	}
	n := rh.Type0AddressCount()
	left := int(rh.SegmentsLeft())
	if left > n {
		return step{}, paramProblem(header.ICMPv6ErroneousHeader, off+header.IPv6RoutingExtHdrSegmentsLeftOffset, core.DropParamProblem)
	}

	if !e.security.VerifyInbound(p, uint8(header.IPv6RoutingExtHdrIdentifier), 0, 0, p.Interface) {
		return step{}, core.Drop(core.DropSecurityPolicy)
	}

	slot := n - left
	target := rh.Type0Address(slot)
	dst := p.Destination()
	if target.IsMulticast() || target.IsUnspecified() || dst.IsMulticast() {
		return step{}, core.Drop(core.DropRoutingTarget)
	}

	err = e.forward(p, target, func(d []byte) {
		header.IPv6(d).SetDestinationAddress(target)
		copied := header.IPv6RoutingExtHdr(d[off:])
		copied.SetType0Address(slot, dst)
		copied.SetSegmentsLeft(uint8(left - 1))
	}, false, "source_route")
	return step{done: true}, err
}

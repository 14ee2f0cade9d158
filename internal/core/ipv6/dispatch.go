package ipv6

import (
	"net/netip"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	"firestige.xyz/v6rx/internal/metrics"
)

// HeaderKind classifies a next header value.
type HeaderKind int

const (
	KindHopByHop HeaderKind = iota
	KindDestinationOptions
	KindRouting
	KindFragment
	KindNoNextHeader
	KindUpper
	KindUnknown
)

func (k HeaderKind) String() string {
	switch k {
	case KindHopByHop:
		return "hop_by_hop"
	case KindDestinationOptions:
		return "destination_options"
	case KindRouting:
		return "routing"
	case KindFragment:
		return "fragment"
	case KindNoNextHeader:
		return "no_next_header"
	case KindUpper:
		return "upper"
	default:
		return "unknown"
	}
}

// classify maps a next header value to its kind. Protocols without a
// registered transport are unknown.
func (e *Engine) classify(nh uint8) HeaderKind {
	switch header.IPv6ExtensionHeaderIdentifier(nh) {
	case header.IPv6HopByHopOptionsExtHdrIdentifier:
		return KindHopByHop
	case header.IPv6DestinationOptionsExtHdrIdentifier:
		return KindDestinationOptions
	case header.IPv6RoutingExtHdrIdentifier:
		return KindRouting
	case header.IPv6FragmentExtHdrIdentifier:
		return KindFragment
	case header.IPv6NoNextHeaderIdentifier:
		return KindNoNextHeader
	}
	if _, ok := e.transports[nh]; ok {
		return KindUpper
	}
	return KindUnknown
}

// step is a header handler's verdict: continue with next, named by the byte
// at field, or stop holding refs references.
type step struct {
	next  uint8
	field int
	done  bool
	refs  int
}

func (e *Engine) receive(p *Packet) (int, error) {
	view, err := p.Cursor.Ensure(header.IPv6MinimumSize)
	if err != nil {
		return 0, core.Drop(core.DropTruncated)
	}
	ip := header.IPv6(view)
	if ip.Version() != header.IPv6Version {
		return 0, core.Drop(core.DropNotIPv6)
	}
	p.base = p.Cursor.Offset()
	p.next = ip.NextHeader()

	forward, err := e.route(p, ip)
	if err != nil {
		return 0, err
	}

	plen := int(ip.PayloadLength())
	jumbo := plen == 0 && ip.NextHeader() == uint8(header.IPv6HopByHopOptionsExtHdrIdentifier)
	if !jumbo {
		if plen > p.Cursor.Len()-header.IPv6MinimumSize {
			return 0, core.Drop(core.DropPayloadLength)
		}
		// Trim link padding.
		if err := p.Cursor.Truncate(header.IPv6MinimumSize + plen); err != nil {
			return 0, core.Drop(core.DropPayloadLength)
		}
	}
	p.total = p.Cursor.Size()
	if err := p.Cursor.Advance(header.IPv6MinimumSize); err != nil {
		return 0, core.Drop(core.DropTruncated)
	}

	nh, field := ip.NextHeader(), header.IPv6NextHeaderOffset
	if forward {
		// Every node on the path processes Hop-by-Hop options.
		if nh == uint8(header.IPv6HopByHopOptionsExtHdrIdentifier) {
			if _, err := e.handleHopByHop(p, ip, jumbo); err != nil {
				return 0, err
			}
			if err := strayJumbo(p); err != nil {
				return 0, err
			}
		}
		return 0, e.forward(p, ip.DestinationAddress(), nil, true, "forward")
	}

	for first := true; ; first = false {
		p.next = nh
		kind := e.classify(nh)
		if kind == KindHopByHop && !first {
			kind = KindUnknown
		}

		switch kind {
		case KindFragment:
			// The Jumbo option belongs to the datagram being reassembled.
			p.HopByHop.jumboPointer = 0
		case KindNoNextHeader, KindUpper, KindUnknown:
			if err := strayJumbo(p); err != nil {
				return 0, err
			}
		}

		var (
			st  step
			err error
		)
		switch kind {
		case KindHopByHop:
			st, err = e.handleHopByHop(p, ip, jumbo)
		case KindDestinationOptions:
			st, err = e.handleDestinationOptions(p, ip)
		case KindRouting:
			st, err = e.handleRouting(p)
		case KindFragment:
			st, err = e.handleFragment(p, field)
		case KindNoNextHeader:
			return 0, core.Drop(core.DropNoNextHeader)
		case KindUpper:
			return e.deliver(p, nh), nil
		default:
			return 0, paramProblem(header.ICMPv6UnknownHeader, field, core.DropParamProblem)
		}
		if err != nil {
			return 0, err
		}
		if st.done {
			return st.refs, nil
		}
		nh, field = st.next, st.field
	}
}

// strayJumbo fails a datagram whose Hop-by-Hop header carried a Jumbo
// option next to a non-zero payload length without being a fragment.
func strayJumbo(p *Packet) error {
	if p.HopByHop.jumboPointer == 0 {
		return nil
	}
	p.next = uint8(header.IPv6HopByHopOptionsExtHdrIdentifier)
	return paramProblem(header.ICMPv6ErroneousHeader, p.HopByHop.jumboPointer, core.DropParamProblem)
}

// route makes the delivery decision on the base header. It returns true
// when the datagram is to be forwarded.
func (e *Engine) route(p *Packet, ip header.IPv6) (bool, error) {
	if p.Entity != nil {
		return false, nil
	}
	dst := ip.DestinationAddress()
	res, ent := e.addrs.Resolve(dst)
	switch res {
	case Local:
		p.Entity = ent
		if ent != nil {
			p.Flags |= FlagHoldsEntityRef
		}
		return false, nil
	case Forwardable:
		if p.Interface == nil || !p.Interface.Forwarding() || p.Has(FlagNotUnicast) || !header.IsRoutableSource(ip.SourceAddress()) {
			return false, core.Drop(core.DropForwardPolicy)
		}
		if dst.IsUnspecified() || dst.IsLoopback() || dst.IsMulticast() {
			return false, &DestUnreachable{Code: header.ICMPv6Prohibited, Reason: core.DropNotForwardable}
		}
		return true, nil
	default:
		return false, core.Drop(core.DropNotForwardable)
	}
}

// extensionHeader returns a view of the whole extension header at the
// cursor without moving it.
func (e *Engine) extensionHeader(p *Packet) ([]byte, error) {
	b, err := p.Cursor.Ensure(header.IPv6ExtHdrMinimumSize)
	if err != nil {
		return nil, truncated()
	}
	n := header.IPv6ExtHdrLength(b[header.IPv6ExtHdrLengthOffset])
	if b, err = p.Cursor.Ensure(n); err != nil {
		return nil, truncated()
	}
	return b, nil
}

func (e *Engine) handleHopByHop(p *Packet, ip header.IPv6, jumbo bool) (step, error) {
	off := p.Offset()
	b, err := e.extensionHeader(p)
	if err != nil {
		return step{}, err
	}
	hdr := header.IPv6OptionsExtHdr(b)
	res, err := parseOptions(hdr, optionContext{
		kind:           KindHopByHop,
		offset:         off,
		basePayloadLen: ip.PayloadLength(),
		dstMulticast:   ip.DestinationAddress().IsMulticast(),
	})
	if err != nil {
		return step{}, err
	}
	p.HopByHop = res

	if jumbo {
		if res.JumboLength == 0 {
			return step{}, paramProblem(header.ICMPv6ErroneousHeader, header.IPv6PayloadLenOffset, core.DropPayloadLength)
		}
		want := header.IPv6MinimumSize + int(res.JumboLength)
		if want > p.Total() {
			return step{}, core.Drop(core.DropPayloadLength)
		}
		if err := p.Cursor.Truncate(want - off); err != nil {
			return step{}, core.Drop(core.DropPayloadLength)
		}
		p.total = p.Cursor.Size()
		p.Flags |= FlagJumbo
	}

	if err := p.Cursor.Advance(len(hdr)); err != nil {
		return step{}, truncated()
	}
	return step{next: hdr.NextHeader(), field: off}, nil
}

func (e *Engine) handleDestinationOptions(p *Packet, ip header.IPv6) (step, error) {
	off := p.Offset()
	b, err := e.extensionHeader(p)
	if err != nil {
		return step{}, err
	}
	hdr := header.IPv6OptionsExtHdr(b)
	res, err := parseOptions(hdr, optionContext{
		kind:           KindDestinationOptions,
		offset:         off,
		basePayloadLen: ip.PayloadLength(),
		dstMulticast:   ip.DestinationAddress().IsMulticast(),
	})
	if err != nil {
		return step{}, err
	}
	p.DestinationOptions = res

	if e.mobility != nil && res.HomeAddress != nil && res.BindingUpdate != nil {
		if !e.security.VerifyInbound(p, uint8(header.IPv6DestinationOptionsExtHdrIdentifier), 0, 0, p.Interface) {
			return step{}, core.Drop(core.DropSecurityPolicy)
		}
		home := netip.AddrFrom16([header.IPv6AddressSize]byte(res.HomeAddress))
		e.mobility.BindingUpdate(ip.SourceAddress(), home, res.BindingUpdate)
	}

	if err := p.Cursor.Advance(len(hdr)); err != nil {
		return step{}, truncated()
	}
	return step{next: hdr.NextHeader(), field: off}, nil
}

func (e *Engine) deliver(p *Packet, proto uint8) int {
	metrics.PacketsDeliveredTotal.WithLabelValues(protocolLabel(proto)).Inc()
	if e.transports[proto].Deliver(p) {
		return 1
	}
	return 0
}

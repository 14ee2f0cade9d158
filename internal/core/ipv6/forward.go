package ipv6

import (
	"errors"
	"net/netip"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	"firestige.xyz/v6rx/internal/metrics"
)

// forward copies the datagram into a fresh buffer sized for the outgoing
// route, applies rewrite to the copy and hands it to the forwarder. The
// received packet is never written.
func (e *Engine) forward(p *Packet, dst netip.Addr, rewrite func([]byte), allowRedirect bool, path string) error {
	if e.routes == nil || e.forwarder == nil {
		return core.Drop(core.DropNotForwardable)
	}
	route, err := e.routes.Route(dst)
	if err != nil || route == nil {
		return &DestUnreachable{Code: header.ICMPv6NetworkUnreachable, Reason: core.DropNoRoute}
	}

	n := p.Total()
	size := route.LinkReserve + n + route.SecurityOverhead
	if size > e.config.MaxForwardBuffer {
		return core.Drop(core.DropBufferLimit)
	}
	buf := make([]byte, size)
	datagram := buf[route.LinkReserve : route.LinkReserve+n]
	p.Cursor.CopyAt(p.base, datagram)
	if rewrite != nil {
		rewrite(datagram)
	}

	err = e.forwarder.Forward(&ForwardRequest{
		Owner:                p,
		Buffer:               buf,
		Datagram:             datagram,
		Route:                route,
		AllowRedirect:        allowRedirect,
		SecurityAssociations: p.SecurityAssociations,
	})
	if errors.Is(err, core.ErrHopLimit) {
		return core.Drop(core.DropHopLimit)
	}
	if err != nil {
		e.log.WithError(err).WithField("dst", dst).Debug("forwarder refused datagram")
		return core.Drop(core.DropForwardPolicy)
	}
	metrics.PacketsForwardedTotal.WithLabelValues(path).Inc()
	return nil
}

package replay

import (
	"net/netip"

	"golang.org/x/net/ipv6"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	v6 "firestige.xyz/v6rx/internal/core/ipv6"
	"firestige.xyz/v6rx/internal/log"
)

// forwarder transmits forwarded datagrams to a sink after hop-limit
// handling.
type forwarder struct {
	sink *Sink
	icmp v6.ICMPSender
	log  log.Logger
}

func (f *forwarder) Forward(req *v6.ForwardRequest) error {
	ip := header.IPv6(req.Datagram)
	if ip.HopLimit() <= 1 {
		if f.icmp != nil {
			if err := f.icmp.SendError(req.Owner, ipv6.ICMPTypeTimeExceeded, header.ICMPv6HopLimitExceeded, 0, req.Owner.NextHeader(), false); err != nil {
				f.log.WithError(err).WithField("type", ipv6.ICMPTypeTimeExceeded).Debug("icmp error not sent")
			}
		}
		return core.ErrHopLimit
	}
	ip.SetHopLimit(ip.HopLimit() - 1)
	return f.sink.Write(req.Datagram)
}

// delivery records datagrams handed to an upper-layer protocol.
type delivery struct {
	sink *Sink
	log  log.Logger
}

func (d *delivery) Deliver(p *v6.Packet) bool {
	if err := d.sink.Write(p.Datagram()); err != nil {
		d.log.WithError(err).WithField("src", p.Source()).Debug("delivered datagram not recorded")
	}
	return false
}

// bindingLog reports mobility binding updates.
type bindingLog struct {
	log log.Logger
}

func (b *bindingLog) BindingUpdate(careOf, home netip.Addr, update []byte) {
	b.log.WithFields(map[string]interface{}{
		"care_of": careOf,
		"home":    home,
		"length":  len(update),
	}).Info("binding update")
}

// Package icmp builds and emits ICMPv6 error messages on behalf of the
// receive engine.
package icmp

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync/atomic"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv6"
	"golang.org/x/time/rate"

	"firestige.xyz/v6rx/internal/core"
	"firestige.xyz/v6rx/internal/core/header"
	v6 "firestige.xyz/v6rx/internal/core/ipv6"
	"firestige.xyz/v6rx/internal/log"
	"firestige.xyz/v6rx/internal/metrics"
)

const (
	// MinMTU is the IPv6 minimum link MTU. An error message never exceeds it.
	MinMTU = 1280
	// maxQuote is how much of the offending datagram fits in one message.
	maxQuote = MinMTU - header.IPv6MinimumSize - 8

	DefaultRate     = 100
	DefaultBurst    = 50
	DefaultHopLimit = 64
)

// Suppression reasons.
const (
	SuppressErrorReply  = "error_reply"
	SuppressMulticast   = "multicast_destination"
	SuppressLinkNotUni  = "link_multicast"
	SuppressBadSource   = "bad_source"
	SuppressRateLimited = "rate_limited"
)

// Message is an ICMPv6 message ready for the IPv6 layer.
type Message struct {
	Src      netip.Addr
	Dst      netip.Addr
	HopLimit int
	Iface    v6.Interface
	Body     []byte // checksummed ICMPv6 message
}

// Writer emits built messages.
type Writer interface {
	WriteICMP(m *Message) error
}

// SourceSelector picks the source address for a message leaving iface.
type SourceSelector interface {
	SourceFor(iface v6.Interface) netip.Addr
}

// Config contains configuration for the sender.
type Config struct {
	Rate     float64 // Messages per second (default 100)
	Burst    int     // Token bucket depth (default 50)
	HopLimit int     // Hop limit of emitted messages (default 64)
}

// Sender implements ipv6.ICMPSender.
type Sender struct {
	config  Config
	w       Writer
	sources SourceSelector
	limiter *rate.Limiter
	log     log.Logger

	sent       atomic.Uint64
	suppressed atomic.Uint64
}

var _ v6.ICMPSender = (*Sender)(nil)

// NewSender creates a sender writing to w.
func NewSender(cfg Config, w Writer, sources SourceSelector, logger log.Logger) *Sender {
	if cfg.Rate <= 0 {
		cfg.Rate = DefaultRate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.HopLimit <= 0 || cfg.HopLimit > 255 {
		cfg.HopLimit = DefaultHopLimit
	}
	if logger == nil {
		logger = log.GetLogger()
	}
	return &Sender{
		config:  cfg,
		w:       w,
		sources: sources,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		log:     logger,
	}
}

// SendError reports pkt to its source. Errors about errors, about multicast
// traffic without allowMulticast, and about packets from an unspecified or
// multicast source are suppressed, as is anything over the rate limit.
func (s *Sender) SendError(pkt *v6.Packet, typ ipv6.ICMPType, code header.ICMPv6Code, pointer uint32, nextHeader uint8, allowMulticast bool) error {
	if reason := s.suppress(pkt, nextHeader, allowMulticast); reason != "" {
		s.suppressed.Add(1)
		metrics.ICMPSuppressedTotal.WithLabelValues(reason).Inc()
		return nil
	}

	dst := pkt.Source()
	src := netip.IPv6Unspecified()
	if s.sources != nil {
		src = s.sources.SourceFor(pkt.Interface)
	}

	quote := pkt.Datagram()
	if len(quote) > maxQuote {
		quote = quote[:maxQuote]
	}
	var body icmp.MessageBody
	switch typ {
	case ipv6.ICMPTypeParameterProblem:
		body = &icmp.ParamProb{Pointer: uintptr(pointer), Data: quote}
	case ipv6.ICMPTypeDestinationUnreachable:
		body = &icmp.DstUnreach{Data: quote}
	case ipv6.ICMPTypeTimeExceeded:
		body = &icmp.TimeExceeded{Data: quote}
	default:
		return fmt.Errorf("icmp type %v: %w", typ, core.ErrUnsupportedProto)
	}

	msg := icmp.Message{Type: typ, Code: int(code), Body: body}
	b, err := msg.Marshal(icmp.IPv6PseudoHeader(net.IP(src.AsSlice()), net.IP(dst.AsSlice())))
	if err != nil {
		return fmt.Errorf("marshal icmp %v: %w", typ, err)
	}

	err = s.w.WriteICMP(&Message{
		Src:      src,
		Dst:      dst,
		HopLimit: s.config.HopLimit,
		Iface:    pkt.Interface,
		Body:     b,
	})
	if err != nil {
		return fmt.Errorf("write icmp %v to %s: %w", typ, dst, err)
	}
	s.sent.Add(1)
	metrics.ICMPErrorsTotal.WithLabelValues(typ.String(), strconv.Itoa(int(code))).Inc()
	return nil
}

func (s *Sender) suppress(pkt *v6.Packet, nextHeader uint8, allowMulticast bool) string {
	if nextHeader == uint8(header.ICMPv6ProtocolNumber) && pkt.Cursor.Len() > 0 {
		var t [1]byte
		pkt.Cursor.CopyAt(pkt.Cursor.Offset()+header.ICMPv6TypeOffset, t[:])
		if header.IsICMPv6Error(ipv6.ICMPType(t[0])) {
			return SuppressErrorReply
		}
	}
	if !allowMulticast {
		if pkt.Destination().IsMulticast() {
			return SuppressMulticast
		}
		if pkt.Has(v6.FlagNotUnicast) {
			return SuppressLinkNotUni
		}
	}
	src := pkt.Source()
	if src.IsUnspecified() || src.IsMulticast() {
		return SuppressBadSource
	}
	if !s.limiter.Allow() {
		return SuppressRateLimited
	}
	return ""
}

// Sent returns the number of messages written.
func (s *Sender) Sent() uint64 { return s.sent.Load() }

// Suppressed returns the number of errors withheld.
func (s *Sender) Suppressed() uint64 { return s.suppressed.Load() }

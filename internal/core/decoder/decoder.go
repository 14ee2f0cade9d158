// Package decoder strips link-layer framing from captured frames and hands
// back the IPv6 datagram.
package decoder

import (
	"fmt"

	"firestige.xyz/v6rx/internal/core"
)

// LinkType is the framing of a captured frame.
type LinkType int

const (
	// LinkEthernet is Ethernet II with optional 802.1Q/802.1ad tags.
	LinkEthernet LinkType = iota
	// LinkRaw is a bare IP datagram.
	LinkRaw
)

func (l LinkType) String() string {
	switch l {
	case LinkEthernet:
		return "ethernet"
	case LinkRaw:
		return "raw"
	default:
		return fmt.Sprintf("link(%d)", int(l))
	}
}

// EthernetHeader is a decoded Ethernet header.
type EthernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16
	VLANs     []uint16 // outermost first
}

// Frame is a decoded frame.
type Frame struct {
	Link     LinkType
	Ethernet EthernetHeader
	// NotUnicast is set when the link destination was a group address.
	NotUnicast bool
	// Payload is the IPv6 datagram; it aliases the input.
	Payload []byte
}

// Decode strips the framing of link from data. Frames that do not carry
// IPv6 return core.ErrNotIPv6.
func Decode(data []byte, link LinkType) (Frame, error) {
	f := Frame{Link: link}
	switch link {
	case LinkEthernet:
		eth, payload, err := decodeEthernet(data)
		if err != nil {
			return f, err
		}
		if eth.EtherType != etherTypeIPv6 {
			return f, fmt.Errorf("ethertype %#04x: %w", eth.EtherType, core.ErrNotIPv6)
		}
		f.Ethernet = eth
		f.NotUnicast = eth.DstMAC[0]&0x01 != 0
		f.Payload = payload
	case LinkRaw:
		if len(data) == 0 || data[0]>>4 != 6 {
			return f, core.ErrNotIPv6
		}
		f.Payload = data
	default:
		return f, fmt.Errorf("%s: %w", link, core.ErrUnsupportedProto)
	}
	return f, nil
}

package header

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
)

// IPv6ExtensionHeaderIdentifier is an IPv6 extension header identifier.
type IPv6ExtensionHeaderIdentifier uint8

const (
	// IPv6HopByHopOptionsExtHdrIdentifier is the header identifier of a Hop by
	// Hop Options extension header, as per RFC 8200 section 4.3.
	IPv6HopByHopOptionsExtHdrIdentifier IPv6ExtensionHeaderIdentifier = 0

	// IPv6RoutingExtHdrIdentifier is the header identifier of a Routing extension
	// header, as per RFC 8200 section 4.4.
	IPv6RoutingExtHdrIdentifier IPv6ExtensionHeaderIdentifier = 43

	// IPv6FragmentExtHdrIdentifier is the header identifier of a Fragment
	// extension header, as per RFC 8200 section 4.5.
	IPv6FragmentExtHdrIdentifier IPv6ExtensionHeaderIdentifier = 44

	// IPv6NoNextHeaderIdentifier is the header identifier used to signify the end
	// of an IPv6 payload, as per RFC 8200 section 4.7.
	IPv6NoNextHeaderIdentifier IPv6ExtensionHeaderIdentifier = 59

	// IPv6DestinationOptionsExtHdrIdentifier is the header identifier of a
	// Destination Options extension header, as per RFC 8200 section 4.6.
	IPv6DestinationOptionsExtHdrIdentifier IPv6ExtensionHeaderIdentifier = 60
)

// Upper-layer protocol numbers the engine knows by name.
const (
	TCPProtocolNumber    = 6
	UDPProtocolNumber    = 17
	ESPProtocolNumber    = 50
	AHProtocolNumber     = 51
	ICMPv6ProtocolNumber = 58
)

const (
	// IPv6ExtHdrLenBytesPerUnit is the unit size of an extension header's
	// length field.
	IPv6ExtHdrLenBytesPerUnit = 8

	// IPv6ExtHdrMinimumSize is the size of the smallest extension header: the
	// Next Header and Length fields plus six bytes the Length field excludes.
	IPv6ExtHdrMinimumSize = 8

	// IPv6ExtHdrLengthOffset is the offset of the Length field inside an
	// extension header.
	IPv6ExtHdrLengthOffset = 1
)

// IPv6ExtHdrLength returns the total size in bytes of an extension header
// whose Length field holds v.
func IPv6ExtHdrLength(v uint8) int {
	return (int(v) + 1) * IPv6ExtHdrLenBytesPerUnit
}

// IPv6ExtHdrOptionIdentifier is an IPv6 extension header option identifier.
type IPv6ExtHdrOptionIdentifier uint8

const (
	// IPv6Pad1ExtHdrOptionIdentifier provides one byte of padding and has no
	// Length field.
	IPv6Pad1ExtHdrOptionIdentifier IPv6ExtHdrOptionIdentifier = 0

	// IPv6PadNExtHdrOptionIdentifier provides variable length padding.
	IPv6PadNExtHdrOptionIdentifier IPv6ExtHdrOptionIdentifier = 1

	// IPv6RouterAlertHopByHopOptionIdentifier is the Router Alert option, as
	// per RFC 2711.
	IPv6RouterAlertHopByHopOptionIdentifier IPv6ExtHdrOptionIdentifier = 5

	// IPv6JumboPayloadHopByHopOptionIdentifier is the Jumbo Payload option, as
	// per RFC 2675.
	IPv6JumboPayloadHopByHopOptionIdentifier IPv6ExtHdrOptionIdentifier = 0xc2

	// IPv6BindingUpdateDestinationOptionIdentifier is the mobility Binding
	// Update destination option.
	IPv6BindingUpdateDestinationOptionIdentifier IPv6ExtHdrOptionIdentifier = 0xc6

	// IPv6HomeAddressDestinationOptionIdentifier is the mobility Home Address
	// destination option.
	IPv6HomeAddressDestinationOptionIdentifier IPv6ExtHdrOptionIdentifier = 0xc9
)

// Data sizes of the options the parser validates.
const (
	IPv6JumboPayloadOptionDataSize     = 4
	IPv6RouterAlertOptionDataSize      = 2
	IPv6HomeAddressOptionDataSize      = IPv6AddressSize
	IPv6BindingUpdateOptionMinDataSize = 8
)

const (
	// ipv6UnknownExtHdrOptionActionMask is the mask of the action to take when
	// a node encounters an unrecognized option.
	ipv6UnknownExtHdrOptionActionMask = 192

	// ipv6UnknownExtHdrOptionActionShift is the least significant bits to
	// discard from the action value for an unrecognized option identifier.
	ipv6UnknownExtHdrOptionActionShift = 6
)

// IPv6OptionUnknownAction is the action that must be taken if the processing
// IPv6 node does not recognize the option, as outlined in RFC 8200 section 4.2.
type IPv6OptionUnknownAction int

const (
	// IPv6OptionUnknownActionSkip indicates that the unrecognized option must
	// be skipped and the node should continue processing the header.
	IPv6OptionUnknownActionSkip IPv6OptionUnknownAction = 0

	// IPv6OptionUnknownActionDiscard indicates that the packet must be silently
	// discarded.
	IPv6OptionUnknownActionDiscard IPv6OptionUnknownAction = 1

	// IPv6OptionUnknownActionDiscardSendICMP indicates that the packet must be
	// discarded and the node must send an ICMP Parameter Problem, Code 2,
	// message to the packet's source, regardless of whether or not the packet's
	// Destination was a multicast address.
	IPv6OptionUnknownActionDiscardSendICMP IPv6OptionUnknownAction = 2

	// IPv6OptionUnknownActionDiscardSendICMPNoMulticastDest indicates that the
	// packet must be discarded and the node must send an ICMP Parameter
	// Problem, Code 2, message to the packet's source only if the packet's
	// Destination was not a multicast address.
	IPv6OptionUnknownActionDiscardSendICMPNoMulticastDest IPv6OptionUnknownAction = 3
)

// UnknownAction returns the action encoded in the two high bits of id.
func (id IPv6ExtHdrOptionIdentifier) UnknownAction() IPv6OptionUnknownAction {
	return IPv6OptionUnknownAction((id & ipv6UnknownExtHdrOptionActionMask) >> ipv6UnknownExtHdrOptionActionShift)
}

// IPv6ExtHdrOption is one TLV option found in an options header.
type IPv6ExtHdrOption struct {
	Identifier IPv6ExtHdrOptionIdentifier

	// Offset is the position of the option's type byte inside the options
	// header.
	Offset int

	// Data is a view of the option data; it aliases the header bytes.
	Data []byte
}

// IPv6OptionsExtHdr is a Hop-by-Hop or Destination Options header, including
// its Next Header and Length fields.
type IPv6OptionsExtHdr []byte

// NextHeader returns the Next Header field.
func (b IPv6OptionsExtHdr) NextHeader() uint8 { return b[0] }

// Iter returns an iterator over the options held in b.
func (b IPv6OptionsExtHdr) Iter() IPv6OptionsExtHdrOptionsIterator {
	return IPv6OptionsExtHdrOptionsIterator{hdr: b, pos: 2}
}

// IPv6OptionsExtHdrOptionsIterator walks the TLV options of an options header.
//
// Note, no changes to the underlying buffer may happen while the iterator is
// in use.
type IPv6OptionsExtHdrOptionsIterator struct {
	hdr IPv6OptionsExtHdr
	pos int
}

// Next returns the next non-padding option.
//
// The return is of the format (option, done, error). done is true when the
// iterator reached the end of the header or an error occurred. Errors wrap
// io.ErrUnexpectedEOF and mean an option claimed more bytes than the header
// holds.
func (i *IPv6OptionsExtHdrOptionsIterator) Next() (IPv6ExtHdrOption, bool, error) {
	for {
		if i.pos >= len(i.hdr) {
			return IPv6ExtHdrOption{}, true, nil
		}
		start := i.pos
		id := IPv6ExtHdrOptionIdentifier(i.hdr[start])

		if id == IPv6Pad1ExtHdrOptionIdentifier {
			i.pos++
			continue
		}

		if start+2 > len(i.hdr) {
			i.pos = len(i.hdr)
			return IPv6ExtHdrOption{}, true, fmt.Errorf("option %#x at %d has no length field: %w", uint8(id), start, io.ErrUnexpectedEOF)
		}
		length := int(i.hdr[start+1])
		end := start + 2 + length
		if end > len(i.hdr) {
			i.pos = len(i.hdr)
			return IPv6ExtHdrOption{}, true, fmt.Errorf("option %#x at %d claims %d data bytes, %d available: %w", uint8(id), start, length, len(i.hdr)-start-2, io.ErrUnexpectedEOF)
		}
		i.pos = end

		if id == IPv6PadNExtHdrOptionIdentifier {
			continue
		}
		return IPv6ExtHdrOption{Identifier: id, Offset: start, Data: i.hdr[start+2 : end : end]}, false, nil
	}
}

const (
	ipv6RoutingExtHdrTypeIdx         = 2
	ipv6RoutingExtHdrSegmentsLeftIdx = 3

	// IPv6RoutingExtHdrType0AddressesOffset is the offset of the first address
	// of a Type 0 Routing header: the fixed part plus 4 reserved bytes.
	IPv6RoutingExtHdrType0AddressesOffset = 8

	// IPv6RoutingExtHdrTypeOffset and IPv6RoutingExtHdrSegmentsLeftOffset are
	// field offsets for Parameter Problem pointers.
	IPv6RoutingExtHdrTypeOffset         = ipv6RoutingExtHdrTypeIdx
	IPv6RoutingExtHdrSegmentsLeftOffset = ipv6RoutingExtHdrSegmentsLeftIdx
)

// IPv6RoutingExtHdr is a buffer holding a whole Routing extension header as
// outlined in RFC 8200 section 4.4.
type IPv6RoutingExtHdr []byte

// NextHeader returns the Next Header field.
func (b IPv6RoutingExtHdr) NextHeader() uint8 { return b[0] }

// Length returns the Hdr Ext Len field.
func (b IPv6RoutingExtHdr) Length() uint8 { return b[IPv6ExtHdrLengthOffset] }

// RoutingType returns the Routing Type field.
func (b IPv6RoutingExtHdr) RoutingType() uint8 { return b[ipv6RoutingExtHdrTypeIdx] }

// SegmentsLeft returns the Segments Left field.
func (b IPv6RoutingExtHdr) SegmentsLeft() uint8 { return b[ipv6RoutingExtHdrSegmentsLeftIdx] }

// SetSegmentsLeft sets the Segments Left field.
func (b IPv6RoutingExtHdr) SetSegmentsLeft(v uint8) { b[ipv6RoutingExtHdrSegmentsLeftIdx] = v }

// Type0AddressCount returns the number of addresses a Type 0 header with
// this length carries. The result is meaningful only for even lengths.
func (b IPv6RoutingExtHdr) Type0AddressCount() int {
	return int(b.Length()) / (IPv6AddressSize / IPv6ExtHdrLenBytesPerUnit)
}

// Type0AddressOffset returns the offset of the i-th address slot.
func Type0AddressOffset(i int) int {
	return IPv6RoutingExtHdrType0AddressesOffset + i*IPv6AddressSize
}

// Type0Address returns the i-th address of a Type 0 header.
func (b IPv6RoutingExtHdr) Type0Address(i int) netip.Addr {
	off := Type0AddressOffset(i)
	return netip.AddrFrom16([IPv6AddressSize]byte(b[off:][:IPv6AddressSize]))
}

// SetType0Address stores addr in the i-th address slot.
func (b IPv6RoutingExtHdr) SetType0Address(i int, addr netip.Addr) {
	a := addr.As16()
	copy(b[Type0AddressOffset(i):][:IPv6AddressSize], a[:])
}

const (
	// IPv6FragmentExtHdrLength is the length of a Fragment extension header.
	IPv6FragmentExtHdrLength = 8

	// IPv6FragmentExtHdrFragmentOffsetOffset is the offset of the Fragment
	// Offset field inside the header.
	IPv6FragmentExtHdrFragmentOffsetOffset = 2

	// ipv6FragmentExtHdrFragmentOffsetMask keeps the top 13 bits of the
	// offset/flags word. The offset is in 8-byte units so the masked value is
	// already a byte offset.
	ipv6FragmentExtHdrFragmentOffsetMask = 0xfff8

	// ipv6FragmentExtHdrMFlagMask is the mask of the More (M) flag.
	ipv6FragmentExtHdrMFlagMask = 1

	ipv6FragmentExtHdrIdentificationOffset = 4

	// IPv6FragmentExtHdrFragmentOffsetBytesPerUnit is the unit size of the
	// Fragment Offset field.
	IPv6FragmentExtHdrFragmentOffsetBytesPerUnit = 8
)

// IPv6FragmentExtHdr is a buffer holding a whole Fragment extension header as
// outlined in RFC 8200 section 4.5.
type IPv6FragmentExtHdr []byte

// NextHeader returns the Next Header field.
func (b IPv6FragmentExtHdr) NextHeader() uint8 { return b[0] }

// FragmentOffset returns the byte offset of the fragment's data in the
// reassembled payload.
func (b IPv6FragmentExtHdr) FragmentOffset() int {
	return int(binary.BigEndian.Uint16(b[IPv6FragmentExtHdrFragmentOffsetOffset:]) & ipv6FragmentExtHdrFragmentOffsetMask)
}

// More returns the More (M) flag.
func (b IPv6FragmentExtHdr) More() bool {
	return binary.BigEndian.Uint16(b[IPv6FragmentExtHdrFragmentOffsetOffset:])&ipv6FragmentExtHdrMFlagMask != 0
}

// ID returns the Identification field.
func (b IPv6FragmentExtHdr) ID() uint32 {
	return binary.BigEndian.Uint32(b[ipv6FragmentExtHdrIdentificationOffset:])
}

// IsAtomic returns whether the header describes a fragment that carries the
// whole datagram.
func (b IPv6FragmentExtHdr) IsAtomic() bool {
	return !b.More() && b.FragmentOffset() == 0
}

// IPv6FragmentFields describes a Fragment header to encode.
type IPv6FragmentFields struct {
	NextHeader     uint8
	FragmentOffset int // bytes, multiple of 8
	M              bool
	Identification uint32
}

// Encode encodes f into b.
func (b IPv6FragmentExtHdr) Encode(f *IPv6FragmentFields) {
	b[0] = f.NextHeader
	b[1] = 0
	word := uint16(f.FragmentOffset) & ipv6FragmentExtHdrFragmentOffsetMask
	if f.M {
		word |= ipv6FragmentExtHdrMFlagMask
	}
	binary.BigEndian.PutUint16(b[IPv6FragmentExtHdrFragmentOffsetOffset:], word)
	binary.BigEndian.PutUint32(b[ipv6FragmentExtHdrIdentificationOffset:], f.Identification)
}
